package i18n

import (
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/iamwavecut/ngguard/resources"
)

const (
	DefaultLanguage  = "en"
	translationsFile = "i18n/translations.yml"
)

var state = struct {
	once         sync.Once
	translations map[string]map[string]string
	languages    []string
}{}

func load() {
	state.translations = map[string]map[string]string{}
	raw, err := resources.FS.ReadFile(translationsFile)
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load i18n")
		return
	}
	if err := yaml.Unmarshal(raw, &state.translations); err != nil {
		log.WithField("error", err.Error()).Error("cant unmarshal i18n")
		return
	}

	seen := map[string]struct{}{DefaultLanguage: {}}
	for _, locales := range state.translations {
		for code := range locales {
			seen[strings.ToLower(code)] = struct{}{}
		}
	}
	for code := range seen {
		state.languages = append(state.languages, code)
	}
	sort.Strings(state.languages)
}

// Get returns the translation of key, or key itself for English and missing entries.
func Get(key, lang string) string {
	lang = strings.ToLower(lang)
	if lang == "" || lang == DefaultLanguage {
		return key
	}
	state.once.Do(load)
	if res, ok := state.translations[key][strings.ToUpper(lang)]; ok && res != "" {
		return res
	}
	log.WithField("key", key).Trace("no translation")
	return key
}

func GetLanguagesList() []string {
	state.once.Do(load)
	return append([]string(nil), state.languages...)
}

// Pick returns lang when translations exist for it, otherwise fallback.
func Pick(lang, fallback string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if len(lang) > 2 {
		lang = lang[:2]
	}
	for _, code := range GetLanguagesList() {
		if code == lang {
			return lang
		}
	}
	return fallback
}
