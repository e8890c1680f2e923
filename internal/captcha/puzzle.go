package captcha

import (
	"fmt"
	"strconv"

	"github.com/iamwavecut/tool"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/iamwavecut/ngguard/resources"
)

const (
	AnswerHuman  = "human"
	AnswerVerify = "verify"

	optionsCount  = 4
	mathSpread    = 5
	maxDraws      = 100
	fallbackTable = "en"
)

type (
	Puzzle struct {
		Mode     Mode
		Question string
		Subject  string
		Options  []string
		Answer   string
	}

	wordSet struct {
		Correct string   `yaml:"correct"`
		Wrong   []string `yaml:"wrong"`
	}

	emojiItem struct {
		Emoji  string   `yaml:"emoji"`
		Answer string   `yaml:"answer"`
		Wrong  []string `yaml:"wrong"`
	}

	emojiCategory struct {
		Category string      `yaml:"category"`
		Question string      `yaml:"question"`
		Items    []emojiItem `yaml:"items"`
	}

	// Generator builds puzzles from the embedded tables. RandInt is inclusive on both ends.
	Generator struct {
		RandInt func(min, max int) int

		words map[string][]wordSet
		emoji map[string][]emojiCategory
	}
)

func NewGenerator() (*Generator, error) {
	g := &Generator{RandInt: randInclusive}
	if err := loadTable("captcha/text.yml", &g.words); err != nil {
		return nil, err
	}
	if err := loadTable("captcha/emoji.yml", &g.emoji); err != nil {
		return nil, err
	}
	if len(g.words[fallbackTable]) == 0 || len(g.emoji[fallbackTable]) == 0 {
		return nil, errors.New("captcha tables have no fallback language")
	}
	return g, nil
}

// randInclusive adapts tool.RandInt, whose upper bound is exclusive.
func randInclusive(min, max int) int {
	if max <= min {
		return min
	}
	return tool.RandInt(min, max+1)
}

func loadTable(path string, target any) error {
	raw, err := resources.FS.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if err := yaml.Unmarshal(raw, target); err != nil {
		return errors.Wrapf(err, "unmarshal %s", path)
	}
	return nil
}

func (g *Generator) Generate(mode Mode, lang string) Puzzle {
	switch mode {
	case ModeMath:
		return g.math()
	case ModeText:
		return g.text(lang)
	case ModeEmoji:
		return g.emojiPuzzle(lang)
	default:
		return Puzzle{Mode: ModeButton, Options: []string{AnswerHuman}, Answer: AnswerHuman}
	}
}

func (g *Generator) math() Puzzle {
	a, b := g.RandInt(1, 10), g.RandInt(1, 10)
	var (
		op     string
		answer int
	)
	switch g.RandInt(0, 2) {
	case 0:
		op, answer = "+", a+b
	case 1:
		if a < b {
			a, b = b, a
		}
		op, answer = "-", a-b
	default:
		op, answer = "×", a*b
	}

	seen := map[int]struct{}{answer: {}}
	options := []string{strconv.Itoa(answer)}
	add := func(candidate int) {
		if candidate < 0 {
			return
		}
		if _, ok := seen[candidate]; ok {
			return
		}
		seen[candidate] = struct{}{}
		options = append(options, strconv.Itoa(candidate))
	}
	for draws := 0; len(options) < optionsCount && draws < maxDraws; draws++ {
		add(answer + g.RandInt(-mathSpread, mathSpread))
	}
	// a stuck rand source still gets distractors inside the spread
	for delta := 1; len(options) < optionsCount && delta <= mathSpread; delta++ {
		add(answer + delta)
		if len(options) < optionsCount {
			add(answer - delta)
		}
	}
	g.shuffle(options)

	return Puzzle{
		Mode:    ModeMath,
		Subject: fmt.Sprintf("%d %s %d = ?", a, op, b),
		Options: options,
		Answer:  strconv.Itoa(answer),
	}
}

func (g *Generator) text(lang string) Puzzle {
	sets := g.words[lang]
	if len(sets) == 0 {
		sets = g.words[fallbackTable]
	}
	set := sets[g.RandInt(0, len(sets)-1)]
	options := append([]string{set.Correct}, set.Wrong...)
	g.shuffle(options)

	return Puzzle{
		Mode:    ModeText,
		Subject: set.Correct,
		Options: options,
		Answer:  set.Correct,
	}
}

func (g *Generator) emojiPuzzle(lang string) Puzzle {
	categories := g.emoji[lang]
	if len(categories) == 0 {
		categories = g.emoji[fallbackTable]
	}
	category := categories[g.RandInt(0, len(categories)-1)]
	item := category.Items[g.RandInt(0, len(category.Items)-1)]
	options := append([]string{item.Answer}, item.Wrong...)
	g.shuffle(options)

	return Puzzle{
		Mode:     ModeEmoji,
		Question: category.Question,
		Subject:  item.Emoji,
		Options:  options,
		Answer:   item.Answer,
	}
}

func (g *Generator) shuffle(items []string) {
	for i := len(items) - 1; i > 0; i-- {
		j := g.RandInt(0, i)
		items[i], items[j] = items[j], items[i]
	}
}

// Verify compares the stored answer with the submitted one.
func Verify(expected, given string) bool {
	if expected == AnswerHuman {
		return given == AnswerHuman || given == AnswerVerify
	}
	return expected == given
}
