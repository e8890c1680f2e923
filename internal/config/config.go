package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

const maxAdminCacheTTL = 5 * time.Minute

type (
	Config struct {
		TelegramAPIToken string  `env:"TOKEN,required"`
		OwnerID          int64   `env:"OWNER_ID,required"`
		DevUsers         []int64 `env:"DEV_USERS"`
		SudoUsers        []int64 `env:"SUDO_USERS"`
		SupportUsers     []int64 `env:"SUPPORT_USERS"`
		WhitelistUsers   []int64 `env:"WHITELIST_USERS"`
		DefaultLanguage  string  `env:"LANG,default=en"`
		LogLevel         int     `env:"LOG_LEVEL,default=4"`
		DotPath          string  `env:"DOT_PATH,default=~/.ngguard"`
		Workers          int     `env:"WORKERS,default=8"`
		EventLogs        int64   `env:"EVENT_LOGS"`
		DeleteCommands   bool    `env:"DEL_CMDS,default=false"`
		APIRate          float64 `env:"API_RATE,default=25"`
		MetricsAddr      string  `env:"METRICS_ADDR,default=:2112"`
		AuditLog         string  `env:"AUDIT_LOG,default=audit.log"`

		Moderation Moderation
		Captcha    Captcha
		CAS        CAS
	}

	Moderation struct {
		PunishmentDeleteAfter time.Duration `env:"PUNISHMENT_DELETE_AFTER,default=120s"`
		AdminCacheTTL         time.Duration `env:"ADMIN_CACHE_TTL,default=5m"`
	}

	Captcha struct {
		MinTimeout time.Duration `env:"CAPTCHA_MIN_TIMEOUT,default=30s"`
		MaxTimeout time.Duration `env:"CAPTCHA_MAX_TIMEOUT,default=600s"`
	}

	CAS struct {
		APIURL  string        `env:"CAS_API_URL,default=https://api.cas.chat/check?user_id=%d"`
		Timeout time.Duration `env:"CAS_TIMEOUT,default=5s"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		if err := godotenv.Load(); err != nil {
			log.WithField("error", err.Error()).Trace("no .env file loaded")
		}
		cfg, err := LoadWith(context.Background(), envconfig.OsLookuper())
		if err != nil {
			globalErr = err
			return
		}
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

// LoadWith reads NG_ prefixed variables from the given lookuper.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	envcfg := envconfig.Config{
		Lookuper: envconfig.PrefixLookuper("NG_", lookuper),
		Target:   cfg,
	}
	if err := envconfig.ProcessWith(ctx, &envcfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	if cfg.OwnerID == 0 {
		return nil, fmt.Errorf("owner id must be set")
	}
	dotPath, err := homedir.Expand(cfg.DotPath)
	if err != nil {
		return nil, fmt.Errorf("expand dot path: %w", err)
	}
	cfg.DotPath = dotPath
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.Moderation.AdminCacheTTL <= 0 || c.Moderation.AdminCacheTTL > maxAdminCacheTTL {
		c.Moderation.AdminCacheTTL = maxAdminCacheTTL
	}
	if c.Captcha.MinTimeout <= 0 {
		c.Captcha.MinTimeout = 30 * time.Second
	}
	if c.Captcha.MaxTimeout < c.Captcha.MinTimeout {
		c.Captcha.MaxTimeout = c.Captcha.MinTimeout
	}
	if c.CAS.Timeout <= 0 {
		c.CAS.Timeout = 5 * time.Second
	}
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}
