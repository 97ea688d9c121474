package sqlstore

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	mask "github.com/showa-93/go-mask"
)

// Dialect selects SQL flavour differences.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Config is read from the environment under a prefix, e.g. SQL_DRIVER.
type Config struct {
	Driver          string        `default:"sqlite"`
	DSN             string        `default:"file:agentpayy.db" mask:"filled"`
	MaxOpenConns    int           `default:"20"`
	MaxIdleConns    int           `default:"5"`
	ConnMaxLifetime time.Duration `default:"30m"`
	PingTimeout     time.Duration `default:"10s"`
}

// LoadConfig processes the env configuration under envPrefix.
func LoadConfig(envPrefix string) (Config, error) {
	c := Config{}
	if err := envconfig.Process(envPrefix, &c); err != nil {
		return c, fmt.Errorf("failed to process sql env config: %w", err)
	}
	return c, nil
}

func (c Config) dialect() (Dialect, string, error) {
	switch Dialect(c.Driver) {
	case Postgres:
		return Postgres, "pgx", nil
	case SQLite:
		return SQLite, "sqlite", nil
	default:
		return "", "", fmt.Errorf("unsupported sql driver %q", c.Driver)
	}
}

func (c Config) masked() interface{} {
	masker := mask.NewMasker()
	masker.RegisterMaskStringFunc(mask.MaskTypeFilled, masker.MaskFilledString)
	masker.RegisterMaskStringFunc(mask.MaskTypeFixed, masker.MaskFixedString)
	conf, err := masker.Mask(c)
	if err != nil {
		return "<unavailable>"
	}
	return conf
}
