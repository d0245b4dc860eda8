package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/iidesho/bragi/sbragi"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/iidesho/aggregates/crypto"
)

type Backend string

const (
	EventStore Backend = "eventstore"
	OnDisk     Backend = "ondisk"
	InMemory   Backend = "inmemory"
	MariaDB    Backend = "mariadb"
)

type Config struct {
	ServiceName string `env:"service.name" envDefault:"aggregates"`
	Port        uint16 `env:"webserver.port" envDefault:"3030"`
	// FromBase serves the api from / instead of /{service.name}.
	FromBase bool `env:"webserver.from_base"`

	Backend        Backend `env:"store.backend" envDefault:"inmemory"`
	ESDBConnection string  `env:"esdb.connection" envDefault:"esdb://localhost:2113?tls=false"`
	MariaDBDSN     string  `env:"mariadb.dsn"`
	Dir            string  `env:"store.dir" envDefault:"./data"`
	PageSize       int     `env:"store.page_size" envDefault:"200"`
	OOBMaxCount    uint64  `env:"oob.max_count" envDefault:"200000"`
	// CryptoKey is a base64 AES key, when set event payloads and descriptors are encrypted at rest.
	CryptoKey string `env:"store.crypto_key"`

	MetricsPushURL      string        `env:"metrics.push_url"`
	MetricsPushInterval time.Duration `env:"metrics.push_interval" envDefault:"15s"`

	LogDir    string `env:"log.dir"`
	DebugUser string `env:"debug.user"`
	DebugPass string `env:"debug.pass"`
}

// Load reads local_override.properties, falling back to .env, into the environment and parses it.
func Load() (cfg Config, err error) {
	err = godotenv.Load("local_override.properties")
	if err != nil {
		sbragi.WithoutEscalation().WithError(err).
			Debug("Error loading local_override.properties file", "file", "local_override.properties")
		err = godotenv.Load(".env")
		if err != nil {
			sbragi.WithoutEscalation().
				WithError(err).
				Debug("Error loading .env file", "file", ".env")
		}
	}
	return Parse()
}

// Parse reads the configuration from the environment only.
func Parse() (cfg Config, err error) {
	err = env.Parse(&cfg)
	if err != nil {
		return cfg, errors.Wrap(err, "parsing environment")
	}
	err = cfg.Validate()
	return
}

func (c Config) Validate() error {
	switch c.Backend {
	case EventStore, OnDisk, InMemory:
	case MariaDB:
		if c.MariaDBDSN == "" {
			return errors.New("mariadb.dsn is required with the mariadb backend")
		}
	default:
		return errors.Errorf("unknown store.backend %q", c.Backend)
	}
	if c.PageSize <= 0 {
		return errors.Errorf("store.page_size must be positive, got %d", c.PageSize)
	}
	if c.OOBMaxCount == 0 {
		return errors.New("oob.max_count must be positive")
	}
	if c.CryptoKey != "" {
		_, err := crypto.ParseKey(c.CryptoKey)
		if err != nil {
			return errors.Wrap(err, "store.crypto_key")
		}
	}
	return nil
}
