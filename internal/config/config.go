package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverBolt     = "bolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverDynamoDB = "dynamodb"
	DriverRedis    = "redis"
	DriverMemory   = "memory"

	IDNanoid = "nanoid"
	IDUUID   = "uuid"
)

type Config struct {
	BaseURL         string        `yaml:"base_url"`
	MaxBytes        int           `yaml:"max_bytes"`
	TestMode        bool          `yaml:"test_mode"`
	BehindProxy     bool          `yaml:"behind_proxy"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
	HTTPServer      `yaml:"http_server"`
	Log             `yaml:"log"`
	Storage         `yaml:"storage"`
	ID              `yaml:"id"`
}

type HTTPServer struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

var defaultHTTPServer = HTTPServer{
	Addr:              ":8080",
	ReadHeaderTimeout: 5 * time.Second,
	ReadTimeout:       15 * time.Second,
	WriteTimeout:      15 * time.Second,
	IdleTimeout:       2 * time.Minute,
	ShutdownTimeout:   10 * time.Second,
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Storage struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"database_url"`
	Postgres    `yaml:"postgres"`
	Mongo       `yaml:"mongo"`
	Dynamo      `yaml:"dynamodb"`
	Redis       `yaml:"redis"`
}

type Postgres struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type Mongo struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type Dynamo struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

type Redis struct {
	URL string `yaml:"url"`
}

type ID struct {
	Strategy string `yaml:"strategy"`
	Length   int    `yaml:"length"`
}

// Load builds the configuration from defaults, the optional YAML file at path
// and the process environment, in that order of precedence.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	var cfg Config
	setDefaults(&cfg)

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to open config file: %w", op, err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("%s: failed to decode config file: %w", op, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resolveDriver(&cfg)

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	cfg.MaxBytes = 1 << 20
	cfg.JanitorInterval = time.Minute
	cfg.HTTPServer = defaultHTTPServer
	cfg.Log = Log{Level: "info", Format: "text"}
	cfg.Storage = Storage{
		Path: "./ttlpaste.db",
		Postgres: Postgres{
			MaxOpenConns:    25,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Mongo:  Mongo{Database: "ttlpaste", Collection: "pastes"},
		Dynamo: Dynamo{Table: "pastes"},
	}
	cfg.ID = ID{Strategy: IDNanoid, Length: 8}
}

// resolveDriver picks a storage driver when none was configured explicitly.
func resolveDriver(cfg *Config) {
	if cfg.Storage.Driver != "" {
		return
	}
	url := cfg.Storage.DatabaseURL
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		cfg.Storage.Driver = DriverPostgres
		return
	}
	cfg.Storage.Driver = DriverBolt
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}

	str("PASTE_ADDR", &cfg.HTTPServer.Addr)
	str("PASTE_BASE_URL", &cfg.BaseURL)
	integer("PASTE_MAX_BYTES", &cfg.MaxBytes)
	boolean("TEST_MODE", &cfg.TestMode)
	boolean("PASTE_BEHIND_PROXY", &cfg.BehindProxy)
	str("PASTE_LOG_LEVEL", &cfg.Log.Level)
	str("PASTE_LOG_FORMAT", &cfg.Log.Format)
	str("PASTE_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("PASTE_DATA", &cfg.Storage.Path)
	str("DATABASE_URL", &cfg.Storage.DatabaseURL)
	str("PASTE_MONGO_URI", &cfg.Storage.Mongo.URI)
	str("PASTE_MONGO_DATABASE", &cfg.Storage.Mongo.Database)
	str("PASTE_MONGO_COLLECTION", &cfg.Storage.Mongo.Collection)
	str("PASTE_DYNAMO_TABLE", &cfg.Storage.Dynamo.Table)
	str("PASTE_DYNAMO_REGION", &cfg.Storage.Dynamo.Region)
	str("PASTE_DYNAMO_ENDPOINT", &cfg.Storage.Dynamo.Endpoint)
	str("PASTE_REDIS_URL", &cfg.Storage.Redis.URL)
	str("PASTE_ID_STRATEGY", &cfg.ID.Strategy)
	integer("PASTE_ID_LENGTH", &cfg.ID.Length)
	duration("PASTE_JANITOR_INTERVAL", &cfg.JanitorInterval)
	if v, ok := lookup("PASTE_CORS_ORIGINS"); ok && v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	return errors.Join(errs...)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every problem found in the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxBytes <= 0 {
		errs = append(errs, errors.New("max_bytes must be positive"))
	}
	if c.JanitorInterval <= 0 {
		errs = append(errs, errors.New("janitor_interval must be positive"))
	}
	if c.HTTPServer.Addr == "" {
		errs = append(errs, errors.New("http_server.addr is required"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	switch c.Storage.Driver {
	case DriverBolt, DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for %s", c.Storage.Driver))
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("storage.database_url is required for postgres"))
		}
	case DriverMongo:
		if c.Storage.Mongo.URI == "" {
			errs = append(errs, errors.New("storage.mongo.uri is required for mongo"))
		}
	case DriverDynamoDB:
		if c.Storage.Dynamo.Table == "" {
			errs = append(errs, errors.New("storage.dynamodb.table is required for dynamodb"))
		}
	case DriverRedis:
		if c.Storage.Redis.URL == "" {
			errs = append(errs, errors.New("storage.redis.url is required for redis"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	switch c.ID.Strategy {
	case IDNanoid:
	case IDUUID:
		if c.ID.Length > 32 {
			errs = append(errs, errors.New("id.length must be at most 32 for uuid"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown id strategy %q", c.ID.Strategy))
	}
	if c.ID.Length <= 0 {
		errs = append(errs, errors.New("id.length must be positive"))
	}

	return errors.Join(errs...)
}
