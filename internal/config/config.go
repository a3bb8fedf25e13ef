package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const (
	// EnvPrefix is the prefix of every environment override
	EnvPrefix = "VIRTGATE"

	// DefaultConfigFile is looked up in the working directory when no path is given
	DefaultConfigFile = "virtgate.yaml"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Schema    SchemaConfig    `yaml:"schema" envconfig:"SCHEMA"`
	API       APIConfig       `yaml:"api" envconfig:"API"`
	Auth      AuthConfig      `yaml:"auth" envconfig:"AUTH"`
	Tasks     TasksConfig     `yaml:"tasks" envconfig:"TASKS"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" validate:"gt=0"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" validate:"gt=0"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// Address returns the listen address of the HTTP server
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gte=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gte=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// SchemaConfig selects the JSON schema used to validate request bodies.
// An empty Path uses the built-in document.
type SchemaConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"ENABLED"`
	Path    string `yaml:"path" envconfig:"PATH"`
}

// APIConfig tunes the resource dispatch layer
type APIConfig struct {
	ListConcurrency int   `yaml:"list_concurrency" envconfig:"LIST_CONCURRENCY" validate:"min=1"`
	MaxBodyBytes    int64 `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES" validate:"min=1"`
}

// AuthConfig configures the session authentication collaborator. Users maps
// a user id to an scrypt hash produced by `virtgate hash-password`.
type AuthConfig struct {
	Enabled    bool              `yaml:"enabled" envconfig:"ENABLED"`
	Users      map[string]string `yaml:"users" envconfig:"USERS"`
	SessionTTL time.Duration     `yaml:"session_ttl" envconfig:"SESSION_TTL" validate:"gt=0"`
	CookieName string            `yaml:"cookie_name" envconfig:"COOKIE_NAME" validate:"required"`
}

// TasksConfig sizes the background task queue
type TasksConfig struct {
	Workers   int `yaml:"workers" envconfig:"WORKERS" validate:"min=1"`
	QueueSize int `yaml:"queue_size" envconfig:"QUEUE_SIZE" validate:"min=1"`
}

// TelemetryConfig selects the OpenTelemetry exporters
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name" envconfig:"SERVICE_NAME" validate:"required"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=none stdout"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" validate:"oneof=none prometheus"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR" validate:"required"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            8000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8000"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/virtgate.log",
		},
		Schema: SchemaConfig{
			Enabled: true,
		},
		API: APIConfig{
			ListConcurrency: 8,
			MaxBodyBytes:    1 << 20,
		},
		Auth: AuthConfig{
			SessionTTL: 30 * time.Minute,
			CookieName: "virtgate_session",
			Users:      map[string]string{},
		},
		Tasks: TasksConfig{
			Workers:   2,
			QueueSize: 32,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "virtgate",
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		Paths: PathsConfig{
			DataDir: "data",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path and the
// environment. An empty path falls back to VIRTGATE_CONFIG and then to
// DefaultConfigFile; a missing default file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if env := os.Getenv(EnvPrefix + "_CONFIG"); env != "" {
			path, explicit = env, true
		} else {
			path = DefaultConfigFile
		}
	}

	if err := loadFromFile(path, cfg); err != nil && (explicit || !errors.Is(err, os.ErrNotExist)) {
		return nil, fmt.Errorf("failed to load config from file: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML document at filePath onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return fmt.Errorf("%s: %w", filePath, err)
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Security.EnableCORS && len(c.Security.AllowedOrigins) == 0 {
		return errors.New("at least one allowed origin must be specified when CORS is enabled")
	}
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		return errors.New("logging.file_path is required for file output")
	}
	if c.Auth.Enabled && len(c.Auth.Users) == 0 {
		return errors.New("auth.users must not be empty when auth is enabled")
	}
	return nil
}

// DataPath joins elem onto the data directory
func (c *Config) DataPath(elem ...string) string {
	return filepath.Join(append([]string{c.Paths.DataDir}, elem...)...)
}

// EnsureDirectories creates the data directory layout
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataPath(), c.DataPath("debugreports"), c.DataPath("screenshots")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
