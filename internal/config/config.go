// Package config loads server configuration. Values come from, in
// increasing precedence: an optional YAML file, environment variables,
// and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	MongoURI      string `yaml:"mongodb_uri"`
	MongoDatabase string `yaml:"mongodb_database"`

	JWTSecret    string            `yaml:"jwt_secret"`
	JWTKeys      map[string]string `yaml:"jwt_keys"` // kid -> secret, enables rotation
	JWTActiveKid string            `yaml:"jwt_active_kid"`
	TokenTTL     time.Duration     `yaml:"token_ttl"`

	GRPCPort string `yaml:"grpc_port"`
	HTTPPort string `yaml:"http_port"`

	TLSCert    string `yaml:"tls_cert"`
	TLSKey     string `yaml:"tls_key"`
	RequireTLS bool   `yaml:"require_tls"`

	// AuthRatePerMinute limits Register/Login per phone (or peer).
	AuthRatePerMinute int `yaml:"auth_rate_per_minute"`
	// EventRatePerSecond limits realtime events per identity.
	EventRatePerSecond int `yaml:"event_rate_per_second"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		MongoDatabase:      "chat_db",
		TokenTTL:           24 * time.Hour,
		GRPCPort:           "50051",
		HTTPPort:           "8080",
		AuthRatePerMinute:  10,
		EventRatePerSecond: 20,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load builds the configuration from args (without the program name).
func Load(args []string) (*Config, error) {
	return load(args, os.Getenv)
}

func load(args []string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	fs := pflag.NewFlagSet("chat-api", pflag.ContinueOnError)
	configPath := fs.String("config", getenv("CHAT_CONFIG"), "path to a YAML config file")
	mongoURI := fs.String("mongodb-uri", "", "MongoDB connection string")
	mongoDB := fs.String("mongodb-database", "", "MongoDB database name")
	grpcPort := fs.String("port", "", "gRPC listen port")
	httpPort := fs.String("http-port", "", "REST listen port")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "log format (text, json)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	// flags win over everything
	setIf(&cfg.MongoURI, *mongoURI)
	setIf(&cfg.MongoDatabase, *mongoDB)
	setIf(&cfg.GRPCPort, *grpcPort)
	setIf(&cfg.HTTPPort, *httpPort)
	setIf(&cfg.LogLevel, *logLevel)
	setIf(&cfg.LogFormat, *logFormat)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setIf(&c.MongoURI, getenv("MONGODB_URI"))
	setIf(&c.MongoDatabase, getenv("MONGODB_DATABASE"))
	setIf(&c.JWTSecret, getenv("JWT_SECRET"))
	setIf(&c.JWTActiveKid, getenv("JWT_ACTIVE_KID"))
	setIf(&c.GRPCPort, getenv("PORT"))
	setIf(&c.HTTPPort, getenv("HTTP_PORT"))
	setIf(&c.TLSCert, getenv("TLS_CERT"))
	setIf(&c.TLSKey, getenv("TLS_KEY"))
	setIf(&c.LogLevel, getenv("LOG_LEVEL"))
	setIf(&c.LogFormat, getenv("LOG_FORMAT"))
	if getenv("REQUIRE_TLS") == "true" {
		c.RequireTLS = true
	}

	if v := getenv("JWT_KEYS"); v != "" {
		keys, err := ParseKeys(v)
		if err != nil {
			return err
		}
		c.JWTKeys = keys
	}
	if v := getenv("RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.AuthRatePerMinute = n
		}
	}
	if v := getenv("EVENT_RATE_PER_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.EventRatePerSecond = n
		}
	}
	return nil
}

// ParseKeys parses "kid:secret,kid2:secret2" into a key map.
func ParseKeys(v string) (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(v, ",") {
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %s", p)
		}
		keys[parts[0]] = parts[1]
	}
	return keys, nil
}

// Validate checks that the configuration can start a server.
func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return errors.New("MONGODB_URI must be set")
	}
	if len(c.JWTKeys) == 0 && c.JWTSecret == "" {
		return errors.New("either JWT_SECRET or JWT_KEYS must be set")
	}
	if len(c.JWTKeys) > 0 {
		if _, ok := c.JWTKeys[c.JWTActiveKid]; !ok {
			return fmt.Errorf("JWT_ACTIVE_KID %q is not among JWT_KEYS", c.JWTActiveKid)
		}
	}
	if c.RequireTLS && !c.TLSEnabled() {
		return errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	return nil
}

// TLSEnabled reports whether a certificate pair is configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
