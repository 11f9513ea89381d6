// Package config loads node settings from the environment, a .env file or
// a YAML file.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/TheusHen/streamrelay/streamrelay/units"
)

var ErrInvalid = errors.New("config: invalid configuration")

type HTTPConfig struct {
	Addr              string        `yaml:"addr" env:"STREAMRELAY_HTTP_ADDR" env-default:"127.0.0.1:8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"STREAMRELAY_HTTP_READ_HEADER_TIMEOUT" env-default:"10s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"STREAMRELAY_HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// H3Config enables the HTTP/3 listener. It serves the same routes as HTTP.
type H3Config struct {
	Enabled bool   `yaml:"enabled" env:"STREAMRELAY_H3_ENABLED" env-default:"false"`
	Addr    string `yaml:"addr" env:"STREAMRELAY_H3_ADDR" env-default:"127.0.0.1:8443"`
}

// StreamConfig enables the raw QUIC stream service.
type StreamConfig struct {
	Enabled bool   `yaml:"enabled" env:"STREAMRELAY_STREAM_ENABLED" env-default:"false"`
	Addr    string `yaml:"addr" env:"STREAMRELAY_STREAM_ADDR" env-default:"127.0.0.1:4433"`
}

type TransferConfig struct {
	BufferSize   string `yaml:"buffer_size" env:"STREAMRELAY_BUFFER_SIZE" env-default:"32KiB"`
	DoubleBuffer bool   `yaml:"double_buffer" env:"STREAMRELAY_DOUBLE_BUFFER" env-default:"false"`
	CorpusPath   string `yaml:"corpus_path" env:"STREAMRELAY_CORPUS_PATH"`
}

// BufferBytes parses BufferSize.
func (t TransferConfig) BufferBytes() (int, error) {
	n, err := units.ParseSize(t.BufferSize)
	if err != nil {
		return 0, err
	}
	if n == 0 || n > units.GB {
		return 0, fmt.Errorf("%w: buffer size %q out of range", ErrInvalid, t.BufferSize)
	}
	return int(n), nil
}

// Upstream modes.
const (
	UpstreamHTTP = "http"
	UpstreamH3   = "h3"
	UpstreamQUIC = "quic"
)

// UpstreamConfig selects where virtual and relayed transfers go. An empty
// Target points the node at its own listener for Mode.
type UpstreamConfig struct {
	Mode     string        `yaml:"mode" env:"STREAMRELAY_UPSTREAM_MODE" env-default:"http"`
	Target   string        `yaml:"target" env:"STREAMRELAY_UPSTREAM_TARGET"`
	Compress bool          `yaml:"compress" env:"STREAMRELAY_UPSTREAM_COMPRESS" env-default:"false"`
	Timeout  time.Duration `yaml:"timeout" env:"STREAMRELAY_UPSTREAM_TIMEOUT" env-default:"0s"`
}

// Self reports whether the upstream is this node.
func (u UpstreamConfig) Self() bool { return u.Target == "" }

type LogConfig struct {
	Level  string `yaml:"level" env:"STREAMRELAY_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"STREAMRELAY_LOG_FORMAT" env-default:"text"`
}

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	H3       H3Config       `yaml:"h3"`
	Stream   StreamConfig   `yaml:"stream"`
	Transfer TransferConfig `yaml:"transfer"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Log      LogConfig      `yaml:"log"`
}

// Load reads configuration from path. A ".env" file is loaded into the
// environment first; any other file is parsed by extension. With an empty
// path only the environment is consulted. Environment variables always win
// over file values.
func Load(path string) (*Config, error) {
	var cfg Config
	switch {
	case path == "":
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	case filepath.Ext(path) == ".env" || filepath.Base(path) == ".env":
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	default:
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load for process start-up.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate checks cross-field constraints the tags cannot express.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("%w: http address is empty", ErrInvalid)
	}
	if _, err := c.Transfer.BufferBytes(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	c.Upstream.Mode = strings.ToLower(c.Upstream.Mode)
	switch c.Upstream.Mode {
	case UpstreamHTTP:
	case UpstreamH3:
		if c.Upstream.Self() && !c.H3.Enabled {
			return fmt.Errorf("%w: h3 self upstream needs the h3 listener", ErrInvalid)
		}
	case UpstreamQUIC:
		if c.Upstream.Self() && !c.Stream.Enabled {
			return fmt.Errorf("%w: quic self upstream needs the stream listener", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown upstream mode %q", ErrInvalid, c.Upstream.Mode)
	}
	if c.Upstream.Timeout < 0 {
		return fmt.Errorf("%w: negative upstream timeout", ErrInvalid)
	}
	return nil
}
