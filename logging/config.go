package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBatchSize     = 50
	DefaultFlushInterval = 3 * time.Second
	MinFlushInterval     = 250 * time.Millisecond
	DefaultMaxQueue      = 10000
	DeliveryTimeout      = 5 * time.Second
)

// Config is the user-facing logger configuration as it appears in YAML
// or JSON files. Zero values mean "use the default".
type Config struct {
	ProjectID       string   `yaml:"projectId" json:"projectId"`
	Level           string   `yaml:"level" json:"level"`
	CollectorURL    string   `yaml:"collectorUrl" json:"collectorUrl"`
	BatchSize       int      `yaml:"batchSize" json:"batchSize"`
	FlushIntervalMS int      `yaml:"flushIntervalMs" json:"flushIntervalMs"`
	Redact          string   `yaml:"redact" json:"redact"`
	APIToken        string   `yaml:"apiToken" json:"apiToken,omitempty"`
	RedactKeys      []string `yaml:"redactKeys" json:"redactKeys,omitempty"`
	MaxQueue        int      `yaml:"maxQueue" json:"maxQueue,omitempty"`
	Compression     string   `yaml:"compression" json:"compression,omitempty"`
	Encoding        string   `yaml:"encoding" json:"encoding,omitempty"`
	Echo            bool     `yaml:"echo" json:"echo,omitempty"`
}

// Settings is a Config with defaults and floors applied.
type Settings struct {
	ProjectID     string        `json:"projectId"`
	Level         Level         `json:"level"`
	CollectorURL  string        `json:"collectorUrl,omitempty"`
	BatchSize     int           `json:"batchSize"`
	FlushInterval time.Duration `json:"flushInterval"`
	Redact        RedactMode    `json:"redact"`
	APIToken      string        `json:"-"`
	RedactKeys    []string      `json:"redactKeys,omitempty"`
	MaxQueue      int           `json:"maxQueue"`
	Compression   Compression   `json:"compression"`
	Encoding      Encoding      `json:"encoding"`
	Echo          bool          `json:"echo"`
}

func (c Config) Normalize() Settings {
	s := Settings{
		ProjectID:    c.ProjectID,
		Level:        ParseLevel(c.Level),
		CollectorURL: strings.TrimSpace(c.CollectorURL),
		Redact:       ParseRedactMode(c.Redact),
		APIToken:     c.APIToken,
		RedactKeys:   append([]string(nil), c.RedactKeys...),
		Compression:  ParseCompression(c.Compression),
		Encoding:     ParseEncoding(c.Encoding),
		Echo:         c.Echo,
	}

	switch {
	case c.BatchSize == 0:
		s.BatchSize = DefaultBatchSize
	case c.BatchSize < 1:
		s.BatchSize = 1
	default:
		s.BatchSize = c.BatchSize
	}

	switch {
	case c.FlushIntervalMS == 0:
		s.FlushInterval = DefaultFlushInterval
	default:
		s.FlushInterval = time.Duration(c.FlushIntervalMS) * time.Millisecond
		if s.FlushInterval < MinFlushInterval {
			s.FlushInterval = MinFlushInterval
		}
	}

	s.MaxQueue = c.MaxQueue
	if s.MaxQueue <= 0 {
		s.MaxQueue = DefaultMaxQueue
	}
	if s.MaxQueue < s.BatchSize {
		s.MaxQueue = s.BatchSize
	}

	return s
}

// DeliveryEnabled reports whether entries should be queued for a
// collector at all.
func (s Settings) DeliveryEnabled() bool {
	return s.CollectorURL != ""
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML or JSON configuration text.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}
