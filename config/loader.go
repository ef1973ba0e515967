package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/c360/semchannels/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SEMCHANNELS"

// Loader reads configuration layers over the defaults. Later layers
// override the fields they set; lists are replaced, not merged.
type Loader struct {
	layers     []string
	envPrefix  string
	validation bool
	getenv     func(string) string
}

// NewLoader creates a loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{envPrefix: EnvPrefix, validation: true, getenv: os.Getenv}
}

// AddLayer adds a JSON or YAML file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables validation of the result
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load applies the defaults, each layer in order, then environment overrides.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		if err := l.decodeLayer(path, cfg); err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", "load "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "apply environment")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (l *Loader) decodeLayer(path string, cfg *Config) error {
	data, err := safeReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := validateJSONDepth(data); err != nil {
			return err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	}
	return nil
}

// applyEnvOverrides reads <prefix>_NATS_URLS (comma separated),
// _NATS_USERNAME, _NATS_PASSWORD, _NATS_TOKEN, _NATS_PEER_BUCKET,
// _NATS_TLS_CA_FILE, _NATS_TLS_CERT_FILE, _NATS_TLS_KEY_FILE, _NODE_ID,
// _LOG_LEVEL, _METRICS_PORT, _DEFAULT_RETENTION and _DEFAULT_CHUNK_SIZE.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	env := func(key string) (string, error) {
		full := l.envPrefix + "_" + key
		val := l.getenv(full)
		return val, validateEnvVar(full, val)
	}

	strs := map[string]*string{
		"NODE_ID":          &cfg.Node.ID,
		"NATS_USERNAME":    &cfg.NATS.Username,
		"NATS_PASSWORD":    &cfg.NATS.Password,
		"NATS_TOKEN":       &cfg.NATS.Token,
		"NATS_PEER_BUCKET": &cfg.NATS.PeerBucket,
		"LOG_LEVEL":        &cfg.Log.Level,
	}
	tlsFiles := map[string]*string{
		"NATS_TLS_CERT_FILE": &cfg.NATS.TLS.CertFile,
		"NATS_TLS_KEY_FILE":  &cfg.NATS.TLS.KeyFile,
	}
	for key, dst := range tlsFiles {
		val, err := env(key)
		if err != nil {
			return err
		}
		if val != "" {
			*dst = val
			cfg.NATS.TLS.Enabled = true
		}
	}
	if val, err := env("NATS_TLS_CA_FILE"); err != nil {
		return err
	} else if val != "" {
		cfg.NATS.TLS.CAFiles = append(cfg.NATS.TLS.CAFiles, val)
		cfg.NATS.TLS.Enabled = true
	}
	for key, dst := range strs {
		val, err := env(key)
		if err != nil {
			return err
		}
		if val != "" {
			*dst = val
		}
	}

	if val, err := env("NATS_URLS"); err != nil {
		return err
	} else if val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}

	if val, err := env("METRICS_PORT"); err != nil {
		return err
	} else if val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_METRICS_PORT: %w", l.envPrefix, err)
		}
		cfg.Metrics.Port = port
	}

	if val, err := env("DEFAULT_RETENTION"); err != nil {
		return err
	} else if val != "" {
		d, err := ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%s_DEFAULT_RETENTION: %w", l.envPrefix, err)
		}
		cfg.Defaults.Retention = d
	}

	if val, err := env("DEFAULT_CHUNK_SIZE"); err != nil {
		return err
	} else if val != "" {
		size, err := datasize.ParseString(val)
		if err != nil {
			return fmt.Errorf("%s_DEFAULT_CHUNK_SIZE: %w", l.envPrefix, err)
		}
		cfg.Defaults.ChunkSize = size
	}
	return nil
}

// SaveToFile writes cfg as YAML, or JSON when path ends in .json.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}
