package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/bmcpi/varstore/internal/firmware/efi"
)

type StoreConfig struct {
	NvPath        string `yaml:"nv_path"        mapstructure:"nv_path"`
	NvFormat      string `yaml:"nv_format"      mapstructure:"nv_format"`
	HobPath       string `yaml:"hob_path"       mapstructure:"hob_path"`
	Alignment     int    `yaml:"alignment"      mapstructure:"alignment"`
	IndexCapacity int    `yaml:"index_capacity" mapstructure:"index_capacity"`
	Watch         bool   `yaml:"watch"          mapstructure:"watch"`
}

type CipherConfig struct {
	Enabled         bool     `yaml:"enabled"           mapstructure:"enabled"`
	RootKeyFile     string   `yaml:"root_key_file"     mapstructure:"root_key_file"`
	RootKeyHex      string   `yaml:"root_key_hex"      mapstructure:"root_key_hex"`
	Exempt          []string `yaml:"exempt"            mapstructure:"exempt"`
	MaxVariableSize int      `yaml:"max_variable_size" mapstructure:"max_variable_size"`
}

type OtelConfig struct {
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure bool   `yaml:"insecure" mapstructure:"insecure"`
}

type Config struct {
	Address        string       `yaml:"address"         mapstructure:"address"`
	Port           int          `yaml:"port"            mapstructure:"port"`
	LogLevel       string       `yaml:"log_level"       mapstructure:"log_level"`
	TrustedProxies string       `yaml:"trusted_proxies" mapstructure:"trusted_proxies"`
	Store          StoreConfig  `yaml:"store"           mapstructure:"store"`
	Cipher         CipherConfig `yaml:"cipher"          mapstructure:"cipher"`
	Otel           OtelConfig   `yaml:"otel"            mapstructure:"otel"`
	Log            logr.Logger  `yaml:"-"               mapstructure:"-"`

	v *viper.Viper
}

// NewConfig loads the configuration. An explicit path overrides the search
// in /app/, /config/ and the working directory; without a config file the
// defaults apply. Every key can be overridden from the environment, e.g.
// STORE_NV_PATH. With watch set the file is reloaded on change.
func NewConfig(path string, watch bool) (conf *Config, err error) {
	v := viper.New()
	conf = &Config{v: v}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("/app/")
		v.AddConfigPath("/config/")
		v.AddConfigPath(".")
	}

	v.SetDefault("address", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("trusted_proxies", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("store.nv_path", "RPI_EFI.fd")
	v.SetDefault("store.nv_format", "volume")
	v.SetDefault("store.hob_path", "")
	v.SetDefault("store.alignment", 4)
	v.SetDefault("store.index_capacity", 122)
	v.SetDefault("store.watch", true)

	v.SetDefault("cipher.enabled", false)
	v.SetDefault("cipher.root_key_file", "")
	v.SetDefault("cipher.root_key_hex", "")
	v.SetDefault("cipher.exempt", []string{})
	v.SetDefault("cipher.max_variable_size", 65536)

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", true)

	v.SetConfigType("yaml")

	haveFile := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return conf, fmt.Errorf("config: unable to read config file: %w", err)
		}
		haveFile = false
	}

	for _, key := range v.AllKeys() {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey); err != nil {
			return conf, fmt.Errorf("config: unable to bind env: %w", err)
		}
	}

	// Load the Config the first time we start the app.
	if err := conf.load(); err != nil {
		return conf, err
	}
	conf.Log = defaultLogger(conf.LogLevel)
	if !haveFile {
		conf.Log.Info("config: no config file found, using defaults")
	}

	if watch && haveFile {
		v.OnConfigChange(func(e fsnotify.Event) {
			if err := conf.load(); err != nil {
				conf.Log.Error(err, "config: reload failed", "file", e.Name)
				return
			}
			conf.Log.Info("config: reloaded", "file", e.Name)
		})
		v.WatchConfig()
	}

	return conf, nil
}

func (c *Config) load() error {
	if err := c.v.Unmarshal(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RootKey returns the configured cipher root key, or nil when encryption is
// disabled. A hex key takes precedence over a key file.
func (c *Config) RootKey(fs afero.Fs) ([]byte, error) {
	if !c.Cipher.Enabled {
		return nil, nil
	}
	if c.Cipher.RootKeyHex != "" {
		key, err := hex.DecodeString(strings.TrimSpace(c.Cipher.RootKeyHex))
		if err != nil {
			return nil, fmt.Errorf("config: cipher.root_key_hex: %w", err)
		}
		return key, nil
	}
	if c.Cipher.RootKeyFile == "" {
		return nil, errors.New("config: cipher enabled without a root key")
	}
	key, err := afero.ReadFile(fs, c.Cipher.RootKeyFile)
	if err != nil {
		return nil, fmt.Errorf("config: cipher.root_key_file: %w", err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("config: cipher.root_key_file %s is empty", c.Cipher.RootKeyFile)
	}
	return key, nil
}

// ExemptIdentities parses cipher.exempt.
func (c *Config) ExemptIdentities() ([]efi.Identity, error) {
	ids := make([]efi.Identity, 0, len(c.Cipher.Exempt))
	for _, s := range c.Cipher.Exempt {
		id, err := efi.ParseIdentity(s)
		if err != nil {
			return nil, fmt.Errorf("config: cipher.exempt: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// defaultLogger uses the slog logr implementation.
func defaultLogger(level string) logr.Logger {
	// source file and function can be long. This makes the logs less readable.
	// truncate source file and function to last 3 parts for improved readability.
	customAttr := func(_ []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			ss, ok := a.Value.Any().(*slog.Source)
			if !ok || ss == nil {
				return a
			}
			f := strings.Split(ss.Function, "/")
			if len(f) > 3 {
				ss.Function = filepath.Join(f[len(f)-3:]...)
			}
			p := strings.Split(ss.File, "/")
			if len(p) > 3 {
				ss.File = filepath.Join(p[len(p)-3:]...)
			}

			return a
		}

		return a
	}
	opts := &slog.HandlerOptions{AddSource: true, ReplaceAttr: customAttr}
	switch level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "trace":
		opts.Level = slog.Level(-8)
	default:
		opts.Level = slog.LevelInfo
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, opts))

	return logr.FromSlogHandler(log.Handler())
}
