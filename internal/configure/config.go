package configure

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"reimage/internal/logging"
)

// EnvPrefix namespaces environment overrides, e.g. REIMAGE_RUN_MAX_AXIS.
const EnvPrefix = "REIMAGE"

// flagKeys maps command line flag names to config keys.
var flagKeys = map[string]string{
	"config":         "config",
	"log-file":       "log.file",
	"log-file-level": "log.file_level",
	"log-level":      "log.console_level",
	"recurse":        "run.recurse",
	"max-axis":       "run.max_axis",
	"rename":         "run.rename",
	"format":         "run.format",
	"backup":         "run.backup",
	"debounce":       "watch.debounce",
	"metrics":        "monitoring.enabled",
	"metrics-bind":   "monitoring.bind",
}

type Config struct {
	ConfigFile string `mapstructure:"config" json:"config" yaml:"config"`

	Log logging.Config `mapstructure:"log" json:"log" yaml:"log"`

	Run struct {
		Recurse bool   `mapstructure:"recurse" json:"recurse" yaml:"recurse"`
		MaxAxis int    `mapstructure:"max_axis" json:"max_axis" yaml:"max_axis"`
		Rename  string `mapstructure:"rename" json:"rename" yaml:"rename"`
		Format  string `mapstructure:"format" json:"format" yaml:"format"`
		Backup  bool   `mapstructure:"backup" json:"backup" yaml:"backup"`
	} `mapstructure:"run" json:"run" yaml:"run"`

	Watch struct {
		Debounce time.Duration `mapstructure:"debounce" json:"debounce" yaml:"debounce"`
	} `mapstructure:"watch" json:"watch" yaml:"watch"`

	Monitoring struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
		Bind    string `mapstructure:"bind" json:"bind" yaml:"bind"`
		Labels  Labels `mapstructure:"labels" json:"labels" yaml:"labels"`
	} `mapstructure:"monitoring" json:"monitoring" yaml:"monitoring"`
}

type Labels []struct {
	Key   string `mapstructure:"key" json:"key" yaml:"key"`
	Value string `mapstructure:"value" json:"value" yaml:"value"`
}

func (l Labels) ToPrometheus() prometheus.Labels {
	mp := prometheus.Labels{}

	for _, v := range l {
		mp[v.Key] = v.Value
	}

	return mp
}

func setDefaults(config *viper.Viper) {
	config.SetDefault("log.file", "reimage.log")
	config.SetDefault("log.file_level", "debug")
	config.SetDefault("log.console_level", "info")
	config.SetDefault("run.recurse", true)
	config.SetDefault("run.max_axis", 0)
	config.SetDefault("run.rename", "")
	config.SetDefault("run.format", "")
	config.SetDefault("run.backup", true)
	config.SetDefault("watch.debounce", 2*time.Second)
	config.SetDefault("monitoring.enabled", false)
	config.SetDefault("monitoring.bind", "127.0.0.1:9100")
}

// Load resolves the configuration from, in order of precedence, flags that
// were set, REIMAGE_ environment variables, the config file and defaults.
// flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	config := viper.New()
	setDefaults(config)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := config.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	// Environment
	config.SetEnvPrefix(EnvPrefix)
	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()
	bindEnvs(config, Config{})

	// File
	if file := config.GetString("config"); file != "" {
		config.SetConfigFile(file)
		if err := config.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config file %s: %w", file, err)
		}
	} else {
		config.SetConfigName("reimage")
		config.AddConfigPath(".")
		if err := config.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config file: %w", err)
			}
		}
	}

	c := &Config{}
	if err := config.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c.ConfigFile = config.ConfigFileUsed()

	return c, nil
}

func bindEnvs(config *viper.Viper, iface interface{}, parts ...string) {
	ifv := reflect.ValueOf(iface)
	ift := reflect.TypeOf(iface)
	for i := 0; i < ift.NumField(); i++ {
		v := ifv.Field(i)
		t := ift.Field(i)
		tv, ok := t.Tag.Lookup("mapstructure")
		if !ok {
			continue
		}
		switch v.Kind() {
		case reflect.Struct:
			bindEnvs(config, v.Interface(), append(parts, tv)...)
		default:
			_ = config.BindEnv(strings.Join(append(parts, tv), "."))
		}
	}
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
