// soraq/config/config.go
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	BaseURL          string        `mapstructure:"BASE"`
	ProviderBaseURL  string        `mapstructure:"PROVIDER_BASE_URL"`
	ProviderTimeout  time.Duration `mapstructure:"PROVIDER_TIMEOUT"`
	PollInterval     time.Duration `mapstructure:"POLL_INTERVAL"`
	MaxReferenceSize int64         `mapstructure:"MAX_REFERENCE_SIZE"`
	JPEGQuality      int           `mapstructure:"JPEG_QUALITY"`
	StateFile        string        `mapstructure:"STATE_FILE"`
	HistoryLimit     int           `mapstructure:"HISTORY_LIMIT"`
	ConfirmResubmit  bool          `mapstructure:"CONFIRM_RESUBMIT"`
	ArtifactDir      string        `mapstructure:"ARTIFACT_DIR"`
	OutputLifetime   time.Duration `mapstructure:"OUTPUT_LOCAL_LIFETIME"`
	ThrottleFreeMem  int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64         `mapstructure:"THROTTLE_FREEDISK"`
	AuthEnable       bool          `mapstructure:"AUTH_ENABLE"`
	AuthKey          string        `mapstructure:"AUTH_KEY"`
	SessionHeader    string        `mapstructure:"SESSION_HEADER"`
	CORSOrigins      string        `mapstructure:"CORS_ORIGINS"`
	UsageDriver      string        `mapstructure:"USAGE_DRIVER"`
	UsageDSN         string        `mapstructure:"USAGE_DSN"`
}

// AllowedOrigins splits the comma-separated CORS_ORIGINS value.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// stringToDurationHookFunc parses Go duration strings such as "3s" or "1h30m".
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human-readable sizes such as "10MB".
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			// Not a size string, let the default decoder try.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("PROVIDER_BASE_URL", "https://api.openai.com/v1")
	vp.SetDefault("PROVIDER_TIMEOUT", "2m")
	vp.SetDefault("POLL_INTERVAL", "3s")
	vp.SetDefault("MAX_REFERENCE_SIZE", "10MB")
	vp.SetDefault("JPEG_QUALITY", 95)
	vp.SetDefault("STATE_FILE", ".soraq/state.json")
	vp.SetDefault("HISTORY_LIMIT", 500)
	vp.SetDefault("CONFIRM_RESUBMIT", false)
	vp.SetDefault("ARTIFACT_DIR", ".soraq/artifacts")
	vp.SetDefault("OUTPUT_LOCAL_LIFETIME", "24h")
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "500MB")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")
	vp.SetDefault("SESSION_HEADER", "X-Forwarded-User")
	vp.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	vp.SetDefault("USAGE_DRIVER", "none")
	vp.SetDefault("USAGE_DSN", "")
}

func Load() (*Config, error) {
	vp := viper.New()
	setDefaults(vp)

	vp.SetConfigName("soraq_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/soraq/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("SORAQ")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The first hook that converts the value wins.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
	}
	if cfg.OutputLifetime < 0 {
		return nil, fmt.Errorf("OUTPUT_LOCAL_LIFETIME must not be negative, got %s", cfg.OutputLifetime)
	}

	return &cfg, nil
}
