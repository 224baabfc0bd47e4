package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/dataprep/pkg/errors"
)

// Settings are the process wide knobs that do not travel with a job.
type Settings struct {
	Log      LogSettings      `mapstructure:"log" yaml:"log" json:"log"`
	Engine   EngineSettings   `mapstructure:"engine" yaml:"engine" json:"engine"`
	Callback CallbackSettings `mapstructure:"callback" yaml:"callback" json:"callback"`
	Storage  StorageSettings  `mapstructure:"storage" yaml:"storage" json:"storage"`
	Tracing  TracingSettings  `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
	Metrics  MetricsSettings  `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
}

// LogSettings configure pkg/logger.
type LogSettings struct {
	Level       string `mapstructure:"level" yaml:"level" json:"level"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding" json:"encoding"`
	Development bool   `mapstructure:"development" yaml:"development" json:"development"`
}

// EngineSettings configure rule execution.
type EngineSettings struct {
	// CoercionFailureLimit fails a job once settype nulls more cells than
	// this. Zero only counts failures.
	CoercionFailureLimit int `mapstructure:"coercion_failure_limit" yaml:"coercion_failure_limit" json:"coercion_failure_limit"`
}

// CallbackSettings locate the caller and bound delivery attempts.
type CallbackSettings struct {
	Scheme string `mapstructure:"scheme" yaml:"scheme" json:"scheme"`
	Host   string `mapstructure:"host" yaml:"host" json:"host"`
	// Path may contain {snapshotId}
	Path           string        `mapstructure:"path" yaml:"path" json:"path"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	InitialDelay   time.Duration `mapstructure:"initial_delay" yaml:"initial_delay" json:"initial_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay" yaml:"max_delay" json:"max_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" json:"request_timeout"`
	// OAuth authenticates callbacks whose payload carries no token
	OAuth OAuthSettings `mapstructure:"oauth" yaml:"oauth" json:"oauth"`
}

// OAuthSettings describe an oauth2 refresh token grant.
type OAuthSettings struct {
	TokenURL     string   `mapstructure:"token_url" yaml:"token_url" json:"token_url"`
	ClientID     string   `mapstructure:"client_id" yaml:"client_id" json:"client_id"`
	ClientSecret string   `mapstructure:"client_secret" yaml:"client_secret" json:"-"`
	RefreshToken string   `mapstructure:"refresh_token" yaml:"refresh_token" json:"-"`
	Scopes       []string `mapstructure:"scopes" yaml:"scopes" json:"scopes"`
}

// Enabled reports whether callbacks can obtain their own tokens.
func (o OAuthSettings) Enabled() bool {
	return o.TokenURL != "" && o.RefreshToken != ""
}

// StorageSettings hold credentials for remote snapshot stores.
type StorageSettings struct {
	S3Region           string `mapstructure:"s3_region" yaml:"s3_region" json:"s3_region"`
	GCSCredentialsFile string `mapstructure:"gcs_credentials_file" yaml:"gcs_credentials_file" json:"gcs_credentials_file"`
}

// TracingSettings configure pkg/observability.
type TracingSettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
}

// MetricsSettings configure pkg/metrics.
type MetricsSettings struct {
	// TextfilePath receives the job metrics in Prometheus text format when set
	TextfilePath string `mapstructure:"textfile_path" yaml:"textfile_path" json:"textfile_path"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() *Settings {
	return &Settings{
		Log: LogSettings{
			Level:    "info",
			Encoding: "json",
		},
		Callback: CallbackSettings{
			Scheme:         "http",
			Host:           "localhost",
			Path:           "/api/preparationsnapshots/{snapshotId}",
			MaxAttempts:    3,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		Tracing: TracingSettings{
			ServiceName: "dataprep",
		},
	}
}

// LoadSettings reads settings from filePath (optional) and DATAPREP_*
// environment variables on top of DefaultSettings. Nested keys use an
// underscore in the environment: DATAPREP_CALLBACK_HOST.
func LoadSettings(filePath string) (*Settings, error) {
	v := viper.New()
	setDefaults(v, DefaultSettings())

	v.SetEnvPrefix("DATAPREP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filePath != "" {
		v.SetConfigFile(filePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read settings")
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func setDefaults(v *viper.Viper, d *Settings) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.encoding", d.Log.Encoding)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("engine.coercion_failure_limit", d.Engine.CoercionFailureLimit)
	v.SetDefault("callback.scheme", d.Callback.Scheme)
	v.SetDefault("callback.host", d.Callback.Host)
	v.SetDefault("callback.path", d.Callback.Path)
	v.SetDefault("callback.max_attempts", d.Callback.MaxAttempts)
	v.SetDefault("callback.initial_delay", d.Callback.InitialDelay)
	v.SetDefault("callback.max_delay", d.Callback.MaxDelay)
	v.SetDefault("callback.request_timeout", d.Callback.RequestTimeout)
	v.SetDefault("callback.oauth.token_url", d.Callback.OAuth.TokenURL)
	v.SetDefault("callback.oauth.client_id", d.Callback.OAuth.ClientID)
	v.SetDefault("callback.oauth.client_secret", d.Callback.OAuth.ClientSecret)
	v.SetDefault("callback.oauth.refresh_token", d.Callback.OAuth.RefreshToken)
	v.SetDefault("storage.s3_region", d.Storage.S3Region)
	v.SetDefault("storage.gcs_credentials_file", d.Storage.GCSCredentialsFile)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("metrics.textfile_path", d.Metrics.TextfilePath)
}

// Validate checks the settings for correctness.
func (s *Settings) Validate() error {
	if s.Engine.CoercionFailureLimit < 0 {
		return errors.New(errors.ErrorTypeConfig, "engine.coercion_failure_limit cannot be negative")
	}
	if s.Callback.Scheme != "http" && s.Callback.Scheme != "https" {
		return errors.Newf(errors.ErrorTypeConfig, "callback.scheme must be http or https, got %q", s.Callback.Scheme)
	}
	if s.Callback.MaxAttempts < 1 {
		return errors.New(errors.ErrorTypeConfig, "callback.max_attempts must be at least 1")
	}
	if s.Callback.InitialDelay < 0 || s.Callback.MaxDelay < 0 || s.Callback.RequestTimeout <= 0 {
		return errors.New(errors.ErrorTypeConfig, "callback delays cannot be negative and request_timeout must be positive")
	}
	if o := s.Callback.OAuth; (o.TokenURL == "") != (o.RefreshToken == "") {
		return errors.New(errors.ErrorTypeConfig, "callback.oauth needs both token_url and refresh_token")
	}
	return nil
}
