// Package conf loads and validates process configuration from a YAML
// file, environment variables and built-in defaults.
package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerSettings configures the HTTP/websocket listener.
type ServerSettings struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

// ClassifierSettings configures the external classification service client.
type ClassifierSettings struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// BufferSettings sizes the per-source rolling frame buffer.
type BufferSettings struct {
	Window time.Duration `yaml:"window"`
	FPS    int           `yaml:"fps"`
}

// SessionSettings configures per-source session lifecycle.
type SessionSettings struct {
	Cooldown      time.Duration `yaml:"cooldown"`
	ReapInterval  time.Duration `yaml:"reapinterval"`
	IdleRetention time.Duration `yaml:"idleretention"`
}

// ClipSettings configures clip encoding.
type ClipSettings struct {
	ScratchDir string `yaml:"scratchdir"`
	FPS        int    `yaml:"fps"`
	FFmpeg     string `yaml:"ffmpeg"`
}

// BlobSettings configures the local clip store.
type BlobSettings struct {
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"baseurl"`
}

// StoreSettings configures the detection record database.
type StoreSettings struct {
	Path string `yaml:"path"`
}

// ReconcileSettings configures the notification reconciler.
type ReconcileSettings struct {
	Interval    time.Duration `yaml:"interval"`
	Abandonment time.Duration `yaml:"abandonment"`
}

// IngestSettings configures the websocket ingest path.
type IngestSettings struct {
	ClassifyTimeout time.Duration `yaml:"classifytimeout"`
	VerdictQueue    int           `yaml:"verdictqueue"`
}

// TelegramSettings configures the Telegram notifier. Disabled when the
// token is empty.
type TelegramSettings struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chatid"`
}

// NotifySettings configures alert delivery channels.
type NotifySettings struct {
	URLs     []string         `yaml:"urls"`
	Timeout  time.Duration    `yaml:"timeout"`
	Telegram TelegramSettings `yaml:"telegram"`
}

// Settings is the root configuration object.
type Settings struct {
	Debug bool `yaml:"debug"`

	Server     ServerSettings     `yaml:"server"`
	Classifier ClassifierSettings `yaml:"classifier"`
	Buffer     BufferSettings     `yaml:"buffer"`
	Session    SessionSettings    `yaml:"session"`
	Clip       ClipSettings       `yaml:"clip"`
	Blob       BlobSettings       `yaml:"blob"`
	Store      StoreSettings      `yaml:"store"`
	Reconcile  ReconcileSettings  `yaml:"reconcile"`
	Ingest     IngestSettings     `yaml:"ingest"`
	Notify     NotifySettings     `yaml:"notify"`
}

// Load reads the configuration file and environment into a Settings
// struct. A missing config file is not an error; defaults apply.
func Load() (*Settings, error) {
	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

// initViper initializes viper with default values and reads the
// configuration file if one exists.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("$HOME/.config/vigil")

	viper.SetEnvPrefix("vigil")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// ValidateSettings rejects configurations the runtime cannot operate
// under.
func ValidateSettings(s *Settings) error {
	if s.Buffer.Window <= 0 {
		return fmt.Errorf("buffer.window must be positive, got %v", s.Buffer.Window)
	}
	if s.Buffer.FPS <= 0 {
		return fmt.Errorf("buffer.fps must be positive, got %d", s.Buffer.FPS)
	}
	if s.Classifier.Endpoint == "" {
		return fmt.Errorf("classifier.endpoint must be set")
	}
	if s.Session.Cooldown < 0 {
		return fmt.Errorf("session.cooldown must not be negative, got %v", s.Session.Cooldown)
	}
	if s.Reconcile.Interval <= 0 {
		return fmt.Errorf("reconcile.interval must be positive, got %v", s.Reconcile.Interval)
	}
	return nil
}
