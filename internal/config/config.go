// Package config loads and persists the go-live CLI configuration.
//
// Values come from $HOME/.golive/config.yaml, then the environment, then
// command-line flags, each layer overriding the previous one.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-live/pkg/audioio"
	"github.com/teslashibe/go-live/pkg/setup"
	"github.com/teslashibe/go-live/pkg/video"
	"github.com/teslashibe/go-live/pkg/web"
)

// Location of the config file under the user's home directory.
const (
	DirName  = ".golive"
	FileName = "config.yaml"
)

// Environment variables read by ApplyEnv.
const (
	EnvAPIKey   = "GEMINI_API_KEY"
	EnvModel    = "GOLIVE_MODEL"
	EnvVoice    = "GOLIVE_VOICE"
	EnvLogLevel = "LOG_LEVEL"
)

// Auth selects how the CLI authenticates.
type Auth string

const (
	// AuthKey uses API keys from the config or environment.
	AuthKey Auth = "key"
	// AuthOAuth uses Google OAuth, from a saved token or application
	// default credentials.
	AuthOAuth Auth = "oauth"
)

var (
	// ErrNoAPIKey is returned by Validate when key auth has no key.
	ErrNoAPIKey = errors.New("config: no API key (set " + EnvAPIKey + " or api_keys)")
	// ErrInvalid wraps every other validation failure.
	ErrInvalid = errors.New("config: invalid")
)

// OAuth configures OAuth authentication.
type OAuth struct {
	// TokenFile holds a saved token. Empty means application default
	// credentials.
	TokenFile    string `yaml:"token_file,omitempty"`
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`
}

// Reconnect configures the reconnection schedule.
type Reconnect struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// Audio configures the local audio devices.
type Audio struct {
	Backend audioio.Backend `yaml:"backend"`
}

// Video configures the capture inputs.
type Video struct {
	Camera video.FFmpegConfig `yaml:"camera"`
	Screen video.FFmpegConfig `yaml:"screen"`

	// GoCVDevice, when non-negative, captures the camera through OpenCV
	// instead of ffmpeg. Requires a build with the gocv tag.
	GoCVDevice int `yaml:"gocv_device"`

	// FrameInterval is the send period while a source is active.
	FrameInterval time.Duration `yaml:"frame_interval"`
}

// Config is the complete CLI configuration.
type Config struct {
	// APIKeys are used round-robin, starting at KeyIndex.
	APIKeys []string `yaml:"api_keys,omitempty"`

	// KeyIndex is the key the next session starts with. It is saved back
	// when a session rotates to another key.
	KeyIndex int `yaml:"key_index"`

	Auth  Auth  `yaml:"auth"`
	OAuth OAuth `yaml:"oauth,omitempty"`

	Session   setup.Settings `yaml:"session"`
	Reconnect Reconnect      `yaml:"reconnect"`
	Audio     Audio          `yaml:"audio"`
	Video     Video          `yaml:"video"`
	Web       web.Config     `yaml:"web"`

	// ToolTimeout bounds each local tool call. Zero means no limit.
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// ArtifactsDir stores turn recordings on disk. Empty keeps them in
	// memory, served by the dashboard.
	ArtifactsDir string `yaml:"artifacts_dir,omitempty"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Auth:    AuthKey,
		Session: setup.DefaultSettings(),
		Reconnect: Reconnect{
			MaxRetries: 5,
			BaseDelay:  time.Second,
			MaxDelay:   30 * time.Second,
		},
		Audio: Audio{Backend: audioio.BackendAuto},
		Video: Video{
			Camera:        video.DefaultCameraConfig(),
			Screen:        video.DefaultScreenConfig(),
			GoCVDevice:    -1,
			FrameInterval: time.Second,
		},
		Web:         web.DefaultConfig(),
		ToolTimeout: 30 * time.Second,
		LogLevel:    "info",
	}
}

// DefaultPath returns $HOME/.golive/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: home dir: %w", err)
	}
	return filepath.Join(home, DirName, FileName), nil
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}

// ApplyEnv overlays the environment. GEMINI_API_KEY may hold several
// comma-separated keys, which replace the configured ones.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvAPIKey); v != "" {
		c.APIKeys = splitKeys(v)
	}
	if v := getenv(EnvModel); v != "" {
		c.Session.Model = v
	}
	if v := getenv(EnvVoice); v != "" {
		c.Session.Voice = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Auth {
	case AuthKey, "":
		if len(c.APIKeys) == 0 {
			return ErrNoAPIKey
		}
	case AuthOAuth:
		if c.OAuth.TokenFile != "" && c.OAuth.ClientID == "" {
			return fmt.Errorf("%w: oauth token_file needs client_id", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown auth %q", ErrInvalid, c.Auth)
	}
	if c.Reconnect.MaxRetries < 0 {
		return fmt.Errorf("%w: reconnect.max_retries must not be negative", ErrInvalid)
	}
	if c.Reconnect.BaseDelay <= 0 || c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("%w: reconnect delays must satisfy 0 < base_delay <= max_delay", ErrInvalid)
	}
	if fi := c.Video.FrameInterval; fi < 500*time.Millisecond || fi > 2*time.Second {
		return fmt.Errorf("%w: video.frame_interval must be between 500ms and 2s", ErrInvalid)
	}
	return nil
}

// RecordKey updates KeyIndex to point at key. It reports whether the index
// changed, so callers only save when needed.
func (c *Config) RecordKey(key string) bool {
	for i, k := range c.APIKeys {
		if k == key {
			if c.KeyIndex == i {
				return false
			}
			c.KeyIndex = i
			return true
		}
	}
	return false
}

// Save writes c to path with owner-only permissions, creating the
// directory if needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("config: replace %s: %w", path, err)
	}
	return nil
}
