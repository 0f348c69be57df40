package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Reconnect.MaxRetries != 5 || c.Reconnect.BaseDelay != time.Second || c.Reconnect.MaxDelay != 30*time.Second {
		t.Errorf("reconnect = %+v", c.Reconnect)
	}
	if c.Session.Model == "" || c.Video.FrameInterval != time.Second {
		t.Errorf("defaults not applied: %+v", c)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	data := []byte(`
api_keys: [a, b]
key_index: 1
session:
  model: custom-model
  voice: Puck
reconnect:
  max_retries: 3
  base_delay: 500ms
  max_delay: 10s
video:
  frame_interval: 2s
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.APIKeys) != 2 || c.KeyIndex != 1 {
		t.Errorf("keys = %v index %d", c.APIKeys, c.KeyIndex)
	}
	if c.Session.Model != "custom-model" || c.Session.Voice != "Puck" {
		t.Errorf("session = %+v", c.Session)
	}
	if c.Reconnect.BaseDelay != 500*time.Millisecond || c.Reconnect.MaxDelay != 10*time.Second {
		t.Errorf("reconnect = %+v", c.Reconnect)
	}
	if c.Video.FrameInterval != 2*time.Second {
		t.Errorf("frame interval = %v", c.Video.FrameInterval)
	}
	// Unset sections keep their defaults.
	if c.Web.Addr == "" {
		t.Error("web defaults lost")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("session: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAPIKey:   " k1, ,k2 ",
		EnvModel:    "env-model",
		EnvVoice:    "Kore",
		EnvLogLevel: "debug",
	}
	c := Default()
	c.APIKeys = []string{"from-file"}
	c.ApplyEnv(func(k string) string { return env[k] })

	if len(c.APIKeys) != 2 || c.APIKeys[0] != "k1" || c.APIKeys[1] != "k2" {
		t.Errorf("keys = %v", c.APIKeys)
	}
	if c.Session.Model != "env-model" || c.Session.Voice != "Kore" || c.LogLevel != "debug" {
		t.Errorf("config = %+v", c)
	}

	c.ApplyEnv(func(string) string { return "" })
	if len(c.APIKeys) != 2 {
		t.Error("empty env must not clear values")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(c *Config) {}, nil},
		{"no key", func(c *Config) { c.APIKeys = nil }, ErrNoAPIKey},
		{"oauth without key", func(c *Config) { c.APIKeys = nil; c.Auth = AuthOAuth }, nil},
		{"oauth token without client", func(c *Config) { c.Auth = AuthOAuth; c.OAuth.TokenFile = "t.json" }, ErrInvalid},
		{"unknown auth", func(c *Config) { c.Auth = "magic" }, ErrInvalid},
		{"negative retries", func(c *Config) { c.Reconnect.MaxRetries = -1 }, ErrInvalid},
		{"base above max", func(c *Config) { c.Reconnect.BaseDelay = time.Minute }, ErrInvalid},
		{"frame interval too fast", func(c *Config) { c.Video.FrameInterval = 100 * time.Millisecond }, ErrInvalid},
		{"frame interval too slow", func(c *Config) { c.Video.FrameInterval = 3 * time.Second }, ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.APIKeys = []string{"k"}
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecordKeyAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), DirName, FileName)
	c := Default()
	c.APIKeys = []string{"k1", "k2", "k3"}

	if c.RecordKey("k1") {
		t.Error("recording the current key should not change anything")
	}
	if !c.RecordKey("k3") || c.KeyIndex != 2 {
		t.Errorf("KeyIndex = %d, want 2", c.KeyIndex)
	}
	if c.RecordKey("unknown") {
		t.Error("unknown key should be ignored")
	}

	if err := c.Save(path); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", fi.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.KeyIndex != 2 || len(loaded.APIKeys) != 3 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Reconnect.MaxDelay != 30*time.Second {
		t.Errorf("durations should round-trip, got %v", loaded.Reconnect.MaxDelay)
	}
}
