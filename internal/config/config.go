package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

const appName = "transcribe"

type Config struct {
	Transcribe TranscribeConfig `toml:"transcribe"`
	Log        LogConfig        `toml:"log"`
}

type TranscribeConfig struct {
	Backend string        `toml:"backend"`
	Model   string        `toml:"model"`
	Whisper WhisperConfig `toml:"whisper"`
	OpenAI  OpenAIConfig  `toml:"openai"`
}

// WhisperConfig configures the local whisper backend. Binary may be the
// openai-whisper CLI or a whisper.cpp build; ModelPath only applies to the
// latter and overrides the ggml file lookup.
type WhisperConfig struct {
	Binary    string `toml:"binary"`
	ModelPath string `toml:"model_path"`
}

type OpenAIConfig struct {
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

var (
	backends  = []string{"whisper", "openai"}
	logLevels = []string{"debug", "info", "warn", "error"}
)

func Default() *Config {
	return &Config{
		Transcribe: TranscribeConfig{
			Backend: "whisper",
			Model:   "small",
			Whisper: WhisperConfig{Binary: "whisper"},
			OpenAI:  OpenAIConfig{Model: "whisper-1"},
		},
		Log: LogConfig{Level: "warn"},
	}
}

// Path returns the default config file location.
func Path() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, appName, "config.toml")
}

func Load() (*Config, error) {
	path := Path()
	if path == "" {
		return Default(), nil
	}
	return LoadFrom(path)
}

func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set are left untouched and a missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("error loading %s: %w", path, err)
	}
	return nil
}

func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		c.Transcribe.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.Transcribe.OpenAI.BaseURL = v
	}
	if v := os.Getenv("TRANSCRIBE_MODEL"); v != "" {
		c.Transcribe.Model = v
	}
	if v := os.Getenv("TRANSCRIBE_BACKEND"); v != "" {
		c.Transcribe.Backend = v
	}
	if v := os.Getenv("WHISPER_BINARY"); v != "" {
		c.Transcribe.Whisper.Binary = v
	}
}

func (c *Config) Validate() error {
	if !slices.Contains(backends, c.Transcribe.Backend) {
		return fmt.Errorf("unknown backend %q (want one of %s)", c.Transcribe.Backend, strings.Join(backends, ", "))
	}
	if c.Transcribe.Model == "" {
		return errors.New("model tier must not be empty")
	}
	if !slices.Contains(logLevels, c.Log.Level) {
		return fmt.Errorf("unknown log level %q (want one of %s)", c.Log.Level, strings.Join(logLevels, ", "))
	}
	return nil
}

// ResolveModelPath expands a leading "~/" in the whisper.cpp model path.
func (c *Config) ResolveModelPath() string {
	p := c.Transcribe.Whisper.ModelPath
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	return p
}
