// Package config provides configuration management for TalkyTalky
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Connection ConnectionConfig `mapstructure:"connection"`
	STT        STTConfig        `mapstructure:"stt"`
	LLM        LLMConfig        `mapstructure:"llm"`
	TTS        TTSConfig        `mapstructure:"tts"`
	Action     ActionConfig     `mapstructure:"action"`
	Frontend   FrontendConfig   `mapstructure:"frontend"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"` // empty: console only
}

// ConnectionConfig holds the connection-lifecycle knobs shared by every capability
type ConnectionConfig struct {
	AcceptTimeout time.Duration `mapstructure:"accept_timeout"` // bounded wait per accept poll
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// STTConfig configures the speech-to-text capability
type STTConfig struct {
	Addr       string   `mapstructure:"addr"`
	RecvBufLen int      `mapstructure:"recv_buf_len"`
	Engine     string   `mapstructure:"engine"` // openai, command
	Model      string   `mapstructure:"model"`
	Language   string   `mapstructure:"language"`
	BaseURL    string   `mapstructure:"base_url"`
	APIKey     string   `mapstructure:"api_key"`
	Command    []string `mapstructure:"command"` // argv; the WAV path is appended
}

// LLMConfig configures the language-model capability
type LLMConfig struct {
	Addr         string  `mapstructure:"addr"`
	RecvBufLen   int     `mapstructure:"recv_buf_len"`
	Engine       string  `mapstructure:"engine"` // openai, echo
	Model        string  `mapstructure:"model"`
	BaseURL      string  `mapstructure:"base_url"`
	APIKey       string  `mapstructure:"api_key"`
	SystemPrompt string  `mapstructure:"system_prompt"`
	Temperature  float32 `mapstructure:"temperature"`
	MaxExchanges int     `mapstructure:"max_exchanges"`
	// InactivityTimeout forgets the conversation after this much silence. Zero keeps it.
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
}

// TTSConfig configures the speech-synthesis capability
type TTSConfig struct {
	Addr       string   `mapstructure:"addr"`
	RecvBufLen int      `mapstructure:"recv_buf_len"`
	Engine     string   `mapstructure:"engine"`  // command, openai
	Command    []string `mapstructure:"command"` // argv; the text is appended
	Voice      string   `mapstructure:"voice"`
	Model      string   `mapstructure:"model"`
	BaseURL    string   `mapstructure:"base_url"`
	APIKey     string   `mapstructure:"api_key"`
	Player     []string `mapstructure:"player"` // argv; the audio file path is appended
}

// ActionConfig configures the action (avatar animation) capability
type ActionConfig struct {
	Addr         string `mapstructure:"addr"`
	RecvBufLen   int    `mapstructure:"recv_buf_len"`
	FPS          int    `mapstructure:"fps"`
	FrameLen     int    `mapstructure:"frame_len"`
	FramesDir    string `mapstructure:"frames_dir"`
	FrontendAddr string `mapstructure:"frontend_addr"` // UDP animation frontend
	MonitorAddr  string `mapstructure:"monitor_addr"`  // empty: monitor disabled
}

// FrontendConfig configures the dialogue front end
type FrontendConfig struct {
	InboxDir    string `mapstructure:"inbox_dir"` // empty: read WAV paths from stdin
	RemoveAfter bool   `mapstructure:"remove_after"`
	Apology     string `mapstructure:"apology"`
	Quiet       bool   `mapstructure:"quiet"` // discard capability process output
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Connection: ConnectionConfig{
			AcceptTimeout: 1 * time.Second,
			MaxRetries:    5,
			RetryDelay:    1 * time.Second,
		},
		STT: STTConfig{
			Addr:       "127.0.0.1:12344",
			RecvBufLen: 4096,
			Engine:     "openai",
			Model:      "whisper-1",
			Language:   "en",
			Command:    []string{"whisper-cli", "-nt", "-np", "-f"},
		},
		LLM: LLMConfig{
			Addr:         "127.0.0.1:12345",
			RecvBufLen:   4096,
			Engine:       "openai",
			Model:        "gpt-4o-mini",
			Temperature:  0,
			MaxExchanges: 10,
		},
		TTS: TTSConfig{
			Addr:       "127.0.0.1:12347",
			RecvBufLen: 4096,
			Engine:     "command",
			Command:    []string{"espeak"},
			Voice:      "alloy",
			Model:      "tts-1",
			Player:     []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
		},
		Action: ActionConfig{
			Addr:         "127.0.0.1:12346",
			RecvBufLen:   4096,
			FPS:          24,
			FrameLen:     1785,
			FramesDir:    filepath.Join("action", "openseeface"),
			FrontendAddr: "127.0.0.1:11573",
		},
		Frontend: FrontendConfig{
			RemoveAfter: true,
			Apology:     "Sorry, I can't hear you clearly. Please try again.",
		},
	}
}

// Settings returns the configuration as a nested map keyed like the YAML file.
// Durations are rendered as strings so the map round-trips through Load.
func (c *Config) Settings() map[string]interface{} {
	return map[string]interface{}{
		"log": map[string]interface{}{
			"level": c.Log.Level,
			"dir":   c.Log.Dir,
		},
		"connection": map[string]interface{}{
			"accept_timeout": c.Connection.AcceptTimeout.String(),
			"max_retries":    c.Connection.MaxRetries,
			"retry_delay":    c.Connection.RetryDelay.String(),
		},
		"stt": map[string]interface{}{
			"addr":         c.STT.Addr,
			"recv_buf_len": c.STT.RecvBufLen,
			"engine":       c.STT.Engine,
			"model":        c.STT.Model,
			"language":     c.STT.Language,
			"base_url":     c.STT.BaseURL,
			"api_key":      c.STT.APIKey,
			"command":      c.STT.Command,
		},
		"llm": map[string]interface{}{
			"addr":               c.LLM.Addr,
			"recv_buf_len":       c.LLM.RecvBufLen,
			"engine":             c.LLM.Engine,
			"model":              c.LLM.Model,
			"base_url":           c.LLM.BaseURL,
			"api_key":            c.LLM.APIKey,
			"system_prompt":      c.LLM.SystemPrompt,
			"temperature":        c.LLM.Temperature,
			"max_exchanges":      c.LLM.MaxExchanges,
			"inactivity_timeout": c.LLM.InactivityTimeout.String(),
		},
		"tts": map[string]interface{}{
			"addr":         c.TTS.Addr,
			"recv_buf_len": c.TTS.RecvBufLen,
			"engine":       c.TTS.Engine,
			"command":      c.TTS.Command,
			"voice":        c.TTS.Voice,
			"model":        c.TTS.Model,
			"base_url":     c.TTS.BaseURL,
			"api_key":      c.TTS.APIKey,
			"player":       c.TTS.Player,
		},
		"action": map[string]interface{}{
			"addr":          c.Action.Addr,
			"recv_buf_len":  c.Action.RecvBufLen,
			"fps":           c.Action.FPS,
			"frame_len":     c.Action.FrameLen,
			"frames_dir":    c.Action.FramesDir,
			"frontend_addr": c.Action.FrontendAddr,
			"monitor_addr":  c.Action.MonitorAddr,
		},
		"frontend": map[string]interface{}{
			"inbox_dir":    c.Frontend.InboxDir,
			"remove_after": c.Frontend.RemoveAfter,
			"apology":      c.Frontend.Apology,
			"quiet":        c.Frontend.Quiet,
		},
	}
}

// Validate checks the values the connection and actor layers cannot work without.
func (c *Config) Validate() error {
	var errs []error
	if c.Connection.AcceptTimeout <= 0 {
		errs = append(errs, errors.New("connection.accept_timeout must be positive"))
	}
	if c.Connection.MaxRetries <= 0 {
		errs = append(errs, errors.New("connection.max_retries must be positive"))
	}
	for name, n := range map[string]int{
		"stt.recv_buf_len":    c.STT.RecvBufLen,
		"llm.recv_buf_len":    c.LLM.RecvBufLen,
		"tts.recv_buf_len":    c.TTS.RecvBufLen,
		"action.recv_buf_len": c.Action.RecvBufLen,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Action.FPS <= 0 {
		errs = append(errs, errors.New("action.fps must be positive"))
	}
	if c.Action.FrameLen <= 0 {
		errs = append(errs, errors.New("action.frame_len must be positive"))
	}
	return errors.Join(errs...)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".talkytalky"), nil
}

// LoadEnv loads API keys from .env files into the process environment.
// Variables already set are left alone.
func LoadEnv() []string {
	var paths []string
	if dir, err := GetConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, ".env"))
	}
	paths = append(paths, ".env")

	var loaded []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err == nil {
			loaded = append(loaded, p)
		}
	}
	return loaded
}

// Load reads configuration from file and environment.
// An empty path searches ~/.talkytalky/config.yaml then ./config.yaml.
// A missing file, searched for or named, is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, "", cfg.Settings())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := GetConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TALKYTALKY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	// Shared OpenAI key for every back-end that did not set its own
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		for _, k := range []*string{&cfg.STT.APIKey, &cfg.LLM.APIKey, &cfg.TTS.APIKey} {
			if *k == "" {
				*k = key
			}
		}
	}

	return cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper, prefix string, settings map[string]interface{}) {
	for k, val := range settings {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]interface{}); ok {
			setDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, val)
	}
}

// Marshal renders the configuration as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg.Settings())
}

// Save writes the configuration to path, or to ~/.talkytalky/config.yaml
// when path is empty.
func Save(cfg *Config, path string) (string, error) {
	if path == "" {
		dir, err := GetConfigDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(dir, "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}

	data, err := Marshal(cfg)
	if err != nil {
		return "", err
	}
	return path, os.WriteFile(path, data, 0644)
}
