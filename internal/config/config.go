// Package config provides configuration loading for golisten.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"

	. "github.com/roelfdiedericks/golisten/internal/logging"
	"github.com/roelfdiedericks/golisten/internal/paths"
)

// Config represents the merged golisten configuration
type Config struct {
	StateDir  string          `toml:"state_dir"`
	Log       LogConfig       `toml:"log"`
	Capture   CaptureConfig   `toml:"capture"`
	Indicator IndicatorConfig `toml:"indicator"`
	STT       STTConfig       `toml:"stt"`
	Worker    WorkerConfig    `toml:"worker"`
	History   HistoryConfig   `toml:"history"`
	Cleanup   CleanupConfig   `toml:"cleanup"`
	Notify    NotifyConfig    `toml:"notify"`

	// Path the config was loaded from, empty when running on defaults.
	Source string `toml:"-"`
}

type LogConfig struct {
	Level string `toml:"level"` // trace, debug, info, warn, error
	File  string `toml:"file"`
}

// CaptureConfig describes the external audio-capture program.
// Args is a template; {rate}, {channels}, {bits} and {output} are substituted.
type CaptureConfig struct {
	Binary       string        `toml:"binary"`
	Args         []string      `toml:"args"`
	SampleRate   int           `toml:"sample_rate"`
	Channels     int           `toml:"channels"`
	BitDepth     int           `toml:"bit_depth"`
	StartPolls   int           `toml:"start_polls"`
	StartPollGap time.Duration `toml:"start_poll_interval"`
	StopTimeout  time.Duration `toml:"stop_timeout"`
}

// IndicatorConfig describes the optional level-meter subprocess.
// An empty Binary skips the indicator; "self" runs this executable's meter
// subcommand.
type IndicatorConfig struct {
	Disabled    bool          `toml:"disabled"`
	Binary      string        `toml:"binary"`
	Args        []string      `toml:"args"`
	StopPolls   int           `toml:"stop_polls"`
	StopPollGap time.Duration `toml:"stop_poll_interval"`
}

type STTConfig struct {
	Provider   string           `toml:"provider"` // whispercli, whispercpp, openai, groq, google, daemon
	Language   string           `toml:"language"`
	Fallback   string           `toml:"fallback"`   // local provider used when the worker is unreachable
	ModelsDir  string           `toml:"models_dir"` // download target for `golisten models`
	WhisperCLI WhisperCLIConfig `toml:"whispercli"`
	WhisperCpp WhisperCppConfig `toml:"whispercpp"`
	OpenAI     OpenAIConfig     `toml:"openai"`
	Groq       OpenAIConfig     `toml:"groq"`
	Google     GoogleConfig     `toml:"google"`
}

type WhisperCLIConfig struct {
	Binary string `toml:"binary"`
	Model  string `toml:"model"`
}

type WhisperCppConfig struct {
	Model   string `toml:"model"`
	Threads uint   `toml:"threads"`
}

type OpenAIConfig struct {
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"`
}

type GoogleConfig struct {
	APIKey       string `toml:"api_key"`
	LanguageCode string `toml:"language_code"` // e.g. en-US
}

type WorkerConfig struct {
	Socket      string        `toml:"socket"`
	Timeout     time.Duration `toml:"timeout"`
	PIDFile     string        `toml:"pid_file"`
	LogFile     string        `toml:"log_file"`
	IdleTimeout time.Duration `toml:"idle_timeout"` // 0 = never
}

type HistoryConfig struct {
	Path string `toml:"path"`
}

type CleanupConfig struct {
	APIKey    string `toml:"api_key"`
	KeyFile   string `toml:"key_file"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
}

type NotifyConfig struct {
	Silent       bool   `toml:"silent"`
	NoPaste      bool   `toml:"no_paste"`
	StartSound   string `toml:"start_sound"`
	StopSound    string `toml:"stop_sound"`
	DoneSound    string `toml:"done_sound"`
	ErrorSound   string `toml:"error_sound"`
	WarningSound string `toml:"warning_sound"`
}

// Default returns the built-in configuration.
func Default() *Config {
	stateDir := paths.DefaultStateDir()
	historyPath, err := paths.DataPath("history.db")
	if err != nil {
		historyPath = filepath.Join(stateDir, "history.db")
	}
	keyFile := "~/.config/golisten_anthropic_key"

	return &Config{
		StateDir: stateDir,
		Log: LogConfig{
			Level: "warn",
		},
		Capture: CaptureConfig{
			Binary:       "rec",
			Args:         []string{"-q", "-r", "{rate}", "-c", "{channels}", "-b", "{bits}", "{output}"},
			SampleRate:   16000,
			Channels:     1,
			BitDepth:     16,
			StartPolls:   20,
			StartPollGap: 10 * time.Millisecond,
			StopTimeout:  3 * time.Second,
		},
		Indicator: IndicatorConfig{
			StopPolls:   40,
			StopPollGap: 50 * time.Millisecond,
		},
		STT: STTConfig{
			Provider:  "whispercli",
			Language:  "en",
			Fallback:  "whispercli",
			ModelsDir: "~/.golisten/models",
			WhisperCLI: WhisperCLIConfig{
				Binary: "whisper-cli",
				Model:  "~/.golisten/models/ggml-large-v3-turbo-q5_0.bin",
			},
			WhisperCpp: WhisperCppConfig{
				Model: "~/.golisten/models/ggml-large-v3-turbo-q5_0.bin",
			},
			OpenAI: OpenAIConfig{
				Model: "whisper-1",
			},
			Groq: OpenAIConfig{
				Model:   "whisper-large-v3-turbo",
				BaseURL: "https://api.groq.com/openai/v1",
			},
			Google: GoogleConfig{
				LanguageCode: "en-US",
			},
		},
		Worker: WorkerConfig{
			Socket:  filepath.Join(stateDir, "worker.sock"),
			Timeout: 2 * time.Minute,
			PIDFile: filepath.Join(stateDir, "worker.pid"),
			LogFile: filepath.Join(stateDir, "worker.log"),
		},
		History: HistoryConfig{
			Path: historyPath,
		},
		Cleanup: CleanupConfig{
			KeyFile:   keyFile,
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
		},
		Notify: NotifyConfig{
			StartSound:   "Ping",
			StopSound:    "Tink",
			DoneSound:    "Glass",
			ErrorSound:   "Basso",
			WarningSound: "Sosumi",
		},
	}
}

// WithDefaults fills every zero-valued field of c from Default().
// Booleans are all phrased so that false is the default.
func (c *Config) WithDefaults() *Config {
	if err := mergo.Merge(c, Default()); err != nil {
		L_warn("config: merging defaults failed", "error", err)
	}
	return c
}

// Load reads configuration from golisten.toml (see paths.ConfigPath),
// applies GOLISTEN_* environment overrides and expands ~ in paths.
// A missing config file is not an error.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file. An empty path means the
// usual lookup; a named file must exist.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		found, err := paths.ConfigPath()
		if err != nil {
			return nil, err
		}
		path = found
	}
	if path != "" {
		defaultDir := cfg.StateDir
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
		if dir := cfg.StateDir; dir != defaultDir {
			cfg.StateDir = defaultDir
			cfg.SetStateDir(dir)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile decodes a TOML file onto cfg. Keys absent from the file keep
// whatever value cfg already had.
func LoadFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		L_warn("config: unknown key", "key", key.String(), "file", path)
	}
	cfg.Source = path
	L_debug("config: loaded", "path", path)
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GOLISTEN_STATE_DIR"); v != "" {
		cfg.SetStateDir(v)
	}
	if v := os.Getenv("GOLISTEN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("GOLISTEN_STT_PROVIDER"); v != "" {
		cfg.STT.Provider = v
	}
	if v := os.Getenv("GOLISTEN_CAPTURE_BINARY"); v != "" {
		cfg.Capture.Binary = v
	}
	if v := os.Getenv("GOLISTEN_INDICATOR_DISABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Indicator.Disabled = b
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.STT.OpenAI.APIKey == "" {
		cfg.STT.OpenAI.APIKey = v
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" && cfg.STT.Groq.APIKey == "" {
		cfg.STT.Groq.APIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" && cfg.STT.Google.APIKey == "" {
		cfg.STT.Google.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Cleanup.APIKey == "" {
		cfg.Cleanup.APIKey = v
	}
}

// SetStateDir moves the state dir, along with any worker files that were
// placed inside it.
func (c *Config) SetStateDir(dir string) {
	old := filepath.Clean(c.StateDir)
	for _, p := range []*string{&c.Worker.Socket, &c.Worker.PIDFile, &c.Worker.LogFile} {
		if filepath.Dir(*p) == old {
			*p = filepath.Join(dir, filepath.Base(*p))
		}
	}
	c.StateDir = dir
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.StateDir,
		&c.Log.File,
		&c.Capture.Binary,
		&c.Indicator.Binary,
		&c.STT.WhisperCLI.Binary,
		&c.STT.WhisperCLI.Model,
		&c.STT.WhisperCpp.Model,
		&c.STT.ModelsDir,
		&c.Worker.Socket,
		&c.Worker.PIDFile,
		&c.Worker.LogFile,
		&c.History.Path,
		&c.Cleanup.KeyFile,
	} {
		expanded, err := paths.ExpandTilde(*p)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		*p = expanded
	}
	return nil
}
