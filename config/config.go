package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// EmbeddingConfig selects and configures the embedding provider used by the
// retrieval index. Provider may be "ollama", "openai", or "" (disabled).
type EmbeddingConfig struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`  // OpenAI only
	BaseURL  string `yaml:"base_url,omitempty"` // optional endpoint override
}

// SearchConfig tunes hybrid retrieval over the chunk index.
type SearchConfig struct {
	Disabled            bool     `yaml:"disabled,omitempty"`
	ChunkTargetSize     int      `yaml:"chunk_target_size,omitempty"`
	VectorWeight        float64  `yaml:"vector_weight,omitempty"`
	TextWeight          float64  `yaml:"text_weight,omitempty"`
	CandidateMultiplier int      `yaml:"candidate_multiplier,omitempty"`
	MinScore            float64  `yaml:"min_score,omitempty"`
	MaxResults          int      `yaml:"max_results,omitempty"`
	ExtraPaths          []string `yaml:"extra_paths,omitempty"` // extra memory files or directories
}

// SleepConfig governs when and how conversation history is compressed.
type SleepConfig struct {
	Threshold           float64 `yaml:"threshold,omitempty"`             // fraction of the context window, (0,1]
	CooldownMinutes     int     `yaml:"cooldown_minutes,omitempty"`      // min minutes between sleeps
	MinMessagesToSleep  int     `yaml:"min_messages_to_sleep,omitempty"` // don't sleep tiny conversations
	KeepRecentMessages  int     `yaml:"keep_recent_messages,omitempty"`  // verbatim tail for sliding window
	CompressionStrategy string  `yaml:"compression_strategy,omitempty"`  // sliding-window | importance | progressive | hybrid
	ReserveTokensFloor  int     `yaml:"reserve_tokens_floor,omitempty"`  // tokens left free for the model's reply
	SoftThresholdTokens int     `yaml:"soft_threshold_tokens,omitempty"` // absolute token trigger, 0 = disabled
}

// LegacyFlushConfig is the deprecated memory_flush block. It is read only to
// migrate old config files onto the canonical sleep block; it is never
// consulted after load.
type LegacyFlushConfig struct {
	Threshold           float64 `yaml:"threshold,omitempty"`
	CooldownMinutes     int     `yaml:"cooldown_minutes,omitempty"`
	MinMessages         int     `yaml:"min_messages,omitempty"`
	SoftThresholdTokens int     `yaml:"soft_threshold_tokens,omitempty"`
}

// ClassifierConfig selects the real-time extraction classifier.
// Provider may be "keyword" (default, deterministic) or "anthropic".
type ClassifierConfig struct {
	Provider  string `yaml:"provider,omitempty"`
	Model     string `yaml:"model,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty"`
}

// SummarizerConfig selects the compression summarizer.
// Provider may be "extractive" (default, deterministic) or "ollama".
type SummarizerConfig struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// Config is the root configuration for the memory engine.
type Config struct {
	// MemoryRoot is the workspace directory holding MEMORY.md, memory/ and
	// the per-store JSON files. Defaults to the current directory.
	MemoryRoot string `yaml:"memory_root,omitempty"`
	// IndexPath overrides the SQLite index location.
	// Defaults to {memory_root}/memory-index.db.
	IndexPath string `yaml:"index_path,omitempty"`
	// ContextWindow is the model context window in tokens, used by the
	// sleep trigger.
	ContextWindow int `yaml:"context_window,omitempty"`
	// SyncSchedule is a cron expression for periodic index sync.
	SyncSchedule string `yaml:"sync_schedule,omitempty"`

	Embedding  EmbeddingConfig  `yaml:"embedding,omitempty"`
	Search     SearchConfig     `yaml:"search,omitempty"`
	Sleep      SleepConfig      `yaml:"sleep,omitempty"`
	Classifier ClassifierConfig `yaml:"classifier,omitempty"`
	Summarizer SummarizerConfig `yaml:"summarizer,omitempty"`

	// Deprecated: migrated into Sleep at load time.
	MemoryFlush *LegacyFlushConfig `yaml:"memory_flush,omitempty"`
}

// Defaults returns the baseline configuration before any file is merged in.
func Defaults() Config {
	return Config{
		MemoryRoot:    ".",
		ContextWindow: 128000,
		SyncSchedule:  "@every 5m",
		Embedding: EmbeddingConfig{
			Provider: "ollama",
			Model:    "mxbai-embed-large",
		},
		Search: SearchConfig{
			ChunkTargetSize:     400,
			VectorWeight:        0.7,
			TextWeight:          0.3,
			CandidateMultiplier: 3,
			MinScore:            0.3,
			MaxResults:          8,
		},
		Sleep: SleepConfig{
			Threshold:           0.75,
			CooldownMinutes:     15,
			MinMessagesToSleep:  8,
			KeepRecentMessages:  10,
			CompressionStrategy: "hybrid",
			ReserveTokensFloor:  4096,
		},
		Classifier: ClassifierConfig{
			Provider:  "keyword",
			MaxTokens: 512,
		},
		Summarizer: SummarizerConfig{
			Provider: "extractive",
			Model:    "llama3.2:3b",
		},
	}
}

// GetConfigPath returns the default config file path.
// Can be overridden via MNEMOD_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("MNEMOD_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.mnemod/config.yaml"
	}
	return filepath.Join(homeDir, ".mnemod", "config.yaml")
}

// Load reads the config file at path (if it exists) and merges it over the
// defaults. A missing file is not an error; a malformed file is.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	expanded := expandPath(path)
	data, err := os.ReadFile(expanded) //#nosec G304 -- intentional file read for config
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config from %q: %w", expanded, err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", expanded, err)
	}

	if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}

	migrateLegacyFlush(&cfg)
	cfg.MemoryRoot = expandPath(cfg.MemoryRoot)
	if cfg.IndexPath == "" {
		cfg.IndexPath = filepath.Join(cfg.MemoryRoot, "memory-index.db")
	} else {
		cfg.IndexPath = expandPath(cfg.IndexPath)
	}
	return &cfg, nil
}

// Save writes the configuration to the specified path.
func Save(cfg *Config, path string) error {
	expanded := expandPath(path)

	if err := os.MkdirAll(filepath.Dir(expanded), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expanded, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// migrateLegacyFlush maps a deprecated memory_flush block onto the canonical
// sleep block. Fields the user set explicitly under sleep win; legacy values
// only fill gaps left at their zero value.
func migrateLegacyFlush(cfg *Config) {
	legacy := cfg.MemoryFlush
	if legacy == nil {
		return
	}
	if cfg.Sleep.Threshold == Defaults().Sleep.Threshold && legacy.Threshold > 0 {
		cfg.Sleep.Threshold = legacy.Threshold
	}
	if cfg.Sleep.CooldownMinutes == Defaults().Sleep.CooldownMinutes && legacy.CooldownMinutes > 0 {
		cfg.Sleep.CooldownMinutes = legacy.CooldownMinutes
	}
	if cfg.Sleep.MinMessagesToSleep == Defaults().Sleep.MinMessagesToSleep && legacy.MinMessages > 0 {
		cfg.Sleep.MinMessagesToSleep = legacy.MinMessages
	}
	if cfg.Sleep.SoftThresholdTokens == 0 && legacy.SoftThresholdTokens > 0 {
		cfg.Sleep.SoftThresholdTokens = legacy.SoftThresholdTokens
	}
	cfg.MemoryFlush = nil
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
