package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Specification struct {
	Provider       string  `yaml:"provider" validate:"oneof=stub openai vertexai ollama"`
	APIKey         string  `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	EmbedModel     string  `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	BaseURL        string  `yaml:"providerBaseURL" envconfig:"PROVIDER_BASE_URL"`
	ProjectID      string  `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location       string  `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`
	Dim            int     `yaml:"providerDim" envconfig:"EMBED_DIM" validate:"gte=0"`
	ChatProvider   string  `yaml:"chatProvider" split_words:"true" validate:"omitempty,oneof=stub openai vertexai ollama anthropic"`
	ChatAPIKey     string  `yaml:"chatApiKey" envconfig:"CHAT_API_KEY"`
	ChatModel      string  `yaml:"chatModel" split_words:"true"`
	ChatBaseURL    string  `yaml:"chatBaseURL" envconfig:"CHAT_BASE_URL"`
	Temperature    float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens      int     `yaml:"maxTokens" split_words:"true" validate:"gt=0"`
	HistoryTurns   int     `yaml:"historyTurns" split_words:"true" validate:"gte=0"`
	TopK           int     `yaml:"topK" envconfig:"TOP_K" validate:"gt=0"`
	RepoRoot       string  `yaml:"repoRoot" split_words:"true" validate:"required"`
	ProjectName    string  `yaml:"projectName" split_words:"true"`
	LogLevel       string  `yaml:"logLevel" split_words:"true"`
	Port           int     `yaml:"port" split_words:"true" validate:"gt=0,lt=65536"`
	ReloadSchedule string  `yaml:"reloadSchedule" split_words:"true"`

	Embedding EmbeddingSpecification `yaml:"embedding"`
	Files     FilesSpecification     `yaml:"files"`
	Store     StoreSpecification     `yaml:"store"`
	Retry     RetrySpecification     `yaml:"retry"`
	Auth      AuthSpecification      `yaml:"auth"`

	flags *pflag.FlagSet `ignored:"true"`
}

type EmbeddingSpecification struct {
	ChunkSize    int `yaml:"chunkSize" split_words:"true" validate:"gt=0"`
	ChunkOverlap int `yaml:"chunkOverlap" split_words:"true" validate:"gte=0"`
	BatchSize    int `yaml:"batchSize" split_words:"true" validate:"gt=0"`
}

type FilesSpecification struct {
	SupportedExtensions []string `yaml:"supportedExtensions" split_words:"true" validate:"min=1"`
	ExcludePatterns     []string `yaml:"excludePatterns" split_words:"true"`
}

type StoreSpecification struct {
	Backend  string `yaml:"backend" validate:"oneof=file bolt postgres"`
	DataDir  string `yaml:"dataDir" split_words:"true" validate:"required"`
	Database string `yaml:"database" envconfig:"DB_URL" validate:"required_if=Backend postgres"`
}

type RetrySpecification struct {
	MaxAttempts       int           `yaml:"maxAttempts" split_words:"true" validate:"gte=1"`
	InitialBackoff    time.Duration `yaml:"initialBackoff" split_words:"true"`
	MaxBackoff        time.Duration `yaml:"maxBackoff" split_words:"true"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" split_words:"true" validate:"gte=0"`
}

type AuthSpecification struct {
	Enabled   bool          `yaml:"enabled"`
	JwtSecret string        `yaml:"jwtSecret" split_words:"true" validate:"required_if=Enabled true"`
	TokenTTL  time.Duration `yaml:"tokenTTL" envconfig:"TOKEN_TTL"`
}

const envPrefix = "REPORAG"

var validate = validator.New()

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// EffectiveChatProvider falls back to the embedding provider when no
// separate completion provider is configured.
func (s *Specification) EffectiveChatProvider() string {
	if strings.TrimSpace(s.ChatProvider) != "" {
		return s.ChatProvider
	}
	return s.Provider
}

// Load => defaults < YAML < env < flags.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/reporag.yaml",
				"config/config.yaml",
				"./reporag.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	// env overrides config file
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	// flags override everything
	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.ChatProvider = strings.ToLower(strings.TrimSpace(cfg.ChatProvider))
	cfg.Files.SupportedExtensions = normalizeExtensions(cfg.Files.SupportedExtensions)

	if err := validate.Struct(&cfg); err != nil {
		return Specification{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

// normalizeExtensions lower-cases extensions and makes sure each starts with a dot.
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	seen := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// If --config is provided on the command line, capture it now so
	// config discovery (which runs before flags.Parse) can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Embedding provider (stub, openai, vertexai, ollama)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-embedding-model", c.EmbedModel, "Provider embedding model")
	fs.String("provider-base-url", c.BaseURL, "Provider base URL (openai-compatible proxies, ollama)")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")
	fs.Int("embed-dim", c.Dim, "Embedding dimensionality")

	fs.String("chat-provider", c.ChatProvider, "Completion provider (defaults to --provider; anthropic is completion only)")
	fs.String("chat-api-key", c.ChatAPIKey, "Completion provider API key (defaults to --provider-api-key)")
	fs.String("chat-model", c.ChatModel, "Completion model")
	fs.String("chat-base-url", c.ChatBaseURL, "Completion provider base URL")
	fs.Float32("temperature", c.Temperature, "Sampling temperature for chat answers")
	fs.Int("max-tokens", c.MaxTokens, "Maximum output tokens for chat answers")
	fs.Int("history-turns", c.HistoryTurns, "Conversation turns included in chat prompts")
	fs.Int("top-k", c.TopK, "Default number of search results")

	fs.Int("chunk-size", c.Embedding.ChunkSize, "Maximum characters per chunk")
	fs.Int("chunk-overlap", c.Embedding.ChunkOverlap, "Overlap budget in characters (lines = overlap/50)")
	fs.Int("batch-size", c.Embedding.BatchSize, "Texts per embedding request")

	fs.StringSlice("extensions", c.Files.SupportedExtensions, "File extensions to index")
	fs.StringSlice("exclude", c.Files.ExcludePatterns, "Directory names to skip")

	fs.String("store-backend", c.Store.Backend, "Vector store backend (file, bolt, postgres)")
	fs.String("data-dir", c.Store.DataDir, "Directory for vector store files")
	fs.String("db-url", c.Store.Database, "Database URL (DSN) for the postgres backend")

	fs.Int("retry-max-attempts", c.Retry.MaxAttempts, "Attempts per provider call")
	fs.Duration("retry-initial-backoff", c.Retry.InitialBackoff, "Backoff before the second attempt")
	fs.Duration("retry-max-backoff", c.Retry.MaxBackoff, "Upper bound for backoff")
	fs.Float64("requests-per-second", c.Retry.RequestsPerSecond, "Provider request rate limit (0 disables)")

	fs.String("repo-root", c.RepoRoot, "Path to the project root to index")
	fs.String("project-name", c.ProjectName, "Project name used in chat prompts")
	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.Int("port", c.Port, "API server port")
	fs.String("reload-schedule", c.ReloadSchedule, "Cron spec for reloading the vector store snapshot (empty disables)")

	fs.Bool("auth-enabled", c.Auth.Enabled, "Require bearer tokens on /api routes")
	fs.String("auth-jwt-secret", c.Auth.JwtSecret, "JWT secret for signing tokens")
	fs.Duration("auth-token-ttl", c.Auth.TokenTTL, "Lifetime of issued tokens")

	// Used later for usage/help
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			*dst = v
		}
	}
	setDur := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			v, _ := fs.GetDuration(name)
			*dst = v
		}
	}
	setSlice := func(name string, dst *[]string) {
		if fs.Changed(name) {
			v, _ := fs.GetStringSlice(name)
			*dst = v
		}
	}

	// (We ignore --config here; it's for discovery.)
	setStr("provider", &c.Provider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-embedding-model", &c.EmbedModel)
	setStr("provider-base-url", &c.BaseURL)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)
	setInt("embed-dim", &c.Dim)

	setStr("chat-provider", &c.ChatProvider)
	setStr("chat-api-key", &c.ChatAPIKey)
	setStr("chat-model", &c.ChatModel)
	setStr("chat-base-url", &c.ChatBaseURL)
	if fs.Changed("temperature") {
		v, _ := fs.GetFloat32("temperature")
		c.Temperature = v
	}
	setInt("max-tokens", &c.MaxTokens)
	setInt("history-turns", &c.HistoryTurns)
	setInt("top-k", &c.TopK)

	setInt("chunk-size", &c.Embedding.ChunkSize)
	setInt("chunk-overlap", &c.Embedding.ChunkOverlap)
	setInt("batch-size", &c.Embedding.BatchSize)

	setSlice("extensions", &c.Files.SupportedExtensions)
	setSlice("exclude", &c.Files.ExcludePatterns)

	setStr("store-backend", &c.Store.Backend)
	setStr("data-dir", &c.Store.DataDir)
	setStr("db-url", &c.Store.Database)

	setInt("retry-max-attempts", &c.Retry.MaxAttempts)
	setDur("retry-initial-backoff", &c.Retry.InitialBackoff)
	setDur("retry-max-backoff", &c.Retry.MaxBackoff)
	if fs.Changed("requests-per-second") {
		v, _ := fs.GetFloat64("requests-per-second")
		c.Retry.RequestsPerSecond = v
	}

	setStr("repo-root", &c.RepoRoot)
	setStr("project-name", &c.ProjectName)
	setStr("log-level", &c.LogLevel)
	setInt("port", &c.Port)
	setStr("reload-schedule", &c.ReloadSchedule)

	setBool("auth-enabled", &c.Auth.Enabled)
	setStr("auth-jwt-secret", &c.Auth.JwtSecret)
	setDur("auth-token-ttl", &c.Auth.TokenTTL)
}

func setDefaults(c *Specification) {
	c.LogLevel = "info"
	c.RepoRoot = "."
	c.Provider = "stub"
	c.Dim = 0
	c.Location = "us-central1"
	c.Temperature = 0.1
	c.MaxTokens = 2000
	c.HistoryTurns = 3
	c.TopK = 5
	c.Port = 3001

	c.Embedding.ChunkSize = 1000
	c.Embedding.ChunkOverlap = 200
	c.Embedding.BatchSize = 100

	c.Files.SupportedExtensions = []string{".ts", ".js", ".tsx", ".jsx", ".sql", ".py", ".md", ".txt", ".json", ".yaml", ".toml", ".go"}
	c.Files.ExcludePatterns = []string{"node_modules", "dist", "build", ".next", ".git", "coverage", "vendor", ".reporag"}

	c.Store.Backend = "file"
	c.Store.DataDir = ".reporag"

	c.Retry.MaxAttempts = 3
	c.Retry.InitialBackoff = time.Second
	c.Retry.MaxBackoff = 30 * time.Second
	c.Retry.RequestsPerSecond = 0

	c.Auth.Enabled = false
	c.Auth.TokenTTL = 24 * time.Hour
}
