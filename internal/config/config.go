package config

import (
	"log"
	"os"
	"strconv"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AnthropicAPIKey string  `yaml:"anthropic_api_key"`
	LLMModel        string  `yaml:"llm_model"`
	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	MaxRetries      int     `yaml:"max_retries"`
	CallTimeoutSecs int     `yaml:"call_timeout_seconds"`

	CacheTTLHours       int     `yaml:"cache_ttl_hours"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	SweepBatchSize       int    `yaml:"sweep_batch_size"`
	SweepSchedule        string `yaml:"sweep_schedule"`
	DailySummarySchedule string `yaml:"daily_summary_schedule"`
	SummarizeTopicsDaily bool   `yaml:"summarize_topics_daily"`
	WorkerCount          int    `yaml:"worker_count"`

	PriceInPer1K  float64 `yaml:"price_in_per_1k"`
	PriceOutPer1K float64 `yaml:"price_out_per_1k"`

	DBPath   string `yaml:"db_path"`
	HTTPAddr string `yaml:"http_addr"`

	SlackBotToken string `yaml:"slack_bot_token"`
	OpsChannelID  string `yaml:"ops_channel_id"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverrideFloat(&cfg.Temperature, "TEMPERATURE")
	envOverrideInt(&cfg.MaxOutputTokens, "MAX_OUTPUT_TOKENS")
	envOverrideInt(&cfg.MaxRetries, "MAX_RETRIES")
	envOverrideInt(&cfg.CallTimeoutSecs, "CALL_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.CacheTTLHours, "CACHE_TTL_HOURS")
	envOverrideFloat(&cfg.SimilarityThreshold, "SIMILARITY_THRESHOLD")
	envOverrideInt(&cfg.SweepBatchSize, "SWEEP_BATCH_SIZE")
	envOverride(&cfg.SweepSchedule, "SWEEP_SCHEDULE")
	envOverride(&cfg.DailySummarySchedule, "DAILY_SUMMARY_SCHEDULE")
	envOverrideInt(&cfg.WorkerCount, "WORKER_COUNT")
	envOverrideFloat(&cfg.PriceInPer1K, "PRICE_IN_PER_1K")
	envOverrideFloat(&cfg.PriceOutPer1K, "PRICE_OUT_PER_1K")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.HTTPAddr, "HTTP_ADDR")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.OpsChannelID, "OPS_CHANNEL_ID")

	// Defaults
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = 2048
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.CallTimeoutSecs == 0 {
		cfg.CallTimeoutSecs = 90
	}
	if cfg.CacheTTLHours == 0 {
		cfg.CacheTTLHours = 24
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.70
	}
	if cfg.SweepBatchSize == 0 {
		cfg.SweepBatchSize = 50
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "*/5 * * * *"
	}
	if cfg.DailySummarySchedule == "" {
		cfg.DailySummarySchedule = "0 2 * * *"
	}
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = 2
	}
	if cfg.PriceInPer1K == 0 {
		cfg.PriceInPer1K = 0.003
	}
	if cfg.PriceOutPer1K == 0 {
		cfg.PriceOutPer1K = 0.015
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./feedbackd.db"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	// Validate required fields
	if cfg.AnthropicAPIKey == "" {
		log.Fatalf("Required config 'anthropic_api_key' is not set (via config.yaml or env var)")
	}

	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		log.Fatalf("invalid similarity_threshold '%f': must be between 0 and 1", cfg.SimilarityThreshold)
	}
	if cfg.SweepBatchSize < 1 {
		log.Fatalf("invalid sweep_batch_size '%d': must be >= 1", cfg.SweepBatchSize)
	}
	if cfg.WorkerCount < 1 {
		log.Fatalf("invalid worker_count '%d': must be >= 1", cfg.WorkerCount)
	}
	if cfg.MaxRetries < 0 {
		log.Fatalf("invalid max_retries '%d': must be >= 0", cfg.MaxRetries)
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		log.Fatalf("invalid temperature '%f': must be between 0 and 1", cfg.Temperature)
	}
	if cfg.PriceInPer1K < 0 || cfg.PriceOutPer1K < 0 {
		log.Fatalf("invalid pricing: price_in_per_1k and price_out_per_1k must be >= 0")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(cfg.SweepSchedule); err != nil {
		log.Fatalf("invalid sweep_schedule '%s': %v", cfg.SweepSchedule, err)
	}
	if _, err := parser.Parse(cfg.DailySummarySchedule); err != nil {
		log.Fatalf("invalid daily_summary_schedule '%s': %v", cfg.DailySummarySchedule, err)
	}

	if (cfg.SlackBotToken == "") != (cfg.OpsChannelID == "") {
		log.Fatalf("slack_bot_token and ops_channel_id must be set together")
	}

	return cfg
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.OpsChannelID != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
