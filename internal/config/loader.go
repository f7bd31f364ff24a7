package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "mailguard.yaml"

// DefaultEnvFile is the dotenv file loaded into the process environment
// before the env overlay. Variables already set are not overwritten.
const DefaultEnvFile = ".env"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	if err := loadDotEnv(DefaultEnvFile); err != nil {
		return nil, fmt.Errorf("config dotenv: %w", err)
	}
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv loads path into the environment. Returns nil if the file does
// not exist.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	// A weights map in the file replaces the default set instead of merging
	// into it, otherwise a default source could never be removed.
	var probe struct {
		Coordination struct {
			Weights map[string]float64 `yaml:"weights"`
		} `yaml:"coordination"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if probe.Coordination.Weights != nil {
		cfg.Coordination.Weights = nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "MAILGUARD_PORT")
	setString(&cfg.Server.CORSOrigin, "MAILGUARD_CORS_ORIGIN")
	setFloat64(&cfg.Server.Rate.RequestsPerSecond, "MAILGUARD_RATE_RPS")
	setInt(&cfg.Server.Rate.Burst, "MAILGUARD_RATE_BURST")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "MAILGUARD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "MAILGUARD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "MAILGUARD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "MAILGUARD_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "MAILGUARD_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.KVBucket, "MAILGUARD_NATS_KV_BUCKET")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "MAILGUARD_NARRATIVE_MODEL")
	setString(&cfg.Logging.Level, "MAILGUARD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "MAILGUARD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "MAILGUARD_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "MAILGUARD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "MAILGUARD_BREAKER_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "MAILGUARD_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L2TTL, "MAILGUARD_CACHE_L2_TTL")

	// OpenTelemetry
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "OTEL_EXPORTER_OTLP_INSECURE")

	// Coordination
	setWeights(&cfg.Coordination.Weights, "MAILGUARD_WEIGHTS")
	setFloat64(&cfg.Coordination.RiskThresholds.Critical, "MAILGUARD_THRESHOLD_CRITICAL")
	setFloat64(&cfg.Coordination.RiskThresholds.High, "MAILGUARD_THRESHOLD_HIGH")
	setFloat64(&cfg.Coordination.RiskThresholds.Medium, "MAILGUARD_THRESHOLD_MEDIUM")
	setFloat64(&cfg.Coordination.RiskThresholds.CriticalMinConfidence, "MAILGUARD_CRITICAL_MIN_CONFIDENCE")
	setInt(&cfg.Coordination.Quorum, "MAILGUARD_QUORUM")
	setDuration(&cfg.Coordination.SourceTimeout, "MAILGUARD_SOURCE_TIMEOUT")
	setDuration(&cfg.Coordination.GlobalTimeout, "MAILGUARD_GLOBAL_TIMEOUT")
	setDuration(&cfg.Coordination.NarrativeTimeout, "MAILGUARD_NARRATIVE_TIMEOUT")
	setInt(&cfg.Coordination.MaxParallel, "MAILGUARD_MAX_PARALLEL")
	setInt(&cfg.Coordination.TopK, "MAILGUARD_TOP_K")

	// Policy
	setString(&cfg.Policy.Name, "MAILGUARD_POLICY")
	setString(&cfg.Policy.Dir, "MAILGUARD_POLICY_DIR")
	setBool(&cfg.Policy.Watch, "MAILGUARD_POLICY_WATCH")

	// Approval + audit
	setDuration(&cfg.Approval.Expiry, "MAILGUARD_APPROVAL_EXPIRY")
	setDuration(&cfg.Approval.SweepInterval, "MAILGUARD_APPROVAL_SWEEP_INTERVAL")
	setPairs(&cfg.Approval.ReviewerTokens, "MAILGUARD_REVIEWER_TOKENS")
	setString(&cfg.Approval.ReviewerTokensFile, "MAILGUARD_REVIEWER_TOKENS_FILE")
	setInt(&cfg.Audit.QueueSize, "MAILGUARD_AUDIT_QUEUE_SIZE")
	setInt(&cfg.Audit.Workers, "MAILGUARD_AUDIT_WORKERS")

	// Notifiers
	setString(&cfg.Notifiers.SlackWebhookURL, "MAILGUARD_SLACK_WEBHOOK_URL")
	setString(&cfg.Notifiers.DiscordWebhookURL, "MAILGUARD_DISCORD_WEBHOOK_URL")
}

// validate checks that required fields are set and that the decision
// parameters are coherent.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Server.Rate.RequestsPerSecond <= 0 || cfg.Server.Rate.Burst < 1 {
		return errors.New("server.rate.requests_per_second must be positive and server.rate.burst >= 1")
	}
	if err := validateCoordination(&cfg.Coordination); err != nil {
		return err
	}
	if err := validateSources(cfg); err != nil {
		return err
	}
	if cfg.Policy.Name == "" {
		return errors.New("policy.name is required")
	}
	if cfg.Policy.Watch && cfg.Policy.Dir == "" {
		return errors.New("policy.watch requires policy.dir")
	}
	if cfg.Approval.Expiry <= 0 {
		return errors.New("approval.expiry must be positive")
	}
	if cfg.Approval.SweepInterval <= 0 {
		return errors.New("approval.sweep_interval must be positive")
	}
	for token, reviewer := range cfg.Approval.ReviewerTokens {
		if token == "" || reviewer == "" {
			return errors.New("approval.reviewer_tokens entries need a token and a reviewer name")
		}
	}
	if cfg.Audit.QueueSize < 1 || cfg.Audit.Workers < 1 {
		return errors.New("audit.queue_size and audit.workers must be >= 1")
	}
	return nil
}

func validateCoordination(c *Coordination) error {
	if len(c.Weights) == 0 {
		return errors.New("coordination.weights must name at least one source")
	}
	var sum float64
	for name, w := range c.Weights {
		if w <= 0 || math.IsNaN(w) {
			return fmt.Errorf("coordination.weights.%s must be positive", name)
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("coordination.weights must sum to 1, got %.6f", sum)
	}
	t := c.RiskThresholds
	if t.Medium <= 0 || t.Medium >= t.High || t.High > t.Critical || t.Critical > 1 {
		return errors.New("coordination.risk_thresholds must satisfy 0 < medium < high <= critical <= 1")
	}
	if t.CriticalMinConfidence < 0 || t.CriticalMinConfidence > 1 {
		return errors.New("coordination.risk_thresholds.critical_min_confidence must be in [0,1]")
	}
	if c.Quorum < 1 || c.Quorum > len(c.Weights) {
		return fmt.Errorf("coordination.quorum must be in [1,%d]", len(c.Weights))
	}
	if c.SourceTimeout <= 0 || c.GlobalTimeout <= 0 || c.NarrativeTimeout <= 0 {
		return errors.New("coordination timeouts must be positive")
	}
	if c.SourceTimeout > c.GlobalTimeout {
		return errors.New("coordination.source_timeout must not exceed global_timeout")
	}
	if c.MaxParallel < 1 {
		return errors.New("coordination.max_parallel must be >= 1")
	}
	if c.TopK < 0 {
		return errors.New("coordination.top_k must be >= 0")
	}
	return nil
}

func validateSources(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Sources))
	for i, s := range cfg.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("sources[%d]: duplicate source %q", i, s.Name)
		}
		seen[s.Name] = true
		if _, ok := cfg.Coordination.Weights[s.Name]; !ok {
			return fmt.Errorf("sources[%d]: source %q has no weight", i, s.Name)
		}
		switch s.Transport {
		case TransportHTTP:
			if s.URL == "" {
				return fmt.Errorf("sources[%d]: http source %q requires url", i, s.Name)
			}
		case TransportNATS:
		default:
			return fmt.Errorf("sources[%d]: unknown transport %q", i, s.Transport)
		}
		if s.Timeout < 0 {
			return fmt.Errorf("sources[%d]: timeout must not be negative", i)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// setWeights parses "name=0.6,other=0.4". A malformed value leaves dst
// untouched.
func setWeights(dst *map[string]float64, key string) {
	pairs, ok := parsePairs(os.Getenv(key))
	if !ok {
		return
	}
	out := make(map[string]float64, len(pairs))
	for name, raw := range pairs {
		w, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return
		}
		out[name] = w
	}
	*dst = out
}

// setPairs parses "k1=v1,k2=v2". A malformed value leaves dst untouched.
func setPairs(dst *map[string]string, key string) {
	if pairs, ok := parsePairs(os.Getenv(key)); ok {
		*dst = pairs
	}
}

func parsePairs(v string) (map[string]string, bool) {
	if v == "" {
		return nil, false
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			return nil, false
		}
		out[k] = val
	}
	return out, true
}
