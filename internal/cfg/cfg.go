package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"
)

// Classifier strategies.
const (
	ClassifierRules  = "rules"
	ClassifierHTTP   = "http"
	ClassifierClaude = "claude"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	Department            string

	Classifier      string
	RulesFile       string
	ModelURL        string
	ModelVersion    string
	ModelTimeoutMS  int
	ClaudeAPIKey    string
	ClaudeModel     string
	RescoreSeconds  int
	SnapshotStaleMS int

	DatabaseURL     string
	RedisAddr       string
	NATSURL         string
	SlackWebhookURL string
	APITokens       string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.Department, "department", "ed", "department name used in alerts, redis keys and audit headers")
	fs.StringVar(&c.Classifier, "classifier", ClassifierRules, "classification strategy: rules, http or claude")
	fs.StringVar(&c.RulesFile, "rules-file", "", "YAML file overriding the default rule thresholds")
	fs.StringVar(&c.ModelURL, "model-url", "", "prediction endpoint for the http classifier")
	fs.StringVar(&c.ModelVersion, "model-version", "", "version reported for the http classifier model")
	fs.IntVar(&c.ModelTimeoutMS, "model-timeout-ms", 2000, "per-call model timeout in milliseconds (1..60000)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the claude classifier")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use for the claude classifier")
	fs.IntVar(&c.RescoreSeconds, "rescore-seconds", 30, "interval between aging re-score and wait-alert sweeps (1..3600)")
	fs.IntVar(&c.SnapshotStaleMS, "snapshot-staleness-ms", 1000, "how long a queue snapshot may be reused, 0 disables reuse (0..60000)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address for the read-only queue mirror (empty = disabled)")
	fs.StringVar(&c.NATSURL, "nats-url", "", "NATS URL for the audit event stream (empty = disabled)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for alert notifications")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma separated actor=token pairs required on the API (empty = no auth)")
}

// ModelTimeout returns the per-call model timeout.
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.ModelTimeoutMS) * time.Millisecond
}

// RescoreInterval returns the sweep interval.
func (c *Config) RescoreInterval() time.Duration {
	return time.Duration(c.RescoreSeconds) * time.Second
}

// SnapshotStaleness returns how long a snapshot may be reused.
func (c *Config) SnapshotStaleness() time.Duration {
	return time.Duration(c.SnapshotStaleMS) * time.Millisecond
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.Department == "" {
		errs = append(errs, errors.New("DEPARTMENT is required"))
	}

	if c.ModelTimeoutMS <= 0 || c.ModelTimeoutMS > 60000 {
		errs = append(errs, fmt.Errorf("invalid MODEL_TIMEOUT_MS %d (must be 1..60000)", c.ModelTimeoutMS))
	}
	if c.RescoreSeconds <= 0 || c.RescoreSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid RESCORE_SECONDS %d (must be 1..3600)", c.RescoreSeconds))
	}
	if c.SnapshotStaleMS < 0 || c.SnapshotStaleMS > 60000 {
		errs = append(errs, fmt.Errorf("invalid SNAPSHOT_STALENESS_MS %d (must be 0..60000)", c.SnapshotStaleMS))
	}

	// Each model-backed strategy needs its collaborator configured
	switch c.Classifier {
	case ClassifierRules:
	case ClassifierHTTP:
		if c.ModelURL == "" {
			errs = append(errs, errors.New("MODEL_URL is required for the http classifier"))
		}
	case ClassifierClaude:
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required for the claude classifier"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required for the claude classifier"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid CLASSIFIER %q (must be rules, http or claude)", c.Classifier))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
