package triage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultModelTimeout bounds a single call to a model collaborator.
const DefaultModelTimeout = 2 * time.Second

// Classifier maps an Assessment to a Decision. Implementations must be
// deterministic for a given input and model version and must never fail:
// the worst case is a degraded rule-based Decision.
type Classifier interface {
	Classify(ctx context.Context, a *Assessment) Decision
}

// ClassifierInfo describes the active classification strategy.
type ClassifierInfo struct {
	Strategy     string `json:"strategy"`
	ModelVersion string `json:"model_version,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	Calls        uint64 `json:"calls"`
	Degraded     uint64 `json:"degraded"`
}

// Info implements the optional info interface for the rule classifier.
func (c *RuleClassifier) Info() ClassifierInfo {
	return ClassifierInfo{Strategy: string(SourceRules)}
}

// Prediction is a model collaborator's answer.
type Prediction struct {
	Level      Level    `json:"esi_level"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reasons    []string `json:"reasons"`
}

// Model is an external learned classifier. It receives the normalized feature
// vector and may be slow, unreachable or wrong; callers bound and validate it.
type Model interface {
	Predict(ctx context.Context, f Features) (*Prediction, error)
	Version() string
}

// Degraded causes recorded on fallback decisions.
const (
	CauseTimeout           = "timeout"
	CauseModelError        = "model_error"
	CauseInvalidLevel      = "invalid_level"
	CauseInvalidConfidence = "invalid_confidence"
	CauseEmptyResponse     = "empty_response"
)

// EnsembleClassifier consults a Model and falls back to the rule ladder when
// the model errors, times out or answers out of range.
type EnsembleClassifier struct {
	model    Model
	strategy string
	fallback *RuleClassifier
	timeout  time.Duration
	logger   log.Logger
	hooks    Hooks

	calls    atomic.Uint64
	degraded atomic.Uint64
}

// NewEnsembleClassifier wraps model with a rule-based fallback.
func NewEnsembleClassifier(strategy string, model Model, fallback *RuleClassifier, timeout time.Duration, logger log.Logger, hooks Hooks) *EnsembleClassifier {
	if logger == nil {
		logger = log.Nop()
	}
	if timeout <= 0 {
		timeout = DefaultModelTimeout
	}
	return &EnsembleClassifier{
		model:    model,
		strategy: strategy,
		fallback: fallback,
		timeout:  timeout,
		logger:   logger,
		hooks:    hooks,
	}
}

// Classify implements Classifier.
func (c *EnsembleClassifier) Classify(ctx context.Context, a *Assessment) Decision {
	c.calls.Add(1)
	version := c.model.Version()

	start := time.Now()
	pred, err := c.predict(ctx, ExtractFeatures(a))
	elapsed := time.Since(start).Seconds()

	cause := ""
	switch {
	case err != nil:
		cause = CauseModelError
		if errors.Is(err, ErrClassifierTimeout) {
			cause = CauseTimeout
		}
	case pred == nil:
		cause = CauseEmptyResponse
	case !pred.Level.Valid():
		cause = CauseInvalidLevel
		err = fmt.Errorf("model returned esi level %d", pred.Level)
	case pred.Confidence != nil && (*pred.Confidence < 0 || *pred.Confidence > 1):
		cause = CauseInvalidConfidence
		err = fmt.Errorf("model returned confidence %g", *pred.Confidence)
	}

	if c.hooks.OnModelCall != nil {
		outcome := "ok"
		if cause != "" {
			outcome = cause
		}
		c.hooks.OnModelCall(outcome, elapsed)
	}

	if cause != "" {
		c.degraded.Add(1)
		d := c.fallback.Classify(ctx, a)
		d.Degraded = true
		d.DegradedCause = cause
		d.ModelVersion = version
		c.logger.Warn(ctx, "model classification unavailable, using rule ladder",
			"patient_id", a.PatientID,
			"cause", cause,
			"error", err,
			"model_version", version,
			"duration", elapsed,
		)
		return d
	}

	reasons := make([]string, len(pred.Reasons))
	copy(reasons, pred.Reasons)
	var conf *float64
	if pred.Confidence != nil {
		v := *pred.Confidence
		conf = &v
	}
	return Decision{
		Level:        pred.Level,
		Confidence:   conf,
		Reasons:      reasons,
		Source:       SourceModel,
		ModelVersion: version,
	}
}

// predict runs the model in its own goroutine so a collaborator that ignores
// ctx still cannot hold the caller past the timeout.
func (c *EnsembleClassifier) predict(ctx context.Context, f Features) (*Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type answer struct {
		pred *Prediction
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- answer{err: fmt.Errorf("model panic: %v", r)}
			}
		}()
		p, err := c.model.Predict(ctx, f)
		ch <- answer{pred: p, err: err}
	}()

	select {
	case ans := <-ch:
		if ans.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &ClassifierTimeoutError{Timeout: c.timeout}
		}
		return ans.pred, ans.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &ClassifierTimeoutError{Timeout: c.timeout}
		}
		return nil, ctx.Err()
	}
}

// Info reports strategy and call counters.
func (c *EnsembleClassifier) Info() ClassifierInfo {
	return ClassifierInfo{
		Strategy:     c.strategy,
		ModelVersion: c.model.Version(),
		Timeout:      c.timeout.String(),
		Calls:        c.calls.Load(),
		Degraded:     c.degraded.Load(),
	}
}
