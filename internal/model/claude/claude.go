// Package claude implements triage.Model on the Anthropic Messages API.
// The model is shown the feature vector and must answer with a JSON object.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/acuity/internal/triage"
)

const defaultMaxTokens = 512

const systemPrompt = `You are an emergency department triage assistant.
You receive one patient's normalized feature vector as JSON. Null means the value was not measured.
Assign an Emergency Severity Index level from 1 (resuscitation) to 5 (non-urgent).
Reply with a single JSON object and nothing else:
{"esi_level": <1-5>, "confidence": <0.0-1.0>, "reasons": ["<short_snake_case_reason>", ...]}`

// ErrNoAnswer is returned when the reply carries no parseable JSON object.
var ErrNoAnswer = errors.New("claude reply contained no triage answer")

// Model asks Claude for an ESI level.
type Model struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// New returns a Model for the named Claude model. opts are passed to the SDK
// client; callers typically add option.WithBaseURL in tests.
func New(apiKey, model string, opts ...option.RequestOption) *Model {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// no retries, the caller's deadline bounds the call
		option.WithMaxRetries(0),
	}
	return &Model{
		client:    anthropic.NewClient(append(base, opts...)...),
		model:     model,
		maxTokens: defaultMaxTokens,
	}
}

// Version implements triage.Model.
func (m *Model) Version() string { return "claude/" + m.model }

// Predict implements triage.Model.
func (m *Model) Predict(ctx context.Context, f triage.Features) (*triage.Prediction, error) {
	params, err := m.buildParams(f)
	if err != nil {
		return nil, err
	}
	msg, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude messages: %w", err)
	}
	return parseReply(msg)
}

func (m *Model) buildParams(f triage.Features) (anthropic.MessageNewParams, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("marshal features: %w", err)
	}
	return anthropic.MessageNewParams{
		Model:       anthropic.Model(m.model),
		MaxTokens:   m.maxTokens,
		Temperature: anthropic.Float(0),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(string(body))),
		},
	}, nil
}

type answer struct {
	Level      *int     `json:"esi_level"`
	Confidence *float64 `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// parseReply extracts the first JSON object from the reply's text blocks.
// Range checks are left to the caller.
func parseReply(msg *anthropic.Message) (*triage.Prediction, error) {
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	raw := text.String()
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, ErrNoAnswer
	}

	var a answer
	if err := json.Unmarshal([]byte(raw[start:end+1]), &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoAnswer, err)
	}
	if a.Level == nil {
		return nil, fmt.Errorf("%w: esi_level missing", ErrNoAnswer)
	}
	return &triage.Prediction{
		Level:      triage.Level(*a.Level),
		Confidence: a.Confidence,
		Reasons:    a.Reasons,
	}, nil
}
