package claude

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/acuity/internal/triage"
)

func ip(v int) *int { return &v }

func TestParseReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		level   triage.Level
		conf    float64
		reasons []string
		wantErr bool
	}{
		{
			name:    "bare json",
			text:    `{"esi_level": 2, "confidence": 0.9, "reasons": ["severe_pain"]}`,
			level:   2,
			conf:    0.9,
			reasons: []string{"severe_pain"},
		},
		{
			name:    "fenced json with preamble",
			text:    "Here is my assessment:\n```json\n{\"esi_level\": 4, \"confidence\": 0.6, \"reasons\": []}\n```",
			level:   4,
			conf:    0.6,
			reasons: []string{},
		},
		{name: "no json", text: "I cannot help with that.", wantErr: true},
		{name: "missing level", text: `{"confidence": 0.5}`, wantErr: true},
		{name: "malformed", text: `{"esi_level": two}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg := &anthropic.Message{
				Content: []anthropic.ContentBlockUnion{{Type: "text", Text: tt.text}},
			}
			got, err := parseReply(msg)
			if tt.wantErr {
				if !errors.Is(err, ErrNoAnswer) {
					t.Fatalf("err = %v, want ErrNoAnswer", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseReply: %v", err)
			}
			if got.Level != tt.level {
				t.Errorf("Level = %d, want %d", got.Level, tt.level)
			}
			if got.Confidence == nil || *got.Confidence != tt.conf {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.conf)
			}
			if len(got.Reasons) != len(tt.reasons) {
				t.Errorf("Reasons = %v, want %v", got.Reasons, tt.reasons)
			}
		})
	}
}

func TestParseReply_OutOfRangeLevelPassesThrough(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: `{"esi_level": 9, "reasons": ["x"]}`}},
	}
	got, err := parseReply(msg)
	if err != nil {
		t.Fatalf("parseReply: %v", err)
	}
	if got.Level != 9 || got.Confidence != nil {
		t.Errorf("got %+v, want level 9 and no confidence for the ensemble to reject", got)
	}
}

func TestBuildParams_SendsFeatures(t *testing.T) {
	t.Parallel()

	m := New("sk-test", "claude-sonnet-4-20250514")
	f := triage.ExtractFeatures(&triage.Assessment{
		PatientID: "p-1",
		Age:       70,
		Vitals:    triage.Vitals{OxygenSat: ip(88)},
	})

	params, err := m.buildParams(f)
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if params.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Model = %q", params.Model)
	}
	if params.MaxTokens != defaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", params.MaxTokens, defaultMaxTokens)
	}
	if len(params.System) != 1 || !strings.Contains(params.System[0].Text, "Emergency Severity Index") {
		t.Errorf("System = %+v", params.System)
	}
	if len(params.Messages) != 1 || len(params.Messages[0].Content) != 1 {
		t.Fatalf("Messages = %+v", params.Messages)
	}
	block := params.Messages[0].Content[0].OfText
	if block == nil {
		t.Fatal("expected a text block")
	}
	if !strings.Contains(block.Text, `"o2_saturation":88`) {
		t.Errorf("user text %q does not carry the feature vector", block.Text)
	}
}

func TestPredict_AgainstServer(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [{"type": "text", "text": "{\"esi_level\": 1, \"confidence\": 0.97, \"reasons\": [\"low_o2_saturation\"]}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 120, "output_tokens": 30}
		}`))
	}))
	t.Cleanup(srv.Close)

	m := New("sk-test", "claude-sonnet-4-20250514", option.WithBaseURL(srv.URL))
	pred, err := m.Predict(context.Background(), triage.Features{OxygenSat: new(float64)})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.Level != triage.LevelResuscitation {
		t.Errorf("Level = %d, want 1", pred.Level)
	}
	if gotPath != "/v1/messages" {
		t.Errorf("path = %q, want /v1/messages", gotPath)
	}
	if gotKey != "sk-test" {
		t.Errorf("api key = %q, want sk-test", gotKey)
	}
	if gotBody["model"] != "claude-sonnet-4-20250514" {
		t.Errorf("request model = %v", gotBody["model"])
	}
	if m.Version() != "claude/claude-sonnet-4-20250514" {
		t.Errorf("Version = %q", m.Version())
	}
}

func TestPredict_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"overloaded"}}`))
	}))
	t.Cleanup(srv.Close)

	m := New("sk-test", "claude-sonnet-4-20250514", option.WithBaseURL(srv.URL))
	if _, err := m.Predict(context.Background(), triage.Features{}); err == nil {
		t.Fatal("Predict succeeded against a failing server")
	}
}
