// Package openaiplanner implements planner.Planner against the OpenAI chat
// completions API, grounded on basegraphhq-basegraph's relay/common/llm
// client: the same client construction (API key + optional base URL
// override), the same JSON-schema-constrained response_format request
// shape, and the same status-code-based retry classification.
package openaiplanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mrlecko/hcc/core"
	"github.com/mrlecko/hcc/planner"
)

// Config configures the OpenAI-backed planner.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string // default "gpt-4o-mini"
	Temperature float64
}

// Planner implements planner.Planner by asking an OpenAI chat model to
// decompose a goal into a planner.Plan, constrained to the Plan schema via
// response_format.
type Planner struct {
	client openai.Client
	model  string
	temp   float64
	logger core.Logger
}

// New constructs a Planner. Returns an error if cfg.APIKey is empty — the
// caller is expected to fall back to planner/staticplanner or no planner at
// all rather than construct one it can never use.
func New(cfg Config, logger core.Logger) (*Planner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openaiplanner: API key is required")
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("planner/openaiplanner")
	}

	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithHTTPClient(httpClient)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &Planner{
		client: openai.NewClient(opts...),
		model:  model,
		temp:   cfg.Temperature,
		logger: logger,
	}, nil
}

// planSchema is the fixed JSON schema for planner.Plan's wire shape. Written
// by hand rather than reflected (e.g. invopop/jsonschema, as the teacher's
// GenerateSchema[T] does) because the schema never changes at runtime and
// introducing a reflection library for one fixed struct would be the kind
// of dependency SPEC_FULL.md's domain-stack table never names.
var planSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"goal":     map[string]interface{}{"type": "string"},
		"strategy": map[string]interface{}{"type": "string"},
		"steps": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"description":   map[string]interface{}{"type": "string"},
					"action_pattern": map[string]interface{}{"type": "string"},
				},
				"required":             []string{"description", "action_pattern"},
				"additionalProperties": false,
			},
		},
		"success_criteria": map[string]interface{}{"type": "string"},
		"contingencies": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
		"confidence": map[string]interface{}{"type": "number"},
	},
	"required":             []string{"goal", "strategy", "steps", "success_criteria", "contingencies", "confidence"},
	"additionalProperties": false,
}

const systemPrompt = `You are the strategic planner for a hierarchical decision-making agent.
Given a goal, the current context, and a list of recently failed approaches, produce an ordered
plan of concrete steps. Each step's action_pattern should be a short phrase the agent's tactical
layer can match against candidate actions (substring or token-subset match). Avoid any
action_pattern that resembles a recently failed approach.`

// Plan asks the configured model for a plan, per planner.Planner.
func (p *Planner) Plan(ctx context.Context, goal, contextStr string, recentFailures []string) (*planner.Plan, error) {
	userPrompt := fmt.Sprintf("Goal: %s\n\nContext: %s\n\nRecently failed approaches: %v", goal, contextStr, recentFailures)

	params := openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "decision_plan",
					Schema: planSchema,
					Strict: openai.Bool(true),
				},
			},
		},
	}
	if p.temp > 0 {
		params.Temperature = openai.Float(p.temp)
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai plan request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai plan request: no choices in response")
	}

	p.logger.Debug("plan request completed", map[string]interface{}{
		"model":             p.model,
		"duration_ms":       time.Since(start).Milliseconds(),
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	})

	var plan planner.Plan
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan response: %w", err)
	}
	return &plan, nil
}

// IsRetryable classifies an error from Plan as transient, grounded on the
// same status-code rule the teacher's llm client uses: rate limiting and
// server errors are retryable, client errors and cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return true
}
