package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/marketdesk/marketdesk/internal/errs"
)

// AnthropicGateway is the fallback summary and sentiment source, used
// when the primary model gateway is down or quota-limited.
type AnthropicGateway struct {
	client anthropic.Client
	model  string
	log    zerolog.Logger
}

func NewAnthropicGateway(apiKey, model string, timeout time.Duration, log zerolog.Logger) *AnthropicGateway {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &AnthropicGateway{
		client: anthropic.NewClient(opts...),
		model:  model,
		log:    log.With().Str("provider", "anthropic").Logger(),
	}
}

func (g *AnthropicGateway) Name() string { return "anthropic" }

func (g *AnthropicGateway) Summarize(ctx context.Context, text, mode string) (*Summary, error) {
	switch mode {
	case SummaryModeBrief, SummaryModeDetailed, SummaryModeInvestor:
	default:
		return nil, errs.FromProvider(errs.KindInvalidInput, g.Name(),
			fmt.Sprintf("unknown summary mode %q", mode), nil)
	}

	user := fmt.Sprintf("Mode: %s.\n\nTranscript:\n%s", mode, clipForModel(text))
	raw, err := g.complete(ctx, summarySystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Overview  string   `json:"overview"`
		KeyPoints []string `json:"key_points"`
		Outlook   string   `json:"outlook"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		return nil, errs.FromProvider(errs.KindPermanent, g.Name(), "model returned non-JSON summary", err)
	}
	if parsed.Overview == "" && len(parsed.KeyPoints) == 0 {
		return nil, errs.FromProvider(errs.KindPermanent, g.Name(), "model returned empty summary", nil)
	}
	return &Summary{
		Mode:      mode,
		Overview:  parsed.Overview,
		KeyPoints: parsed.KeyPoints,
		Outlook:   parsed.Outlook,
		ModelTag:  g.model,
	}, nil
}

func (g *AnthropicGateway) Score(ctx context.Context, text string) (*Sentiment, error) {
	raw, err := g.complete(ctx, sentimentSystemPrompt, clipForModel(text))
	if err != nil {
		return nil, err
	}
	var parsed Sentiment
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		return nil, errs.FromProvider(errs.KindPermanent, g.Name(), "model returned non-JSON sentiment", err)
	}
	if parsed.Overall < 1 || parsed.Overall > 5 {
		return nil, errs.FromProvider(errs.KindPermanent, g.Name(),
			fmt.Sprintf("sentiment score %d outside 1-5", parsed.Overall), nil)
	}
	parsed.ModelTag = g.model
	return &parsed, nil
}

func (g *AnthropicGateway) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", g.classify(err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", errs.FromProvider(errs.KindPermanent, g.Name(), "model returned no text", nil)
	}
	return strings.TrimSpace(b.String()), nil
}

func (g *AnthropicGateway) classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		kind := errs.ClassifyHTTPStatus(apiErr.StatusCode)
		return errs.FromProvider(kind, g.Name(), "model call failed", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errs.FromProvider(errs.KindTransient, g.Name(), "model call aborted", err)
	}
	return errs.FromProvider(errs.KindTransient, g.Name(), "model call failed", err)
}

// stripFences removes a markdown code fence if the model wrapped its
// JSON despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
