package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"

	"github.com/marketdesk/marketdesk/internal/errs"
)

// maxModelInputChars bounds how much transcript text goes into one
// model call. Long calls get the head and tail, which is where
// prepared remarks and guidance live.
const maxModelInputChars = 48000

// OpenAIGateway serves summaries, sentiment scores, and embeddings
// through any OpenAI-compatible endpoint (OpenRouter in production).
type OpenAIGateway struct {
	client     openai.Client
	model      string
	embedModel string
	log        zerolog.Logger
}

// OpenAIGatewayConfig carries the connection settings.
type OpenAIGatewayConfig struct {
	APIKey     string
	BaseURL    string // empty means api.openai.com
	Model      string
	EmbedModel string
	Timeout    time.Duration
}

func NewOpenAIGateway(cfg OpenAIGatewayConfig, log zerolog.Logger) *OpenAIGateway {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "text-embedding-3-small"
	}
	return &OpenAIGateway{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		embedModel: cfg.EmbedModel,
		log:        log.With().Str("provider", "openai").Logger(),
	}
}

func (g *OpenAIGateway) Name() string { return "openai" }

const summarySystemPrompt = `You summarize earnings-call transcripts for equity analysts.
Reply with a single JSON object: {"overview": string, "key_points": [string], "outlook": string}.
Key points cover revenue, margins, guidance, and one-off items. No markdown, JSON only.`

const sentimentSystemPrompt = `You score management tone in earnings-call transcripts.
Reply with a single JSON object:
{"overall": int 1-5, "tone": string, "outlook": "positive"|"neutral"|"negative", "risk": string, "confidence": float 0-1, "signals": [string]}.
Signals quote short phrases from the text that support the score. No markdown, JSON only.`

// Summarize produces a structured summary in the requested mode.
func (g *OpenAIGateway) Summarize(ctx context.Context, text, mode string) (*Summary, error) {
	switch mode {
	case SummaryModeBrief, SummaryModeDetailed, SummaryModeInvestor:
	default:
		return nil, errs.FromProvider(errs.KindInvalidInput, g.Name(),
			fmt.Sprintf("unknown summary mode %q", mode), nil)
	}

	user := fmt.Sprintf("Mode: %s.\n\nTranscript:\n%s", mode, clipForModel(text))
	raw, err := g.completeJSON(ctx, summarySystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Overview  string   `json:"overview"`
		KeyPoints []string `json:"key_points"`
		Outlook   string   `json:"outlook"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
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

// Score rates management tone on a 1-5 scale.
func (g *OpenAIGateway) Score(ctx context.Context, text string) (*Sentiment, error) {
	raw, err := g.completeJSON(ctx, sentimentSystemPrompt, clipForModel(text))
	if err != nil {
		return nil, err
	}

	var parsed Sentiment
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, errs.FromProvider(errs.KindPermanent, g.Name(), "model returned non-JSON sentiment", err)
	}
	if parsed.Overall < 1 || parsed.Overall > 5 {
		return nil, errs.FromProvider(errs.KindPermanent, g.Name(),
			fmt.Sprintf("sentiment score %d outside 1-5", parsed.Overall), nil)
	}
	parsed.ModelTag = g.model
	return &parsed, nil
}

// Embed vectorizes chunks in one batch call, order preserved.
func (g *OpenAIGateway) Embed(ctx context.Context, chunks []string) ([][]float64, error) {
	if len(chunks) == 0 {
		return nil, errs.FromProvider(errs.KindInvalidInput, g.Name(), "no chunks to embed", nil)
	}
	resp, err := g.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(g.embedModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: chunks},
	})
	if err != nil {
		return nil, g.classify(err, "embeddings call failed")
	}
	if len(resp.Data) != len(chunks) {
		return nil, errs.FromProvider(errs.KindPermanent, g.Name(),
			fmt.Sprintf("embedding count %d does not match input %d", len(resp.Data), len(chunks)), nil)
	}
	out := make([][]float64, len(chunks))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (g *OpenAIGateway) completeJSON(ctx context.Context, system, user string) (string, error) {
	jsonObj := shared.NewResponseFormatJSONObjectParam()
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0.2),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &jsonObj,
		},
	})
	if err != nil {
		return "", g.classify(err, "completion call failed")
	}
	if len(resp.Choices) == 0 {
		return "", errs.FromProvider(errs.KindPermanent, g.Name(), "model returned no choices", nil)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classify maps SDK errors onto the shared taxonomy.
func (g *OpenAIGateway) classify(err error, msg string) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		kind := errs.ClassifyHTTPStatus(apiErr.StatusCode)
		return errs.FromProvider(kind, g.Name(), msg, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errs.FromProvider(errs.KindTransient, g.Name(), "model call aborted", err)
	}
	return errs.FromProvider(errs.KindTransient, g.Name(), msg, err)
}

// clipForModel trims very long transcripts to head plus tail.
func clipForModel(text string) string {
	if len(text) <= maxModelInputChars {
		return text
	}
	half := maxModelInputChars / 2
	return text[:half] + "\n[... middle omitted ...]\n" + text[len(text)-half:]
}
