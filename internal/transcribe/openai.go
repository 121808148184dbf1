package transcribe

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAI loads the hosted whisper model behind the OpenAI audio API. The
// API exposes a single model per name, so the tier is only informational.
type OpenAI struct {
	apiKey  string
	model   string
	baseURL string
	log     *zap.Logger
}

func NewOpenAI(apiKey, model, baseURL string, log *zap.Logger) *OpenAI {
	if model == "" {
		model = openai.Whisper1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OpenAI{apiKey: apiKey, model: model, baseURL: baseURL, log: log}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Load(ctx context.Context, tier string) (Model, error) {
	if !ValidTier(tier) {
		return nil, fmt.Errorf("%w %q", ErrUnknownTier, tier)
	}
	if o.apiKey == "" {
		return nil, fmt.Errorf("openai: %w (set OPENAI_API_KEY or [transcribe.openai] api_key)", ErrNoAPIKey)
	}
	cfg := openai.DefaultConfig(o.apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = strings.TrimRight(o.baseURL, "/")
	}
	o.log.Debug("using hosted model", zap.String("model", o.model), zap.String("tier", tier))
	return &openaiModel{client: openai.NewClientWithConfig(cfg), model: o.model}, nil
}

type openaiModel struct {
	client *openai.Client
	model  string
}

func (m *openaiModel) Close() error { return nil }

func (m *openaiModel) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	resp, err := m.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    m.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription failed: %w", err)
	}

	result := &Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Duration: resp.Duration,
	}
	for _, seg := range resp.Segments {
		result.Segments = append(result.Segments, Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		})
	}
	return result, nil
}
