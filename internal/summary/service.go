package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gijiroku/internal/apperr"
	"gijiroku/internal/observability"
	"gijiroku/internal/transcript"
	"gijiroku/internal/upstream/openai"
)

const SystemPrompt = "You produce concise Japanese meeting minutes."

const instruction = "以下は会議の発言ログです。主要な決定事項、宿題、懸念点を日本語で簡潔に3-5行で要約してください。"

const (
	APIResponses       = "responses"
	APIChatCompletions = "chat_completions"
)

type Client interface {
	CreateResponse(ctx context.Context, req openai.ResponseRequest) (openai.ResponseOutput, error)
	ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Options struct {
	Model           string
	API             string
	MaxOutputTokens int
	Timeout         time.Duration
	Logger          *slog.Logger
}

type Service struct {
	client          Client
	model           string
	api             string
	maxOutputTokens int
	timeout         time.Duration
	logger          *slog.Logger
}

func New(client Client, opts Options) *Service {
	api := strings.TrimSpace(opts.API)
	if api == "" {
		api = APIResponses
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		client:          client,
		model:           strings.TrimSpace(opts.Model),
		api:             api,
		maxOutputTokens: opts.MaxOutputTokens,
		timeout:         opts.Timeout,
		logger:          opts.Logger,
	}
}

// Summarize returns nil when there is nothing to summarize or the provider
// answered without any text. Provider call failures are returned as upstream
// errors.
func (s *Service) Summarize(ctx context.Context, segments []transcript.SpeakerSegment) (*string, error) {
	text := RenderTranscript(segments)
	if text == "" {
		return nil, nil
	}
	prompt := instruction + "\n\n" + text

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var (
		summary string
		usage   *openai.TokenUsage
		err     error
	)
	switch s.api {
	case APIChatCompletions:
		summary, usage, err = s.viaChatCompletions(ctx, prompt)
	default:
		summary, usage, err = s.viaResponses(ctx, prompt)
	}
	if err != nil {
		return nil, apperr.Upstream("summary request failed", err)
	}
	s.logUsage(ctx, usage)
	if summary == "" {
		return nil, nil
	}
	return &summary, nil
}

func (s *Service) viaResponses(ctx context.Context, prompt string) (string, *openai.TokenUsage, error) {
	resp, err := s.client.CreateResponse(ctx, openai.ResponseRequest{
		Model: s.model,
		Input: []openai.InputMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxOutputTokens: s.maxOutputTokens,
	})
	if err != nil {
		return "", nil, err
	}
	return ExtractText(resp), resp.Usage, nil
}

func (s *Service) viaChatCompletions(ctx context.Context, prompt string) (string, *openai.TokenUsage, error) {
	resp, err := s.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: s.maxOutputTokens,
		Messages: []openai.ChatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(resp.Content), resp.Usage, nil
}

func (s *Service) logUsage(ctx context.Context, usage *openai.TokenUsage) {
	if usage == nil {
		return
	}
	s.logger.Info("summary_usage",
		"request_id", observability.RequestIDFromContext(ctx),
		"model", s.model,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"total_tokens", usage.TotalTokens,
	)
}

// RenderTranscript renders one "speaker (start-end): text" line per segment.
func RenderTranscript(segments []transcript.SpeakerSegment) string {
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		lines = append(lines, fmt.Sprintf("%s (%.1f-%.1f): %s", seg.Speaker, seg.Start, seg.End, strings.TrimSpace(seg.Text)))
	}
	return strings.Join(lines, "\n")
}

// ExtractText prefers the consolidated output text and otherwise collects
// every text-bearing content part in order, one per line.
func ExtractText(resp openai.ResponseOutput) string {
	if resp.OutputText != nil {
		if text := strings.TrimSpace(*resp.OutputText); text != "" {
			return text
		}
	}

	var collected []string
	for _, item := range resp.Output {
		for _, content := range item.Content {
			if content.Text == nil {
				continue
			}
			if text := strings.TrimSpace(*content.Text); text != "" {
				collected = append(collected, text)
			}
		}
	}
	return strings.Join(collected, "\n")
}
