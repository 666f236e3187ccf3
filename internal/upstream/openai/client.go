package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"gijiroku/internal/transcript"
)

type ObserverFunc func(endpoint string, status int, duration time.Duration)

type Option func(*Client)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	observer   ObserverFunc
}

type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream request failed with status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upstream request failed with status %d", e.StatusCode)
}

type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type TranscriptionRequest struct {
	File           io.Reader
	FileName       string
	Model          string
	Language       string
	ResponseFormat string
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Messages    []ChatMessage `json:"messages"`
}

type ChatCompletionResponse struct {
	Content string
	Usage   *TokenUsage
}

type InputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ResponseRequest struct {
	Model           string         `json:"model"`
	Input           []InputMessage `json:"input"`
	MaxOutputTokens int            `json:"max_output_tokens,omitempty"`
}

// ResponseOutput is the Responses API result. OutputText is only set when the
// provider sends the consolidated text; otherwise callers walk Output.
type ResponseOutput struct {
	OutputText *string
	Output     []ResponseItem
	Usage      *TokenUsage
}

type ResponseItem struct {
	Type    string
	Content []ResponseContent
}

type ResponseContent struct {
	Type string
	Text *string
}

func WithObserver(observer ObserverFunc) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

func New(baseURL, apiKey string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// APIKey returns the key used for requests made with ctx: a per-request key
// when one was attached, the configured key otherwise.
func (c *Client) APIKey(ctx context.Context) string {
	if key := RequestAPIKeyFromContext(ctx); key != "" {
		return key
	}
	return c.apiKey
}

// TranscribeDiarized uploads audio and returns the provider's structured,
// speaker-attributed transcript.
func (c *Client) TranscribeDiarized(ctx context.Context, in TranscriptionRequest) (transcript.RawTranscript, error) {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe("audio_transcriptions", statusCode, time.Since(started)) }()

	body, contentType := streamTranscriptionForm(in)
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return transcript.RawTranscript{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey(ctx))
	req.Header.Set("Content-Type", contentType)

	respBody, statusCode, err := c.do(req)
	if err != nil {
		return transcript.RawTranscript{}, err
	}
	return transcript.DecodeRaw(respBody)
}

// streamTranscriptionForm writes the multipart form on a goroutine so large
// recordings are not buffered a second time in memory.
func streamTranscriptionForm(in TranscriptionRequest) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeTranscriptionForm(writer, in))
	}()
	return pr, writer.FormDataContentType()
}

func writeTranscriptionForm(writer *multipart.Writer, in TranscriptionRequest) error {
	fields := [][2]string{
		{"model", in.Model},
		{"language", strings.TrimSpace(in.Language)},
		{"response_format", in.ResponseFormat},
		{"chunking_strategy", "auto"},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("write %s field: %w", f[0], err)
		}
	}

	part, err := writer.CreateFormFile("file", in.FileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, in.File); err != nil {
		return fmt.Errorf("write audio data: %w", err)
	}
	return writer.Close()
}

func (c *Client) CreateResponse(ctx context.Context, reqPayload ResponseRequest) (ResponseOutput, error) {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe("responses", statusCode, time.Since(started)) }()

	respBody, statusCode, err := c.postJSON(ctx, "/responses", reqPayload)
	if err != nil {
		return ResponseOutput{}, err
	}
	return parseResponse(respBody)
}

func (c *Client) ChatCompletion(ctx context.Context, reqPayload ChatCompletionRequest) (ChatCompletionResponse, error) {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe("chat_completions", statusCode, time.Since(started)) }()

	respBody, statusCode, err := c.postJSON(ctx, "/chat/completions", reqPayload)
	if err != nil {
		return ChatCompletionResponse{}, err
	}
	return parseChatCompletion(respBody)
}

func (c *Client) CheckModels(ctx context.Context) error {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe("models", statusCode, time.Since(started)) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey(ctx))

	_, statusCode, err = c.do(req)
	return err
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey(ctx))
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, &Error{StatusCode: resp.StatusCode, Body: truncateBody(string(respBody))}
	}
	return respBody, resp.StatusCode, nil
}

func (c *Client) observe(endpoint string, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer(endpoint, status, duration)
	}
}

func parseResponse(data []byte) (ResponseOutput, error) {
	var parsed struct {
		OutputText *string `json:"output_text"`
		Output     []struct {
			Type    string          `json:"type"`
			Content json.RawMessage `json:"content"`
		} `json:"output"`
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage,omitempty"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ResponseOutput{}, fmt.Errorf("invalid responses payload: %w", err)
	}

	out := ResponseOutput{OutputText: parsed.OutputText}
	for _, item := range parsed.Output {
		out.Output = append(out.Output, ResponseItem{Type: item.Type, Content: parseResponseContent(item.Content)})
	}
	if parsed.Usage != nil {
		out.Usage = &TokenUsage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return out, nil
}

// parseResponseContent accepts content as a list of parts or as a bare
// string, which some compatible servers send for simple messages.
func parseResponseContent(data json.RawMessage) []ResponseContent {
	if len(data) == 0 {
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return []ResponseContent{{Text: &text}}
	}

	var parts []map[string]any
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil
	}
	out := make([]ResponseContent, 0, len(parts))
	for _, part := range parts {
		content := ResponseContent{}
		content.Type, _ = part["type"].(string)
		if t, ok := part["text"].(string); ok {
			content.Text = &t
		}
		out = append(out, content)
	}
	return out
}

// parseChatCompletion returns an empty Content when the provider sent no
// choices; deciding whether that is an error is left to the caller.
func parseChatCompletion(data []byte) (ChatCompletionResponse, error) {
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage,omitempty"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ChatCompletionResponse{}, fmt.Errorf("invalid chat completion response: %w", err)
	}

	resp := ChatCompletionResponse{}
	if len(parsed.Choices) > 0 {
		resp.Content = parsed.Choices[0].Message.Content
	}
	if parsed.Usage != nil {
		resp.Usage = &TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return resp, nil
}

func truncateBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4096 {
		return s
	}
	return s[:4096] + "..."
}
