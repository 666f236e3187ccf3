package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gijiroku/internal/model"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type options struct {
	input       string
	language    string
	url         string
	summarize   bool
	format      string
	contentType string
	apiKey      string
	timeout     time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:          "gijiroku-demo",
		Short:        "Upload an audio file to the transcription API and print the result",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.apiKey == "" {
				opts.apiKey = os.Getenv("APP_OPENAI_API_KEY")
			}
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.input, "input", "", "path to the audio file (wav/mp3/m4a/mp4)")
	flags.StringVar(&opts.language, "lang", "ja", "language hint for transcription")
	flags.StringVar(&opts.url, "url", "http://localhost:8000/transcriptions/", "transcription endpoint URL")
	flags.BoolVar(&opts.summarize, "summarize", true, "request a meeting summary")
	flags.StringVar(&opts.format, "format", "json", "output format: json or yaml")
	flags.StringVar(&opts.contentType, "content-type", "application/octet-stream", "media type declared for the upload")
	flags.StringVar(&opts.apiKey, "api-key", "", "provider key sent as a bearer token (defaults to APP_OPENAI_API_KEY)")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Minute, "request timeout")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func run(ctx context.Context, opts options, out io.Writer) error {
	format := strings.ToLower(strings.TrimSpace(opts.format))
	if format != "json" && format != "yaml" {
		return fmt.Errorf("unsupported --format %q: use json or yaml", opts.format)
	}

	audio, err := os.ReadFile(opts.input)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("audio file not found: %s", opts.input)
		}
		return err
	}

	body, contentType, err := buildForm(filepath.Base(opts.input), opts.contentType, audio, opts.language, opts.summarize)
	if err != nil {
		return err
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	if key := strings.TrimSpace(opts.apiKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr model.ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Detail != "" {
			return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, apiErr.Detail)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var result model.TranscriptionResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return printResult(out, format, result)
}

func buildForm(fileName, contentType string, audio []byte, language string, summarize bool) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("language", language); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("summarize", strconv.FormatBool(summarize)); err != nil {
		return nil, "", err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func printResult(out io.Writer, format string, result model.TranscriptionResponse) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
