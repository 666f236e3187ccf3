// Package diarize adapts the supported speech-to-text providers to a single
// call that returns a speaker-attributed RawTranscript.
package diarize

import (
	"context"
	"strings"
	"time"

	"gijiroku/internal/apperr"
	"gijiroku/internal/staging"
	"gijiroku/internal/transcript"
	"gijiroku/internal/upstream/awstranscribe"
	"gijiroku/internal/upstream/openai"
)

type Request struct {
	Audio    staging.Audio
	Language string
}

type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (transcript.RawTranscript, error)
}

type OpenAIClient interface {
	TranscribeDiarized(ctx context.Context, in openai.TranscriptionRequest) (transcript.RawTranscript, error)
}

type AWSClient interface {
	TranscribeDiarized(ctx context.Context, in awstranscribe.Request) (transcript.RawTranscript, error)
}

type OpenAI struct {
	client         OpenAIClient
	model          string
	responseFormat string
	timeout        time.Duration
}

func NewOpenAI(client OpenAIClient, model, responseFormat string, timeout time.Duration) *OpenAI {
	return &OpenAI{
		client:         client,
		model:          strings.TrimSpace(model),
		responseFormat: strings.TrimSpace(responseFormat),
		timeout:        timeout,
	}
}

// Transcribe makes exactly one provider call; failures are not retried.
func (o *OpenAI) Transcribe(ctx context.Context, req Request) (transcript.RawTranscript, error) {
	ctx, cancel := withTimeout(ctx, o.timeout)
	defer cancel()

	raw, err := o.client.TranscribeDiarized(ctx, openai.TranscriptionRequest{
		File:           req.Audio.File,
		FileName:       req.Audio.Name,
		Model:          o.model,
		Language:       req.Language,
		ResponseFormat: o.responseFormat,
	})
	if err != nil {
		return transcript.RawTranscript{}, apperr.Upstream("transcription request failed", err)
	}
	return raw, nil
}

type AWS struct {
	client  AWSClient
	timeout time.Duration
}

func NewAWS(client AWSClient, timeout time.Duration) *AWS {
	return &AWS{client: client, timeout: timeout}
}

func (a *AWS) Transcribe(ctx context.Context, req Request) (transcript.RawTranscript, error) {
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.client.TranscribeDiarized(ctx, awstranscribe.Request{
		File:     req.Audio.File,
		FileName: req.Audio.Name,
		Language: req.Language,
	})
	if err != nil {
		return transcript.RawTranscript{}, apperr.Upstream("transcription job failed", err)
	}
	return raw, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
