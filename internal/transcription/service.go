// Package transcription runs the upload-to-transcript pipeline for one request:
// credentials, validation, staging, diarized transcription, normalization and
// the optional summary.
package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gijiroku/internal/apperr"
	"gijiroku/internal/diarize"
	"gijiroku/internal/observability"
	"gijiroku/internal/staging"
	"gijiroku/internal/transcript"
	"gijiroku/internal/upload"
)

const DefaultLanguage = "ja"

type Upload struct {
	Data        []byte
	ContentType string
	FileName    string
}

type Job struct {
	Language  string
	Summarize bool
}

type Credentials interface {
	APIKey(ctx context.Context) string
}

type Validator interface {
	Validate(size int64, contentType string) error
}

type Stager interface {
	With(ctx context.Context, data []byte, name string, fn func(ctx context.Context, audio staging.Audio) error) error
}

type Summarizer interface {
	Summarize(ctx context.Context, segments []transcript.SpeakerSegment) (*string, error)
}

type Metrics interface {
	IncSummaryFallback()
	IncDurationRejected()
	ObserveAudioSeconds(seconds float64)
}

type Dependencies struct {
	Credentials Credentials
	Validator   Validator
	Stage       Stager
	Transcriber diarize.Transcriber
	Summarizer  Summarizer
	Metrics     Metrics
	Logger      *slog.Logger
}

type Service struct {
	credentials        Credentials
	validator          Validator
	stage              Stager
	transcriber        diarize.Transcriber
	summarizer         Summarizer
	metrics            Metrics
	logger             *slog.Logger
	maxDurationMinutes int
}

// New panics when a pipeline stage is missing. maxDurationMinutes <= 0
// disables the post-transcription duration check.
func New(deps Dependencies, maxDurationMinutes int) *Service {
	if deps.Credentials == nil || deps.Validator == nil || deps.Stage == nil || deps.Transcriber == nil || deps.Summarizer == nil {
		panic("transcription: all pipeline dependencies are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		credentials:        deps.Credentials,
		validator:          deps.Validator,
		stage:              deps.Stage,
		transcriber:        deps.Transcriber,
		summarizer:         deps.Summarizer,
		metrics:            deps.Metrics,
		logger:             deps.Logger,
		maxDurationMinutes: maxDurationMinutes,
	}
}

func (s *Service) Transcribe(ctx context.Context, up Upload, job Job) (transcript.Result, error) {
	if strings.TrimSpace(s.credentials.APIKey(ctx)) == "" {
		return transcript.Result{}, apperr.Configuration("APP_OPENAI_API_KEY must be set")
	}
	if err := s.validator.Validate(int64(len(up.Data)), up.ContentType); err != nil {
		return transcript.Result{}, err
	}

	language := strings.TrimSpace(job.Language)
	if language == "" {
		language = DefaultLanguage
	}
	log := s.logger.With("request_id", observability.RequestIDFromContext(ctx))

	var raw transcript.RawTranscript
	name := upload.FileName(up.FileName, up.ContentType)
	err := s.stage.With(ctx, up.Data, name, func(ctx context.Context, audio staging.Audio) error {
		log.Debug("transcription started", "file", audio.Name, "bytes", len(up.Data), "language", language)
		var err error
		raw, err = s.transcriber.Transcribe(ctx, diarize.Request{Audio: audio, Language: language})
		return err
	})
	if err != nil {
		return transcript.Result{}, err
	}

	result := transcript.Normalize(raw, language)
	log.Debug("transcription finished", "segments", len(result.Segments), "duration", result.Metadata.Duration)
	if err := s.checkDuration(result.Metadata.Duration); err != nil {
		log.Warn("transcript rejected", "duration", result.Metadata.Duration, "limit_minutes", s.maxDurationMinutes)
		return transcript.Result{}, err
	}
	if s.metrics != nil {
		s.metrics.ObserveAudioSeconds(result.Metadata.Duration)
	}

	if !job.Summarize || len(result.Segments) == 0 {
		return result, nil
	}

	summary, err := s.summarizer.Summarize(ctx, result.Segments)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return transcript.Result{}, ctxErr
		}
		// The transcript is already paid for; keep it and drop the summary.
		log.Warn("summary failed, returning transcript without summary", "error", err)
		if s.metrics != nil {
			s.metrics.IncSummaryFallback()
		}
		return result, nil
	}
	result.Metadata.Summary = summary
	return result, nil
}

func (s *Service) checkDuration(seconds float64) error {
	if s.maxDurationMinutes <= 0 || seconds <= float64(s.maxDurationMinutes)*60 {
		return nil
	}
	if s.metrics != nil {
		s.metrics.IncDurationRejected()
	}
	return apperr.Validation("audio duration %s exceeds the %d minute limit", formatMinutes(seconds), s.maxDurationMinutes)
}

func formatMinutes(seconds float64) string {
	return fmt.Sprintf("%.1f minutes", seconds/60)
}
