// Package awstranscribe runs speaker-labelled batch jobs on Amazon Transcribe.
// Audio is uploaded to S3 for the lifetime of one job and removed afterwards
// together with the job and its output object.
package awstranscribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"gijiroku/internal/transcript"
)

type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type TranscribeAPI interface {
	StartTranscriptionJob(ctx context.Context, params *transcribe.StartTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, params *transcribe.GetTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error)
	DeleteTranscriptionJob(ctx context.Context, params *transcribe.DeleteTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.DeleteTranscriptionJobOutput, error)
}

type Options struct {
	Bucket       string
	MaxSpeakers  int
	PollInterval time.Duration
	Logger       *slog.Logger
}

type Client struct {
	s3           S3API
	transcribe   TranscribeAPI
	bucket       string
	maxSpeakers  int32
	pollInterval time.Duration
	logger       *slog.Logger
}

type Request struct {
	File     io.ReadSeeker
	FileName string
	Language string
}

// JobFailedError reports a job that Transcribe marked FAILED.
type JobFailedError struct {
	JobName string
	Reason  string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("transcription job %s failed: %s", e.JobName, e.Reason)
}

const cleanupTimeout = 30 * time.Second

func New(s3Client S3API, transcribeClient TranscribeAPI, opts Options) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxSpeakers < 2 {
		opts.MaxSpeakers = 10
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		s3:           s3Client,
		transcribe:   transcribeClient,
		bucket:       opts.Bucket,
		maxSpeakers:  int32(opts.MaxSpeakers),
		pollInterval: opts.PollInterval,
		logger:       opts.Logger,
	}
}

func (c *Client) TranscribeDiarized(ctx context.Context, in Request) (transcript.RawTranscript, error) {
	id := uuid.NewString()
	jobName := "gijiroku-" + id
	mediaKey := fmt.Sprintf("uploads/%s_%s", id, path.Base(in.FileName))
	outputKey := fmt.Sprintf("transcripts/%s.json", jobName)

	if _, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(mediaKey),
		Body:   in.File,
	}); err != nil {
		return transcript.RawTranscript{}, fmt.Errorf("upload audio to s3: %w", err)
	}
	defer c.cleanup(ctx, jobName, mediaKey, outputKey)

	input := &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
		LanguageCode:         LanguageCode(in.Language),
		MediaFormat:          MediaFormat(in.FileName),
		Media: &types.Media{
			MediaFileUri: aws.String(fmt.Sprintf("s3://%s/%s", c.bucket, mediaKey)),
		},
		OutputBucketName: aws.String(c.bucket),
		OutputKey:        aws.String(outputKey),
		Settings: &types.Settings{
			ShowSpeakerLabels: aws.Bool(true),
			MaxSpeakerLabels:  aws.Int32(c.maxSpeakers),
		},
	}
	if _, err := c.transcribe.StartTranscriptionJob(ctx, input); err != nil {
		return transcript.RawTranscript{}, fmt.Errorf("start transcription job: %w", err)
	}

	job, err := c.waitForJob(ctx, jobName)
	if err != nil {
		return transcript.RawTranscript{}, err
	}

	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(outputKey),
	})
	if err != nil {
		return transcript.RawTranscript{}, fmt.Errorf("fetch transcription output: %w", err)
	}
	defer out.Body.Close()

	result, err := decodeOutput(out.Body)
	if err != nil {
		return transcript.RawTranscript{}, err
	}
	return result.toRaw(string(job.LanguageCode)), nil
}

func (c *Client) waitForJob(ctx context.Context, jobName string) (*types.TranscriptionJob, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		out, err := c.transcribe.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
			TranscriptionJobName: aws.String(jobName),
		})
		if err != nil {
			return nil, fmt.Errorf("retrieve transcription job status: %w", err)
		}
		job := out.TranscriptionJob
		if job == nil {
			return nil, fmt.Errorf("transcription job %s: empty status response", jobName)
		}
		c.logger.Debug("transcription job status", "job", jobName, "status", string(job.TranscriptionJobStatus))

		switch job.TranscriptionJobStatus {
		case types.TranscriptionJobStatusCompleted:
			return job, nil
		case types.TranscriptionJobStatusFailed:
			return nil, &JobFailedError{JobName: jobName, Reason: aws.ToString(job.FailureReason)}
		}
	}
}

// cleanup runs even when ctx is already canceled.
func (c *Client) cleanup(ctx context.Context, jobName, mediaKey, outputKey string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	for _, key := range []string{mediaKey, outputKey} {
		if _, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		}); err != nil && !isNotFoundError(err) {
			c.logger.Warn("s3 cleanup failed", "key", key, "error", err)
		}
	}
	if _, err := c.transcribe.DeleteTranscriptionJob(ctx, &transcribe.DeleteTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
	}); err != nil && !isNotFoundError(err) {
		c.logger.Warn("transcription job cleanup failed", "job", jobName, "error", err)
	}
}

func isNotFoundError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFoundException", "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}

var languageCodes = map[string]types.LanguageCode{
	"ja": types.LanguageCodeJaJp,
	"en": types.LanguageCodeEnUs,
	"ko": types.LanguageCodeKoKr,
	"zh": types.LanguageCodeZhCn,
	"de": types.LanguageCodeDeDe,
	"fr": types.LanguageCodeFrFr,
	"es": types.LanguageCodeEsEs,
	"it": types.LanguageCodeItIt,
	"pt": types.LanguageCodePtBr,
}

// LanguageCode maps a short language hint to a Transcribe locale. Full locale
// codes such as "en-GB" pass through.
func LanguageCode(lang string) types.LanguageCode {
	lang = strings.TrimSpace(lang)
	if code, ok := languageCodes[strings.ToLower(lang)]; ok {
		return code
	}
	return types.LanguageCode(lang)
}

// MediaFormat derives the Transcribe media format from the file extension.
// Unknown extensions are left for Transcribe to detect.
func MediaFormat(fileName string) types.MediaFormat {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(fileName), ".")) {
	case "wav":
		return types.MediaFormatWav
	case "mp3":
		return types.MediaFormatMp3
	case "mp4":
		return types.MediaFormatMp4
	case "m4a":
		return types.MediaFormatM4a
	case "flac":
		return types.MediaFormatFlac
	case "ogg":
		return types.MediaFormatOgg
	case "webm":
		return types.MediaFormatWebm
	default:
		return ""
	}
}
