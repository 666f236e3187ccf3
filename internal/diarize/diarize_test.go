package diarize

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gijiroku/internal/apperr"
	"gijiroku/internal/staging"
	"gijiroku/internal/transcript"
	"gijiroku/internal/upstream/awstranscribe"
	"gijiroku/internal/upstream/openai"
)

type fakeOpenAI struct {
	in       openai.TranscriptionRequest
	body     string
	deadline bool
	raw      transcript.RawTranscript
	err      error
}

func (f *fakeOpenAI) TranscribeDiarized(ctx context.Context, in openai.TranscriptionRequest) (transcript.RawTranscript, error) {
	f.in = in
	body, _ := io.ReadAll(in.File)
	f.body = string(body)
	_, f.deadline = ctx.Deadline()
	return f.raw, f.err
}

type fakeAWS struct {
	in  awstranscribe.Request
	err error
}

func (f *fakeAWS) TranscribeDiarized(_ context.Context, in awstranscribe.Request) (transcript.RawTranscript, error) {
	f.in = in
	return transcript.RawTranscript{}, f.err
}

func stagedAudio(t *testing.T, body string) staging.Audio {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meeting.wav")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return staging.Audio{File: f, Path: path, Name: "meeting.wav"}
}

func TestOpenAIForwardsRequest(t *testing.T) {
	lang := "ja"
	client := &fakeOpenAI{raw: transcript.RawTranscript{Language: &lang}}
	tr := NewOpenAI(client, " gpt-4o-transcribe-diarize ", "diarized_json", time.Minute)

	raw, err := tr.Transcribe(context.Background(), Request{Audio: stagedAudio(t, "FAKEAUDIO"), Language: "ja"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if *raw.Language != "ja" {
		t.Fatalf("unexpected raw transcript: %+v", raw)
	}
	if client.in.Model != "gpt-4o-transcribe-diarize" || client.in.ResponseFormat != "diarized_json" {
		t.Fatalf("unexpected request: %+v", client.in)
	}
	if client.in.FileName != "meeting.wav" || client.in.Language != "ja" || client.body != "FAKEAUDIO" {
		t.Fatalf("unexpected upload: name=%s lang=%s body=%q", client.in.FileName, client.in.Language, client.body)
	}
	if !client.deadline {
		t.Fatal("expected the provider call to carry a deadline")
	}
}

func TestOpenAIWrapsProviderErrors(t *testing.T) {
	client := &fakeOpenAI{err: &openai.Error{StatusCode: 401, Body: "invalid api key"}}
	_, err := NewOpenAI(client, "m", "diarized_json", 0).Transcribe(context.Background(), Request{Audio: stagedAudio(t, "x")})
	if apperr.KindOf(err) != apperr.KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
	var upErr *openai.Error
	if !errors.As(err, &upErr) || upErr.StatusCode != 401 {
		t.Fatalf("expected provider error to stay reachable, got %v", err)
	}
	if client.deadline {
		t.Fatal("zero timeout must not add a deadline")
	}
}

func TestAWSWrapsJobFailures(t *testing.T) {
	client := &fakeAWS{err: &awstranscribe.JobFailedError{JobName: "j", Reason: "bad media"}}
	_, err := NewAWS(client, time.Minute).Transcribe(context.Background(), Request{Audio: stagedAudio(t, "x"), Language: "en"})
	if apperr.KindOf(err) != apperr.KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if client.in.FileName != "meeting.wav" || client.in.Language != "en" || client.in.File == nil {
		t.Fatalf("unexpected request: %+v", client.in)
	}
}
