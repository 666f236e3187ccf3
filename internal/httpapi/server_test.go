package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gijiroku/internal/apperr"
	"gijiroku/internal/config"
	"gijiroku/internal/transcript"
	"gijiroku/internal/transcription"
	"gijiroku/internal/upstream/openai"
)

type stubTranscription struct {
	result transcript.Result
	err    error
	calls  int
	upload transcription.Upload
	job    transcription.Job
	apiKey string
}

func (s *stubTranscription) Transcribe(ctx context.Context, up transcription.Upload, job transcription.Job) (transcript.Result, error) {
	s.calls++
	s.upload = up
	s.job = job
	s.apiKey = openai.RequestAPIKeyFromContext(ctx)
	return s.result, s.err
}

type stubUpstream struct {
	err   error
	calls int
}

func (s *stubUpstream) CheckModels(context.Context) error {
	s.calls++
	return s.err
}

func testConfig() config.Config {
	return config.Config{
		OpenAIAPIKey:         "sk-test",
		OpenAIBaseURL:        "http://example.com",
		TranscriptionBackend: config.BackendOpenAI,
		MaxUploadMB:          1,
		CORSOrigins:          []string{"http://localhost:5173"},
	}
}

func newTestHandler(t *testing.T, cfg config.Config, tr *stubTranscription, up *stubUpstream) http.Handler {
	t.Helper()
	if up == nil {
		up = &stubUpstream{}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(cfg, logger, Dependencies{Transcription: tr, Upstream: up})
}

func multipartBody(t *testing.T, fields map[string]string, contentType string, audio []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if audio != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="meeting.wav"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write(audio)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func postTranscription(t *testing.T, h http.Handler, fields map[string]string, audio []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, fields, "audio/wav", audio)
	req := httptest.NewRequest(http.MethodPost, "/transcriptions", body)
	req.Header.Set("Content-Type", ct)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, w.Body.String())
	}
	return out
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, testConfig(), &stubTranscription{}, nil)

	for _, path := range []string{"/health", "/healthz"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: unexpected status: %d", path, w.Code)
		}
		if !strings.Contains(w.Body.String(), `"status":"ok"`) {
			t.Fatalf("%s: unexpected body: %s", path, w.Body.String())
		}
		if w.Header().Get(requestIDHeader) == "" {
			t.Fatalf("%s: expected a request id header", path)
		}
	}
}

func TestTranscriptionsReturnsCreatedResult(t *testing.T) {
	summary := "要約"
	tr := &stubTranscription{result: transcript.Result{
		Segments: []transcript.SpeakerSegment{
			{Speaker: "A", Start: 0, End: 5, Text: "おはようございます。"},
			{Speaker: "B", Start: 5, End: 12, Text: "議題に入りましょう。"},
		},
		Metadata: transcript.Metadata{Language: "ja", Duration: 12, Summary: &summary},
	}}
	h := newTestHandler(t, testConfig(), tr, nil)

	w := postTranscription(t, h, nil, []byte("RIFF-audio"), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if tr.job.Language != "ja" || !tr.job.Summarize {
		t.Fatalf("unexpected defaults: %+v", tr.job)
	}
	if string(tr.upload.Data) != "RIFF-audio" || tr.upload.ContentType != "audio/wav" || tr.upload.FileName != "meeting.wav" {
		t.Fatalf("unexpected upload: %+v", tr.upload)
	}

	var got struct {
		Segments []struct {
			Speaker string  `json:"speaker"`
			Start   float64 `json:"start"`
			End     float64 `json:"end"`
			Text    string  `json:"text"`
		} `json:"segments"`
		Metadata struct {
			Language string  `json:"language"`
			Duration float64 `json:"duration"`
			Summary  *string `json:"summary"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(got.Segments) != 2 || got.Segments[1].Speaker != "B" || got.Segments[1].End != 12 {
		t.Fatalf("unexpected segments: %+v", got.Segments)
	}
	if got.Metadata.Summary == nil || *got.Metadata.Summary != summary {
		t.Fatalf("unexpected summary: %v", got.Metadata.Summary)
	}
}

func TestTranscriptionsTrailingSlashAndNullSummary(t *testing.T) {
	tr := &stubTranscription{result: transcript.Result{
		Segments: []transcript.SpeakerSegment{},
		Metadata: transcript.Metadata{Language: "en"},
	}}
	h := newTestHandler(t, testConfig(), tr, nil)

	body, ct := multipartBody(t, map[string]string{"language": "en", "summarize": "false"}, "audio/mpeg", []byte("id3"))
	req := httptest.NewRequest(http.MethodPost, "/transcriptions/", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if tr.job.Language != "en" || tr.job.Summarize {
		t.Fatalf("unexpected job: %+v", tr.job)
	}
	if !strings.Contains(w.Body.String(), `"summary":null`) || !strings.Contains(w.Body.String(), `"segments":[]`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestTranscriptionsNeverSendsEmptySuccessBody(t *testing.T) {
	tr := &stubTranscription{result: transcript.Result{
		Segments: []transcript.SpeakerSegment{{Speaker: "A", End: math.Inf(1), Text: "はい"}},
		Metadata: transcript.Metadata{Language: "ja", Duration: 12},
	}}
	h := newTestHandler(t, testConfig(), tr, nil)

	w := postTranscription(t, h, nil, []byte("x"), nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if got := decodeError(t, w)["detail"]; got != "failed to encode response" {
		t.Fatalf("unexpected detail: %v", got)
	}
}

func TestTranscriptionsRejectsBadForm(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		audio  []byte
		want   string
	}{
		{name: "missing file", want: "multipart field 'file' is required"},
		{name: "bad summarize flag", fields: map[string]string{"summarize": "maybe"}, audio: []byte("x"), want: "summarize must be a boolean"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := &stubTranscription{}
			h := newTestHandler(t, testConfig(), tr, nil)
			w := postTranscription(t, h, tc.fields, tc.audio, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
			}
			if got := decodeError(t, w)["detail"]; got != tc.want {
				t.Fatalf("unexpected detail: %v", got)
			}
			if tr.calls != 0 {
				t.Fatal("pipeline must not run for an invalid form")
			}
		})
	}
}

func TestTranscriptionsErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "configuration", err: apperr.Configuration("APP_OPENAI_API_KEY must be set"), status: http.StatusBadRequest, code: "configuration_error"},
		{name: "validation", err: apperr.Validation("unsupported file format %q", "text/plain"), status: http.StatusBadRequest, code: "validation_error"},
		{name: "upstream", err: apperr.Upstream("transcription request failed", &openai.Error{StatusCode: 429, Body: "quota"}), status: http.StatusBadGateway, code: "upstream_error"},
		{name: "deadline", err: fmt.Errorf("transcribe: %w", context.DeadlineExceeded), status: http.StatusGatewayTimeout, code: "timeout"},
		{name: "canceled", err: context.Canceled, status: clientClosed, code: "canceled"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: "internal_error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, testConfig(), &stubTranscription{err: tc.err}, nil)
			w := postTranscription(t, h, nil, []byte("x"), nil)
			if w.Code != tc.status {
				t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
			}
			body := decodeError(t, w)
			apiErr, _ := body["error"].(map[string]any)
			if apiErr["code"] != tc.code {
				t.Fatalf("unexpected code: %v", apiErr["code"])
			}
			rid, _ := body["request_id"].(string)
			detail, _ := body["detail"].(string)
			if rid == "" || detail == "" {
				t.Fatalf("expected detail and request id: %s", w.Body.String())
			}
		})
	}
}

func TestTranscriptionsUpstreamErrorCarriesDetail(t *testing.T) {
	err := apperr.Upstream("transcription request failed", &openai.Error{StatusCode: 401, Body: "bad key"})
	h := newTestHandler(t, testConfig(), &stubTranscription{err: err}, nil)

	w := postTranscription(t, h, nil, []byte("x"), nil)
	body := decodeError(t, w)
	if detail, _ := body["detail"].(string); !strings.Contains(detail, "transcription request failed") || !strings.Contains(detail, "bad key") {
		t.Fatalf("unexpected detail: %q", detail)
	}
	details, _ := body["error"].(map[string]any)["details"].(map[string]any)
	if details["upstream_status"] != float64(401) {
		t.Fatalf("unexpected details: %v", details)
	}
}

func TestTranscriptionsRejectsOversizedBody(t *testing.T) {
	tr := &stubTranscription{}
	h := newTestHandler(t, testConfig(), tr, nil)

	audio := bytes.Repeat([]byte("a"), 2*1024*1024+16)
	w := postTranscription(t, h, nil, audio, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if tr.calls != 0 {
		t.Fatal("pipeline must not run for an oversized body")
	}
}

func TestBearerTokenForwardedToPipeline(t *testing.T) {
	tr := &stubTranscription{}
	cfg := testConfig()
	cfg.OpenAIAPIKey = ""
	h := newTestHandler(t, cfg, tr, nil)

	w := postTranscription(t, h, nil, []byte("x"), map[string]string{"Authorization": "Bearer sk-caller"})
	if w.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if tr.apiKey != "sk-caller" {
		t.Fatalf("expected forwarded key, got %q", tr.apiKey)
	}
}

func TestMalformedAuthorizationRejected(t *testing.T) {
	tr := &stubTranscription{}
	h := newTestHandler(t, testConfig(), tr, nil)

	w := postTranscription(t, h, nil, []byte("x"), map[string]string{"Authorization": "Basic Zm9vOmJhcg=="})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if tr.calls != 0 {
		t.Fatal("pipeline must not run with a malformed Authorization header")
	}
}

func TestForeignAuthorizationIgnoredOutsideProviderRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.StaticDir = filepath.Join(t.TempDir(), "missing")
	h := newTestHandler(t, cfg, &stubTranscription{}, nil)

	for _, path := range []string{"/health", "/healthz", "/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: unexpected status: %d body=%s", path, w.Code, w.Body.String())
		}
	}
}

func TestReadyzUsesForwardedKey(t *testing.T) {
	up := &stubUpstream{}
	cfg := testConfig()
	cfg.OpenAIAPIKey = ""
	h := newTestHandler(t, cfg, &stubTranscription{}, up)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("Authorization", "Bearer sk-caller")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if up.calls != 1 {
		t.Fatalf("expected one upstream check with a forwarded key, got %d", up.calls)
	}
}

func TestReadyzSkipsUpstreamCheckWithoutAnyKey(t *testing.T) {
	up := &stubUpstream{err: io.EOF}
	cfg := testConfig()
	cfg.OpenAIAPIKey = ""
	h := newTestHandler(t, cfg, &stubTranscription{}, up)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if up.calls != 0 {
		t.Fatal("upstream must not be checked without a key")
	}
}

func TestReadyzReportsUpstreamFailure(t *testing.T) {
	up := &stubUpstream{err: &openai.Error{StatusCode: 401}}
	h := newTestHandler(t, testConfig(), &stubTranscription{}, up)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
}

func TestRootBannerWithoutFrontend(t *testing.T) {
	cfg := testConfig()
	cfg.StaticDir = filepath.Join(t.TempDir(), "missing")
	h := newTestHandler(t, cfg, &stubTranscription{}, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Build the frontend") {
		t.Fatalf("unexpected response: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}

func TestStaticServesAssetsWithSPAFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "assets"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.StaticDir = dir
	h := newTestHandler(t, cfg, &stubTranscription{}, nil)

	cases := map[string]string{
		"/":              "<html>app</html>",
		"/assets/app.js": "console.log(1)",
		"/meetings/42":   "<html>app</html>",
	}
	for path, want := range cases {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("%s: unexpected response: %d %q", path, w.Code, w.Body.String())
		}
	}
}

func TestCORSPreflightAllowsConfiguredOrigin(t *testing.T) {
	h := newTestHandler(t, testConfig(), &stubTranscription{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/transcriptions", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("unexpected allow origin: %q", got)
	}
}

func TestParseFormBool(t *testing.T) {
	for in, want := range map[string]bool{"": true, "true": true, "1": true, "on": true, "false": false, "0": false, "No": false} {
		got, err := parseFormBool(in, true)
		if err != nil || got != want {
			t.Fatalf("parseFormBool(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := parseFormBool("maybe", true); err == nil {
		t.Fatal("expected an error for an unknown spelling")
	}
}
