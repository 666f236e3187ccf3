package model

import "gijiroku/internal/transcript"

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorResponse carries the failure message twice: "detail" for clients
// that only read a flat message, "error" for structured consumers.
type ErrorResponse struct {
	Detail    string   `json:"detail"`
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	OK          bool   `json:"ok"`
	ServiceName string `json:"service_name,omitempty"`
	Backend     string `json:"backend,omitempty"`
}

type BannerResponse struct {
	Message string `json:"message"`
}

type SpeakerSegment struct {
	Speaker string  `json:"speaker" yaml:"speaker"`
	Start   float64 `json:"start" yaml:"start"`
	End     float64 `json:"end" yaml:"end"`
	Text    string  `json:"text" yaml:"text"`
}

type Metadata struct {
	Language string  `json:"language" yaml:"language"`
	Duration float64 `json:"duration" yaml:"duration"`
	Summary  *string `json:"summary" yaml:"summary"`
}

type TranscriptionResponse struct {
	Segments []SpeakerSegment `json:"segments" yaml:"segments"`
	Metadata Metadata         `json:"metadata" yaml:"metadata"`
}

func NewTranscriptionResponse(res transcript.Result) TranscriptionResponse {
	segments := make([]SpeakerSegment, 0, len(res.Segments))
	for _, seg := range res.Segments {
		segments = append(segments, SpeakerSegment{
			Speaker: seg.Speaker,
			Start:   seg.Start,
			End:     seg.End,
			Text:    seg.Text,
		})
	}
	return TranscriptionResponse{
		Segments: segments,
		Metadata: Metadata{
			Language: res.Metadata.Language,
			Duration: res.Metadata.Duration,
			Summary:  res.Metadata.Summary,
		},
	}
}
