package awstranscribe

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gijiroku/internal/transcript"
)

// output is the subset of the Transcribe result document used here.
type output struct {
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
		AudioSegments []struct {
			Transcript   string `json:"transcript"`
			StartTime    string `json:"start_time"`
			EndTime      string `json:"end_time"`
			SpeakerLabel string `json:"speaker_label"`
		} `json:"audio_segments"`
		Items []item `json:"items"`
	} `json:"results"`
}

type item struct {
	StartTime    string `json:"start_time,omitempty"`
	EndTime      string `json:"end_time,omitempty"`
	Type         string `json:"type"`
	SpeakerLabel string `json:"speaker_label,omitempty"`
	Alternatives []struct {
		Content string `json:"content"`
	} `json:"alternatives"`
}

func decodeOutput(r io.Reader) (output, error) {
	var out output
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return output{}, fmt.Errorf("decode transcription output: %w", err)
	}
	return out, nil
}

// toRaw prefers the audio_segments block. Older documents only carry
// word-level items, which are grouped into turns on speaker change.
func (o output) toRaw(language string) transcript.RawTranscript {
	raw := transcript.RawTranscript{}
	if language != "" {
		raw.Language = &language
	}

	if len(o.Results.AudioSegments) > 0 {
		for _, seg := range o.Results.AudioSegments {
			raw.Segments = append(raw.Segments, transcript.RawSegment{
				Speaker: optional(seg.SpeakerLabel),
				Start:   parseSeconds(seg.StartTime),
				End:     parseSeconds(seg.EndTime),
				Text:    optional(seg.Transcript),
			})
		}
		return raw
	}

	spaced := wordsAreSpaced(language)
	var (
		current *transcript.RawSegment
		text    strings.Builder
	)
	flush := func() {
		if current == nil {
			return
		}
		s := text.String()
		current.Text = &s
		raw.Segments = append(raw.Segments, *current)
		current = nil
		text.Reset()
	}

	for _, it := range o.Results.Items {
		if len(it.Alternatives) == 0 {
			continue
		}
		content := it.Alternatives[0].Content
		if it.Type == "punctuation" {
			// punctuation before the first word has no segment to attach to
			if current != nil {
				text.WriteString(content)
			}
			continue
		}
		if current == nil || (it.SpeakerLabel != "" && aString(current.Speaker) != it.SpeakerLabel) {
			flush()
			current = &transcript.RawSegment{Speaker: optional(it.SpeakerLabel), Start: parseSeconds(it.StartTime)}
		} else if spaced {
			text.WriteString(" ")
		}
		text.WriteString(content)
		if end := parseSeconds(it.EndTime); end != nil {
			current.End = end
		}
	}
	flush()

	if len(raw.Segments) == 0 && len(o.Results.Transcripts) > 0 {
		raw.Segments = append(raw.Segments, transcript.RawSegment{Text: optional(o.Results.Transcripts[0].Transcript)})
	}
	return raw
}

func wordsAreSpaced(language string) bool {
	lang := strings.ToLower(language)
	return !strings.HasPrefix(lang, "ja") && !strings.HasPrefix(lang, "zh")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func aString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseSeconds(s string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &f
}
