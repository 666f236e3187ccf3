package transcript

import (
	"fmt"
	"math"
	"strings"
)

// Normalize maps raw provider segments to canonical ones in provider order and
// derives the transcript language and duration. The summary is left unset.
func Normalize(raw RawTranscript, languageHint string) Result {
	segments := make([]SpeakerSegment, 0, len(raw.Segments))
	for i, seg := range raw.Segments {
		segments = append(segments, normalizeSegment(i, seg))
	}

	return Result{
		Segments: segments,
		Metadata: Metadata{
			Language: language(raw, languageHint),
			Duration: duration(raw, segments),
		},
	}
}

func normalizeSegment(index int, seg RawSegment) SpeakerSegment {
	speaker := ""
	if seg.Speaker != nil {
		speaker = strings.TrimSpace(*seg.Speaker)
	}
	if speaker == "" {
		speaker = fmt.Sprintf("Speaker %d", index+1)
	}

	text := ""
	if seg.Text != nil {
		text = strings.TrimSpace(*seg.Text)
	}

	return SpeakerSegment{
		Speaker: speaker,
		Start:   seconds(seg.Start),
		End:     seconds(seg.End),
		Text:    text,
	}
}

// Some providers omit the top-level duration for short clips.
func duration(raw RawTranscript, segments []SpeakerSegment) float64 {
	if raw.Duration != nil {
		return seconds(raw.Duration)
	}
	if len(segments) == 0 {
		return 0
	}
	return segments[len(segments)-1].End
}

func language(raw RawTranscript, hint string) string {
	if raw.Language != nil {
		if lang := strings.TrimSpace(*raw.Language); lang != "" {
			return lang
		}
	}
	return strings.TrimSpace(hint)
}

func seconds(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return 0
	}
	return *v
}
