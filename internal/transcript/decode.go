package transcript

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DecodeRaw decodes a provider JSON body into a RawTranscript.
func DecodeRaw(data []byte) (RawTranscript, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return RawTranscript{}, fmt.Errorf("invalid transcription response: %w", err)
	}
	if m == nil {
		return RawTranscript{}, fmt.Errorf("invalid transcription response: not an object")
	}
	return FromMap(m), nil
}

// FromMap converts a loosely typed provider mapping into a RawTranscript.
// Numeric fields may arrive as JSON numbers or numeric strings; anything that
// does not coerce is treated as absent.
func FromMap(m map[string]any) RawTranscript {
	raw := RawTranscript{
		Language: stringField(m, "language"),
		Duration: floatField(m, "duration"),
	}

	items, _ := m["segments"].([]any)
	raw.Segments = make([]RawSegment, 0, len(items))
	for _, item := range items {
		seg, ok := item.(map[string]any)
		if !ok {
			seg = map[string]any{}
		}
		raw.Segments = append(raw.Segments, RawSegment{
			Speaker: stringField(seg, "speaker"),
			Start:   floatField(seg, "start"),
			End:     floatField(seg, "end"),
			Text:    stringField(seg, "text"),
		})
	}
	return raw
}

func stringField(m map[string]any, key string) *string {
	switch v := m[key].(type) {
	case string:
		return &v
	case float64:
		s := strconv.FormatFloat(v, 'f', -1, 64)
		return &s
	default:
		return nil
	}
}

func floatField(m map[string]any, key string) *float64 {
	var f float64
	switch v := m[key].(type) {
	case float64:
		f = v
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	// "Infinity" and "NaN" parse as floats but cannot be encoded as JSON.
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return &f
}
