// Package transcript holds the diarized transcript model and the mapping from
// provider records to canonical segments.
package transcript

// RawTranscript is the provider result after decoding. Pointer fields are nil
// when the provider omitted them.
type RawTranscript struct {
	Language *string
	Duration *float64
	Segments []RawSegment
}

type RawSegment struct {
	Speaker *string
	Start   *float64
	End     *float64
	Text    *string
}

// SpeakerSegment is one contiguous utterance attributed to a speaker.
type SpeakerSegment struct {
	Speaker string
	Start   float64
	End     float64
	Text    string
}

type Metadata struct {
	Language string
	Duration float64
	Summary  *string
}

// Result is the caller-visible artifact of one transcription run.
type Result struct {
	Segments []SpeakerSegment
	Metadata Metadata
}
