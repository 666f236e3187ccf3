package upload

import (
	"mime"
	"sort"
	"strings"

	"gijiroku/internal/apperr"
)

// acceptedTypes covers wav, mp3, m4a and mp4 containers plus the generic
// fallback sent by clients that cannot name the format.
var acceptedTypes = map[string]struct{}{
	"audio/wav":                {},
	"audio/x-wav":              {},
	"audio/mpeg":               {},
	"audio/mp3":                {},
	"audio/mp4":                {},
	"audio/x-m4a":              {},
	"video/mp4":                {},
	"application/octet-stream": {},
}

type Validator struct {
	maxMB    int
	maxBytes int64
}

func NewValidator(maxMB int) *Validator {
	return &Validator{maxMB: maxMB, maxBytes: int64(maxMB) * 1024 * 1024}
}

func (v *Validator) Validate(size int64, contentType string) error {
	if err := v.ValidateSize(size); err != nil {
		return err
	}
	return ValidateContentType(contentType)
}

func (v *Validator) ValidateSize(size int64) error {
	if size > v.maxBytes {
		return apperr.Validation("uploaded file exceeds the size limit: must be %d MB or smaller", v.maxMB)
	}
	return nil
}

func ValidateContentType(contentType string) error {
	if !Accepted(contentType) {
		return apperr.Validation("unsupported file format %q: use wav/mp3/m4a/mp4 (accepted types: %s)",
			strings.TrimSpace(contentType), strings.Join(AcceptedTypes(), ", "))
	}
	return nil
}

// Accepted reports whether the declared media type is in the accepted set.
// Parameters such as "; codecs=..." are ignored.
func Accepted(contentType string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	_, ok := acceptedTypes[mediaType]
	return ok
}

func AcceptedTypes() []string {
	out := make([]string, 0, len(acceptedTypes))
	for t := range acceptedTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
