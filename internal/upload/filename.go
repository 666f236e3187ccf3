package upload

import (
	"path/filepath"
	"strings"
)

var extensionsByType = map[string]string{
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/mp4":   ".m4a",
	"audio/x-m4a": ".m4a",
	"video/mp4":   ".mp4",
}

// FileName returns the base name to present to the provider. Some providers
// sniff the format from the extension, so a missing name is rebuilt from the
// declared media type.
func FileName(name, contentType string) string {
	name = strings.TrimSpace(name)
	if name != "" {
		name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	}
	if name != "" && name != "." && name != "/" {
		return name
	}
	return "audio" + extensionsByType[strings.ToLower(strings.TrimSpace(contentType))]
}
