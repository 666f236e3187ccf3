package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const filePrefix = "gijiroku-"

// Audio is a staged upload opened read-only for one outbound request.
type Audio struct {
	File *os.File
	Path string
	Name string
}

// Stage materializes upload bytes on disk for providers that need a seekable
// file handle.
type Stage struct {
	dir string
}

func New(dir string) *Stage {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = os.TempDir()
	}
	return &Stage{dir: dir}
}

func (s *Stage) Dir() string { return s.dir }

// With writes data to a uniquely named file whose suffix carries the original
// file name, reopens it read-only and hands it to fn. The file is removed when
// With returns, whether fn succeeds, fails or panics.
func (s *Stage) With(ctx context.Context, data []byte, name string, fn func(ctx context.Context, audio Audio) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, filePrefix+"*_"+suffix(name))
	if err != nil {
		return fmt.Errorf("staging: create temp file: %w", err)
	}
	path := tmp.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = fmt.Errorf("staging: remove temp file: %w", rmErr)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("staging: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("staging: close temp file: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("staging: reopen temp file: %w", err)
	}
	defer f.Close()

	return fn(ctx, Audio{File: f, Path: path, Name: name})
}

func suffix(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '*', '/', '\\':
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." {
		return "audio"
	}
	return name
}
