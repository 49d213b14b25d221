package printdoc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Saver receives the finished document. It is the only side effect of a
// print job and runs after the whole document has been built.
type Saver interface {
	Save(ctx context.Context, fileName string, pdf []byte) (path string, err error)
}

// FileSaver writes documents into a directory. Files appear atomically:
// content goes to a temporary file that is renamed once synced.
type FileSaver struct {
	dir string
}

func NewFileSaver(dir string) (*FileSaver, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &FileSaver{dir: dir}, nil
}

func (s *FileSaver) Dir() string { return s.dir }

func (s *FileSaver) Save(_ context.Context, fileName string, pdf []byte) (string, error) {
	if fileName == "" || fileName != filepath.Base(fileName) || strings.HasPrefix(fileName, ".") {
		return "", fmt.Errorf("invalid document name %q", fileName)
	}

	tmp, err := os.CreateTemp(s.dir, ".badge-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(pdf); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close document: %w", err)
	}

	final := filepath.Join(s.dir, fileName)
	if err := os.Rename(tmpName, final); err != nil {
		return "", fmt.Errorf("publish document: %w", err)
	}
	committed = true
	return final, nil
}

// Open returns the path of a saved document if it exists.
func (s *FileSaver) Open(fileName string) (string, error) {
	if fileName == "" || fileName != filepath.Base(fileName) || strings.HasPrefix(fileName, ".") {
		return "", fmt.Errorf("invalid document name %q", fileName)
	}
	p := filepath.Join(s.dir, fileName)
	if _, err := os.Stat(p); err != nil {
		return "", err
	}
	return p, nil
}
