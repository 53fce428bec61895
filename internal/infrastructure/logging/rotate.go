package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kilometers-ai/plugsync/internal/infrastructure/fsutil"
)

const (
	DefaultMaxSize  = 10 << 20
	DefaultKeepSize = 8 << 20
)

var utcNow = func() time.Time { return time.Now().UTC() }

// Rotator truncates a log file from the front once it outgrows MaxSize.
type Rotator struct {
	MaxSize  int64
	KeepSize int64
	Now      func() time.Time
}

// DefaultRotator keeps the last 8 MiB of a log larger than 10 MiB.
func DefaultRotator() Rotator {
	return Rotator{MaxSize: DefaultMaxSize, KeepSize: DefaultKeepSize, Now: utcNow}
}

// Rotate rewrites path when it exceeds MaxSize so that it holds a rotation
// marker followed by the last KeepSize bytes, starting at a line boundary.
// It reports whether the file was rewritten. A missing file is not an error.
func (r Rotator) Rotate(path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if info.Size() <= r.MaxSize {
		return false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	keep := r.KeepSize
	if keep > info.Size() {
		keep = info.Size()
	}
	if _, err := f.Seek(-keep, io.SeekEnd); err != nil {
		return false, fmt.Errorf("failed to seek log file: %w", err)
	}
	tail, err := io.ReadAll(f)
	if err != nil {
		return false, fmt.Errorf("failed to read log tail: %w", err)
	}
	// drop the partial first line
	if i := bytes.IndexByte(tail, '\n'); i >= 0 {
		tail = tail[i+1:]
	}

	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now()
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[%s] [LOG ROTATED - keeping last %s]\n", now.Format("2006-01-02T15:04:05Z"), formatSize(r.KeepSize))
	buf.Write(tail)

	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return false, err
	}
	return true, nil
}

func formatSize(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	return fmt.Sprintf("%dB", n)
}
