// Package logbuf provides the in-memory log ring and the rotating file
// sink the daemon logger writes through. The ring backs the admin log
// endpoint; the file sink keeps a bounded on-disk history.
package logbuf

import (
	"os"
	"path/filepath"
	"sync"
)

// DefaultCapacity is the ring size in lines.
const DefaultCapacity = 2000

// Buffer is a fixed-capacity ring of complete log lines. It implements
// io.Writer so it can sit in a zerolog multi-writer.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
	part  []byte
}

// NewBuffer allocates a ring holding capacity lines. Zero or negative
// capacity falls back to the default.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{lines: make([]string, capacity)}
}

// Write splits p into lines and appends each to the ring. Partial lines
// are held back until their newline arrives.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.part = append(b.part, p...)
	for {
		idx := -1
		for i, c := range b.part {
			if c == '\n' {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		line := string(b.part[:idx])
		b.part = b.part[idx+1:]
		if line == "" {
			continue
		}
		b.lines[b.next] = line
		b.next = (b.next + 1) % len(b.lines)
		if b.next == 0 {
			b.full = true
		}
	}
	return len(p), nil
}

// Tail returns up to n of the most recent lines, oldest first. n <= 0
// returns the whole ring.
func (b *Buffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var all []string
	if b.full {
		all = append(all, b.lines[b.next:]...)
		all = append(all, b.lines[:b.next]...)
	} else {
		all = append(all, b.lines[:b.next]...)
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Reset drops all buffered lines and any held-back partial line.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.lines {
		b.lines[i] = ""
	}
	b.next = 0
	b.full = false
	b.part = nil
}

// Len reports the number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.lines)
	}
	return b.next
}

// maxFileSize is the rotation threshold for the file sink.
const maxFileSize = 5 << 20

// FileSink appends log output to path, rotating to path+".old" when the
// file crosses the size threshold. One generation of history is kept.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
	size int64
}

// NewFileSink opens (or creates) the log file at path.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileSink{path: path, f: f, size: st.Size()}, nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size+int64(len(p)) > maxFileSize {
		if err := s.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := s.f.Write(p)
	s.size += int64(n)
	return n, err
}

func (s *FileSink) rotate() error {
	if err := s.f.Close(); err != nil {
		return err
	}
	if err := os.Rename(s.path, s.path+".old"); err != nil && !os.IsNotExist(err) {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	s.f = f
	s.size = 0
	return nil
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
