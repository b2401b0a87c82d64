// Package emit writes correction commands, one QuickStatements line per command.
package emit

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/ppiankov/popfix/internal/model"
)

// Emitter writes the commands of each entity as soon as the entity is
// complete, so a later failure never loses work already written. With
// sorting enabled lines are held until Flush.
type Emitter struct {
	w        *bufio.Writer
	sorted   bool
	held     []string
	entities int
	lines    int
}

// Option customizes an Emitter
type Option func(*Emitter)

// Sorted orders all lines lexicographically at Flush
func Sorted(on bool) Option {
	return func(e *Emitter) { e.sorted = on }
}

// New creates an emitter writing to w
func New(w io.Writer, opts ...Option) *Emitter {
	e := &Emitter{w: bufio.NewWriter(w)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit writes one entity's commands in order
func (e *Emitter) Emit(cmds []model.Command) error {
	if len(cmds) == 0 {
		return nil
	}
	e.entities++

	for _, c := range cmds {
		line := c.String()
		e.lines++
		if e.sorted {
			e.held = append(e.held, line)
			continue
		}
		if _, err := e.w.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("write command: %w", err)
		}
	}

	if e.sorted {
		return nil
	}
	return e.w.Flush()
}

// Flush writes held lines and flushes the buffer
func (e *Emitter) Flush() error {
	if e.sorted && len(e.held) > 0 {
		sort.Strings(e.held)
		for _, line := range e.held {
			if _, err := e.w.WriteString(line + "\n"); err != nil {
				return fmt.Errorf("write command: %w", err)
			}
		}
		e.held = nil
	}
	return e.w.Flush()
}

// Lines returns how many commands were emitted
func (e *Emitter) Lines() int {
	return e.lines
}

// Entities returns how many entities contributed commands
func (e *Emitter) Entities() int {
	return e.entities
}

// FileEmitter writes to a temporary file next to the target and renames it
// into place on Close, so readers never see a half-written artifact.
type FileEmitter struct {
	*Emitter
	path string
	tmp  *os.File
}

// Create opens an emitter for path
func Create(path string, opts ...Option) (*FileEmitter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &FileEmitter{
		Emitter: New(tmp, opts...),
		path:    path,
		tmp:     tmp,
	}, nil
}

// Path returns the final output path
func (f *FileEmitter) Path() string {
	return f.path
}

// Close flushes and moves the file into place
func (f *FileEmitter) Close() error {
	if err := f.Flush(); err != nil {
		f.Abort()
		return err
	}
	if err := f.tmp.Sync(); err != nil {
		f.Abort()
		return fmt.Errorf("sync output: %w", err)
	}
	if err := f.tmp.Close(); err != nil {
		_ = os.Remove(f.tmp.Name())
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Chmod(f.tmp.Name(), 0o644); err != nil {
		_ = os.Remove(f.tmp.Name())
		return fmt.Errorf("chmod output: %w", err)
	}
	if err := os.Rename(f.tmp.Name(), f.path); err != nil {
		_ = os.Remove(f.tmp.Name())
		return fmt.Errorf("commit output: %w", err)
	}
	return nil
}

// Abort discards the temporary file
func (f *FileEmitter) Abort() {
	_ = f.tmp.Close()
	_ = os.Remove(f.tmp.Name())
}
