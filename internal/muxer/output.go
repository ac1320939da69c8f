package muxer

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Output stores finished files. It also satisfies hls.FileWriter so playlists
// land next to the media they describe.
type Output interface {
	// WriteFile replaces name with data.
	WriteFile(name string, data []byte) error
	// Append adds data to the end of name and returns the offset it was
	// written at.
	Append(name string, data []byte) (offset uint64, err error)
}

// MemoryOutput keeps files in memory.
type MemoryOutput struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemoryOutput() *MemoryOutput {
	return &MemoryOutput{files: make(map[string][]byte)}
}

func (o *MemoryOutput) WriteFile(name string, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files[name] = append([]byte(nil), data...)
	return nil
}

func (o *MemoryOutput) Append(name string, data []byte) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	offset := uint64(len(o.files[name]))
	o.files[name] = append(o.files[name], data...)
	return offset, nil
}

// File returns a copy of name's contents.
func (o *MemoryOutput) File(name string) ([]byte, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	b, ok := o.files[name]
	return append([]byte(nil), b...), ok
}

// Names lists stored files in lexical order.
func (o *MemoryOutput) Names() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.files))
	for n := range o.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DirOutput writes files below a directory. Names are slash separated and
// must stay inside the directory.
type DirOutput struct {
	dir string
}

// NewDirOutput creates dir if needed.
func NewDirOutput(dir string) (*DirOutput, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output directory")
	}
	return &DirOutput{dir: dir}, nil
}

func (o *DirOutput) Dir() string { return o.dir }

func (o *DirOutput) path(name string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", errors.Errorf("output name %q escapes %s", name, o.dir)
	}
	p := filepath.Join(o.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", errors.Wrap(err, "create output directory")
	}
	return p, nil
}

// WriteFile writes to a temporary file first so readers never see a partial
// playlist or segment.
func (o *DirOutput) WriteFile(name string, data []byte) error {
	p, err := o.path(name)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "write %s", name)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "close %s", name)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), p), "rename %s", name)
}

func (o *DirOutput) Append(name string, data []byte) (uint64, error) {
	p, err := o.path(name)
	if err != nil {
		return 0, err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", name)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", name)
	}
	if _, err := f.Write(data); err != nil {
		return 0, errors.Wrapf(err, "append %s", name)
	}
	return uint64(st.Size()), nil
}
