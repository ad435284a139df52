package heapdump

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Sink stores named snapshots.
type Sink interface {
	// Create opens a snapshot for writing. The snapshot is complete once the
	// returned writer is closed without error.
	Create(ctx context.Context, name string) (io.WriteCloser, error)
}

// DirSink writes snapshots as files into a local directory.
type DirSink struct {
	dir string
}

// NewDirSink creates dir if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &DirSink{dir: dir}, nil
}

// Create implements Sink. The file appears under its name only once it is
// closed.
func (s *DirSink) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("heapdump: invalid snapshot name %q", name)
	}
	f, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return nil, err
	}
	return &dirFile{f: f, path: filepath.Join(s.dir, name)}, nil
}

type dirFile struct {
	f    *os.File
	path string
}

func (d *dirFile) Write(p []byte) (int, error) { return d.f.Write(p) }

func (d *dirFile) Close() error {
	if err := d.f.Sync(); err != nil {
		_ = d.f.Close()
		_ = os.Remove(d.f.Name())
		return err
	}
	if err := d.f.Close(); err != nil {
		_ = os.Remove(d.f.Name())
		return err
	}
	return os.Rename(d.f.Name(), d.path)
}
