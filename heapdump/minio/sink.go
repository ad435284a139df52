package minio

import (
	"context"
	"io"
	"path"
	"sync"

	"github.com/minio/minio-go/v7"
)

// Sink implements heapdump.Sink for MinIO.
type Sink struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewSink creates a sink writing into bucket. prefix is prepended to every
// snapshot key (e.g. "dumps/").
func NewSink(client *minio.Client, bucket, prefix string) *Sink {
	return &Sink{client: client, bucket: bucket, prefix: prefix}
}

func (s *Sink) key(name string) string {
	return path.Join(s.prefix, name)
}

// Create implements heapdump.Sink. The object is streamed with an unknown
// size and becomes visible once the writer is closed.
func (s *Sink) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	w := &pipeWriter{pw: pw, done: make(chan error, 1)}

	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, s.key(name), pr, -1, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

type pipeWriter struct {
	pw   *io.PipeWriter
	done chan error

	once sync.Once
	err  error
}

func (w *pipeWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *pipeWriter) Close() error {
	w.once.Do(func() {
		if err := w.pw.Close(); err != nil {
			w.err = err
			return
		}
		w.err = <-w.done
	})
	return w.err
}
