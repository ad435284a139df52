package s3

import (
	"context"
	"io"
	"path"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Client is the subset of the S3 API used by the upload manager.
type Client = manager.UploadAPIClient

// Option configures a Sink.
type Option func(*Sink)

// WithPrefix prepends prefix to every snapshot key.
func WithPrefix(prefix string) Option {
	return func(s *Sink) { s.prefix = prefix }
}

// WithPartSize sets the multipart part size. Default: 8MB.
func WithPartSize(n int64) Option {
	return func(s *Sink) { s.partSize = n }
}

// WithConcurrency sets the number of concurrent part uploads. Default: 5.
func WithConcurrency(n int) Option {
	return func(s *Sink) { s.concurrency = n }
}

// WithChecksum enables CRC32C integrity validation. Default: true.
func WithChecksum(enabled bool) Option {
	return func(s *Sink) { s.checksum = enabled }
}

// Sink implements heapdump.Sink for S3.
type Sink struct {
	client      Client
	bucket      string
	prefix      string
	partSize    int64
	concurrency int
	checksum    bool
	uploader    *manager.Uploader
}

// NewSink creates a sink writing into bucket.
func NewSink(client Client, bucket string, opts ...Option) *Sink {
	s := &Sink{
		client:      client,
		bucket:      bucket,
		partSize:    8 * 1024 * 1024,
		concurrency: 5,
		checksum:    true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.uploader = manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = s.partSize
		u.Concurrency = s.concurrency
	})
	return s
}

// NewFromEnv creates a sink with a client from the default AWS
// configuration chain (environment, shared config, instance role).
func NewFromEnv(ctx context.Context, bucket string, opts ...Option) (*Sink, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return NewSink(s3.NewFromConfig(cfg), bucket, opts...), nil
}

func (s *Sink) key(name string) string {
	return path.Join(s.prefix, name)
}

// Create implements heapdump.Sink. The upload runs in the background and
// completes when the writer is closed.
func (s *Sink) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	w := &uploadWriter{pw: pw, done: make(chan error, 1)}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   pr,
	}
	if s.checksum {
		input.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
	}

	go func() {
		_, err := s.uploader.Upload(ctx, input)
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

type uploadWriter struct {
	pw   *io.PipeWriter
	done chan error

	mu       sync.Mutex
	closed   bool
	closeErr error
}

func (w *uploadWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *uploadWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.closeErr
	}
	w.closed = true
	if err := w.pw.Close(); err != nil {
		w.closeErr = err
		return err
	}
	w.closeErr = <-w.done
	return w.closeErr
}
