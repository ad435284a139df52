// Package s3 stores heap snapshots in Amazon S3.
//
// # Usage
//
//	sink, err := s3.NewFromEnv(ctx, "my-bucket", s3.WithPrefix("dumps/"))
//	...
//	err = engine.DumpHeapTo(ctx, sink, "heap-1.vmgc", heapdump.CodecZstd)
//
// Snapshots are streamed through the S3 upload manager: small snapshots are
// sent with a single PutObject, larger ones as a multipart upload that is
// aborted when the upload fails.
package s3
