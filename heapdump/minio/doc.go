// Package minio stores heap snapshots in MinIO or any S3-compatible object
// store.
package minio
