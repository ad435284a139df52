// Package heapdump reads and writes compressed heap snapshots.
//
// A snapshot starts with a fixed header followed by a sequence of blocks:
//
//	header: "VMGCHEAP" | version u16 | codec u8 | reserved u8
//	block:  rawLen u32 | compLen u32 | data
//
// compLen 0 marks a block stored uncompressed; a block with rawLen 0 ends
// the stream. Blocks hold whole records, each a kind byte followed by
// uvarint fields:
//
//	Space   index, name, kind, start, end, reservedPages
//	Root    slot, object
//	Object  address, size, space, nrefs, refs...
//	Summary cycle, objects, bytes, roots
//
// Snapshots are written through a Sink: a local directory, S3 (see
// package heapdump/s3) or MinIO (see package heapdump/minio).
package heapdump
