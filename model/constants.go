package model

const (
	// LogBytesInWord is log2 of the machine word size. vmgc supports 64-bit only.
	LogBytesInWord = 3
	// BytesInWord is the machine word size.
	BytesInWord = 1 << LogBytesInWord

	// LogBytesInPage is log2 of the page size used for space accounting.
	LogBytesInPage = 12
	// BytesInPage is the page size used for space accounting.
	BytesInPage = 1 << LogBytesInPage

	// LogBytesInChunk is log2 of the chunk size. Chunks are the unit of
	// virtual-to-space mapping and of OS commit.
	LogBytesInChunk = 22
	// BytesInChunk is the chunk size (4 MiB).
	BytesInChunk = 1 << LogBytesInChunk
	// PagesInChunk is the number of pages in a chunk.
	PagesInChunk = BytesInChunk / BytesInPage

	// LogBytesInBlock is log2 of the block size used by block-structured
	// spaces (Immix, MarkSweep) and by bump-allocation buffers.
	LogBytesInBlock = 15
	// BytesInBlock is the block size (32 KiB).
	BytesInBlock = 1 << LogBytesInBlock
	// PagesInBlock is the number of pages in a block.
	PagesInBlock = BytesInBlock / BytesInPage

	// MinObjectSize is the smallest object the engine manages. A moved
	// object's first word holds its forwarding pointer.
	MinObjectSize = BytesInWord
	// MinAlignment is the minimum object alignment.
	MinAlignment = BytesInWord
)

// BytesToPagesUp converts a byte count to pages, rounding up.
func BytesToPagesUp(bytes uintptr) int {
	return int((bytes + BytesInPage - 1) >> LogBytesInPage)
}

// PagesToBytes converts a page count to bytes.
func PagesToBytes(pages int) uintptr {
	return uintptr(pages) << LogBytesInPage
}
