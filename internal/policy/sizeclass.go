package policy

import "github.com/hupe1980/vmgc/model"

// Cell sizes of the mark-sweep space. Every size is a multiple of the word
// size, and cells of class c start at block + k*sizeClasses[c].
var sizeClasses = [...]int{
	8, 16, 24, 32, 48, 64, 80, 96, 112, 128,
	160, 192, 224, 256, 320, 384, 448, 512,
	640, 768, 896, 1024, 1280, 1536, 1792, 2048,
	2560, 3072, 3584, 4096, 5120, 6144, 7168, 8192,
}

// NumSizeClasses is the number of mark-sweep size classes.
const NumSizeClasses = len(sizeClasses)

// MaxSizeClassBytes is the largest cell size.
const MaxSizeClassBytes = 8192

// smallClasses maps (size+7)/8 to a class for word-aligned requests up to
// smallLimit bytes.
var smallClasses = func() (t [smallLimit/model.BytesInWord + 1]uint8) {
	c := 0
	for i := range t {
		for sizeClasses[c] < i*model.BytesInWord {
			c++
		}
		t[i] = uint8(c) //nolint:gosec // < NumSizeClasses
	}
	return t
}()

const smallLimit = 1024

// SizeClassFor returns the smallest class whose cells hold size bytes at the
// given alignment.
func SizeClassFor(size, align int) (int, bool) {
	if align <= model.MinAlignment && size <= smallLimit {
		return int(smallClasses[(size+model.BytesInWord-1)/model.BytesInWord]), true
	}
	for c, cell := range sizeClasses {
		if cell >= size && cell%align == 0 {
			return c, true
		}
	}
	return 0, false
}

// CellSize returns the cell size of class c.
func CellSize(c int) int { return sizeClasses[c] }

// CellsPerBlock returns how many cells of class c fit a block.
func CellsPerBlock(c int) int { return model.BytesInBlock / sizeClasses[c] }
