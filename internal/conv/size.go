package conv

import "math/bits"

// IsPowerOfTwo reports whether v is a positive power of two.
func IsPowerOfTwo[T Integer](v T) bool {
	return v > 0 && v&(v-1) == 0
}

// AlignUp rounds v up to a multiple of align, which must be a power of two.
func AlignUp[T Integer](v, align T) T {
	return (v + align - 1) &^ (align - 1)
}

// AlignDown rounds v down to a multiple of align, which must be a power of two.
func AlignDown[T Integer](v, align T) T {
	return v &^ (align - 1)
}

// DivCeil returns ceil(a/b) for non-negative a and positive b.
func DivCeil[T Integer](a, b T) T {
	return (a + b - 1) / b
}

// Log2 returns floor(log2(v)) for v > 0.
func Log2(v uint64) int {
	return bits.Len64(v) - 1
}
