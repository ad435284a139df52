// Package conv provides checked integer conversions and size arithmetic.
//
// The checked conversions guard values that cross a width boundary, such as
// object sizes reported by the host or counts decoded from a heap dump. For
// conversions that are provably safe by construction (loop indices, values
// already clamped to a space extent) use a direct cast instead.
package conv
