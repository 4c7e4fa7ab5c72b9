package core

import "unsafe"

const (
	// CacheLineSize is a common cache line size, typically 64 bytes.
	CacheLineSize = 64
)

// AlignSize rounds size up to the specified alignment boundary.
func AlignSize(size, align int) int {
	return (size + align - 1) &^ (align - 1)
}

// AlignedSize calculates the size rounded up to the nearest cache line multiple.
func AlignedSize(size uintptr) uintptr {
	return (size + uintptr(CacheLineSize-1)) & ^uintptr(CacheLineSize-1)
}

// AlignedBytes allocates a byte slice with its underlying array aligned to
// CacheLineSize. Ring storage and arena regions are carved from slices
// returned by this function.
func AlignedBytes(size int) []byte {
	if size == 0 {
		return nil
	}
	buf := make([]byte, size+CacheLineSize-1)

	ptr := uintptr(unsafe.Pointer(&buf[0]))
	offset := uintptr(0)
	if mod := ptr % CacheLineSize; mod != 0 {
		offset = CacheLineSize - mod
	}
	return buf[offset : offset+uintptr(size)]
}

// PadToAlignment adds zero padding bytes to reach alignment.
func PadToAlignment(data []byte, align int) []byte {
	currentLen := len(data)
	alignedLen := AlignSize(currentLen, align)
	if alignedLen == currentLen {
		return data
	}
	padded := make([]byte, alignedLen)
	copy(padded, data)
	return padded
}
