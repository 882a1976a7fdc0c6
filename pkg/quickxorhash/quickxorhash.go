// Package quickxorhash implements the QuickXorHash algorithm used by
// OneDrive and SharePoint for server-side content integrity checks.
//
// Each input byte is XORed into a 160-bit circular bit-shift buffer, with
// the insertion point advancing 11 bits per byte. The final digest mixes in
// the total byte count.
//
// Based on the rclone implementation (BSD-0 license).
// Original source: github.com/rclone/rclone/backend/onedrive/quickxorhash
// Copyright (c) rclone contributors.
//
// Reference C# implementation by Microsoft:
// https://learn.microsoft.com/en-us/onedrive/developer/code-snippets/quickxorhash
package quickxorhash

import (
	"encoding/binary"
	"hash"
)

const (
	// Size is the length, in bytes, of a QuickXorHash digest.
	Size = 20

	// BlockSize is the preferred input block size for the hash, in bytes.
	BlockSize = 64

	// shift is the number of bits the insertion point advances per byte.
	shift = 11

	// widthInBits is the total width of the circular XOR buffer, in bits.
	widthInBits = 160

	// bitsInLastCell is the number of valid bits in the last uint64 of the
	// data array: widthInBits - (dataLen-1)*64 = 32.
	bitsInLastCell = 32

	bitsPerByte   = 8
	bitsPerUint64 = 64

	// dataLen is the number of uint64 cells needed for widthInBits bits.
	dataLen = 3
)

// digest is the internal state of a QuickXorHash computation.
type digest struct {
	data        [dataLen]uint64
	shiftSoFar  int
	lengthSoFar uint64
}

// New returns a new hash.Hash computing the QuickXorHash checksum.
func New() hash.Hash {
	return &digest{}
}

// bitsInCell returns the number of valid bits in the cell at the given index.
func bitsInCell(index int) int {
	if index == dataLen-1 {
		return bitsInLastCell
	}

	return bitsPerUint64
}

// Write absorbs more data into the running hash.
// It always returns len(p), nil.
func (d *digest) Write(p []byte) (int, error) {
	currentShift := d.shiftSoFar
	cellIndex := currentShift / bitsPerUint64
	cellOffset := currentShift % bitsPerUint64
	iterations := min(len(p), widthInBits)

	for i := range iterations {
		cellBits := bitsInCell(cellIndex)

		if cellOffset <= cellBits-bitsPerByte {
			// The byte fits entirely within this cell.
			for j := i; j < len(p); j += widthInBits {
				d.data[cellIndex] ^= uint64(p[j]) << cellOffset
			}
		} else {
			// The byte straddles two cells; pre-XOR all bytes landing at
			// this shift position, then split across the boundary.
			nextIndex := cellIndex + 1
			if cellIndex == dataLen-1 {
				nextIndex = 0
			}

			low := byte(cellBits - cellOffset)

			var xored byte
			for j := i; j < len(p); j += widthInBits {
				xored ^= p[j]
			}

			d.data[cellIndex] ^= uint64(xored) << cellOffset
			d.data[nextIndex] ^= uint64(xored) >> low
		}

		cellOffset += shift
		for cellOffset >= bitsInCell(cellIndex) {
			cellOffset -= bitsInCell(cellIndex)
			if cellIndex == dataLen-1 {
				cellIndex = 0
			} else {
				cellIndex++
			}
		}
	}

	d.shiftSoFar = (d.shiftSoFar + shift*(len(p)%widthInBits)) % widthInBits
	d.lengthSoFar += uint64(len(p))

	return len(p), nil
}

// Sum appends the current hash to b and returns the resulting slice.
// It does not change the underlying hash state.
func (d *digest) Sum(b []byte) []byte {
	dup := *d

	// Serialize the data array into 20 bytes (little-endian).
	var rgb [Size]byte
	binary.LittleEndian.PutUint64(rgb[0:8], dup.data[0])
	binary.LittleEndian.PutUint64(rgb[8:16], dup.data[1])
	// data[2] only uses bitsInLastCell (32) bits, so truncation is safe.
	binary.LittleEndian.PutUint32(rgb[16:Size], uint32(dup.data[2])) //nolint:gosec // intentional truncation

	// XOR the total length (little-endian) into the last 8 bytes.
	var lengthBytes [8]byte
	binary.LittleEndian.PutUint64(lengthBytes[:], dup.lengthSoFar)

	lengthStart := Size - len(lengthBytes)
	for i, lb := range lengthBytes {
		rgb[lengthStart+i] ^= lb
	}

	return append(b, rgb[:]...)
}

// Reset resets the hash to its initial state.
func (d *digest) Reset() {
	*d = digest{}
}

// Size returns the number of bytes Sum will return.
func (d *digest) Size() int {
	return Size
}

// BlockSize returns the hash's underlying block size.
func (d *digest) BlockSize() int {
	return BlockSize
}
