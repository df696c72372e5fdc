// Package contenthash computes the content-addressed file hash described in
// spec §6: a 128-bit digest derived from a size-prefixed sample of a file's
// head, middle and tail, fixed sample size 64 KiB. Client and server must
// compute identical values for identical bytes.
package contenthash

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
)

// SampleSize is the size of each of the three samples taken from the file.
// For files smaller than or equal to SampleSize the entire file is digested
// instead of three separate samples.
const SampleSize = 64 * 1024

// EmptyHash is the fixed, agreed constant for a zero-byte file (spec §6,
// §8 "Empty file hash equals the fixed constant").
const EmptyHash = "00000000000000000000000000000000"

// ErrNegativeSize is returned when the caller supplies an impossible size.
var ErrNegativeSize = errors.New("contenthash: negative size")

// Hash computes the content hash of a file of the given total size, reading
// samples from r via ReadAt. r must support random access (e.g. *os.File or
// an io.ReaderAt backed by the uploaded bytes).
//
// Boundary behavior: a file of exactly SampleSize produces a deterministic
// hash equal to digesting the whole file once (head, mid and tail samples
// collapse to the same window).
func Hash(r io.ReaderAt, size int64) (string, error) {
	if size < 0 {
		return "", ErrNegativeSize
	}
	if size == 0 {
		return EmptyHash, nil
	}

	h := md5.New()
	writeSizePrefix(h, size)

	if size <= SampleSize {
		buf := make([]byte, size)
		if _, err := r.ReadAt(buf, 0); err != nil && err != io.EOF {
			return "", err
		}
		h.Write(buf)
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	for _, offset := range sampleOffsets(size) {
		buf := make([]byte, SampleSize)
		n, err := r.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return "", err
		}
		h.Write(buf[:n])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sampleOffsets returns the byte offsets of the head, middle and tail
// samples for a file of the given size (size > SampleSize).
func sampleOffsets(size int64) [3]int64 {
	head := int64(0)
	mid := size/2 - SampleSize/2
	if mid < 0 {
		mid = 0
	}
	tail := size - SampleSize
	return [3]int64{head, mid, tail}
}

// writeSizePrefix mixes the file size into the digest so two different-
// sized files whose sampled windows happen to collide still produce
// distinct hashes.
func writeSizePrefix(h io.Writer, size int64) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(size >> (8 * i))
	}
	h.Write(buf[:])
}
