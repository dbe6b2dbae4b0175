// Package fingerprint computes the two content digests used for duplicate
// detection: an exact SHA-256 over the raw payload bytes and a 64-bit
// perceptual average-hash over the decoded image. The exact digest catches
// byte-identical re-uploads; the perceptual digest survives recompression and
// resizing and is compared by Hamming distance.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"math/bits"

	"golang.org/x/image/draw"
)

const (
	// HashBits is the length of the perceptual digest in bits.
	HashBits = 64

	// DefaultThreshold is the Hamming distance below which two perceptual
	// digests are treated as the same picture.
	DefaultThreshold = 5

	hashSide = 8
)

// ErrNotImage reports payload bytes that do not decode as a supported image.
var ErrNotImage = errors.New("payload is not a decodable image")

// ErrLengthMismatch reports a distance computation over digests of different
// lengths.
var ErrLengthMismatch = errors.New("perceptual digests differ in length")

// Exact returns the hex SHA-256 digest of r, streamed in constant memory.
// Identical bytes always produce identical digests.
func Exact(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Perceptual returns the 64-bit average-hash of the image in r as a
// 16-character hex digest: the image is scaled to an 8x8 grayscale bitmap and
// each bit records whether its pixel is brighter than the bitmap mean, in
// row-major order from the most significant bit.
func Perceptual(r io.Reader) (string, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	return averageHash(img), nil
}

func averageHash(img image.Image) string {
	small := image.NewGray(image.Rect(0, 0, hashSide, hashSide))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	sum := 0
	for _, px := range small.Pix {
		sum += int(px)
	}
	mean := uint8(sum / (hashSide * hashSide))

	var digest uint64
	for i, px := range small.Pix {
		if px > mean {
			digest |= 1 << (HashBits - 1 - i)
		}
	}
	return fmt.Sprintf("%016x", digest)
}

// Distance returns the Hamming distance between two hex digests of equal
// length.
func Distance(a, b string) (int, error) {
	if len(a) != len(b) {
		return 0, ErrLengthMismatch
	}
	rawA, err := hex.DecodeString(a)
	if err != nil {
		return 0, fmt.Errorf("decode digest %q: %w", a, err)
	}
	rawB, err := hex.DecodeString(b)
	if err != nil {
		return 0, fmt.Errorf("decode digest %q: %w", b, err)
	}
	d := 0
	for i := range rawA {
		d += bits.OnesCount8(rawA[i] ^ rawB[i])
	}
	return d, nil
}

// SimilarityPercent converts a Hamming distance into a percentage of
// maxDistance, clamped to [0, 100].
func SimilarityPercent(distance, maxDistance int) float64 {
	if maxDistance <= 0 {
		return 0
	}
	p := float64(maxDistance-distance) / float64(maxDistance) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
