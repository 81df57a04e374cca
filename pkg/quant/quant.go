// Package quant implements symmetric int8 scalar quantization for embedding
// vectors. A float32 vector is stored as one signed byte per component plus
// a single per-vector scale factor, a 4x size reduction. Ranking quality at
// cosine-similarity tolerances does not require full float precision.
package quant

import (
	"errors"
	"math"
)

// ErrEmptyVector is returned when encoding or decoding a zero-length vector.
var ErrEmptyVector = errors.New("empty vector")

const maxLevel = 127

// Encode quantizes a float32 vector to int8 bytes and its scale factor.
// The scale is maxAbs/127; an all-zero vector encodes with scale 0.
func Encode(vector []float32) ([]byte, float32, error) {
	if len(vector) == 0 {
		return nil, 0, ErrEmptyVector
	}

	var maxAbs float32
	for _, v := range vector {
		if a := float32(math.Abs(float64(v))); a > maxAbs {
			maxAbs = a
		}
	}

	encoded := make([]byte, len(vector))
	if maxAbs == 0 {
		return encoded, 0, nil
	}

	scale := maxAbs / maxLevel
	for i, v := range vector {
		q := math.Round(float64(v) / float64(scale))
		if q > maxLevel {
			q = maxLevel
		} else if q < -maxLevel {
			q = -maxLevel
		}
		encoded[i] = byte(int8(q))
	}
	return encoded, scale, nil
}

// Decode reconstructs a float32 vector of the same dimensionality from its
// quantized form.
func Decode(encoded []byte, scale float32) ([]float32, error) {
	if len(encoded) == 0 {
		return nil, ErrEmptyVector
	}

	vector := make([]float32, len(encoded))
	if scale == 0 {
		return vector, nil
	}
	for i, b := range encoded {
		vector[i] = float32(int8(b)) * scale
	}
	return vector, nil
}
