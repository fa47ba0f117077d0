// Package kernels implements the separable Gaussian filtering used by the
// smoothing and sharpening transforms. It operates over flat row-major
// float64 data of channel-first volumes: the channel axis is never filtered.
package kernels

import (
	"math"

	"github.com/pkg/errors"
)

// Gaussian returns a normalized 1D Gaussian kernel for the given sigma,
// truncated at 4 sigma (odd length, symmetric).
func Gaussian(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	radius := int(4*sigma + 0.5)
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for ii := range kernel {
		x := float64(ii - radius)
		kernel[ii] = math.Exp(-0.5 * x * x / (sigma * sigma))
		sum += kernel[ii]
	}
	for ii := range kernel {
		kernel[ii] /= sum
	}
	return kernel
}

// Smooth convolves each spatial axis of the channel-first volume given by
// (flat, dims) with a Gaussian of the corresponding sigma. Borders replicate
// the edge value. sigmas must have one entry per spatial axis (len(dims)-1).
func Smooth(flat []float64, dims []int, sigmas []float64) ([]float64, error) {
	if len(sigmas) != len(dims)-1 {
		return nil, errors.Errorf(
			"kernels.Smooth: got %d sigmas for %d spatial axes", len(sigmas), len(dims)-1)
	}
	out := flat
	for axis, sigma := range sigmas {
		kernel := Gaussian(sigma)
		if len(kernel) == 1 {
			continue
		}
		out = convolveAxis(out, dims, axis+1, kernel)
	}
	if &out[0] == &flat[0] {
		// No axis was filtered; still return a copy, callers own the result.
		out = make([]float64, len(flat))
		copy(out, flat)
	}
	return out, nil
}

// convolveAxis runs a 1D convolution along the given axis of the row-major
// array, replicating border values.
func convolveAxis(src []float64, dims []int, axis int, kernel []float64) []float64 {
	out := make([]float64, len(src))
	radius := len(kernel) / 2
	dim := dims[axis]

	// Stride of one step along axis, and total elements of the sub-space
	// spanned by the axes after it.
	stride := 1
	for ii := axis + 1; ii < len(dims); ii++ {
		stride *= dims[ii]
	}
	// Number of "rows": product of dimensions before axis.
	rows := 1
	for ii := 0; ii < axis; ii++ {
		rows *= dims[ii]
	}
	rowSize := dim * stride

	for row := 0; row < rows; row++ {
		base := row * rowSize
		for inner := 0; inner < stride; inner++ {
			for pos := 0; pos < dim; pos++ {
				var acc float64
				for k, w := range kernel {
					sample := pos + k - radius
					if sample < 0 {
						sample = 0
					} else if sample >= dim {
						sample = dim - 1
					}
					acc += w * src[base+sample*stride+inner]
				}
				out[base+pos*stride+inner] = acc
			}
		}
	}
	return out
}
