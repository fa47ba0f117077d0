// Package volumes provides helpers to manipulate channel-first image volumes
// stored as tensors.
//
// A volume is a tensor whose first axis indexes channels and whose remaining
// axes are spatial: a 2D image is rank-3 (`[channels, height, width]`), a 3D
// volume is rank-4 (`[channels, x, y, z]`).
//
// Most transforms compute in float64 and cast back to the original dtype; the
// ToFloat64/FromFloat64 pair implements that round-trip for every numeric
// dtype, with Go conversion semantics (truncation for integer dtypes).
package volumes

import (
	"sort"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Numeric are the dtypes supported by the volume helpers: every number type
// except complex and the 16-bit floats.
type Numeric interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

// SpatialRank returns the number of spatial axes of a channel-first volume.
func SpatialRank(t *tensors.Tensor) int { return t.Rank() - 1 }

// SpatialDims returns the spatial dimensions of a channel-first volume.
func SpatialDims(t *tensors.Tensor) []int { return t.Shape().Dimensions[1:] }

// Channels returns the number of channels of a channel-first volume.
func Channels(t *tensors.Tensor) int { return t.Shape().Dimensions[0] }

// ToFloat64 returns the flat values of t converted to float64, in row-major
// order.
func ToFloat64(t *tensors.Tensor) ([]float64, error) {
	if err := t.CheckValid(); err != nil {
		return nil, err
	}
	switch t.DType() {
	case dtypes.Int8:
		return toFloat64Impl[int8](t)
	case dtypes.Int16:
		return toFloat64Impl[int16](t)
	case dtypes.Int32:
		return toFloat64Impl[int32](t)
	case dtypes.Int64:
		return toFloat64Impl[int64](t)
	case dtypes.Uint8:
		return toFloat64Impl[uint8](t)
	case dtypes.Uint16:
		return toFloat64Impl[uint16](t)
	case dtypes.Uint32:
		return toFloat64Impl[uint32](t)
	case dtypes.Uint64:
		return toFloat64Impl[uint64](t)
	case dtypes.Float32:
		return toFloat64Impl[float32](t)
	case dtypes.Float64:
		return toFloat64Impl[float64](t)
	}
	return nil, errors.Errorf("volumes: unsupported dtype %s", t.DType())
}

func toFloat64Impl[T Numeric](t *tensors.Tensor) ([]float64, error) {
	out := make([]float64, t.Size())
	err := tensors.ConstFlatData(t, func(flat []T) {
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FromFloat64 builds a tensor of the given dtype and dimensions from flat
// float64 values. Values are converted with Go conversion semantics, matching
// a numpy `astype` cast.
func FromFloat64(flat []float64, dtype dtypes.DType, dimensions ...int) (*tensors.Tensor, error) {
	switch dtype {
	case dtypes.Int8:
		return fromFloat64Impl[int8](flat, dimensions), nil
	case dtypes.Int16:
		return fromFloat64Impl[int16](flat, dimensions), nil
	case dtypes.Int32:
		return fromFloat64Impl[int32](flat, dimensions), nil
	case dtypes.Int64:
		return fromFloat64Impl[int64](flat, dimensions), nil
	case dtypes.Uint8:
		return fromFloat64Impl[uint8](flat, dimensions), nil
	case dtypes.Uint16:
		return fromFloat64Impl[uint16](flat, dimensions), nil
	case dtypes.Uint32:
		return fromFloat64Impl[uint32](flat, dimensions), nil
	case dtypes.Uint64:
		return fromFloat64Impl[uint64](flat, dimensions), nil
	case dtypes.Float32:
		return fromFloat64Impl[float32](flat, dimensions), nil
	case dtypes.Float64:
		return tensors.FromFlatDataAndDimensions(flat, dimensions...), nil
	}
	return nil, errors.Errorf("volumes: unsupported dtype %s", dtype)
}

func fromFloat64Impl[T Numeric](flat []float64, dimensions []int) *tensors.Tensor {
	converted := make([]T, len(flat))
	for ii, v := range flat {
		converted[ii] = T(v)
	}
	return tensors.FromFlatDataAndDimensions(converted, dimensions...)
}

// Clone returns an independent local copy of t, same dtype and dimensions.
func Clone(t *tensors.Tensor) (*tensors.Tensor, error) {
	flat, err := ToFloat64(t)
	if err != nil {
		return nil, err
	}
	return FromFloat64(flat, t.DType(), t.Shape().Dimensions...)
}

// MinMax returns the smallest and largest value of flat.
func MinMax(flat []float64) (min, max float64) {
	return floats.Min(flat), floats.Max(flat)
}

// Percentile returns the value at percentile p (in [0, 100]) of flat, using
// linear interpolation between closest ranks -- numpy's default.
//
// It panics if p is outside [0, 100]: that is a configuration error, not a
// data error.
func Percentile(flat []float64, p float64) float64 {
	if p < 0 || p > 100 {
		exceptions.Panicf("volumes.Percentile: percentile %g outside the range [0, 100]", p)
	}
	sorted := make([]float64, len(flat))
	copy(sorted, flat)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lower := int(rank)
	if lower == len(sorted)-1 {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[lower+1]*frac
}

// Interp maps every value of xs through the piecewise-linear function defined
// by the control points (xp, yp), writing the result to a new slice. Values
// outside [xp[0], xp[len-1]] clamp to the first/last yp -- numpy.interp's
// contract. xp must be sorted in ascending order.
func Interp(xs, xp, yp []float64) []float64 {
	out := make([]float64, len(xs))
	for ii, x := range xs {
		out[ii] = interpOne(x, xp, yp)
	}
	return out
}

func interpOne(x float64, xp, yp []float64) float64 {
	if x <= xp[0] {
		return yp[0]
	}
	last := len(xp) - 1
	if x >= xp[last] {
		return yp[last]
	}
	// First index with xp[idx] >= x; idx >= 1 because x > xp[0].
	idx := sort.SearchFloat64s(xp, x)
	if xp[idx] == x {
		return yp[idx]
	}
	x0, x1 := xp[idx-1], xp[idx]
	y0, y1 := yp[idx-1], yp[idx]
	if x1 == x0 {
		return y0
	}
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}
