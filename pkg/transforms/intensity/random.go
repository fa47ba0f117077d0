package intensity

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/gomlx/medimage/pkg/core/volumes"
	"github.com/gomlx/medimage/pkg/transforms"
)

// RandGaussianNoise adds Gaussian noise with a standard deviation itself
// sampled from U(0, Std). The noise array is re-sampled on every call, also
// when the apply decision comes out false, so that seeded runs stay aligned
// with the reference behavior.
type RandGaussianNoise struct {
	transforms.RandState
	Prob      float64
	Mean, Std float64
}

// NewRandGaussianNoise returns a RandGaussianNoise.
func NewRandGaussianNoise(prob, mean, std float64) *RandGaussianNoise {
	return &RandGaussianNoise{Prob: prob, Mean: mean, Std: std}
}

// Apply implements transforms.Transform.
func (r *RandGaussianNoise) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	do := r.WillApply(r.Prob)
	std := r.Uniform(0, r.Std)
	noise := make([]float64, img.Shape().Size())
	for ii := range noise {
		noise[ii] = r.Rand().NormFloat64()*std + r.Mean
	}
	if !do {
		return img, nil
	}
	return applyFloat(img, func(flat []float64) ([]float64, error) {
		for ii := range flat {
			flat[ii] += noise[ii]
		}
		return flat, nil
	})
}

// RandShiftIntensity shifts by an offset sampled from U(Low, High).
type RandShiftIntensity struct {
	transforms.RandState
	Low, High float64
	Prob      float64
}

// NewRandShiftIntensity samples the offset from (-|offset|, |offset|).
func NewRandShiftIntensity(offset, prob float64) *RandShiftIntensity {
	if offset < 0 {
		offset = -offset
	}
	return &RandShiftIntensity{Low: -offset, High: offset, Prob: prob}
}

// NewRandShiftIntensityRange samples the offset from (low, high).
func NewRandShiftIntensityRange(low, high, prob float64) *RandShiftIntensity {
	return &RandShiftIntensity{Low: low, High: high, Prob: prob}
}

// Apply implements transforms.Transform. The offset is sampled before the
// apply decision.
func (r *RandShiftIntensity) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	offset := r.Uniform(r.Low, r.High)
	if !r.WillApply(r.Prob) {
		return img, nil
	}
	return (&ShiftIntensity{Offset: offset}).Apply(img)
}

// RandScaleIntensity scales by `v * (1 + factor)` with factor sampled from
// U(Low, High).
type RandScaleIntensity struct {
	transforms.RandState
	Low, High float64
	Prob      float64
}

// NewRandScaleIntensity samples the factor from (-|factor|, |factor|).
func NewRandScaleIntensity(factor, prob float64) *RandScaleIntensity {
	if factor < 0 {
		factor = -factor
	}
	return &RandScaleIntensity{Low: -factor, High: factor, Prob: prob}
}

// NewRandScaleIntensityRange samples the factor from (low, high).
func NewRandScaleIntensityRange(low, high, prob float64) *RandScaleIntensity {
	return &RandScaleIntensity{Low: low, High: high, Prob: prob}
}

// Apply implements transforms.Transform. The factor is sampled before the
// apply decision.
func (r *RandScaleIntensity) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	factor := r.Uniform(r.Low, r.High)
	if !r.WillApply(r.Prob) {
		return img, nil
	}
	return NewScaleIntensityFactor(factor).Apply(img)
}

// RandAdjustContrast applies gamma contrast adjustment with gamma sampled
// from U(GammaLow, GammaHigh).
type RandAdjustContrast struct {
	transforms.RandState
	GammaLow, GammaHigh float64
	Prob                float64
}

// NewRandAdjustContrast samples gamma from (0.5, gamma); gamma must be
// greater than 0.5.
func NewRandAdjustContrast(prob, gamma float64) (*RandAdjustContrast, error) {
	if gamma <= 0.5 {
		return nil, errors.Errorf("RandAdjustContrast: scalar gamma must be > 0.5, got %g", gamma)
	}
	return &RandAdjustContrast{GammaLow: 0.5, GammaHigh: gamma, Prob: prob}, nil
}

// NewRandAdjustContrastRange samples gamma from (low, high).
func NewRandAdjustContrastRange(prob, low, high float64) *RandAdjustContrast {
	return &RandAdjustContrast{GammaLow: low, GammaHigh: high, Prob: prob}
}

// Apply implements transforms.Transform.
func (r *RandAdjustContrast) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	do := r.WillApply(r.Prob)
	gamma := r.Uniform(r.GammaLow, r.GammaHigh)
	if !do {
		return img, nil
	}
	return (&AdjustContrast{Gamma: gamma}).Apply(img)
}

// RandHistogramShift remaps intensities through a random monotone piecewise
// linear curve: N control points spread evenly over the observed value range,
// each interior point moved uniformly between its neighbors.
type RandHistogramShift struct {
	transforms.RandState
	// Inclusive bounds on the number of control points, both >= 3.
	MinControlPoints, MaxControlPoints int
	Prob                               float64
}

// NewRandHistogramShift returns a RandHistogramShift with a fixed number of
// control points.
func NewRandHistogramShift(numControlPoints int, prob float64) (*RandHistogramShift, error) {
	return NewRandHistogramShiftRange(numControlPoints, numControlPoints, prob)
}

// NewRandHistogramShiftRange returns a RandHistogramShift choosing the number
// of control points uniformly from [min, max].
func NewRandHistogramShiftRange(minPoints, maxPoints int, prob float64) (*RandHistogramShift, error) {
	if minPoints < 3 || maxPoints < minPoints {
		return nil, errors.Errorf(
			"RandHistogramShift: control point bounds must satisfy 3 <= min <= max, got [%d, %d]",
			minPoints, maxPoints)
	}
	return &RandHistogramShift{MinControlPoints: minPoints, MaxControlPoints: maxPoints, Prob: prob}, nil
}

// controlPoints samples the reference and floating control points over [0, 1].
func (r *RandHistogramShift) controlPoints() (reference, floating []float64) {
	n := r.IntBetween(r.MinControlPoints, r.MaxControlPoints+1)
	reference = make([]float64, n)
	for ii := range reference {
		reference[ii] = float64(ii) / float64(n-1)
	}
	floating = make([]float64, n)
	copy(floating, reference)
	for ii := 1; ii < n-1; ii++ {
		floating[ii] = r.Uniform(floating[ii-1], floating[ii+1])
	}
	return reference, floating
}

// Apply implements transforms.Transform.
func (r *RandHistogramShift) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	do := r.WillApply(r.Prob)
	reference, floating := r.controlPoints()
	if !do {
		return img, nil
	}
	return applyFloat(img, func(flat []float64) ([]float64, error) {
		imgMin, imgMax := volumes.MinMax(flat)
		scale := imgMax - imgMin
		if scale == 0 {
			// Constant image, the remap curve degenerates to a point.
			return flat, nil
		}
		for ii := range reference {
			reference[ii] = reference[ii]*scale + imgMin
			floating[ii] = floating[ii]*scale + imgMin
		}
		return volumes.Interp(flat, reference, floating), nil
	})
}
