// Package intensity implements intensity-domain image transforms for
// channel-first volumes: value shifts and rescaling, normalization,
// thresholding, gamma adjustment, masking, Gaussian smoothing/sharpening and
// their randomized counterparts, plus randomized histogram and Bezier
// intensity remaps and block-wise occlusion transforms.
//
// Deterministic transforms are pure. Randomized ones (Rand* types) hold a
// per-instance random state and re-sample their parameters and "apply"
// decision on every call; when the decision is false the input tensor is
// returned unchanged.
package intensity

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/medimage/pkg/core/volumes"
)

// applyFloat runs fn over the float64 values of img and casts the result back
// to img's dtype and dimensions.
func applyFloat(img *tensors.Tensor, fn func(flat []float64) ([]float64, error)) (*tensors.Tensor, error) {
	flat, err := volumes.ToFloat64(img)
	if err != nil {
		return nil, err
	}
	flat, err = fn(flat)
	if err != nil {
		return nil, err
	}
	return volumes.FromFloat64(flat, img.DType(), img.Shape().Dimensions...)
}

// applyFloatPromoted is applyFloat without the cast back for integer inputs:
// float images keep their dtype, everything else is promoted to float64. Used
// by the rescaling transforms whose output is fractional by nature.
func applyFloatPromoted(img *tensors.Tensor, fn func(flat []float64) ([]float64, error)) (*tensors.Tensor, error) {
	flat, err := volumes.ToFloat64(img)
	if err != nil {
		return nil, err
	}
	flat, err = fn(flat)
	if err != nil {
		return nil, err
	}
	dtype := img.DType()
	if dtype != dtypes.Float32 && dtype != dtypes.Float64 {
		dtype = dtypes.Float64
	}
	return volumes.FromFloat64(flat, dtype, img.Shape().Dimensions...)
}

// ShiftIntensity shifts every value by a fixed offset, keeping the input
// dtype.
type ShiftIntensity struct {
	Offset float64
}

// NewShiftIntensity returns a ShiftIntensity with the given offset.
func NewShiftIntensity(offset float64) *ShiftIntensity {
	return &ShiftIntensity{Offset: offset}
}

// Apply implements transforms.Transform.
func (s *ShiftIntensity) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	return applyFloat(img, func(flat []float64) ([]float64, error) {
		for ii := range flat {
			flat[ii] += s.Offset
		}
		return flat, nil
	})
}

// ScaleIntensity rescales the image either to a target [minV, maxV] range
// (mapping the observed min/max), or by a multiplicative `v*(1+factor)`.
type ScaleIntensity struct {
	minV, maxV float64
	factor     float64
	useRange   bool
	useFactor  bool
}

// NewScaleIntensity rescales the observed value range to [minV, maxV].
func NewScaleIntensity(minV, maxV float64) *ScaleIntensity {
	return &ScaleIntensity{minV: minV, maxV: maxV, useRange: true}
}

// NewScaleIntensityFactor scales values by `v * (1 + factor)`.
func NewScaleIntensityFactor(factor float64) *ScaleIntensity {
	return &ScaleIntensity{factor: factor, useFactor: true}
}

// Apply implements transforms.Transform.
func (s *ScaleIntensity) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	switch {
	case s.useRange:
		return applyFloat(img, func(flat []float64) ([]float64, error) {
			return rescaleArray(flat, s.minV, s.maxV), nil
		})
	case s.useFactor:
		return applyFloat(img, func(flat []float64) ([]float64, error) {
			for ii := range flat {
				flat[ii] *= 1 + s.factor
			}
			return flat, nil
		})
	}
	return nil, errors.New("ScaleIntensity: neither target range nor factor configured")
}

// rescaleArray linearly maps the observed [min, max] of flat to [minV, maxV],
// in place. A constant input degenerates to `v * minV`.
func rescaleArray(flat []float64, minV, maxV float64) []float64 {
	minA, maxA := volumes.MinMax(flat)
	if minA == maxA {
		for ii := range flat {
			flat[ii] *= minV
		}
		return flat
	}
	scale := (maxV - minV) / (maxA - minA)
	for ii := range flat {
		flat[ii] = (flat[ii]-minA)*scale + minV
	}
	return flat
}

// NormalizeIntensity subtracts the mean and divides by the standard deviation
// (or by explicitly provided subtrahend/divisor arrays), optionally only over
// non-zero values and optionally per channel.
type NormalizeIntensity struct {
	// Subtrahend and Divisor, when set, must be set in pair and match the
	// size of the data being normalized (the whole image, or one channel
	// when ChannelWise).
	Subtrahend, Divisor []float64
	NonZero             bool
	ChannelWise         bool
}

// NewNormalizeIntensity returns a NormalizeIntensity using the calculated
// mean and standard deviation.
func NewNormalizeIntensity(nonZero, channelWise bool) *NormalizeIntensity {
	return &NormalizeIntensity{NonZero: nonZero, ChannelWise: channelWise}
}

// Apply implements transforms.Transform.
func (n *NormalizeIntensity) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	if (n.Subtrahend == nil) != (n.Divisor == nil) {
		return nil, errors.New("NormalizeIntensity: subtrahend and divisor must be set in pair")
	}
	return applyFloat(img, func(flat []float64) ([]float64, error) {
		if !n.ChannelWise {
			return flat, n.normalize(flat)
		}
		channels := volumes.Channels(img)
		channelSize := len(flat) / channels
		for c := 0; c < channels; c++ {
			if err := n.normalize(flat[c*channelSize : (c+1)*channelSize]); err != nil {
				return nil, err
			}
		}
		return flat, nil
	})
}

// normalize runs in place over one normalization unit (image or channel).
func (n *NormalizeIntensity) normalize(flat []float64) error {
	selected := func(v float64) bool { return !n.NonZero || v != 0 }
	count := 0
	for _, v := range flat {
		if selected(v) {
			count++
		}
	}
	if count == 0 {
		return nil
	}
	if n.Subtrahend != nil {
		if len(n.Subtrahend) != len(flat) || len(n.Divisor) != len(flat) {
			return errors.Errorf(
				"NormalizeIntensity: subtrahend/divisor sizes (%d, %d) do not match data size %d",
				len(n.Subtrahend), len(n.Divisor), len(flat))
		}
		for ii, v := range flat {
			if selected(v) {
				flat[ii] = (v - n.Subtrahend[ii]) / n.Divisor[ii]
			}
		}
		return nil
	}
	var sum float64
	for _, v := range flat {
		if selected(v) {
			sum += v
		}
	}
	mean := sum / float64(count)
	var varSum float64
	for _, v := range flat {
		if selected(v) {
			d := v - mean
			varSum += d * d
		}
	}
	std := math.Sqrt(varSum / float64(count))
	if std == 0 {
		std = 1
	}
	for ii, v := range flat {
		if selected(v) {
			flat[ii] = (v - mean) / std
		}
	}
	return nil
}

// ThresholdIntensity keeps values above (or below) a threshold and fills the
// rest with cval. Output dtype equals input dtype.
type ThresholdIntensity struct {
	Threshold float64
	Above     bool
	CVal      float64
}

// NewThresholdIntensity returns a ThresholdIntensity.
func NewThresholdIntensity(threshold float64, above bool, cval float64) *ThresholdIntensity {
	return &ThresholdIntensity{Threshold: threshold, Above: above, CVal: cval}
}

// Apply implements transforms.Transform.
func (t *ThresholdIntensity) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	return applyFloat(img, func(flat []float64) ([]float64, error) {
		for ii, v := range flat {
			keep := v > t.Threshold
			if !t.Above {
				keep = v < t.Threshold
			}
			if !keep {
				flat[ii] = t.CVal
			}
		}
		return flat, nil
	})
}

// ScaleIntensityRange linearly maps [AMin, AMax] to [BMin, BMax], optionally
// clipping the output to the target range. The output is a float tensor:
// integer inputs are promoted instead of truncated back.
type ScaleIntensityRange struct {
	AMin, AMax float64
	BMin, BMax float64
	Clip       bool
}

// NewScaleIntensityRange returns a ScaleIntensityRange.
func NewScaleIntensityRange(aMin, aMax, bMin, bMax float64, clip bool) *ScaleIntensityRange {
	return &ScaleIntensityRange{AMin: aMin, AMax: aMax, BMin: bMin, BMax: bMax, Clip: clip}
}

// Apply implements transforms.Transform.
func (s *ScaleIntensityRange) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	return applyFloatPromoted(img, func(flat []float64) ([]float64, error) {
		if s.AMax-s.AMin == 0 {
			klog.Warning("ScaleIntensityRange: zero input range (aMin == aMax), falling back to additive shift")
			for ii := range flat {
				flat[ii] = flat[ii] - s.AMin + s.BMin
			}
			return flat, nil
		}
		scale := (s.BMax - s.BMin) / (s.AMax - s.AMin)
		for ii := range flat {
			v := (flat[ii]-s.AMin)*scale + s.BMin
			if s.Clip {
				v = clamp(v, s.BMin, s.BMax)
			}
			flat[ii] = v
		}
		return flat, nil
	})
}

// ScaleIntensityRangePercentiles maps the value range between the lower and
// upper percentiles of the input to [BMin, BMax]. With Relative, the target
// bounds are first rescaled to the corresponding percentiles within
// [BMin, BMax]. The output is a float tensor (see ScaleIntensityRange).
type ScaleIntensityRangePercentiles struct {
	Lower, Upper float64
	BMin, BMax   float64
	Clip         bool
	Relative     bool
}

// NewScaleIntensityRangePercentiles validates the percentiles and returns the
// transform.
func NewScaleIntensityRangePercentiles(lower, upper, bMin, bMax float64, clip, relative bool) (*ScaleIntensityRangePercentiles, error) {
	if lower < 0 || lower > 100 || upper < 0 || upper > 100 {
		return nil, errors.Errorf(
			"ScaleIntensityRangePercentiles: percentiles must be in [0, 100], got lower=%g upper=%g", lower, upper)
	}
	return &ScaleIntensityRangePercentiles{
		Lower: lower, Upper: upper, BMin: bMin, BMax: bMax, Clip: clip, Relative: relative,
	}, nil
}

// Apply implements transforms.Transform.
func (s *ScaleIntensityRangePercentiles) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	flat, err := volumes.ToFloat64(img)
	if err != nil {
		return nil, err
	}
	aMin := volumes.Percentile(flat, s.Lower)
	aMax := volumes.Percentile(flat, s.Upper)
	bMin, bMax := s.BMin, s.BMax
	if s.Relative {
		bMin = (s.BMax-s.BMin)*(s.Lower/100) + s.BMin
		bMax = (s.BMax-s.BMin)*(s.Upper/100) + s.BMin
	}
	scaler := &ScaleIntensityRange{AMin: aMin, AMax: aMax, BMin: bMin, BMax: bMax}
	out, err := scaler.Apply(img)
	if err != nil {
		return nil, err
	}
	if !s.Clip {
		return out, nil
	}
	return applyFloat(out, func(flat []float64) ([]float64, error) {
		for ii := range flat {
			flat[ii] = clamp(flat[ii], s.BMin, s.BMax)
		}
		return flat, nil
	})
}

// AdjustContrast adjusts contrast by gamma:
// `((v - min) / (range + eps))^gamma * range + min`.
// The output is a float tensor; integer inputs are promoted.
type AdjustContrast struct {
	Gamma float64
}

// NewAdjustContrast returns an AdjustContrast with the given gamma.
func NewAdjustContrast(gamma float64) *AdjustContrast {
	return &AdjustContrast{Gamma: gamma}
}

const contrastEpsilon = 1e-7

// Apply implements transforms.Transform.
func (a *AdjustContrast) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	return applyFloatPromoted(img, func(flat []float64) ([]float64, error) {
		imgMin, imgMax := volumes.MinMax(flat)
		imgRange := imgMax - imgMin
		for ii, v := range flat {
			flat[ii] = math.Pow((v-imgMin)/(imgRange+contrastEpsilon), a.Gamma)*imgRange + imgMin
		}
		return flat, nil
	})
}

// MaskIntensity zeroes image values wherever the mask is <= 0. A
// single-channel mask applies to every image channel; otherwise the channel
// counts must match.
type MaskIntensity struct {
	Mask *tensors.Tensor
}

// NewMaskIntensity returns a MaskIntensity with the given mask volume.
func NewMaskIntensity(mask *tensors.Tensor) *MaskIntensity {
	return &MaskIntensity{Mask: mask}
}

// SetMask implements transforms.MaskedTransform.
func (m *MaskIntensity) SetMask(mask *tensors.Tensor) { m.Mask = mask }

// Apply implements transforms.Transform.
func (m *MaskIntensity) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	if m.Mask == nil {
		return nil, errors.New("MaskIntensity: mask not set")
	}
	maskChannels := volumes.Channels(m.Mask)
	imgChannels := volumes.Channels(img)
	if maskChannels != 1 && maskChannels != imgChannels {
		return nil, errors.Errorf(
			"MaskIntensity: mask with %d channels cannot be applied to image with %d channels (must be 1 or match)",
			maskChannels, imgChannels)
	}
	maskFlat, err := volumes.ToFloat64(m.Mask)
	if err != nil {
		return nil, err
	}
	return applyFloat(img, func(flat []float64) ([]float64, error) {
		channelSize := len(flat) / imgChannels
		if maskChannels == 1 && len(maskFlat) != channelSize {
			return nil, errors.Errorf(
				"MaskIntensity: mask spatial size %d does not match image channel size %d",
				len(maskFlat), channelSize)
		}
		if maskChannels != 1 && len(maskFlat) != len(flat) {
			return nil, errors.Errorf(
				"MaskIntensity: mask size %d does not match image size %d", len(maskFlat), len(flat))
		}
		for ii := range flat {
			maskIdx := ii
			if maskChannels == 1 {
				maskIdx = ii % channelSize
			}
			if maskFlat[maskIdx] <= 0 {
				flat[ii] = 0
			}
		}
		return flat, nil
	})
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
