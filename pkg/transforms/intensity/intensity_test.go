package intensity

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func image1D(values ...float64) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(values, 1, len(values))
}

func flatValues(t *testing.T, img *tensors.Tensor) []float64 {
	t.Helper()
	var out []float64
	require.NoError(t, tensors.ConstFlatData(img, func(flat []float64) {
		out = append(out, flat...)
	}))
	return out
}

func TestShiftIntensity(t *testing.T) {
	out, err := NewShiftIntensity(1.5).Apply(image1D(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5, 3.5, 4.5}, flatValues(t, out))
}

func TestShiftIntensityKeepsDType(t *testing.T) {
	img := tensors.FromFlatDataAndDimensions([]int16{1, 2, 3}, 1, 3)
	out, err := NewShiftIntensity(2).Apply(img)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Int16, out.DType())
	assert.True(t, out.Equal(tensors.FromFlatDataAndDimensions([]int16{3, 4, 5}, 1, 3)))
}

func TestScaleIntensityRangeMode(t *testing.T) {
	out, err := NewScaleIntensity(0, 1).Apply(image1D(1, 2, 3))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.5, 1}, flatValues(t, out), 1e-12)
}

func TestScaleIntensityConstantInput(t *testing.T) {
	// A constant image degenerates to multiplication by the target minimum.
	out, err := NewScaleIntensity(2, 5).Apply(image1D(3, 3, 3))
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 6, 6}, flatValues(t, out))
}

func TestScaleIntensityFactorMode(t *testing.T) {
	out, err := NewScaleIntensityFactor(0.5).Apply(image1D(2, 4))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3, 6}, flatValues(t, out), 1e-12)
}

func TestScaleIntensityUnconfigured(t *testing.T) {
	_, err := (&ScaleIntensity{}).Apply(image1D(1))
	assert.Error(t, err)
}

func TestNormalizeIntensity(t *testing.T) {
	out, err := NewNormalizeIntensity(false, false).Apply(image1D(0, 1, 3))
	require.NoError(t, err)
	got := flatValues(t, out)
	var sum float64
	for _, v := range got {
		sum += v
	}
	assert.InDelta(t, 0, sum, 1e-12)
	var varSum float64
	for _, v := range got {
		varSum += v * v
	}
	assert.InDelta(t, 1, varSum/3, 1e-12)
}

func TestNormalizeIntensityNonZero(t *testing.T) {
	// Zeros are excluded from the statistics and left untouched.
	out, err := NewNormalizeIntensity(true, false).Apply(image1D(0, 1, 3))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, -1, 1}, flatValues(t, out), 1e-12)
}

func TestNormalizeIntensityChannelWise(t *testing.T) {
	img := tensors.FromFlatDataAndDimensions([]float64{1, 3, 10, 30}, 2, 2)
	out, err := NewNormalizeIntensity(false, true).Apply(img)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-1, 1, -1, 1}, flatValues(t, out), 1e-12)
}

func TestNormalizeIntensityExplicitStats(t *testing.T) {
	n := &NormalizeIntensity{Subtrahend: []float64{1, 1, 1}, Divisor: []float64{2, 2, 2}}
	out, err := n.Apply(image1D(1, 3, 5))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, flatValues(t, out))

	_, err = (&NormalizeIntensity{Subtrahend: []float64{1}}).Apply(image1D(1))
	assert.Error(t, err, "subtrahend without divisor")
	_, err = n.Apply(image1D(1, 2))
	assert.Error(t, err, "size mismatch")
}

func TestThresholdIntensity(t *testing.T) {
	above, err := NewThresholdIntensity(2, true, 0).Apply(image1D(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 3}, flatValues(t, above))

	below, err := NewThresholdIntensity(2, false, -1).Apply(image1D(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -1, -1}, flatValues(t, below))
}

func TestThresholdIntensityKeepsDType(t *testing.T) {
	img := tensors.FromFlatDataAndDimensions([]uint8{1, 5, 9}, 1, 3)
	out, err := NewThresholdIntensity(4, true, 0).Apply(img)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Uint8, out.DType())
}

func TestScaleIntensityRange(t *testing.T) {
	out, err := NewScaleIntensityRange(0, 10, 0, 1, false).Apply(image1D(-5, 0, 5, 10, 20))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-0.5, 0, 0.5, 1, 2}, flatValues(t, out), 1e-12)

	clipped, err := NewScaleIntensityRange(0, 10, 0, 1, true).Apply(image1D(-5, 0, 5, 10, 20))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0, 0.5, 1, 1}, flatValues(t, clipped), 1e-12)
}

func TestScaleIntensityRangeRoundTrip(t *testing.T) {
	forward := NewScaleIntensityRange(-100, 300, 0, 1, false)
	inverse := NewScaleIntensityRange(0, 1, -100, 300, false)
	in := image1D(-100, -7.5, 42, 300)
	mid, err := forward.Apply(in)
	require.NoError(t, err)
	out, err := inverse.Apply(mid)
	require.NoError(t, err)
	assert.InDeltaSlice(t, flatValues(t, in), flatValues(t, out), 1e-9)
}

func TestScaleIntensityRangePromotesIntegers(t *testing.T) {
	img := tensors.FromFlatDataAndDimensions([]uint8{0, 64, 128, 192, 255}, 1, 5)
	out, err := NewScaleIntensityRange(0, 255, 0, 1, false).Apply(img)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float64, out.DType())
	assert.InDeltaSlice(t,
		[]float64{0, 64.0 / 255, 128.0 / 255, 192.0 / 255, 1}, flatValues(t, out), 1e-12)
}

func TestScaleIntensityRangeKeepsFloat32(t *testing.T) {
	img := tensors.FromFlatDataAndDimensions([]float32{0, 5, 10}, 1, 3)
	out, err := NewScaleIntensityRange(0, 10, 0, 1, false).Apply(img)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float32, out.DType())
	assert.True(t, out.Equal(tensors.FromFlatDataAndDimensions([]float32{0, 0.5, 1}, 1, 3)))
}

func TestScaleIntensityRangeZeroInputRange(t *testing.T) {
	// aMin == aMax falls back to an additive shift.
	out, err := NewScaleIntensityRange(5, 5, 2, 9, false).Apply(image1D(4, 5, 6))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, flatValues(t, out))
}

func TestScaleIntensityRangePercentiles(t *testing.T) {
	s, err := NewScaleIntensityRangePercentiles(0, 100, 0, 1, false, false)
	require.NoError(t, err)
	out, err := s.Apply(image1D(10, 20, 30))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.5, 1}, flatValues(t, out), 1e-12)
}

func TestScaleIntensityRangePercentilesRelative(t *testing.T) {
	s, err := NewScaleIntensityRangePercentiles(25, 75, 0, 100, false, true)
	require.NoError(t, err)
	out, err := s.Apply(image1D(0, 1, 2, 3, 4))
	require.NoError(t, err)
	// The 25th/75th percentile values (1 and 3) map to the relative bounds
	// 25 and 75.
	got := flatValues(t, out)
	assert.InDelta(t, 25, got[1], 1e-12)
	assert.InDelta(t, 75, got[3], 1e-12)
}

func TestScaleIntensityRangePercentilesValidation(t *testing.T) {
	_, err := NewScaleIntensityRangePercentiles(-1, 50, 0, 1, false, false)
	assert.Error(t, err)
	_, err = NewScaleIntensityRangePercentiles(0, 101, 0, 1, false, false)
	assert.Error(t, err)
}

func TestAdjustContrastIdentityGamma(t *testing.T) {
	out, err := NewAdjustContrast(1).Apply(image1D(0, 1, 2, 3))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 1, 2, 3}, flatValues(t, out), 1e-5)
}

func TestAdjustContrastGammaTwo(t *testing.T) {
	out, err := NewAdjustContrast(2).Apply(image1D(0, 1, 2))
	require.NoError(t, err)
	// ((v-min)/range)^2 * range + min
	assert.InDeltaSlice(t, []float64{0, 0.5, 2}, flatValues(t, out), 1e-5)
}

func TestAdjustContrastPromotesIntegers(t *testing.T) {
	img := tensors.FromFlatDataAndDimensions([]int16{0, 1, 2}, 1, 3)
	out, err := NewAdjustContrast(2).Apply(img)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float64, out.DType())
	assert.InDeltaSlice(t, []float64{0, 0.5, 2}, flatValues(t, out), 1e-5)
}

func TestMaskIntensity(t *testing.T) {
	img := tensors.FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2)
	mask := tensors.FromFlatDataAndDimensions([]float64{1, 0}, 1, 2)
	out, err := NewMaskIntensity(mask).Apply(img)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 3, 0}, flatValues(t, out))
}

func TestMaskIntensityChannelMismatch(t *testing.T) {
	img := tensors.FromFlatDataAndDimensions([]float64{1, 2, 3, 4, 5, 6}, 3, 2)
	mask := tensors.FromFlatDataAndDimensions([]float64{1, 0, 1, 0}, 2, 2)
	_, err := NewMaskIntensity(mask).Apply(img)
	assert.Error(t, err)
}

func TestGaussianSmoothConstant(t *testing.T) {
	img := tensors.FromFlatDataAndDimensions(constant(24, 2.5), 1, 4, 6)
	out, err := NewGaussianSmooth(1.0).Apply(img)
	require.NoError(t, err)
	for _, v := range flatValues(t, out) {
		assert.InDelta(t, 2.5, v, 1e-9)
	}
}

func TestGaussianSmoothSigmaCount(t *testing.T) {
	img := tensors.FromFlatDataAndDimensions(constant(24, 1), 1, 4, 6)
	_, err := NewGaussianSmooth(1.0, 2.0, 3.0).Apply(img)
	assert.Error(t, err)
}

func TestGaussianSharpenConstant(t *testing.T) {
	// Both blurs leave a constant image unchanged, so sharpening does too.
	img := tensors.FromFlatDataAndDimensions(constant(24, 4), 1, 4, 6)
	out, err := NewGaussianSharpen([]float64{0.5}, []float64{1.0}, 20).Apply(img)
	require.NoError(t, err)
	for _, v := range flatValues(t, out) {
		assert.InDelta(t, 4, v, 1e-9)
	}
}

func TestGaussianSharpenBoostsEdges(t *testing.T) {
	flat := make([]float64, 31)
	for ii := 16; ii < 31; ii++ {
		flat[ii] = 1
	}
	img := tensors.FromFlatDataAndDimensions(flat, 1, 31)
	out, err := NewGaussianSharpen([]float64{0.5}, []float64{1.0}, 10).Apply(img)
	require.NoError(t, err)
	got := flatValues(t, out)
	// Overshoot on both sides of the step.
	assert.Less(t, got[14], 0.0)
	assert.Greater(t, got[17], 1.0)
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for ii := range out {
		out[ii] = v
	}
	return out
}
