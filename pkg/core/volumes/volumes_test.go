package volumes

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat64RoundTrip(t *testing.T) {
	img := tensors.FromFlatDataAndDimensions([]int16{-3, 0, 7, 12, 100, -100}, 1, 2, 3)
	flat, err := ToFloat64(img)
	require.NoError(t, err)
	assert.Equal(t, []float64{-3, 0, 7, 12, 100, -100}, flat)

	back, err := FromFloat64(flat, dtypes.Int16, 1, 2, 3)
	require.NoError(t, err)
	assert.True(t, img.Equal(back))
	assert.Equal(t, dtypes.Int16, back.DType())
}

func TestFromFloat64Truncates(t *testing.T) {
	got, err := FromFloat64([]float64{1.9, -1.9}, dtypes.Int32, 2)
	require.NoError(t, err)
	assert.True(t, got.Equal(tensors.FromFlatDataAndDimensions([]int32{1, -1}, 2)))
}

func TestShapeHelpers(t *testing.T) {
	img := tensors.FromShape(shapes.Make(dtypes.Float32, 2, 4, 5, 6))
	assert.Equal(t, 3, SpatialRank(img))
	assert.Equal(t, []int{4, 5, 6}, SpatialDims(img))
	assert.Equal(t, 2, Channels(img))
}

func TestPercentile(t *testing.T) {
	flat := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 1.0, Percentile(flat, 0))
	assert.Equal(t, 3.0, Percentile(flat, 50))
	assert.Equal(t, 5.0, Percentile(flat, 100))
	assert.InDelta(t, 1.4, Percentile(flat, 10), 1e-9)
	assert.InDelta(t, 4.6, Percentile(flat, 90), 1e-9)

	assert.Panics(t, func() { Percentile(flat, -1) })
	assert.Panics(t, func() { Percentile(flat, 101) })
}

func TestInterp(t *testing.T) {
	xp := []float64{0, 1, 2}
	yp := []float64{0, 10, 40}
	got := Interp([]float64{-1, 0, 0.5, 1, 1.5, 2, 3}, xp, yp)
	want := []float64{0, 0, 5, 10, 25, 40, 40}
	for ii := range want {
		assert.InDeltaf(t, want[ii], got[ii], 1e-9, "element %d", ii)
	}
}

func TestClone(t *testing.T) {
	img := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 1, 3)
	clone, err := Clone(img)
	require.NoError(t, err)
	require.True(t, img.Equal(clone))
	require.NoError(t, tensors.MutableFlatData(clone, func(flat []float32) {
		flat[0] = 99
	}))
	assert.True(t, img.Equal(tensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 1, 3)))
}

func TestMinMax(t *testing.T) {
	min, max := MinMax([]float64{3, -1, 7, 0})
	assert.Equal(t, -1.0, min)
	assert.Equal(t, 7.0, max)
}
