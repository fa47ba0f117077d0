package intensity

import (
	"sort"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockTestImage(channels int, spatial ...int) *tensors.Tensor {
	size := channels
	for _, d := range spatial {
		size *= d
	}
	flat := make([]float64, size)
	for ii := range flat {
		flat[ii] = float64(ii) + 10 // keep every value outside the [0, 1) noise range
	}
	dims := append([]int{channels}, spatial...)
	return tensors.FromFlatDataAndDimensions(flat, dims...)
}

func TestBlockTransformsRejectSpatialRank(t *testing.T) {
	img := image1D(1, 2, 3, 4) // one spatial axis
	_, err := NewRandLocalPixelShuffle(1).Apply(img)
	assert.Error(t, err)
	_, err = NewRandImageInpainting(1).Apply(img)
	assert.Error(t, err)
	_, err = NewRandImageOutpainting(1).Apply(img)
	assert.Error(t, err)
}

func TestBlockTransformsRejectTinyDims(t *testing.T) {
	img := blockTestImage(1, 4, 4)
	_, err := NewRandLocalPixelShuffle(1).Apply(img)
	assert.Error(t, err)
	_, err = NewRandImageInpainting(1).Apply(img)
	assert.Error(t, err)
	_, err = NewRandImageOutpainting(1).Apply(img)
	assert.Error(t, err)
}

func TestRandLocalPixelShuffleProbZero(t *testing.T) {
	img := blockTestImage(1, 24, 24)
	out, err := NewRandLocalPixelShuffle(0).Apply(img)
	require.NoError(t, err)
	assert.Same(t, img, out)
}

func TestRandLocalPixelShufflePreservesValues(t *testing.T) {
	// Dims of 32 give block sizes up to 2, so some block actually swaps.
	img := blockTestImage(2, 32, 32)
	in := flatValues(t, img)
	tr := NewRandLocalPixelShuffle(1)
	tr.SetSeed(41)
	out, err := tr.Apply(img)
	require.NoError(t, err)
	got := flatValues(t, out)
	require.NotEqual(t, in, got, "some voxels must move")

	// Shuffling permutes values within each channel.
	channelSize := 32 * 32
	for c := 0; c < 2; c++ {
		wantCh := append([]float64(nil), in[c*channelSize:(c+1)*channelSize]...)
		gotCh := append([]float64(nil), got[c*channelSize:(c+1)*channelSize]...)
		sort.Float64s(wantCh)
		sort.Float64s(gotCh)
		assert.Equal(t, wantCh, gotCh)
	}
}

func TestRandImageInpainting(t *testing.T) {
	img := blockTestImage(1, 24, 24)
	in := flatValues(t, img)
	tr := NewRandImageInpainting(1)
	tr.SetSeed(43)
	out, err := tr.Apply(img)
	require.NoError(t, err)
	got := flatValues(t, out)

	noised := 0
	for ii, v := range got {
		if v == in[ii] {
			continue
		}
		noised++
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0, "replaced voxels hold uniform noise")
	}
	assert.Greater(t, noised, 0)
	assert.Less(t, noised, len(got), "inpainting must not cover the whole image")
	// Margins stay untouched: check the border rows.
	for x := 0; x < 24; x++ {
		assert.Equal(t, in[x], got[x], "first row")
		assert.Equal(t, in[23*24+x], got[23*24+x], "last row")
	}
}

func TestRandImageOutpainting(t *testing.T) {
	img := blockTestImage(1, 24, 24)
	in := flatValues(t, img)
	tr := NewRandImageOutpainting(1)
	tr.SetSeed(47)
	out, err := tr.Apply(img)
	require.NoError(t, err)
	got := flatValues(t, out)

	kept := 0
	for ii, v := range got {
		if v == in[ii] {
			kept++
			continue
		}
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0, "everything outside the kept blocks is noise")
	}
	assert.Greater(t, kept, 0, "the kept blocks retain original content")
	assert.Less(t, kept, len(got))
}

func TestRandImageOutpaintingAlwaysKeepsOneBlock(t *testing.T) {
	// Even when the sampled extra-block count is zero, the block drawn before
	// the noise fill is restored.
	img := blockTestImage(1, 24, 24)
	in := flatValues(t, img)
	tr := NewRandImageOutpainting(1)
	tr.MinBlocks, tr.MaxBlocks = 0, 1
	tr.SetSeed(53)
	out, err := tr.Apply(img)
	require.NoError(t, err)
	got := flatValues(t, out)

	kept := 0
	for ii, v := range got {
		if v == in[ii] {
			kept++
		}
	}
	assert.Greater(t, kept, 0, "one block must survive the noise fill")
	assert.Less(t, kept, len(got))
}

func TestBlockRegionForEachVoxel(t *testing.T) {
	region := blockRegion{start: []int{1, 2}, size: []int{2, 3}}
	var offsets []int
	region.forEachVoxel([]int{4, 5}, func(offset int) {
		offsets = append(offsets, offset)
	})
	assert.Equal(t, []int{7, 8, 9, 12, 13, 14}, offsets)
}
