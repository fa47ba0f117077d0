package intensity

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/gomlx/medimage/pkg/core/volumes"
	"github.com/gomlx/medimage/pkg/transforms"
)

// blockRegion is an axis-aligned box over the spatial axes.
type blockRegion struct {
	start, size []int
}

// forEachVoxel walks the flat (spatial) offsets covered by the region, for a
// volume with the given spatial dims.
func (b *blockRegion) forEachVoxel(spatial []int, fn func(offset int)) {
	strides := make([]int, len(spatial))
	stride := 1
	for ii := len(spatial) - 1; ii >= 0; ii-- {
		strides[ii] = stride
		stride *= spatial[ii]
	}
	idx := make([]int, len(spatial))
	for {
		offset := 0
		for ii := range idx {
			offset += (b.start[ii] + idx[ii]) * strides[ii]
		}
		fn(offset)
		// Row-major increment over the block.
		axis := len(idx) - 1
		for axis >= 0 {
			idx[axis]++
			if idx[axis] < b.size[axis] {
				break
			}
			idx[axis] = 0
			axis--
		}
		if axis < 0 {
			return
		}
	}
}

func checkBlockSpatial(img *tensors.Tensor) ([]int, error) {
	spatial := volumes.SpatialDims(img)
	if len(spatial) != 2 && len(spatial) != 3 {
		return nil, errors.Errorf("block transforms require 2 or 3 spatial axes, image has %d", len(spatial))
	}
	return spatial, nil
}

// RandLocalPixelShuffle shuffles the voxels inside many small random blocks,
// each spanning up to a tenth of the corresponding spatial dim. All channels
// are shuffled, each independently within the shared block coordinates.
type RandLocalPixelShuffle struct {
	transforms.RandState
	Prob float64
	// Number of blocks is sampled from [MinBlocks, MaxBlocks).
	MinBlocks, MaxBlocks int
}

// NewRandLocalPixelShuffle returns a RandLocalPixelShuffle with the default
// block count range of [50, 200).
func NewRandLocalPixelShuffle(prob float64) *RandLocalPixelShuffle {
	return &RandLocalPixelShuffle{Prob: prob, MinBlocks: 50, MaxBlocks: 200}
}

// Apply implements transforms.Transform.
func (r *RandLocalPixelShuffle) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	spatial, err := checkBlockSpatial(img)
	if err != nil {
		return nil, err
	}
	for _, d := range spatial {
		if d/10 < 2 {
			return nil, errors.Errorf(
				"RandLocalPixelShuffle: spatial dims %v too small, every dim must be at least 20", spatial)
		}
	}
	// The block count is drawn before the apply decision, so seeded runs stay
	// aligned across skipped calls.
	numBlocks := r.IntBetween(r.MinBlocks, r.MaxBlocks)
	if !r.WillApply(r.Prob) {
		return img, nil
	}
	channels := volumes.Channels(img)
	return applyFloat(img, func(flat []float64) ([]float64, error) {
		channelSize := len(flat) / channels
		for b := 0; b < numBlocks; b++ {
			region := blockRegion{start: make([]int, len(spatial)), size: make([]int, len(spatial))}
			for ii, d := range spatial {
				region.size[ii] = r.IntBetween(1, d/10)
			}
			for ii, d := range spatial {
				region.start[ii] = r.IntBetween(0, d-region.size[ii])
			}
			var offsets []int
			region.forEachVoxel(spatial, func(offset int) {
				offsets = append(offsets, offset)
			})
			for c := 0; c < channels; c++ {
				base := c * channelSize
				// Fisher-Yates over the block's voxels.
				for ii := len(offsets) - 1; ii > 0; ii-- {
					jj := r.IntBetween(0, ii+1)
					flat[base+offsets[ii]], flat[base+offsets[jj]] =
						flat[base+offsets[jj]], flat[base+offsets[ii]]
				}
			}
		}
		return flat, nil
	})
}

// RandImageInpainting replaces a few random inner blocks (between a sixth and
// a third of each spatial dim, at least 3 voxels from every border) with
// uniform noise in [0, 1).
type RandImageInpainting struct {
	transforms.RandState
	Prob float64
	// Number of blocks is sampled from [MinBlocks, MaxBlocks).
	MinBlocks, MaxBlocks int
}

// NewRandImageInpainting returns a RandImageInpainting with the default block
// count range of [3, 6).
func NewRandImageInpainting(prob float64) *RandImageInpainting {
	return &RandImageInpainting{Prob: prob, MinBlocks: 3, MaxBlocks: 6}
}

const inpaintMargin = 3

// Apply implements transforms.Transform.
func (r *RandImageInpainting) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	spatial, err := checkBlockSpatial(img)
	if err != nil {
		return nil, err
	}
	for _, d := range spatial {
		// Largest block is d/3-1; it must still leave the two margins free.
		if d/6 < 1 || d-(d/3-1)-inpaintMargin <= inpaintMargin {
			return nil, errors.Errorf(
				"RandImageInpainting: spatial dims %v too small for inner blocks with margin %d",
				spatial, inpaintMargin)
		}
	}
	// Both draws happen before the early return, so seeded runs stay aligned
	// across skipped calls.
	do := r.WillApply(r.Prob)
	numBlocks := r.IntBetween(r.MinBlocks, r.MaxBlocks)
	if !do {
		return img, nil
	}
	channels := volumes.Channels(img)
	return applyFloat(img, func(flat []float64) ([]float64, error) {
		channelSize := len(flat) / channels
		for b := 0; b < numBlocks; b++ {
			region := blockRegion{start: make([]int, len(spatial)), size: make([]int, len(spatial))}
			for ii, d := range spatial {
				region.size[ii] = r.IntBetween(d/6, d/3)
			}
			for ii, d := range spatial {
				region.start[ii] = r.IntBetween(inpaintMargin, d-region.size[ii]-inpaintMargin)
			}
			region.forEachVoxel(spatial, func(offset int) {
				for c := 0; c < channels; c++ {
					flat[c*channelSize+offset] = r.Rand().Float64()
				}
			})
		}
		return flat, nil
	})
}

// RandImageOutpainting replaces the whole image with uniform noise in [0, 1)
// and then restores the original content inside a few large random blocks.
type RandImageOutpainting struct {
	transforms.RandState
	Prob float64
	// One block is always restored; the sample from [MinBlocks, MaxBlocks)
	// adds as many more.
	MinBlocks, MaxBlocks int
}

// NewRandImageOutpainting returns a RandImageOutpainting with the default
// block count range of [3, 6).
func NewRandImageOutpainting(prob float64) *RandImageOutpainting {
	return &RandImageOutpainting{Prob: prob, MinBlocks: 3, MaxBlocks: 6}
}

const outpaintMargin = 3

// Apply implements transforms.Transform.
func (r *RandImageOutpainting) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	spatial, err := checkBlockSpatial(img)
	if err != nil {
		return nil, err
	}
	for _, d := range spatial {
		// Largest kept block is d - 3d/8; it must fit inside the margins.
		if 4*d/8 <= 3*d/8 || 3*d/8 <= 2*outpaintMargin {
			return nil, errors.Errorf(
				"RandImageOutpainting: spatial dims %v too small for kept blocks with margin %d",
				spatial, outpaintMargin)
		}
	}
	// Both draws happen before the early return, so seeded runs stay aligned
	// across skipped calls.
	do := r.WillApply(r.Prob)
	numBlocks := r.IntBetween(r.MinBlocks, r.MaxBlocks)
	if !do {
		return img, nil
	}
	channels := volumes.Channels(img)
	return applyFloat(img, func(flat []float64) ([]float64, error) {
		original := make([]float64, len(flat))
		copy(original, flat)
		channelSize := len(flat) / channels
		restore := func(region blockRegion) {
			region.forEachVoxel(spatial, func(offset int) {
				for c := 0; c < channels; c++ {
					flat[c*channelSize+offset] = original[c*channelSize+offset]
				}
			})
		}
		// The first kept block is drawn before the noise fill, so numBlocks+1
		// blocks are restored in total.
		first := r.keptRegion(spatial)
		for ii := range flat {
			flat[ii] = r.Rand().Float64()
		}
		restore(first)
		for b := 0; b < numBlocks; b++ {
			restore(r.keptRegion(spatial))
		}
		return flat, nil
	})
}

// keptRegion samples one restored block: sizes for every axis first, then
// starts.
func (r *RandImageOutpainting) keptRegion(spatial []int) blockRegion {
	region := blockRegion{start: make([]int, len(spatial)), size: make([]int, len(spatial))}
	for ii, d := range spatial {
		region.size[ii] = d - r.IntBetween(3*d/8, 4*d/8)
	}
	for ii, d := range spatial {
		region.start[ii] = r.IntBetween(outpaintMargin, d-region.size[ii]-outpaintMargin)
	}
	return region
}
