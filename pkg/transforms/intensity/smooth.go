package intensity

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/gomlx/medimage/pkg/core/volumes"
	"github.com/gomlx/medimage/pkg/transforms"
	"github.com/gomlx/medimage/pkg/transforms/kernels"
)

// GaussianSmooth filters every spatial axis with a Gaussian. Sigmas holds
// either a single sigma for all spatial axes or one sigma per axis.
type GaussianSmooth struct {
	Sigmas []float64
}

// NewGaussianSmooth returns a GaussianSmooth with the given sigma(s).
func NewGaussianSmooth(sigmas ...float64) *GaussianSmooth {
	return &GaussianSmooth{Sigmas: sigmas}
}

// Apply implements transforms.Transform.
func (g *GaussianSmooth) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	sigmas, err := expandSigmas(g.Sigmas, volumes.SpatialRank(img))
	if err != nil {
		return nil, err
	}
	return applyFloat(img, func(flat []float64) ([]float64, error) {
		return kernels.Smooth(flat, img.Shape().Dimensions, sigmas)
	})
}

// GaussianSharpen sharpens by unsharp masking: with b1 and b2 the blurs by
// Sigma1 and Sigma2 (b2 computed over b1), the output is
// `b1 + alpha * (b1 - b2)`.
type GaussianSharpen struct {
	Sigma1, Sigma2 []float64
	Alpha          float64
}

// NewGaussianSharpen returns a GaussianSharpen. sigma1 and sigma2 each hold a
// single sigma or one per spatial axis.
func NewGaussianSharpen(sigma1, sigma2 []float64, alpha float64) *GaussianSharpen {
	return &GaussianSharpen{Sigma1: sigma1, Sigma2: sigma2, Alpha: alpha}
}

// Apply implements transforms.Transform.
func (g *GaussianSharpen) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	rank := volumes.SpatialRank(img)
	sigma1, err := expandSigmas(g.Sigma1, rank)
	if err != nil {
		return nil, err
	}
	sigma2, err := expandSigmas(g.Sigma2, rank)
	if err != nil {
		return nil, err
	}
	return applyFloat(img, func(flat []float64) ([]float64, error) {
		dims := img.Shape().Dimensions
		b1, err := kernels.Smooth(flat, dims, sigma1)
		if err != nil {
			return nil, err
		}
		b2, err := kernels.Smooth(b1, dims, sigma2)
		if err != nil {
			return nil, err
		}
		for ii := range b1 {
			b1[ii] += g.Alpha * (b1[ii] - b2[ii])
		}
		return b1, nil
	})
}

// expandSigmas broadcasts a single sigma to rank axes, or validates the
// per-axis count.
func expandSigmas(sigmas []float64, rank int) ([]float64, error) {
	switch len(sigmas) {
	case 1:
		out := make([]float64, rank)
		for ii := range out {
			out[ii] = sigmas[0]
		}
		return out, nil
	case rank:
		return sigmas, nil
	}
	return nil, errors.Errorf("got %d sigmas for an image with %d spatial axes (want 1 or %d)",
		len(sigmas), rank, rank)
}

// RandGaussianSmooth smooths with a per-axis sigma sampled uniformly from the
// configured ranges. Images with more than three spatial axes are rejected.
type RandGaussianSmooth struct {
	transforms.RandState
	SigmaX, SigmaY, SigmaZ [2]float64
	Prob                   float64
}

// NewRandGaussianSmooth returns a RandGaussianSmooth with the given per-axis
// sigma ranges.
func NewRandGaussianSmooth(sigmaX, sigmaY, sigmaZ [2]float64, prob float64) *RandGaussianSmooth {
	return &RandGaussianSmooth{SigmaX: sigmaX, SigmaY: sigmaY, SigmaZ: sigmaZ, Prob: prob}
}

// Apply implements transforms.Transform.
func (r *RandGaussianSmooth) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	rank := volumes.SpatialRank(img)
	if rank < 1 || rank > 3 {
		return nil, errors.Errorf("RandGaussianSmooth supports 1 to 3 spatial axes, image has %d", rank)
	}
	do := r.WillApply(r.Prob)
	sigmas := []float64{
		r.Uniform(r.SigmaX[0], r.SigmaX[1]),
		r.Uniform(r.SigmaY[0], r.SigmaY[1]),
		r.Uniform(r.SigmaZ[0], r.SigmaZ[1]),
	}[:rank]
	if !do {
		return img, nil
	}
	return (&GaussianSmooth{Sigmas: sigmas}).Apply(img)
}

// RandGaussianSharpen sharpens with sampled sigmas and alpha. For each axis
// sigma1 is sampled from its range; sigma2 is sampled from
// [Sigma2.lower, sampled sigma1] when the range's upper bound is zero, from
// the explicit range otherwise.
type RandGaussianSharpen struct {
	transforms.RandState
	Sigma1X, Sigma1Y, Sigma1Z [2]float64
	Sigma2X, Sigma2Y, Sigma2Z [2]float64
	Alpha                     [2]float64
	Prob                      float64
}

// NewRandGaussianSharpen returns a RandGaussianSharpen with the usual
// defaults: sigma1 in [0.5, 1.0] per axis, sigma2 lower bound 0.5 with the
// sampled sigma1 as upper bound, alpha in [10, 30].
func NewRandGaussianSharpen(prob float64) *RandGaussianSharpen {
	s1 := [2]float64{0.5, 1.0}
	s2 := [2]float64{0.5, 0} // upper bound taken from the sampled sigma1
	return &RandGaussianSharpen{
		Sigma1X: s1, Sigma1Y: s1, Sigma1Z: s1,
		Sigma2X: s2, Sigma2Y: s2, Sigma2Z: s2,
		Alpha: [2]float64{10, 30},
		Prob:  prob,
	}
}

func (r *RandGaussianSharpen) sampleSigma2(bounds [2]float64, sigma1 float64) float64 {
	upper := bounds[1]
	if upper == 0 {
		upper = sigma1
	}
	return r.Uniform(bounds[0], upper)
}

// Apply implements transforms.Transform.
func (r *RandGaussianSharpen) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	rank := volumes.SpatialRank(img)
	if rank < 1 || rank > 3 {
		return nil, errors.Errorf("RandGaussianSharpen supports 1 to 3 spatial axes, image has %d", rank)
	}
	do := r.WillApply(r.Prob)
	x1 := r.Uniform(r.Sigma1X[0], r.Sigma1X[1])
	y1 := r.Uniform(r.Sigma1Y[0], r.Sigma1Y[1])
	z1 := r.Uniform(r.Sigma1Z[0], r.Sigma1Z[1])
	x2 := r.sampleSigma2(r.Sigma2X, x1)
	y2 := r.sampleSigma2(r.Sigma2Y, y1)
	z2 := r.sampleSigma2(r.Sigma2Z, z1)
	alpha := r.Uniform(r.Alpha[0], r.Alpha[1])
	if !do {
		return img, nil
	}
	sharpen := &GaussianSharpen{
		Sigma1: []float64{x1, y1, z1}[:rank],
		Sigma2: []float64{x2, y2, z2}[:rank],
		Alpha:  alpha,
	}
	return sharpen.Apply(img)
}
