package intensity

import (
	"math"
	"sort"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"gonum.org/v1/gonum/stat/combin"

	"github.com/gomlx/medimage/pkg/core/volumes"
	"github.com/gomlx/medimage/pkg/transforms"
)

// bezierSteps is the number of curve samples used to tabulate the remap
// function.
const bezierSteps = 10000

// RandBezierAdjust remaps intensities through a random cubic Bezier curve
// anchored at (0, 0) and (1, 1), with two uniformly sampled interior control
// points. With probability 1/2 only the curve's x samples are sorted, which
// can flip the intensity profile; otherwise both axes are sorted and the
// remap stays monotone.
//
// The curve lives on [0, 1], so inputs are expected to be normalized to that
// range (values outside it clamp to the curve's endpoints).
type RandBezierAdjust struct {
	transforms.RandState
	Prob float64
}

// NewRandBezierAdjust returns a RandBezierAdjust.
func NewRandBezierAdjust(prob float64) *RandBezierAdjust {
	return &RandBezierAdjust{Prob: prob}
}

// Apply implements transforms.Transform. The control points are sampled even
// when the apply decision comes out false, so seeded runs stay aligned across
// skipped calls.
func (r *RandBezierAdjust) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	do := r.WillApply(r.Prob)
	x1, y1 := r.Rand().Float64(), r.Rand().Float64()
	x2, y2 := r.Rand().Float64(), r.Rand().Float64()
	if !do {
		return img, nil
	}
	xPoints := []float64{0, x1, x2, 1}
	yPoints := []float64{0, y1, y2, 1}
	xvals, yvals := bezierCurve(xPoints, yPoints, bezierSteps)
	if r.Rand().Float64() < 0.5 {
		sort.Float64s(xvals)
	} else {
		sort.Float64s(xvals)
		sort.Float64s(yvals)
	}
	return applyFloat(img, func(flat []float64) ([]float64, error) {
		return volumes.Interp(flat, xvals, yvals), nil
	})
}

// bernstein evaluates the i-th Bernstein basis polynomial of degree n at t,
// with the exponent convention of the reference curve tabulation
// (t^(n-i) * (1-t)^i).
func bernstein(i, n int, t float64) float64 {
	return float64(combin.Binomial(n, i)) * math.Pow(t, float64(n-i)) * math.Pow(1-t, float64(i))
}

// bezierCurve tabulates the Bezier curve through the given control points at
// steps evenly spaced parameter values.
func bezierCurve(xPoints, yPoints []float64, steps int) (xvals, yvals []float64) {
	n := len(xPoints) - 1
	xvals = make([]float64, steps)
	yvals = make([]float64, steps)
	for s := 0; s < steps; s++ {
		t := float64(s) / float64(steps-1)
		var x, y float64
		for i := 0; i <= n; i++ {
			b := bernstein(i, n, t)
			x += xPoints[i] * b
			y += yPoints[i] * b
		}
		xvals[s] = x
		yvals[s] = y
	}
	return xvals, yvals
}
