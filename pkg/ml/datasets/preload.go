package datasets

import (
	"io"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

// preloadedYield is one materialized Yield result.
type preloadedYield struct {
	spec           any
	inputs, labels []*tensors.Tensor
}

// Preloaded is an in-memory dataset of already-computed yields.
type Preloaded struct {
	name   string
	yields []preloadedYield
	next   int
}

var _ train.Dataset = (*Preloaded)(nil)

// Preload materializes every yield of ds up-front, so that expensive loading
// and transform pipelines run once instead of once per epoch. With verbose a
// progress bar tracks the preloading.
func Preload(ds train.Dataset, verbose bool) (*Preloaded, error) {
	var bar *progressbar.ProgressBar
	if verbose {
		bar = progressbar.Default(-1, "preloading "+ds.Name())
	}
	out := &Preloaded{name: ds.Name() + " [Preloaded]"}
	for {
		spec, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "preloading dataset %q at yield #%d", ds.Name(), len(out.yields))
		}
		out.yields = append(out.yields, preloadedYield{spec: spec, inputs: inputs, labels: labels})
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return out, nil
}

// Name implements train.Dataset.
func (p *Preloaded) Name() string { return p.name }

// Reset implements train.Dataset.
func (p *Preloaded) Reset() { p.next = 0 }

// NumYields returns how many yields were materialized.
func (p *Preloaded) NumYields() int { return len(p.yields) }

// Yield implements train.Dataset.
func (p *Preloaded) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if p.next >= len(p.yields) {
		err = io.EOF
		return
	}
	y := p.yields[p.next]
	p.next++
	return y.spec, y.inputs, y.labels, nil
}
