// Package datasets adapts record pipelines to train.Dataset: FromRecords
// yields (image, label) pairs out of transformed records, Preload
// materializes a dataset up-front, and Take limits a dataset to n yields.
package datasets

import (
	"io"
	"math/rand"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"

	"github.com/gomlx/medimage/pkg/ml/engines"
	"github.com/gomlx/medimage/pkg/transforms"
)

// Records implements train.Dataset over a slice of records, applying a record
// pipeline on every Yield. The image tensor is taken from the "image" key and
// the (optional) label from the "label" key.
type Records struct {
	name     string
	records  []transforms.Record
	pipeline transforms.RecordTransform

	order []int
	next  int
	rng   *rand.Rand
}

// Assert *Records implements train.Dataset.
var _ train.Dataset = (*Records)(nil)

// FromRecords returns a dataset over records. pipeline may be nil to yield
// the records as they are.
func FromRecords(name string, records []transforms.Record, pipeline transforms.RecordTransform) *Records {
	ds := &Records{
		name:     name,
		records:  records,
		pipeline: pipeline,
		order:    make([]int, len(records)),
	}
	for ii := range ds.order {
		ds.order[ii] = ii
	}
	return ds
}

// WithShuffle makes the dataset yield in a random order, re-shuffled on every
// Reset. The caller provides the generator, so epochs are reproducible with a
// seeded one.
func (ds *Records) WithShuffle(rng *rand.Rand) *Records {
	ds.rng = rng
	ds.shuffle()
	return ds
}

func (ds *Records) shuffle() {
	ds.rng.Shuffle(len(ds.order), func(ii, jj int) {
		ds.order[ii], ds.order[jj] = ds.order[jj], ds.order[ii]
	})
}

// Name implements train.Dataset.
func (ds *Records) Name() string { return ds.name }

// Reset implements train.Dataset. It rewinds to the first record, shuffling
// the order when the dataset was created with WithShuffle.
func (ds *Records) Reset() {
	ds.next = 0
	if ds.rng != nil {
		ds.shuffle()
	}
}

// Yield implements train.Dataset: it runs the pipeline on the next record and
// returns its image and label tensors. It returns io.EOF after the last
// record.
func (ds *Records) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if ds.next >= len(ds.order) {
		err = io.EOF
		return
	}
	rec := ds.records[ds.order[ds.next]]
	ds.next++

	if ds.pipeline != nil {
		rec, err = ds.pipeline.ApplyRecord(rec)
		if err != nil {
			err = errors.WithMessagef(err, "dataset %q, record #%d", ds.name, ds.next-1)
			return
		}
	}

	image, ok := rec[engines.Image].(*tensors.Tensor)
	if !ok {
		err = errors.Errorf("dataset %q: record #%d has no %q tensor (got %T)",
			ds.name, ds.next-1, engines.Image, rec[engines.Image])
		return
	}
	spec = ds
	inputs = []*tensors.Tensor{image}
	if label, found := rec[engines.Label]; found {
		labelTensor, ok := label.(*tensors.Tensor)
		if !ok {
			err = errors.Errorf("dataset %q: record #%d has a non-tensor %q value (%T)",
				ds.name, ds.next-1, engines.Label, label)
			return
		}
		labels = []*tensors.Tensor{labelTensor}
	}
	return
}
