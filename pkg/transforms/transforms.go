// Package transforms defines the contracts shared by the preprocessing and
// augmentation transforms: the tensor-level Transform, the record-level
// RecordTransform used by dictionary pipelines, and the per-instance random
// state used by the randomized transforms.
package transforms

import (
	"math/rand"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Transform converts one channel-first image tensor into another. Transforms
// return a new tensor and leave the input untouched, except that randomized
// transforms return the input unchanged when their sampled "apply" decision
// is false.
type Transform interface {
	Apply(img *tensors.Tensor) (*tensors.Tensor, error)
}

// Record is a mapping from field name to image tensor, label, file path or
// metadata, the unit of data shuttled between pipeline stages. Loader
// metadata is stored under the `<key>_<postfix>` convention (see the io
// package).
type Record map[string]any

// RecordTransform converts a Record into a new Record. Implementations must
// not mutate the input record.
type RecordTransform interface {
	ApplyRecord(rec Record) (Record, error)
}

// MaskedTransform is a Transform that reads an auxiliary mask volume besides
// the image itself.
type MaskedTransform interface {
	Transform
	SetMask(mask *tensors.Tensor)
}

// RandState holds the per-instance random generator of a randomized
// transform. Each call to the owning transform re-randomizes: the sampled
// parameters and the "will apply" decision are never cached across calls.
//
// It is intentionally not thread-safe: the expected use is one transform
// instance per data-loading worker. Use SetSeed for reproducible pipelines.
type RandState struct {
	rng *rand.Rand
}

// Rand returns the generator, creating a time-seeded one on first use.
func (r *RandState) Rand() *rand.Rand {
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UTC().UnixNano()))
	}
	return r.rng
}

// SetSeed replaces the generator by one seeded with seed.
func (r *RandState) SetSeed(seed int64) {
	r.rng = rand.New(rand.NewSource(seed))
}

// WillApply samples the apply decision: true with probability prob.
func (r *RandState) WillApply(prob float64) bool {
	return r.Rand().Float64() < prob
}

// Uniform samples from U(low, high).
func (r *RandState) Uniform(low, high float64) float64 {
	return low + r.Rand().Float64()*(high-low)
}

// IntBetween samples uniformly from the half-open range [low, high).
func (r *RandState) IntBetween(low, high int) int {
	return low + r.Rand().Intn(high-low)
}

// composed chains transforms, applying them in order.
type composed struct {
	list []Transform
}

// Compose returns a Transform that applies the given transforms in order,
// stopping at the first error.
func Compose(list ...Transform) Transform {
	return &composed{list: list}
}

// Apply implements Transform.
func (c *composed) Apply(img *tensors.Tensor) (*tensors.Tensor, error) {
	var err error
	for ii, t := range c.list {
		img, err = t.Apply(img)
		if err != nil {
			return nil, errors.WithMessagef(err, "transform #%d of composed pipeline", ii)
		}
	}
	return img, nil
}

// MapTransform applies a tensor-level transform to the given keys of a
// record, leaving every other field untouched.
type MapTransform struct {
	Keys      []string
	Transform Transform
}

// NewMapTransform returns a MapTransform over the given keys.
func NewMapTransform(transform Transform, keys ...string) (*MapTransform, error) {
	if transform == nil {
		return nil, errors.New("MapTransform requires a non-nil transform")
	}
	if len(keys) == 0 {
		return nil, errors.New("MapTransform requires at least one key")
	}
	return &MapTransform{Keys: keys, Transform: transform}, nil
}

// ApplyRecord implements RecordTransform.
func (m *MapTransform) ApplyRecord(rec Record) (Record, error) {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	for _, key := range m.Keys {
		value, found := out[key]
		if !found {
			return nil, errors.Errorf("MapTransform: key %q not present in record", key)
		}
		img, ok := value.(*tensors.Tensor)
		if !ok {
			return nil, errors.Errorf("MapTransform: record value for key %q is %T, expected a tensor", key, value)
		}
		transformed, err := m.Transform.Apply(img)
		if err != nil {
			return nil, errors.WithMessagef(err, "MapTransform: key %q", key)
		}
		out[key] = transformed
	}
	return out, nil
}
