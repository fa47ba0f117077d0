package engines

import (
	"math/rand"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Batch maps field names to tensors; see the key constants for the canonical
// names.
type Batch map[string]*tensors.Tensor

// GetDevices resolves the devices a computation should run on:
//   - devices == nil: every device of the backend, an error when it has none;
//   - len(devices) == 0: the default device 0;
//   - otherwise: the given list, copied.
func GetDevices(backend backends.Backend, devices []backends.DeviceNum) ([]backends.DeviceNum, error) {
	if devices == nil {
		if backend == nil {
			return nil, errors.New("engines.GetDevices: nil backend and no explicit devices")
		}
		n := backend.NumDevices()
		if n <= 0 {
			return nil, errors.Errorf("engines.GetDevices: backend %q has no devices", backend.Name())
		}
		all := make([]backends.DeviceNum, n)
		for ii := range all {
			all[ii] = backends.DeviceNum(ii)
		}
		return all, nil
	}
	if len(devices) == 0 {
		return []backends.DeviceNum{0}, nil
	}
	return append([]backends.DeviceNum(nil), devices...), nil
}

// PrepareBatch extracts the tensors a training step consumes, in order:
//   - detection batches (RoiLabel or RoiBBox present): image, label,
//     roi_bbox, roi_label, all required;
//   - supervised batches (Label present): image, label;
//   - GAN batches (Reals present): reals;
//   - otherwise: image, nil.
//
// Every branch except the GAN one requires the Image key.
func PrepareBatch(batch Batch) ([]*tensors.Tensor, error) {
	requireKey := func(key string) (*tensors.Tensor, error) {
		v, found := batch[key]
		if !found {
			return nil, errors.Errorf("engines.PrepareBatch: batch has no %q key", key)
		}
		return v, nil
	}
	_, hasRoiLabel := batch[RoiLabel]
	_, hasRoiBBox := batch[RoiBBox]
	if hasRoiLabel || hasRoiBBox {
		out := make([]*tensors.Tensor, 0, 4)
		for _, key := range []string{Image, Label, RoiBBox, RoiLabel} {
			v, err := requireKey(key)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	if label, found := batch[Label]; found {
		image, err := requireKey(Image)
		if err != nil {
			return nil, err
		}
		return []*tensors.Tensor{image, label}, nil
	}
	if reals, found := batch[Reals]; found {
		return []*tensors.Tensor{reals}, nil
	}
	image, err := requireKey(Image)
	if err != nil {
		return nil, err
	}
	return []*tensors.Tensor{image, nil}, nil
}

// MakeLatent samples a standard-normal float32 latent tensor of shape
// `[numLatents, latentSize]` for generator inputs.
func MakeLatent(rng *rand.Rand, numLatents, latentSize int) (*tensors.Tensor, error) {
	if numLatents < 1 || latentSize < 1 {
		return nil, errors.Errorf("engines.MakeLatent: numLatents=%d and latentSize=%d must both be positive",
			numLatents, latentSize)
	}
	flat := make([]float32, numLatents*latentSize)
	for ii := range flat {
		flat[ii] = float32(rng.NormFloat64())
	}
	return tensors.FromFlatDataAndDimensions(flat, numLatents, latentSize), nil
}
