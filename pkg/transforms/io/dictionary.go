package io

import (
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/medimage/pkg/core/volumes"
	"github.com/gomlx/medimage/pkg/support/hdf5"
	"github.com/gomlx/medimage/pkg/transforms"
)

// DefaultMetaKeyPostfix is the postfix under which loaders store metadata:
// the tensor for key "image" comes with an "image_meta_dict" entry.
const DefaultMetaKeyPostfix = "meta_dict"

// LoadDataD applies an array-level loader to the given keys of a record,
// whose values must be file paths. The loaded tensor replaces the path under
// the key; the metadata lands under `<key>_<postfix>`.
type LoadDataD struct {
	Keys           []string
	Loader         Loader
	MetaKeyPostfix string
	// Overwriting allows replacing an existing metadata entry; without it
	// a metadata key collision is an error.
	Overwriting bool
}

// NewLoadDataD returns a LoadDataD over the given keys.
func NewLoadDataD(loader Loader, keys ...string) (*LoadDataD, error) {
	if loader == nil {
		return nil, errors.New("LoadDataD requires a non-nil loader")
	}
	if len(keys) == 0 {
		return nil, errors.New("LoadDataD requires at least one key")
	}
	return &LoadDataD{Keys: keys, Loader: loader, MetaKeyPostfix: DefaultMetaKeyPostfix}, nil
}

// ApplyRecord implements transforms.RecordTransform.
func (l *LoadDataD) ApplyRecord(rec transforms.Record) (transforms.Record, error) {
	if l.Loader == nil {
		return nil, errors.New("LoadDataD requires a non-nil loader")
	}
	postfix := l.MetaKeyPostfix
	if postfix == "" {
		postfix = DefaultMetaKeyPostfix
	}
	out := make(transforms.Record, len(rec)+len(l.Keys))
	for k, v := range rec {
		out[k] = v
	}
	for _, key := range l.Keys {
		value, found := out[key]
		if !found {
			return nil, errors.Errorf("LoadDataD: key %q not present in record", key)
		}
		path, ok := value.(string)
		if !ok {
			return nil, errors.Errorf("LoadDataD: record value for key %q is %T, expected a file path", key, value)
		}
		tensor, meta, err := l.Loader.Load(path)
		if err != nil {
			return nil, errors.WithMessagef(err, "LoadDataD: key %q", key)
		}
		out[key] = tensor
		if meta == nil {
			continue
		}
		metaKey := key + "_" + postfix
		if _, exists := out[metaKey]; exists && !l.Overwriting {
			return nil, errors.Errorf("LoadDataD: metadata key %q already exists in record; "+
				"set Overwriting to replace it", metaKey)
		}
		out[metaKey] = meta
	}
	return out, nil
}

// NewLoadNiftiD loads NIfTI files under the given record keys.
func NewLoadNiftiD(keys ...string) (*LoadDataD, error) {
	return NewLoadDataD(NewLoadNifti(), keys...)
}

// NewLoadPNGD loads PNG files under the given record keys.
func NewLoadPNGD(keys ...string) (*LoadDataD, error) {
	return NewLoadDataD(NewLoadPNG(), keys...)
}

// NewLoadNumpyD loads .npy/.npz files under the given record keys.
func NewLoadNumpyD(keys ...string) (*LoadDataD, error) {
	return NewLoadDataD(NewLoadNumpy(), keys...)
}

// NewLoadImageD loads files under the given record keys, picking the format
// loader from each path's extension: .nii/.nii.gz -> NIfTI, .png -> PNG,
// .npy/.npz -> NumPy.
func NewLoadImageD(keys ...string) (*LoadDataD, error) {
	return NewLoadDataD(&dispatchLoader{
		nifti: NewLoadNifti(),
		png:   NewLoadPNG(),
		numpy: NewLoadNumpy(),
	}, keys...)
}

// dispatchLoader picks a format loader from the path's extension.
type dispatchLoader struct {
	nifti, png, numpy Loader
}

// Load implements Loader.
func (d *dispatchLoader) Load(path string) (*tensors.Tensor, Meta, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".nii"), strings.HasSuffix(lower, ".nii.gz"):
		return d.nifti.Load(path)
	case strings.HasSuffix(lower, ".png"):
		return d.png.Load(path)
	case strings.HasSuffix(lower, ".npy"), strings.HasSuffix(lower, ".npz"):
		return d.numpy.Load(path)
	}
	return nil, nil, errors.Errorf("no loader registered for file %q (supported: .nii, .nii.gz, .png, .npy, .npz)", path)
}

// LoadHdf5D loads several datasets of one HDF5 file into a Record: dataset
// H5Keys[i] lands under Keys[i] with dtype DTypes[i], plus a
// `<key>_<postfix>` metadata entry. AffineKeys optionally names float64
// datasets holding per-key 4x4 orientation matrices: one per key, or a
// single one shared by all keys; keys without one get the identity.
type LoadHdf5D struct {
	Keys           []string
	H5Keys         []string
	DTypes         []dtypes.DType
	AffineKeys     []string
	MetaKeyPostfix string
}

// NewLoadHdf5D validates the key lists and returns the loader. dtypes may be
// nil to keep every dataset's own dtype.
func NewLoadHdf5D(keys, h5Keys []string, dts []dtypes.DType, affineKeys []string) (*LoadHdf5D, error) {
	if len(keys) == 0 {
		return nil, errors.New("LoadHdf5D requires at least one key")
	}
	if len(h5Keys) != len(keys) {
		return nil, errors.Errorf("LoadHdf5D: %d keys but %d HDF5 dataset paths", len(keys), len(h5Keys))
	}
	if dts != nil && len(dts) != len(keys) {
		return nil, errors.Errorf("LoadHdf5D: %d keys but %d dtypes", len(keys), len(dts))
	}
	if affineKeys != nil && len(affineKeys) != 1 && len(affineKeys) != len(keys) {
		return nil, errors.Errorf("LoadHdf5D: affine keys must be one per key or a single shared one, got %d for %d keys",
			len(affineKeys), len(keys))
	}
	return &LoadHdf5D{
		Keys: keys, H5Keys: h5Keys, DTypes: dts, AffineKeys: affineKeys,
		MetaKeyPostfix: DefaultMetaKeyPostfix,
	}, nil
}

// LoadFile parses the HDF5 file and builds a Record with the configured
// datasets.
func (l *LoadHdf5D) LoadFile(path string) (transforms.Record, error) {
	contents, err := hdf5.ParseFile(path)
	if err != nil {
		return nil, err
	}
	postfix := l.MetaKeyPostfix
	if postfix == "" {
		postfix = DefaultMetaKeyPostfix
	}
	rec := make(transforms.Record, 2*len(l.Keys))
	for ii, key := range l.Keys {
		h5Key := l.H5Keys[ii]
		ds, found := contents[h5Key]
		if !found {
			return nil, errors.Errorf("HDF5 file %q has no dataset %q", path, h5Key)
		}
		tensor, err := ds.LoadTensor()
		if err != nil {
			return nil, errors.WithMessagef(err, "loading dataset %q of %q", h5Key, path)
		}
		if l.DTypes != nil && l.DTypes[ii] != dtypes.InvalidDType && l.DTypes[ii] != tensor.DType() {
			flat, err := volumes.ToFloat64(tensor)
			if err != nil {
				return nil, err
			}
			tensor, err = volumes.FromFloat64(flat, l.DTypes[ii], tensor.Shape().Dimensions...)
			if err != nil {
				return nil, err
			}
		}
		affine, err := l.affineFor(contents, path, ii)
		if err != nil {
			return nil, err
		}
		rec[key] = tensor
		rec[key+"_"+postfix] = Meta{
			MetaKeyFilename:     path,
			MetaKeySpatialShape: tensor.Shape().Dimensions,
			MetaKeyAffine:       affine,
		}
	}
	return rec, nil
}

// affineFor loads the orientation matrix configured for the ii-th key, or the
// identity when none is.
func (l *LoadHdf5D) affineFor(contents hdf5.Contents, path string, ii int) ([][]float64, error) {
	if l.AffineKeys == nil {
		return IdentityAffine(), nil
	}
	affineKey := l.AffineKeys[0]
	if len(l.AffineKeys) > 1 {
		affineKey = l.AffineKeys[ii]
	}
	if affineKey == "" {
		return IdentityAffine(), nil
	}
	ds, found := contents[affineKey]
	if !found {
		return nil, errors.Errorf("HDF5 file %q has no affine dataset %q", path, affineKey)
	}
	tensor, err := ds.LoadTensor()
	if err != nil {
		return nil, errors.WithMessagef(err, "loading affine dataset %q of %q", affineKey, path)
	}
	dims := tensor.Shape().Dimensions
	if len(dims) != 2 || dims[0] != 4 || dims[1] != 4 {
		return nil, errors.Errorf("affine dataset %q of %q has shape %v, expected [4 4]", affineKey, path, dims)
	}
	flat, err := volumes.ToFloat64(tensor)
	if err != nil {
		return nil, err
	}
	affine := make([][]float64, 4)
	for row := range affine {
		affine[row] = flat[row*4 : (row+1)*4]
	}
	return affine, nil
}
