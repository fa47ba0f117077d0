// Package io implements the file loaders feeding the transform pipelines:
// NIfTI-1 volumes, PNG images, NumPy arrays (.npy/.npz) and HDF5 datasets,
// plus the record-level adapters that attach each loaded tensor and its
// metadata to a Record under the `<key>_<postfix>` convention.
package io

import (
	"archive/zip"
	"image/color"
	"os"
	"sort"
	"strings"

	"github.com/KyungWonPark/nifti"
	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/kshedden/gonpy"
	"github.com/pkg/errors"

	"github.com/gomlx/medimage/pkg/core/volumes"
)

// Meta carries the metadata of a loaded image. Every loader fills at least
// MetaKeyFilename, MetaKeySpatialShape and MetaKeyAffine (identity when the
// format carries no orientation).
type Meta map[string]any

// Well-known metadata keys.
const (
	MetaKeyFilename     = "filename_or_obj"
	MetaKeySpatialShape = "spatial_shape"
	MetaKeyAffine       = "affine"
)

// Loader loads one image file into a tensor plus its metadata.
type Loader interface {
	Load(path string) (*tensors.Tensor, Meta, error)
}

// IdentityAffine returns a fresh 4x4 identity orientation matrix.
func IdentityAffine() [][]float64 {
	affine := make([][]float64, 4)
	for ii := range affine {
		affine[ii] = make([]float64, 4)
		affine[ii][ii] = 1
	}
	return affine
}

// LoadNifti loads NIfTI-1 volumes (.nii, .nii.gz). The voxel grid is read in
// `[dim1, ..., dimN]` order as declared by the header; metadata includes the
// header dim/pixdim vectors.
type LoadNifti struct {
	// ImageOnly skips the metadata (the returned Meta is nil).
	ImageOnly bool
	// DType of the returned tensor; Float32 when unset.
	DType dtypes.DType
}

// NewLoadNifti returns a LoadNifti producing float32 tensors with metadata.
func NewLoadNifti() *LoadNifti { return &LoadNifti{} }

// Load implements Loader.
func (l *LoadNifti) Load(path string) (*tensors.Tensor, Meta, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, errors.Wrapf(err, "cannot access NIfTI file %q", path)
	}
	var img nifti.Nifti1Image
	img.LoadImage(path, true)
	header := img.GetHeader()

	ndim := int(header.Dim[0])
	if ndim < 1 || ndim > 4 {
		return nil, nil, errors.Errorf("NIfTI file %q declares %d dims, supported range is 1 to 4", path, ndim)
	}
	dims := make([]int, ndim)
	pixdims := make([]float64, ndim)
	for ii := 0; ii < ndim; ii++ {
		dims[ii] = int(header.Dim[ii+1])
		pixdims[ii] = float64(header.Pixdim[ii+1])
		if dims[ii] < 1 {
			return nil, nil, errors.Errorf("NIfTI file %q has non-positive dim %d at axis %d", path, dims[ii], ii)
		}
	}

	// Pad the loop bounds to 4 axes; trailing axes have size 1.
	bounds := [4]int{1, 1, 1, 1}
	copy(bounds[:], dims)
	flat := make([]float64, prod(dims))
	pos := 0
	for x := 0; x < bounds[0]; x++ {
		for y := 0; y < bounds[1]; y++ {
			for z := 0; z < bounds[2]; z++ {
				for t := 0; t < bounds[3]; t++ {
					flat[pos] = float64(img.GetAt(uint32(x), uint32(y), uint32(z), uint32(t)))
					pos++
				}
			}
		}
	}

	dtype := l.DType
	if dtype == dtypes.InvalidDType {
		dtype = dtypes.Float32
	}
	tensor, err := volumes.FromFloat64(flat, dtype, dims...)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "loading NIfTI file %q", path)
	}
	if l.ImageOnly {
		return tensor, nil, nil
	}
	meta := Meta{
		MetaKeyFilename:     path,
		MetaKeySpatialShape: dims,
		MetaKeyAffine:       IdentityAffine(),
		"dim":               dims,
		"pixdim":            pixdims,
	}
	return tensor, meta, nil
}

// LoadPNG loads PNG (and other stdlib-decodable) images. Grayscale images
// load as `[height, width]`, color ones as `[height, width, 3]` RGB, matching
// the layout of the reference PNG reader.
type LoadPNG struct {
	// Grayscale forces conversion to a single gray channel.
	Grayscale bool
	// DType of the returned tensor; Float32 when unset. Values are the
	// 8-bit sample values (0..255).
	DType dtypes.DType
}

// NewLoadPNG returns a LoadPNG keeping the image's own color layout.
func NewLoadPNG() *LoadPNG { return &LoadPNG{} }

// Load implements Loader.
func (l *LoadPNG) Load(path string) (*tensors.Tensor, Meta, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "cannot decode image file %q", path)
	}
	nrgba := imaging.Clone(img)
	bounds := nrgba.Bounds()
	height, width := bounds.Dy(), bounds.Dx()

	grayscale := l.Grayscale || img.ColorModel() == color.GrayModel || img.ColorModel() == color.Gray16Model
	dtype := l.DType
	if dtype == dtypes.InvalidDType {
		dtype = dtypes.Float32
	}

	var flat []float64
	var dims []int
	if grayscale {
		gray := imaging.Grayscale(nrgba)
		flat = make([]float64, height*width)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				flat[y*width+x] = float64(gray.NRGBAAt(bounds.Min.X+x, bounds.Min.Y+y).R)
			}
		}
		dims = []int{height, width}
	} else {
		flat = make([]float64, height*width*3)
		pos := 0
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				px := nrgba.NRGBAAt(bounds.Min.X+x, bounds.Min.Y+y)
				flat[pos] = float64(px.R)
				flat[pos+1] = float64(px.G)
				flat[pos+2] = float64(px.B)
				pos += 3
			}
		}
		dims = []int{height, width, 3}
	}
	tensor, err := volumes.FromFloat64(flat, dtype, dims...)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "loading image file %q", path)
	}
	meta := Meta{
		MetaKeyFilename:     path,
		MetaKeySpatialShape: []int{height, width},
		MetaKeyAffine:       IdentityAffine(),
	}
	return tensor, meta, nil
}

// LoadNumpy loads .npy arrays and .npz archives via gonpy. For .npz the
// selected keys (or all entries, sorted) are stacked along a new leading
// axis; every entry must share one shape.
type LoadNumpy struct {
	// NpzKeys selects the entries of an .npz archive; nil loads all of
	// them in sorted order.
	NpzKeys []string
	// DType of the returned tensor; the source array's dtype when unset.
	DType dtypes.DType
}

// NewLoadNumpy returns a LoadNumpy keeping the arrays' own dtype.
func NewLoadNumpy() *LoadNumpy { return &LoadNumpy{} }

// Load implements Loader.
func (l *LoadNumpy) Load(path string) (*tensors.Tensor, Meta, error) {
	if strings.HasSuffix(strings.ToLower(path), ".npz") {
		return l.loadNpz(path)
	}
	reader, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "cannot open npy file %q", path)
	}
	flat, srcDType, err := readNpyValues(reader)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "reading npy file %q", path)
	}
	tensor, err := l.buildTensor(flat, srcDType, reader.Shape)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "loading npy file %q", path)
	}
	meta := Meta{
		MetaKeyFilename:     path,
		MetaKeySpatialShape: append([]int(nil), reader.Shape...),
		MetaKeyAffine:       IdentityAffine(),
	}
	return tensor, meta, nil
}

func (l *LoadNumpy) loadNpz(path string) (*tensors.Tensor, Meta, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "cannot open npz file %q", path)
	}
	defer archive.Close()

	entries := make(map[string]*zip.File, len(archive.File))
	for _, f := range archive.File {
		entries[strings.TrimSuffix(f.Name, ".npy")] = f
	}
	keys := l.NpzKeys
	if keys == nil {
		keys = make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	if len(keys) == 0 {
		return nil, nil, errors.Errorf("npz file %q has no arrays to load", path)
	}

	var stacked []float64
	var shape []int
	var srcDType dtypes.DType
	for _, key := range keys {
		entry, found := entries[key]
		if !found {
			return nil, nil, errors.Errorf("npz file %q has no array %q", path, key)
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "cannot open entry %q of npz file %q", key, path)
		}
		reader, err := gonpy.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, nil, errors.Wrapf(err, "cannot parse entry %q of npz file %q", key, path)
		}
		flat, dtype, err := readNpyValues(reader)
		rc.Close()
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "reading entry %q of npz file %q", key, path)
		}
		if shape == nil {
			shape = append([]int(nil), reader.Shape...)
			srcDType = dtype
		} else if !equalInts(shape, reader.Shape) {
			return nil, nil, errors.Errorf(
				"npz file %q: array %q has shape %v, expected %v to stack", path, key, reader.Shape, shape)
		}
		stacked = append(stacked, flat...)
	}

	dims := append([]int{len(keys)}, shape...)
	tensor, err := l.buildTensor(stacked, srcDType, dims)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "loading npz file %q", path)
	}
	meta := Meta{
		MetaKeyFilename:     path,
		MetaKeySpatialShape: shape,
		MetaKeyAffine:       IdentityAffine(),
	}
	return tensor, meta, nil
}

func (l *LoadNumpy) buildTensor(flat []float64, srcDType dtypes.DType, dims []int) (*tensors.Tensor, error) {
	dtype := l.DType
	if dtype == dtypes.InvalidDType {
		dtype = srcDType
	}
	return volumes.FromFloat64(flat, dtype, dims...)
}

// readNpyValues reads the reader's array as float64 plus its native dtype.
// Column-major (Fortran-order) arrays are rejected.
func readNpyValues(reader *gonpy.NpyReader) ([]float64, dtypes.DType, error) {
	if reader.ColumnMajor {
		return nil, dtypes.InvalidDType, errors.New("column-major (Fortran order) arrays are not supported")
	}
	switch reader.Dtype {
	case "f8":
		flat, err := reader.GetFloat64()
		return flat, dtypes.Float64, err
	case "f4":
		data, err := reader.GetFloat32()
		return toFloat64s(data), dtypes.Float32, err
	case "i8":
		data, err := reader.GetInt64()
		return toFloat64s(data), dtypes.Int64, err
	case "i4":
		data, err := reader.GetInt32()
		return toFloat64s(data), dtypes.Int32, err
	case "i2":
		data, err := reader.GetInt16()
		return toFloat64s(data), dtypes.Int16, err
	case "u1":
		data, err := reader.GetUint8()
		return toFloat64s(data), dtypes.Uint8, err
	}
	return nil, dtypes.InvalidDType, errors.Errorf("unsupported numpy dtype %q", reader.Dtype)
}

func toFloat64s[T volumes.Numeric](data []T) []float64 {
	out := make([]float64, len(data))
	for ii, v := range data {
		out[ii] = float64(v)
	}
	return out
}

func prod(dims []int) int {
	p := 1
	for _, d := range dims {
		p *= d
	}
	return p
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for ii := range a {
		if a[ii] != b[ii] {
			return false
		}
	}
	return true
}
