package io

import (
	"archive/zip"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/kshedden/gonpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeNpy(t *testing.T, path string, shape []int, data []float64) {
	t.Helper()
	w, err := gonpy.NewFileWriter(path)
	require.NoError(t, err)
	w.Shape = shape
	require.NoError(t, w.WriteFloat64(data))
}

func TestLoadNumpyNpy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.npy")
	writeNpy(t, path, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})

	tensor, meta, err := NewLoadNumpy().Load(path)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float64, tensor.DType())
	assert.Equal(t, []int{2, 3}, tensor.Shape().Dimensions)
	assert.Equal(t, path, meta[MetaKeyFilename])
	assert.Equal(t, []int{2, 3}, meta[MetaKeySpatialShape])
	assert.Equal(t, IdentityAffine(), meta[MetaKeyAffine])
}

func TestLoadNumpyDTypeOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.npy")
	writeNpy(t, path, []int{4}, []float64{1.9, 2, 3, 4})

	loader := &LoadNumpy{DType: dtypes.Int32}
	tensor, _, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Int32, tensor.DType())
}

func TestLoadNumpyNpz(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.npy")
	bPath := filepath.Join(dir, "b.npy")
	writeNpy(t, aPath, []int{2, 2}, []float64{1, 2, 3, 4})
	writeNpy(t, bPath, []int{2, 2}, []float64{5, 6, 7, 8})

	npzPath := filepath.Join(dir, "volumes.npz")
	f, err := os.Create(npzPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, name := range []string{"a", "b"} {
		entry, err := zw.Create(name + ".npy")
		require.NoError(t, err)
		raw, err := os.ReadFile(filepath.Join(dir, name+".npy"))
		require.NoError(t, err)
		_, err = entry.Write(raw)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	tensor, meta, err := NewLoadNumpy().Load(npzPath)
	require.NoError(t, err)
	// Two arrays stacked along a new leading axis.
	assert.Equal(t, []int{2, 2, 2}, tensor.Shape().Dimensions)
	assert.Equal(t, []int{2, 2}, meta[MetaKeySpatialShape])

	selected := &LoadNumpy{NpzKeys: []string{"b"}}
	tensor, _, err = selected.Load(npzPath)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2}, tensor.Shape().Dimensions)

	missing := &LoadNumpy{NpzKeys: []string{"c"}}
	_, _, err = missing.Load(npzPath)
	assert.Error(t, err)
}

func TestLoadNumpyMissingFile(t *testing.T) {
	_, _, err := NewLoadNumpy().Load(filepath.Join(t.TempDir(), "nope.npy"))
	assert.Error(t, err)
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestLoadPNGGrayscale(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			gray.SetGray(x, y, color.Gray{Y: uint8(10*y + x)})
		}
	}
	path := filepath.Join(t.TempDir(), "img.png")
	writePNG(t, path, gray)

	tensor, meta, err := NewLoadPNG().Load(path)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, tensor.Shape().Dimensions, "grayscale loads as [height, width]")
	assert.Equal(t, []int{2, 3}, meta[MetaKeySpatialShape])
	assert.Equal(t, dtypes.Float32, tensor.DType())
}

func TestLoadPNGColor(t *testing.T) {
	rgba := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			rgba.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "img.png")
	writePNG(t, path, rgba)

	tensor, _, err := NewLoadPNG().Load(path)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 3}, tensor.Shape().Dimensions, "color loads as [height, width, 3]")

	forced := &LoadPNG{Grayscale: true}
	tensor, _, err = forced.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, tensor.Shape().Dimensions)
}

func TestLoadPNGMissingFile(t *testing.T) {
	_, _, err := NewLoadPNG().Load(filepath.Join(t.TempDir(), "nope.png"))
	assert.Error(t, err)
}

func TestLoadNiftiMissingFile(t *testing.T) {
	_, _, err := NewLoadNifti().Load(filepath.Join(t.TempDir(), "nope.nii"))
	assert.Error(t, err)
}

func TestIdentityAffine(t *testing.T) {
	affine := IdentityAffine()
	require.Len(t, affine, 4)
	for ii, row := range affine {
		require.Len(t, row, 4)
		for jj, v := range row {
			if ii == jj {
				assert.Equal(t, 1.0, v)
			} else {
				assert.Equal(t, 0.0, v)
			}
		}
	}
	// Fresh matrix on every call.
	affine[0][0] = 5
	assert.Equal(t, 1.0, IdentityAffine()[0][0])
}
