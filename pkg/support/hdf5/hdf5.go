// Package hdf5 provides a trivial API to access HDF5 file contents.
//
// It requires the `hdf5-tools` (a deb package) installed in the system, more
// specifically the `h5dump` binary.
//
// It is basic but provides the necessary functionality to list the contents of
// a file and extract datasets as tensors, which is how pre-computed volumes
// and label maps are commonly distributed.
package hdf5

import (
	"bytes"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Contents is a map of all the datasets present in an HDF5 file. The key is
// the path built from the concatenation of the "group" (how HDF5 calls
// directories or folders) with the dataset name, separated by a "/" character.
type Contents map[string]*Dataset

// Dataset has (some of) the metadata about a dataset, but not the data
// itself. The "DATATYPE" and "DATASPACE" fields are converted to the
// equivalent shapes.Shape.
type Dataset struct {
	FilePath, GroupPath, RawHeader string
	DType                          dtypes.DType
	Shape                          shapes.Shape
}

const H5DumpBinary = "h5dump"

// ParseFile parses filePath as an HDF5 file and returns the map of contents.
//
// It requires the `hdf5-tools` (a deb package) installed in the system, more
// specifically the `h5dump` binary.
func ParseFile(filePath string) (contents Contents, err error) {
	_, err = os.Stat(filePath)
	if err != nil {
		err = errors.Wrapf(err, "cannot access HDF5 file in path %q", filePath)
		return
	}

	// List the contents of the filePath.
	contentsBytes, err := execH5Dump("--contents", filePath)
	if err != nil {
		return
	}
	matches := regexpDatasets.FindAllStringSubmatch(string(contentsBytes), -1)
	contents = make(Contents, len(matches))
	for _, match := range matches {
		contents[match[1]] = &Dataset{
			FilePath:  filePath,
			GroupPath: match[1],
		}
	}

	// Read the header for every dataset.
	headerArgs := make([]string, 0, len(contents)+2)
	headerArgs = append(headerArgs, "--header")
	for key := range contents {
		headerArgs = append(headerArgs, "--dataset="+key)
	}
	headerArgs = append(headerArgs, filePath)
	headerBytes, err := execH5Dump(headerArgs...)
	if err != nil {
		return
	}
	rawDatasetHeaders := strings.Split(string(headerBytes), "DATASET")
	if len(rawDatasetHeaders)-1 != len(contents) {
		err = errors.Errorf("failed to parse dataset headers for %q: expected %d DATASET, got %d",
			filePath, len(contents), len(rawDatasetHeaders)-1)
		return
	}
datasetHeaders:
	for _, part := range rawDatasetHeaders[1:] {
		matches := regexpDatasetHeaderName.FindStringSubmatch(part)
		if len(matches) != 2 {
			err = errors.Errorf("failed to parse dataset headers for %q: got %q", filePath, part)
			return
		}
		key := matches[1]
		ds, found := contents[key]
		if !found {
			err = errors.Errorf("unknown headers for %q: got %q", filePath, part)
			return
		}
		ds.RawHeader = "DATASET" + part

		matches = regexpDatasetHeaderDataType.FindStringSubmatch(part)
		if len(matches) != 2 {
			// DType not parseable.
			continue
		}
		ds.DType = DTypeForH5T(matches[1])
		if ds.DType == dtypes.InvalidDType {
			continue datasetHeaders
		}

		matches = regexpDatasetHeaderDataSpace.FindStringSubmatch(part)
		if len(matches) != 4 {
			klog.V(1).Infof("DATASPACE not parsed: %s", part)
			continue datasetHeaders
		}
		switch matches[1] {
		case "SCALAR":
			ds.Shape = shapes.Make(ds.DType)
		case "SIMPLE":
			dimsParts := strings.Split(matches[3], ",")
			dims := make([]int, 0, len(dimsParts))
			for _, dimStr := range dimsParts {
				dim, numErr := strconv.Atoi(strings.TrimSpace(dimStr))
				if numErr != nil {
					klog.V(1).Infof("failed to parse dimension in DATASPACE: %q", part)
					continue datasetHeaders
				}
				dims = append(dims, dim)
			}
			ds.Shape = shapes.Make(ds.DType, dims...)

		default:
			klog.V(1).Infof("DATASPACE type unknown: %s", part)
			continue datasetHeaders
		}
	}
	return
}

var (
	regexpDatasets               = regexp.MustCompile(`\s+dataset\s+(/.*)\n`)
	regexpDatasetHeaderName      = regexp.MustCompile(`\s+"(.*?)" \{\n`)
	regexpDatasetHeaderDataType  = regexp.MustCompile(`\s+DATATYPE\s+(\w.*?)\n`)
	regexpDatasetHeaderDataSpace = regexp.MustCompile(`\s+DATASPACE\s+(\w+)(\s+\{\s+\((.*?)\).*?)?\n`)
)

// DTypeForH5T returns the DType corresponding to known HDF5 types. If not
// known/supported, returns the invalid dtype.
func DTypeForH5T(h5type string) (dtype dtypes.DType) {
	switch h5type {
	case "H5T_IEEE_F32LE", "H5T_IEEE_F32BE":
		return dtypes.Float32
	case "H5T_IEEE_F64LE", "H5T_IEEE_F64BE":
		return dtypes.Float64
	case "H5T_STD_I32LE", "H5T_STD_I32BE":
		return dtypes.Int32
	case "H5T_STD_I64LE", "H5T_STD_I64BE":
		return dtypes.Int64
	case "H5T_STD_U8LE", "H5T_STD_U8BE":
		return dtypes.Uint8
	}
	return dtypes.InvalidDType
}

// execH5Dump executes `h5dump`, and handles errors.
func execH5Dump(args ...string) (output []byte, err error) {
	binPath, err := findBinPath()
	if err != nil {
		return
	}
	cmd := exec.Command(binPath, args...)
	if cmd.Err != nil {
		err = errors.Wrapf(cmd.Err, "cannot execute %q required to access HDF5 file", cmd)
		return
	}
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdoutBuf, &stderrBuf
	err = cmd.Run()
	if err != nil {
		err = errors.Wrapf(err, "failed executing %q to access HDF5 file", cmd)
		err = errors.WithMessagef(err, "STDERR captured:\n%s\n", stderrBuf.String())
		return
	}
	output = stdoutBuf.Bytes()
	return
}

func findBinPath() (binPath string, err error) {
	binPath, err = exec.LookPath(H5DumpBinary)
	if err != nil {
		err = errors.Wrapf(err, "cannot find `h5dump` binary in PATH, needed to parse HDF5 "+
			"format files (extension \".h5\") -- please install package hdf5-tools, which usually "+
			"holds `h5dump`")
		return
	}
	klog.V(2).Infof("using h5dump from %q", binPath)
	return
}

// Load extracts the raw native-binary content of the dataset.
func (ds *Dataset) Load() (rawContent []byte, err error) {
	tmpFile, err := os.CreateTemp("", "hdf5_dataset")
	if err == nil {
		err = tmpFile.Close()
	}
	if err != nil {
		err = errors.Wrapf(err, "failed to create temporary file to extract HDF5 dataset")
		return
	}
	_, err = execH5Dump("--dataset="+ds.GroupPath, "--binary=NATIVE", "--output="+tmpFile.Name(), ds.FilePath)
	if err != nil {
		return
	}
	rawContent, err = os.ReadFile(tmpFile.Name())
	if err != nil {
		err = errors.Wrapf(err, "failed to read from temporary file %q to extract HDF5 dataset", tmpFile.Name())
		return
	}
	if newErr := os.Remove(tmpFile.Name()); newErr != nil {
		klog.Warningf("Failed to remove temporary file %q used to extract HDF5 dataset: %+v", tmpFile.Name(), newErr)
	}
	return
}

// LoadTensor extracts the dataset as a tensor of its parsed shape. It fails
// when the dataset's dtype or shape could not be parsed from the header.
func (ds *Dataset) LoadTensor() (*tensors.Tensor, error) {
	if ds.DType == dtypes.InvalidDType || !ds.Shape.Ok() {
		return nil, errors.Errorf("HDF5 dataset %q of %q has unsupported dtype/shape (header: %s)",
			ds.GroupPath, ds.FilePath, ds.RawHeader)
	}
	raw, err := ds.Load()
	if err != nil {
		return nil, err
	}
	t := tensors.FromShape(ds.Shape)
	accessErr := t.MutableBytes(func(data []byte) {
		if len(raw) != len(data) {
			err = errors.Errorf("HDF5 dataset %q of %q has %d bytes, tensor shape %s requires %d",
				ds.GroupPath, ds.FilePath, len(raw), ds.Shape, len(data))
			return
		}
		copy(data, raw)
	})
	if accessErr != nil {
		return nil, accessErr
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}
