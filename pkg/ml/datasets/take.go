package datasets

import (
	mldatasets "github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
)

// Take limits ds to n yields per epoch. It defers to the framework
// implementation, re-exported here so pipelines can cap record datasets
// without importing a second datasets package.
func Take(ds train.Dataset, n int) train.Dataset {
	return mldatasets.Take(ds, n)
}
