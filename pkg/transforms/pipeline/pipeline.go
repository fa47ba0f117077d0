// Package pipeline builds transform chains from declarative YAML configs, so
// that preprocessing recipes can be shipped next to the data instead of being
// hard-coded:
//
//	seed: 42
//	transforms:
//	  - name: scale_intensity_range
//	    a_min: -1000
//	    a_max: 1000
//	    b_min: 0
//	    b_max: 1
//	    clip: true
//	  - name: rand_gaussian_noise
//	    prob: 0.5
//	    std: 0.1
//
// Unknown transform names and unknown or ill-typed parameters are errors.
package pipeline

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/gomlx/medimage/pkg/transforms"
	"github.com/gomlx/medimage/pkg/transforms/intensity"
)

// Config is the top-level YAML document.
type Config struct {
	// Seed, when set, seeds every randomized transform of the chain.
	Seed *int64 `yaml:"seed"`
	// Transforms are applied in order.
	Transforms []Step `yaml:"transforms"`
}

// Step declares one transform: its registered name plus free-form parameters.
type Step struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:",inline"`
}

// seedable is implemented by every randomized transform (via
// transforms.RandState).
type seedable interface {
	SetSeed(seed int64)
}

// ParseFile reads a YAML pipeline config from path and builds the transform
// chain.
func ParseFile(path string) (transforms.Transform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read pipeline config %q", path)
	}
	chain, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "pipeline config %q", path)
	}
	return chain, nil
}

// Parse builds the transform chain declared by the YAML document.
func Parse(data []byte) (transforms.Transform, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "cannot parse pipeline YAML")
	}
	return Build(&config)
}

// Build constructs the transform chain from an already-decoded config.
func Build(config *Config) (transforms.Transform, error) {
	if len(config.Transforms) == 0 {
		return nil, errors.New("pipeline config declares no transforms")
	}
	list := make([]transforms.Transform, 0, len(config.Transforms))
	for ii, step := range config.Transforms {
		if step.Name == "" {
			return nil, errors.Errorf("transform #%d has no name", ii)
		}
		builder, found := builders[step.Name]
		if !found {
			return nil, errors.Errorf("transform #%d: unknown transform %q", ii, step.Name)
		}
		args := newArgs(step.Name, step.Params)
		tr, err := builder(args)
		if err == nil {
			err = args.finish()
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "transform #%d (%s)", ii, step.Name)
		}
		if config.Seed != nil {
			if s, ok := tr.(seedable); ok {
				s.SetSeed(*config.Seed)
			}
		}
		list = append(list, tr)
	}
	return transforms.Compose(list...), nil
}

var builders = map[string]func(a *args) (transforms.Transform, error){
	"shift_intensity": func(a *args) (transforms.Transform, error) {
		return intensity.NewShiftIntensity(a.requiredFloat("offset")), nil
	},
	"scale_intensity": func(a *args) (transforms.Transform, error) {
		if a.has("factor") {
			return intensity.NewScaleIntensityFactor(a.requiredFloat("factor")), nil
		}
		return intensity.NewScaleIntensity(a.float("minv", 0), a.float("maxv", 1)), nil
	},
	"normalize_intensity": func(a *args) (transforms.Transform, error) {
		return intensity.NewNormalizeIntensity(a.boolean("nonzero", false), a.boolean("channel_wise", false)), nil
	},
	"threshold_intensity": func(a *args) (transforms.Transform, error) {
		return intensity.NewThresholdIntensity(
			a.requiredFloat("threshold"), a.boolean("above", true), a.float("cval", 0)), nil
	},
	"scale_intensity_range": func(a *args) (transforms.Transform, error) {
		return intensity.NewScaleIntensityRange(
			a.requiredFloat("a_min"), a.requiredFloat("a_max"),
			a.requiredFloat("b_min"), a.requiredFloat("b_max"),
			a.boolean("clip", false)), nil
	},
	"scale_intensity_range_percentiles": func(a *args) (transforms.Transform, error) {
		return intensity.NewScaleIntensityRangePercentiles(
			a.requiredFloat("lower"), a.requiredFloat("upper"),
			a.requiredFloat("b_min"), a.requiredFloat("b_max"),
			a.boolean("clip", false), a.boolean("relative", false))
	},
	"adjust_contrast": func(a *args) (transforms.Transform, error) {
		return intensity.NewAdjustContrast(a.requiredFloat("gamma")), nil
	},
	"gaussian_smooth": func(a *args) (transforms.Transform, error) {
		return intensity.NewGaussianSmooth(a.floats("sigma", []float64{1})...), nil
	},
	"gaussian_sharpen": func(a *args) (transforms.Transform, error) {
		return intensity.NewGaussianSharpen(
			a.floats("sigma1", []float64{3}),
			a.floats("sigma2", []float64{1}),
			a.float("alpha", 30)), nil
	},
	"rand_gaussian_noise": func(a *args) (transforms.Transform, error) {
		return intensity.NewRandGaussianNoise(
			a.float("prob", 0.1), a.float("mean", 0), a.float("std", 0.1)), nil
	},
	"rand_shift_intensity": func(a *args) (transforms.Transform, error) {
		return intensity.NewRandShiftIntensity(a.requiredFloat("offsets"), a.float("prob", 0.1)), nil
	},
	"rand_scale_intensity": func(a *args) (transforms.Transform, error) {
		return intensity.NewRandScaleIntensity(a.requiredFloat("factors"), a.float("prob", 0.1)), nil
	},
	"rand_adjust_contrast": func(a *args) (transforms.Transform, error) {
		return intensity.NewRandAdjustContrast(a.float("prob", 0.1), a.float("gamma", 4.5))
	},
	"rand_gaussian_smooth": func(a *args) (transforms.Transform, error) {
		return intensity.NewRandGaussianSmooth(
			a.sigmaRange("sigma_x"), a.sigmaRange("sigma_y"), a.sigmaRange("sigma_z"),
			a.float("prob", 0.1)), nil
	},
	"rand_gaussian_sharpen": func(a *args) (transforms.Transform, error) {
		return intensity.NewRandGaussianSharpen(a.float("prob", 0.1)), nil
	},
	"rand_histogram_shift": func(a *args) (transforms.Transform, error) {
		return intensity.NewRandHistogramShift(a.integer("num_control_points", 10), a.float("prob", 0.1))
	},
	"rand_bezier_adjust": func(a *args) (transforms.Transform, error) {
		return intensity.NewRandBezierAdjust(a.float("prob", 0.5)), nil
	},
	"rand_local_pixel_shuffle": func(a *args) (transforms.Transform, error) {
		return intensity.NewRandLocalPixelShuffle(a.float("prob", 0.5)), nil
	},
	"rand_image_inpainting": func(a *args) (transforms.Transform, error) {
		return intensity.NewRandImageInpainting(a.float("prob", 0.95)), nil
	},
	"rand_image_outpainting": func(a *args) (transforms.Transform, error) {
		return intensity.NewRandImageOutpainting(a.float("prob", 0.95)), nil
	},
}

// args wraps a step's parameter map with typed accessors. Accessors record
// the keys they touched and accumulate conversion errors; finish reports the
// first error or any leftover (unknown) key.
type args struct {
	name string
	m    map[string]any
	used map[string]bool
	err  error
}

func newArgs(name string, m map[string]any) *args {
	return &args{name: name, m: m, used: make(map[string]bool, len(m))}
}

func (a *args) setErr(err error) {
	if a.err == nil {
		a.err = err
	}
}

func (a *args) has(key string) bool {
	_, found := a.m[key]
	return found
}

func (a *args) float(key string, def float64) float64 {
	v, found := a.m[key]
	if !found {
		return def
	}
	a.used[key] = true
	f, err := toFloat(v)
	if err != nil {
		a.setErr(errors.WithMessagef(err, "parameter %q", key))
		return def
	}
	return f
}

func (a *args) requiredFloat(key string) float64 {
	if !a.has(key) {
		a.setErr(errors.Errorf("missing required parameter %q", key))
		return 0
	}
	return a.float(key, 0)
}

func (a *args) integer(key string, def int) int {
	v, found := a.m[key]
	if !found {
		return def
	}
	a.used[key] = true
	i, ok := v.(int)
	if !ok {
		a.setErr(errors.Errorf("parameter %q: expected an integer, got %T", key, v))
		return def
	}
	return i
}

func (a *args) boolean(key string, def bool) bool {
	v, found := a.m[key]
	if !found {
		return def
	}
	a.used[key] = true
	b, ok := v.(bool)
	if !ok {
		a.setErr(errors.Errorf("parameter %q: expected a boolean, got %T", key, v))
		return def
	}
	return b
}

// floats accepts a scalar or a list of numbers.
func (a *args) floats(key string, def []float64) []float64 {
	v, found := a.m[key]
	if !found {
		return def
	}
	a.used[key] = true
	if list, ok := v.([]any); ok {
		out := make([]float64, len(list))
		for ii, item := range list {
			f, err := toFloat(item)
			if err != nil {
				a.setErr(errors.WithMessagef(err, "parameter %q[%d]", key, ii))
				return def
			}
			out[ii] = f
		}
		return out
	}
	f, err := toFloat(v)
	if err != nil {
		a.setErr(errors.WithMessagef(err, "parameter %q", key))
		return def
	}
	return []float64{f}
}

// sigmaRange reads a two-element [low, high] list, defaulting to [0.25, 1.5].
func (a *args) sigmaRange(key string) [2]float64 {
	def := [2]float64{0.25, 1.5}
	list := a.floats(key, def[:])
	if len(list) != 2 {
		a.setErr(errors.Errorf("parameter %q: expected [low, high], got %d values", key, len(list)))
		return def
	}
	return [2]float64{list[0], list[1]}
}

func (a *args) finish() error {
	if a.err != nil {
		return a.err
	}
	for key := range a.m {
		if !a.used[key] {
			return errors.Errorf("unknown parameter %q", key)
		}
	}
	return nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, errors.Errorf("expected a number, got %T", v)
}
