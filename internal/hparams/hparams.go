package hparams

import (
	"os"

	"github.com/ghodss/yaml"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Defaults applied by Load for fields left unset in the file.
const (
	DefaultSeed         = 42
	DefaultNumClasses   = 10
	DefaultNumWorkers   = 4
	DefaultLogEvery     = 20
	DefaultValFraction  = 0.1
	DefaultTestFraction = 0.1
)

// Hparams captures the hyperparameters and runtime knobs of a training run.
type Hparams struct {
	Dataset      string  `json:"dataset"`
	ModelName    string  `json:"model_name"`
	LR           float64 `json:"lr"`
	NumEpochs    int     `json:"num_epochs"`
	TrainSize    int     `json:"train_size"`
	BatchSize    int     `json:"batch_size"`
	NumClasses   int     `json:"num_classes"`
	Seed         int64   `json:"seed"`
	NumWorkers   int     `json:"num_workers"`
	LogEvery     int     `json:"log_every"`
	TrainRoot    string  `json:"train_root"`
	ValFraction  float64 `json:"val_fraction"`
	TestFraction float64 `json:"test_fraction"`
	MetricsAddr  string  `json:"metrics_addr"`
}

// Overrides captures CLI or environment supplied values.
type Overrides struct {
	Dataset     string
	ModelName   string
	LR          float64
	NumEpochs   int
	TrainSize   int
	BatchSize   int
	NumClasses  int
	Seed        int64
	NumWorkers  int
	LogEvery    int
	TrainRoot   string
	MetricsAddr string
}

// Load reads an Hparams from a YAML file and applies defaults.
// The result is not validated; callers apply overrides first.
func Load(path string) (*Hparams, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read hparams file")
	}
	// Zero is a legal value for these three, so absence has to be
	// distinguished from an explicit zero.
	var raw struct {
		Hparams
		Seed         *int64   `json:"seed"`
		ValFraction  *float64 `json:"val_fraction"`
		TestFraction *float64 `json:"test_fraction"`
	}
	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return nil, errors.Wrapf(err, "parse hparams file %s", path)
	}
	hp := &raw.Hparams
	hp.Seed = DefaultSeed
	if raw.Seed != nil {
		hp.Seed = *raw.Seed
	}
	hp.ValFraction = DefaultValFraction
	if raw.ValFraction != nil {
		hp.ValFraction = *raw.ValFraction
	}
	hp.TestFraction = DefaultTestFraction
	if raw.TestFraction != nil {
		hp.TestFraction = *raw.TestFraction
	}
	hp.applyDefaults()
	return hp, nil
}

func (h *Hparams) applyDefaults() {
	if h.NumClasses == 0 {
		h.NumClasses = DefaultNumClasses
	}
	if h.NumWorkers == 0 {
		h.NumWorkers = DefaultNumWorkers
	}
	if h.LogEvery == 0 {
		h.LogEvery = DefaultLogEvery
	}
}

// ApplyOverrides updates h using any non-zero override.
func (h *Hparams) ApplyOverrides(o Overrides) {
	if o.Dataset != "" {
		h.Dataset = o.Dataset
	}
	if o.ModelName != "" {
		h.ModelName = o.ModelName
	}
	if o.LR > 0 {
		h.LR = o.LR
	}
	if o.NumEpochs > 0 {
		h.NumEpochs = o.NumEpochs
	}
	if o.TrainSize > 0 {
		h.TrainSize = o.TrainSize
	}
	if o.BatchSize > 0 {
		h.BatchSize = o.BatchSize
	}
	if o.NumClasses > 0 {
		h.NumClasses = o.NumClasses
	}
	if o.Seed != 0 {
		h.Seed = o.Seed
	}
	if o.NumWorkers > 0 {
		h.NumWorkers = o.NumWorkers
	}
	if o.LogEvery > 0 {
		h.LogEvery = o.LogEvery
	}
	if o.TrainRoot != "" {
		h.TrainRoot = o.TrainRoot
	}
	if o.MetricsAddr != "" {
		h.MetricsAddr = o.MetricsAddr
	}
}

// Validate verifies the hyperparameters describe a runnable training
// job. All failures are reported together.
func (h *Hparams) Validate() error {
	if h == nil {
		return errors.New("hparams is nil")
	}
	var result *multierror.Error
	if h.Dataset == "" {
		result = multierror.Append(result, errors.New("dataset must be set"))
	}
	if h.ModelName == "" {
		result = multierror.Append(result, errors.New("model_name must be set"))
	}
	if h.LR <= 0 {
		result = multierror.Append(result, errors.Errorf("lr must be > 0 (got %g)", h.LR))
	}
	if h.NumEpochs <= 0 {
		result = multierror.Append(result, errors.Errorf("num_epochs must be > 0 (got %d)", h.NumEpochs))
	}
	if h.TrainSize < 0 {
		result = multierror.Append(result, errors.Errorf("train_size must be >= 0 (got %d)", h.TrainSize))
	}
	if h.BatchSize <= 0 {
		result = multierror.Append(result, errors.Errorf("batch_size must be > 0 (got %d)", h.BatchSize))
	}
	if h.TrainSize > 0 && h.BatchSize > h.TrainSize {
		result = multierror.Append(result,
			errors.Errorf("batch_size %d exceeds train_size %d", h.BatchSize, h.TrainSize))
	}
	if h.NumClasses <= 0 {
		result = multierror.Append(result, errors.Errorf("num_classes must be > 0 (got %d)", h.NumClasses))
	}
	if h.NumWorkers <= 0 {
		result = multierror.Append(result, errors.Errorf("num_workers must be > 0 (got %d)", h.NumWorkers))
	}
	if h.ValFraction < 0 || h.ValFraction >= 1 {
		result = multierror.Append(result,
			errors.Errorf("val_fraction must be in [0,1) (got %g)", h.ValFraction))
	}
	if h.TestFraction < 0 || h.TestFraction >= 1 {
		result = multierror.Append(result,
			errors.Errorf("test_fraction must be in [0,1) (got %g)", h.TestFraction))
	}
	if h.ValFraction+h.TestFraction >= 1 {
		result = multierror.Append(result,
			errors.Errorf("val_fraction + test_fraction must leave training data (got %g)",
				h.ValFraction+h.TestFraction))
	}
	return result.ErrorOrNil()
}

// BatchesPerEpoch returns the number of full optimizer steps in one
// epoch. The short remainder, if any, is never trained on.
func (h *Hparams) BatchesPerEpoch() int {
	if h.BatchSize <= 0 {
		return 0
	}
	return h.TrainSize / h.BatchSize
}
