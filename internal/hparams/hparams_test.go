package hparams

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hparams.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, `
dataset: cifar10
model_name: wrn_28_10
lr: 0.1
num_epochs: 200
train_size: 50000
batch_size: 128
`)
	hp, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "cifar10", hp.Dataset)
	assert.Equal(t, "wrn_28_10", hp.ModelName)
	assert.Equal(t, 0.1, hp.LR)
	assert.Equal(t, 200, hp.NumEpochs)
	assert.Equal(t, int64(DefaultSeed), hp.Seed)
	assert.Equal(t, DefaultNumClasses, hp.NumClasses)
	assert.Equal(t, DefaultNumWorkers, hp.NumWorkers)
	assert.Equal(t, DefaultLogEvery, hp.LogEvery)
	assert.Equal(t, DefaultValFraction, hp.ValFraction)
	assert.Equal(t, DefaultTestFraction, hp.TestFraction)

	require.NoError(t, hp.Validate())
}

func TestLoadKeepsExplicitZeros(t *testing.T) {
	path := writeFile(t, `
dataset: cifar10
model_name: wrn_28_10
lr: 0.1
num_epochs: 200
train_size: 50000
batch_size: 128
seed: 0
val_fraction: 0
test_fraction: 0
`)
	hp, err := Load(path)
	require.NoError(t, err)

	// A run with no held-out split and a zero seed is configurable.
	assert.Equal(t, int64(0), hp.Seed)
	assert.Equal(t, 0.0, hp.ValFraction)
	assert.Equal(t, 0.0, hp.TestFraction)

	require.NoError(t, hp.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeFile(t, "dataset: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateReportsAllFailures(t *testing.T) {
	hp := &Hparams{LR: -1, NumEpochs: 0, BatchSize: 0}
	err := hp.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "dataset")
	assert.Contains(t, msg, "model_name")
	assert.Contains(t, msg, "lr must be > 0")
	assert.Contains(t, msg, "num_epochs must be > 0")
	assert.Contains(t, msg, "batch_size must be > 0")
}

func TestValidateBatchLargerThanTrain(t *testing.T) {
	hp := &Hparams{
		Dataset: "cifar10", ModelName: "wrn", LR: 0.1, NumEpochs: 1,
		TrainSize: 10, BatchSize: 20, NumClasses: 10, NumWorkers: 1,
		ValFraction: 0.1, TestFraction: 0.1,
	}
	err := hp.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds train_size")
}

func TestValidateSplitFractions(t *testing.T) {
	hp := &Hparams{
		Dataset: "cifar10", ModelName: "wrn", LR: 0.1, NumEpochs: 1,
		TrainSize: 100, BatchSize: 10, NumClasses: 10, NumWorkers: 1,
		ValFraction: 0.6, TestFraction: 0.5,
	}
	err := hp.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leave training data")
}

func TestApplyOverridesSkipsZeroValues(t *testing.T) {
	hp := &Hparams{
		Dataset: "cifar10", ModelName: "wrn", LR: 0.1, NumEpochs: 200,
		TrainSize: 50000, BatchSize: 128, Seed: 42,
	}
	hp.ApplyOverrides(Overrides{BatchSize: 256, TrainRoot: "/data/shards"})

	assert.Equal(t, 256, hp.BatchSize)
	assert.Equal(t, "/data/shards", hp.TrainRoot)
	assert.Equal(t, "cifar10", hp.Dataset)
	assert.Equal(t, 0.1, hp.LR)
	assert.Equal(t, int64(42), hp.Seed)
}

func TestBatchesPerEpoch(t *testing.T) {
	hp := &Hparams{TrainSize: 1000, BatchSize: 128}
	assert.Equal(t, 7, hp.BatchesPerEpoch())

	hp = &Hparams{TrainSize: 1000, BatchSize: 0}
	assert.Equal(t, 0, hp.BatchesPerEpoch())
}
