// Package data supplies training, validation, and test data to the
// training helpers: an in-memory loader serving epoch-shuffled batches
// and a constructor that fills one from WebDataset tar shards.
package data

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Loader provides held-out arrays and training batches. Labels are
// one-hot rows aligned with their image rows.
type Loader interface {
	ValImages() [][]float64
	ValLabels() [][]float64
	TestImages() [][]float64
	TestLabels() [][]float64
	// NextBatch returns the next training batch for the given epoch.
	// Batches are reshuffled at each epoch boundary and wrap around
	// the training set.
	NextBatch(epoch int) (images, labels [][]float64, err error)
}

// InMemoryConfig configures an InMemory loader.
type InMemoryConfig struct {
	TrainImages, TrainLabels [][]float64
	ValImages, ValLabels     [][]float64
	TestImages, TestLabels   [][]float64
	BatchSize                int
	Seed                     int64
}

// InMemory is a Loader backed by slices.
type InMemory struct {
	trainImages, trainLabels [][]float64
	valImages, valLabels     [][]float64
	testImages, testLabels   [][]float64
	batchSize                int
	seed                     int64

	perm      []int
	permEpoch int
	cursor    int
}

// NewInMemory validates cfg and returns a loader over its slices.
func NewInMemory(cfg InMemoryConfig) (*InMemory, error) {
	if cfg.BatchSize <= 0 {
		return nil, errors.Errorf("data: batch size must be > 0 (got %d)", cfg.BatchSize)
	}
	if len(cfg.TrainImages) == 0 {
		return nil, errors.New("data: no training samples")
	}
	for _, pair := range []struct {
		name           string
		images, labels [][]float64
	}{
		{"train", cfg.TrainImages, cfg.TrainLabels},
		{"val", cfg.ValImages, cfg.ValLabels},
		{"test", cfg.TestImages, cfg.TestLabels},
	} {
		if len(pair.images) != len(pair.labels) {
			return nil, errors.Errorf("data: %s has %d images but %d labels",
				pair.name, len(pair.images), len(pair.labels))
		}
	}
	return &InMemory{
		trainImages: cfg.TrainImages,
		trainLabels: cfg.TrainLabels,
		valImages:   cfg.ValImages,
		valLabels:   cfg.ValLabels,
		testImages:  cfg.TestImages,
		testLabels:  cfg.TestLabels,
		batchSize:   cfg.BatchSize,
		seed:        cfg.Seed,
		permEpoch:   -1,
	}, nil
}

// TrainSize returns the number of training samples.
func (l *InMemory) TrainSize() int { return len(l.trainImages) }

// ValImages returns the validation images.
func (l *InMemory) ValImages() [][]float64 { return l.valImages }

// ValLabels returns the validation labels.
func (l *InMemory) ValLabels() [][]float64 { return l.valLabels }

// TestImages returns the test images.
func (l *InMemory) TestImages() [][]float64 { return l.testImages }

// TestLabels returns the test labels.
func (l *InMemory) TestLabels() [][]float64 { return l.testLabels }

// NextBatch returns the next training batch for epoch. The traversal
// order is a deterministic function of the loader seed and the epoch.
func (l *InMemory) NextBatch(epoch int) ([][]float64, [][]float64, error) {
	if epoch != l.permEpoch {
		rng := rand.New(rand.NewSource(l.seed + int64(epoch)))
		l.perm = rng.Perm(len(l.trainImages))
		l.permEpoch = epoch
		l.cursor = 0
	}
	images := make([][]float64, 0, l.batchSize)
	labels := make([][]float64, 0, l.batchSize)
	for len(images) < l.batchSize {
		idx := l.perm[l.cursor]
		images = append(images, l.trainImages[idx])
		labels = append(labels, l.trainLabels[idx])
		l.cursor = (l.cursor + 1) % len(l.perm)
	}
	return images, labels, nil
}
