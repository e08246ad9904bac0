// Package trainer holds the training-loop helpers: evaluating a model
// on held-out data and running one epoch of optimizer steps. Models,
// data loaders, and the execution session are consumed as interfaces;
// the trainer owns no state across calls.
package trainer

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tobyclh/pba/internal/data"
	"github.com/tobyclh/pba/internal/engine"
	"github.com/tobyclh/pba/internal/hparams"
	"github.com/tobyclh/pba/internal/metrics"
	"github.com/tobyclh/pba/internal/schedule"
)

// Mode selects which held-out split Evaluate runs on.
type Mode string

// Valid evaluation modes.
const (
	ModeVal  Mode = "val"
	ModeTest Mode = "test"
)

// Model exposes the graph handles and configuration the training
// helpers need. Model state is only ever mutated through the session.
type Model interface {
	BatchSize() int
	Hparams() *hparams.Hparams
	Images() *engine.Placeholder
	Labels() *engine.Placeholder
	LearningRate() *engine.Placeholder
	Predictions() *engine.Fetch
	TrainOp() *engine.Fetch
	GlobalStep() *engine.Fetch
}

// Evaluate runs m over the held-out split selected by mode and returns
// its accuracy in [0,1]. An unrecognized mode is an error; mismatched
// image/label arrays are a programmer error and panic.
func Evaluate(sess engine.Session, m Model, loader data.Loader, mode Mode) (float64, error) {
	var images, labels [][]float64
	switch mode {
	case ModeVal:
		images = loader.ValImages()
		labels = loader.ValLabels()
	case ModeTest:
		images = loader.TestImages()
		labels = loader.TestLabels()
	default:
		return 0, errors.Errorf("trainer: not a valid eval mode: %q", mode)
	}
	if len(images) != len(labels) {
		panic(fmt.Sprintf("trainer: %d images but %d labels for mode %s", len(images), len(labels), mode))
	}
	if len(images) == 0 {
		return 0, errors.Errorf("trainer: no %s samples to evaluate", mode)
	}

	batchSize := m.BatchSize()
	log.WithField("batch_size", batchSize).Info("evaluating model")
	batches := len(images) / batchSize
	if len(images)%batchSize != 0 {
		batches++
	}

	correct := 0
	count := 0
	for i := 0; i < batches; i++ {
		lo := i * batchSize
		hi := min(lo+batchSize, len(images))
		out, err := sess.Run(
			[]*engine.Fetch{m.Predictions()},
			engine.FeedDict{
				m.Images(): images[lo:hi],
				m.Labels(): labels[lo:hi],
			},
		)
		if err != nil {
			return 0, err
		}
		preds, err := engine.AsMatrix(out[0])
		if err != nil {
			return 0, err
		}
		correct += countMatches(labels[lo:hi], preds)
		count += len(preds)
	}
	if count != len(images) {
		panic(fmt.Sprintf("trainer: evaluated %d predictions for %d images", count, len(images)))
	}
	log.WithFields(log.Fields{"correct": correct, "total": count}).Info("evaluation done")
	return float64(correct) / float64(count), nil
}

// RunEpoch runs exactly one epoch of optimizer steps for m and returns
// the accuracy over the training batches it consumed. The engine's
// global step must sit on an epoch boundary when called; violating
// that is a programmer error and panics.
func RunEpoch(sess engine.Session, m Model, loader data.Loader, currEpoch int) (float64, error) {
	hp := m.Hparams()
	stepsPerEpoch := hp.BatchesPerEpoch()
	if stepsPerEpoch <= 0 {
		panic(fmt.Sprintf("trainer: train_size %d and batch_size %d give no full batches",
			hp.TrainSize, hp.BatchSize))
	}
	log.WithField("steps_per_epoch", stepsPerEpoch).Info("starting epoch")

	out, err := sess.Run([]*engine.Fetch{m.GlobalStep()}, nil)
	if err != nil {
		return 0, err
	}
	currStep, err := engine.AsStep(out[0])
	if err != nil {
		return 0, err
	}
	if currStep%int64(stepsPerEpoch) != 0 {
		panic(fmt.Sprintf("trainer: global step %d is not a multiple of steps per epoch %d",
			currStep, stepsPerEpoch))
	}

	currLR := schedule.ForEpoch(currEpoch, hp, 0)
	log.WithFields(log.Fields{"lr": currLR, "epoch": currEpoch}).Info("learning rate for epoch")

	logEvery := hp.LogEvery
	if logEvery <= 0 {
		logEvery = hparams.DefaultLogEvery
	}

	var window metrics.Window
	correct := 0
	count := 0
	for step := 0; step < stepsPerEpoch; step++ {
		currLR = schedule.ForEpoch(currEpoch, hp, step+1)
		if err := sess.Load(m.LearningRate(), currLR); err != nil {
			return 0, err
		}
		if step%logEvery == 0 {
			snap := window.Snapshot()
			log.WithFields(log.Fields{
				"step":           step,
				"steps":          stepsPerEpoch,
				"images_per_sec": fmt.Sprintf("%.1f", snap.ImagesPerSec),
				"data_ms":        fmt.Sprintf("%.2f", snap.AvgDataMS),
				"compute_ms":     fmt.Sprintf("%.2f", snap.AvgComputeMS),
			}).Info("training")
		}

		startData := time.Now()
		trainImages, trainLabels, err := loader.NextBatch(currEpoch)
		if err != nil {
			return 0, err
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		out, err := sess.Run(
			[]*engine.Fetch{m.TrainOp(), m.GlobalStep(), m.Predictions()},
			engine.FeedDict{
				m.Images(): trainImages,
				m.Labels(): trainLabels,
			},
		)
		if err != nil {
			return 0, err
		}
		computeTime := time.Since(startCompute)

		preds, err := engine.AsMatrix(out[2])
		if err != nil {
			return 0, err
		}
		matched := countMatches(trainLabels, preds)
		correct += matched
		count += len(preds)
		window.Record(len(preds), matched, dataTime, computeTime)
	}

	trainAccuracy := float64(correct) / float64(count)
	log.WithField("train_accuracy", trainAccuracy).Info("epoch done")
	return trainAccuracy, nil
}

// countMatches counts rows whose predicted argmax equals the label
// argmax.
func countMatches(labels, preds [][]float64) int {
	matches := 0
	for i := range preds {
		if argmax(preds[i]) == argmax(labels[i]) {
			matches++
		}
	}
	return matches
}

func argmax(row []float64) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}
