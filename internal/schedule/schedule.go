// Package schedule computes the learning rate for a given point in
// training. Two policies exist: a step decay used for wide-resnet runs
// on SVHN, and cosine annealing for everything else.
package schedule

import (
	"fmt"
	"math"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/tobyclh/pba/internal/hparams"
)

// Step returns the step-decay rate for epoch: the full rate below
// epoch 80, a tenth through epoch 119, and a hundredth from 120 on.
func Step(lr float64, epoch int) float64 {
	switch {
	case epoch < 80:
		return lr
	case epoch < 120:
		return lr * 0.1
	default:
		return lr * 0.01
	}
}

// Cosine anneals lr over training progress following a cosine curve.
// Progress is measured in iterations: epoch*batchesPerEpoch+iteration
// out of totalEpochs*batchesPerEpoch.
func Cosine(lr float64, epoch, iteration, batchesPerEpoch, totalEpochs int) float64 {
	tTotal := float64(totalEpochs * batchesPerEpoch)
	tCur := float64(epoch*batchesPerEpoch + iteration)
	return 0.5 * lr * (1 + math.Cos(math.Pi*tCur/tTotal))
}

// ForEpoch returns the learning rate for the given epoch and
// iteration. The policy is picked by dataset and model name; unknown
// combinations fall back to cosine annealing with a warning.
//
// A negative iteration is a programmer error and panics.
func ForEpoch(currEpoch int, hp *hparams.Hparams, iteration int) float64 {
	if iteration < 0 {
		panic(fmt.Sprintf("schedule: iteration must be >= 0, got %d", iteration))
	}
	batchesPerEpoch := hp.BatchesPerEpoch()
	switch {
	case strings.Contains(hp.Dataset, "svhn") && strings.Contains(hp.ModelName, "wrn"):
		return Step(hp.LR, currEpoch)
	case strings.Contains(hp.Dataset, "cifar"),
		strings.Contains(hp.Dataset, "svhn") && strings.Contains(hp.ModelName, "shake_shake"):
		return Cosine(hp.LR, currEpoch, iteration, batchesPerEpoch, hp.NumEpochs)
	default:
		log.WithFields(log.Fields{
			"dataset": hp.Dataset,
			"model":   hp.ModelName,
		}).Warn("defaulting to cosine learning rate")
		return Cosine(hp.LR, currEpoch, iteration, batchesPerEpoch, hp.NumEpochs)
	}
}
