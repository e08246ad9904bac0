package model

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/tobyclh/pba/internal/engine"
	"github.com/tobyclh/pba/internal/hparams"
)

// SoftmaxClassifier is a linear classifier with softmax cross-entropy,
// exposed as graph operations so the training helpers drive it through
// an engine.Session like any other model.
type SoftmaxClassifier struct {
	hp         *hparams.Hparams
	graph      *engine.Graph
	inputSize  int
	numClasses int

	images      *engine.Placeholder
	labels      *engine.Placeholder
	lrVar       *engine.Placeholder
	predictions *engine.Fetch
	trainOp     *engine.Fetch
	globalStep  *engine.Fetch

	weights []float64
	bias    []float64
	lr      float64
	step    int64
}

// NewSoftmaxClassifier constructs the model with random initialization
// and registers its operations on a fresh graph.
func NewSoftmaxClassifier(hp *hparams.Hparams, inputSize, numClasses int, seed int64) *SoftmaxClassifier {
	if inputSize <= 0 {
		inputSize = 64
	}
	if numClasses <= 0 {
		numClasses = 10
	}
	rng := rand.New(rand.NewSource(seed))
	weights := make([]float64, numClasses*inputSize)
	for i := range weights {
		weights[i] = (rng.Float64()*2 - 1) * 0.01
	}

	m := &SoftmaxClassifier{
		hp:         hp,
		graph:      engine.NewGraph(),
		inputSize:  inputSize,
		numClasses: numClasses,
		weights:    weights,
		bias:       make([]float64, numClasses),
		lr:         hp.LR,
	}

	m.images = m.graph.Placeholder("images")
	m.labels = m.graph.Placeholder("labels")
	m.lrVar = m.graph.Variable("lr_rate", func(v float64) { m.lr = v })
	m.predictions = m.graph.Operation("predictions", m.runPredictions)
	m.trainOp = m.graph.Operation("train_op", m.runTrainStep)
	m.globalStep = m.graph.Operation("global_step", func(engine.FeedDict) (engine.Value, error) {
		return m.step, nil
	})

	return m
}

// Graph returns the graph the model's operations are registered on.
func (m *SoftmaxClassifier) Graph() *engine.Graph { return m.graph }

// Hparams returns the model's hyperparameters.
func (m *SoftmaxClassifier) Hparams() *hparams.Hparams { return m.hp }

// BatchSize returns the configured batch size.
func (m *SoftmaxClassifier) BatchSize() int { return m.hp.BatchSize }

// Images returns the image input placeholder.
func (m *SoftmaxClassifier) Images() *engine.Placeholder { return m.images }

// Labels returns the one-hot label input placeholder.
func (m *SoftmaxClassifier) Labels() *engine.Placeholder { return m.labels }

// LearningRate returns the scalar learning-rate variable.
func (m *SoftmaxClassifier) LearningRate() *engine.Placeholder { return m.lrVar }

// Predictions returns the forward-pass fetch.
func (m *SoftmaxClassifier) Predictions() *engine.Fetch { return m.predictions }

// TrainOp returns the optimizer-update fetch. Its value is the batch's
// average cross-entropy loss.
func (m *SoftmaxClassifier) TrainOp() *engine.Fetch { return m.trainOp }

// GlobalStep returns the optimizer-step counter fetch.
func (m *SoftmaxClassifier) GlobalStep() *engine.Fetch { return m.globalStep }

func (m *SoftmaxClassifier) runPredictions(feed engine.FeedDict) (engine.Value, error) {
	images, err := feed.Matrix(m.images)
	if err != nil {
		return nil, err
	}
	preds := make([][]float64, len(images))
	for i, input := range images {
		if len(input) != m.inputSize {
			return nil, errors.Errorf("model: input %d has %d features, want %d", i, len(input), m.inputSize)
		}
		preds[i] = softmax(m.logits(input))
	}
	return preds, nil
}

func (m *SoftmaxClassifier) runTrainStep(feed engine.FeedDict) (engine.Value, error) {
	images, err := feed.Matrix(m.images)
	if err != nil {
		return nil, err
	}
	labels, err := feed.Matrix(m.labels)
	if err != nil {
		return nil, err
	}
	if len(images) != len(labels) {
		return nil, errors.Errorf("model: %d images but %d labels", len(images), len(labels))
	}
	if len(images) == 0 {
		return nil, errors.New("model: empty training batch")
	}

	totalLoss := 0.0
	for i, input := range images {
		if len(input) != m.inputSize {
			return nil, errors.Errorf("model: input %d has %d features, want %d", i, len(input), m.inputSize)
		}
		label := argmax(labels[i])
		probs := softmax(m.logits(input))
		totalLoss += -math.Log(math.Max(probs[label], 1e-9))

		probs[label] -= 1
		for c := 0; c < m.numClasses; c++ {
			grad := probs[c]
			m.bias[c] -= m.lr * grad
			wStart := c * m.inputSize
			for j := 0; j < m.inputSize; j++ {
				m.weights[wStart+j] -= m.lr * grad * input[j]
			}
		}
	}
	m.step++
	return totalLoss / float64(len(images)), nil
}

func (m *SoftmaxClassifier) logits(input []float64) []float64 {
	logits := make([]float64, m.numClasses)
	for c := 0; c < m.numClasses; c++ {
		sum := m.bias[c]
		wStart := c * m.inputSize
		for j := 0; j < m.inputSize; j++ {
			sum += m.weights[wStart+j] * input[j]
		}
		logits[c] = sum
	}
	return logits
}

func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	out := make([]float64, len(logits))
	for i, v := range logits {
		exp := math.Exp(v - maxLogit)
		out[i] = exp
		sum += exp
	}
	inv := 1.0 / sum
	for i := range out {
		out[i] *= inv
	}
	return out
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
