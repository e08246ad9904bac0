package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobyclh/pba/internal/engine"
	"github.com/tobyclh/pba/internal/hparams"
)

func testHparams() *hparams.Hparams {
	return &hparams.Hparams{
		Dataset:   "cifar10",
		ModelName: "wrn",
		LR:        0.1,
		NumEpochs: 10,
		TrainSize: 8,
		BatchSize: 2,
	}
}

func TestPredictionsAreDistributions(t *testing.T) {
	m := NewSoftmaxClassifier(testHparams(), 4, 3, 1)
	sess := engine.NewSession(m.Graph())

	out, err := sess.Run(
		[]*engine.Fetch{m.Predictions()},
		engine.FeedDict{m.Images(): [][]float64{{0.1, 0.2, 0.3, 0.4}, {0.4, 0.3, 0.2, 0.1}}},
	)
	require.NoError(t, err)

	preds, err := engine.AsMatrix(out[0])
	require.NoError(t, err)
	require.Len(t, preds, 2)
	for _, row := range preds {
		require.Len(t, row, 3)
		sum := 0.0
		for _, p := range row {
			assert.GreaterOrEqual(t, p, 0.0)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestTrainStepReducesLoss(t *testing.T) {
	m := NewSoftmaxClassifier(testHparams(), 4, 3, 1)
	sess := engine.NewSession(m.Graph())

	feed := engine.FeedDict{
		m.Images(): [][]float64{{0.1, 0.2, 0.3, 0.4}, {0.4, 0.3, 0.2, 0.1}},
		m.Labels(): [][]float64{{0, 1, 0}, {0, 0, 1}},
	}

	out1, err := sess.Run([]*engine.Fetch{m.TrainOp()}, feed)
	require.NoError(t, err)
	out2, err := sess.Run([]*engine.Fetch{m.TrainOp()}, feed)
	require.NoError(t, err)

	loss1 := out1[0].(float64)
	loss2 := out2[0].(float64)
	assert.Less(t, loss2, loss1)
}

func TestTrainStepAdvancesGlobalStep(t *testing.T) {
	m := NewSoftmaxClassifier(testHparams(), 4, 3, 1)
	sess := engine.NewSession(m.Graph())

	out, err := sess.Run([]*engine.Fetch{m.GlobalStep()}, nil)
	require.NoError(t, err)
	step, err := engine.AsStep(out[0])
	require.NoError(t, err)
	assert.Equal(t, int64(0), step)

	feed := engine.FeedDict{
		m.Images(): [][]float64{{0.1, 0.2, 0.3, 0.4}},
		m.Labels(): [][]float64{{1, 0, 0}},
	}
	out, err = sess.Run([]*engine.Fetch{m.TrainOp(), m.GlobalStep()}, feed)
	require.NoError(t, err)
	step, err = engine.AsStep(out[1])
	require.NoError(t, err)
	assert.Equal(t, int64(1), step)
}

func TestLearningRateVariableLoads(t *testing.T) {
	m := NewSoftmaxClassifier(testHparams(), 4, 3, 1)
	sess := engine.NewSession(m.Graph())

	require.NoError(t, sess.Load(m.LearningRate(), 0.025))
	assert.Equal(t, 0.025, m.lr)
}

func TestTrainStepRejectsBadBatch(t *testing.T) {
	m := NewSoftmaxClassifier(testHparams(), 4, 3, 1)
	sess := engine.NewSession(m.Graph())

	_, err := sess.Run([]*engine.Fetch{m.TrainOp()}, engine.FeedDict{
		m.Images(): [][]float64{{0.1, 0.2, 0.3, 0.4}},
		m.Labels(): [][]float64{},
	})
	require.Error(t, err)

	_, err = sess.Run([]*engine.Fetch{m.TrainOp()}, engine.FeedDict{
		m.Images(): [][]float64{{0.1}},
		m.Labels(): [][]float64{{1, 0, 0}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "features")
}
