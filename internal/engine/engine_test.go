package engine

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunEvaluatesFetchesInOrder(t *testing.T) {
	g := NewGraph()
	in := g.Placeholder("in")
	double := g.Operation("double", func(feed FeedDict) (Value, error) {
		m, err := feed.Matrix(in)
		if err != nil {
			return nil, err
		}
		out := make([][]float64, len(m))
		for i, row := range m {
			out[i] = make([]float64, len(row))
			for j, v := range row {
				out[i][j] = 2 * v
			}
		}
		return out, nil
	})
	constant := g.Operation("constant", func(FeedDict) (Value, error) {
		return int64(7), nil
	})

	sess := NewSession(g)
	out, err := sess.Run([]*Fetch{double, constant}, FeedDict{in: [][]float64{{1, 2}}})
	require.NoError(t, err)
	require.Len(t, out, 2)

	m, err := AsMatrix(out[0])
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{2, 4}}, m)

	n, err := AsStep(out[1])
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestRunRejectsForeignFetch(t *testing.T) {
	g := NewGraph()
	other := NewGraph()
	foreign := other.Operation("op", func(FeedDict) (Value, error) { return nil, nil })

	_, err := NewSession(g).Run([]*Fetch{foreign}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not belong to this graph")
}

func TestRunRejectsForeignPlaceholder(t *testing.T) {
	g := NewGraph()
	op := g.Operation("op", func(FeedDict) (Value, error) { return nil, nil })
	other := NewGraph()
	foreign := other.Placeholder("in")

	_, err := NewSession(g).Run([]*Fetch{op}, FeedDict{foreign: [][]float64{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not belong to this graph")
}

func TestRunPropagatesOpErrors(t *testing.T) {
	g := NewGraph()
	failing := g.Operation("failing", func(FeedDict) (Value, error) {
		return nil, errors.New("boom")
	})

	_, err := NewSession(g).Run([]*Fetch{failing}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestLoadSetsVariable(t *testing.T) {
	g := NewGraph()
	var got float64
	lr := g.Variable("lr", func(v float64) { got = v })

	sess := NewSession(g)
	require.NoError(t, sess.Load(lr, 0.125))
	assert.Equal(t, 0.125, got)
}

func TestLoadRejectsNonVariable(t *testing.T) {
	g := NewGraph()
	in := g.Placeholder("in")

	err := NewSession(g).Load(in, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a loadable variable")
}

func TestFeedDictMissingPlaceholder(t *testing.T) {
	g := NewGraph()
	in := g.Placeholder("in")

	_, err := FeedDict{}.Matrix(in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not fed")
}
