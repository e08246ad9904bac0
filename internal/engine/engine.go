// Package engine provides a minimal in-process graph execution
// surface: placeholders fed per call, named operations fetched through
// a session, and scalar variables loaded by value. Models register
// their forward and update passes as operations; the training helpers
// only ever touch model state through a Session.
package engine

import (
	"github.com/pkg/errors"
)

// Value is the result of evaluating a single fetch.
type Value interface{}

// Placeholder identifies a graph input supplied at run time.
type Placeholder struct {
	name string
}

// Name returns the placeholder's registered name.
func (p *Placeholder) Name() string { return p.name }

// OpFunc evaluates an operation against the values fed for one run.
type OpFunc func(feed FeedDict) (Value, error)

// Fetch identifies an operation to evaluate via Session.Run.
type Fetch struct {
	name string
	fn   OpFunc
}

// Name returns the operation's registered name.
func (f *Fetch) Name() string { return f.name }

// FeedDict maps placeholders to the values fed for a single run.
type FeedDict map[*Placeholder]Value

// Matrix returns the matrix fed for ph.
func (f FeedDict) Matrix(ph *Placeholder) ([][]float64, error) {
	v, ok := f[ph]
	if !ok {
		return nil, errors.Errorf("engine: placeholder %q not fed", ph.name)
	}
	m, ok := v.([][]float64)
	if !ok {
		return nil, errors.Errorf("engine: placeholder %q fed a %T, want [][]float64", ph.name, v)
	}
	return m, nil
}

// Graph holds the registered placeholders, operations, and variables
// of a model. Registration happens once at model construction.
type Graph struct {
	placeholders map[string]*Placeholder
	ops          map[string]*Fetch
	loaders      map[*Placeholder]func(float64)
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		placeholders: map[string]*Placeholder{},
		ops:          map[string]*Fetch{},
		loaders:      map[*Placeholder]func(float64){},
	}
}

// Placeholder registers a run-time input under name.
func (g *Graph) Placeholder(name string) *Placeholder {
	if ph, ok := g.placeholders[name]; ok {
		return ph
	}
	ph := &Placeholder{name: name}
	g.placeholders[name] = ph
	return ph
}

// Operation registers fn as a fetchable operation under name.
func (g *Graph) Operation(name string, fn OpFunc) *Fetch {
	f := &Fetch{name: name, fn: fn}
	g.ops[name] = f
	return f
}

// Variable registers a scalar variable under name. The returned
// placeholder is loaded by value through Session.Load; load receives
// each new value.
func (g *Graph) Variable(name string, load func(float64)) *Placeholder {
	ph := g.Placeholder(name)
	g.loaders[ph] = load
	return ph
}

// Session executes fetches against a graph's mutable state. Sessions
// are not safe for concurrent use.
type Session interface {
	// Run evaluates each fetch in order against the given feed and
	// returns one value per fetch.
	Run(fetches []*Fetch, feed FeedDict) ([]Value, error)
	// Load sets a scalar variable by value.
	Load(ph *Placeholder, value float64) error
}

type session struct {
	graph *Graph
}

// NewSession returns a session bound to g.
func NewSession(g *Graph) Session {
	return &session{graph: g}
}

func (s *session) Run(fetches []*Fetch, feed FeedDict) ([]Value, error) {
	for ph := range feed {
		if s.graph.placeholders[ph.Name()] != ph {
			return nil, errors.Errorf("engine: placeholder %q does not belong to this graph", ph.Name())
		}
	}
	out := make([]Value, 0, len(fetches))
	for _, f := range fetches {
		if f == nil {
			return nil, errors.New("engine: nil fetch")
		}
		if s.graph.ops[f.Name()] != f {
			return nil, errors.Errorf("engine: fetch %q does not belong to this graph", f.Name())
		}
		v, err := f.fn(feed)
		if err != nil {
			return nil, errors.Wrapf(err, "run %s", f.Name())
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *session) Load(ph *Placeholder, value float64) error {
	if ph == nil {
		return errors.New("engine: nil placeholder")
	}
	load, ok := s.graph.loaders[ph]
	if !ok {
		return errors.Errorf("engine: %q is not a loadable variable", ph.Name())
	}
	load(value)
	return nil
}

// AsMatrix asserts that v is a matrix value.
func AsMatrix(v Value) ([][]float64, error) {
	m, ok := v.([][]float64)
	if !ok {
		return nil, errors.Errorf("engine: value is a %T, want [][]float64", v)
	}
	return m, nil
}

// AsStep asserts that v is a global-step value.
func AsStep(v Value) (int64, error) {
	n, ok := v.(int64)
	if !ok {
		return 0, errors.Errorf("engine: value is a %T, want int64", v)
	}
	return n, nil
}
