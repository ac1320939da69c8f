package media

import (
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Graph owns the handlers of one pipeline. Handlers own their outgoing edges
// and refer to downstream handlers without owning them; the graph outlives
// all of them.
type Graph struct {
	nodes   []Handler
	members map[*Base]Handler
	started bool
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{members: make(map[*Base]Handler)}
}

// Add registers h with the graph and returns it. Adding a handler twice is a
// no-op.
func (g *Graph) Add(h Handler) Handler {
	if _, ok := g.members[h.base()]; !ok {
		g.members[h.base()] = h
		g.nodes = append(g.nodes, h)
	}
	return h
}

// Handlers returns the graph's handlers in insertion order.
func (g *Graph) Handlers() []Handler {
	return append([]Handler(nil), g.nodes...)
}

// Connect wires output of up to input of down. Both handlers must belong to
// the graph and the graph must not have been started.
func (g *Graph) Connect(up Handler, output int, down Handler, input int) error {
	const op = "graph.Connect"
	if g.started {
		return NewConfigurationError(op, ErrGraphStarted)
	}
	if !g.contains(up) || !g.contains(down) {
		return NewConfigurationError(op, ErrUnknownHandler)
	}
	return up.Connect(output, down, input)
}

// Chain connects output 0 of each handler to input 0 of the next one.
func (g *Graph) Chain(handlers ...Handler) error {
	for i := 0; i+1 < len(handlers); i++ {
		if err := g.Connect(handlers[i], 0, handlers[i+1], 0); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) contains(h Handler) bool {
	if h == nil {
		return false
	}
	_, ok := g.members[h.base()]
	return ok
}

// Start checks the arity contract of every handler and freezes the wiring.
// Handlers without any upstream edge are entry points and may be fed with
// Push.
func (g *Graph) Start() error {
	const op = "graph.Start"
	if g.started {
		return nil
	}
	var problems []string
	for _, h := range g.nodes {
		if missing := h.base().missingEdges(); len(missing) > 0 {
			problems = append(problems, h.Name()+": unconnected "+strings.Join(missing, ", "))
		}
	}
	if len(problems) > 0 {
		return NewConfigurationError(op, errors.New(strings.Join(problems, "; ")))
	}
	for _, h := range g.nodes {
		h.base().frozen = true
	}
	g.started = true
	return nil
}

// Started reports whether Start succeeded.
func (g *Graph) Started() bool { return g.started }

// Push feeds data into input of h from outside the graph. It returns once the
// data has fully drained through every reachable handler.
func (g *Graph) Push(h Handler, input int, data *StreamData) error {
	if !g.contains(h) {
		return NewConfigurationError("graph.Push", ErrUnknownHandler)
	}
	if !g.started {
		if err := g.Start(); err != nil {
			return err
		}
	}
	return h.Process(input, data)
}

// FlushAll signals end of stream at every entry point: each unflushed input of
// a root handler is flushed, and sources without inputs flush their outputs.
func (g *Graph) FlushAll() error {
	for _, h := range g.nodes {
		b := h.base()
		if !b.isRoot() {
			continue
		}
		if b.ports.Inputs == 0 {
			for _, out := range b.ConnectedOutputs() {
				e := b.outputs[out]
				if e.handler.base().IsFlushed(e.input) {
					continue
				}
				if err := b.FlushDownstream(out); err != nil {
					return err
				}
			}
			continue
		}
		for i := 0; i < b.NumInputs(); i++ {
			if b.IsFlushed(i) {
				continue
			}
			if err := h.Flush(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes every handler that implements io.Closer, in insertion order,
// and returns the first error.
func (g *Graph) Close() error {
	var first error
	for _, h := range g.nodes {
		if c, ok := h.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = errors.Wrapf(err, "close %s", h.Name())
			}
		}
	}
	return first
}
