package media

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Variable declares a port count that is not fixed at construction. Handlers
// with variable inputs accept any non-negative input index; the set of inputs
// is the set of indices that have been connected or fed.
const Variable = -1

// Ports declares the arity contract of a handler.
type Ports struct {
	Inputs  int
	Outputs int

	// RequireStreamInfo rejects samples and segments arriving on an input
	// before that input has seen a StreamInfo.
	RequireStreamInfo bool
}

// Handler is a node of the processing graph. All implementations embed *Base,
// which provides every method below; concrete behavior is supplied through
// Logic.
//
// Handlers are not safe for concurrent use. A pipeline runs on a single
// goroutine and data moves through it by synchronous, depth-first calls.
type Handler interface {
	Name() string
	NumInputs() int
	NumOutputs() int

	// Connect wires output to the given input of downstream.
	Connect(output int, downstream Handler, input int) error

	// Process delivers data on input. It may synchronously call Process on
	// downstream handlers before returning.
	Process(input int, data *StreamData) error

	// Flush marks input as finished. Once every input is flushed the flush is
	// propagated to all connected outputs.
	Flush(input int) error

	// ValidateOutputIndex reports whether output index may be connected. It
	// has no side effects.
	ValidateOutputIndex(index int) bool

	base() *Base
}

// Logic is the handler-specific part of a Handler.
type Logic interface {
	// ProcessData handles one payload. data.StreamIndex holds the input port.
	// DataFlush never reaches ProcessData; see OnFlushRequest.
	ProcessData(data *StreamData) error

	// OnFlushRequest is called when input is flushed, before the flush is
	// propagated. Handlers buffering data for that input must dispatch it here.
	OnFlushRequest(input int) error
}

// OutputIndexValidator may be implemented by a Logic to restrict the output
// indices that can be connected beyond the declared Ports.
type OutputIndexValidator interface {
	IsValidOutput(index int) bool
}

type inputState struct {
	upstream *Base
	flushed  bool
	hasInfo  bool
}

type edge struct {
	handler Handler
	input   int
}

// Base implements Handler on top of a Logic.
type Base struct {
	name  string
	logic Logic
	ports Ports

	inputs  map[int]*inputState
	outputs map[int]edge

	// started is set once any data or flush has reached this handler; frozen
	// is set by Graph.Start. Either one rejects further wiring.
	started bool
	frozen  bool
}

// NewBase returns a Base running logic under the given arity contract. It is
// meant to be embedded:
//
//	h := &myHandler{}
//	h.Base = media.NewBase("my_handler", h, media.Ports{Inputs: 1, Outputs: 1})
func NewBase(name string, logic Logic, ports Ports) *Base {
	b := &Base{
		name:    name,
		logic:   logic,
		ports:   ports,
		inputs:  make(map[int]*inputState),
		outputs: make(map[int]edge),
	}
	for i := 0; i < ports.Inputs; i++ {
		b.inputs[i] = &inputState{}
	}
	return b
}

func (b *Base) base() *Base { return b }

// Name returns the handler name used in errors and logs.
func (b *Base) Name() string { return b.name }

// NumInputs returns the declared input count, or for variable inputs the
// number of inputs known so far.
func (b *Base) NumInputs() int {
	if b.ports.Inputs == Variable {
		return len(b.inputs)
	}
	return b.ports.Inputs
}

// NumOutputs returns the declared output count, or for variable outputs the
// number of connected outputs.
func (b *Base) NumOutputs() int {
	if b.ports.Outputs == Variable {
		return len(b.outputs)
	}
	return b.ports.Outputs
}

// ValidateOutputIndex implements Handler.
func (b *Base) ValidateOutputIndex(index int) bool {
	if index < 0 {
		return false
	}
	if v, ok := b.logic.(OutputIndexValidator); ok {
		return v.IsValidOutput(index)
	}
	if b.ports.Outputs == Variable {
		return true
	}
	return index < b.ports.Outputs
}

func (b *Base) validInput(index int) bool {
	if index < 0 {
		return false
	}
	return b.ports.Inputs == Variable || index < b.ports.Inputs
}

// input returns the state of a valid input, creating it for variable inputs.
func (b *Base) input(index int) (*inputState, error) {
	if !b.validInput(index) {
		return nil, errors.Wrapf(ErrPortOutOfRange, "input %d of %d", index, b.ports.Inputs)
	}
	st, ok := b.inputs[index]
	if !ok {
		st = &inputState{}
		b.inputs[index] = st
	}
	return st, nil
}

// Connect implements Handler. A rejected call leaves both handlers untouched.
func (b *Base) Connect(output int, downstream Handler, input int) error {
	op := b.name + ".Connect"
	if downstream == nil {
		return NewConfigurationError(op, errors.New("nil downstream handler"))
	}
	d := downstream.base()
	if b.started || b.frozen || d.started || d.frozen {
		return NewConfigurationError(op, ErrGraphStarted)
	}
	if !b.ValidateOutputIndex(output) {
		return NewConfigurationError(op, errors.Wrapf(ErrPortOutOfRange, "output %d", output))
	}
	if _, ok := b.outputs[output]; ok {
		return NewConfigurationError(op, errors.Wrapf(ErrOutputConnected, "output %d", output))
	}
	if !d.validInput(input) {
		return NewConfigurationError(op, errors.Wrapf(ErrPortOutOfRange, "%s input %d", d.name, input))
	}
	if st, ok := d.inputs[input]; ok && st.upstream != nil {
		return NewConfigurationError(op, errors.Wrapf(ErrInputConnected, "%s input %d fed by %s", d.name, input, st.upstream.name))
	}

	b.outputs[output] = edge{handler: downstream, input: input}
	st, _ := d.input(input)
	st.upstream = b
	return nil
}

// Process implements Handler.
func (b *Base) Process(input int, data *StreamData) error {
	op := b.name + ".Process"
	if data == nil || !data.Valid() {
		return NewProcessingError(op, ErrUnknownDataType)
	}
	if data.Type == DataFlush {
		return b.Flush(input)
	}
	st, err := b.input(input)
	if err != nil {
		return NewProcessingError(op, err)
	}
	if st.flushed {
		return NewProcessingError(op, errors.Wrapf(ErrInputFlushed, "input %d", input))
	}
	switch data.Type {
	case DataStreamInfo:
		st.hasInfo = true
	case DataMediaSample, DataSegmentInfo:
		if b.ports.RequireStreamInfo && !st.hasInfo {
			return NewProcessingError(op, errors.Wrapf(ErrMissingStreamInfo, "input %d got %s", input, data.Type))
		}
	}
	b.started = true
	data.StreamIndex = input
	return asProcessingError(op, b.logic.ProcessData(data))
}

// Flush implements Handler.
func (b *Base) Flush(input int) error {
	op := b.name + ".Flush"
	st, err := b.input(input)
	if err != nil {
		return NewProcessingError(op, err)
	}
	if st.flushed {
		return NewProcessingError(op, errors.Wrapf(ErrInputFlushed, "input %d", input))
	}
	st.flushed = true
	b.started = true
	if err := b.logic.OnFlushRequest(input); err != nil {
		return asProcessingError(op, err)
	}
	if !b.AllInputsFlushed() {
		return nil
	}
	return b.FlushAllDownstreams()
}

// IsFlushed reports whether input has been flushed.
func (b *Base) IsFlushed(input int) bool {
	st, ok := b.inputs[input]
	return ok && st.flushed
}

// AllInputsFlushed reports whether every known input has been flushed.
func (b *Base) AllInputsFlushed() bool {
	if len(b.inputs) == 0 {
		return false
	}
	for _, st := range b.inputs {
		if !st.flushed {
			return false
		}
	}
	return true
}

// ConnectedOutputs returns the connected output indices in ascending order.
func (b *Base) ConnectedOutputs() []int {
	idx := make([]int, 0, len(b.outputs))
	for i := range b.outputs {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// IsConnected reports whether output has a downstream handler.
func (b *Base) IsConnected(output int) bool {
	_, ok := b.outputs[output]
	return ok
}

// Dispatch pushes data to the handler connected to output data.StreamIndex.
func (b *Base) Dispatch(data *StreamData) error {
	e, ok := b.outputs[data.StreamIndex]
	if !ok {
		return NewProcessingError(b.name+".Dispatch", errors.Wrapf(ErrNotConnected, "output %d", data.StreamIndex))
	}
	b.started = true
	return e.handler.Process(e.input, data)
}

func (b *Base) DispatchStreamInfo(output int, info *StreamInfo) error {
	return b.Dispatch(FromStreamInfo(output, info))
}

func (b *Base) DispatchMediaSample(output int, sample *MediaSample) error {
	return b.Dispatch(FromMediaSample(output, sample))
}

func (b *Base) DispatchSegmentInfo(output int, info *SegmentInfo) error {
	return b.Dispatch(FromSegmentInfo(output, info))
}

// FlushDownstream flushes the handler input connected to output.
func (b *Base) FlushDownstream(output int) error {
	e, ok := b.outputs[output]
	if !ok {
		return NewProcessingError(b.name+".FlushDownstream", errors.Wrapf(ErrNotConnected, "output %d", output))
	}
	b.started = true
	return e.handler.Flush(e.input)
}

// FlushAllDownstreams flushes every connected output in index order, stopping
// at the first failure.
func (b *Base) FlushAllDownstreams() error {
	for _, out := range b.ConnectedOutputs() {
		if err := b.FlushDownstream(out); err != nil {
			return err
		}
	}
	return nil
}

// isRoot reports whether no upstream handler feeds this one. Roots receive
// data from outside the graph.
func (b *Base) isRoot() bool {
	for _, st := range b.inputs {
		if st.upstream != nil {
			return false
		}
	}
	return true
}

// missingEdges lists unconnected fixed inputs and outputs, for Graph.Start.
// Inputs of root handlers are exempt.
func (b *Base) missingEdges() []string {
	var missing []string
	for i := 0; i < b.ports.Inputs && !b.isRoot(); i++ {
		if st := b.inputs[i]; st == nil || st.upstream == nil {
			missing = append(missing, "input "+strconv.Itoa(i))
		}
	}
	for i := 0; i < b.ports.Outputs; i++ {
		if !b.ValidateOutputIndex(i) {
			continue
		}
		if _, ok := b.outputs[i]; !ok {
			missing = append(missing, "output "+strconv.Itoa(i))
		}
	}
	return missing
}
