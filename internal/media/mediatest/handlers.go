// Package mediatest provides test doubles and deterministic fixtures for
// exercising handlers of the media processing graph.
package mediatest

import (
	"github.com/stretchr/testify/mock"

	"media-packager/internal/media"
)

// FakeHandler records every StreamData it receives and forwards it to the
// output with the same index as the input, when that output is connected.
// It accepts any number of inputs and outputs.
type FakeHandler struct {
	*media.Base

	received []*media.StreamData
	flushed  []int
}

// NewFakeHandler returns a recording pass-through handler.
func NewFakeHandler(name string) *FakeHandler {
	f := &FakeHandler{}
	f.Base = media.NewBase(name, f, media.Ports{Inputs: media.Variable, Outputs: media.Variable})
	return f
}

func (f *FakeHandler) ProcessData(data *media.StreamData) error {
	c := *data
	f.received = append(f.received, &c)
	if !f.IsConnected(data.StreamIndex) {
		return nil
	}
	return f.Dispatch(data)
}

func (f *FakeHandler) OnFlushRequest(input int) error {
	f.flushed = append(f.flushed, input)
	return nil
}

// Received returns the recorded stream data in arrival order. The recorded
// StreamIndex is the input the data arrived on.
func (f *FakeHandler) Received() []*media.StreamData { return f.received }

// Flushed returns the inputs flushed so far, in order.
func (f *FakeHandler) Flushed() []int { return f.flushed }

// Clear drops everything recorded so far.
func (f *FakeHandler) Clear() {
	f.received = nil
	f.flushed = nil
}

// FakeInputHandler is a source without inputs. Tests feed the graph through
// its Emit helpers.
type FakeInputHandler struct {
	*media.Base
}

// NewFakeInputHandler returns a source with any number of outputs.
func NewFakeInputHandler(name string) *FakeInputHandler {
	f := &FakeInputHandler{}
	f.Base = media.NewBase(name, f, media.Ports{Inputs: 0, Outputs: media.Variable})
	return f
}

func (f *FakeInputHandler) ProcessData(*media.StreamData) error { return nil }

func (f *FakeInputHandler) OnFlushRequest(int) error { return nil }

// Emit pushes data out of output data.StreamIndex.
func (f *FakeInputHandler) Emit(data *media.StreamData) error {
	if data.Type == media.DataFlush {
		return f.FlushDownstream(data.StreamIndex)
	}
	return f.Dispatch(data)
}

// MockOutputHandler is a terminal handler whose process and flush calls are
// recorded on a testify mock. Every call is expected by default; use
// ExpectProcess or set up On("OnProcess", ...) explicitly to return errors.
type MockOutputHandler struct {
	*media.Base
	mock.Mock

	strict bool
}

// NewMockOutputHandler returns a terminal handler with any number of inputs.
func NewMockOutputHandler(name string) *MockOutputHandler {
	m := &MockOutputHandler{}
	m.Base = media.NewBase(name, m, media.Ports{Inputs: media.Variable, Outputs: 0})
	return m
}

// Strict makes calls without a matching expectation fail the test instead of
// being accepted silently.
func (m *MockOutputHandler) Strict() *MockOutputHandler {
	m.strict = true
	return m
}

func (m *MockOutputHandler) ProcessData(data *media.StreamData) error {
	if !m.strict && !m.hasExpectation("OnProcess") {
		m.On("OnProcess", mock.Anything).Return(nil)
	}
	return m.OnProcess(data)
}

func (m *MockOutputHandler) OnFlushRequest(input int) error {
	if !m.strict && !m.hasExpectation("OnFlush") {
		m.On("OnFlush", mock.Anything).Return(nil)
	}
	return m.OnFlush(input)
}

// OnProcess is the observable process call.
func (m *MockOutputHandler) OnProcess(data *media.StreamData) error {
	args := m.Called(data)
	return args.Error(0)
}

// OnFlush is the observable flush call.
func (m *MockOutputHandler) OnFlush(input int) error {
	args := m.Called(input)
	return args.Error(0)
}

func (m *MockOutputHandler) hasExpectation(method string) bool {
	for _, c := range m.ExpectedCalls {
		if c.Method == method {
			return true
		}
	}
	return false
}
