package media

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies failures raised by the processing graph.
type ErrorKind int

const (
	// ConfigurationError reports invalid graph wiring. It is detected while the
	// graph is being built and is fatal to pipeline construction.
	ConfigurationError ErrorKind = iota + 1

	// ProcessingError reports a handler that could not interpret or transform a
	// payload. The pipeline that raised it must be torn down by the caller.
	ProcessingError

	// LogicError reports a collaborator that violated the calling contract of a
	// component, i.e. a bug in the integrating code.
	LogicError
)

func (k ErrorKind) String() string {
	switch k {
	case ConfigurationError:
		return "configuration error"
	case ProcessingError:
		return "processing error"
	case LogicError:
		return "logic error"
	default:
		return "unknown error"
	}
}

// Sentinel causes carried inside an *Error.
var (
	ErrPortOutOfRange    = errors.New("port index out of range")
	ErrOutputConnected   = errors.New("output already connected")
	ErrInputConnected    = errors.New("input already connected")
	ErrGraphStarted      = errors.New("wiring is frozen once data has started flowing")
	ErrInputFlushed      = errors.New("input already flushed")
	ErrMissingStreamInfo = errors.New("stream info must precede samples and segments")
	ErrNotConnected      = errors.New("output not connected")
	ErrUnknownHandler    = errors.New("handler is not part of this graph")
	ErrUnknownDataType   = errors.New("unknown stream data type")
	ErrListenerEnded     = errors.New("listener already received media end")
)

// Error is the error type returned by handlers, graphs and listeners.
type Error struct {
	Kind ErrorKind
	// Op names the handler or operation that failed, e.g. "chunker.Process".
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Cause exposes the wrapped error to github.com/pkg/errors.Cause.
func (e *Error) Cause() error { return e.Err }

// NewConfigurationError returns a ConfigurationError for op.
func NewConfigurationError(op string, err error) error {
	return &Error{Kind: ConfigurationError, Op: op, Err: err}
}

// NewProcessingError returns a ProcessingError for op.
func NewProcessingError(op string, err error) error {
	return &Error{Kind: ProcessingError, Op: op, Err: err}
}

// NewLogicError returns a LogicError for op.
func NewLogicError(op string, err error) error {
	return &Error{Kind: LogicError, Op: op, Err: err}
}

// KindOf reports the kind of the first *Error found in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsConfiguration(err error) bool { return KindOf(err) == ConfigurationError }
func IsProcessing(err error) bool    { return KindOf(err) == ProcessingError }
func IsLogic(err error) bool         { return KindOf(err) == LogicError }

// asProcessingError keeps typed errors untouched and classifies everything else
// as a ProcessingError raised by op.
func asProcessingError(op string, err error) error {
	if err == nil || KindOf(err) != 0 {
		return err
	}
	return NewProcessingError(op, err)
}
