package protocol

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/actiquest-dev/membria/bias"
	"github.com/actiquest-dev/membria/graph"
	"github.com/actiquest-dev/membria/membriaerr"
	"github.com/actiquest-dev/membria/plan"
	"github.com/actiquest-dev/membria/queue"
	"github.com/actiquest-dev/membria/signal"
	"github.com/actiquest-dev/membria/telemetry"
)

// DefaultMaxFrameBytes is the inbound frame size ceiling (spec §4.1:
// "default 1 MiB").
const DefaultMaxFrameBytes = 1 << 20

// DefaultHandlerTimeout bounds a single tool call (spec §5: "endpoint
// tool handlers default 30s").
const DefaultHandlerTimeout = 30 * time.Second

// Clock returns the current time; overridable in tests.
type Clock func() time.Time

// Endpoint is the Tool Protocol Endpoint: a single cooperative task that
// reads frames in order, dispatches to component handlers, and writes
// replies (spec §4.1, §5 "single cooperative task").
type Endpoint struct {
	graph     graph.Store
	queue     queue.Store
	detector  *signal.Detector
	builder   *plan.Builder
	validator *plan.Validator
	recorder  *plan.Recorder
	bias      *bias.Analyzer
	onOutcome func(domain, outcome string, declaredConfidence float64)

	log            telemetry.Logger
	now            Clock
	maxFrameBytes  int
	handlerTimeout time.Duration

	mu           sync.Mutex
	shuttingDown bool
}

// Options configures an Endpoint.
type Options struct {
	Graph     graph.Store
	Queue     queue.Store
	Detector  *signal.Detector
	Builder   *plan.Builder
	Validator *plan.Validator
	Recorder  *plan.Recorder
	Bias      *bias.Analyzer
	// OnOutcome is invoked after `link_outcome` transitions a Decision to
	// a terminal state, so the caller can wire in scheduler.NotifyOutcome
	// without protocol depending on the scheduler package.
	OnOutcome      func(domain, outcome string, declaredConfidence float64)
	Logger         telemetry.Logger
	Now            Clock
	MaxFrameBytes  int
	HandlerTimeout time.Duration
}

// New builds an Endpoint.
func New(opts Options) *Endpoint {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	maxFrameBytes := opts.MaxFrameBytes
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	handlerTimeout := opts.HandlerTimeout
	if handlerTimeout <= 0 {
		handlerTimeout = DefaultHandlerTimeout
	}
	onOutcome := opts.OnOutcome
	if onOutcome == nil {
		onOutcome = func(string, string, float64) {}
	}
	return &Endpoint{
		graph:          opts.Graph,
		queue:          opts.Queue,
		detector:       opts.Detector,
		builder:        opts.Builder,
		validator:      opts.Validator,
		recorder:       opts.Recorder,
		bias:           opts.Bias,
		onOutcome:      onOutcome,
		log:            log,
		now:            now,
		maxFrameBytes:  maxFrameBytes,
		handlerTimeout: handlerTimeout,
	}
}

// envelope peeks at a frame's discriminator before committing to a
// concrete unmarshal target, the way the teacher's wire types are
// distinguished by ToolCallMessageType before payload decoding.
type envelope struct {
	Type FrameType `json:"type"`
}

// Serve reads newline-delimited frames from r, dispatches each
// `call_tool` frame to its handler, and writes a `tool_result` or
// `error` frame to w for every request. It returns when r reaches EOF
// (spec §6: "half-closed input ... triggers graceful shutdown") or ctx
// is cancelled. Serve never returns a protocol-level error: malformed
// frames are reported to the client and scanning continues.
func (e *Endpoint) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := newScanner(r, e.maxFrameBytes)
	bw := bufio.NewWriter(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if bytes.Equal(line, oversizedToken) {
			e.writeError(bw, Meta{}, membriaerr.ErrFrameTooLarge)
			continue
		}

		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			e.writeError(bw, Meta{}, fmt.Errorf("%w: %v", membriaerr.ErrProtocol, err))
			continue
		}

		switch env.Type {
		case FrameShutdown:
			e.mu.Lock()
			e.shuttingDown = true
			e.mu.Unlock()
			bw.Flush()
			return nil
		case FrameCallTool:
			e.handleFrame(ctx, line, bw)
		default:
			e.writeError(bw, Meta{}, fmt.Errorf("%w: unknown frame type %q", membriaerr.ErrProtocol, env.Type))
		}
	}
	bw.Flush()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("protocol: scan: %w", err)
	}
	return nil
}

func (e *Endpoint) handleFrame(ctx context.Context, line []byte, bw *bufio.Writer) {
	var call CallToolFrame
	if err := json.Unmarshal(line, &call); err != nil {
		e.writeError(bw, Meta{}, fmt.Errorf("%w: %v", membriaerr.ErrProtocol, err))
		return
	}

	e.mu.Lock()
	shuttingDown := e.shuttingDown
	e.mu.Unlock()
	if shuttingDown {
		e.writeError(bw, call.Meta, membriaerr.ErrShuttingDown)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.handlerTimeout)
	defer cancel()

	result, err := e.dispatch(callCtx, call.Tool, call.Args, call.Meta)
	if err != nil {
		e.writeError(bw, call.Meta, err)
		return
	}
	e.writeResult(bw, call.Meta, result)
}

func (e *Endpoint) writeResult(w *bufio.Writer, meta Meta, result any) {
	e.writeFrame(w, ToolResultFrame{Type: FrameToolResult, Result: result, Meta: meta})
}

func (e *Endpoint) writeError(w *bufio.Writer, meta Meta, err error) {
	e.writeFrame(w, ErrorFrame{Type: FrameError, Code: membriaerr.Code(err), Message: err.Error(), Meta: meta})
}

func (e *Endpoint) writeFrame(w *bufio.Writer, frame any) {
	b, err := json.Marshal(frame)
	if err != nil {
		e.log.Error(context.Background(), "protocol: marshal outbound frame failed", "error", err)
		return
	}
	w.Write(b)
	w.WriteByte('\n')
	w.Flush()
}
