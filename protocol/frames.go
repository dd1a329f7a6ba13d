// Package protocol implements the Tool Protocol Endpoint: a duplex,
// newline-delimited JSON frame protocol over stdio that dispatches the
// nine recognized tool calls to their component handlers (spec §4.1).
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

// FrameType discriminates inbound and outbound frame shapes, the way the
// teacher's own wire envelope discriminates ToolCallMessage/
// ToolResultMessage (`runtime/toolregistry/messages.go`).
type FrameType string

// Frame type discriminators (spec §4.1).
const (
	FrameCallTool   FrameType = "call_tool"
	FrameToolResult FrameType = "tool_result"
	FrameError      FrameType = "error"
	FrameShutdown   FrameType = "shutdown"
)

// Meta carries per-call routing metadata: the session a call belongs to
// (for the read-your-writes ordering guarantee of spec §5) and an
// opaque call identifier the client can use to match replies.
type Meta struct {
	SessionID  string `json:"session_id,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// CallToolFrame is one inbound `{"type":"call_tool",...}` frame. Args is
// left undecoded until routed to the tool-specific argument struct,
// mirroring ToolCallMessage's json.RawMessage payload.
type CallToolFrame struct {
	Type FrameType       `json:"type"`
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
	Meta Meta            `json:"meta,omitempty"`
}

// ToolResultFrame is one outbound `{"type":"tool_result",...}` frame.
type ToolResultFrame struct {
	Type   FrameType `json:"type"`
	Result any       `json:"result"`
	Meta   Meta      `json:"meta,omitempty"`
}

// ErrorFrame is one outbound `{"type":"error",...}` frame.
type ErrorFrame struct {
	Type    FrameType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Meta    Meta      `json:"meta,omitempty"`
}

// oversizedToken is the sentinel token splitLines emits in place of a
// line that exceeded the configured byte limit, so the caller can react
// with frame_too_large without bufio.Scanner aborting the scan.
var oversizedToken = []byte("\x00frame_too_large\x00")

// splitLines returns a bufio.SplitFunc that tokenizes newline-delimited
// frames, substituting oversizedToken for any line whose length exceeds
// maxSize. This keeps a single oversized frame from killing the
// connection (spec §4.1: "a frame larger than the configured limit...
// fails with frame_too_large and the endpoint remains open"), the way a
// line-oriented stdio reader must guard against unbounded buffering.
func splitLines(maxSize int) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line := data[:i]
			if len(line) > maxSize {
				return i + 1, oversizedToken, nil
			}
			return i + 1, line, nil
		}
		if atEOF {
			if len(data) > maxSize {
				return len(data), oversizedToken, nil
			}
			return len(data), data, nil
		}
		// Request more data. If the buffer keeps growing past maxSize
		// without finding a newline, bufio.Scanner's own hard ceiling
		// (set via Scanner.Buffer in NewEndpointScanner) eventually trips
		// bufio.ErrTooLong for a pathological unterminated stream.
		return 0, nil, nil
	}
}

// newScanner builds a bufio.Scanner over r that tokenizes frames per
// splitLines, with a hard buffer ceiling well above maxFrameSize so a
// single oversized-but-eventually-terminated line can still be detected
// and reported rather than panicking the scanner.
func newScanner(r io.Reader, maxFrameSize int) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize*4+64*1024)
	scanner.Split(splitLines(maxFrameSize))
	return scanner
}
