package sandbox

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sakif/amstig/internal/output"
)

// Frame types written by the worker, one JSON object per line.
const (
	FrameWarm  = "warm"  // worker compiled the interpreter and waits for a Request
	FrameReady = "ready" // prelude is running; anything after this is the script's doing
	FrameLog   = "log"   // one console.* / print call
	FrameValue = "value" // trailing completion value of the script
	FrameError = "error" // the script threw
	FrameExit  = "exit"  // interpreter exited (terminal)
	FrameFault = "fault" // worker could not run the interpreter (terminal)
)

// DefaultMaxFrameBytes bounds one protocol line. Larger lines are discarded and
// the collector is marked truncated.
const DefaultMaxFrameBytes = 1 << 20

// Request is sent once to a warm worker on its stdin.
type Request struct {
	Code     string    `json:"code"`
	Deadline time.Time `json:"deadline"`
	// Nonce tags every frame of this run. Lines without it are the script
	// writing to stdout on its own and are never trusted as frames.
	Nonce string `json:"nonce"`
}

// NewNonce returns a fresh random run tag.
func NewNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("sandbox: generating run nonce: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// Frame is one protocol message.
type Frame struct {
	Type    string      `json:"t"`
	Nonce   string      `json:"n,omitempty"`
	Sev     string      `json:"s,omitempty"`
	Args    []WireValue `json:"a,omitempty"`
	Value   *WireValue  `json:"v,omitempty"`
	Msg     string      `json:"m,omitempty"`
	Code    uint32      `json:"c,omitempty"`
	Timeout bool        `json:"timeout,omitempty"`
	Stderr  string      `json:"stderr,omitempty"`
}

// WireValue is the encoded form of an output.Value.
type WireValue struct {
	Kind output.Kind     `json:"k"`
	V    json.RawMessage `json:"v"`
}

// Decode converts the wire form into a renderable value. Malformed payloads
// degrade to their raw text rather than being dropped.
func (w WireValue) Decode() output.Value {
	switch w.Kind {
	case output.KindText, output.KindNumber:
		var s string
		if err := json.Unmarshal(w.V, &s); err != nil {
			return output.Text(string(w.V))
		}
		if w.Kind == output.KindNumber {
			return output.Number(s)
		}
		return output.Text(s)
	case output.KindComposite:
		dec := json.NewDecoder(bytes.NewReader(w.V))
		dec.UseNumber()
		var tree any
		if err := dec.Decode(&tree); err != nil {
			return output.Text(string(w.V))
		}
		return output.Composite(tree)
	default:
		return output.Text(string(w.V))
	}
}

// Exit describes how the interpreter process ended.
type Exit struct {
	Code    uint32
	Timeout bool
	Stderr  string
}

// Report is everything Relay learned from one worker stream.
type Report struct {
	Ready  bool
	Value  *output.Value
	Thrown *string
	Exit   *Exit
	Fault  string
	Err    error
}

// Relay reads frames tagged with nonce from r until a terminal frame or end
// of stream, sending log frames to out in arrival order. It never returns
// early because out is full: the worker must be drained so it does not block
// on a full pipe.
func Relay(r *bufio.Reader, nonce string, out *output.Collector, maxFrame int) Report {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}

	var rep Report
	for {
		line, overflow, err := readFrameLine(r, maxFrame)
		cut := errors.Is(err, io.ErrUnexpectedEOF) && !json.Valid(line)
		if overflow || cut {
			// A frame the worker was killed in the middle of writing.
			out.MarkTruncated()
		} else if len(line) > 0 {
			if done := rep.apply(line, nonce, out); done {
				return rep
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				rep.Err = err
			}
			return rep
		}
	}
}

func (rep *Report) apply(line []byte, nonce string, out *output.Collector) (terminal bool) {
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil || f.Type == "" || f.Nonce != nonce {
		// Not a frame of this run. Keep it visible rather than lose it.
		out.Append(output.Info, output.Text(string(line)))
		return false
	}

	switch f.Type {
	case FrameReady:
		rep.Ready = true
	case FrameLog:
		values := make([]output.Value, len(f.Args))
		for i, a := range f.Args {
			values[i] = a.Decode()
		}
		out.Append(output.Severity(f.Sev), values...)
	case FrameValue:
		if f.Value != nil {
			v := f.Value.Decode()
			rep.Value = &v
		}
	case FrameError:
		if rep.Thrown == nil {
			msg := f.Msg
			rep.Thrown = &msg
		}
	case FrameExit:
		rep.Exit = &Exit{Code: f.Code, Timeout: f.Timeout, Stderr: f.Stderr}
		return true
	case FrameFault:
		rep.Fault = f.Msg
		if rep.Fault == "" {
			rep.Fault = "unspecified worker fault"
		}
		return true
	}
	return false
}

// readFrameLine reads one newline-terminated line. Lines longer than limit
// are consumed and discarded (overflow=true). A last line cut off by end of
// stream is returned with io.ErrUnexpectedEOF.
func readFrameLine(r *bufio.Reader, limit int) (line []byte, overflow bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if !overflow {
			if len(line)+len(chunk) > limit+1 {
				overflow = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case err == nil:
			return bytes.TrimRight(line, "\r\n"), overflow, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return line, overflow, io.ErrUnexpectedEOF
		default:
			return line, overflow, err
		}
	}
}

// AwaitWarm reads the worker's first frame and succeeds only if it is warm.
func AwaitWarm(r *bufio.Reader) error {
	line, overflow, err := readFrameLine(r, DefaultMaxFrameBytes)
	if overflow {
		return errors.New("sandbox: oversized boot frame")
	}
	if len(line) == 0 && err != nil {
		return fmt.Errorf("sandbox: worker closed before warm-up: %w", err)
	}

	var f Frame
	if jerr := json.Unmarshal(line, &f); jerr != nil {
		return fmt.Errorf("sandbox: unexpected boot output %q", truncateForLog(string(line)))
	}
	switch f.Type {
	case FrameWarm:
		return nil
	case FrameFault:
		return fmt.Errorf("sandbox: worker boot failed: %s", f.Msg)
	default:
		return fmt.Errorf("sandbox: unexpected boot frame %q", f.Type)
	}
}

// Classify turns a relay report into exactly one Outcome.
//
// killed reports whether the host forcibly ended the unit at the deadline.
// waitErr and stderr describe the unit's own exit and are used only to
// explain infrastructure failures.
func Classify(rep Report, killed bool, waitErr error, stderr string, out *output.Collector) Outcome {
	switch {
	case rep.Thrown != nil:
		return RuntimeFailed(*rep.Thrown)

	case rep.Exit != nil && rep.Exit.Timeout:
		return TimedOut()

	case rep.Exit != nil && rep.Exit.Code == 0:
		// The trailing value is only reported when nothing else was printed.
		if rep.Value != nil && out.Empty() {
			s := rep.Value.Render()
			return Succeeded(&s)
		}
		return Succeeded(nil)

	case killed:
		return TimedOut()

	case rep.Exit != nil:
		if !rep.Ready {
			return InfraFailed(fmt.Errorf("sandbox: interpreter exited with status %d before the script started: %s",
				rep.Exit.Code, truncateForLog(rep.Exit.Stderr)))
		}
		if msg := firstLine(rep.Exit.Stderr); msg != "" {
			return RuntimeFailed(msg)
		}
		return RuntimeFailed(fmt.Sprintf("script exited with status %d", rep.Exit.Code))

	case rep.Fault != "":
		if rep.Ready {
			return RuntimeFailed(rep.Fault)
		}
		return InfraFailed(fmt.Errorf("sandbox: worker fault: %s", rep.Fault))
	}

	cause := rep.Err
	if cause == nil {
		cause = waitErr
	}
	return InfraFailed(fmt.Errorf("sandbox: worker ended without a result (err=%v, stderr=%q)",
		cause, truncateForLog(stderr)))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func truncateForLog(s string) string {
	const max = 512
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
