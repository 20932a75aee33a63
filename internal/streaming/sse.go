package streaming

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrBadFrame reports a data line whose body is not a valid event.
var ErrBadFrame = errors.New("bad sse frame")

// Writer writes SSE frames and flushes after each one. It is safe for
// concurrent use so a heartbeat can share the connection.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	// OnEvent observes every event written, e.g. for metrics.
	OnEvent func(Event)
}

func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// Send writes one `data: <json>` frame.
func (w *Writer) Send(ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := w.write("data: " + string(raw) + "\n\n"); err != nil {
		return err
	}
	if w.OnEvent != nil {
		w.OnEvent(ev)
	}
	return nil
}

// Comment writes a comment frame, ignored by clients.
func (w *Writer) Comment(text string) error {
	return w.write(": " + text + "\n\n")
}

func (w *Writer) write(frame string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := io.WriteString(w.w, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Heartbeat writes a ping comment every interval until ctx is done or a
// write fails.
func (w *Writer) Heartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Comment("ping"); err != nil {
				return
			}
		}
	}
}

// Reader decodes SSE frames in arrival order.
type Reader struct {
	sc *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{sc: sc}
}

// Next returns the next event. Lines other than `data:` are skipped. A
// frame that cannot be decoded returns ErrBadFrame; the reader stays usable.
// io.EOF marks the end of the stream.
func (r *Reader) Next() (Event, error) {
	for r.sc.Scan() {
		line := strings.TrimRight(r.sc.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		body := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if body == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(body), &ev); err != nil || ev.Type == "" {
			return Event{}, fmt.Errorf("%w: %q", ErrBadFrame, body)
		}
		return ev, nil
	}
	if err := r.sc.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// Events iterates over the frames of r. Bad frames are yielded as errors
// and iteration continues; any other error ends it.
func Events(r io.Reader) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		rd := NewReader(r)
		for {
			ev, err := rd.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(ev, err) {
				return
			}
			if err != nil && !errors.Is(err, ErrBadFrame) {
				return
			}
		}
	}
}
