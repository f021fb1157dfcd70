// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package acp

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
)

// outputWriter owns the editor-facing output stream. Any goroutine —
// the dispatcher, any session reader — enqueues messages; exactly one
// consumer goroutine writes them out, one newline-terminated JSON line
// per message, in enqueue order. This is the only way bytes reach the
// editor, which guarantees frames are never interleaved under
// concurrent producers.
//
// The queue is unbounded so Enqueue never blocks a session reader
// behind a slow editor pipe.
type outputWriter struct {
	out    io.Writer
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []message
	closed  bool

	done chan struct{}
}

// newOutputWriter creates a writer and starts its consumer goroutine.
func newOutputWriter(out io.Writer, logger *slog.Logger) *outputWriter {
	w := &outputWriter{
		out:    out,
		logger: logger,
		done:   make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// Enqueue appends a message to the outbound queue. It never blocks.
// Messages enqueued after Close are dropped.
func (w *outputWriter) Enqueue(msg message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.logger.Debug("dropping message enqueued after writer close", "method", msg.Method)
		return
	}
	w.pending = append(w.pending, msg)
	w.cond.Signal()
}

// Close completes the queue and blocks until the consumer has drained
// every message enqueued before the call. Safe to call once.
func (w *outputWriter) Close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Signal()
	w.mu.Unlock()
	<-w.done
}

// run is the single consumer loop. It exits once the queue is closed
// and drained.
func (w *outputWriter) run() {
	defer close(w.done)

	encoder := json.NewEncoder(w.out)
	encoder.SetEscapeHTML(false)

	for {
		w.mu.Lock()
		for len(w.pending) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.pending) == 0 && w.closed {
			w.mu.Unlock()
			return
		}
		batch := w.pending
		w.pending = nil
		w.mu.Unlock()

		for _, msg := range batch {
			// Encode appends the newline that frames the message. A
			// write failure means the editor is gone; keep draining so
			// Close does not hang, but there is nobody left to tell.
			if err := encoder.Encode(msg); err != nil {
				w.logger.Error("writing to editor stream", "error", err)
			}
		}
	}
}
