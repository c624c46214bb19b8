// ABOUTME: Emitters that ship counter readings to an external sink
// ABOUTME: Includes a writer emitter and an interval-driven reporter

package metrics

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Emitter ships one reading of the counter set somewhere.
type Emitter interface {
	Emit(m *Metrics) error
}

// WriterEmitter writes readings to an io.Writer: a comma-separated name
// header before the first reading, then one space-separated value line per
// reading.
type WriterEmitter struct {
	mu          sync.Mutex
	w           io.Writer
	wroteHeader bool
}

// NewWriterEmitter creates an emitter over w.
func NewWriterEmitter(w io.Writer) *WriterEmitter {
	return &WriterEmitter{w: w}
}

// Emit implements Emitter.
func (e *WriterEmitter) Emit(m *Metrics) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.wroteHeader {
		if _, err := fmt.Fprintln(e.w, strings.Join(m.Names(), ", ")); err != nil {
			return fmt.Errorf("writing metrics header: %w", err)
		}
		e.wroteHeader = true
	}

	vals := m.Values()
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%d", v)
	}
	if _, err := fmt.Fprintln(e.w, strings.Join(parts, " ")); err != nil {
		return fmt.Errorf("writing metrics values: %w", err)
	}
	return nil
}

// Reporter emits readings at a fixed interval until stopped.
type Reporter struct {
	metrics  *Metrics
	emitter  Emitter
	interval time.Duration

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewReporter creates a reporter; call Start to begin emission.
func NewReporter(m *Metrics, e Emitter, interval time.Duration) *Reporter {
	return &Reporter{
		metrics:  m,
		emitter:  e,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the emission loop.
func (r *Reporter) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				// Emission failures are dropped: diagnostics must
				// never take down the process.
				_ = r.emitter.Emit(r.metrics)
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the loop, emitting one final reading.
func (r *Reporter) Stop() {
	r.once.Do(func() {
		close(r.stop)
		<-r.done
		_ = r.emitter.Emit(r.metrics)
	})
}
