// Package poller drives fixed-cadence reads of the telemetry characteristic.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/pinelink/internal/groutine"
	"github.com/srg/pinelink/internal/metrics"
	"github.com/srg/pinelink/internal/telemetry"
)

const (
	// DefaultInterval is the pause between the end of one read and the start of the next
	DefaultInterval = 200 * time.Millisecond

	// DefaultMaxConsecutiveFailures is how many transport read failures in a row stop the stream
	DefaultMaxConsecutiveFailures = 3
)

// ErrStreamLost is matched by StreamLostError
var ErrStreamLost = errors.New("telemetry stream lost")

// StreamLostError reports that the scheduler stopped after repeated read failures
type StreamLostError struct {
	Failures int
	Last     error
}

func (e *StreamLostError) Error() string {
	return fmt.Sprintf("%v after %d consecutive read failures: %v", ErrStreamLost, e.Failures, e.Last)
}

func (e *StreamLostError) Is(target error) bool { return target == ErrStreamLost }

func (e *StreamLostError) Unwrap() error { return e.Last }

// Source performs one telemetry read
type Source interface {
	Read(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context) ([]byte, error)

func (f SourceFunc) Read(ctx context.Context) ([]byte, error) { return f(ctx) }

// Sink receives the scheduler's output.
// Publish is called with the handle's lock held and must not block or call back into the Handle.
// StreamLost is called at most once, without any scheduler lock held.
type Sink interface {
	Publish(reading telemetry.Reading)
	StreamLost(err error)
}

// Options configures a Scheduler
type Options struct {
	Interval               time.Duration
	MaxConsecutiveFailures int
}

// Scheduler starts telemetry poll loops
type Scheduler struct {
	logger *logrus.Logger
	opts   Options
	seq    atomic.Uint64
}

// New creates a Scheduler; zero options take the defaults
func New(logger *logrus.Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	return &Scheduler{logger: logger, opts: opts}
}

// Interval returns the configured poll interval
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}

// Handle identifies one running poll loop
type Handle struct {
	id     uint64
	cancel context.CancelFunc
	done   <-chan struct{}

	mu      sync.Mutex
	stopped bool
}

// ID returns the handle's process-unique identifier
func (h *Handle) ID() uint64 {
	return h.id
}

// Cancel stops future ticks. Idempotent.
// Once Cancel returns no further Publish or StreamLost call is made for this handle;
// a read already in flight completes in the background and its result is discarded.
func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	h.cancel()
}

// Active reports whether the loop may still deliver results
func (h *Handle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.stopped
}

// Done is closed when the loop goroutine has exited
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// deliver runs fn under the handle lock unless the handle was stopped
func (h *Handle) deliver(fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	fn()
	return true
}

// stop marks the handle stopped from inside the loop; reports whether it was still active
func (h *Handle) stop() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.stopped = true
	h.cancel()
	return true
}

// Start begins polling src. The first read is issued immediately; each following read
// starts one interval after the previous read settled, so reads never overlap.
func (s *Scheduler) Start(ctx context.Context, src Source, sink Sink) *Handle {
	loopCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		id:     s.seq.Add(1),
		cancel: cancel,
	}

	name := fmt.Sprintf("telemetry-poll-%d", h.id)
	h.done = groutine.Go(loopCtx, name, func(ctx context.Context) {
		s.run(ctx, h, src, sink)
	})

	s.logger.WithFields(logrus.Fields{
		"handle":   h.id,
		"interval": s.opts.Interval,
	}).Debug("Telemetry polling started")
	return h
}

// Cancel stops the loop identified by h. Idempotent; nil is ignored.
func (s *Scheduler) Cancel(h *Handle) {
	if h == nil {
		return
	}
	h.Cancel()
	s.logger.WithField("handle", h.id).Debug("Telemetry polling cancelled")
}

func (s *Scheduler) run(ctx context.Context, h *Handle, src Source, sink Sink) {
	log := s.logger.WithFields(logrus.Fields{
		"handle":    h.id,
		"goroutine": groutine.GetName(ctx),
	})
	failures := 0

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		started := time.Now()
		data, err := src.Read(ctx)
		metrics.PollReadLatency.Observe(time.Since(started).Seconds())

		if ctx.Err() != nil {
			log.Debug("Discarding read completed after cancellation")
			return
		}

		if err != nil {
			failures++
			metrics.PollReadsTotal.WithLabelValues("read_error").Inc()
			log.WithFields(logrus.Fields{
				"error":    err,
				"failures": failures,
			}).Warn("Telemetry read failed")

			if failures >= s.opts.MaxConsecutiveFailures {
				if h.stop() {
					metrics.StreamLostTotal.Inc()
					log.WithField("failures", failures).Error("Telemetry stream lost")
					sink.StreamLost(&StreamLostError{Failures: failures, Last: err})
				}
				return
			}
		} else {
			failures = 0

			reading, decodeErr := telemetry.DecodeReading(data)
			if decodeErr != nil {
				metrics.PollReadsTotal.WithLabelValues("decode_error").Inc()
				log.WithFields(logrus.Fields{
					"error": decodeErr,
					"bytes": len(data),
				}).Warn("Skipping undecodable telemetry frame")
			} else {
				metrics.PollReadsTotal.WithLabelValues("ok").Inc()
				reading.ReceivedAt = time.Now()
				if !h.deliver(func() { sink.Publish(reading) }) {
					log.Debug("Discarding reading delivered after cancellation")
					return
				}
			}
		}

		timer.Reset(s.opts.Interval)
	}
}
