// Package telemetry forwards session snapshots to external sinks: an MQTT
// broker and a Redis last-state cache.
//
// Snapshots arrive on the motion tick, so Fanout never blocks the caller.
// Deliveries happen on a single worker goroutine; when its queue is full
// the snapshot is dropped and counted as a failure.
package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"crane-go/pkg/log"
	"crane-go/pkg/session"
)

// Default fan-out settings.
const (
	DefaultQueueSize      = 256
	DefaultPublishTimeout = 2 * time.Second
)

// Sink delivers an encoded snapshot for one session.
type Sink interface {
	Name() string
	Publish(ctx context.Context, sessionID string, payload []byte) error
	Close() error
}

// Forgetter is implemented by sinks that keep per-session state.
type Forgetter interface {
	Forget(ctx context.Context, sessionID string) error
}

// Recorder counts deliveries per sink.
type Recorder interface {
	SnapshotSent(sink string)
	PublishFailed(sink string)
}

// queueSink names drops at the fan-out queue in Recorder calls.
const queueSink = "queue"

type job struct {
	sessionID string
	snap      session.Snapshot
	forget    bool
}

// FanoutConfig configures a Fanout.
type FanoutConfig struct {
	QueueSize int
	Timeout   time.Duration
	Recorder  Recorder
	Logger    *log.Logger
}

// Fanout delivers snapshots to every sink asynchronously.
type Fanout struct {
	sinks    []Sink
	timeout  time.Duration
	recorder Recorder
	logger   *log.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan job
	done   chan struct{}
}

// NewFanout starts a worker delivering to sinks.
func NewFanout(sinks []Sink, cfg FanoutConfig) *Fanout {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPublishTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.GetLogger("telemetry")
	}
	f := &Fanout{
		sinks:    sinks,
		timeout:  cfg.Timeout,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		queue:    make(chan job, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	go f.worker()
	return f
}

// Sinks returns the names of the configured sinks.
func (f *Fanout) Sinks() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return names
}

// Listen queues snap for delivery. It has the session.Listener signature.
func (f *Fanout) Listen(sessionID string, snap session.Snapshot) {
	f.enqueue(job{sessionID: sessionID, snap: snap})
}

// Forget queues removal of per-session state in the sinks that keep it.
func (f *Fanout) Forget(sessionID string) {
	f.enqueue(job{sessionID: sessionID, forget: true})
}

func (f *Fanout) enqueue(j job) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed || len(f.sinks) == 0 {
		return
	}
	select {
	case f.queue <- j:
	default:
		f.record(queueSink, pkgerrors.New("queue full"))
	}
}

// Close drains the queue, then closes every sink.
func (f *Fanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		<-f.done
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	<-f.done

	var first error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			f.logger.WithError(err).Warn("closing sink %s", s.Name())
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (f *Fanout) worker() {
	defer close(f.done)
	for j := range f.queue {
		if j.forget {
			f.forget(j.sessionID)
			continue
		}
		payload, err := json.Marshal(j.snap)
		if err != nil {
			f.logger.WithError(err).Error("encoding snapshot")
			continue
		}
		for _, s := range f.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
			err := s.Publish(ctx, j.sessionID, payload)
			cancel()
			f.record(s.Name(), err)
		}
	}
}

func (f *Fanout) forget(sessionID string) {
	for _, s := range f.sinks {
		fg, ok := s.(Forgetter)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		if err := fg.Forget(ctx, sessionID); err != nil {
			f.logger.WithError(err).WithField("session", sessionID).Warn("%s: forget failed", s.Name())
		}
		cancel()
	}
}

func (f *Fanout) record(sink string, err error) {
	if err != nil {
		f.logger.WithError(err).Debug("%s: snapshot not delivered", sink)
		if f.recorder != nil {
			f.recorder.PublishFailed(sink)
		}
		return
	}
	if f.recorder != nil {
		f.recorder.SnapshotSent(sink)
	}
}
