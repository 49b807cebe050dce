// Package bus provides the in-process fan-out that decouples detection
// from incident response. Publishers never block; a subscriber that falls
// behind loses detections rather than stalling event ingestion.
package bus

import (
	"sync"

	"go.uber.org/zap"

	"sentinel/core"
	"sentinel/metrics"
)

const defaultBufferSize = 256

// Handler consumes one detection. Handlers run on the subscriber's own
// goroutine, never on the publisher's.
type Handler func(detection *core.Detection)

type subscriber struct {
	name    string
	ch      chan *core.Detection
	handler Handler
	done    chan struct{}
}

// DetectionBus fans detections out to registered subscribers. One buffered
// channel and one drain goroutine per subscriber keeps a slow incident
// pipeline from back-pressuring the correlation path.
type DetectionBus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	bufferSize  int
	closed      bool
	logger      *zap.SugaredLogger
}

// NewDetectionBus creates a bus with the given per-subscriber buffer size.
// A size of zero or less uses the default.
func NewDetectionBus(bufferSize int, logger *zap.SugaredLogger) *DetectionBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &DetectionBus{
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Subscribe registers a named handler and starts its drain goroutine.
// Must not be called after Close.
func (b *DetectionBus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.logger.Warnw("subscribe on closed bus ignored", "subscriber", name)
		return
	}

	sub := &subscriber{
		name:    name,
		ch:      make(chan *core.Detection, b.bufferSize),
		handler: handler,
		done:    make(chan struct{}),
	}
	b.subscribers = append(b.subscribers, sub)

	go func() {
		defer close(sub.done)
		for detection := range sub.ch {
			sub.handle(detection, b.logger)
		}
	}()
}

func (s *subscriber) handle(detection *core.Detection, logger *zap.SugaredLogger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("detection handler panicked",
				"subscriber", s.name,
				"panic", r)
		}
	}()
	s.handler(detection)
}

// Publish delivers the detection to every subscriber without blocking.
// Detections dropped on a full subscriber buffer are counted, logged and
// discarded.
func (b *DetectionBus) Publish(detection *core.Detection) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- detection:
		default:
			metrics.BusDropped.Inc()
			b.logger.Warnw("detection dropped, subscriber buffer full",
				"subscriber", sub.name,
				"kind", detection.Kind)
		}
	}
}

// Close stops accepting publishes and waits for every subscriber to drain
// its buffered detections.
func (b *DetectionBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subscribers
	for _, sub := range subs {
		close(sub.ch)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		<-sub.done
	}
}
