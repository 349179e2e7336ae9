package handlers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rssi-haptics/models"
)

const actuationTimeout = time.Second

// mailbox holds the newest undelivered command for one target.
type mailbox struct {
	mu      sync.Mutex
	pending *models.AnalysisResult
	wake    chan struct{}
}

// dispatcher delivers commands to the actuator with one goroutine per
// target. A command that is superseded before delivery is dropped, so the
// device always ends on the latest command and never on a stale one.
type dispatcher struct {
	actuator Actuator
	logger   *slog.Logger

	mu      sync.Mutex
	boxes   map[string]*mailbox
	closed  bool
	done    chan struct{}
	workers sync.WaitGroup
}

func newDispatcher(actuator Actuator, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		actuator: actuator,
		logger:   logger,
		boxes:    make(map[string]*mailbox),
		done:     make(chan struct{}),
	}
}

func (d *dispatcher) Submit(result models.AnalysisResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	box, ok := d.boxes[result.TargetID]
	if !ok {
		box = &mailbox{wake: make(chan struct{}, 1)}
		d.boxes[result.TargetID] = box
		d.workers.Add(1)
		go d.deliver(result.TargetID, box)
	}

	box.mu.Lock()
	if box.pending != nil {
		d.logger.Debug("dropping superseded actuation", "target_id", result.TargetID,
			"kind", box.pending.Command.Kind, "intensity", box.pending.Command.Intensity)
	}
	box.pending = &result
	box.mu.Unlock()

	select {
	case box.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) deliver(targetID string, box *mailbox) {
	defer d.workers.Done()

	for {
		select {
		case <-box.wake:
			d.flush(targetID, box)
		case <-d.done:
			d.flush(targetID, box)
			return
		}
	}
}

func (d *dispatcher) flush(targetID string, box *mailbox) {
	box.mu.Lock()
	result := box.pending
	box.pending = nil
	box.mu.Unlock()

	if result == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actuationTimeout)
	defer cancel()
	if err := d.actuator.Actuate(ctx, *result); err != nil {
		d.logger.Error("actuation failed", "target_id", targetID, "kind", result.Command.Kind, "error", err)
	}
}

// Close delivers whatever is still pending and stops the workers.
func (d *dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.done)
	d.mu.Unlock()

	d.workers.Wait()
}
