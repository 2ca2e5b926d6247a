// Package savinghandler contains a handler that saves measurements
package savinghandler

import (
	"sync"

	"github.com/ooni/tlssock/model"
)

// Handler is a handler that saves measurements
type Handler struct {
	All []model.Measurement
	mu  sync.Mutex
}

// OnMeasurement saves the measurement
func (h *Handler) OnMeasurement(m model.Measurement) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.All = append(h.All, m)
}

// Snapshot returns a copy of the measurements saved so far. Use it
// when sockets may still be emitting in the background.
func (h *Handler) Snapshot() []model.Measurement {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.Measurement(nil), h.All...)
}

// Count returns how many saved measurements satisfy the predicate.
func (h *Handler) Count(pred func(m model.Measurement) bool) (n int) {
	for _, m := range h.Snapshot() {
		if pred(m) {
			n++
		}
	}
	return
}
