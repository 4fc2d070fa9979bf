package adaptor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"carconnect-api/internal/data/entity"
	"carconnect-api/internal/usecase"
	"carconnect-api/pkg/eventbus"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const heartbeatInterval = 25 * time.Second

var streamStatuses = []entity.PaymentStatus{
	entity.PaymentStatusPending,
	entity.PaymentStatusCompleted,
	entity.PaymentStatusFailed,
	entity.PaymentStatusRefunded,
}

// EventHandler streams status changes of one payment as server-sent events.
type EventHandler struct {
	payments usecase.PaymentService
	bus      eventbus.Bus
	errorWriter
	log *zap.Logger
}

func NewEventHandler(payments usecase.PaymentService, bus eventbus.Bus, errs errorWriter, log *zap.Logger) *EventHandler {
	return &EventHandler{
		payments:    payments,
		bus:         bus,
		errorWriter: errs,
		log:         log.With(zap.String("handler", "events")),
	}
}

// PaymentEvents handles GET /api/payments/{reference}/events
func (h *EventHandler) PaymentEvents(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	events := make(chan eventbus.Event, 8)
	for _, status := range streamStatuses {
		unsubscribe := h.bus.Subscribe(eventbus.PaymentTopic(string(status)), func(e eventbus.Event) {
			if e.EntityID != reference {
				return
			}
			select {
			case events <- e:
			default:
				h.log.Warn("Event stream is behind, dropping event",
					zap.String("reference", reference),
					zap.String("topic", e.Topic))
			}
		})
		defer unsubscribe()
	}

	// Snapshot after subscribing so no change can fall between the two.
	current, err := h.payments.GetByReference(r.Context(), reference)
	if err != nil {
		h.handleServiceError(w, err, "stream payment events")
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snapshot, err := json.Marshal(current.Redacted())
	if err != nil {
		h.log.Error("Failed to encode payment snapshot", zap.Error(err))
		return
	}
	if err := writeEvent(w, rc, eventbus.PaymentTopic(string(current.Status)), snapshot); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case e := <-events:
			if err := writeEvent(w, rc, e.Topic, e.Payload); err != nil {
				h.log.Debug("Event stream closed", zap.Error(err), zap.String("reference", reference))
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, name string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	return rc.Flush()
}
