package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"bonus-planner-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	EventOfferCreated EventType = "offer.created"
	EventOfferUpdated EventType = "offer.updated"
	EventOfferDeleted EventType = "offer.deleted"
	// EventOfferProcessed is emitted when extraction finishes, successfully or not.
	EventOfferProcessed EventType = "offer.processed"
	EventPlanGenerated  EventType = "plan.generated"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// OfferData carries the offer an event is about.
type OfferData struct {
	Offer models.Offer
}

// OfferDeletedData identifies a removed offer.
type OfferDeletedData struct {
	OfferID int
}

// PlanGeneratedData summarises a generated plan.
type PlanGeneratedData struct {
	PlanID      string
	TotalBonus  float64
	Offers      int
	Evaluations int64
	Cached      bool
	Params      models.PlanParams
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewManager creates a new event manager.
func NewManager(enabled bool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		logger:   logger,
	}
}

// SetEnabled toggles publishing at runtime.
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers. Handlers run
// asynchronously and outlive the publishing request.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	m.mu.RLock()
	enabled := m.enabled
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if !enabled || len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx = context.WithoutCancel(ctx)

	for _, handler := range handlers {
		m.wg.Add(1)
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(ctx, event); err != nil {
				m.logger.Warn("event handler failed",
					zap.String("event", string(event.Type)),
					zap.Error(err),
				)
			}
		}(handler)
	}
}

// PublishOfferCreated publishes an offer created event.
func (m *Manager) PublishOfferCreated(ctx context.Context, offer models.Offer) {
	m.Publish(ctx, EventOfferCreated, OfferData{Offer: offer})
}

// PublishOfferUpdated publishes an offer updated event.
func (m *Manager) PublishOfferUpdated(ctx context.Context, offer models.Offer) {
	m.Publish(ctx, EventOfferUpdated, OfferData{Offer: offer})
}

// PublishOfferProcessed publishes the outcome of an extraction.
func (m *Manager) PublishOfferProcessed(ctx context.Context, offer models.Offer) {
	m.Publish(ctx, EventOfferProcessed, OfferData{Offer: offer})
}

// PublishOfferDeleted publishes an offer deleted event.
func (m *Manager) PublishOfferDeleted(ctx context.Context, id int) {
	m.Publish(ctx, EventOfferDeleted, OfferDeletedData{OfferID: id})
}

// PublishPlanGenerated publishes a plan generated event.
func (m *Manager) PublishPlanGenerated(ctx context.Context, plan *models.Plan, params models.PlanParams, cached bool) {
	m.Publish(ctx, EventPlanGenerated, PlanGeneratedData{
		PlanID:      plan.ID,
		TotalBonus:  plan.TotalBonus,
		Offers:      len(plan.Offers),
		Evaluations: plan.Evaluations,
		Cached:      cached,
		Params:      params,
	})
}

// LogHandler returns a handler that writes every event to logger.
func LogHandler(logger *zap.Logger) Handler {
	return func(ctx context.Context, event Event) error {
		fields := []zap.Field{zap.String("event", string(event.Type))}
		switch d := event.Data.(type) {
		case OfferData:
			fields = append(fields, zap.Int("offer_id", d.Offer.ID), zap.String("status", string(d.Offer.Status)))
		case OfferDeletedData:
			fields = append(fields, zap.Int("offer_id", d.OfferID))
		case PlanGeneratedData:
			fields = append(fields,
				zap.String("plan_id", d.PlanID),
				zap.Float64("total_bonus", d.TotalBonus),
				zap.Int("offers", d.Offers),
				zap.Bool("cached", d.Cached),
			)
		}
		logger.Info("event", fields...)
		return nil
	}
}

// Wait blocks until every in-flight handler has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown stops publishing and waits for in-flight handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}
