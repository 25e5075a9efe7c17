package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ordersight/ordersight-backend/internal/platform/envutil"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

// Event is one client-facing pipeline notification. Channel tells the
// fan-out layer which subscribers get it.
type Event struct {
	Channel  string    `json:"channel"`
	Type     string    `json:"type"`
	TenantID uuid.UUID `json:"tenant_id"`
	RunID    uuid.UUID `json:"run_id"`
	Stage    string    `json:"stage,omitempty"`
	Pct      int       `json:"pct,omitempty"`
	Status   string    `json:"status,omitempty"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

const (
	TypeProgress   = "progress"
	TypeStage      = "stage"
	TypeCompletion = "completion"
	TypeError      = "error"
)

// Bus carries events to subscribers, in-process or across processes.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
}

// ChannelFor builds the per-tenant channel name for an event type.
func ChannelFor(tenantID uuid.UUID, eventType string) string {
	return "tenant:" + tenantID.String() + ":" + eventType
}

// Publisher turns engine callbacks into tenant-scoped events. Progress is
// throttled: a run's published pct only moves forward, and only when it has
// moved at least MinDelta since the last emission. Stage, completion, and
// error events always go out.
type Publisher struct {
	bus Bus
	log *logger.Logger

	MinDelta int

	mu       sync.Mutex
	lastPct  map[uuid.UUID]int
	terminal map[uuid.UUID]bool
}

func NewPublisher(bus Bus, baseLog *logger.Logger) *Publisher {
	return &Publisher{
		bus:      bus,
		log:      baseLog.With("component", "ProgressPublisher"),
		MinDelta: envutil.Int("PROGRESS_MIN_DELTA", 2),
		lastPct:  map[uuid.UUID]int{},
		terminal: map[uuid.UUID]bool{},
	}
}

func (p *Publisher) RunStage(ctx context.Context, tenantID, runID uuid.UUID, stage string) {
	p.emit(ctx, Event{
		Channel:  ChannelFor(tenantID, TypeStage),
		Type:     TypeStage,
		TenantID: tenantID,
		RunID:    runID,
		Stage:    stage,
	})
}

func (p *Publisher) RunProgress(ctx context.Context, tenantID, runID uuid.UUID, stage string, pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	p.mu.Lock()
	last, seen := p.lastPct[runID]
	if p.terminal[runID] {
		p.mu.Unlock()
		return
	}
	if seen && pct <= last {
		p.mu.Unlock()
		return
	}
	// 100 always goes out; anything else must clear the delta.
	if seen && pct < 100 && pct-last < p.MinDelta {
		p.mu.Unlock()
		return
	}
	p.lastPct[runID] = pct
	p.mu.Unlock()

	p.emit(ctx, Event{
		Channel:  ChannelFor(tenantID, TypeProgress),
		Type:     TypeProgress,
		TenantID: tenantID,
		RunID:    runID,
		Stage:    stage,
		Pct:      pct,
	})
}

func (p *Publisher) RunCompletion(ctx context.Context, tenantID, runID uuid.UUID, status string) {
	p.mu.Lock()
	p.terminal[runID] = true
	delete(p.lastPct, runID)
	p.mu.Unlock()

	p.emit(ctx, Event{
		Channel:  ChannelFor(tenantID, TypeCompletion),
		Type:     TypeCompletion,
		TenantID: tenantID,
		RunID:    runID,
		Status:   status,
	})
}

func (p *Publisher) RunError(ctx context.Context, tenantID, runID uuid.UUID, stage, message string) {
	p.emit(ctx, Event{
		Channel:  ChannelFor(tenantID, TypeError),
		Type:     TypeError,
		TenantID: tenantID,
		RunID:    runID,
		Stage:    stage,
		Message:  message,
	})
}

func (p *Publisher) emit(ctx context.Context, ev Event) {
	ev.At = time.Now()
	if err := p.bus.Publish(ctx, ev); err != nil {
		// Notification loss is tolerable; pipeline state is not affected.
		p.log.Warn("event publish failed",
			"channel", ev.Channel, "run_id", ev.RunID.String(), "error", err)
	}
}
