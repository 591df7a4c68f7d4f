package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"clinicdesk/internal/hub"
	"clinicdesk/internal/models"
	"clinicdesk/internal/store"
)

// SnapshotEnvelope is the wire unit every notification carries: the full
// current record set, replacing whatever the client held before.
type SnapshotEnvelope struct {
	Type   string         `json:"type"`
	Visits []models.Visit `json:"visits"`
	SentAt time.Time      `json:"sent_at"`
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

// Broadcaster drains the outbox and pushes fresh full snapshots to the
// hub. Delivery is at least once: a crash between broadcast and offset
// update replays events, which only re-sends an identical snapshot.
type Broadcaster struct {
	store     store.VisitStore
	hub       *hub.Hub
	interval  time.Duration
	batchSize int
	offset    store.Offset
}

func New(visitStore store.VisitStore, h *hub.Hub, cfg Config) *Broadcaster {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Broadcaster{
		store:     visitStore,
		hub:       h,
		interval:  interval,
		batchSize: batch,
	}
}

// Run polls until the context is cancelled. Ticks that find the previous
// poll still in flight are impossible here because polls run inline.
func (b *Broadcaster) Run(ctx context.Context) {
	offset, err := b.store.GetOffset(ctx)
	if err != nil {
		log.Printf("load offset error: %v", err)
	}
	b.offset = offset

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if _, err := b.Poll(pollCtx); err != nil {
				log.Printf("broadcast poll error: %v", err)
			}
			cancel()
		}
	}
}

// Poll performs one outbox drain and returns how many events it consumed.
// Any new event triggers a single snapshot broadcast; coalescing a batch
// into one push keeps slow displays from falling behind.
func (b *Broadcaster) Poll(ctx context.Context) (int, error) {
	events, err := b.store.ListOutboxEvents(ctx, b.offset, b.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	// The offset advances only after the push succeeds; a transient
	// snapshot failure leaves it in place so the next poll replays the
	// batch.
	if err := b.pushSnapshot(ctx); err != nil {
		return 0, err
	}

	last := events[len(events)-1]
	b.offset = store.Offset{LastEventTime: last.CreatedAt, LastEventID: last.EventID}

	if err := b.store.UpdateOffset(ctx, b.offset); err != nil {
		log.Printf("update offset error: %v", err)
	}
	return len(events), nil
}

func (b *Broadcaster) pushSnapshot(ctx context.Context) error {
	visits, err := b.store.SnapshotVisits(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	full, err := json.Marshal(SnapshotEnvelope{Type: "queue.snapshot", Visits: visits, SentAt: now})
	if err != nil {
		return err
	}
	b.hub.Broadcast(full, models.RoleDoctor, models.RoleSecretary)

	public := make([]models.Visit, 0, len(visits))
	for _, v := range visits {
		public = append(public, v.PublicView())
	}
	redacted, err := json.Marshal(SnapshotEnvelope{Type: "queue.snapshot", Visits: public, SentAt: now})
	if err != nil {
		return err
	}
	b.hub.Broadcast(redacted, models.RoleDisplay)
	return nil
}
