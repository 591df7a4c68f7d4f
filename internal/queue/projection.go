package queue

import (
	"sort"
	"strings"
	"time"

	"clinicdesk/internal/models"
)

// Projection is the partitioned display view of one snapshot. Every visit
// in the snapshot lands in exactly one partition.
type Projection struct {
	Waiting        []models.Visit `json:"waiting"`
	InProgress     []models.Visit `json:"in_progress"`
	PendingPayment []models.Visit `json:"pending_payment"`
	Archive        []models.Visit `json:"archive"`
}

// Project partitions a snapshot. filter, when non-empty, is a
// case-insensitive substring match on the patient name applied before
// partitioning. Waiting sorts ascending by order key, PendingPayment
// descending by sent-to-payment time (most recent first), Archive
// descending by creation time.
func Project(visits []models.Visit, filter string) Projection {
	var p Projection
	needle := strings.ToLower(strings.TrimSpace(filter))

	for _, v := range visits {
		if needle != "" && !strings.Contains(strings.ToLower(v.Name), needle) {
			continue
		}
		switch v.Status {
		case models.StatusWaiting:
			p.Waiting = append(p.Waiting, v)
		case models.StatusInProgress:
			p.InProgress = append(p.InProgress, v)
		case models.StatusPendingPayment:
			p.PendingPayment = append(p.PendingPayment, v)
		default:
			p.Archive = append(p.Archive, v)
		}
	}

	sort.Slice(p.Waiting, func(i, j int) bool {
		return p.Waiting[i].OrderKey < p.Waiting[j].OrderKey
	})
	sort.Slice(p.PendingPayment, func(i, j int) bool {
		a, b := p.PendingPayment[i].SentToPaymentAt, p.PendingPayment[j].SentToPaymentAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	sort.Slice(p.Archive, func(i, j int) bool {
		return p.Archive[i].CreatedAt.After(p.Archive[j].CreatedAt)
	})

	return p
}

// NextToPay returns the head of the pending-payment partition. It is
// derived on every projection, never persisted; display sessions call it
// on each snapshot they receive.
func (p Projection) NextToPay() (models.Visit, bool) {
	if len(p.PendingPayment) == 0 {
		return models.Visit{}, false
	}
	return p.PendingPayment[0], true
}

// RevealWindow returns the first n archive entries, the
// pagination-by-reveal the display uses. n <= 0 or past the end returns
// the whole partition.
func (p Projection) RevealWindow(n int) []models.Visit {
	if n <= 0 || n >= len(p.Archive) {
		return p.Archive
	}
	return p.Archive[:n]
}

// FreshnessWindow is how long a visit stays marked after arriving in
// pending payment.
const FreshnessWindow = 10 * time.Second

// FreshnessTracker marks visits that transitioned into pending payment
// during the live session, for a fixed decay window. Session-local state
// held by display clients, not the server; nothing here is persisted.
type FreshnessTracker struct {
	window   time.Duration
	prev     map[string]string
	arrivals map[string]time.Time
}

func NewFreshnessTracker(window time.Duration) *FreshnessTracker {
	if window <= 0 {
		window = FreshnessWindow
	}
	return &FreshnessTracker{
		window:   window,
		prev:     make(map[string]string),
		arrivals: make(map[string]time.Time),
	}
}

// Observe compares the snapshot against the previous one and records
// fresh pending-payment arrivals. Call once per snapshot delivery.
func (t *FreshnessTracker) Observe(visits []models.Visit, now time.Time) {
	current := make(map[string]string, len(visits))
	for _, v := range visits {
		current[v.VisitID] = v.Status
		before, seen := t.prev[v.VisitID]
		if v.Status == models.StatusPendingPayment && seen && before != models.StatusPendingPayment {
			t.arrivals[v.VisitID] = now
		}
	}
	for id, at := range t.arrivals {
		if _, ok := current[id]; !ok || now.Sub(at) > t.window {
			delete(t.arrivals, id)
		}
	}
	t.prev = current
}

func (t *FreshnessTracker) IsFresh(visitID string, now time.Time) bool {
	at, ok := t.arrivals[visitID]
	return ok && now.Sub(at) <= t.window
}
