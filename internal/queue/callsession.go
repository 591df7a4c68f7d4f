package queue

import (
	"errors"

	"clinicdesk/internal/models"
)

var ErrNotCallable = errors.New("visit cannot be called")

// CallPlan is the pair of transitions a call requires. EvictID, when
// non-empty, must be finished before PromoteID is started; the two writes
// are one conceptual operation. If the eviction lands and the promotion
// fails, the queue is left with zero in-progress visits, never two.
type CallPlan struct {
	EvictID   string
	PromoteID string
}

// CallSession tracks which single visit is currently being paged. The
// pointer is session-local and never persisted; the called visit is always
// re-resolved by id against the live snapshot. Like NextToPay and
// FreshnessTracker, this is display-session state: front-desk clients
// hold one against the snapshots they receive, the server never does.
type CallSession struct {
	callingID string
	cue       func(models.Visit)
}

// NewCallSession creates a session. cue fires when a call starts and may
// be nil.
func NewCallSession(cue func(models.Visit)) *CallSession {
	return &CallSession{cue: cue}
}

// Start plans the transitions to call target and sets the calling pointer.
// A different visit currently in progress is evicted to done first; the
// previous occupant is assumed finished.
func (s *CallSession) Start(target models.Visit, snapshot []models.Visit) (CallPlan, error) {
	if models.Terminal(target.Status) {
		return CallPlan{}, ErrNotCallable
	}

	plan := CallPlan{}
	for _, v := range snapshot {
		if v.Status == models.StatusInProgress && v.VisitID != target.VisitID {
			plan.EvictID = v.VisitID
			break
		}
	}
	if target.Status != models.StatusInProgress {
		plan.PromoteID = target.VisitID
	}

	s.callingID = target.VisitID
	if s.cue != nil {
		s.cue(target)
	}
	return plan, nil
}

// Stop clears the calling pointer only. Status is untouched.
func (s *CallSession) Stop() {
	s.callingID = ""
}

// Resolve looks the calling pointer up in the live snapshot. A pointer to
// a visit that is gone, archived, or was never set resolves to nothing.
func (s *CallSession) Resolve(snapshot []models.Visit) (models.Visit, bool) {
	if s.callingID == "" {
		return models.Visit{}, false
	}
	for _, v := range snapshot {
		if v.VisitID == s.callingID {
			if models.Terminal(v.Status) {
				return models.Visit{}, false
			}
			return v, true
		}
	}
	return models.Visit{}, false
}

// CallingID exposes the raw pointer for display clients.
func (s *CallSession) CallingID() string {
	return s.callingID
}
