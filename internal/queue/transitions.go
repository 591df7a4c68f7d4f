package queue

import (
	"errors"
	"time"

	"clinicdesk/internal/models"
)

const (
	ActionStart         = "start"
	ActionReinstate     = "reinstate"
	ActionSendToPayment = "send_to_payment"
	ActionFinish        = "finish"
	ActionRecordPayment = "record_payment"
	ActionSkip          = "skip"
	ActionArchive       = "archive"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInProgressBusy    = errors.New("another visit is already in progress")
	ErrMissingCharges    = errors.New("required amount not set")
)

var transitionMap = map[string][]string{
	ActionStart:         {models.StatusWaiting},
	ActionReinstate:     {models.StatusInProgress, models.StatusDone, models.StatusSkipped, models.StatusCancelled},
	ActionSendToPayment: {models.StatusInProgress},
	ActionFinish:        {models.StatusInProgress},
	ActionRecordPayment: {models.StatusPendingPayment},
	ActionSkip:          {models.StatusWaiting},
	ActionArchive:       {models.StatusWaiting, models.StatusInProgress, models.StatusPendingPayment},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

type TransitionInput struct {
	Action           string
	OccurredAt       time.Time
	RequiredAmount   int64
	ServicesRendered []string
	CustomLineItems  []models.LineItem
	AmountPaid       int64
}

// Mutation holds the field changes a transition produces. Nil pointers and
// nil slices mean the field is untouched.
type Mutation struct {
	Status           string
	SentToPaymentAt  *time.Time
	RequiredAmount   *int64
	AmountPaid       *int64
	ServicesRendered []string
	CustomLineItems  []models.LineItem
}

// Apply validates a requested transition against the visit and the rest of
// the current snapshot, and returns the mutation to persist. It never
// mutates its arguments; on error no partial mutation is returned.
//
// The single-in-progress guard is checked here: promoting a visit while a
// different visit holds in_progress is rejected. Callers that want
// evict-then-promote must transition the occupant out first.
func Apply(visit models.Visit, others []models.Visit, in TransitionInput) (Mutation, error) {
	if !ValidTransition(in.Action, visit.Status) {
		return Mutation{}, ErrInvalidTransition
	}

	switch in.Action {
	case ActionStart:
		for _, other := range others {
			if other.VisitID != visit.VisitID && other.Status == models.StatusInProgress {
				return Mutation{}, ErrInProgressBusy
			}
		}
		return Mutation{Status: models.StatusInProgress}, nil

	case ActionReinstate:
		return Mutation{Status: models.StatusWaiting}, nil

	case ActionSendToPayment:
		if in.RequiredAmount <= 0 {
			return Mutation{}, ErrMissingCharges
		}
		at := in.OccurredAt
		amount := in.RequiredAmount
		return Mutation{
			Status:           models.StatusPendingPayment,
			SentToPaymentAt:  &at,
			RequiredAmount:   &amount,
			ServicesRendered: in.ServicesRendered,
			CustomLineItems:  in.CustomLineItems,
		}, nil

	case ActionFinish:
		return Mutation{Status: models.StatusDone}, nil

	case ActionRecordPayment:
		paid := in.AmountPaid
		return Mutation{Status: models.StatusDone, AmountPaid: &paid}, nil

	case ActionSkip:
		return Mutation{Status: models.StatusSkipped}, nil

	case ActionArchive:
		return Mutation{Status: models.StatusCancelled}, nil
	}

	return Mutation{}, ErrInvalidTransition
}
