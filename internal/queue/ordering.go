package queue

import (
	"errors"
	"sort"

	"clinicdesk/internal/models"
)

// HeadGap is the synthetic gap used when a visit is dropped at the head of
// the waiting list and has no predecessor to average against. The new key
// lands HeadGap/2 below the current first key.
const HeadGap = 2000

var (
	ErrNotWaiting     = errors.New("only waiting visits can be reordered")
	ErrTargetNotFound = errors.New("reorder target not in waiting list")
)

// NewOrderKey computes the order key that places the moved visit at the
// position of target within the waiting partition. The midpoint of the two
// neighboring keys is used, so no other record needs renumbering. Repeated
// insertions between the same neighbors erode float precision; there is no
// renumbering fallback.
//
// The second return is false when the drop is a no-op (dropped onto
// itself).
func NewOrderKey(moved, target models.Visit, waiting []models.Visit) (float64, bool, error) {
	if moved.VisitID == target.VisitID {
		return moved.OrderKey, false, nil
	}
	if moved.Status != models.StatusWaiting || target.Status != models.StatusWaiting {
		return 0, false, ErrNotWaiting
	}

	rest := make([]models.Visit, 0, len(waiting))
	for _, v := range waiting {
		if v.VisitID == moved.VisitID || v.Status != models.StatusWaiting {
			continue
		}
		rest = append(rest, v)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].OrderKey < rest[j].OrderKey })

	idx := -1
	for i, v := range rest {
		if v.VisitID == target.VisitID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return 0, false, ErrTargetNotFound
	}

	next := rest[idx].OrderKey
	prev := next - HeadGap
	if idx > 0 {
		prev = rest[idx-1].OrderKey
	}
	return (prev + next) / 2, true, nil
}
