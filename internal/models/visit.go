package models

import "time"

type Visit struct {
	VisitID             string     `json:"visit_id"`
	RequestID           string     `json:"request_id,omitempty"`
	PatientProfileID    string     `json:"patient_profile_id,omitempty"`
	Name                string     `json:"name"`
	Phone               string     `json:"phone,omitempty"`
	Reason              string     `json:"reason,omitempty"`
	Age                 int        `json:"age,omitempty"`
	Status              string     `json:"status"`
	OrderKey            float64    `json:"order_key"`
	SentToPaymentAt     *time.Time `json:"sent_to_payment_at,omitempty"`
	RequiredAmount      int64      `json:"required_amount,omitempty"`
	AmountPaid          int64      `json:"amount_paid,omitempty"`
	ServicesRendered    []string   `json:"services_rendered,omitempty"`
	CustomLineItems     []LineItem `json:"custom_line_items,omitempty"`
	ShowDetailsToPublic bool       `json:"show_details_to_public"`
	CreatedAt           time.Time  `json:"created_at"`
	VisitDate           string     `json:"visit_date"`
}

type LineItem struct {
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
}

const (
	StatusWaiting        = "waiting"
	StatusInProgress     = "in_progress"
	StatusPendingPayment = "pending_payment"
	StatusDone           = "done"
	StatusSkipped        = "skipped"
	StatusCancelled      = "cancelled"
)

// Terminal reports whether a status ends the normal visit flow. A manual
// reinstate can still move a terminal visit back to waiting.
func Terminal(status string) bool {
	switch status {
	case StatusDone, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// PublicView strips everything the public display must not see. Name is
// kept only when the visit opted into public details.
func (v Visit) PublicView() Visit {
	out := v
	out.Phone = ""
	out.Reason = ""
	out.Age = 0
	out.RequiredAmount = 0
	out.AmountPaid = 0
	out.ServicesRendered = nil
	out.CustomLineItems = nil
	out.PatientProfileID = ""
	out.RequestID = ""
	if !v.ShowDetailsToPublic {
		out.Name = maskName(v.Name)
	}
	return out
}

func maskName(name string) string {
	runes := []rune(name)
	if len(runes) == 0 {
		return ""
	}
	masked := make([]rune, 0, len(runes))
	masked = append(masked, runes[0])
	for _, r := range runes[1:] {
		if r == ' ' {
			masked = append(masked, ' ')
			continue
		}
		masked = append(masked, '*')
	}
	return string(masked)
}
