package models

import "time"

type ChatMessage struct {
	MessageID     string    `json:"message_id"`
	SenderRole    string    `json:"sender_role"`
	Body          string    `json:"body,omitempty"`
	AttachmentURL string    `json:"attachment_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleDoctor    = "doctor"
	RoleSecretary = "secretary"
	RoleDisplay   = "display"
)
