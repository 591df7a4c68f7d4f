package models

type ClinicSettings struct {
	ClinicName    string `json:"clinic_name"`
	Subtitle      string `json:"subtitle,omitempty"`
	LogoURL       string `json:"logo_url,omitempty"`
	PublicMessage string `json:"public_message,omitempty"`
	ChimeEnabled  bool   `json:"chime_enabled"`
}
