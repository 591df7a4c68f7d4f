package models

import "time"

type PatientProfile struct {
	ProfileID  string    `json:"profile_id"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone,omitempty"`
	Age        int       `json:"age,omitempty"`
	PictureURL string    `json:"picture_url,omitempty"`
	FirstVisit time.Time `json:"first_visit"`
}
