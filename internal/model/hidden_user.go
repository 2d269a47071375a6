package model

import "time"

// HiddenUser marks a user identity as hidden from listings (ghost mode).
type HiddenUser struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"userId"`
	HiddenSince time.Time `json:"hiddenSince"`
	Note        *string   `json:"note,omitempty"`
}
