package model

import "time"

// Subscription holds the information for a browser push subscription owned by one chat user.
type Subscription struct {
	UserID    string    `gorm:"primaryKey;size:256" json:"-"`
	Endpoint  string    `gorm:"not null" json:"endpoint"`
	P256DH    string    `gorm:"column:p256dh;not null" json:"key"`
	Auth      string    `gorm:"not null" json:"authSecret"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Complete reports whether every field needed for delivery is present.
func (s Subscription) Complete() bool {
	return s.Endpoint != "" && s.P256DH != "" && s.Auth != ""
}
