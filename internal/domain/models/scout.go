package models

import "time"

// ScoutAlert is a short-lived early warning. Ticker is unique among visible alerts.
type ScoutAlert struct {
	SignalID  string    `json:"signal_id"`
	Ticker    string    `json:"ticker"`
	Direction Direction `json:"direction"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ScoutFromSignal builds an alert from a scout-typed signal.
func ScoutFromSignal(s Signal) ScoutAlert {
	return ScoutAlert{
		SignalID:  s.SignalID,
		Ticker:    s.Ticker,
		Direction: s.Direction,
		CreatedAt: s.CreatedAt,
	}
}
