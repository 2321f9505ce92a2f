package models

import (
	"strings"
	"time"

	"github.com/303webhouse/pandoras-box-sub000/pkg/util"
)

type AssetClass string

const (
	Equity AssetClass = "EQUITY"
	Crypto AssetClass = "CRYPTO"
)

// AssetClasses lists every independently ranked feed.
var AssetClasses = []AssetClass{Equity, Crypto}

// ParseAssetClass defaults anything unrecognised to EQUITY.
func ParseAssetClass(s string) AssetClass {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRYPTO":
		return Crypto
	default:
		return Equity
	}
}

type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

func ParseDirection(s string) Direction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SHORT", "SELL", "BEARISH":
		return Short
	default:
		return Long
	}
}

// SignalTypeScout marks NEW_SIGNAL payloads that are early warnings.
const SignalTypeScout = "SCOUT"

type Signal struct {
	SignalID   string     `json:"signal_id"`
	AssetClass AssetClass `json:"asset_class"`
	Ticker     string     `json:"ticker"`
	Score      float64    `json:"score"`
	Direction  Direction  `json:"direction"`
	IsPriority bool       `json:"is_priority"`
	SignalType string     `json:"signal_type,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsScout reports whether the signal is a scout alert rather than a full signal.
func (s Signal) IsScout() bool {
	return strings.EqualFold(s.SignalType, SignalTypeScout)
}

// SignalPayload is the tolerant wire form used by both the stream and REST.
type SignalPayload struct {
	SignalID   string      `json:"signal_id"`
	ID         string      `json:"id"`
	AssetClass string      `json:"asset_class"`
	Ticker     string      `json:"ticker"`
	Symbol     string      `json:"symbol"`
	Score      util.Number `json:"score"`
	Direction  string      `json:"direction"`
	IsPriority bool        `json:"is_priority"`
	Priority   bool        `json:"priority"`
	SignalType string      `json:"signal_type"`
	IsScout    bool        `json:"is_scout"`
	CreatedAt  string      `json:"created_at"`
	Timestamp  string      `json:"timestamp"`
}

// ToSignal normalises the payload. now is used when no timestamp was sent.
func (p SignalPayload) ToSignal(now time.Time) Signal {
	id := p.SignalID
	if id == "" {
		id = p.ID
	}
	ticker := p.Ticker
	if ticker == "" {
		ticker = p.Symbol
	}
	created := p.CreatedAt
	if created == "" {
		created = p.Timestamp
	}
	sigType := strings.ToUpper(strings.TrimSpace(p.SignalType))
	if p.IsScout {
		sigType = SignalTypeScout
	}
	return Signal{
		SignalID:   id,
		AssetClass: ParseAssetClass(p.AssetClass),
		Ticker:     strings.ToUpper(strings.TrimSpace(ticker)),
		Score:      p.Score.Float64(),
		Direction:  ParseDirection(p.Direction),
		IsPriority: p.IsPriority || p.Priority,
		SignalType: sigType,
		CreatedAt:  util.ParseTimeDefault(created, now),
	}
}

// PageCursor tracks pagination of one asset-class list.
type PageCursor struct {
	Offset  int  `json:"offset"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"has_more"`
	Loading bool `json:"loading"`
}

// SignalsPage is one page returned by the backend.
type SignalsPage struct {
	Signals []Signal
	HasMore *bool
}

type FeedList struct {
	Signals  []Signal   `json:"signals"`
	Overflow int        `json:"overflow"`
	Cursor   PageCursor `json:"cursor"`
}

type FeedSnapshot struct {
	Lists     map[AssetClass]FeedList `json:"lists"`
	Stale     bool                    `json:"stale"`
	Revision  uint64                  `json:"revision"`
	UpdatedAt time.Time               `json:"updated_at"`
}
