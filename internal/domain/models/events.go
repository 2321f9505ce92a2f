package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/303webhouse/pandoras-box-sub000/pkg/util"
)

// EventType is the discriminator of an inbound stream envelope.
type EventType string

const (
	EventNewSignal      EventType = "NEW_SIGNAL"
	EventPriorityUpdate EventType = "SIGNAL_PRIORITY_UPDATE"
	EventAccepted       EventType = "SIGNAL_ACCEPTED"
	EventDismissed      EventType = "SIGNAL_DISMISSED"
	EventBiasUpdate     EventType = "BIAS_UPDATE"
	EventPositionUpdate EventType = "POSITION_UPDATE"
	EventScoutAlert     EventType = "SCOUT_ALERT"
	EventFlowUpdate     EventType = "FLOW_UPDATE"
)

// KnownEventTypes is every discriminator the dispatcher routes.
var KnownEventTypes = []EventType{
	EventNewSignal, EventPriorityUpdate, EventAccepted, EventDismissed,
	EventBiasUpdate, EventPositionUpdate, EventScoutAlert, EventFlowUpdate,
}

// Envelope is the decoded outer frame. Data stays raw until the handler
// for Type decodes it.
type Envelope struct {
	Type           EventType       `json:"type"`
	Data           json.RawMessage `json:"data,omitempty"`
	SignalID       string          `json:"signal_id,omitempty"`
	Count          util.Number     `json:"count"`
	TickersUpdated []string        `json:"tickers_updated,omitempty"`
	ReceivedAt     time.Time       `json:"-"`
}

// Normalize upper-cases the discriminator.
func (e *Envelope) Normalize() {
	e.Type = EventType(strings.ToUpper(strings.TrimSpace(string(e.Type))))
}

// FactorDetail is one entry of BIAS_UPDATE details.factors. Score is an
// alias some producers send instead of vote.
type FactorDetail struct {
	Vote  *util.Number `json:"vote"`
	Score *util.Number `json:"score"`
}

func (f FactorDetail) VoteValue() int {
	if f.Vote != nil {
		return f.Vote.Int()
	}
	if f.Score != nil {
		return f.Score.Int()
	}
	return 0
}

type BiasDetails struct {
	Factors map[string]FactorDetail `json:"factors"`
}

// BiasUpdatePayload is the data of BIAS_UPDATE and one entry of the bias
// status response.
type BiasUpdatePayload struct {
	Timeframe      string      `json:"timeframe"`
	Level          string      `json:"level"`
	EffectiveLevel string      `json:"effective_level,omitempty"`
	Details        BiasDetails `json:"details"`
	Timestamp      string      `json:"timestamp,omitempty"`
}

// SignalRef is used when accepted/dismissed ids arrive inside data.
type SignalRef struct {
	SignalID string `json:"signal_id"`
	ID       string `json:"id"`
}

func (r SignalRef) Ref() string {
	if r.SignalID != "" {
		return r.SignalID
	}
	return r.ID
}

// FlowUpdate is the FLOW_UPDATE summary.
type FlowUpdate struct {
	Count          int       `json:"count"`
	TickersUpdated []string  `json:"tickers_updated"`
	At             time.Time `json:"at"`
}

// ActivitySnapshot holds the opaque position and flow updates.
type ActivitySnapshot struct {
	LastFlow      *FlowUpdate     `json:"last_flow,omitempty"`
	LastPosition  json.RawMessage `json:"last_position,omitempty"`
	PositionAt    time.Time       `json:"position_at,omitempty"`
	PositionCount int             `json:"position_updates"`
	FlowCount     int             `json:"flow_updates"`
}
