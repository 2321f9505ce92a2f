package usecase

import (
	"encoding/json"
	"sync"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
)

// ActivityState keeps the latest position and flow updates. Both are opaque
// to the rest of the core.
type ActivityState struct {
	mu   sync.RWMutex
	snap models.ActivitySnapshot
}

func NewActivityState() *ActivityState { return &ActivityState{} }

type flowData struct {
	Count          *int     `json:"count"`
	TickersUpdated []string `json:"tickers_updated"`
}

// ApplyFlow records a FLOW_UPDATE. Count and tickers may sit on the envelope
// or inside data; the envelope wins.
func (a *ActivityState) ApplyFlow(env models.Envelope) models.FlowUpdate {
	fu := models.FlowUpdate{
		Count:          env.Count.Int(),
		TickersUpdated: append([]string(nil), env.TickersUpdated...),
		At:             env.ReceivedAt,
	}
	if len(env.Data) > 0 {
		var d flowData
		if json.Unmarshal(env.Data, &d) == nil {
			if fu.Count == 0 && d.Count != nil {
				fu.Count = *d.Count
			}
			if len(fu.TickersUpdated) == 0 {
				fu.TickersUpdated = d.TickersUpdated
			}
		}
	}
	a.mu.Lock()
	a.snap.LastFlow = &fu
	a.snap.FlowCount++
	a.mu.Unlock()
	return fu
}

// ApplyPosition stores the raw POSITION_UPDATE payload.
func (a *ActivityState) ApplyPosition(env models.Envelope) {
	raw := append(json.RawMessage(nil), env.Data...)
	a.mu.Lock()
	a.snap.LastPosition = raw
	a.snap.PositionAt = env.ReceivedAt
	a.snap.PositionCount++
	a.mu.Unlock()
}

func (a *ActivityState) Snapshot() models.ActivitySnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := a.snap
	if a.snap.LastFlow != nil {
		fu := *a.snap.LastFlow
		fu.TickersUpdated = append([]string(nil), fu.TickersUpdated...)
		out.LastFlow = &fu
	}
	out.LastPosition = append(json.RawMessage(nil), a.snap.LastPosition...)
	return out
}
