package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
)

// StreamRouter turns decoded envelopes into calls on the state containers.
type StreamRouter struct {
	feed     *SignalFeed
	scouts   *ScoutTracker
	board    *BiasBoard
	activity *ActivityState
	log      *logger.Logger
}

func NewStreamRouter(feed *SignalFeed, scouts *ScoutTracker, board *BiasBoard, activity *ActivityState, log *logger.Logger) *StreamRouter {
	if log == nil {
		log = logger.Nop()
	}
	return &StreamRouter{
		feed:     feed,
		scouts:   scouts,
		board:    board,
		activity: activity,
		log:      log.With(logger.String("component", "router")),
	}
}

// Handlers returns the handler for every known event type.
func (r *StreamRouter) Handlers() map[models.EventType]func(ctx context.Context, env models.Envelope) error {
	return map[models.EventType]func(ctx context.Context, env models.Envelope) error{
		models.EventNewSignal:      r.onNewSignal,
		models.EventPriorityUpdate: r.onPriorityUpdate,
		models.EventAccepted:       r.onRemoved,
		models.EventDismissed:      r.onRemoved,
		models.EventBiasUpdate:     r.onBiasUpdate,
		models.EventScoutAlert:     r.onScoutAlert,
		models.EventFlowUpdate:     r.onFlow,
		models.EventPositionUpdate: r.onPosition,
	}
}

func (r *StreamRouter) decodeSignal(env models.Envelope) (models.Signal, error) {
	var p models.SignalPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return models.Signal{}, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	s := p.ToSignal(env.ReceivedAt)
	if s.SignalID == "" {
		s.SignalID = env.SignalID
	}
	if s.SignalID == "" {
		return models.Signal{}, fmt.Errorf("decode %s: missing signal id", env.Type)
	}
	return s, nil
}

func (r *StreamRouter) onNewSignal(_ context.Context, env models.Envelope) error {
	s, err := r.decodeSignal(env)
	if err != nil {
		return err
	}
	if s.IsScout() {
		r.scouts.Upsert(models.ScoutFromSignal(s))
		return nil
	}
	if s.Ticker != "" {
		r.scouts.ConfirmByTicker(s.Ticker)
	}
	if s.IsPriority {
		r.feed.InsertPriority(s)
		return nil
	}
	r.feed.Insert(s)
	return nil
}

func (r *StreamRouter) onPriorityUpdate(_ context.Context, env models.Envelope) error {
	s, err := r.decodeSignal(env)
	if err != nil {
		return err
	}
	r.feed.InsertPriority(s)
	return nil
}

func (r *StreamRouter) onRemoved(_ context.Context, env models.Envelope) error {
	id := env.SignalID
	if id == "" && len(env.Data) > 0 {
		var ref models.SignalRef
		if err := json.Unmarshal(env.Data, &ref); err == nil {
			id = ref.Ref()
		}
	}
	if id == "" {
		return fmt.Errorf("%s without signal id", env.Type)
	}
	if !r.feed.Remove(id) {
		r.log.Debug("remove for unknown signal", logger.String("signal_id", id))
	}
	return nil
}

func (r *StreamRouter) onBiasUpdate(ctx context.Context, env models.Envelope) error {
	var p models.BiasUpdatePayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	_, err := r.board.ApplyUpdate(ctx, p)
	return err
}

func (r *StreamRouter) onScoutAlert(_ context.Context, env models.Envelope) error {
	s, err := r.decodeSignal(env)
	if err != nil {
		return err
	}
	r.scouts.Upsert(models.ScoutFromSignal(s))
	return nil
}

func (r *StreamRouter) onFlow(_ context.Context, env models.Envelope) error {
	r.activity.ApplyFlow(env)
	return nil
}

func (r *StreamRouter) onPosition(_ context.Context, env models.Envelope) error {
	r.activity.ApplyPosition(env)
	return nil
}
