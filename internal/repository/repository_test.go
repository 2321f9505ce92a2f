package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	pkgkafka "github.com/303webhouse/pandoras-box-sub000/pkg/kafka"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
)

type execCall struct {
	query string
	args  []interface{}
}

type fakeExecer struct {
	mu    sync.Mutex
	calls []execCall
	err   error
}

func (f *fakeExecer) ExecContext(_ context.Context, q string, args ...interface{}) (sql.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, execCall{query: q, args: args})
	return nil, f.err
}

func (f *fakeExecer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func journalSnap(tf models.Timeframe, level models.BiasLevel, prev *models.BiasLevel) models.TimeframeBiasSnapshot {
	return models.TimeframeBiasSnapshot{
		Timeframe:      tf,
		Level:          level,
		PreviousLevel:  prev,
		Trend:          models.TrendImproving,
		Votes:          []models.FactorVote{{FactorID: "spy_trend", Vote: 2, Enabled: true}},
		Classification: models.ClassifyResult{Level: level, FilteredVote: 5, EnabledCount: 4, TotalFactors: 5},
		Timestamp:      time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC),
	}
}

func TestClickHouseJournal_BatchesRows(t *testing.T) {
	db := &fakeExecer{}
	j := NewClickHouseJournal(db, "bias_journal", 0, 2, logger.Nop())
	ctx := context.Background()
	prev := models.LeanToro

	require.NoError(t, j.Append(ctx, journalSnap(models.Daily, models.MinorToro, &prev)))
	assert.Equal(t, 0, db.count())
	require.NoError(t, j.Append(ctx, journalSnap(models.Weekly, models.LeanUrsa, nil)))
	require.Equal(t, 1, db.count())

	call := db.calls[0]
	assert.True(t, strings.HasPrefix(call.query, "INSERT INTO bias_journal (ts, timeframe"))
	assert.Equal(t, 2, strings.Count(call.query, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"))
	require.Len(t, call.args, 20)
	assert.Equal(t, "daily", call.args[1])
	assert.Equal(t, "MINOR_TORO", call.args[2])
	assert.Equal(t, "LEAN_TORO", call.args[3])
	assert.Equal(t, int32(5), call.args[5])
	assert.Equal(t, "", call.args[13])

	var votes []models.FactorVote
	require.NoError(t, json.Unmarshal([]byte(call.args[9].(string)), &votes))
	assert.Equal(t, "spy_trend", votes[0].FactorID)
}

func TestClickHouseJournal_CloseFlushes(t *testing.T) {
	db := &fakeExecer{}
	j := NewClickHouseJournal(db, "bias_journal", time.Hour, 100, nil)
	require.NoError(t, j.Append(context.Background(), journalSnap(models.Cyclical, models.MajorUrsa, nil)))
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
	assert.Equal(t, 1, db.count())
}

func TestClickHouseJournal_InsertError(t *testing.T) {
	db := &fakeExecer{err: errors.New("table missing")}
	j := NewClickHouseJournal(db, "bias_journal", 0, 1, nil)
	assert.Error(t, j.Append(context.Background(), journalSnap(models.Daily, models.LeanUrsa, nil)))
	assert.NoError(t, j.Flush(context.Background()))
}

type captureWriter struct{ msgs []kafka.Message }

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestKafkaShiftPublisher(t *testing.T) {
	w := &captureWriter{}
	p := NewKafkaShiftPublisher(pkgkafka.NewProducerWithWriter(w, "gzip", nil), "dashboard.bias_shifts", true)
	ev := models.BiasShiftEvent{
		Timeframe: models.Weekly, From: models.LeanUrsa, To: models.LeanToro,
		Trend: models.TrendImproving, Vote: 2, At: time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.PublishShift(context.Background(), ev))
	require.NoError(t, p.Close())

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "weekly", string(w.msgs[0].Key))
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "LEAN_TORO", got["to"])
	assert.Equal(t, "LEAN_URSA", got["from"])
}
