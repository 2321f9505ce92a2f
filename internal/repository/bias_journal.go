package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	domrepo "github.com/303webhouse/pandoras-box-sub000/internal/domain/repository"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
)

// Execer is the part of *sql.DB the journal needs.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// JournalSchema creates the journal table.
func JournalSchema(table string) []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            ts             DateTime64(3, 'UTC'),
            timeframe      LowCardinality(String),
            level          LowCardinality(String),
            previous_level LowCardinality(String),
            trend          LowCardinality(String),
            filtered_vote  Int32,
            enabled_count  UInt16,
            total_factors  UInt16,
            server_level   LowCardinality(String),
            votes          String
        ) ENGINE = MergeTree
        ORDER BY (timeframe, ts)
    `, table)}
}

const journalColumns = "ts, timeframe, level, previous_level, trend, filtered_vote, enabled_count, total_factors, server_level, votes"

// ClickHouseJournal buffers classified snapshots and writes them in
// multi-row inserts.
type ClickHouseJournal struct {
	db        Execer
	table     string
	log       *logger.Logger
	batchSize int

	mu  sync.Mutex
	buf []models.TimeframeBiasSnapshot

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

var _ domrepo.BiasJournal = (*ClickHouseJournal)(nil)

// NewClickHouseJournal flushes every interval, or earlier once batchSize rows
// are buffered.
func NewClickHouseJournal(db Execer, table string, interval time.Duration, batchSize int, log *logger.Logger) *ClickHouseJournal {
	if log == nil {
		log = logger.Nop()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	j := &ClickHouseJournal{
		db:        db,
		table:     table,
		log:       log.With(logger.String("component", "bias_journal")),
		batchSize: batchSize,
		stop:      make(chan struct{}),
	}
	if interval > 0 {
		j.wg.Add(1)
		go j.loop(interval)
	}
	return j
}

func (j *ClickHouseJournal) Append(ctx context.Context, snap models.TimeframeBiasSnapshot) error {
	j.mu.Lock()
	j.buf = append(j.buf, snap)
	full := len(j.buf) >= j.batchSize
	j.mu.Unlock()
	if full {
		return j.Flush(ctx)
	}
	return nil
}

// Flush writes everything buffered. Rows of a failed insert are dropped.
func (j *ClickHouseJournal) Flush(ctx context.Context) error {
	j.mu.Lock()
	rows := j.buf
	j.buf = nil
	j.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}

	q, args, err := j.insert(rows)
	if err != nil {
		return err
	}
	start := time.Now()
	if _, err := j.db.ExecContext(ctx, q, args...); err != nil {
		j.log.Error("journal insert failed", logger.Int("rows", len(rows)), logger.Error(err))
		return fmt.Errorf("journal insert: %w", err)
	}
	j.log.Debug("journal flushed", logger.Int("rows", len(rows)), logger.Duration("took", time.Since(start)))
	return nil
}

func (j *ClickHouseJournal) insert(rows []models.TimeframeBiasSnapshot) (string, []interface{}, error) {
	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*10)
	for _, s := range rows {
		votes, err := json.Marshal(s.Votes)
		if err != nil {
			return "", nil, fmt.Errorf("encode votes: %w", err)
		}
		prev := ""
		if s.PreviousLevel != nil {
			prev = s.PreviousLevel.String()
		}
		server := ""
		if s.ServerLevel.Valid() {
			server = s.ServerLevel.String()
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			s.Timestamp.UTC(),
			string(s.Timeframe),
			s.Level.String(),
			prev,
			string(s.Trend),
			int32(s.Classification.FilteredVote),
			uint16(s.Classification.EnabledCount),
			uint16(s.Classification.TotalFactors),
			server,
			string(votes),
		)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", j.table, journalColumns, strings.Join(values, ","))
	return q, args, nil
}

func (j *ClickHouseJournal) loop(interval time.Duration) {
	defer j.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = j.Flush(ctx)
			cancel()
		case <-j.stop:
			return
		}
	}
}

// Close stops the flush loop and writes what is left.
func (j *ClickHouseJournal) Close() error {
	var err error
	j.once.Do(func() {
		close(j.stop)
		j.wg.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = j.Flush(ctx)
	})
	return err
}
