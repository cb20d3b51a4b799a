package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/charchat/internal/model"
)

const insertTurn = `
	INSERT INTO turns (chat_id, turn_id, candidate_id, author_id, author_name, is_human, content, created_at, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (chat_id, turn_id) DO NOTHING
`

// DB sends batches. *pgxpool.Pool satisfies it.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Metrics receives writer instrumentation.
type Metrics interface {
	TurnsWritten(n int)
	TurnDropped()
	FlushFailed()
}

type nopMetrics struct{}

func (nopMetrics) TurnsWritten(int) {}
func (nopMetrics) TurnDropped()     {}
func (nopMetrics) FlushFailed()     {}

// WriterConfig holds batching settings.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// WriterStats counts writer activity.
type WriterStats struct {
	Inserts   int64
	Conflicts int64
	Dropped   int64
	Flushes   int64
	Errors    int64
}

// turnRow is one archived turn.
type turnRow struct {
	ChatID      string
	TurnID      string
	CandidateID string
	AuthorID    string
	AuthorName  string
	IsHuman     bool
	Content     string
	CreatedAt   *time.Time
	RecordedAt  time.Time
}

// TurnWriter batches turns into the turns table.
type TurnWriter struct {
	cfg     WriterConfig
	logger  *slog.Logger
	metrics Metrics

	// Input from conversations
	input chan model.Turn

	// Database
	db DB

	// Batching
	batch       []turnRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats WriterStats
}

// NewTurnWriter creates a new TurnWriter. A nil metrics disables
// instrumentation.
func NewTurnWriter(cfg WriterConfig, db DB, metrics Metrics, logger *slog.Logger) *TurnWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	defaults := DefaultWriterConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = defaults.BufferSize
	}

	return &TurnWriter{
		cfg:     cfg,
		db:      db,
		logger:  logger,
		metrics: metrics,
		input:   make(chan model.Turn, cfg.BufferSize),
		batch:   make([]turnRow, 0, cfg.BatchSize),
	}
}

// Record queues a turn without blocking. The turn is dropped when the
// buffer is full.
func (w *TurnWriter) Record(turn model.Turn) {
	select {
	case w.input <- turn:
	default:
		w.batchMu.Lock()
		w.stats.Dropped++
		w.batchMu.Unlock()
		w.metrics.TurnDropped()
		w.logger.Warn("archive buffer full, dropping turn",
			"chat_id", turn.Key.ChatID,
			"turn_id", turn.Key.TurnID,
		)
	}
}

// Start begins consuming turns and writing to the database.
func (w *TurnWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("turn writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued turns and performs a final flush.
func (w *TurnWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping turn writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("turn writer stopped")
	case <-ctx.Done():
		w.logger.Warn("turn writer stop timed out")
	}

	// Drain whatever is still queued, then final flush
	for {
		select {
		case turn := <-w.input:
			w.add(turn)
			continue
		default:
		}
		break
	}
	w.flush(ctx)

	return nil
}

// Stats returns current counters.
func (w *TurnWriter) Stats() WriterStats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

// consumeLoop reads queued turns and accumulates batches.
func (w *TurnWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case turn := <-w.input:
			if w.add(turn) {
				w.flush(w.ctx)
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *TurnWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// add transforms a turn into the batch and reports whether the batch is
// full.
func (w *TurnWriter) add(turn model.Turn) bool {
	row := transform(turn, time.Now())

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts a turn to its primary-candidate row.
func transform(turn model.Turn, recordedAt time.Time) turnRow {
	candidate, _ := turn.Primary()

	row := turnRow{
		ChatID:      turn.Key.ChatID,
		TurnID:      turn.Key.TurnID,
		CandidateID: candidate.CandidateID,
		AuthorID:    turn.Author.AuthorID,
		AuthorName:  turn.Author.Name,
		IsHuman:     turn.Author.IsHuman,
		Content:     candidate.RawContent,
		RecordedAt:  recordedAt.UTC(),
	}
	if !turn.CreateTime.IsZero() {
		created := turn.CreateTime.UTC()
		row.CreatedAt = &created
	}
	return row
}

// flush writes the current batch to the database.
func (w *TurnWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]turnRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	// Stop cancels w.ctx before the final flush.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}

	start := time.Now()
	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		w.metrics.FlushFailed()
		return
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.batchMu.Unlock()
	w.metrics.TurnsWritten(len(batch) - conflicts)

	w.logger.Debug("flushed turns",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *TurnWriter) batchInsert(ctx context.Context, rows []turnRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertTurn,
			r.ChatID, r.TurnID, r.CandidateID, r.AuthorID, r.AuthorName,
			r.IsHuman, r.Content, r.CreatedAt, r.RecordedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
