package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/charchat/internal/chat"
	"github.com/rickgao/charchat/internal/model"
)

var _ chat.Recorder = (*TurnWriter)(nil)

// fakeResults answers Exec with one tag per queued query.
type fakeResults struct {
	tags []pgconn.CommandTag
	err  error
	i    int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	tag := r.tags[r.i]
	r.i++
	return tag, nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

// fakeDB treats (chat_id, turn_id) as the primary key.
type fakeDB struct {
	mu      sync.Mutex
	seen    map[[2]string]bool
	batches [][]*pgx.QueuedQuery
	err     error
}

func newFakeDB() *fakeDB {
	return &fakeDB{seen: make(map[[2]string]bool)}
}

func (d *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.batches = append(d.batches, b.QueuedQueries)
	if d.err != nil {
		return &fakeResults{err: d.err}
	}

	res := &fakeResults{}
	for _, q := range b.QueuedQueries {
		key := [2]string{q.Arguments[0].(string), q.Arguments[1].(string)}
		if d.seen[key] {
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 0"))
			continue
		}
		d.seen[key] = true
		res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 1"))
	}
	return res
}

func (d *fakeDB) rows() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *fakeDB) batchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.batches)
}

type countingMetrics struct {
	mu      sync.Mutex
	written int
	dropped int
	failed  int
}

func (m *countingMetrics) TurnsWritten(n int) { m.mu.Lock(); m.written += n; m.mu.Unlock() }
func (m *countingMetrics) TurnDropped()       { m.mu.Lock(); m.dropped++; m.mu.Unlock() }
func (m *countingMetrics) FlushFailed()       { m.mu.Lock(); m.failed++; m.mu.Unlock() }

func testTurn(chatID, turnID, text string) model.Turn {
	return model.Turn{
		Key:    model.TurnKey{ChatID: chatID, TurnID: turnID},
		Author: model.Author{AuthorID: "char-1", Name: "Bot"},
		Candidates: []model.Candidate{{
			CandidateID: turnID + "-c",
			RawContent:  text,
			IsFinal:     true,
		}},
		PrimaryCandidateID: turnID + "-c",
		CreateTime:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestTransform(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	row := transform(testTurn("chat-1", "turn-1", "hello"), now)

	assert.Equal(t, "chat-1", row.ChatID)
	assert.Equal(t, "turn-1", row.TurnID)
	assert.Equal(t, "turn-1-c", row.CandidateID)
	assert.Equal(t, "char-1", row.AuthorID)
	assert.Equal(t, "Bot", row.AuthorName)
	assert.False(t, row.IsHuman)
	assert.Equal(t, "hello", row.Content)
	require.NotNil(t, row.CreatedAt)
	assert.Equal(t, 2026, row.CreatedAt.Year())
	assert.Equal(t, now, row.RecordedAt)

	// A human turn built locally has no create time yet.
	human := model.NewHumanTurn("chat-1", model.Profile{Username: "me"}, "hi")
	row = transform(human, now)
	assert.Nil(t, row.CreatedAt)
	assert.True(t, row.IsHuman)
	assert.Equal(t, "hi", row.Content)
}

func TestTurnWriter_BatchInsert(t *testing.T) {
	db := newFakeDB()
	w := NewTurnWriter(WriterConfig{BatchSize: 10, FlushInterval: time.Hour, BufferSize: 10}, db, nil, nil)

	rows := []turnRow{
		transform(testTurn("c", "1", "a"), time.Now()),
		transform(testTurn("c", "2", "b"), time.Now()),
	}
	conflicts, err := w.batchInsert(context.Background(), rows)
	require.NoError(t, err)
	assert.Zero(t, conflicts)

	require.Len(t, db.batches, 1)
	queued := db.batches[0]
	require.Len(t, queued, 2)
	assert.Contains(t, queued[0].SQL, "ON CONFLICT (chat_id, turn_id) DO NOTHING")
	assert.Len(t, queued[0].Arguments, 9)

	// Re-inserting the same turns only produces conflicts.
	conflicts, err = w.batchInsert(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 2, conflicts)
}

func TestTurnWriter_FlushesOnBatchSize(t *testing.T) {
	db := newFakeDB()
	metrics := &countingMetrics{}
	w := NewTurnWriter(WriterConfig{BatchSize: 3, FlushInterval: time.Hour, BufferSize: 100}, db, metrics, nil)
	require.NoError(t, w.Start(context.Background()))

	for i, id := range []string{"1", "2", "3"} {
		w.Record(testTurn("chat", id, string(rune('a'+i))))
	}

	require.Eventually(t, func() bool { return db.rows() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, db.batchCount())

	require.NoError(t, w.Stop(context.Background()))
	stats := w.Stats()
	assert.Equal(t, int64(3), stats.Inserts)
	assert.Equal(t, int64(1), stats.Flushes)
	assert.Equal(t, 3, metrics.written)
}

func TestTurnWriter_FlushesOnInterval(t *testing.T) {
	db := newFakeDB()
	w := NewTurnWriter(WriterConfig{BatchSize: 100, FlushInterval: 10 * time.Millisecond, BufferSize: 100}, db, nil, nil)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	w.Record(testTurn("chat", "1", "a"))

	require.Eventually(t, func() bool { return db.rows() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTurnWriter_StopFlushesRemaining(t *testing.T) {
	db := newFakeDB()
	w := NewTurnWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 100}, db, nil, nil)
	require.NoError(t, w.Start(context.Background()))

	w.Record(testTurn("chat", "1", "a"))
	w.Record(testTurn("chat", "2", "b"))
	w.Record(testTurn("chat", "1", "a"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))

	assert.Equal(t, 2, db.rows())
	stats := w.Stats()
	assert.Equal(t, int64(2), stats.Inserts)
	assert.Equal(t, int64(1), stats.Conflicts)
}

func TestTurnWriter_DropsWhenBufferFull(t *testing.T) {
	db := newFakeDB()
	metrics := &countingMetrics{}
	// Not started, so nothing drains the buffer.
	w := NewTurnWriter(WriterConfig{BatchSize: 10, FlushInterval: time.Hour, BufferSize: 2}, db, metrics, nil)

	w.Record(testTurn("chat", "1", "a"))
	w.Record(testTurn("chat", "2", "b"))
	w.Record(testTurn("chat", "3", "c"))

	assert.Equal(t, int64(1), w.Stats().Dropped)
	assert.Equal(t, 1, metrics.dropped)

	require.NoError(t, w.Stop(context.Background()))
	assert.Equal(t, 2, db.rows())
}

func TestTurnWriter_FlushError(t *testing.T) {
	db := newFakeDB()
	db.err = errors.New("connection reset")
	metrics := &countingMetrics{}
	w := NewTurnWriter(WriterConfig{BatchSize: 1, FlushInterval: time.Hour, BufferSize: 10}, db, metrics, nil)
	require.NoError(t, w.Start(context.Background()))

	w.Record(testTurn("chat", "1", "a"))

	require.Eventually(t, func() bool { return w.Stats().Errors == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop(context.Background()))
	assert.Equal(t, 1, metrics.failed)
	assert.Zero(t, metrics.written)
}
