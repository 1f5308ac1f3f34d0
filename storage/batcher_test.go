package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"twitch-chat-bot/model"
)

type stubSender struct {
	mu      sync.Mutex
	batches [][]*pgx.QueuedQuery
	execErr error
}

type stubBatchResults struct {
	execErr error
}

func (s *stubSender) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	s.mu.Lock()
	defer s.mu.Unlock()

	copyQueries := append([]*pgx.QueuedQuery(nil), b.QueuedQueries...)
	s.batches = append(s.batches, copyQueries)
	return &stubBatchResults{execErr: s.execErr}
}

func (s *stubBatchResults) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, s.execErr }
func (s *stubBatchResults) Query() (pgx.Rows, error)         { return nil, nil }
func (s *stubBatchResults) QueryRow() pgx.Row                { return nil }
func (s *stubBatchResults) Close() error                     { return nil }

func TestFlushUsersSendsSingleBatch(t *testing.T) {
	sender := &stubSender{}
	users := []model.UserRecord{
		{Username: "alice", Points: 10, Experience: 3, LastMessage: time.Now()},
		{Username: "bob", Points: -4},
	}

	if err := flushUsers(context.Background(), sender, users, time.Second); err != nil {
		t.Fatalf("flushUsers returned error: %v", err)
	}

	if len(sender.batches) != 1 {
		t.Fatalf("expected exactly one batch, got %d", len(sender.batches))
	}
	if len(sender.batches[0]) != 2 {
		t.Fatalf("expected 2 queued upserts, got %d", len(sender.batches[0]))
	}

	bob := sender.batches[0][1].Arguments
	if bob[2].(int64) != 0 {
		t.Fatalf("negative points must be clamped before saving, got %v", bob[2])
	}
	if bob[4].(*time.Time) != nil {
		t.Fatalf("zero last message must be stored as NULL")
	}
}

func TestFlushUsersSkipsEmptyInput(t *testing.T) {
	sender := &stubSender{}
	if err := flushUsers(context.Background(), sender, nil, time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.batches) != 0 {
		t.Fatalf("empty flush must not reach the database")
	}
}

func TestPostgresSaveAllReportsExecErrors(t *testing.T) {
	boom := errors.New("boom")
	store := newPostgres(&stubConn{stubSender: stubSender{execErr: boom}}, nil, time.Second)

	err := store.SaveAll(context.Background(), []model.UserRecord{{Username: "alice"}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped exec error, got %v", err)
	}
}

type stubConn struct {
	stubSender
}

func (c *stubConn) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (c *stubConn) QueryRow(context.Context, string, ...any) pgx.Row       { return nil }
func (c *stubConn) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
