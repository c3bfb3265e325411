package census

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbot/internal/storage"
	"mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

type fakeGateway struct {
	mu      sync.Mutex
	probes  []int64
	outcome func(chatID int64) error
}

func (g *fakeGateway) Probe(_ context.Context, to transport.ChatTarget) error {
	g.mu.Lock()
	g.probes = append(g.probes, to.ChatID)
	g.mu.Unlock()
	if g.outcome != nil {
		return g.outcome(to.ChatID)
	}
	return nil
}

func (g *fakeGateway) Start(context.Context, chan<- transport.Update) error { return nil }
func (g *fakeGateway) Stop(context.Context) error                          { return nil }
func (g *fakeGateway) SendText(context.Context, transport.ChatTarget, string, *transport.SendOptions) (transport.MessageRef, error) {
	return transport.MessageRef{}, nil
}
func (g *fakeGateway) EditText(context.Context, transport.MessageRef, string, *transport.SendOptions) error {
	return nil
}
func (g *fakeGateway) AnswerCallback(context.Context, string, string) error { return nil }
func (g *fakeGateway) Copy(context.Context, transport.ChatTarget, transport.MessageRef, *transport.SendOptions) (transport.MessageRef, error) {
	return transport.MessageRef{}, nil
}
func (g *fakeGateway) Delete(context.Context, transport.MessageRef) error { return nil }

func newService(t *testing.T, outcome func(chatID int64) error, ids ...int64) (*Service, *storage.Store, *fakeGateway) {
	t.Helper()
	store, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	for _, id := range ids {
		require.NoError(t, store.UpsertRecipient(ctx, id, ""))
	}
	gw := &fakeGateway{outcome: outcome}
	svc := New(Config{BatchSize: 3, BatchPause: time.Millisecond}, store, gw, logx.Nop())
	return svc, store, gw
}

func TestCountTallies(t *testing.T) {
	dead := errors.New("bot was blocked by the user")
	svc, _, _ := newService(t, func(id int64) error {
		if id%2 == 0 {
			return dead
		}
		return nil
	}, 1, 2, 3, 4, 5)

	res, err := svc.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 5, Active: 3}, res)
}

func TestCountFastMatchesSequential(t *testing.T) {
	dead := errors.New("chat not found")
	outcome := func(id int64) error {
		if id > 7 {
			return dead
		}
		return nil
	}
	svc, _, _ := newService(t, outcome, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

	seq, err := svc.Count(context.Background(), nil)
	require.NoError(t, err)
	fast, err := svc.CountFast(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, seq.Total, fast.Total)
	assert.Equal(t, seq.Active, fast.Active)
}

func TestPruneRemovesDeadRecipients(t *testing.T) {
	dead := errors.New("user is deactivated")
	svc, store, _ := newService(t, func(id int64) error {
		if id == 2 || id == 4 {
			return dead
		}
		return nil
	}, 1, 2, 3, 4, 5)

	res, err := svc.PruneInactive(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 5, Active: 3, Removed: 2}, res)

	n, err := store.CountRecipients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, ok, err := store.GetRecipient(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPruneSkipsRateLimited(t *testing.T) {
	svc, store, _ := newService(t, func(id int64) error {
		if id == 3 {
			return &transport.RateLimitedError{RetryAfter: time.Second}
		}
		return nil
	}, 1, 2, 3)

	res, err := svc.PruneInactive(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Removed, "rate limiting is never evidence of a dead chat")

	n, err := store.CountRecipients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCountEmptyStore(t *testing.T) {
	svc, _, gw := newService(t, nil)
	res, err := svc.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, gw.probes)
}

func TestCountCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc, _, _ := newService(t, func(id int64) error {
		if id == 2 {
			cancel()
		}
		return nil
	}, 1, 2, 3, 4, 5)

	res, err := svc.Count(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, res.Total, 5)
}
