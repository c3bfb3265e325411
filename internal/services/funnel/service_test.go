package funnel

import (
	"context"
	"path/filepath"
	"strings"
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
	mu     sync.Mutex
	copies []int64 // recipient chat IDs
	texts  []string
	notice map[int64][]string // admin ID -> notices
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{notice: map[int64][]string{}}
}

func (g *fakeGateway) Copy(_ context.Context, to transport.ChatTarget, _ transport.MessageRef, _ *transport.SendOptions) (transport.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.copies = append(g.copies, to.ChatID)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 500 + len(g.copies)}, nil
}

func (g *fakeGateway) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.texts = append(g.texts, text)
	g.notice[to.ChatID] = append(g.notice[to.ChatID], text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (g *fakeGateway) Start(context.Context, chan<- transport.Update) error { return nil }
func (g *fakeGateway) Stop(context.Context) error                          { return nil }
func (g *fakeGateway) EditText(context.Context, transport.MessageRef, string, *transport.SendOptions) error {
	return nil
}
func (g *fakeGateway) AnswerCallback(context.Context, string, string) error { return nil }
func (g *fakeGateway) Delete(context.Context, transport.MessageRef) error   { return nil }
func (g *fakeGateway) Probe(context.Context, transport.ChatTarget) error    { return nil }

type fakeDeleter struct {
	mu        sync.Mutex
	scheduled []time.Time
}

func (d *fakeDeleter) Schedule(_ context.Context, _ int64, _ int, fireAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scheduled = append(d.scheduled, fireAt)
	return nil
}

const testAdmin = int64(900)

func newService(t *testing.T) (*Service, *storage.Store, *fakeGateway, *fakeDeleter) {
	t.Helper()
	store, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gw := newFakeGateway()
	del := &fakeDeleter{}
	svc := New(store, gw, del, []int64{testAdmin}, logx.Nop())
	return svc, store, gw, del
}

// seedStep creates a funnel step with a configured starter message.
func seedStep(t *testing.T, store *storage.Store, extra map[string]string) int {
	t.Helper()
	ctx := context.Background()
	step, err := store.CreateStep(ctx)
	require.NoError(t, err)
	pairs := map[string]string{
		storage.SettingStartMessageID: "321",
		storage.SettingStartFromChat:  "-100500",
	}
	for k, v := range extra {
		pairs[k] = v
	}
	require.NoError(t, store.SetSettings(ctx, pairs, step))
	return step
}

func TestEnabled(t *testing.T) {
	svc, store, _, _ := newService(t)
	ctx := context.Background()

	step := seedStep(t, store, nil)
	assert.True(t, svc.Enabled(ctx, step), "send_start defaults to on")

	require.NoError(t, store.SetSettings(ctx, map[string]string{storage.SettingSendStart: "0"}, step))
	assert.False(t, svc.Enabled(ctx, step))

	assert.False(t, svc.Enabled(ctx, 42), "unknown step is off")
}

func TestEmitDeliversAndAdvances(t *testing.T) {
	svc, store, gw, _ := newService(t)
	ctx := context.Background()

	step := seedStep(t, store, nil)
	require.NoError(t, store.UpsertRecipient(ctx, 10, "alice"))

	svc.Emit(ctx, 10, step, -200)

	require.Equal(t, []int64{10}, gw.copies)
	r, ok, err := store.GetRecipient(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, r.Step)

	has, err := store.HasChannel(ctx, 10, -200)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestEmitIdempotentPerChannel(t *testing.T) {
	svc, store, gw, _ := newService(t)
	ctx := context.Background()

	step := seedStep(t, store, nil)
	require.NoError(t, store.UpsertRecipient(ctx, 10, ""))

	svc.Emit(ctx, 10, step, -200)
	svc.Emit(ctx, 10, step, -200)
	assert.Len(t, gw.copies, 1, "one starter per recipient+channel")

	// A different channel delivers again.
	svc.Emit(ctx, 10, step, -300)
	assert.Len(t, gw.copies, 2)
}

func TestEmitUnconfiguredNotifiesAdmins(t *testing.T) {
	svc, store, gw, _ := newService(t)
	ctx := context.Background()

	step, err := store.CreateStep(ctx)
	require.NoError(t, err)
	require.NoError(t, store.UpsertRecipient(ctx, 10, ""))

	svc.Emit(ctx, 10, step, -200)

	assert.Empty(t, gw.copies)
	require.NotEmpty(t, gw.notice[testAdmin])
	assert.Contains(t, gw.notice[testAdmin][0], "not configured")

	r, _, err := store.GetRecipient(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Step, "no delivery, no advance")
}

func TestEmitSchedulesAutoDelete(t *testing.T) {
	svc, store, _, del := newService(t)
	ctx := context.Background()

	step := seedStep(t, store, map[string]string{storage.SettingStartDelete: "00:05:00"})
	require.NoError(t, store.UpsertRecipient(ctx, 10, ""))

	before := time.Now()
	svc.Emit(ctx, 10, step, 0)

	require.Len(t, del.scheduled, 1)
	got := del.scheduled[0].Sub(before)
	assert.InDelta(t, (5 * time.Minute).Seconds(), got.Seconds(), 2)
}

func TestEmitBadDeleteFormatStillDelivers(t *testing.T) {
	svc, store, gw, del := newService(t)
	ctx := context.Background()

	step := seedStep(t, store, map[string]string{storage.SettingStartDelete: "garbage"})
	require.NoError(t, store.UpsertRecipient(ctx, 10, ""))

	svc.Emit(ctx, 10, step, 0)

	assert.Len(t, gw.copies, 1, "a broken delete setting must not block delivery")
	assert.Empty(t, del.scheduled)
	require.NotEmpty(t, gw.notice[testAdmin])
	assert.True(t, strings.Contains(gw.notice[testAdmin][0], "auto-delete"))
}

func TestHandleJoinRequestEmitsNextStep(t *testing.T) {
	svc, store, gw, _ := newService(t)
	ctx := context.Background()

	step := seedStep(t, store, nil)
	require.Equal(t, 1, step)

	svc.HandleJoinRequest(ctx, &transport.JoinRequest{ChatID: -200, FromID: 10, FromUsername: "alice"})

	// The requester was recorded and got step 1's starter.
	require.Len(t, gw.copies, 1)
	r, ok, err := store.GetRecipient(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", r.Username)
	assert.Equal(t, 1, r.Step)
}

func TestHandleJoinRequestDisabledStep(t *testing.T) {
	svc, store, gw, _ := newService(t)
	ctx := context.Background()

	step := seedStep(t, store, map[string]string{storage.SettingSendStart: "0"})
	require.Equal(t, 1, step)

	svc.HandleJoinRequest(ctx, &transport.JoinRequest{ChatID: -200, FromID: 10})

	assert.Empty(t, gw.copies)
	r, _, err := store.GetRecipient(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Step)
}
