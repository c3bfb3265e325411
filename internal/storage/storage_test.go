package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "mailbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "bot.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{}, logx.Nop())
	assert.Error(t, err)
}

func TestRecipientUpsertPreservesStep(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecipient(ctx, 10, "alice"))
	require.NoError(t, s.AdvanceRecipientStep(ctx, 10))
	require.NoError(t, s.UpsertRecipient(ctx, 10, "alice_renamed"))

	r, ok, err := s.GetRecipient(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice_renamed", r.Username)
	assert.Equal(t, 1, r.Step, "re-upsert must not reset funnel progress")
}

func TestGetRecipientMissing(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.GetRecipient(context.Background(), 404)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListRecipientsStepFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, s.UpsertRecipient(ctx, id, ""))
	}
	require.NoError(t, s.AdvanceRecipientStep(ctx, 2))

	all, err := s.ListRecipients(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onStep, err := s.ListRecipients(ctx, 1)
	require.NoError(t, err)
	require.Len(t, onStep, 1)
	assert.Equal(t, int64(2), onStep[0].ID)

	n, err := s.CountRecipients(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDeleteRecipientDropsChannels(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecipient(ctx, 5, "bob"))
	require.NoError(t, s.AddChannel(ctx, 5, -100))
	require.NoError(t, s.DeleteRecipient(ctx, 5))

	_, ok, err := s.GetRecipient(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	has, err := s.HasChannel(ctx, 5, -100)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestChannelIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecipient(ctx, 5, ""))
	has, err := s.HasChannel(ctx, 5, -100)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.AddChannel(ctx, 5, -100))
	require.NoError(t, s.AddChannel(ctx, 5, -100))

	has, err = s.HasChannel(ctx, 5, -100)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	step, err := s.CreateStep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, step)

	require.NoError(t, s.SetSettings(ctx, map[string]string{
		SettingStartMessageID: "123",
		SettingSendStart:      "1",
	}, step))

	vals, err := s.GetSettings(ctx, []string{SettingStartMessageID, SettingSendStart, SettingStartKeyboard}, step)
	require.NoError(t, err)
	require.NotNil(t, vals[0])
	assert.Equal(t, "123", *vals[0])
	require.NotNil(t, vals[1])
	assert.Equal(t, "1", *vals[1])
	require.NotNil(t, vals[2], "seeded default exists even when never set")
	assert.Equal(t, "", *vals[2])
}

func TestGetSettingsUnknownStepIsNil(t *testing.T) {
	s := openTestStore(t)
	vals, err := s.GetSettings(context.Background(), []string{SettingStartMessageID}, 9)
	require.NoError(t, err)
	assert.Nil(t, vals[0])
}

func TestSetSettingsNeverCreatesRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetSettings(ctx, map[string]string{SettingStartMessageID: "9"}, 3))

	vals, err := s.GetSettings(ctx, []string{SettingStartMessageID}, 3)
	require.NoError(t, err)
	assert.Nil(t, vals[0], "updates on a nonexistent step must not mint rows")
}

func TestCreateStepAllocatesSequentially(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.CreateStep(ctx)
	require.NoError(t, err)
	second, err := s.CreateStep(ctx)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)

	n, err := s.StepCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDeletionsDueAndRemove(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.PutDeletion(ctx, ScheduledDeletion{
		ChatID: 1, MessageID: 11, FireAt: now.Add(-time.Minute),
	}))
	require.NoError(t, s.PutDeletion(ctx, ScheduledDeletion{
		ChatID: 2, MessageID: 22, FireAt: now.Add(time.Hour),
	}))

	due, err := s.DueDeletions(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, DeletionKey(1, 11), due[0].Key)
	assert.Equal(t, int64(1), due[0].ChatID)
	assert.Equal(t, 11, due[0].MessageID)

	require.NoError(t, s.RemoveDeletion(ctx, due[0].Key))
	pending, err := s.PendingDeletions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestPutDeletionRearmsSameKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.PutDeletion(ctx, ScheduledDeletion{ChatID: 1, MessageID: 11, FireAt: now.Add(time.Hour)}))
	require.NoError(t, s.PutDeletion(ctx, ScheduledDeletion{ChatID: 1, MessageID: 11, FireAt: now.Add(-time.Second)}))

	pending, err := s.PendingDeletions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending, "same key overwrites, never duplicates")

	due, err := s.DueDeletions(ctx, now, 0)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.db")
	ctx := context.Background()

	s, err := Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.UpsertRecipient(ctx, 7, "carol"))
	require.NoError(t, s.PutDeletion(ctx, ScheduledDeletion{ChatID: 7, MessageID: 70, FireAt: time.Now()}))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.GetRecipient(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)

	pending, err := s.PendingDeletions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending, "scheduled deletions survive restarts")
}
