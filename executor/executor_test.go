package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarls/showcased/config"
	"github.com/mkarls/showcased/platform"
	"github.com/mkarls/showcased/storage"
	"github.com/mkarls/showcased/telemetry"
	"github.com/mkarls/showcased/types"
	"github.com/mkarls/showcased/wal"
)

type sentMessage struct {
	ChannelID string
	Content   string
}

type fakeClient struct {
	mu        sync.Mutex
	deleted   []string
	sent      []sentMessage
	deleteErr error
	sendErr   error
	nextID    int
}

func (f *fakeClient) DeleteMessage(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, channelID+"/"+messageID)
	return nil
}

func (f *fakeClient) SendMessage(_ context.Context, channelID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Content: content})
	return fmt.Sprintf("warn-%d", f.nextID), nil
}

func (f *fakeClient) deletedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

func (f *fakeClient) sentTo(channelID string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.ChannelID == channelID {
			out = append(out, m)
		}
	}
	return out
}

func testRule() config.Rule {
	return config.Rule{
		RequireLink:       true,
		MaxStrikes:        3,
		EscalationChannel: "chan-mods",
		WarnMessage:       "showcase posts need a link and a description",
		RemoveMessage:     "your post was removed again, read the channel rules",
		Cooldown:          30 * time.Minute,
	}
}

func newTestEngine(t *testing.T, rule config.Rule, opts Options) (*Engine, *fakeClient, *storage.StateStore) {
	t.Helper()

	store, err := storage.NewStateStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	auditLog, err := wal.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditLog.Close() })

	client := &fakeClient{}
	engine := NewEngine(client, store, auditLog, telemetry.NewLogger("test"), rule, opts)
	return engine, client, store
}

func violationEvent(eventID, userID string) (*types.Event, types.Decision) {
	evt := &types.Event{
		ID:        eventID,
		MessageID: "msg-" + eventID,
		Type:      types.EventCreated,
		ChannelID: "chan-showcase",
		AuthorID:  userID,
		Content:   "check this out",
		Timestamp: time.Now(),
	}
	decision := types.Decision{
		EventID:   eventID,
		UserID:    userID,
		ChannelID: evt.ChannelID,
		Outcome:   types.OutcomeViolation,
		Reason:    types.ReasonMissingLink,
		CreatedAt: evt.Timestamp,
	}
	return evt, decision
}

func passEvent(eventID, userID string) (*types.Event, types.Decision) {
	evt := &types.Event{
		ID:        eventID,
		MessageID: "msg-" + eventID,
		Type:      types.EventCreated,
		ChannelID: "chan-showcase",
		AuthorID:  userID,
		Content:   "https://example.com/demo my latest project with all the trimmings",
		Timestamp: time.Now(),
	}
	decision := types.Decision{
		EventID:   eventID,
		UserID:    userID,
		ChannelID: evt.ChannelID,
		Outcome:   types.OutcomePass,
		CreatedAt: evt.Timestamp,
	}
	return evt, decision
}

func TestExecuteViolationDeletesWarnsAndStrikes(t *testing.T) {
	engine, client, store := newTestEngine(t, testRule(), Options{})
	evt, decision := violationEvent("evt-1", "user-1")

	result, err := engine.Execute(context.Background(), decision, evt)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, types.ActionWarned, result.ActionTaken)
	assert.True(t, result.StateApplied)
	assert.False(t, result.Escalated)

	assert.Equal(t, []string{"chan-showcase/msg-evt-1"}, client.deleted)

	warnings := client.sentTo("chan-showcase")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Content, "<@user-1>")
	assert.Contains(t, warnings[0].Content, "need a link")

	state, err := store.Get("user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.StrikeCount)
	assert.NotEmpty(t, state.LastWarningMessageID)
}

func TestExecuteDuplicateViolationIsNoOp(t *testing.T) {
	engine, client, store := newTestEngine(t, testRule(), Options{})
	evt, decision := violationEvent("evt-dup", "user-1")

	first, err := engine.Execute(context.Background(), decision, evt)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, first.Status)

	second, err := engine.Execute(context.Background(), decision, evt)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, second.Status)
	assert.Equal(t, types.ActionNone, second.ActionTaken)

	assert.Equal(t, 1, client.deletedCount())
	assert.Len(t, client.sentTo("chan-showcase"), 1)

	state, err := store.Get("user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.StrikeCount)
}

func TestExecuteEscalatesOnceAtThreshold(t *testing.T) {
	rule := testRule()
	rule.MaxStrikes = 2
	engine, client, store := newTestEngine(t, rule, Options{})

	evt1, dec1 := violationEvent("evt-1", "user-1")
	result, err := engine.Execute(context.Background(), dec1, evt1)
	require.NoError(t, err)
	assert.False(t, result.Escalated)

	evt2, dec2 := violationEvent("evt-2", "user-1")
	result, err = engine.Execute(context.Background(), dec2, evt2)
	require.NoError(t, err)
	assert.True(t, result.Escalated)
	assert.Equal(t, types.ActionEscalated, result.ActionTaken)

	// repeat offense uses the removal wording
	warnings := client.sentTo("chan-showcase")
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[1].Content, "removed again")

	escalations := client.sentTo("chan-mods")
	require.Len(t, escalations, 1)
	assert.Contains(t, escalations[0].Content, "user-1")

	// a third strike past the threshold must not page moderators again
	evt3, dec3 := violationEvent("evt-3", "user-1")
	result, err = engine.Execute(context.Background(), dec3, evt3)
	require.NoError(t, err)
	assert.False(t, result.Escalated)
	assert.Len(t, client.sentTo("chan-mods"), 1)

	state, err := store.Get("user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, state.StrikeCount)
}

func TestExecutePermanentDeleteFailureStillStrikes(t *testing.T) {
	engine, client, store := newTestEngine(t, testRule(), Options{})
	client.deleteErr = &platform.PermanentError{
		Op:         "delete message",
		StatusCode: 403,
		Err:        errors.New("missing permissions"),
	}

	evt, decision := violationEvent("evt-1", "user-1")
	result, err := engine.Execute(context.Background(), decision, evt)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, types.ActionFailedPermanent, result.ActionTaken)
	assert.Empty(t, client.sentTo("chan-showcase"), "no warning when the post survived")

	state, err := store.Get("user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.StrikeCount, "strike accrues even when deletion fails")
}

func TestExecuteMessageAlreadyGone(t *testing.T) {
	engine, client, store := newTestEngine(t, testRule(), Options{})
	client.deleteErr = &platform.PermanentError{
		Op:         "delete message",
		StatusCode: 404,
		Err:        platform.ErrNotFound,
	}

	evt, decision := violationEvent("evt-1", "user-1")
	result, err := engine.Execute(context.Background(), decision, evt)
	require.NoError(t, err)

	// 404 means someone beat us to it; the violation is still on record
	assert.Equal(t, types.ActionWarned, result.ActionTaken)
	require.Len(t, client.sentTo("chan-showcase"), 1)

	state, err := store.Get("user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.StrikeCount)
}

func TestExecutePassRefreshesCooldownAndRetiresWarning(t *testing.T) {
	engine, client, store := newTestEngine(t, testRule(), Options{})

	_, _, err := store.Apply("user-1", "seed-violation", func(s *types.UserState) {
		s.AddStrike()
		s.LastWarningMessageID = "warn-old"
	})
	require.NoError(t, err)

	evt, decision := passEvent("evt-pass", "user-1")
	result, err := engine.Execute(context.Background(), decision, evt)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, types.ActionNone, result.ActionTaken)
	assert.Contains(t, client.deleted, "chan-showcase/warn-old")

	state, err := store.Get("user-1")
	require.NoError(t, err)
	require.NotNil(t, state.CooldownUntil)
	assert.True(t, state.InCooldown(evt.Timestamp.Add(time.Minute)))
	assert.Empty(t, state.LastWarningMessageID)
	assert.Equal(t, 1, state.StrikeCount, "a valid post never forgives strikes")
}

func TestExecuteAuthorDeleteClearsCooldown(t *testing.T) {
	engine, client, store := newTestEngine(t, testRule(), Options{})

	postAt := time.Now()
	_, _, err := store.Apply("user-1", "seed-pass", func(s *types.UserState) {
		s.RecordValidPost(postAt, 30*time.Minute)
	})
	require.NoError(t, err)

	evt := &types.Event{
		ID:        "msg-1:delete",
		MessageID: "msg-1",
		Type:      types.EventDeleted,
		ChannelID: "chan-showcase",
		AuthorID:  "user-1",
		Timestamp: postAt.Add(time.Minute),
	}
	decision := types.Decision{
		EventID:   evt.ID,
		UserID:    "user-1",
		ChannelID: evt.ChannelID,
		Outcome:   types.OutcomePass,
		CreatedAt: evt.Timestamp,
	}

	result, err := engine.Execute(context.Background(), decision, evt)
	require.NoError(t, err)

	assert.Equal(t, types.ActionCooldownCleared, result.ActionTaken)
	assert.Equal(t, 0, client.deletedCount(), "nothing to delete, the author already did")

	state, err := store.Get("user-1")
	require.NoError(t, err)
	assert.Nil(t, state.CooldownUntil)
	assert.False(t, state.InCooldown(postAt.Add(time.Minute)))
}

func TestExecuteDryRunSkipsPlatformCalls(t *testing.T) {
	engine, client, store := newTestEngine(t, testRule(), Options{DryRun: true})

	evt, decision := violationEvent("evt-1", "user-1")
	result, err := engine.Execute(context.Background(), decision, evt)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 0, client.deletedCount())
	assert.Empty(t, client.sent)

	state, err := store.Get("user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.StrikeCount, "dry run still records decisions")
}

func TestExecuteRejectsInvalidDecision(t *testing.T) {
	engine, _, _ := newTestEngine(t, testRule(), Options{})

	evt, decision := violationEvent("evt-1", "user-1")
	decision.Reason = ""

	result, err := engine.Execute(context.Background(), decision, evt)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.True(t, strings.Contains(result.Error, "invalid decision"))
}

func TestExecuteWarnFailureDoesNotBlockStrike(t *testing.T) {
	engine, client, store := newTestEngine(t, testRule(), Options{})
	client.sendErr = &platform.TransientError{Op: "send message", Err: errors.New("rate limited")}

	evt, decision := violationEvent("evt-1", "user-1")
	result, err := engine.Execute(context.Background(), decision, evt)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, types.ActionDeleted, result.ActionTaken)
	assert.Equal(t, 1, client.deletedCount())

	state, err := store.Get("user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.StrikeCount)
	assert.Empty(t, state.LastWarningMessageID)
}
