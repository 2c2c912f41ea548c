package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petadopt/internal/app/outbox"
	chatsvc "petadopt/internal/app/services/chat"
	domainchat "petadopt/internal/domain/chat"
	domainuser "petadopt/internal/domain/user"
	"petadopt/internal/infra/storage/memory"
)

type fixture struct {
	svc   *chatsvc.Service
	convs *memory.ConversationRepository
	box   *memory.Outbox
	now   time.Time
	nowMu sync.Mutex
}

func newFixture() *fixture {
	f := &fixture{
		convs: memory.NewConversationRepository(),
		box:   memory.NewOutbox(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = &chatsvc.Service{
		Conversations: f.convs,
		Messages:      memory.NewMessageRepository(),
		Profiles: memory.NewProfileDirectory(
			domainuser.Profile{ID: "alice", Username: "alice", Fullname: "Alice A", Avatar: "https://cdn.example/a.png"},
			domainuser.Profile{ID: "bob", Username: "bob", Fullname: "Bob B"},
		),
		Outbox:  f.box,
		Encoder: outbox.JSONEventEncoder{Origin: "test"},
		Clock:   f.tick,
	}
	return f
}

// tick advances the clock one second per call so message timestamps are strictly ordered.
func (f *fixture) tick() time.Time {
	f.nowMu.Lock()
	defer f.nowMu.Unlock()
	f.now = f.now.Add(time.Second)
	return f.now
}

func (f *fixture) start(t *testing.T, a, b, listing string) *domainchat.Conversation {
	t.Helper()
	conv, _, err := f.svc.CreateOrGetConversation(context.Background(), a, b, listing)
	require.NoError(t, err)
	return conv
}

func TestCreateOrGetConversationIsOrderIndependent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, created, err := f.svc.CreateOrGetConversation(ctx, "alice", "bob", "p1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"alice", "bob"}, first.Participants)
	assert.Equal(t, 0, first.UnreadFor("alice"))
	assert.Equal(t, 0, first.UnreadFor("bob"))
	assert.Nil(t, first.LastMessage)

	second, created, err := f.svc.CreateOrGetConversation(ctx, "bob", "alice", "p1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestCreateOrGetConversationSeparatesListings(t *testing.T) {
	f := newFixture()
	withListing := f.start(t, "alice", "bob", "p1")
	otherListing := f.start(t, "alice", "bob", "p2")
	general := f.start(t, "alice", "bob", "")

	assert.NotEqual(t, withListing.ID, otherListing.ID)
	assert.NotEqual(t, withListing.ID, general.ID)
	assert.Equal(t, general.ID, f.start(t, "bob", "alice", "").ID)
}

func TestCreateOrGetConversationValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, _, err := f.svc.CreateOrGetConversation(ctx, "alice", "", "p1")
	require.ErrorIs(t, err, domainchat.ErrValidation)
	var verr *domainchat.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "partnerId required", verr.Fields["partnerId"])

	_, _, err = f.svc.CreateOrGetConversation(ctx, "alice", "alice", "p1")
	require.ErrorIs(t, err, domainchat.ErrValidation)
}

func TestCreateOrGetConversationConcurrentCallsConverge(t *testing.T) {
	f := newFixture()
	const workers = 16
	ids := make([]domainchat.ConversationID, workers)
	created := make([]bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, isNew, err := f.svc.CreateOrGetConversation(context.Background(), a, b, "p1")
			if assert.NoError(t, err) {
				ids[i] = conv.ID
				created[i] = isNew
			}
		}(i)
	}
	wg.Wait()

	createdCount := 0
	for i := range ids {
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			createdCount++
		}
	}
	assert.Equal(t, 1, createdCount)
}

func TestSendMessageUpdatesPreviewAndCounters(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conv := f.start(t, "alice", "bob", "p1")

	msg, err := f.svc.SendMessage(ctx, conv.ID, "alice", "  hi  ", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "hi", msg.Text)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, "Alice A", msg.Sender.Fullname)

	stored, err := f.svc.Conversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastMessage)
	assert.Equal(t, "hi", stored.LastMessage.Text)
	assert.Equal(t, "alice", stored.LastMessage.By)
	assert.Equal(t, msg.CreatedAt, stored.LastMessage.At)
	assert.Equal(t, 1, stored.UnreadFor("bob"))
	assert.Equal(t, 0, stored.UnreadFor("alice"))
	assert.False(t, stored.UpdatedAt.Before(msg.CreatedAt))
}

func TestSendMessageAttachmentOnlyPreview(t *testing.T) {
	f := newFixture()
	conv := f.start(t, "alice", "bob", "p1")

	_, err := f.svc.SendMessage(context.Background(), conv.ID, "bob", "", []domainchat.Attachment{{URL: "https://cdn.example/cat.jpg", Name: "cat.jpg", Type: "image/jpeg", Size: 1024}})
	require.NoError(t, err)

	stored, err := f.svc.Conversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domainchat.AttachmentPreview, stored.LastMessage.Text)
	assert.Equal(t, 1, stored.UnreadFor("alice"))
}

func TestSendMessageRejectsEmptyAndStrangers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conv := f.start(t, "alice", "bob", "p1")

	_, err := f.svc.SendMessage(ctx, conv.ID, "alice", "   ", nil)
	require.ErrorIs(t, err, domainchat.ErrValidation)

	_, err = f.svc.SendMessage(ctx, conv.ID, "mallory", "hello", nil)
	require.ErrorIs(t, err, domainchat.ErrForbidden)

	_, err = f.svc.SendMessage(ctx, "missing", "alice", "hello", nil)
	require.ErrorIs(t, err, domainchat.ErrNotFound)

	stored, err := f.svc.Conversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastMessage)
	assert.Equal(t, 0, stored.UnreadFor("bob"))
}

func TestMarkReadResetsOnlyCaller(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conv := f.start(t, "alice", "bob", "p1")
	for i := 0; i < 3; i++ {
		_, err := f.svc.SendMessage(ctx, conv.ID, "alice", fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
	}
	_, err := f.svc.SendMessage(ctx, conv.ID, "bob", "reply", nil)
	require.NoError(t, err)

	receipt, err := f.svc.MarkRead(ctx, conv.ID, "bob", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, conv.ID, receipt.ConversationID)
	assert.Equal(t, "bob", receipt.UserID)
	assert.False(t, receipt.At.IsZero())
	assert.True(t, receipt.Applied)

	stored, err := f.svc.Conversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.UnreadFor("bob"))
	assert.Equal(t, 1, stored.UnreadFor("alice"))

	_, err = f.svc.MarkRead(ctx, conv.ID, "bob", time.Time{})
	require.NoError(t, err)
	stored, err = f.svc.Conversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.UnreadFor("bob"))
}

func TestMarkReadIgnoresUnknownTargets(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conv := f.start(t, "alice", "bob", "p1")
	_, err := f.svc.SendMessage(ctx, conv.ID, "alice", "hi", nil)
	require.NoError(t, err)

	receipt, err := f.svc.MarkRead(ctx, "missing", "bob", time.Time{})
	require.NoError(t, err)
	assert.False(t, receipt.Applied)
	receipt, err = f.svc.MarkRead(ctx, conv.ID, "mallory", time.Time{})
	require.NoError(t, err)
	assert.False(t, receipt.Applied)

	stored, err := f.svc.Conversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UnreadFor("bob"))
	_, tracked := stored.Unread["mallory"]
	assert.False(t, tracked)
}

func TestListConversationsOrdersByActivity(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	older := f.start(t, "alice", "bob", "p1")
	newer := f.start(t, "alice", "carol", "p2")
	f.start(t, "bob", "carol", "p3")

	items, err := f.svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, newer.ID, items[0].ID)

	_, err = f.svc.SendMessage(ctx, older.ID, "bob", "still available?", nil)
	require.NoError(t, err)

	items, err = f.svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, older.ID, items[0].ID)
	assert.Equal(t, 1, items[0].UnreadFor("alice"))
}

func TestListConversationsCapsPage(t *testing.T) {
	f := newFixture()
	for i := 0; i < chatsvc.ConversationPageSize+5; i++ {
		f.start(t, "alice", fmt.Sprintf("user-%02d", i), "")
	}
	items, err := f.svc.ListConversations(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, items, chatsvc.ConversationPageSize)
}

func TestListMessagesPagesChronologically(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conv := f.start(t, "alice", "bob", "p1")
	sent := make([]*domainchat.Message, 0, 45)
	for i := 0; i < 45; i++ {
		msg, err := f.svc.SendMessage(ctx, conv.ID, "alice", fmt.Sprintf("m%02d", i), nil)
		require.NoError(t, err)
		sent = append(sent, msg)
	}

	page, err := f.svc.ListMessages(ctx, conv.ID, "bob", nil)
	require.NoError(t, err)
	require.Len(t, page, chatsvc.MessagePageSize)
	assert.Equal(t, "m15", page[0].Text)
	assert.Equal(t, "m44", page[len(page)-1].Text)
	for i := 1; i < len(page); i++ {
		assert.True(t, page[i-1].CreatedAt.Before(page[i].CreatedAt))
	}

	cursor := page[0].CreatedAt
	older, err := f.svc.ListMessages(ctx, conv.ID, "bob", &cursor)
	require.NoError(t, err)
	require.Len(t, older, 15)
	assert.Equal(t, "m00", older[0].Text)
	assert.Equal(t, "m14", older[len(older)-1].Text)
	for _, m := range older {
		assert.True(t, m.CreatedAt.Before(cursor))
	}

	first := sent[0].CreatedAt
	empty, err := f.svc.ListMessages(ctx, conv.ID, "bob", &first)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListMessagesRequiresMembership(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conv := f.start(t, "alice", "bob", "p1")

	_, err := f.svc.ListMessages(ctx, conv.ID, "mallory", nil)
	require.ErrorIs(t, err, domainchat.ErrForbidden)

	_, err = f.svc.ListMessages(ctx, "missing", "alice", nil)
	require.ErrorIs(t, err, domainchat.ErrNotFound)

	ok, err := f.svc.IsParticipant(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestServiceRecordsEvents(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conv := f.start(t, "alice", "bob", "p1")
	f.start(t, "bob", "alice", "p1")
	_, err := f.svc.SendMessage(ctx, conv.ID, "alice", "hi", nil)
	require.NoError(t, err)
	_, err = f.svc.MarkRead(ctx, conv.ID, "bob", time.Time{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		domainchat.EventConversationStarted,
		domainchat.EventMessageSent,
		domainchat.EventRead,
	}, f.box.Names())
	for _, rec := range f.box.Records() {
		assert.Equal(t, string(conv.ID), rec.Aggregate)
		assert.Equal(t, "test", rec.Headers[outbox.HeaderOrigin])
	}
}

type failingMessages struct{}

func (failingMessages) Append(context.Context, *domainchat.Message) error {
	return errors.New("disk full")
}

func (failingMessages) ListBefore(context.Context, domainchat.ConversationID, *time.Time, int) ([]domainchat.Message, error) {
	return nil, errors.New("disk full")
}

func TestSendMessageSurfacesPersistenceFailure(t *testing.T) {
	f := newFixture()
	conv := f.start(t, "alice", "bob", "p1")
	f.svc.Messages = failingMessages{}

	_, err := f.svc.SendMessage(context.Background(), conv.ID, "alice", "hi", nil)
	require.ErrorIs(t, err, domainchat.ErrPersistence)

	stored, err := f.svc.Conversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastMessage)
	assert.Equal(t, 0, stored.UnreadFor("bob"))
}

// Scenario from the product brief: A and B discuss pet P1.
func TestConversationLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	c, _, err := f.svc.CreateOrGetConversation(ctx, "alice", "bob", "p1")
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, c.ID, "alice", "hi", nil)
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, c.ID, "alice", "is P1 available?", nil)
	require.NoError(t, err)

	items, err := f.svc.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].UnreadFor("bob"))
	assert.Equal(t, "is P1 available?", items[0].LastMessage.Text)

	_, err = f.svc.MarkRead(ctx, c.ID, "bob", time.Time{})
	require.NoError(t, err)
	items, err = f.svc.ListConversations(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, items[0].UnreadFor("bob"))

	history, err := f.svc.ListMessages(ctx, c.ID, "bob", nil)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hi", history[0].Text)
	assert.Equal(t, "is P1 available?", history[1].Text)
}

func TestTimestampsUseStoredPrecision(t *testing.T) {
	f := newFixture()
	f.now = time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	ctx := context.Background()
	conv := f.start(t, "alice", "bob", "p1")

	first, err := f.svc.SendMessage(ctx, conv.ID, "alice", "first", nil)
	require.NoError(t, err)
	assert.Zero(t, first.CreatedAt.Nanosecond()%int(time.Millisecond))
	_, err = f.svc.SendMessage(ctx, conv.ID, "alice", "second", nil)
	require.NoError(t, err)

	before := first.CreatedAt
	page, err := f.svc.ListMessages(ctx, conv.ID, "bob", &before)
	require.NoError(t, err)
	assert.Empty(t, page)

	receipt, err := f.svc.MarkRead(ctx, conv.ID, "bob", time.Date(2026, 3, 1, 13, 0, 0, 999999, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), receipt.At)
}
