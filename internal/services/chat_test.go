package services

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptly-backend/internal/models"
	"promptly-backend/internal/repository"
)

// memRepos is an in-memory ChatRepos. InTx snapshots the state and restores
// it when fn fails.
type memRepos struct {
	mu       *sync.Mutex
	chats    map[uuid.UUID]*models.Chat
	index    map[string][]models.ChatSummary
	indexErr error

	// afterRead runs once a GetByID has copied the chat, outside the lock.
	afterRead func()
}

func newMemRepos() *memRepos {
	return &memRepos{
		mu:    &sync.Mutex{},
		chats: map[uuid.UUID]*models.Chat{},
		index: map[string][]models.ChatSummary{},
	}
}

func (m *memRepos) Chats() ChatStore { return memChats{m} }
func (m *memRepos) Index() ChatIndex { return memIndex{m} }

func (m *memRepos) InTx(ctx context.Context, fn func(tx ChatRepos) error) error {
	m.mu.Lock()
	chats := make(map[uuid.UUID]*models.Chat, len(m.chats))
	for k, v := range m.chats {
		c := *v
		c.History = slices.Clone(v.History)
		chats[k] = &c
	}
	index := make(map[string][]models.ChatSummary, len(m.index))
	for k, v := range m.index {
		index[k] = slices.Clone(v)
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.chats, m.index = chats, index
		m.mu.Unlock()
		return err
	}
	return nil
}

type memChats struct{ m *memRepos }

func (c memChats) Create(_ context.Context, chat *models.Chat) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	chat.ID = uuid.New()
	stored := *chat
	stored.History = slices.Clone(chat.History)
	c.m.chats[chat.ID] = &stored
	return nil
}

func (c memChats) GetByID(_ context.Context, id uuid.UUID) (*models.Chat, error) {
	c.m.mu.Lock()
	chat, ok := c.m.chats[id]
	if !ok {
		c.m.mu.Unlock()
		return nil, repository.ErrNotFound
	}
	cp := *chat
	cp.History = slices.Clone(chat.History)
	hook := c.m.afterRead
	c.m.afterRead = nil
	c.m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return &cp, nil
}

func (c memChats) AppendTurns(_ context.Context, id uuid.UUID, userID string, turns []models.Turn) (*models.Chat, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	chat, ok := c.m.chats[id]
	if !ok || chat.UserID != userID {
		return nil, repository.ErrNotFound
	}
	chat.History = append(chat.History, turns...)
	cp := *chat
	cp.History = slices.Clone(chat.History)
	return &cp, nil
}

func (c memChats) Delete(_ context.Context, id uuid.UUID, userID string) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if chat, ok := c.m.chats[id]; ok && chat.UserID == userID {
		delete(c.m.chats, id)
	}
	return nil
}

type memIndex struct{ m *memRepos }

func (i memIndex) AddEntry(_ context.Context, userID string, chatID uuid.UUID, title string) error {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	if i.m.indexErr != nil {
		return i.m.indexErr
	}
	for _, e := range i.m.index[userID] {
		if e.ID == chatID {
			return nil
		}
	}
	i.m.index[userID] = append(i.m.index[userID], models.ChatSummary{ID: chatID, Title: title})
	return nil
}

func (i memIndex) ListEntries(_ context.Context, userID string) ([]models.ChatSummary, error) {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	out := []models.ChatSummary{}
	for _, e := range i.m.index[userID] {
		chat, ok := i.m.chats[e.ID]
		e.Dangling = !ok || chat.UserID != userID
		out = append(out, e)
	}
	return out, nil
}

func (i memIndex) RemoveEntry(_ context.Context, userID string, chatID uuid.UUID) error {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	i.m.index[userID] = slices.DeleteFunc(i.m.index[userID], func(e models.ChatSummary) bool { return e.ID == chatID })
	return nil
}

func (i memIndex) RenameEntry(_ context.Context, userID string, chatID uuid.UUID, title string) (bool, error) {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	for n, e := range i.m.index[userID] {
		if e.ID == chatID {
			i.m.index[userID][n].Title = title
			return true, nil
		}
	}
	return false, nil
}

type memAssets map[string]*models.Asset

func (a memAssets) GetByPath(_ context.Context, path string) (*models.Asset, error) {
	if asset, ok := a[path]; ok {
		return asset, nil
	}
	return nil, repository.ErrNotFound
}

// memCache mirrors RedisChatCache: invalidation bumps a per-chat version
// and a fill only lands if the version is unchanged since the miss.
type memCache struct {
	chats       map[uuid.UUID]*models.Chat
	versions    map[uuid.UUID]int64
	invalidated []uuid.UUID
}

func newMemCache() *memCache {
	return &memCache{chats: map[uuid.UUID]*models.Chat{}, versions: map[uuid.UUID]int64{}}
}

func (c *memCache) Get(_ context.Context, id uuid.UUID) (*models.Chat, int64, bool) {
	chat, ok := c.chats[id]
	return chat, c.versions[id], ok
}

func (c *memCache) Fill(_ context.Context, chat *models.Chat, token int64) {
	if token == c.versions[chat.ID] {
		c.chats[chat.ID] = chat
	}
}

func (c *memCache) Invalidate(_ context.Context, id uuid.UUID) {
	c.versions[id]++
	delete(c.chats, id)
	c.invalidated = append(c.invalidated, id)
}

type recordedEvent struct {
	userID string
	event  models.ChatEvent
}

type memEvents struct{ events []recordedEvent }

func (e *memEvents) PublishUpdate(_ context.Context, userID string, msg models.WSMessage) {
	e.events = append(e.events, recordedEvent{userID: userID, event: msg.Payload.(models.ChatEvent)})
}

type memJobs struct{ jobs []*models.Job }

func (j *memJobs) Enqueue(_ context.Context, job *models.Job) error {
	j.jobs = append(j.jobs, job)
	return nil
}

type fixture struct {
	repos  *memRepos
	assets memAssets
	cache  *memCache
	events *memEvents
	jobs   *memJobs
	svc    *ChatService
}

func newFixture() *fixture {
	f := &fixture{
		repos:  newMemRepos(),
		assets: memAssets{},
		cache:  newMemCache(),
		events: &memEvents{},
		jobs:   &memJobs{},
	}
	f.svc = NewChatService(f.repos, f.assets, f.cache, f.events, f.jobs)
	return f
}

func strPtr(s string) *string { return &s }

func TestChatService_CreateAddsIndexEntry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id, err := f.svc.Create(ctx, "user_a", "Plan a trip to Kyoto")
	require.NoError(t, err)

	list, err := f.svc.List(ctx, "user_a")
	require.NoError(t, err)
	assert.Equal(t, []models.ChatSummary{{ID: id, Title: "Plan a trip to Kyoto"}}, list)

	chat, err := f.svc.Get(ctx, id, "user_a")
	require.NoError(t, err)
	require.Len(t, chat.History, 1)
	assert.Equal(t, models.RoleUser, chat.History[0].Role)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, "created", f.events.events[0].event.Action)
}

func TestChatService_CreateTruncatesTitle(t *testing.T) {
	f := newFixture()
	text := "Ünïcödé headline that goes well past the forty rune limit"

	id, err := f.svc.Create(context.Background(), "user_a", text)
	require.NoError(t, err)

	list, err := f.svc.List(context.Background(), "user_a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, models.TitleFromText(text), list[0].Title)
	assert.Len(t, []rune(list[0].Title), models.TitleMaxRunes)
}

func TestChatService_CreateValidation(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), "user_a", "  ")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "text")

	_, err = f.svc.Create(context.Background(), "", "hello")
	var uErr *UnauthorizedError
	assert.ErrorAs(t, err, &uErr)
}

func TestChatService_CreateRollsBackWhenIndexFails(t *testing.T) {
	f := newFixture()
	f.repos.indexErr = errors.New("index unavailable")

	_, err := f.svc.Create(context.Background(), "user_a", "hello")
	require.Error(t, err)
	assert.Empty(t, f.repos.chats)
	assert.Empty(t, f.events.events)
}

func TestChatService_ListEmptyForNewOwner(t *testing.T) {
	f := newFixture()

	list, err := f.svc.List(context.Background(), "user_new")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestChatService_ListHidesDanglingAndSchedulesPrune(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	keep, err := f.svc.Create(ctx, "user_a", "keep")
	require.NoError(t, err)
	gone, err := f.svc.Create(ctx, "user_a", "gone")
	require.NoError(t, err)
	delete(f.repos.chats, gone)

	list, err := f.svc.List(ctx, "user_a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, keep, list[0].ID)

	require.Len(t, f.jobs.jobs, 1)
	assert.Equal(t, models.JobTypeIndexPrune, f.jobs.jobs[0].Type)
	assert.Equal(t, "user_a", f.jobs.jobs[0].UserID)
}

func TestChatService_SequentialAppendsKeepOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id, err := f.svc.Create(ctx, "user_a", "Hi")
	require.NoError(t, err)
	// the first reply is persisted without a question
	_, err = f.svc.AppendTurn(ctx, id, "user_a", models.AppendTurnRequest{Answer: "Welcome"})
	require.NoError(t, err)

	_, err = f.svc.AppendTurn(ctx, id, "user_a", models.AppendTurnRequest{Question: strPtr("Hi"), Answer: "Hello!"})
	require.NoError(t, err)
	chat, err := f.svc.AppendTurn(ctx, id, "user_a", models.AppendTurnRequest{Question: strPtr("And then?"), Answer: "..."})
	require.NoError(t, err)

	var texts []string
	var roles []string
	for _, turn := range chat.History {
		texts = append(texts, turn.FirstText())
		roles = append(roles, turn.Role)
	}
	assert.Equal(t, []string{"Hi", "Welcome", "Hi", "Hello!", "And then?", "..."}, texts)
	assert.Equal(t, []string{"user", "model", "user", "model", "user", "model"}, roles)
}

func TestChatService_AppendNeverShrinksHistory(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id, err := f.svc.Create(ctx, "user_a", "start")
	require.NoError(t, err)

	prev := 1
	for _, q := range []*string{nil, strPtr("a"), nil, strPtr("b")} {
		chat, err := f.svc.AppendTurn(ctx, id, "user_a", models.AppendTurnRequest{Question: q, Answer: "ok"})
		require.NoError(t, err)
		assert.Greater(t, len(chat.History), prev)
		assert.Equal(t, "start", chat.History[0].FirstText())
		prev = len(chat.History)
	}
}

func TestChatService_AppendValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id, err := f.svc.Create(ctx, "user_a", "hello")
	require.NoError(t, err)
	f.assets["users/user_b/x.png"] = &models.Asset{UserID: "user_b", Path: "users/user_b/x.png"}

	tests := []struct {
		name    string
		req     models.AppendTurnRequest
		wantErr any
	}{
		{"empty answer", models.AppendTurnRequest{Question: strPtr("q"), Answer: " "}, &ValidationError{}},
		{"image without question", models.AppendTurnRequest{Answer: "a", Img: strPtr("users/user_a/x.png")}, &ValidationError{}},
		{"unknown image", models.AppendTurnRequest{Question: strPtr("q"), Answer: "a", Img: strPtr("users/user_a/nope.png")}, &ValidationError{}},
		{"foreign image", models.AppendTurnRequest{Question: strPtr("q"), Answer: "a", Img: strPtr("users/user_b/x.png")}, &ForbiddenError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AppendTurn(ctx, id, "user_a", tt.req)
			require.Error(t, err)
			switch tt.wantErr.(type) {
			case *ValidationError:
				var vErr *ValidationError
				assert.ErrorAs(t, err, &vErr)
			case *ForbiddenError:
				var fErr *ForbiddenError
				assert.ErrorAs(t, err, &fErr)
			}
		})
	}

	chat, err := f.svc.Get(ctx, id, "user_a")
	require.NoError(t, err)
	assert.Len(t, chat.History, 1)
}

func TestChatService_AppendWithImage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id, err := f.svc.Create(ctx, "user_a", "hello")
	require.NoError(t, err)
	f.assets["users/user_a/cat.png"] = &models.Asset{UserID: "user_a", Path: "users/user_a/cat.png"}

	chat, err := f.svc.AppendTurn(ctx, id, "user_a", models.AppendTurnRequest{
		Question: strPtr("What is this?"), Answer: "A cat.", Img: strPtr("users/user_a/cat.png"),
	})
	require.NoError(t, err)
	require.Len(t, chat.History, 3)
	assert.Equal(t, []string{"users/user_a/cat.png"}, chat.History[1].ImageRefs())
}

func TestChatService_AppendToMissingOrForeignChat(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id, err := f.svc.Create(ctx, "user_a", "mine")
	require.NoError(t, err)

	var nf *NotFoundError
	_, err = f.svc.AppendTurn(ctx, uuid.New(), "user_a", models.AppendTurnRequest{Answer: "x"})
	assert.ErrorAs(t, err, &nf)

	_, err = f.svc.AppendTurn(ctx, id, "user_b", models.AppendTurnRequest{Answer: "x"})
	assert.ErrorAs(t, err, &nf)
}

func TestChatService_GetChecksOwnerAndUsesCache(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id, err := f.svc.Create(ctx, "user_a", "hello")
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, id, "user_b")
	var fErr *ForbiddenError
	assert.ErrorAs(t, err, &fErr)

	_, err = f.svc.Get(ctx, uuid.New(), "user_a")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)

	_, err = f.svc.Get(ctx, id, "user_a")
	require.NoError(t, err)
	assert.Contains(t, f.cache.chats, id)

	_, err = f.svc.AppendTurn(ctx, id, "user_a", models.AppendTurnRequest{Answer: "hi"})
	require.NoError(t, err)
	assert.NotContains(t, f.cache.chats, id)
	assert.Contains(t, f.cache.invalidated, id)

	chat, err := f.svc.Get(ctx, id, "user_a")
	require.NoError(t, err)
	assert.Len(t, chat.History, 2)
}

func TestChatService_RenameMissingLeavesIndexUnchanged(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id, err := f.svc.Create(ctx, "user_a", "original")
	require.NoError(t, err)

	err = f.svc.Rename(ctx, uuid.New(), "user_a", "new name")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	// another owner cannot rename it either
	err = f.svc.Rename(ctx, id, "user_b", "stolen")
	require.ErrorAs(t, err, &nf)

	list, err := f.svc.List(ctx, "user_a")
	require.NoError(t, err)
	assert.Equal(t, []models.ChatSummary{{ID: id, Title: "original"}}, list)
}

func TestChatService_Rename(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id, err := f.svc.Create(ctx, "user_a", "original")
	require.NoError(t, err)

	var vErr *ValidationError
	require.ErrorAs(t, f.svc.Rename(ctx, id, "user_a", ""), &vErr)

	require.NoError(t, f.svc.Rename(ctx, id, "user_a", "Kyoto plans"))
	list, err := f.svc.List(ctx, "user_a")
	require.NoError(t, err)
	assert.Equal(t, "Kyoto plans", list[0].Title)
}

func TestChatService_DeleteIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id, err := f.svc.Create(ctx, "user_a", "bye")
	require.NoError(t, err)
	f.assets["users/user_a/cat.png"] = &models.Asset{UserID: "user_a", Path: "users/user_a/cat.png"}
	_, err = f.svc.AppendTurn(ctx, id, "user_a", models.AppendTurnRequest{
		Question: strPtr("look"), Answer: "nice", Img: strPtr("users/user_a/cat.png"),
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, id, "user_a"))
	require.NoError(t, f.svc.Delete(ctx, id, "user_a"))

	_, err = f.svc.Get(ctx, id, "user_a")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)

	list, err := f.svc.List(ctx, "user_a")
	require.NoError(t, err)
	assert.Empty(t, list)

	require.Len(t, f.jobs.jobs, 1)
	job := f.jobs.jobs[0]
	assert.Equal(t, models.JobTypeAssetCleanup, job.Type)
	var cfg models.AssetCleanupConfig
	require.NoError(t, json.Unmarshal(job.ConfigJSON, &cfg))
	assert.Equal(t, []string{"users/user_a/cat.png"}, cfg.Paths)
}

func TestChatService_DeleteByOtherOwnerIsNoop(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id, err := f.svc.Create(ctx, "user_a", "keep me")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, id, "user_b"))

	_, err = f.svc.Get(ctx, id, "user_a")
	require.NoError(t, err)
	assert.Empty(t, f.jobs.jobs)
}

func TestChatService_NilCollaborators(t *testing.T) {
	svc := NewChatService(newMemRepos(), nil, nil, nil, nil)
	ctx := context.Background()

	id, err := svc.Create(ctx, "user_a", "hello")
	require.NoError(t, err)
	_, err = svc.AppendTurn(ctx, id, "user_a", models.AppendTurnRequest{Question: strPtr("q"), Answer: "a", Img: strPtr("any")})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, id, "user_a"))
}

func TestChatService_GetDoesNotCacheChatInvalidatedDuringRead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id, err := f.svc.Create(ctx, "user_a", "Hi")
	require.NoError(t, err)

	// an append commits between the store read and the cache fill
	f.repos.afterRead = func() {
		_, err := f.svc.AppendTurn(ctx, id, "user_a", models.AppendTurnRequest{Question: strPtr("And then?"), Answer: "..."})
		require.NoError(t, err)
	}

	stale, err := f.svc.Get(ctx, id, "user_a")
	require.NoError(t, err)
	assert.Len(t, stale.History, 1)
	assert.NotContains(t, f.cache.chats, id)

	fresh, err := f.svc.Get(ctx, id, "user_a")
	require.NoError(t, err)
	assert.Len(t, fresh.History, 3)
	assert.Contains(t, f.cache.chats, id)
}
