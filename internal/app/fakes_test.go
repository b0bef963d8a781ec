package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"agora/api/internal/auth"
	"agora/api/internal/config"
	"agora/api/internal/email"
	"agora/api/internal/store"
	"github.com/rs/zerolog"
)

const testSecret = "test-secret"

// fakeStore keeps everything in maps. The ...Fn hooks override the defaults.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]store.User
	groups      map[string]store.Group
	roles       map[string]string
	discussions map[string]store.Discussion
	readers     map[string]store.DiscussionReader
	polls       map[string]store.Poll
	visitors    map[string]store.Visitor
	events      []store.Event
	comments    []store.Comment
	refresh     map[string]string

	pingFn          func(context.Context) error
	listVisibleFn   func(context.Context, store.CollectionOptions) ([]store.DiscussionView, int, error)
	filterVisibleFn func(context.Context, string, []string) ([]string, error)
	lastOpts        *store.CollectionOptions
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[string]store.User{},
		groups:      map[string]store.Group{},
		roles:       map[string]string{},
		discussions: map[string]store.Discussion{},
		readers:     map[string]store.DiscussionReader{},
		polls:       map[string]store.Poll{},
		visitors:    map[string]store.Visitor{},
		refresh:     map[string]string{},
	}
}

func (f *fakeStore) addUser(id, name string) {
	f.users[id] = store.User{ID: id, Name: name, Email: id + "@example.com"}
}

func (f *fakeStore) addMember(groupID, userID, role string) {
	f.roles[groupID+"/"+userID] = role
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, emailAddress string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if strings.EqualFold(user.Email, emailAddress) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: userID}, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }

func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) { return false, nil }

func (f *fakeStore) CreateGroup(_ context.Context, group store.Group) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[group.ID] = group
	return nil
}

func (f *fakeStore) GetGroup(_ context.Context, groupID string) (store.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.groups[groupID]
	if !ok {
		return store.Group{}, sql.ErrNoRows
	}
	return group, nil
}

func (f *fakeStore) UpsertMembership(_ context.Context, membership store.Membership) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[membership.GroupID+"/"+membership.UserID] = membership.Role
	return nil
}

func (f *fakeStore) MembershipRole(_ context.Context, groupID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[groupID+"/"+userID], nil
}

func (f *fakeStore) SubgroupIDs(_ context.Context, groupID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := []string{}
	for _, group := range f.groups {
		if group.ParentID != nil && *group.ParentID == groupID {
			ids = append(ids, group.ID)
		}
	}
	return ids, nil
}

func (f *fakeStore) CreateDiscussion(_ context.Context, item store.Discussion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discussions[item.ID] = item
	return nil
}

func (f *fakeStore) GetDiscussion(_ context.Context, discussionID string) (store.Discussion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.discussions[discussionID]
	if !ok {
		return store.Discussion{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) UpdateDiscussion(_ context.Context, item store.Discussion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discussions[item.ID] = item
	return nil
}

func (f *fakeStore) MoveDiscussion(_ context.Context, discussionID, groupID string, private bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.discussions[discussionID]
	item.GroupID = groupID
	item.Private = private
	f.discussions[discussionID] = item
	return nil
}

func (f *fakeStore) ToggleDiscussionPin(_ context.Context, discussionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.discussions[discussionID]
	item.Pinned = !item.Pinned
	f.discussions[discussionID] = item
	return item.Pinned, nil
}

func (f *fakeStore) ListVisibleDiscussions(ctx context.Context, opts store.CollectionOptions) ([]store.DiscussionView, int, error) {
	f.mu.Lock()
	f.lastOpts = &opts
	f.mu.Unlock()
	if f.listVisibleFn != nil {
		return f.listVisibleFn(ctx, opts)
	}
	return []store.DiscussionView{}, 0, nil
}

func (f *fakeStore) GetDiscussionView(_ context.Context, userID, discussionID string) (store.DiscussionView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.discussions[discussionID]
	if !ok {
		return store.DiscussionView{}, sql.ErrNoRows
	}
	view := store.DiscussionView{Discussion: item, EffectiveVolume: store.VolumeNormal}
	if reader, ok := f.readers[discussionID+"/"+userID]; ok && userID != "" {
		view.Reader = &reader
		if reader.Volume != nil {
			view.EffectiveVolume = *reader.Volume
		}
	}
	return view, nil
}

func (f *fakeStore) FilterVisibleDiscussionIDs(ctx context.Context, userID string, ids []string) ([]string, error) {
	if f.filterVisibleFn != nil {
		return f.filterVisibleFn(ctx, userID, ids)
	}
	return ids, nil
}

func (f *fakeStore) GetSearchDocument(_ context.Context, discussionID string) (store.SearchDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.discussions[discussionID]
	if !ok {
		return store.SearchDocument{}, sql.ErrNoRows
	}
	return store.SearchDocument{ID: item.ID, GroupID: item.GroupID, Title: item.Title, Description: item.Description}, nil
}

func (f *fakeStore) ModifyReader(_ context.Context, discussionID, userID string, fn func(*store.DiscussionReader) error) (store.DiscussionReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := discussionID + "/" + userID
	reader, ok := f.readers[key]
	if !ok {
		reader = store.DiscussionReader{DiscussionID: discussionID, UserID: userID}
	}
	if err := fn(&reader); err != nil {
		return store.DiscussionReader{}, err
	}
	f.readers[key] = reader
	return reader, nil
}

func (f *fakeStore) InsertEvent(_ context.Context, event store.Event, sequenced bool) (store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sequenced {
		item := f.discussions[event.DiscussionID]
		item.LastSequenceID++
		item.ItemsCount++
		f.discussions[event.DiscussionID] = item
		seq := item.LastSequenceID
		event.SequenceID = &seq
	}
	event.CreatedAt = time.Now()
	f.events = append(f.events, event)
	return event, nil
}

func (f *fakeStore) CreateComment(ctx context.Context, comment store.Comment, eventID string) (store.Comment, store.Event, error) {
	event, err := f.InsertEvent(ctx, store.Event{
		ID:           eventID,
		Kind:         store.EventNewComment,
		DiscussionID: comment.DiscussionID,
		ActorID:      comment.AuthorID,
		Payload:      map[string]any{"comment_id": comment.ID},
	}, true)
	if err != nil {
		return store.Comment{}, store.Event{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	comment.SequenceID = *event.SequenceID
	comment.CreatedAt = event.CreatedAt
	f.comments = append(f.comments, comment)
	return comment, event, nil
}

func (f *fakeStore) ListComments(_ context.Context, discussionID string) ([]store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Comment{}
	for _, comment := range f.comments {
		if comment.DiscussionID == discussionID {
			out = append(out, comment)
		}
	}
	return out, nil
}

func (f *fakeStore) CreatePoll(_ context.Context, poll store.Poll) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls[poll.ID] = poll
	return nil
}

func (f *fakeStore) GetPoll(_ context.Context, pollID string) (store.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	poll, ok := f.polls[pollID]
	if !ok {
		return store.Poll{}, sql.ErrNoRows
	}
	return poll, nil
}

func (f *fakeStore) FindVisitorByEmail(_ context.Context, pollID, emailAddress string) (store.Visitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, visitor := range f.visitors {
		if visitor.PollID == pollID && strings.EqualFold(visitor.Email, emailAddress) {
			return visitor, nil
		}
	}
	return store.Visitor{}, sql.ErrNoRows
}

func (f *fakeStore) GetVisitor(_ context.Context, visitorID string) (store.Visitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	visitor, ok := f.visitors[visitorID]
	if !ok {
		return store.Visitor{}, sql.ErrNoRows
	}
	return visitor, nil
}

func (f *fakeStore) GetVisitorByToken(_ context.Context, token string) (store.Visitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, visitor := range f.visitors {
		if visitor.InvitationToken == token {
			return visitor, nil
		}
	}
	return store.Visitor{}, sql.ErrNoRows
}

// emailTakenLocked mirrors the unique (poll_id, lower(email)) constraint.
func (f *fakeStore) emailTakenLocked(visitor store.Visitor) bool {
	for _, other := range f.visitors {
		if other.ID != visitor.ID && other.PollID == visitor.PollID && strings.EqualFold(other.Email, visitor.Email) {
			return true
		}
	}
	return false
}

func (f *fakeStore) CreateVisitor(_ context.Context, visitor store.Visitor) (store.Visitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emailTakenLocked(visitor) {
		return store.Visitor{}, fmt.Errorf("insert visitor: %w", store.ErrDuplicate)
	}
	visitor.CreatedAt = time.Now()
	visitor.UpdatedAt = visitor.CreatedAt
	f.visitors[visitor.ID] = visitor
	return visitor, nil
}

func (f *fakeStore) UpdateVisitor(_ context.Context, visitor store.Visitor) (store.Visitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.visitors[visitor.ID]; !ok {
		return store.Visitor{}, sql.ErrNoRows
	}
	if f.emailTakenLocked(visitor) {
		return store.Visitor{}, fmt.Errorf("update visitor: %w", store.ErrDuplicate)
	}
	visitor.UpdatedAt = time.Now()
	f.visitors[visitor.ID] = visitor
	return visitor, nil
}

func (f *fakeStore) ListVisitors(_ context.Context, pollID string) ([]store.Visitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Visitor{}
	for _, visitor := range f.visitors {
		if visitor.PollID == pollID {
			out = append(out, visitor)
		}
	}
	return out, nil
}

type fakeMailer struct {
	mu         sync.Mutex
	configured bool
	sent       []email.VisitorInvitation
	sendFn     func(email.VisitorInvitation) error
}

func (m *fakeMailer) IsConfigured() bool { return m.configured }

func (m *fakeMailer) SendVisitorInvitation(data email.VisitorInvitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendFn != nil {
		if err := m.sendFn(data); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, data)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeVisits struct {
	mu      sync.Mutex
	records []string
}

func (v *fakeVisits) Record(_ context.Context, groupID, visitToken, userID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records = append(v.records, groupID+"|"+visitToken+"|"+userID)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  testSecret,
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		AppURL:     "http://app.test",
		CORSOrigin: "*",
	}
}

type testEnv struct {
	store   *fakeStore
	mailer  *fakeMailer
	visits  *fakeVisits
	service *Service
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs := newFakeStore()
	mailer := &fakeMailer{configured: true}
	visits := &fakeVisits{}
	svc := New(testConfig(), Deps{
		Store:  fs,
		Mailer: mailer,
		Visits: visits,
		Logger: zerolog.Nop(),
	})
	server := NewHTTPServer(svc, HTTPOptions{Logger: zerolog.Nop()})
	return &testEnv{store: fs, mailer: mailer, visits: visits, service: svc, handler: server.Handler()}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	user, ok := e.store.users[userID]
	if !ok {
		e.store.addUser(userID, userID)
		user = e.store.users[userID]
	}
	token, err := auth.IssueToken([]byte(testSecret), user.ID, user.Name, "jti-"+userID, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}
