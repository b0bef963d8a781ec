package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"agora/api/internal/auth"
	"agora/api/internal/authpw"
	"agora/api/internal/config"
	"agora/api/internal/email"
	"agora/api/internal/export"
	"agora/api/internal/gitrepo"
	"agora/api/internal/metrics"
	"agora/api/internal/objectstore"
	"agora/api/internal/queue"
	"agora/api/internal/search"
	"agora/api/internal/session"
	"agora/api/internal/store"
	"agora/api/internal/util"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Session is the authenticated caller. The zero value is an anonymous caller.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) SignedIn() bool {
	return s.UserID != ""
}

type dataStore interface {
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, user store.User) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	CreateGroup(ctx context.Context, group store.Group) error
	GetGroup(ctx context.Context, groupID string) (store.Group, error)
	UpsertMembership(ctx context.Context, membership store.Membership) error
	MembershipRole(ctx context.Context, groupID, userID string) (string, error)
	SubgroupIDs(ctx context.Context, groupID string) ([]string, error)

	CreateDiscussion(ctx context.Context, item store.Discussion) error
	GetDiscussion(ctx context.Context, discussionID string) (store.Discussion, error)
	UpdateDiscussion(ctx context.Context, item store.Discussion) error
	MoveDiscussion(ctx context.Context, discussionID, groupID string, private bool) error
	ToggleDiscussionPin(ctx context.Context, discussionID string) (bool, error)
	ListVisibleDiscussions(ctx context.Context, opts store.CollectionOptions) ([]store.DiscussionView, int, error)
	GetDiscussionView(ctx context.Context, userID, discussionID string) (store.DiscussionView, error)
	FilterVisibleDiscussionIDs(ctx context.Context, userID string, ids []string) ([]string, error)
	GetSearchDocument(ctx context.Context, discussionID string) (store.SearchDocument, error)

	ModifyReader(ctx context.Context, discussionID, userID string, fn func(*store.DiscussionReader) error) (store.DiscussionReader, error)

	InsertEvent(ctx context.Context, event store.Event, sequenced bool) (store.Event, error)
	CreateComment(ctx context.Context, comment store.Comment, eventID string) (store.Comment, store.Event, error)
	ListComments(ctx context.Context, discussionID string) ([]store.Comment, error)

	CreatePoll(ctx context.Context, poll store.Poll) error
	GetPoll(ctx context.Context, pollID string) (store.Poll, error)

	FindVisitorByEmail(ctx context.Context, pollID, email string) (store.Visitor, error)
	GetVisitor(ctx context.Context, visitorID string) (store.Visitor, error)
	GetVisitorByToken(ctx context.Context, token string) (store.Visitor, error)
	CreateVisitor(ctx context.Context, visitor store.Visitor) (store.Visitor, error)
	UpdateVisitor(ctx context.Context, visitor store.Visitor) (store.Visitor, error)
	ListVisitors(ctx context.Context, pollID string) ([]store.Visitor, error)
}

// sessionStore holds refresh tokens, in Postgres or Redis.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type revisionStore interface {
	Commit(discussionID string, content gitrepo.Content, author, message string) (gitrepo.Revision, error)
	History(discussionID string, limit int) ([]gitrepo.Revision, error)
	Get(discussionID, hash string) (gitrepo.Content, gitrepo.Revision, error)
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexDiscussion(doc store.SearchDocument)
	DeleteDiscussion(id string)
}

type exporter interface {
	Export(ctx context.Context, transcript export.Transcript, format export.Format) (*export.Result, error)
}

type archiver interface {
	Put(ctx context.Context, prefix, filename, contentType string, data []byte) (objectstore.Object, error)
}

type visitRecorder interface {
	Record(ctx context.Context, groupID, visitToken, userID string) error
}

type mailer interface {
	IsConfigured() bool
	SendVisitorInvitation(data email.VisitorInvitation) error
}

// Deps are the collaborators of Service. Only Store is required.
type Deps struct {
	Store     dataStore
	Sessions  sessionStore
	Revisions revisionStore
	Search    searchIndex
	Exporter  exporter
	Archive   archiver
	Visits    visitRecorder
	Queue     queue.Client
	Mailer    mailer
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	revisions revisionStore
	search    searchIndex
	exporter  exporter
	archive   archiver
	visits    visitRecorder
	queue     queue.Client
	mailer    mailer
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	validate  *validator.Validate
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  deps.Sessions,
		passwords: authpw.NewService(deps.Store),
		revisions: deps.Revisions,
		search:    deps.Search,
		exporter:  deps.Exporter,
		archive:   deps.Archive,
		visits:    deps.Visits,
		queue:     deps.Queue,
		mailer:    deps.Mailer,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       time.Now,
	}
	if s.sessions == nil {
		if sessions, ok := deps.Store.(sessionStore); ok {
			s.sessions = sessions
		}
	}
	if s.exporter == nil {
		s.exporter = export.NewService()
	}
	if s.visits == nil {
		s.visits = session.NoopTracker{}
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.queue == nil {
		inline := queue.NewInline()
		s.RegisterTasks(inline)
		s.queue = inline
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.passwords.SignUp(ctx, req)
	if err != nil {
		return Session{}, mapAuthError(err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, emailAddress, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, emailAddress, password)
	if err != nil {
		return Session{}, mapAuthError(err)
	}
	return s.issueSession(ctx, user)
}

func mapAuthError(err error) error {
	switch {
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	case errors.Is(err, authpw.ErrEmailTaken):
		return domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	case errors.Is(err, authpw.ErrWeakPassword), errors.Is(err, authpw.ErrMissingFields):
		return validationError(err.Error(), nil)
	default:
		return err
	}
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, unauthorized()
	}
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, unauthorized()
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	if user.Name == "" {
		full, err := s.store.GetUserByID(ctx, user.ID)
		if err != nil {
			return Session{}, err
		}
		user = full
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Name, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn().Err(err).Msg("revoke access token")
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn().Err(err).Msg("revoke refresh token")
		}
	}
	return nil
}

// check runs struct validation and turns failures into a VALIDATION_ERROR listing
// the offending fields.
func (s *Service) check(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[snakeCase(fe.Field())] = fe.Tag()
	}
	return validationError("Invalid parameters", map[string]any{"fields": fields})
}

func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
