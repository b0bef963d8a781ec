package store

import "time"

const (
	VolumeMute   = "mute"
	VolumeQuiet  = "quiet"
	VolumeNormal = "normal"
	VolumeLoud   = "loud"
)

const (
	EventNewDiscussion    = "new_discussion"
	EventDiscussionEdited = "discussion_edited"
	EventNewComment       = "new_comment"
	EventDiscussionMoved  = "discussion_moved"
)

const (
	SortImportance     = "importance"
	SortLatestActivity = "latest_activity"
)

func ValidVolume(volume string) bool {
	switch volume {
	case VolumeMute, VolumeQuiet, VolumeNormal, VolumeLoud:
		return true
	default:
		return false
	}
}

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Group struct {
	ID                             string
	ParentID                       *string
	Name                           string
	IsVisibleToPublic              bool
	ParentMembersCanSeeDiscussions bool
	ArchivedAt                     *time.Time
	CreatedAt                      time.Time
}

type Membership struct {
	GroupID string
	UserID  string
	Role    string
	Volume  string
}

type Discussion struct {
	ID             string
	GroupID        string
	AuthorID       string
	Title          string
	Description    string
	Private        bool
	Pinned         bool
	ItemsCount     int
	LastSequenceID int
	LastActivityAt time.Time
	ClosedAt       *time.Time
	DiscardedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DiscussionReader is the per-user state of one discussion.
type DiscussionReader struct {
	DiscussionID   string
	UserID         string
	ReadRanges     string
	ReadItemsCount int
	LastReadAt     *time.Time
	DismissedAt    *time.Time
	Volume         *string
	Starred        bool
	ReaderUnpinned bool
	Participating  bool
}

// DiscussionView is a discussion as seen by one (possibly anonymous) user.
type DiscussionView struct {
	Discussion
	Reader          *DiscussionReader
	EffectiveVolume string
	Importance      int
	ActivePollIDs   []string
}

type Event struct {
	ID           string
	Kind         string
	DiscussionID string
	ActorID      string
	SequenceID   *int
	Payload      map[string]any
	CreatedAt    time.Time
}

type Comment struct {
	ID           string
	DiscussionID string
	AuthorID     string
	Body         string
	SequenceID   int
	CreatedAt    time.Time
}

type Poll struct {
	ID           string
	GroupID      string
	DiscussionID *string
	AuthorID     string
	Title        string
	Details      string
	ClosingAt    *time.Time
	ClosedAt     *time.Time
	CreatedAt    time.Time
}

func (p Poll) Active() bool {
	return p.ClosedAt == nil
}

type Visitor struct {
	ID              string
	PollID          string
	Name            string
	Email           string
	InvitationToken string
	Revoked         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type GroupVisit struct {
	GroupID        string
	Day            time.Time
	Visits         int64
	UniqueVisitors int64
}

// CollectionOptions narrows ListVisibleDiscussions. An empty UserID means anonymous.
type CollectionOptions struct {
	UserID        string
	GroupIDs      []string
	Muted         *bool
	Participating bool
	Unread        bool
	Sort          string
	Limit         int
	Offset        int
}

type SearchDocument struct {
	ID          string
	GroupID     string
	Title       string
	Description string
	Comments    string
	UpdatedAt   time.Time
}
