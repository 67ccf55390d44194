package store

// Thread variants.
const (
	ThreadContact     = "contact"
	ThreadGroup       = "group"
	ThreadLegacyGroup = "legacy_group"
	ThreadCommunity   = "community"
)

// Group member roles, in ascending precedence.
const (
	RoleStandard  = "standard"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// Group member role statuses. Only meaningful for new-style groups.
const (
	RoleStatusPending  = "pending"
	RoleStatusSending  = "sending"
	RoleStatusFailed   = "failed"
	RoleStatusAccepted = "accepted"
)

// Disappearing message types.
const (
	DisappearNone      = "none"
	DisappearAfterSend = "after_send"
	DisappearAfterRead = "after_read"
)

// Contact represents the relationship flags for a known account.
type Contact struct {
	ID           string
	IsApproved   bool
	IsBlocked    bool
	DidApproveMe bool
	CreatedAt    int64
}

// Profile represents the display data synced for an account.
// Nickname is nil when the local user has not set one; it is
// contact-relationship data and is cleared when the contact is removed.
type Profile struct {
	ID               string
	Name             string
	Nickname         *string
	PictureURL       string
	PictureKey       string
	NameUpdatedAt    int64
	PictureUpdatedAt int64
}

// Thread represents a conversation row.
type Thread struct {
	ID                 string
	Variant            string
	CreatedAt          int64
	PinnedPriority     int32
	ShouldBeVisible    bool
	MutedUntil         int64
	OnlyNotifyMentions bool
	MarkedUnread       bool
}

// DisappearingConfig is a thread's disappearing-messages setting,
// compared wholesale against incoming snapshots.
type DisappearingConfig struct {
	ThreadID        string
	Enabled         bool
	DurationSeconds int64
	Type            string
}

// ClosedGroup represents a group conversation's info row.
type ClosedGroup struct {
	ThreadID           string
	Name               string
	Description        string
	DisplayPictureURL  string
	FormationTimestamp int64
	ShouldPoll         bool
	Invited            bool
}

// GroupMember represents one (group, profile, role) membership row.
type GroupMember struct {
	GroupID    string
	ProfileID  string
	Role       string
	RoleStatus string
	IsHidden   bool
}

// ConfigDump is the persisted full-state snapshot of one config object.
type ConfigDump struct {
	Variant     string
	OwnerPubKey string
	Data        []byte
	UpdatedAt   int64
}

// PushEntry represents a pending outgoing config push.
type PushEntry struct {
	ID           int64
	ClientID     string
	Variant      string
	OwnerPubKey  string
	Blob         []byte
	BlobHash     string
	Seqno        int64
	Status       string // queued, sending, sent, failed
	ErrorMessage string
}
