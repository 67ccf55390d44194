package sync

import "math"

// HiddenPriority is the raw sentinel a config record carries when its
// conversation is hidden. It only appears at the config-object edge; inside
// the engine visibility is the tagged Visibility type.
const HiddenPriority int32 = math.MinInt32

// ShouldBeVisible derives a conversation's visibility from a raw priority.
func ShouldBeVisible(priority int32) bool {
	return priority >= 0
}

// Visibility is the tagged form of a raw priority: either hidden, or
// visible with a pin priority (0 = unpinned, higher = more prominent).
type Visibility struct {
	Hidden   bool
	Priority int32
}

// VisibilityFromPriority converts a raw config priority to a Visibility.
func VisibilityFromPriority(raw int32) Visibility {
	if ShouldBeVisible(raw) {
		return Visibility{Priority: raw}
	}
	return Visibility{Hidden: true}
}

// RawPriority converts back to the sentinel form for the config-object edge.
func (v Visibility) RawPriority() int32 {
	if v.Hidden {
		return HiddenPriority
	}
	return v.Priority
}

// ExpiryVersion2 marks a disappearing-messages config produced by the
// current schema. Older records are ignored during reconciliation.
const ExpiryVersion2 = 2

// ContactRecord is the wire form of one contacts-variant entry. It bundles
// three logical sub-structures that share one entry: contact flags, profile
// fields, and the per-conversation disappearing-messages setting.
type ContactRecord struct {
	ID               string `json:"id"`
	Approved         bool   `json:"approved,omitempty"`
	Blocked          bool   `json:"blocked,omitempty"`
	ApprovedMe       bool   `json:"approved_me,omitempty"`
	Name             string `json:"name,omitempty"`
	Nickname         string `json:"nickname,omitempty"`
	PictureURL       string `json:"picture_url,omitempty"`
	PictureKey       string `json:"picture_key,omitempty"`
	NameUpdatedAt    int64  `json:"name_updated_at,omitempty"`
	PictureUpdatedAt int64  `json:"picture_updated_at,omitempty"`
	Priority         int32  `json:"priority,omitempty"`
	CreatedAt        int64  `json:"created_at,omitempty"`
	ExpiryVersion    int    `json:"expiry_version,omitempty"`
	ExpiryEnabled    bool   `json:"expiry_enabled,omitempty"`
	ExpirySeconds    int64  `json:"expiry_seconds,omitempty"`
	ExpiryType       string `json:"expiry_type,omitempty"`
}

// UserProfileRecord is the wire form of the single user-profile entry,
// stored under ProfileKey. NoteToSelfPriority drives the visibility of the
// user's own thread.
type UserProfileRecord struct {
	Name               string `json:"name,omitempty"`
	PictureURL         string `json:"picture_url,omitempty"`
	PictureKey         string `json:"picture_key,omitempty"`
	NameUpdatedAt      int64  `json:"name_updated_at,omitempty"`
	PictureUpdatedAt   int64  `json:"picture_updated_at,omitempty"`
	NoteToSelfPriority int32  `json:"note_to_self_priority,omitempty"`
	CreatedAt          int64  `json:"created_at,omitempty"`
	ExpiryVersion      int    `json:"expiry_version,omitempty"`
	ExpiryEnabled      bool   `json:"expiry_enabled,omitempty"`
	ExpirySeconds      int64  `json:"expiry_seconds,omitempty"`
	ExpiryType         string `json:"expiry_type,omitempty"`
}

// GroupInfoRecord is the wire form of the single group-info entry, stored
// under InfoKey in a group-owned object.
type GroupInfoRecord struct {
	Name               string `json:"name"`
	Description        string `json:"description,omitempty"`
	DisplayPictureURL  string `json:"display_picture_url,omitempty"`
	FormationTimestamp int64  `json:"formation_timestamp,omitempty"`
	Priority           int32  `json:"priority,omitempty"`
	ShouldPoll         bool   `json:"should_poll,omitempty"`
	Invited            bool   `json:"invited,omitempty"`
	CreatedAt          int64  `json:"created_at,omitempty"`
}

// GroupMemberRecord is the wire form of one closed-group-members entry,
// keyed by the member's profile id.
type GroupMemberRecord struct {
	Role       string `json:"role"`
	RoleStatus string `json:"role_status,omitempty"`
	Hidden     bool   `json:"hidden,omitempty"`
}

// LegacyGroupRecord is the wire form of one legacy-group entry, keyed by the
// group id in the user-owned legacy object. Members may carry duplicate
// admin/standard rows per profile; read-side processing collapses them.
type LegacyGroupRecord struct {
	Name               string              `json:"name"`
	FormationTimestamp int64               `json:"formation_timestamp,omitempty"`
	Priority           int32               `json:"priority,omitempty"`
	CreatedAt          int64               `json:"created_at,omitempty"`
	Members            []LegacyMemberEntry `json:"members,omitempty"`
}

// LegacyMemberEntry is one membership row inside a legacy group record.
type LegacyMemberEntry struct {
	ProfileID string `json:"profile_id"`
	Admin     bool   `json:"admin,omitempty"`
}

// Well-known entry keys for single-entry variants.
const (
	ProfileKey = "profile"
	InfoKey    = "info"
)
