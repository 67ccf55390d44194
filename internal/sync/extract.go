package sync

import (
	"encoding/json"
	"errors"

	"github.com/session-foundation/seshd/internal/configstore"
	"github.com/session-foundation/seshd/internal/store"
)

// ErrIteratorOverrun reports a config iterator that produced more entries
// than the object claims to hold. The walk is aborted instead of hanging;
// this is an internal-consistency failure of the config library.
var ErrIteratorOverrun = errors.New("sync: config iterator exceeded entry bound")

// ContactFlags are the relationship booleans carried in a contact snapshot.
type ContactFlags struct {
	Approved   bool
	Blocked    bool
	ApprovedMe bool
}

// ProfileInfo are the display fields carried in a contact snapshot, with
// the per-field-group last-writer-wins timestamps.
type ProfileInfo struct {
	Name             string
	Nickname         string
	PictureURL       string
	PictureKey       string
	NameUpdatedAt    int64
	PictureUpdatedAt int64
}

// Disappearing is the snapshot form of a disappearing-messages setting.
type Disappearing struct {
	Version         int
	Enabled         bool
	DurationSeconds int64
	Type            string
}

// ValidV2 reports whether the setting comes from the current schema and is
// internally consistent. Invalid configs never overwrite stored state.
func (d *Disappearing) ValidV2() bool {
	if d == nil || d.Version != ExpiryVersion2 {
		return false
	}
	switch d.Type {
	case store.DisappearNone, store.DisappearAfterSend, store.DisappearAfterRead:
	default:
		return false
	}
	if d.Enabled && d.DurationSeconds <= 0 {
		return false
	}
	return true
}

// ContactSnapshot is the extracted value form of one contacts entry.
type ContactSnapshot struct {
	Flags        ContactFlags
	Profile      ProfileInfo
	Disappearing *Disappearing
	Visibility   Visibility
	CreatedAt    int64
}

// UserProfileSnapshot is the extracted value form of the user's own profile.
type UserProfileSnapshot struct {
	Name             string
	PictureURL       string
	PictureKey       string
	NameUpdatedAt    int64
	PictureUpdatedAt int64
	NoteToSelf       Visibility
	Disappearing     *Disappearing
	CreatedAt        int64
}

// GroupInfoSnapshot is the extracted value form of one group's info entry.
type GroupInfoSnapshot struct {
	Name               string
	Description        string
	DisplayPictureURL  string
	FormationTimestamp int64
	Visibility         Visibility
	ShouldPoll         bool
	Invited            bool
	CreatedAt          int64
}

// GroupMemberSnapshot is the extracted value form of one membership entry.
type GroupMemberSnapshot struct {
	Role       string
	RoleStatus string
	Hidden     bool
}

// LegacyGroupSnapshot is the extracted value form of one legacy group.
// Members maps profile id to admin status, duplicates already collapsed.
type LegacyGroupSnapshot struct {
	Name               string
	FormationTimestamp int64
	Visibility         Visibility
	CreatedAt          int64
	Members            map[string]bool
}

// walk iterates obj's entries with a defensive ceiling: an iterator that
// keeps yielding past the object's own entry count aborts the walk.
func walk(obj configstore.Object, fn func(configstore.Entry)) error {
	ceiling := obj.Len()
	it := obj.Iterate()
	seen := 0
	for it.Next() {
		seen++
		if seen > ceiling {
			return ErrIteratorOverrun
		}
		fn(it.Entry())
	}
	return nil
}

// ExtractContacts walks a merged contacts object and produces a pure value
// snapshot keyed by contact id. Entries that fail to decode are skipped and
// reported in malformed; one corrupt entry never blocks the rest.
func ExtractContacts(obj configstore.Object) (snap map[string]ContactSnapshot, malformed []string, err error) {
	snap = make(map[string]ContactSnapshot)
	err = walk(obj, func(e configstore.Entry) {
		var rec ContactRecord
		if decodeErr := json.Unmarshal(e.Value, &rec); decodeErr != nil {
			malformed = append(malformed, e.Key)
			return
		}
		id := rec.ID
		if id == "" {
			id = e.Key
		}
		snap[id] = ContactSnapshot{
			Flags: ContactFlags{
				Approved:   rec.Approved,
				Blocked:    rec.Blocked,
				ApprovedMe: rec.ApprovedMe,
			},
			Profile: ProfileInfo{
				Name:             rec.Name,
				Nickname:         rec.Nickname,
				PictureURL:       rec.PictureURL,
				PictureKey:       rec.PictureKey,
				NameUpdatedAt:    rec.NameUpdatedAt,
				PictureUpdatedAt: rec.PictureUpdatedAt,
			},
			Disappearing: expiryFromRecord(rec.ExpiryVersion, rec.ExpiryEnabled, rec.ExpirySeconds, rec.ExpiryType),
			Visibility:   VisibilityFromPriority(rec.Priority),
			CreatedAt:    rec.CreatedAt,
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return snap, malformed, nil
}

// ExtractUserProfile reads the single profile entry, or returns nil if the
// object has none yet.
func ExtractUserProfile(obj configstore.Object) (*UserProfileSnapshot, error) {
	raw, ok := obj.Get(ProfileKey)
	if !ok {
		return nil, nil
	}
	var rec UserProfileRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &UserProfileSnapshot{
		Name:             rec.Name,
		PictureURL:       rec.PictureURL,
		PictureKey:       rec.PictureKey,
		NameUpdatedAt:    rec.NameUpdatedAt,
		PictureUpdatedAt: rec.PictureUpdatedAt,
		NoteToSelf:       VisibilityFromPriority(rec.NoteToSelfPriority),
		Disappearing:     expiryFromRecord(rec.ExpiryVersion, rec.ExpiryEnabled, rec.ExpirySeconds, rec.ExpiryType),
		CreatedAt:        rec.CreatedAt,
	}, nil
}

// ExtractGroupInfo reads the single info entry of a group-owned object, or
// returns nil if the object has none yet.
func ExtractGroupInfo(obj configstore.Object) (*GroupInfoSnapshot, error) {
	raw, ok := obj.Get(InfoKey)
	if !ok {
		return nil, nil
	}
	var rec GroupInfoRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &GroupInfoSnapshot{
		Name:               rec.Name,
		Description:        rec.Description,
		DisplayPictureURL:  rec.DisplayPictureURL,
		FormationTimestamp: rec.FormationTimestamp,
		Visibility:         VisibilityFromPriority(rec.Priority),
		ShouldPoll:         rec.ShouldPoll,
		Invited:            rec.Invited,
		CreatedAt:          rec.CreatedAt,
	}, nil
}

// ExtractGroupMembers walks a members object keyed by profile id.
func ExtractGroupMembers(obj configstore.Object) (snap map[string]GroupMemberSnapshot, malformed []string, err error) {
	snap = make(map[string]GroupMemberSnapshot)
	err = walk(obj, func(e configstore.Entry) {
		var rec GroupMemberRecord
		if decodeErr := json.Unmarshal(e.Value, &rec); decodeErr != nil {
			malformed = append(malformed, e.Key)
			return
		}
		role := rec.Role
		switch role {
		case store.RoleStandard, store.RoleModerator, store.RoleAdmin:
		default:
			role = store.RoleStandard
		}
		roleStatus := rec.RoleStatus
		if roleStatus == "" {
			roleStatus = store.RoleStatusAccepted
		}
		snap[e.Key] = GroupMemberSnapshot{
			Role:       role,
			RoleStatus: roleStatus,
			Hidden:     rec.Hidden,
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return snap, malformed, nil
}

// ExtractLegacyGroups walks the user-owned legacy group object, collapsing
// duplicate member rows per profile with an explicit tie-break: an admin
// row always wins over a standard row for the same profile id.
func ExtractLegacyGroups(obj configstore.Object) (snap map[string]LegacyGroupSnapshot, malformed []string, err error) {
	snap = make(map[string]LegacyGroupSnapshot)
	err = walk(obj, func(e configstore.Entry) {
		var rec LegacyGroupRecord
		if decodeErr := json.Unmarshal(e.Value, &rec); decodeErr != nil {
			malformed = append(malformed, e.Key)
			return
		}
		members := make(map[string]bool, len(rec.Members))
		for _, m := range rec.Members {
			if m.ProfileID == "" {
				continue
			}
			members[m.ProfileID] = members[m.ProfileID] || m.Admin
		}
		snap[e.Key] = LegacyGroupSnapshot{
			Name:               rec.Name,
			FormationTimestamp: rec.FormationTimestamp,
			Visibility:         VisibilityFromPriority(rec.Priority),
			CreatedAt:          rec.CreatedAt,
			Members:            members,
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return snap, malformed, nil
}

func expiryFromRecord(version int, enabled bool, seconds int64, typ string) *Disappearing {
	if version == 0 {
		return nil
	}
	return &Disappearing{
		Version:         version,
		Enabled:         enabled,
		DurationSeconds: seconds,
		Type:            typ,
	}
}
