package configstore

import "fmt"

// Variant identifies which sync domain a config object represents.
// Each variant is owned by a public key (the user's own key for personal
// variants, a group's key for group variants) and has an independent
// merge history.
type Variant string

const (
	Contacts           Variant = "contacts"
	UserProfile        Variant = "user_profile"
	ClosedGroupInfo    Variant = "closed_group_info"
	ClosedGroupMembers Variant = "closed_group_members"
	ClosedGroupKeys    Variant = "closed_group_keys"
	LegacyGroup        Variant = "legacy_group"
)

// All lists every known variant.
var All = []Variant{Contacts, UserProfile, ClosedGroupInfo, ClosedGroupMembers, ClosedGroupKeys, LegacyGroup}

// ParseVariant converts a string to a Variant.
func ParseVariant(s string) (Variant, error) {
	for _, v := range All {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown config variant %q", s)
}
