package sync

// EffectKind identifies a reconciliation side effect. Values double as bus
// event kinds so the caller can dispatch them directly after commit.
type EffectKind string

const (
	// EffectThreadKicked tells the UI to leave the conversation screen for
	// a thread that is about to disappear.
	EffectThreadKicked EffectKind = "thread.kicked"

	EffectThreadDeleted       EffectKind = "thread.deleted"
	EffectThreadUpserted      EffectKind = "thread.upserted"
	EffectContactUpdated      EffectKind = "contact.updated"
	EffectContactRemoved      EffectKind = "contact.removed"
	EffectGroupUpdated        EffectKind = "group.updated"
	EffectAvatarDownload      EffectKind = "avatar.download_requested"
	EffectDisappearingChanged EffectKind = "disappearing.changed"
)

// Effect is one ordered side effect returned from a reconciliation
// transaction. Effects are enacted by the caller only after the transaction
// commits; the merge logic itself never touches the UI layer.
type Effect struct {
	Kind EffectKind
	ID   string // thread, contact, or group id
	URL  string // avatar URL for EffectAvatarDownload
}
