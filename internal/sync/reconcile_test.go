package sync

import (
	"path/filepath"
	"testing"

	"github.com/session-foundation/seshd/internal/store"
)

const (
	testOwner = "05me"
	alice     = "05aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob       = "05bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func hasEffect(effects []Effect, kind EffectKind, id string) bool {
	for _, e := range effects {
		if e.Kind == kind && e.ID == id {
			return true
		}
	}
	return false
}

func contactSnap(name string, nameAt int64) ContactSnapshot {
	return ContactSnapshot{
		Flags:     ContactFlags{Approved: true},
		Profile:   ProfileInfo{Name: name, NameUpdatedAt: nameAt},
		CreatedAt: 1000,
	}
}

func TestReconcileCreatesContact(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil)

	effects, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{
		alice: contactSnap("Alice", 100),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !hasEffect(effects, EffectContactUpdated, alice) {
		t.Error("missing contact.updated effect")
	}
	if !hasEffect(effects, EffectThreadUpserted, alice) {
		t.Error("missing thread.upserted effect")
	}

	c, err := db.GetContact(alice)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || !c.IsApproved {
		t.Fatalf("contact = %+v", c)
	}
	p, err := db.GetProfile(alice)
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.Name != "Alice" {
		t.Fatalf("profile = %+v", p)
	}
	th, err := db.GetThread(alice)
	if err != nil {
		t.Fatal(err)
	}
	if th == nil || !th.ShouldBeVisible {
		t.Fatalf("thread = %+v", th)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil)
	snap := map[string]ContactSnapshot{alice: contactSnap("Alice", 100)}

	if _, err := r.ReconcileContacts(testOwner, snap); err != nil {
		t.Fatal(err)
	}
	effects, err := r.ReconcileContacts(testOwner, snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(effects) != 0 {
		t.Errorf("second apply produced effects: %v", effects)
	}
}

func TestReconcileNameLWW(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil)

	if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: contactSnap("Newer", 200)}); err != nil {
		t.Fatal(err)
	}

	// Older write loses.
	if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: contactSnap("Older", 100)}); err != nil {
		t.Fatal(err)
	}
	p, _ := db.GetProfile(alice)
	if p.Name != "Newer" {
		t.Errorf("name = %q, older write must lose", p.Name)
	}

	// Equal timestamp keeps the stored value.
	if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: contactSnap("Tied", 200)}); err != nil {
		t.Fatal(err)
	}
	p, _ = db.GetProfile(alice)
	if p.Name != "Newer" {
		t.Errorf("name = %q, tie must keep stored value", p.Name)
	}

	// Strictly newer write wins.
	if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: contactSnap("Winner", 300)}); err != nil {
		t.Fatal(err)
	}
	p, _ = db.GetProfile(alice)
	if p.Name != "Winner" || p.NameUpdatedAt != 300 {
		t.Errorf("profile = %+v, want Winner@300", p)
	}

	// Empty name never overwrites, regardless of timestamp.
	if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: contactSnap("", 999)}); err != nil {
		t.Fatal(err)
	}
	p, _ = db.GetProfile(alice)
	if p.Name != "Winner" {
		t.Errorf("name = %q, empty incoming name must not clear it", p.Name)
	}
}

// TestReconcileNameCommutes applies two name writes in both orders and
// checks both databases converge on the later timestamp.
func TestReconcileNameCommutes(t *testing.T) {
	first := contactSnap("First", 100)
	second := contactSnap("Second", 200)

	for _, order := range [][]ContactSnapshot{{first, second}, {second, first}} {
		db := testDB(t)
		r := NewReconciler(db, nil)
		for _, s := range order {
			if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: s}); err != nil {
				t.Fatal(err)
			}
		}
		p, _ := db.GetProfile(alice)
		if p.Name != "Second" {
			t.Errorf("name = %q after order %v, want Second", p.Name, order)
		}
	}
}

func TestReconcilePictureMovesAsPair(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil)

	snap := contactSnap("Alice", 100)
	snap.Profile.PictureURL = "http://files/old"
	snap.Profile.PictureKey = "key-old"
	snap.Profile.PictureUpdatedAt = 100
	if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: snap}); err != nil {
		t.Fatal(err)
	}

	// Newer picture: both url and key replaced together.
	snap.Profile.PictureURL = "http://files/new"
	snap.Profile.PictureKey = "key-new"
	snap.Profile.PictureUpdatedAt = 200
	effects, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: snap})
	if err != nil {
		t.Fatal(err)
	}
	if !hasEffect(effects, EffectAvatarDownload, alice) {
		t.Error("missing avatar.download_requested effect")
	}
	p, _ := db.GetProfile(alice)
	if p.PictureURL != "http://files/new" || p.PictureKey != "key-new" {
		t.Errorf("picture = %q/%q, want the new pair", p.PictureURL, p.PictureKey)
	}

	// Older picture loses wholesale.
	snap.Profile.PictureURL = "http://files/stale"
	snap.Profile.PictureKey = "key-stale"
	snap.Profile.PictureUpdatedAt = 150
	if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: snap}); err != nil {
		t.Fatal(err)
	}
	p, _ = db.GetProfile(alice)
	if p.PictureURL != "http://files/new" || p.PictureKey != "key-new" {
		t.Errorf("picture = %q/%q, stale pair must lose", p.PictureURL, p.PictureKey)
	}
}

func TestReconcileNicknamePlainOverwrite(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil)

	snap := contactSnap("Alice", 100)
	snap.Profile.Nickname = "Al"
	if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: snap}); err != nil {
		t.Fatal(err)
	}
	p, _ := db.GetProfile(alice)
	if p.Nickname == nil || *p.Nickname != "Al" {
		t.Fatalf("nickname = %v, want Al", p.Nickname)
	}

	// Nicknames have no timestamp: the next merge simply overwrites,
	// including clearing.
	snap.Profile.Nickname = ""
	if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: snap}); err != nil {
		t.Fatal(err)
	}
	p, _ = db.GetProfile(alice)
	if p.Nickname != nil {
		t.Errorf("nickname = %v, want cleared", *p.Nickname)
	}
}

func TestReconcileApprovalRatchet(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil)

	snap := contactSnap("Alice", 100)
	snap.Flags = ContactFlags{Approved: true, ApprovedMe: true}
	if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: snap}); err != nil {
		t.Fatal(err)
	}

	// A snapshot with the flags off cannot undo a confirmed approval, but
	// blocked follows the latest write.
	snap.Flags = ContactFlags{Blocked: true}
	if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: snap}); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetContact(alice)
	if !c.IsApproved || !c.DidApproveMe {
		t.Errorf("approvals regressed: %+v", c)
	}
	if !c.IsBlocked {
		t.Error("blocked should follow the latest write")
	}

	snap.Flags = ContactFlags{Approved: true, ApprovedMe: true}
	if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: snap}); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetContact(alice)
	if c.IsBlocked {
		t.Error("unblock should apply")
	}
}

func TestReconcileHiddenDeletesThread(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil)

	if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: contactSnap("Alice", 100)}); err != nil {
		t.Fatal(err)
	}

	hidden := contactSnap("Alice", 100)
	hidden.Visibility = Visibility{Hidden: true}
	effects, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: hidden})
	if err != nil {
		t.Fatal(err)
	}
	if !hasEffect(effects, EffectThreadKicked, alice) || !hasEffect(effects, EffectThreadDeleted, alice) {
		t.Errorf("effects = %v, want kick then delete", effects)
	}

	th, _ := db.GetThread(alice)
	if th != nil {
		t.Error("hidden thread should be deleted")
	}
	// The contact itself survives a hide.
	c, _ := db.GetContact(alice)
	if c == nil {
		t.Error("hide must not remove the contact row")
	}

	// Hiding an already-hidden conversation is a no-op.
	effects, err = r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: hidden})
	if err != nil {
		t.Fatal(err)
	}
	if hasEffect(effects, EffectThreadDeleted, alice) {
		t.Error("second hide should emit no delete effect")
	}
}

func TestReconcileDisappearingValidity(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil)

	snap := contactSnap("Alice", 100)
	snap.Disappearing = &Disappearing{Version: 2, Enabled: true, DurationSeconds: 3600, Type: store.DisappearAfterSend}
	if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: snap}); err != nil {
		t.Fatal(err)
	}
	dc, _ := db.GetDisappearing(alice)
	if dc == nil || !dc.Enabled || dc.DurationSeconds != 3600 {
		t.Fatalf("disappearing = %+v", dc)
	}

	// An invalid setting (legacy version) never overwrites the stored one.
	snap.Disappearing = &Disappearing{Version: 1, Enabled: false}
	if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: snap}); err != nil {
		t.Fatal(err)
	}
	dc, _ = db.GetDisappearing(alice)
	if !dc.Enabled {
		t.Error("invalid config overwrote stored setting")
	}

	// An identical valid setting emits no effect.
	snap.Disappearing = &Disappearing{Version: 2, Enabled: true, DurationSeconds: 3600, Type: store.DisappearAfterSend}
	effects, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: snap})
	if err != nil {
		t.Fatal(err)
	}
	if hasEffect(effects, EffectDisappearingChanged, alice) {
		t.Error("unchanged setting should emit no effect")
	}
}

func TestReconcilePrunesRemovedContacts(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil)

	both := map[string]ContactSnapshot{
		alice: contactSnap("Alice", 100),
		bob:   contactSnap("Bob", 100),
	}
	bobNick := both[bob]
	bobNick.Profile.Nickname = "Bobby"
	both[bob] = bobNick
	if _, err := r.ReconcileContacts(testOwner, both); err != nil {
		t.Fatal(err)
	}

	// Bob disappears from the snapshot: row, thread, and nickname go.
	effects, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{alice: both[alice]})
	if err != nil {
		t.Fatal(err)
	}
	if !hasEffect(effects, EffectContactRemoved, bob) || !hasEffect(effects, EffectThreadDeleted, bob) {
		t.Errorf("effects = %v", effects)
	}

	c, _ := db.GetContact(bob)
	if c != nil {
		t.Error("pruned contact still present")
	}
	th, _ := db.GetThread(bob)
	if th != nil {
		t.Error("pruned thread still present")
	}
	p, _ := db.GetProfile(bob)
	if p == nil {
		t.Fatal("profile row should survive the prune")
	}
	if p.Nickname != nil {
		t.Error("nickname must be cleared when the contact is removed")
	}
	if p.Name != "Bob" {
		t.Error("display name should survive the prune")
	}
}

// TestReconcileSparesDraftConversations verifies a thread with no backing
// contact row (a draft the user has not sent into yet) survives a full
// reconcile that mentions nobody.
func TestReconcileSparesDraftConversations(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil)

	if err := db.UpsertThread(&store.Thread{ID: bob, Variant: store.ThreadContact, ShouldBeVisible: true}); err != nil {
		t.Fatal(err)
	}

	if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{}); err != nil {
		t.Fatal(err)
	}

	th, err := db.GetThread(bob)
	if err != nil {
		t.Fatal(err)
	}
	if th == nil {
		t.Fatal("draft conversation was pruned")
	}
}

func TestReconcileIgnoresOwnEntry(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil)

	if _, err := r.ReconcileContacts(testOwner, map[string]ContactSnapshot{
		testOwner: contactSnap("Me", 100),
		alice:     contactSnap("Alice", 100),
	}); err != nil {
		t.Fatal(err)
	}

	c, _ := db.GetContact(testOwner)
	if c != nil {
		t.Error("self entry must never become a contact row")
	}
	c, _ = db.GetContact(alice)
	if c == nil {
		t.Error("other entries must still apply")
	}
}
