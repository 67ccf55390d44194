package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + groups)", result.Version)
	}
}

// TestMigrateSchemaHasRequiredColumns verifies the migration creates all
// columns the reconciler and the push path depend on.
func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"upsert contact", "INSERT INTO contacts (id, is_approved, is_blocked, did_approve_me, created_at) VALUES (?, ?, ?, ?, ?)", []any{"05aa", 1, 0, 1, 1000}},
		{"upsert profile", "INSERT INTO profiles (id, name, nickname, picture_url, picture_key, name_updated_at, picture_updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)", []any{"05aa", "Alice", "Al", "http://x", "k", 1000, 1000}},
		{"upsert thread", "INSERT INTO threads (id, variant, pinned_priority, should_be_visible) VALUES (?, ?, ?, ?)", []any{"05aa", "contact", 3, 1}},
		{"upsert disappearing", "INSERT INTO disappearing_configs (thread_id, enabled, duration_seconds, type) VALUES (?, ?, ?, ?)", []any{"05aa", 1, 86400, "after_send"}},
		{"save dump", "INSERT INTO config_dumps (variant, owner_pubkey, data) VALUES (?, ?, ?)", []any{"contacts", "05me", []byte("blob")}},
		{"queue push", "INSERT INTO push_queue (client_id, variant, owner_pubkey, blob, blob_hash, seqno) VALUES (?, ?, ?, ?, ?, ?)", []any{"cid", "contacts", "05me", []byte("blob"), "hash", 1}},
		{"upsert closed group", "INSERT INTO closed_groups (thread_id, name, should_poll) VALUES (?, ?, ?)", []any{"03group", "Team", 1}},
		{"upsert group member", "INSERT INTO group_members (group_id, profile_id, role, role_status) VALUES (?, ?, ?, ?)", []any{"03group", "05aa", "admin", "accepted"}},
		{"upsert volatile state", "INSERT INTO volatile_state (thread_id, last_read_at) VALUES (?, ?)", []any{"05aa", 1000}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}
}

func TestContactUpsertRatchets(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertContact(&Contact{ID: "05aa", IsApproved: true, DidApproveMe: true, CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}

	// A later upsert cannot clear the approval flags, only set them.
	if err := db.UpsertContact(&Contact{ID: "05aa", IsApproved: false, DidApproveMe: false, IsBlocked: true, CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetContact("05aa")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("contact missing")
	}
	if !c.IsApproved || !c.DidApproveMe {
		t.Errorf("approval flags regressed: approved=%v approvedMe=%v", c.IsApproved, c.DidApproveMe)
	}
	if !c.IsBlocked {
		t.Error("is_blocked should follow the latest write")
	}
}

func TestProfileNicknameNullable(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertProfile(&Profile{ID: "05aa", Name: "Alice"}); err != nil {
		t.Fatal(err)
	}
	p, err := db.GetProfile("05aa")
	if err != nil {
		t.Fatal(err)
	}
	if p.Nickname != nil {
		t.Errorf("nickname = %v, want nil", *p.Nickname)
	}

	nick := "Al"
	if err := db.UpsertProfile(&Profile{ID: "05aa", Name: "Alice", Nickname: &nick}); err != nil {
		t.Fatal(err)
	}
	p, err = db.GetProfile("05aa")
	if err != nil {
		t.Fatal(err)
	}
	if p.Nickname == nil || *p.Nickname != "Al" {
		t.Errorf("nickname = %v, want Al", p.Nickname)
	}
}

func TestThreadUpsertAndDelete(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertThread(&Thread{ID: "05aa", Variant: ThreadContact, ShouldBeVisible: true, PinnedPriority: 2}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertDisappearing(&DisappearingConfig{ThreadID: "05aa", Enabled: true, DurationSeconds: 60, Type: DisappearAfterRead}); err != nil {
		t.Fatal(err)
	}

	th, err := db.GetThread("05aa")
	if err != nil {
		t.Fatal(err)
	}
	if th == nil || th.PinnedPriority != 2 {
		t.Fatalf("thread = %+v, want pinned_priority 2", th)
	}

	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := DeleteThreadTx(tx, "05aa"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	th, err = db.GetThread("05aa")
	if err != nil {
		t.Fatal(err)
	}
	if th != nil {
		t.Error("thread should be deleted")
	}
	dc, err := db.GetDisappearing("05aa")
	if err != nil {
		t.Fatal(err)
	}
	if dc != nil {
		t.Error("disappearing config should be deleted with the thread")
	}
}

func TestDumpRoundTrip(t *testing.T) {
	db := testDB(t)

	if err := db.SaveDump("contacts", "05me", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	// Overwrite.
	if err := db.SaveDump("contacts", "05me", []byte("v2")); err != nil {
		t.Fatal(err)
	}

	d, err := db.GetDump("contacts", "05me")
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || string(d.Data) != "v2" {
		t.Fatalf("dump = %+v, want v2", d)
	}

	// Missing dump is nil, not an error.
	d, err = db.GetDump("user_profile", "05me")
	if err != nil {
		t.Fatal(err)
	}
	if d != nil {
		t.Error("expected nil for missing dump")
	}
}

func TestPushQueueLifecycle(t *testing.T) {
	db := testDB(t)

	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := EnqueuePushTx(tx, &PushEntry{ClientID: "c1", Variant: "contacts", OwnerPubKey: "05me", Blob: []byte("b"), BlobHash: "h", Seqno: 1}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingPush()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientID != "c1" {
		t.Fatalf("pending = %+v, want one entry c1", pending)
	}

	if err := db.MarkPushSending("c1"); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingPush()
	if len(pending) != 0 {
		t.Errorf("got %d pending while sending, want 0", len(pending))
	}

	// A failure re-queues the entry for the next cycle.
	if err := db.MarkPushFailed("c1", "node unreachable"); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingPush()
	if len(pending) != 1 {
		t.Fatalf("got %d pending after failure, want 1", len(pending))
	}
	if pending[0].ErrorMessage != "node unreachable" {
		t.Errorf("error_message = %q", pending[0].ErrorMessage)
	}

	if err := db.MarkPushSending("c1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkPushSent("c1"); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingPush()
	if len(pending) != 0 {
		t.Errorf("got %d pending after sent, want 0", len(pending))
	}

	counts, err := db.PushQueueCounts()
	if err != nil {
		t.Fatal(err)
	}
	if counts["sent"] != 1 {
		t.Errorf("sent count = %d, want 1", counts["sent"])
	}
}

func TestClosedGroupAndMembers(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertClosedGroup(&ClosedGroup{ThreadID: "03g", Name: "Team", ShouldPoll: true}); err != nil {
		t.Fatal(err)
	}
	g, err := db.GetClosedGroup("03g")
	if err != nil {
		t.Fatal(err)
	}
	if g == nil || g.Name != "Team" {
		t.Fatalf("group = %+v, want Team", g)
	}

	if _, err := db.Exec(`INSERT INTO group_members (group_id, profile_id, role, role_status) VALUES ('03g', '05aa', 'admin', 'accepted')`); err != nil {
		t.Fatal(err)
	}
	members, err := db.ListGroupMembers("03g")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0].Role != RoleAdmin {
		t.Fatalf("members = %+v, want one admin", members)
	}
}
