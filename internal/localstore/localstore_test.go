package localstore

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/harithkavish/drivechat/internal/message"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	_ "github.com/mattn/go-sqlite3"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "store.db"), log)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMessagesRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	key := message.ThreadKey("a@x.com", "b@x.com")
	want := message.Map{
		key: {
			{From: "a@x.com", To: "b@x.com", Text: "hi", Timestamp: 1000, FromName: "A"},
			{From: "b@x.com", To: "a@x.com", Text: "yo", Timestamp: 2000},
		},
	}
	if err := db.SaveMessages(ctx, want); err != nil {
		t.Fatalf("SaveMessages() = %v", err)
	}
	if diff := cmp.Diff(want, db.Messages(ctx)); diff != "" {
		t.Errorf("Messages() mismatch (-want +got):\n%s", diff)
	}
}

func TestMessagesEmptyByDefault(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	got := db.Messages(ctx)
	if got == nil || len(got) != 0 {
		t.Errorf("Messages() on empty store = %v, want empty map", got)
	}
}

func TestMessagesMalformed(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	_, err := db.db.ExecContext(ctx,
		`INSERT INTO kv (slot, value, updated_at) VALUES ($1, $2, $3)`,
		slotMessages, `{"broken":`, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("inserting malformed value: %v", err)
	}
	got := db.Messages(ctx)
	if got == nil || len(got) != 0 {
		t.Errorf("Messages() with malformed value = %v, want empty map", got)
	}
}

func TestProfilesRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	want := map[string]message.Profile{
		"b@x.com": {Email: "b@x.com", Name: "Bee", Picture: "https://p/x.png"},
	}
	if err := db.SaveProfiles(ctx, want); err != nil {
		t.Fatalf("SaveProfiles() = %v", err)
	}
	if diff := cmp.Diff(want, db.Profiles(ctx)); diff != "" {
		t.Errorf("Profiles() mismatch (-want +got):\n%s", diff)
	}
}

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	if got := db.User(ctx); got != nil {
		t.Errorf("User() on empty store = %+v, want nil", got)
	}
	want := message.Identity{Email: "a@x.com", Name: "Ann", Picture: "https://p/a.png"}
	if err := db.SaveUser(ctx, want); err != nil {
		t.Fatalf("SaveUser() = %v", err)
	}
	got := db.User(ctx)
	if got == nil || *got != want {
		t.Errorf("User() = %+v, want %+v", got, want)
	}
	if err := db.ClearUser(ctx); err != nil {
		t.Fatalf("ClearUser() = %v", err)
	}
	if got := db.User(ctx); got != nil {
		t.Errorf("User() after clear = %+v, want nil", got)
	}
}

func TestPeerLifecycle(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	if got := db.Peer(ctx); got != "" {
		t.Errorf("Peer() on empty store = %q, want empty", got)
	}
	if err := db.SavePeer(ctx, "b@x.com"); err != nil {
		t.Fatalf("SavePeer() = %v", err)
	}
	if got := db.Peer(ctx); got != "b@x.com" {
		t.Errorf("Peer() = %q, want %q", got, "b@x.com")
	}
	if err := db.ClearPeer(ctx); err != nil {
		t.Fatalf("ClearPeer() = %v", err)
	}
	if got := db.Peer(ctx); got != "" {
		t.Errorf("Peer() after clear = %q, want empty", got)
	}
}

func TestCredentialMirror(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	if got := db.Credential(ctx); got != nil {
		t.Errorf("Credential() on empty store = %+v, want nil", got)
	}
	want := message.Credential{AccessToken: "tok", ExpiresAt: 5000}
	if err := db.SaveCredential(ctx, want); err != nil {
		t.Fatalf("SaveCredential() = %v", err)
	}
	got := db.Credential(ctx)
	if got == nil || *got != want {
		t.Errorf("Credential() = %+v, want %+v", got, want)
	}
	if err := db.ClearCredential(ctx); err != nil {
		t.Fatalf("ClearCredential() = %v", err)
	}
	if got := db.Credential(ctx); got != nil {
		t.Errorf("Credential() after clear = %+v, want nil", got)
	}
}

func TestSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	first := message.Map{"k": {{Text: "one", Timestamp: 1}}}
	second := message.Map{"k": {{Text: "one", Timestamp: 1}, {Text: "two", Timestamp: 2}}}
	if err := db.SaveMessages(ctx, first); err != nil {
		t.Fatalf("SaveMessages() = %v", err)
	}
	if err := db.SaveMessages(ctx, second); err != nil {
		t.Fatalf("SaveMessages() = %v", err)
	}
	if diff := cmp.Diff(second, db.Messages(ctx)); diff != "" {
		t.Errorf("Messages() after overwrite mismatch (-want +got):\n%s", diff)
	}
}
