package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st, path
}

func TestOpenAndMigrate(t *testing.T) {
	st, path := openTestStore(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}

	var version string
	if err := st.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "1" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestOpen_Reopen(t *testing.T) {
	st, path := openTestStore(t)
	_ = st.Close()

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = again.Close()
}

func TestOpen_UpgradesOlderSchema(t *testing.T) {
	st, path := openTestStore(t)
	if _, err := st.db.Exec("UPDATE metadata SET value = '0' WHERE key = 'schema_version'"); err != nil {
		t.Fatalf("lower version: %v", err)
	}
	if _, err := st.db.Exec("DROP TABLE runs"); err != nil {
		t.Fatalf("drop runs: %v", err)
	}
	_ = st.Close()

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = again.Close() }()

	var version string
	if err := again.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "1" {
		t.Errorf("schema version = %s, want 1", version)
	}
	if err := again.RecordRun(context.Background(), RunInput{Account: "alice", StartedAt: time.Now(), Cursor: -1}); err != nil {
		t.Errorf("runs table not recreated: %v", err)
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	st, path := openTestStore(t)
	if _, err := st.db.Exec("UPDATE metadata SET value = '99' WHERE key = 'schema_version'"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = st.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("expected error for newer schema")
	}
}

func TestRecordDelivery_UpsertAndHash(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)
	in := DeliveryInput{
		Account:     "alice",
		ItemID:      101,
		Stream:      "tweets",
		Subject:     "Ann (ann)",
		Text:        "hello world",
		DeliveredAt: at,
	}
	if err := st.RecordDelivery(ctx, in); err != nil {
		t.Fatalf("record: %v", err)
	}

	in.Subject = "Ann B (ann)"
	in.DeliveredAt = at.Add(time.Minute)
	if err := st.RecordDelivery(ctx, in); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := st.ListDeliveries(ctx, DeliveryFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	d := got[0]
	if d.Subject != "Ann B (ann)" {
		t.Errorf("subject = %q", d.Subject)
	}
	if d.Snippet != "hello world" {
		t.Errorf("snippet = %q", d.Snippet)
	}
	if d.TextHash != textHash("hello world") {
		t.Errorf("text hash = %q", d.TextHash)
	}
	if !d.DeliveredAt.Equal(at.Add(time.Minute)) {
		t.Errorf("delivered_at = %v", d.DeliveredAt)
	}
}

func TestRecordDelivery_ExplicitSnippetKeepsHashOfText(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	err := st.RecordDelivery(ctx, DeliveryInput{
		Account:     "alice",
		ItemID:      5,
		Stream:      "tweets",
		Text:        "token=abc",
		Snippet:     "[REDACTED]",
		DeliveredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := st.ListDeliveries(ctx, DeliveryFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got[0].Snippet != "[REDACTED]" {
		t.Errorf("snippet = %q", got[0].Snippet)
	}
	if got[0].TextHash != textHash("token=abc") {
		t.Errorf("hash should be of original text")
	}
}

func TestRecordDelivery_LongTextTruncated(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("é", 300)
	if err := st.RecordDelivery(ctx, DeliveryInput{
		Account: "alice", ItemID: 1, Stream: "tweets", Text: long, DeliveredAt: time.Now(),
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := st.ListDeliveries(ctx, DeliveryFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if n := len([]rune(got[0].Snippet)); n != snippetRunes {
		t.Errorf("snippet runes = %d, want %d", n, snippetRunes)
	}
}

func TestRecordDelivery_LongSnippetTruncated(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	text := strings.Repeat("token ", 90)
	redacted := strings.Repeat("[REDACTED] ", 90)
	if err := st.RecordDelivery(ctx, DeliveryInput{
		Account: "alice", ItemID: 1, Stream: "tweets", Text: text, Snippet: redacted, DeliveredAt: time.Now(),
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := st.ListDeliveries(ctx, DeliveryFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if n := len([]rune(got[0].Snippet)); n != snippetRunes {
		t.Errorf("snippet runes = %d, want %d", n, snippetRunes)
	}
	if !strings.HasPrefix(redacted, got[0].Snippet) {
		t.Errorf("snippet %q is not a prefix of the redacted text", got[0].Snippet)
	}
	if got[0].TextHash != textHash(text) {
		t.Errorf("hash should be of original text")
	}
}

func TestRecordDelivery_Validation(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name string
		in   DeliveryInput
	}{
		{name: "no account", in: DeliveryInput{ItemID: 1, Stream: "s", DeliveredAt: now}},
		{name: "no item", in: DeliveryInput{Account: "a", Stream: "s", DeliveredAt: now}},
		{name: "no stream", in: DeliveryInput{Account: "a", ItemID: 1, DeliveredAt: now}},
		{name: "no time", in: DeliveryInput{Account: "a", ItemID: 1, Stream: "s"}},
	}
	for _, tt := range tests {
		if err := st.RecordDelivery(ctx, tt.in); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestListDeliveries_FilterAndLimit(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 16, 8, 0, 0, 0, time.UTC)
	for i, in := range []DeliveryInput{
		{Account: "alice", ItemID: 1, Stream: "tweets", Text: "a1", DeliveredAt: base},
		{Account: "alice", ItemID: 2, Stream: "tweets", Text: "a2", DeliveredAt: base.Add(time.Minute)},
		{Account: "bob", ItemID: 3, Stream: "tweets", Text: "b3", DeliveredAt: base.Add(2 * time.Minute)},
	} {
		if err := st.RecordDelivery(ctx, in); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	all, err := st.ListDeliveries(ctx, DeliveryFilter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ItemID != 3 {
		t.Fatalf("expected 3 deliveries newest first, got %+v", all)
	}

	alice, err := st.ListDeliveries(ctx, DeliveryFilter{Account: "alice"})
	if err != nil {
		t.Fatalf("list alice: %v", err)
	}
	if len(alice) != 2 || alice[0].ItemID != 2 || alice[1].ItemID != 1 {
		t.Errorf("alice deliveries = %+v", alice)
	}

	limited, err := st.ListDeliveries(ctx, DeliveryFilter{Limit: 1})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited = %d, want 1", len(limited))
	}
}

func TestRecordAndListRuns(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 16, 8, 0, 0, 0, time.UTC)
	if err := st.RecordRun(ctx, RunInput{
		Account: "alice", StartedAt: base, FinishedAt: base.Add(time.Second),
		Bootstrap: true, Fetched: 5, Sent: 5, Cursor: 105,
	}); err != nil {
		t.Fatalf("record run 1: %v", err)
	}
	if err := st.RecordRun(ctx, RunInput{
		Account: "alice", StartedAt: base.Add(time.Hour),
		Fetched: 3, Sent: 1, Cursor: 106, Error: "Stream does not exist",
	}); err != nil {
		t.Fatalf("record run 2: %v", err)
	}

	runs, err := st.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Cursor != 106 || runs[0].Error != "Stream does not exist" || runs[0].Bootstrap {
		t.Errorf("latest run = %+v", runs[0])
	}
	if !runs[0].FinishedAt.Equal(runs[0].StartedAt) {
		t.Errorf("finished_at should default to started_at")
	}
	if !runs[1].Bootstrap || runs[1].Sent != 5 || runs[1].Error != "" {
		t.Errorf("first run = %+v", runs[1])
	}

	if err := st.RecordRun(ctx, RunInput{Account: "alice"}); err == nil {
		t.Error("expected error without started_at")
	}
}

func TestPruneOld(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -40)
	recent := time.Now().Add(-time.Hour)

	for i, in := range []DeliveryInput{
		{Account: "alice", ItemID: 1, Stream: "tweets", Text: "old", DeliveredAt: old},
		{Account: "alice", ItemID: 2, Stream: "tweets", Text: "new", DeliveredAt: recent},
	} {
		if err := st.RecordDelivery(ctx, in); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if err := st.RecordRun(ctx, RunInput{Account: "alice", StartedAt: old}); err != nil {
		t.Fatalf("record run: %v", err)
	}

	pruned, err := st.PruneOld(ctx, 30)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2", pruned)
	}

	left, err := st.ListDeliveries(ctx, DeliveryFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 1 || left[0].ItemID != 2 {
		t.Errorf("remaining = %+v", left)
	}

	if n, err := st.PruneOld(ctx, 0); err != nil || n != 0 {
		t.Errorf("prune with 0 days = %d, %v", n, err)
	}
}

func TestNilStore(t *testing.T) {
	var st *Store
	if err := st.Close(); err != nil {
		t.Errorf("close nil store: %v", err)
	}
	if err := st.RecordDelivery(context.Background(), DeliveryInput{}); err == nil {
		t.Error("expected error from nil store")
	}
}
