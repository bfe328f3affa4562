package history

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ts := time.UnixMilli(time.Now().UnixMilli())
	in := Entry{
		Timestamp: ts,
		Duration:  2500 * time.Millisecond,
		Text:      "remember to buy milk",
		AudioPath: "/tmp/golisten/recording.wav",
		Backend:   "whispercli",
		Metadata:  map[string]string{"session": "abc", "words": "4"},
	}
	id, err := s.Save(ctx, in)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != id || !got.Timestamp.Equal(ts) || got.Duration != in.Duration {
		t.Errorf("got %+v", got)
	}
	if got.Text != in.Text || got.AudioPath != in.AudioPath || got.Backend != in.Backend || got.Processed != "" {
		t.Errorf("got %+v", got)
	}
	if got.Metadata["session"] != "abc" || got.Metadata["words"] != "4" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.Latest(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Latest on empty db: err = %v, want ErrNotFound", err)
	}
}

func TestRecentAndLatest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		if _, err := s.Save(ctx, Entry{Text: text}); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Text != "three" || recent[1].Text != "two" {
		t.Errorf("Recent = %+v", recent)
	}

	latest, err := s.Latest(ctx)
	if err != nil || latest.Text != "three" {
		t.Errorf("Latest = %+v, %v", latest, err)
	}
}

func TestSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, text := range []string{"meeting notes for monday", "grocery list", "monday standup"} {
		if _, err := s.Save(ctx, Entry{Text: text}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"monday", []string{"monday standup", "meeting notes for monday"}},
		{"grocery", []string{"grocery list"}},
		{"tuesday", nil},
		{`"quoted`, nil},
		{"", []string{"monday standup", "grocery list", "meeting notes for monday"}},
	}
	for _, tt := range tests {
		got, err := s.Search(ctx, tt.query, 10)
		if err != nil {
			t.Fatalf("Search(%q) failed: %v", tt.query, err)
		}
		if len(got) != len(tt.want) {
			t.Errorf("Search(%q) = %d results, want %d", tt.query, len(got), len(tt.want))
			continue
		}
		for i := range got {
			if got[i].Text != tt.want[i] {
				t.Errorf("Search(%q)[%d] = %q, want %q", tt.query, i, got[i].Text, tt.want[i])
			}
		}
	}
}

func TestUpdateProcessed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, _ := s.Save(ctx, Entry{Text: "um so like send the report"})

	if err := s.UpdateProcessed(ctx, id, "Send the report."); err != nil {
		t.Fatalf("UpdateProcessed failed: %v", err)
	}
	got, _ := s.Get(ctx, id)
	if got.Processed != "Send the report." {
		t.Errorf("Processed = %q", got.Processed)
	}

	// Cleaned-up text is searchable too.
	found, err := s.Search(ctx, "report", 5)
	if err != nil || len(found) != 1 {
		t.Errorf("Search after update = %v, %v", found, err)
	}

	if err := s.UpdateProcessed(ctx, id+100, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = s.Save(context.Background(), Entry{Text: "persisted"})
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != currentSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, currentSchemaVersion)
	}
	if e, err := s.Latest(context.Background()); err != nil || e.Text != "persisted" {
		t.Errorf("Latest = %+v, %v", e, err)
	}
}

func TestMigratesVersionOneDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if err := migrateV1(db); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO transcriptions (timestamp, text) VALUES (1, 'old entry')`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	got, err := s.Search(context.Background(), "old", 5)
	if err != nil || len(got) != 1 || got[0].Metadata != nil {
		t.Errorf("Search = %+v, %v", got, err)
	}
}
