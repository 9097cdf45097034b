package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"chatdock/internal/clock"
)

type fixture struct {
	name    string
	folders FolderRepository
	threads ThreadRepository
}

// fixtures opens every backend so each contract test runs against all of
// them: sqlite on a temp file, the in-memory store, and redis via miniredis.
func fixtures(t *testing.T) []fixture {
	t.Helper()
	clk := testClock(t)

	store, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "app.db"), true, "")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return []fixture{
		{"sqlite", NewSQLFolderRepo(store, clk), NewSQLThreadRepo(store, clk)},
		{"memory", NewMemoryFolderRepo(clk), NewMemoryThreadRepo(clk)},
		{"redis", NewRedisFolderRepo(rdb, "test:", clk), NewRedisThreadRepo(rdb, "test:", clk)},
	}
}

func testClock(t *testing.T) *clock.Clock {
	t.Helper()
	clk, err := clock.New("UTC")
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}
	return clk
}

var alice = Identity{UserID: "user-alice", Email: "alice@example.com"}
var bob = Identity{UserID: "user-bob", Email: "bob@example.com"}

func TestFolderCreateAndGet(t *testing.T) {
	for _, fx := range fixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			created, err := fx.folders.Create(ctx, FolderCreate{Name: "Test Folder", Type: "chat"}, alice)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if created.ID == "" {
				t.Fatal("expected server-assigned id")
			}
			if created.CreatedAt == "" {
				t.Fatal("expected createdAt to be set")
			}
			if created.UserID != alice.UserID || created.Email != alice.Email {
				t.Fatalf("expected identity from caller, got userId=%q email=%q", created.UserID, created.Email)
			}
			if created.Version != 1 {
				t.Fatalf("expected version 1, got %d", created.Version)
			}

			got, err := fx.folders.Get(ctx, created.ID)
			if err != nil {
				t.Fatalf("get after create: %v", err)
			}
			if got != created {
				t.Fatalf("read-after-write mismatch: got %+v want %+v", got, created)
			}
		})
	}
}

func TestFolderCreateAssignsUniqueIDs(t *testing.T) {
	for _, fx := range fixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			seen := make(map[string]bool)
			for i := 0; i < 20; i++ {
				f, err := fx.folders.Create(ctx, FolderCreate{Name: "f", Type: "chat"}, alice)
				if err != nil {
					t.Fatalf("create #%d: %v", i, err)
				}
				if seen[f.ID] {
					t.Fatalf("duplicate id %q", f.ID)
				}
				seen[f.ID] = true
			}
		})
	}
}

func TestFolderUpdateMergesPresentFields(t *testing.T) {
	for _, fx := range fixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			created, err := fx.folders.Create(ctx, FolderCreate{Name: "Inbox", Type: "chat"}, alice)
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			name := "Archive"
			updated, err := fx.folders.Update(ctx, created.ID, FolderUpdate{Name: &name})
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if updated.Name != "Archive" {
				t.Fatalf("expected name updated, got %q", updated.Name)
			}
			if updated.Type != "chat" {
				t.Fatalf("absent field must keep its value, got type=%q", updated.Type)
			}
			if updated.CreatedAt != created.CreatedAt {
				t.Fatal("createdAt must be immutable")
			}
			if updated.UserID != created.UserID || updated.Email != created.Email {
				t.Fatal("identity fields must be immutable")
			}
			if updated.Version != 2 {
				t.Fatalf("expected version 2 after update, got %d", updated.Version)
			}

			// A present zero value still overwrites.
			empty := ""
			updated, err = fx.folders.Update(ctx, created.ID, FolderUpdate{Type: &empty})
			if err != nil {
				t.Fatalf("update with zero value: %v", err)
			}
			if updated.Type != "" {
				t.Fatalf("explicit empty string must overwrite, got %q", updated.Type)
			}
			if updated.Name != "Archive" {
				t.Fatalf("unrelated field changed: %q", updated.Name)
			}

			got, err := fx.folders.Get(ctx, created.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got != updated {
				t.Fatalf("persisted record mismatch: got %+v want %+v", got, updated)
			}
		})
	}
}

func TestFolderUpdateVersionToken(t *testing.T) {
	for _, fx := range fixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			created, err := fx.folders.Create(ctx, FolderCreate{Name: "Inbox", Type: "chat"}, alice)
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			name := "A"
			good := created.Version
			if _, err := fx.folders.Update(ctx, created.ID, FolderUpdate{Name: &name, Version: &good}); err != nil {
				t.Fatalf("update with current version: %v", err)
			}

			stale := created.Version // now outdated
			if _, err := fx.folders.Update(ctx, created.ID, FolderUpdate{Name: &name, Version: &stale}); !errors.Is(err, ErrConflict) {
				t.Fatalf("expected ErrConflict for stale version, got %v", err)
			}

			// No token keeps last-writer-wins behavior.
			if _, err := fx.folders.Update(ctx, created.ID, FolderUpdate{Name: &name}); err != nil {
				t.Fatalf("update without version: %v", err)
			}
		})
	}
}

func TestFolderNotFound(t *testing.T) {
	for _, fx := range fixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := fx.folders.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("get: expected ErrNotFound, got %v", err)
			}
			name := "x"
			if _, err := fx.folders.Update(ctx, "missing", FolderUpdate{Name: &name}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("update: expected ErrNotFound, got %v", err)
			}
			if err := fx.folders.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("delete: expected ErrNotFound, got %v", err)
			}

			created, err := fx.folders.Create(ctx, FolderCreate{Name: "f", Type: "chat"}, alice)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := fx.folders.Delete(ctx, created.ID); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := fx.folders.Get(ctx, created.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("get after delete: expected ErrNotFound, got %v", err)
			}
			if err := fx.folders.Delete(ctx, created.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("second delete: expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestFolderListScopedToUser(t *testing.T) {
	for _, fx := range fixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			var mine []Folder
			for _, name := range []string{"a", "b", "c"} {
				f, err := fx.folders.Create(ctx, FolderCreate{Name: name, Type: "chat"}, alice)
				if err != nil {
					t.Fatalf("create: %v", err)
				}
				mine = append(mine, f)
			}
			if _, err := fx.folders.Create(ctx, FolderCreate{Name: "other", Type: "chat"}, bob); err != nil {
				t.Fatalf("create for other user: %v", err)
			}

			listed, err := fx.folders.List(ctx, alice.UserID, 50, 0)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(listed) != 3 {
				t.Fatalf("expected 3 folders, got %d", len(listed))
			}
			for i, f := range listed {
				if f.UserID != alice.UserID {
					t.Fatalf("foreign record leaked: %+v", f)
				}
				if f != mine[i] {
					t.Fatalf("expected insertion order, got %q at %d", f.Name, i)
				}
			}

			window, err := fx.folders.List(ctx, alice.UserID, 1, 1)
			if err != nil {
				t.Fatalf("list window: %v", err)
			}
			if len(window) != 1 || window[0].Name != "b" {
				t.Fatalf("expected window [b], got %+v", window)
			}

			empty, err := fx.folders.List(ctx, "user-nobody", 50, 0)
			if err != nil {
				t.Fatalf("list for unknown user: %v", err)
			}
			if len(empty) != 0 {
				t.Fatalf("expected empty sequence, got %d records", len(empty))
			}
		})
	}
}

func TestThreadCreateDefaults(t *testing.T) {
	for _, fx := range fixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			created, err := fx.threads.Create(ctx, ChatThreadCreate{
				Name:        "T",
				Prompt:      "P",
				Temperature: 0.7,
				FolderID:    "folder-1",
			}, alice)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if created.IsShared {
				t.Fatal("isShared must default to false")
			}
			if created.SharedAt != nil {
				t.Fatalf("sharedAt must default to absent, got %q", *created.SharedAt)
			}
			if created.FolderID != "folder-1" {
				t.Fatalf("folderId not kept: %q", created.FolderID)
			}

			got, err := fx.threads.Get(ctx, created.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Name != created.Name || got.Prompt != created.Prompt || got.Temperature != created.Temperature {
				t.Fatalf("read-after-write mismatch: %+v vs %+v", got, created)
			}
			if got.SharedAt != nil {
				t.Fatal("sharedAt must stay absent after round-trip")
			}
		})
	}
}

func TestThreadUpdateZeroValues(t *testing.T) {
	for _, fx := range fixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			shared := true
			created, err := fx.threads.Create(ctx, ChatThreadCreate{
				Name:        "T",
				Prompt:      "P",
				Temperature: 0.7,
				FolderID:    "folder-1",
				IsShared:    shared,
			}, alice)
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			zero := 0.0
			off := false
			empty := ""
			updated, err := fx.threads.Update(ctx, created.ID, ChatThreadUpdate{
				Temperature: &zero,
				IsShared:    &off,
				Prompt:      &empty,
			})
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if updated.Temperature != 0.0 {
				t.Fatalf("temperature 0.0 must overwrite, got %v", updated.Temperature)
			}
			if updated.IsShared {
				t.Fatal("isShared false must overwrite")
			}
			if updated.Prompt != "" {
				t.Fatalf("empty prompt must overwrite, got %q", updated.Prompt)
			}
			if updated.Name != "T" || updated.FolderID != "folder-1" {
				t.Fatal("absent fields must keep their values")
			}
			if updated.CreatedAt != created.CreatedAt {
				t.Fatal("createdAt must be immutable")
			}
		})
	}
}

func TestThreadListFolderFilter(t *testing.T) {
	for _, fx := range fixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			mk := func(folderID string, ident Identity) {
				t.Helper()
				_, err := fx.threads.Create(ctx, ChatThreadCreate{
					Name:        "t",
					Prompt:      "p",
					Temperature: 0.5,
					FolderID:    folderID,
				}, ident)
				if err != nil {
					t.Fatalf("create thread: %v", err)
				}
			}
			mk("f1", alice)
			mk("f1", alice)
			mk("f2", alice)
			mk("f1", bob)

			inF1, err := fx.threads.List(ctx, alice.UserID, "f1", 50, 0)
			if err != nil {
				t.Fatalf("list f1: %v", err)
			}
			if len(inF1) != 2 {
				t.Fatalf("expected 2 threads in f1, got %d", len(inF1))
			}
			for _, th := range inF1 {
				if th.FolderID != "f1" || th.UserID != alice.UserID {
					t.Fatalf("filter violated: %+v", th)
				}
			}

			all, err := fx.threads.List(ctx, alice.UserID, "", 50, 0)
			if err != nil {
				t.Fatalf("list all: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("expected union of 3 threads, got %d", len(all))
			}
		})
	}
}

// Racing updates that all carry the same version token must produce exactly
// one winner; everyone else observes the token as stale.
func TestConcurrentTokenUpdatesSingleWinner(t *testing.T) {
	for _, fx := range fixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			created, err := fx.folders.Create(ctx, FolderCreate{Name: "Inbox", Type: "chat"}, alice)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			token := created.Version

			const racers = 8
			errs := make(chan error, racers)
			var wg sync.WaitGroup
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					name := fmt.Sprintf("racer-%d", i)
					_, err := fx.folders.Update(ctx, created.ID, FolderUpdate{Name: &name, Version: &token})
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)

			winners, conflicts := 0, 0
			for err := range errs {
				switch {
				case err == nil:
					winners++
				case errors.Is(err, ErrConflict):
					conflicts++
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if winners != 1 || conflicts != racers-1 {
				t.Fatalf("expected 1 winner and %d conflicts, got %d and %d", racers-1, winners, conflicts)
			}

			got, err := fx.folders.Get(ctx, created.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Version != 2 {
				t.Fatalf("expected version 2 after the race, got %d", got.Version)
			}
		})
	}
}

// Tokenless updates keep last-writer-wins semantics, but none of them may be
// dropped: the version must count every write.
func TestConcurrentUpdatesWithoutTokenAllApply(t *testing.T) {
	for _, fx := range fixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			created, err := fx.folders.Create(ctx, FolderCreate{Name: "Inbox", Type: "chat"}, alice)
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			const writers = 8
			errs := make(chan error, writers)
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					name := fmt.Sprintf("writer-%d", i)
					_, err := fx.folders.Update(ctx, created.ID, FolderUpdate{Name: &name})
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatalf("tokenless update: %v", err)
				}
			}

			got, err := fx.folders.Get(ctx, created.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Version != writers+1 {
				t.Fatalf("expected version %d after %d updates, got %d", writers+1, writers, got.Version)
			}
		})
	}
}

func TestSQLiteDSNAddsPragmas(t *testing.T) {
	plain := sqliteDSN("file:data/app.db")
	if plain != "file:data/app.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)" {
		t.Fatalf("unexpected dsn %q", plain)
	}
	withQuery := sqliteDSN("file:data/app.db?cache=shared")
	if withQuery != "file:data/app.db?cache=shared&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)" {
		t.Fatalf("unexpected dsn %q", withQuery)
	}
}

type brokenResultDriver struct{}

func (brokenResultDriver) Open(string) (driver.Conn, error) { return brokenResultConn{}, nil }

type brokenResultConn struct{}

func (brokenResultConn) Prepare(string) (driver.Stmt, error) { return brokenResultStmt{}, nil }
func (brokenResultConn) Close() error                        { return nil }
func (brokenResultConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions unsupported")
}

type brokenResultStmt struct{}

func (brokenResultStmt) Close() error  { return nil }
func (brokenResultStmt) NumInput() int { return -1 }
func (brokenResultStmt) Exec([]driver.Value) (driver.Result, error) {
	return brokenResult{}, nil
}
func (brokenResultStmt) Query([]driver.Value) (driver.Rows, error) {
	return nil, errors.New("queries unsupported")
}

type brokenResult struct{}

func (brokenResult) LastInsertId() (int64, error) { return 0, nil }
func (brokenResult) RowsAffected() (int64, error) {
	return 0, errors.New("rows affected unsupported")
}

// A driver that cannot report affected rows must surface an error, never a
// silent success or a bogus ErrNotFound.
func TestRowsAffectedErrorSurfaces(t *testing.T) {
	sql.Register("broken-result", brokenResultDriver{})
	db, err := sql.Open("broken-result", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	store := &Store{db: db, driver: "sqlite", sql: sq.StatementBuilder.PlaceholderFormat(sq.Question)}

	ctx := context.Background()
	if err := store.deleteDoc(ctx, "folders", "x"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("delete: expected a wrapped driver error, got %v", err)
	}
	if _, err := store.updateDoc(ctx, "folders", "x", "{}", testClock(t).Now(), 1); err == nil {
		t.Fatal("update: expected a wrapped driver error")
	}
}

// A row whose doc is not valid JSON is a storage fault, not a missing record.
func TestCorruptDocIsUnrecoverable(t *testing.T) {
	clk := testClock(t)
	ctx := context.Background()
	store, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "app.db"), true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	_, err = store.DB().ExecContext(ctx,
		"INSERT INTO folders (id, doc, created_at, updated_at) VALUES ('bad', 'not-json', '2026-01-01', '2026-01-01')")
	if err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}

	repo := NewSQLFolderRepo(store, clk)
	_, err = repo.Get(ctx, "bad")
	if err == nil {
		t.Fatal("expected decode failure")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("corrupt doc must not map to ErrNotFound")
	}
}
