package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sketchboard-server/core"
)

func elementList(raw ...string) []json.RawMessage {
	elements := make([]json.RawMessage, 0, len(raw))
	for _, r := range raw {
		elements = append(elements, json.RawMessage(r))
	}
	return elements
}

func TestNewStore_CreatesDirectories(t *testing.T) {
	basePath := t.TempDir()
	store := NewStore(basePath)

	if store == nil {
		t.Fatal("NewStore() returned nil")
	}
	for _, dir := range []string{"boards", "shares"} {
		if _, err := os.Stat(filepath.Join(basePath, dir)); os.IsNotExist(err) {
			t.Errorf("NewStore() did not create the %s directory", dir)
		}
	}
}

func TestSave_WritesBoardFile(t *testing.T) {
	basePath := t.TempDir()
	store := NewStore(basePath)
	ctx := context.Background()

	result, err := store.Save(ctx, "r1", "My board", elementList(`{"id":"el1"}`), "a@x.com")
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if !result.Created {
		t.Error("First save should report Created")
	}

	if _, err := os.Stat(filepath.Join(basePath, "boards", "r1.json")); os.IsNotExist(err) {
		t.Error("Save() did not write the board file")
	}
}

func TestSave_OwnerImmutable(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	if _, err := store.Save(ctx, "r1", "v1", elementList(`{"id":"el1"}`), "a@x.com"); err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	result, err := store.Save(ctx, "r1", "v2", elementList(`{"id":"el2"}`), "b@x.com")
	if err != nil {
		t.Fatalf("Second save failed: %v", err)
	}
	if result.Created {
		t.Error("Second save must not report Created")
	}

	board, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if board.Owner != "a@x.com" {
		t.Errorf("Owner must survive saves by others: got %q, want %q", board.Owner, "a@x.com")
	}
	if board.Name != "v2" {
		t.Errorf("Name should be overwritten: got %q, want %q", board.Name, "v2")
	}
}

func TestSave_AnonymousCreateRejected(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	if _, err := store.Save(ctx, "r1", "name", nil, ""); err == nil {
		t.Fatal("Save() without an identity must not create a board")
	}
	if _, err := store.Get(ctx, "r1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("No record should exist after the rejected save, got %v", err)
	}
}

func TestSave_PersistsAcrossInstances(t *testing.T) {
	basePath := t.TempDir()
	ctx := context.Background()

	first := NewStore(basePath)
	if _, err := first.Save(ctx, "r1", "durable", elementList(`{"id":"el1"}`), "a@x.com"); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	second := NewStore(basePath)
	board, err := second.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get() from a fresh instance failed: %v", err)
	}
	if board.Name != "durable" || board.Owner != "a@x.com" {
		t.Errorf("Board did not survive the restart: %+v", board)
	}
	if len(board.Elements) != 1 || string(board.Elements[0]) != `{"id":"el1"}` {
		t.Errorf("Elements did not round-trip: got %v", board.Elements)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Get(context.Background(), "ghost")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Get() error mismatch: got %v, want ErrNotFound", err)
	}
}

func TestGet_RejectsPathTraversal(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Get(context.Background(), "../../etc/passwd")
	if err == nil {
		t.Fatal("Get() should reject a room id that escapes the boards directory")
	}
	if errors.Is(err, core.ErrNotFound) {
		t.Error("Traversal rejection should not read as a missing board")
	}
}

func TestList_FiltersByAccess(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	store.Save(ctx, "r1", "mine", nil, "a@x.com")
	store.Save(ctx, "r2", "theirs", nil, "b@x.com")
	store.Invite(ctx, "r2", "a@x.com")

	boards, err := store.List(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(boards) != 2 {
		t.Fatalf("List() count mismatch: got %d, want 2", len(boards))
	}

	boards, _ = store.List(ctx, "c@x.com")
	if len(boards) != 0 {
		t.Errorf("Stranger should see nothing, got %d", len(boards))
	}
}

func TestList_SkipsCorruptFiles(t *testing.T) {
	basePath := t.TempDir()
	store := NewStore(basePath)
	ctx := context.Background()

	store.Save(ctx, "good", "name", nil, "a@x.com")
	corrupt := filepath.Join(basePath, "boards", "bad.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to plant corrupt file: %v", err)
	}

	boards, err := store.List(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("List() should survive a corrupt file: %v", err)
	}
	if len(boards) != 1 || boards[0].RoomID != "good" {
		t.Errorf("List() should return the healthy board only, got %v", boards)
	}
}

func TestList_SortsByRecency(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	store.Save(ctx, "old", "old board", nil, "a@x.com")
	time.Sleep(2 * time.Millisecond)
	store.Save(ctx, "new", "new board", nil, "a@x.com")

	boards, err := store.List(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(boards) != 2 || boards[0].RoomID != "new" {
		t.Errorf("List() should order by recency, got %v", boards)
	}
}

func TestInvite_UnsavedBoardIsNoOp(t *testing.T) {
	basePath := t.TempDir()
	store := NewStore(basePath)
	ctx := context.Background()

	if err := store.Invite(ctx, "never-saved", "b@x.com"); err != nil {
		t.Fatalf("Invite() to an unsaved board should succeed quietly: %v", err)
	}
	if _, err := os.Stat(filepath.Join(basePath, "boards", "never-saved.json")); !os.IsNotExist(err) {
		t.Error("Invite must not create a board file")
	}
}

func TestInvite_Idempotent(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	store.Save(ctx, "r1", "name", nil, "a@x.com")
	store.Invite(ctx, "r1", "b@x.com")
	store.Invite(ctx, "r1", "b@x.com")

	board, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if len(board.Collaborators) != 1 || board.Collaborators[0] != "b@x.com" {
		t.Errorf("Collaborators mismatch: got %v, want [b@x.com]", board.Collaborators)
	}
}

func TestDelete_Success(t *testing.T) {
	basePath := t.TempDir()
	store := NewStore(basePath)
	ctx := context.Background()

	store.Save(ctx, "r1", "name", nil, "a@x.com")

	deleted, err := store.Delete(ctx, "r1")
	if err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Delete() count mismatch: got %d, want 1", deleted)
	}
	if _, err := os.Stat(filepath.Join(basePath, "boards", "r1.json")); !os.IsNotExist(err) {
		t.Error("Board file should be removed")
	}
}

func TestDelete_Absent(t *testing.T) {
	store := NewStore(t.TempDir())

	deleted, err := store.Delete(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Delete() of an absent board must not fail: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Delete() count mismatch: got %d, want 0", deleted)
	}
}

func TestShare_RoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := context.Background()

	elements := elementList(`{"id":"el1"}`)
	id, err := store.CreateShare(ctx, elements)
	if err != nil {
		t.Fatalf("CreateShare() failed: %v", err)
	}

	share, err := store.GetShare(ctx, id)
	if err != nil {
		t.Fatalf("GetShare() failed: %v", err)
	}
	if len(share.Elements) != 1 || string(share.Elements[0]) != `{"id":"el1"}` {
		t.Errorf("Share elements mismatch: got %v", share.Elements)
	}
	if share.CreatedAt.IsZero() {
		t.Error("Share CreatedAt should be set")
	}
}

func TestGetShare_NotFound(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.GetShare(context.Background(), "00000000000000000000000000")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetShare() error mismatch: got %v, want ErrNotFound", err)
	}
}
