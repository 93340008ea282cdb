package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"sketchboard-server/core"
)

// fakeBoardStore serves Get from a map and counts writes so tests can
// assert that live traffic never persists anything.
type fakeBoardStore struct {
	boards    map[string]*core.Board
	getErr    error
	saveCalls int
}

func newFakeBoardStore() *fakeBoardStore {
	return &fakeBoardStore{boards: make(map[string]*core.Board)}
}

func (f *fakeBoardStore) List(ctx context.Context, identity string) ([]*core.Board, error) {
	return nil, nil
}

func (f *fakeBoardStore) Get(ctx context.Context, roomID string) (*core.Board, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	board, ok := f.boards[roomID]
	if !ok {
		return nil, fmt.Errorf("board %s: %w", roomID, core.ErrNotFound)
	}
	return board, nil
}

func (f *fakeBoardStore) Save(ctx context.Context, roomID, name string, elements []json.RawMessage, identity string) (*core.SaveResult, error) {
	f.saveCalls++
	return &core.SaveResult{}, nil
}

func (f *fakeBoardStore) Invite(ctx context.Context, roomID, identity string) error {
	return nil
}

func (f *fakeBoardStore) Delete(ctx context.Context, roomID string) (int64, error) {
	return 0, nil
}

func TestCoordinatorJoin_UnsavedRoomOpen(t *testing.T) {
	registry := NewRegistry()
	coordinator := NewCoordinator(registry, newFakeBoardStore())
	conn := newFakeConn("a")

	// No board record exists, so even an anonymous connection gets in.
	if err := coordinator.Join(context.Background(), conn, "r1", ""); err != nil {
		t.Fatalf("Join() failed for an unsaved room: %v", err)
	}

	if got := len(conn.eventsNamed("first-in-room")); got != 1 {
		t.Errorf("Lone joiner should receive first-in-room once, got %d", got)
	}
	changes := conn.eventsNamed("room-user-change")
	if len(changes) != 1 {
		t.Fatalf("room-user-change count mismatch: got %d, want 1", len(changes))
	}
	if !reflect.DeepEqual(changes[0].args[0], []string{"a"}) {
		t.Errorf("room-user-change payload mismatch: got %v, want [a]", changes[0].args[0])
	}
}

func TestCoordinatorJoin_SecondJoinerPresence(t *testing.T) {
	registry := NewRegistry()
	coordinator := NewCoordinator(registry, newFakeBoardStore())
	a := newFakeConn("a")
	b := newFakeConn("b")

	if err := coordinator.Join(context.Background(), a, "r1", ""); err != nil {
		t.Fatalf("Join() failed for a: %v", err)
	}
	if err := coordinator.Join(context.Background(), b, "r1", ""); err != nil {
		t.Fatalf("Join() failed for b: %v", err)
	}

	newUsers := a.eventsNamed("new-user")
	if len(newUsers) != 1 {
		t.Fatalf("Existing member should learn about the joiner once, got %d", len(newUsers))
	}
	if newUsers[0].args[0] != "b" {
		t.Errorf("new-user payload mismatch: got %v, want b", newUsers[0].args[0])
	}
	if got := len(b.eventsNamed("first-in-room")); got != 0 {
		t.Errorf("Second joiner must not receive first-in-room, got %d", got)
	}
	if got := len(b.eventsNamed("new-user")); got != 0 {
		t.Errorf("Joiner must not be told about itself, got %d", got)
	}

	aChanges := a.eventsNamed("room-user-change")
	if len(aChanges) != 2 {
		t.Fatalf("room-user-change count mismatch for a: got %d, want 2", len(aChanges))
	}
	if !reflect.DeepEqual(aChanges[1].args[0], []string{"a", "b"}) {
		t.Errorf("room-user-change payload mismatch: got %v, want [a b]", aChanges[1].args[0])
	}
	bChanges := b.eventsNamed("room-user-change")
	if len(bChanges) != 1 || !reflect.DeepEqual(bChanges[0].args[0], []string{"a", "b"}) {
		t.Errorf("Joiner should see the full member list, got %v", bChanges)
	}
}

func TestCoordinatorJoin_DeniesStranger(t *testing.T) {
	store := newFakeBoardStore()
	store.boards["r1"] = &core.Board{
		RoomID:        "r1",
		Owner:         "a@x.com",
		Collaborators: []string{"b@x.com"},
	}
	registry := NewRegistry()
	coordinator := NewCoordinator(registry, store)
	conn := newFakeConn("s1")

	err := coordinator.Join(context.Background(), conn, "r1", "c@x.com")
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("Join() error mismatch: got %v, want ErrUnauthorized", err)
	}

	if got := len(registry.Members("r1")); got != 0 {
		t.Errorf("Denied connection must not be registered, got %d members", got)
	}
	if got := len(conn.events()); got != 0 {
		t.Errorf("Denied connection should receive no events, got %d", got)
	}
}

func TestCoordinatorJoin_AdmitsOwnerAndCollaborator(t *testing.T) {
	store := newFakeBoardStore()
	store.boards["r1"] = &core.Board{
		RoomID:        "r1",
		Owner:         "a@x.com",
		Collaborators: []string{"b@x.com"},
	}
	registry := NewRegistry()
	coordinator := NewCoordinator(registry, store)

	if err := coordinator.Join(context.Background(), newFakeConn("s1"), "r1", "a@x.com"); err != nil {
		t.Errorf("Join() should admit the owner: %v", err)
	}
	if err := coordinator.Join(context.Background(), newFakeConn("s2"), "r1", "b@x.com"); err != nil {
		t.Errorf("Join() should admit a collaborator: %v", err)
	}
	if got := len(registry.Members("r1")); got != 2 {
		t.Errorf("Member count mismatch: got %d, want 2", got)
	}
}

func TestCoordinatorJoin_AnonymousDeniedOnSavedBoard(t *testing.T) {
	store := newFakeBoardStore()
	store.boards["r1"] = &core.Board{RoomID: "r1", Owner: "a@x.com"}
	registry := NewRegistry()
	coordinator := NewCoordinator(registry, store)

	err := coordinator.Join(context.Background(), newFakeConn("s1"), "r1", "")
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("Join() error mismatch for anonymous on saved board: got %v, want ErrUnauthorized", err)
	}
}

func TestCoordinatorJoin_OwnerlessBoardLocked(t *testing.T) {
	// A record without an owner admits nobody at all.
	store := newFakeBoardStore()
	store.boards["r1"] = &core.Board{RoomID: "r1", Collaborators: []string{"b@x.com"}}
	registry := NewRegistry()
	coordinator := NewCoordinator(registry, store)

	for _, identity := range []string{"", "b@x.com", "a@x.com"} {
		err := coordinator.Join(context.Background(), newFakeConn("s-"+identity), "r1", identity)
		if !errors.Is(err, core.ErrUnauthorized) {
			t.Errorf("Join(%q) error mismatch: got %v, want ErrUnauthorized", identity, err)
		}
	}
}

func TestCoordinatorJoin_StoreError(t *testing.T) {
	store := newFakeBoardStore()
	store.getErr = errors.New("database unreachable")
	registry := NewRegistry()
	coordinator := NewCoordinator(registry, store)
	conn := newFakeConn("s1")

	err := coordinator.Join(context.Background(), conn, "r1", "a@x.com")
	if err == nil {
		t.Fatal("Join() should fail when the board lookup fails")
	}
	if errors.Is(err, core.ErrUnauthorized) {
		t.Error("A store fault must not masquerade as an access denial")
	}
	if got := len(registry.Members("r1")); got != 0 {
		t.Errorf("Connection must not be registered on a failed join, got %d", got)
	}
}

func TestDrawingUpdate_RelaysToOthersOnly(t *testing.T) {
	store := newFakeBoardStore()
	registry := NewRegistry()
	coordinator := NewCoordinator(registry, store)
	a := newFakeConn("a")
	b := newFakeConn("b")
	coordinator.Join(context.Background(), a, "r1", "")
	coordinator.Join(context.Background(), b, "r1", "")

	elements := []any{map[string]any{"id": "el1", "type": "rectangle"}}
	coordinator.DrawingUpdate("r1", "a", elements)

	got := b.eventsNamed("receive-drawing")
	if len(got) != 1 {
		t.Fatalf("Recipient delivery count mismatch: got %d, want 1", len(got))
	}
	if !reflect.DeepEqual(got[0].args[0], elements) {
		t.Errorf("receive-drawing payload mismatch: got %v, want %v", got[0].args[0], elements)
	}
	if got := len(a.eventsNamed("receive-drawing")); got != 0 {
		t.Errorf("Sender must not receive its own update, got %d", got)
	}
	if store.saveCalls != 0 {
		t.Errorf("Live updates must never persist, got %d save calls", store.saveCalls)
	}
}

func TestDrawingUpdate_RoomsAreIsolated(t *testing.T) {
	registry := NewRegistry()
	coordinator := NewCoordinator(registry, newFakeBoardStore())
	a := newFakeConn("a")
	b := newFakeConn("b")
	other := newFakeConn("other")
	coordinator.Join(context.Background(), a, "r1", "")
	coordinator.Join(context.Background(), b, "r1", "")
	coordinator.Join(context.Background(), other, "r2", "")

	coordinator.DrawingUpdate("r1", "a", "payload")

	if got := len(other.eventsNamed("receive-drawing")); got != 0 {
		t.Errorf("Update must stay inside its room, got %d deliveries in r2", got)
	}
}

func TestPointerMove_UsesVolatilePath(t *testing.T) {
	registry := NewRegistry()
	coordinator := NewCoordinator(registry, newFakeBoardStore())
	a := newFakeConn("a")
	b := newFakeConn("b")
	coordinator.Join(context.Background(), a, "r1", "")
	coordinator.Join(context.Background(), b, "r1", "")

	payload := map[string]any{"pointer": map[string]any{"x": 1.0, "y": 2.0}, "socketId": "a"}
	coordinator.PointerMove("r1", "a", payload)

	select {
	case e := <-b.volatile:
		if e.event != "receive-mouse" {
			t.Errorf("Volatile event mismatch: got %q, want receive-mouse", e.event)
		}
		if !reflect.DeepEqual(e.args[0], payload) {
			t.Errorf("receive-mouse payload mismatch: got %v, want %v", e.args[0], payload)
		}
	default:
		t.Fatal("PointerMove() did not deliver on the volatile path")
	}
	if got := len(b.eventsNamed("receive-mouse")); got != 0 {
		t.Errorf("Pointer traffic must not use the reliable path, got %d", got)
	}
}

func TestDisconnect_AnnouncesRemaining(t *testing.T) {
	registry := NewRegistry()
	coordinator := NewCoordinator(registry, newFakeBoardStore())
	a := newFakeConn("a")
	b := newFakeConn("b")
	coordinator.Join(context.Background(), a, "r1", "")
	coordinator.Join(context.Background(), b, "r1", "")

	left := coordinator.Disconnect("a")

	if !reflect.DeepEqual(left, []string{"r1"}) {
		t.Errorf("Disconnect() rooms mismatch: got %v, want [r1]", left)
	}
	changes := b.eventsNamed("room-user-change")
	last := changes[len(changes)-1]
	if !reflect.DeepEqual(last.args[0], []string{"b"}) {
		t.Errorf("Remaining member list mismatch: got %v, want [b]", last.args[0])
	}
	if got := len(registry.Members("r1")); got != 1 {
		t.Errorf("Member count mismatch after disconnect: got %d, want 1", got)
	}
}

func TestDisconnect_UnknownConnection(t *testing.T) {
	registry := NewRegistry()
	coordinator := NewCoordinator(registry, newFakeBoardStore())

	if left := coordinator.Disconnect("ghost"); left != nil {
		t.Errorf("Disconnect() of an unknown connection should return nil, got %v", left)
	}
}
