package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a board or share does not exist.
// Callers treat it as an empty result, not a fault.
var ErrNotFound = errors.New("not found")

// ErrUnauthorized is returned when an identity fails the board access check.
var ErrUnauthorized = errors.New("unauthorized")

type (
	// Board is the durable record of a collaborative drawing session. It is
	// keyed by the room identifier clients join over the realtime transport.
	Board struct {
		RoomID        string            `json:"roomId"`
		Name          string            `json:"name"`
		Elements      []json.RawMessage `json:"elements,omitempty"` // Full element list, omitted in list views.
		Owner         string            `json:"owner"`
		Collaborators []string          `json:"collaborators"`
		LastModified  time.Time         `json:"lastModified"`
	}

	// SaveResult reports what a Save did to the underlying record.
	SaveResult struct {
		Created      bool      `json:"created"`
		LastModified time.Time `json:"lastModified"`
	}

	// BoardStore defines the persistence layer for boards. Every Save is a
	// single atomic upsert: name, elements and lastModified are written
	// unconditionally, while owner and collaborators are set only when the
	// record is first created and never touched afterwards.
	BoardStore interface {
		// List returns metadata for all boards the identity owns or
		// collaborates on, most recently modified first. The returned Board
		// objects do not contain the Elements field to keep the response light.
		List(ctx context.Context, identity string) ([]*Board, error)

		// Get returns a single board by room ID. Returns ErrNotFound for a
		// board that was never saved.
		Get(ctx context.Context, roomID string) (*Board, error)

		// Save creates or updates the board for roomID. On first save the
		// identity becomes the immutable owner and the collaborator set starts
		// empty; later saves overwrite only name, elements and lastModified.
		Save(ctx context.Context, roomID, name string, elements []json.RawMessage, identity string) (*SaveResult, error)

		// Invite adds identity to the board's collaborator set. Adding an
		// existing collaborator is a no-op, as is inviting to a board that was
		// never saved.
		Invite(ctx context.Context, roomID, identity string) error

		// Delete removes the board and reports how many records were affected.
		// Deleting an absent board affects zero records and is not an error.
		Delete(ctx context.Context, roomID string) (int64, error)
	}

	// ShareSnapshot is an immutable, anonymously readable copy of a board's
	// elements at a point in time.
	ShareSnapshot struct {
		ID        string            `json:"id"`
		Elements  []json.RawMessage `json:"elements"`
		CreatedAt time.Time         `json:"createdAt"`
	}

	// ShareStore persists share snapshots. Snapshots are write-once.
	ShareStore interface {
		// CreateShare stores the elements under a fresh ID and returns it.
		CreateShare(ctx context.Context, elements []json.RawMessage) (string, error)

		// GetShare returns a snapshot by ID. Returns ErrNotFound when absent.
		GetShare(ctx context.Context, id string) (*ShareSnapshot, error)
	}
)
