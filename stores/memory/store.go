package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"sketchboard-server/core"
)

// boardStore keeps all records in process memory. It is the default backend
// and the reference behavior the other backends must match; everything is
// lost on restart.
type boardStore struct {
	mu     sync.RWMutex
	boards map[string]core.Board
	shares map[string]core.ShareSnapshot
}

// NewStore creates a new in-memory store.
func NewStore() *boardStore {
	return &boardStore{
		boards: make(map[string]core.Board),
		shares: make(map[string]core.ShareSnapshot),
	}
}

func (s *boardStore) List(ctx context.Context, identity string) ([]*core.Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	boards := []*core.Board{}
	for _, board := range s.boards {
		if !board.CanRead(identity) {
			continue
		}
		// Copy without the element payload to keep the list view light.
		b := board
		b.Elements = nil
		boards = append(boards, &b)
	}
	sort.Slice(boards, func(i, j int) bool {
		if boards[i].LastModified.Equal(boards[j].LastModified) {
			return boards[i].RoomID < boards[j].RoomID
		}
		return boards[i].LastModified.After(boards[j].LastModified)
	})
	return boards, nil
}

func (s *boardStore) Get(ctx context.Context, roomID string) (*core.Board, error) {
	s.mu.RLock()
	board, ok := s.boards[roomID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("board %s: %w", roomID, core.ErrNotFound)
	}
	return &board, nil
}

func (s *boardStore) Save(ctx context.Context, roomID, name string, elements []json.RawMessage, identity string) (*core.SaveResult, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	board, exists := s.boards[roomID]
	if !exists {
		if identity == "" {
			return nil, fmt.Errorf("identity is required to create a board")
		}
		board = core.Board{
			RoomID:        roomID,
			Owner:         identity,
			Collaborators: []string{},
		}
	}
	board.Name = name
	board.Elements = elements
	board.LastModified = time.Now().UTC()
	s.boards[roomID] = board

	logrus.WithFields(logrus.Fields{
		"room_id": roomID,
		"created": !exists,
	}).Info("Board saved")
	return &core.SaveResult{Created: !exists, LastModified: board.LastModified}, nil
}

func (s *boardStore) Invite(ctx context.Context, roomID, identity string) error {
	if roomID == "" || identity == "" {
		return fmt.Errorf("room id and identity are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	board, exists := s.boards[roomID]
	if !exists {
		// Inviting to a board that was never saved changes nothing.
		return nil
	}
	for _, c := range board.Collaborators {
		if c == identity {
			return nil
		}
	}
	board.Collaborators = append(board.Collaborators, identity)
	s.boards[roomID] = board

	logrus.WithFields(logrus.Fields{
		"room_id":  roomID,
		"identity": identity,
	}).Info("Collaborator added")
	return nil
}

func (s *boardStore) Delete(ctx context.Context, roomID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.boards[roomID]; !ok {
		return 0, nil
	}
	delete(s.boards, roomID)
	logrus.WithField("room_id", roomID).Info("Board deleted")
	return 1, nil
}

func (s *boardStore) CreateShare(ctx context.Context, elements []json.RawMessage) (string, error) {
	id := ulid.Make().String()

	s.mu.Lock()
	s.shares[id] = core.ShareSnapshot{
		ID:        id,
		Elements:  elements,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"share_id":      id,
		"element_count": len(elements),
	}).Info("Share snapshot created")
	return id, nil
}

func (s *boardStore) GetShare(ctx context.Context, id string) (*core.ShareSnapshot, error) {
	s.mu.RLock()
	share, ok := s.shares[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("share %s: %w", id, core.ErrNotFound)
	}
	return &share, nil
}
