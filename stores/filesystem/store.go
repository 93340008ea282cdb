package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"sketchboard-server/core"
)

const (
	boardsDir = "boards"
	sharesDir = "shares"
)

// fsStore writes one JSON file per board under basePath. Save and Invite do a
// read-merge-write while holding the store lock, which stands in for the
// conditional-insert primitive a real database offers; this is only correct
// while a single server process owns basePath.
type fsStore struct {
	mu       sync.RWMutex
	basePath string
}

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) *fsStore {
	for _, dir := range []string{boardsDir, sharesDir} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			log.Fatalf("failed to create %s directory: %v", dir, err)
		}
	}
	return &fsStore{basePath: basePath}
}

// safePath resolves name to a file inside the given subdirectory, refusing
// names that would escape it. Room and share IDs come from clients.
func (s *fsStore) safePath(dir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("id is required")
	}
	base, err := filepath.Abs(filepath.Join(s.basePath, dir))
	if err != nil {
		return "", err
	}
	path, err := filepath.Abs(filepath.Join(base, name+".json"))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(path, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid path: access denied")
	}
	return path, nil
}

func (s *fsStore) readBoard(path string) (*core.Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var board core.Board
	if err := json.Unmarshal(data, &board); err != nil {
		return nil, fmt.Errorf("corrupt board file %s: %w", filepath.Base(path), err)
	}
	return &board, nil
}

func (s *fsStore) writeBoard(path string, board *core.Board) error {
	data, err := json.Marshal(board)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (s *fsStore) List(ctx context.Context, identity string) ([]*core.Board, error) {
	log := logrus.WithField("identity", identity)

	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := os.ReadDir(filepath.Join(s.basePath, boardsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []*core.Board{}, nil
		}
		log.WithError(err).Error("Failed to read boards directory")
		return nil, err
	}

	boards := []*core.Board{}
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		board, err := s.readBoard(filepath.Join(s.basePath, boardsDir, file.Name()))
		if err != nil {
			log.WithError(err).Warnf("Failed to read board file %s, skipping", file.Name())
			continue
		}
		if !board.CanRead(identity) {
			continue
		}
		board.Elements = nil
		boards = append(boards, board)
	}
	sort.Slice(boards, func(i, j int) bool {
		if boards[i].LastModified.Equal(boards[j].LastModified) {
			return boards[i].RoomID < boards[j].RoomID
		}
		return boards[i].LastModified.After(boards[j].LastModified)
	})
	return boards, nil
}

func (s *fsStore) Get(ctx context.Context, roomID string) (*core.Board, error) {
	path, err := s.safePath(boardsDir, roomID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	board, err := s.readBoard(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("board %s: %w", roomID, core.ErrNotFound)
		}
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to read board file")
		return nil, err
	}
	return board, nil
}

func (s *fsStore) Save(ctx context.Context, roomID, name string, elements []json.RawMessage, identity string) (*core.SaveResult, error) {
	path, err := s.safePath(boardsDir, roomID)
	if err != nil {
		return nil, err
	}
	log := logrus.WithField("room_id", roomID)

	s.mu.Lock()
	defer s.mu.Unlock()

	board, err := s.readBoard(path)
	created := false
	switch {
	case os.IsNotExist(err):
		if identity == "" {
			return nil, fmt.Errorf("identity is required to create a board")
		}
		board = &core.Board{
			RoomID:        roomID,
			Owner:         identity,
			Collaborators: []string{},
		}
		created = true
	case err != nil:
		log.WithError(err).Error("Failed to read board file")
		return nil, err
	}

	board.Name = name
	board.Elements = elements
	board.LastModified = time.Now().UTC()
	if err := s.writeBoard(path, board); err != nil {
		log.WithError(err).Error("Failed to write board file")
		return nil, err
	}

	log.WithField("created", created).Info("Board saved")
	return &core.SaveResult{Created: created, LastModified: board.LastModified}, nil
}

func (s *fsStore) Invite(ctx context.Context, roomID, identity string) error {
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	path, err := s.safePath(boardsDir, roomID)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"room_id": roomID, "identity": identity})

	s.mu.Lock()
	defer s.mu.Unlock()

	board, err := s.readBoard(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Inviting to a board that was never saved changes nothing.
			return nil
		}
		log.WithError(err).Error("Failed to read board file")
		return err
	}
	for _, c := range board.Collaborators {
		if c == identity {
			return nil
		}
	}
	board.Collaborators = append(board.Collaborators, identity)
	if err := s.writeBoard(path, board); err != nil {
		log.WithError(err).Error("Failed to write board file")
		return err
	}

	log.Info("Collaborator added")
	return nil
}

func (s *fsStore) Delete(ctx context.Context, roomID string) (int64, error) {
	path, err := s.safePath(boardsDir, roomID)
	if err != nil {
		return 0, err
	}
	log := logrus.WithField("room_id", roomID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		log.WithError(err).Error("Failed to delete board file")
		return 0, err
	}
	log.Info("Board deleted")
	return 1, nil
}

func (s *fsStore) CreateShare(ctx context.Context, elements []json.RawMessage) (string, error) {
	id := ulid.Make().String()
	path, err := s.safePath(sharesDir, id)
	if err != nil {
		return "", err
	}
	log := logrus.WithField("share_id", id)

	share := core.ShareSnapshot{
		ID:        id,
		Elements:  elements,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(share)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.WithError(err).Error("Failed to write share file")
		return "", err
	}

	log.Info("Share snapshot created")
	return id, nil
}

func (s *fsStore) GetShare(ctx context.Context, id string) (*core.ShareSnapshot, error) {
	path, err := s.safePath(sharesDir, id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("share %s: %w", id, core.ErrNotFound)
		}
		logrus.WithField("share_id", id).WithError(err).Error("Failed to read share file")
		return nil, err
	}
	var share core.ShareSnapshot
	if err := json.Unmarshal(data, &share); err != nil {
		return nil, fmt.Errorf("corrupt share file %s: %w", id, err)
	}
	return &share, nil
}
