package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"sketchboard-server/core"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	boardTableStmt := `
	CREATE TABLE IF NOT EXISTS boards (
		room_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		elements BLOB,
		owner TEXT NOT NULL,
		last_modified DATETIME NOT NULL
	);`
	if _, err = db.Exec(boardTableStmt); err != nil {
		log.Fatalf("failed to create boards table: %v", err)
	}

	collaboratorTableStmt := `
	CREATE TABLE IF NOT EXISTS board_collaborators (
		room_id TEXT NOT NULL,
		identity TEXT NOT NULL,
		PRIMARY KEY (room_id, identity)
	);`
	if _, err = db.Exec(collaboratorTableStmt); err != nil {
		log.Fatalf("failed to create board_collaborators table: %v", err)
	}

	shareTableStmt := `
	CREATE TABLE IF NOT EXISTS board_shares (
		id TEXT PRIMARY KEY,
		elements BLOB,
		created_at DATETIME NOT NULL
	);`
	if _, err = db.Exec(shareTableStmt); err != nil {
		log.Fatalf("failed to create board_shares table: %v", err)
	}

	return &sqliteStore{db}
}

// collaboratorList is the group_concat subquery used wherever a board row is
// read together with its collaborator set.
const collaboratorList = `(SELECT group_concat(identity) FROM board_collaborators c WHERE c.room_id = b.room_id)`

func splitCollaborators(joined sql.NullString) []string {
	if !joined.Valid || joined.String == "" {
		return []string{}
	}
	collaborators := strings.Split(joined.String, ",")
	sort.Strings(collaborators)
	return collaborators
}

func (s *sqliteStore) List(ctx context.Context, identity string) ([]*core.Board, error) {
	query := `
	SELECT b.room_id, b.name, b.owner, b.last_modified, ` + collaboratorList + `
	FROM boards b
	WHERE b.owner = ?
	   OR EXISTS (SELECT 1 FROM board_collaborators c WHERE c.room_id = b.room_id AND c.identity = ?)
	ORDER BY b.last_modified DESC, b.room_id ASC`

	rows, err := s.db.QueryContext(ctx, query, identity, identity)
	if err != nil {
		logrus.WithField("identity", identity).WithError(err).Error("Failed to list boards")
		return nil, err
	}
	defer rows.Close()

	boards := []*core.Board{}
	for rows.Next() {
		var board core.Board
		var collaborators sql.NullString
		if err := rows.Scan(&board.RoomID, &board.Name, &board.Owner, &board.LastModified, &collaborators); err != nil {
			return nil, err
		}
		board.Collaborators = splitCollaborators(collaborators)
		boards = append(boards, &board)
	}
	return boards, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, roomID string) (*core.Board, error) {
	query := `
	SELECT b.name, b.elements, b.owner, b.last_modified, ` + collaboratorList + `
	FROM boards b
	WHERE b.room_id = ?`

	board := core.Board{RoomID: roomID}
	var elements []byte
	var collaborators sql.NullString
	err := s.db.QueryRowContext(ctx, query, roomID).Scan(&board.Name, &elements, &board.Owner, &board.LastModified, &collaborators)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("board %s: %w", roomID, core.ErrNotFound)
		}
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to retrieve board")
		return nil, err
	}
	if len(elements) > 0 {
		if err := json.Unmarshal(elements, &board.Elements); err != nil {
			return nil, fmt.Errorf("corrupt elements for board %s: %w", roomID, err)
		}
	}
	board.Collaborators = splitCollaborators(collaborators)
	return &board, nil
}

func (s *sqliteStore) Save(ctx context.Context, roomID, name string, elements []json.RawMessage, identity string) (*core.SaveResult, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room id is required")
	}
	log := logrus.WithField("room_id", roomID)

	data, err := json.Marshal(elements)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// The conditional insert decides creation atomically; owner is only ever
	// written here and never by the update below.
	res, err := tx.ExecContext(ctx, `
	INSERT INTO boards (room_id, name, elements, owner, last_modified)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(room_id) DO NOTHING`, roomID, name, data, identity, now)
	if err != nil {
		log.WithError(err).Error("Failed to insert board")
		return nil, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	created := inserted == 1

	if created && identity == "" {
		return nil, fmt.Errorf("identity is required to create a board")
	}
	if !created {
		if _, err := tx.ExecContext(ctx, `
		UPDATE boards SET name = ?, elements = ?, last_modified = ? WHERE room_id = ?`,
			name, data, now, roomID); err != nil {
			log.WithError(err).Error("Failed to update board")
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	log.WithField("created", created).Info("Board saved")
	return &core.SaveResult{Created: created, LastModified: now}, nil
}

func (s *sqliteStore) Invite(ctx context.Context, roomID, identity string) error {
	if roomID == "" || identity == "" {
		return fmt.Errorf("room id and identity are required")
	}

	// The WHERE EXISTS guard keeps an invite from minting collaborator rows
	// for boards that were never saved.
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO board_collaborators (room_id, identity)
	SELECT ?, ?
	WHERE EXISTS (SELECT 1 FROM boards WHERE room_id = ?)
	ON CONFLICT(room_id, identity) DO NOTHING`, roomID, identity, roomID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"room_id":  roomID,
			"identity": identity,
		}).WithError(err).Error("Failed to add collaborator")
		return err
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, roomID string) (int64, error) {
	log := logrus.WithField("room_id", roomID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM board_collaborators WHERE room_id = ?", roomID); err != nil {
		log.WithError(err).Error("Failed to delete collaborators")
		return 0, err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM boards WHERE room_id = ?", roomID)
	if err != nil {
		log.WithError(err).Error("Failed to delete board")
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	if affected > 0 {
		log.Info("Board deleted")
	}
	return affected, nil
}

func (s *sqliteStore) CreateShare(ctx context.Context, elements []json.RawMessage) (string, error) {
	id := ulid.Make().String()
	data, err := json.Marshal(elements)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, "INSERT INTO board_shares (id, elements, created_at) VALUES (?, ?, ?)",
		id, data, time.Now().UTC())
	if err != nil {
		logrus.WithField("share_id", id).WithError(err).Error("Failed to create share snapshot")
		return "", err
	}
	logrus.WithField("share_id", id).Info("Share snapshot created")
	return id, nil
}

func (s *sqliteStore) GetShare(ctx context.Context, id string) (*core.ShareSnapshot, error) {
	share := core.ShareSnapshot{ID: id}
	var elements []byte
	err := s.db.QueryRowContext(ctx, "SELECT elements, created_at FROM board_shares WHERE id = ?", id).
		Scan(&elements, &share.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("share %s: %w", id, core.ErrNotFound)
		}
		logrus.WithField("share_id", id).WithError(err).Error("Failed to retrieve share snapshot")
		return nil, err
	}
	if len(elements) > 0 {
		if err := json.Unmarshal(elements, &share.Elements); err != nil {
			return nil, fmt.Errorf("corrupt elements for share %s: %w", id, err)
		}
	}
	return &share, nil
}
