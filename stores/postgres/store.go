package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"sketchboard-server/core"
)

type pgStore struct {
	pool *pgxpool.Pool
}

// NewStore connects to Postgres and prepares the schema.
func NewStore(connString string) *pgStore {
	ctx := context.Background()

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		log.Fatalf("failed to parse postgres connection string: %v", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to create postgres pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS boards (
			room_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			elements JSONB,
			owner TEXT NOT NULL,
			last_modified TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS board_collaborators (
			room_id TEXT NOT NULL,
			identity TEXT NOT NULL,
			PRIMARY KEY (room_id, identity)
		)`,
		`CREATE TABLE IF NOT EXISTS board_shares (
			id TEXT PRIMARY KEY,
			elements JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			log.Fatalf("failed to prepare postgres schema: %v", err)
		}
	}

	return &pgStore{pool: pool}
}

const collaboratorList = `COALESCE(
	(SELECT array_agg(c.identity ORDER BY c.identity) FROM board_collaborators c WHERE c.room_id = b.room_id),
	'{}')`

func (s *pgStore) List(ctx context.Context, identity string) ([]*core.Board, error) {
	query := `
	SELECT b.room_id, b.name, b.owner, b.last_modified, ` + collaboratorList + `
	FROM boards b
	WHERE b.owner = $1
	   OR EXISTS (SELECT 1 FROM board_collaborators c WHERE c.room_id = b.room_id AND c.identity = $1)
	ORDER BY b.last_modified DESC, b.room_id ASC`

	rows, err := s.pool.Query(ctx, query, identity)
	if err != nil {
		logrus.WithField("identity", identity).WithError(err).Error("Failed to list boards")
		return nil, err
	}
	defer rows.Close()

	boards := []*core.Board{}
	for rows.Next() {
		var board core.Board
		if err := rows.Scan(&board.RoomID, &board.Name, &board.Owner, &board.LastModified, &board.Collaborators); err != nil {
			return nil, err
		}
		boards = append(boards, &board)
	}
	return boards, rows.Err()
}

func (s *pgStore) Get(ctx context.Context, roomID string) (*core.Board, error) {
	query := `
	SELECT b.name, b.elements, b.owner, b.last_modified, ` + collaboratorList + `
	FROM boards b
	WHERE b.room_id = $1`

	board := core.Board{RoomID: roomID}
	var elements []byte
	err := s.pool.QueryRow(ctx, query, roomID).
		Scan(&board.Name, &elements, &board.Owner, &board.LastModified, &board.Collaborators)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
	return &board, nil
}

func (s *pgStore) Save(ctx context.Context, roomID, name string, elements []json.RawMessage, identity string) (*core.SaveResult, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room id is required")
	}
	log := logrus.WithField("room_id", roomID)

	data, err := json.Marshal(elements)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// One upsert; owner stays out of the update set so it is written exactly
	// once, and xmax = 0 distinguishes the freshly inserted row.
	var created bool
	err = tx.QueryRow(ctx, `
	INSERT INTO boards (room_id, name, elements, owner, last_modified)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (room_id) DO UPDATE SET
		name = EXCLUDED.name,
		elements = EXCLUDED.elements,
		last_modified = EXCLUDED.last_modified
	RETURNING (xmax = 0)`, roomID, name, data, identity, now).Scan(&created)
	if err != nil {
		log.WithError(err).Error("Failed to save board")
		return nil, err
	}
	if created && identity == "" {
		return nil, fmt.Errorf("identity is required to create a board")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.WithField("created", created).Info("Board saved")
	return &core.SaveResult{Created: created, LastModified: now}, nil
}

func (s *pgStore) Invite(ctx context.Context, roomID, identity string) error {
	if roomID == "" || identity == "" {
		return fmt.Errorf("room id and identity are required")
	}

	// The WHERE EXISTS guard keeps an invite from minting collaborator rows
	// for boards that were never saved.
	_, err := s.pool.Exec(ctx, `
	INSERT INTO board_collaborators (room_id, identity)
	SELECT $1, $2
	WHERE EXISTS (SELECT 1 FROM boards WHERE room_id = $1)
	ON CONFLICT (room_id, identity) DO NOTHING`, roomID, identity)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"room_id":  roomID,
			"identity": identity,
		}).WithError(err).Error("Failed to add collaborator")
		return err
	}
	return nil
}

func (s *pgStore) Delete(ctx context.Context, roomID string) (int64, error) {
	log := logrus.WithField("room_id", roomID)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM board_collaborators WHERE room_id = $1", roomID); err != nil {
		log.WithError(err).Error("Failed to delete collaborators")
		return 0, err
	}
	ct, err := tx.Exec(ctx, "DELETE FROM boards WHERE room_id = $1", roomID)
	if err != nil {
		log.WithError(err).Error("Failed to delete board")
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	affected := ct.RowsAffected()
	if affected > 0 {
		log.Info("Board deleted")
	}
	return affected, nil
}

func (s *pgStore) CreateShare(ctx context.Context, elements []json.RawMessage) (string, error) {
	id := ulid.Make().String()
	data, err := json.Marshal(elements)
	if err != nil {
		return "", err
	}

	_, err = s.pool.Exec(ctx, "INSERT INTO board_shares (id, elements, created_at) VALUES ($1, $2, $3)",
		id, data, time.Now().UTC())
	if err != nil {
		logrus.WithField("share_id", id).WithError(err).Error("Failed to create share snapshot")
		return "", err
	}
	logrus.WithField("share_id", id).Info("Share snapshot created")
	return id, nil
}

func (s *pgStore) GetShare(ctx context.Context, id string) (*core.ShareSnapshot, error) {
	share := core.ShareSnapshot{ID: id}
	var elements []byte
	err := s.pool.QueryRow(ctx, "SELECT elements, created_at FROM board_shares WHERE id = $1", id).
		Scan(&elements, &share.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
