package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"

	"sketchboard-server/core"
)

const (
	boardPrefix = "boards/"
	sharePrefix = "shares/"
)

// s3Store keeps one JSON object per board. S3 has no conditional-insert
// primitive at the pinned SDK version, so Save and Invite read, merge and
// rewrite the object while holding the store lock; this is only correct
// while a single server process owns the bucket keys.
type s3Store struct {
	mu       sync.Mutex
	s3Client *s3.Client
	bucket   string
}

// NewStore creates a new S3-based store.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return &s3Store{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

// objectKey prefixes id, refusing IDs that would escape the prefix.
func objectKey(prefix, id string) (string, error) {
	if id == "" || id == "." || id == ".." {
		return "", fmt.Errorf("invalid id: must not be empty or a dot directory")
	}
	if path.Base(id) != id {
		return "", fmt.Errorf("invalid id: must not be a path")
	}
	return prefix + id + ".json", nil
}

func (s *s3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("object %s: %w", key, core.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object %s: %v", key, err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (s *s3Store) getBoard(ctx context.Context, key string) (*core.Board, error) {
	data, err := s.getObject(ctx, key)
	if err != nil {
		return nil, err
	}
	var board core.Board
	if err := json.Unmarshal(data, &board); err != nil {
		return nil, fmt.Errorf("failed to unmarshal board %s: %v", key, err)
	}
	return &board, nil
}

func (s *s3Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal object %s: %v", key, err)
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %v", key, err)
	}
	return nil
}

func (s *s3Store) List(ctx context.Context, identity string) ([]*core.Board, error) {
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(boardPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %v", err)
	}

	boards := make([]*core.Board, 0, len(output.Contents))
	for _, object := range output.Contents {
		data, err := s.getObject(ctx, *object.Key)
		if err != nil {
			log.Printf("warn: failed to get object %s: %v", *object.Key, err)
			continue
		}
		var board core.Board
		if err := json.Unmarshal(data, &board); err != nil {
			log.Printf("warn: failed to unmarshal board %s: %v", *object.Key, err)
			continue
		}
		if !board.CanRead(identity) {
			continue
		}
		board.Elements = nil
		boards = append(boards, &board)
	}
	sort.Slice(boards, func(i, j int) bool {
		if boards[i].LastModified.Equal(boards[j].LastModified) {
			return boards[i].RoomID < boards[j].RoomID
		}
		return boards[i].LastModified.After(boards[j].LastModified)
	})
	return boards, nil
}

func (s *s3Store) Get(ctx context.Context, roomID string) (*core.Board, error) {
	key, err := objectKey(boardPrefix, roomID)
	if err != nil {
		return nil, err
	}
	board, err := s.getBoard(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("board %s: %w", roomID, core.ErrNotFound)
		}
		return nil, err
	}
	return board, nil
}

func (s *s3Store) Save(ctx context.Context, roomID, name string, elements []json.RawMessage, identity string) (*core.SaveResult, error) {
	key, err := objectKey(boardPrefix, roomID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	board, err := s.getBoard(ctx, key)
	created := false
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		if identity == "" {
			return nil, fmt.Errorf("identity is required to create a board")
		}
		board = &core.Board{
			RoomID:        roomID,
			Owner:         identity,
			Collaborators: []string{},
		}
		created = true
	}

	board.Name = name
	board.Elements = elements
	board.LastModified = time.Now().UTC()
	if err := s.putJSON(ctx, key, board); err != nil {
		return nil, err
	}
	return &core.SaveResult{Created: created, LastModified: board.LastModified}, nil
}

func (s *s3Store) Invite(ctx context.Context, roomID, identity string) error {
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	key, err := objectKey(boardPrefix, roomID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	board, err := s.getBoard(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// Inviting to a board that was never saved changes nothing.
			return nil
		}
		return err
	}
	for _, c := range board.Collaborators {
		if c == identity {
			return nil
		}
	}
	board.Collaborators = append(board.Collaborators, identity)
	return s.putJSON(ctx, key, board)
}

func (s *s3Store) Delete(ctx context.Context, roomID string) (int64, error) {
	key, err := objectKey(boardPrefix, roomID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// DeleteObject succeeds for absent keys, so check existence first to
	// report the affected count honestly.
	if _, err := s.getObject(ctx, key); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	_, err = s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete board %s: %v", roomID, err)
	}
	return 1, nil
}

func (s *s3Store) CreateShare(ctx context.Context, elements []json.RawMessage) (string, error) {
	id := ulid.Make().String()
	key, err := objectKey(sharePrefix, id)
	if err != nil {
		return "", err
	}

	share := core.ShareSnapshot{
		ID:        id,
		Elements:  elements,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.putJSON(ctx, key, share); err != nil {
		return "", err
	}
	return id, nil
}

func (s *s3Store) GetShare(ctx context.Context, id string) (*core.ShareSnapshot, error) {
	key, err := objectKey(sharePrefix, id)
	if err != nil {
		return nil, err
	}
	data, err := s.getObject(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("share %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	var share core.ShareSnapshot
	if err := json.Unmarshal(data, &share); err != nil {
		return nil, fmt.Errorf("failed to unmarshal share %s: %v", id, err)
	}
	return &share, nil
}
