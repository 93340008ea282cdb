package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"sketchboard-server/core"
)

// boardDoc is the persisted shape of a board. Elements are kept as the raw
// JSON text the client sent so they round-trip byte for byte; the database
// never needs to look inside them.
type boardDoc struct {
	RoomID        string    `bson:"_id"`
	Name          string    `bson:"name"`
	Elements      string    `bson:"elements"`
	Owner         string    `bson:"owner"`
	Collaborators []string  `bson:"collaborators"`
	LastModified  time.Time `bson:"last_modified"`
}

type shareDoc struct {
	ID        string    `bson:"_id"`
	Elements  string    `bson:"elements"`
	CreatedAt time.Time `bson:"created_at"`
}

type mongoStore struct {
	boards *mongo.Collection
	shares *mongo.Collection
}

// NewStore connects to MongoDB.
func NewStore(uri, database string) *mongoStore {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		log.Fatalf("failed to connect to mongodb: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		log.Fatalf("failed to ping mongodb: %v", err)
	}

	db := client.Database(database)
	return &mongoStore{
		boards: db.Collection("boards"),
		shares: db.Collection("board_shares"),
	}
}

func (d *boardDoc) toBoard() (*core.Board, error) {
	board := &core.Board{
		RoomID:        d.RoomID,
		Name:          d.Name,
		Owner:         d.Owner,
		Collaborators: d.Collaborators,
		LastModified:  d.LastModified,
	}
	if board.Collaborators == nil {
		board.Collaborators = []string{}
	}
	if d.Elements != "" {
		if err := json.Unmarshal([]byte(d.Elements), &board.Elements); err != nil {
			return nil, fmt.Errorf("corrupt elements for board %s: %w", d.RoomID, err)
		}
	}
	return board, nil
}

func (s *mongoStore) List(ctx context.Context, identity string) ([]*core.Board, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"owner": identity},
		bson.M{"collaborators": identity},
	}}
	opts := options.Find().
		SetProjection(bson.M{"elements": 0}).
		SetSort(bson.D{{Key: "last_modified", Value: -1}, {Key: "_id", Value: 1}})

	cur, err := s.boards.Find(ctx, filter, opts)
	if err != nil {
		logrus.WithField("identity", identity).WithError(err).Error("Failed to list boards")
		return nil, err
	}
	defer cur.Close(ctx)

	boards := []*core.Board{}
	for cur.Next(ctx) {
		var doc boardDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		board, err := doc.toBoard()
		if err != nil {
			return nil, err
		}
		boards = append(boards, board)
	}
	return boards, cur.Err()
}

func (s *mongoStore) Get(ctx context.Context, roomID string) (*core.Board, error) {
	var doc boardDoc
	err := s.boards.FindOne(ctx, bson.M{"_id": roomID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("board %s: %w", roomID, core.ErrNotFound)
		}
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to retrieve board")
		return nil, err
	}
	return doc.toBoard()
}

func (s *mongoStore) Save(ctx context.Context, roomID, name string, elements []json.RawMessage, identity string) (*core.SaveResult, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room id is required")
	}
	log := logrus.WithField("room_id", roomID)

	data, err := json.Marshal(elements)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	update := bson.M{
		"$set": bson.M{
			"name":          name,
			"elements":      string(data),
			"last_modified": now,
		},
		"$setOnInsert": bson.M{
			"owner":         identity,
			"collaborators": []string{},
		},
	}
	// An anonymous save may update an existing board but never create one,
	// so upsert is enabled only when an identity is present.
	res, err := s.boards.UpdateOne(ctx, bson.M{"_id": roomID}, update,
		options.Update().SetUpsert(identity != ""))
	if err != nil {
		log.WithError(err).Error("Failed to save board")
		return nil, err
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return nil, fmt.Errorf("identity is required to create a board")
	}

	created := res.UpsertedCount > 0
	log.WithField("created", created).Info("Board saved")
	return &core.SaveResult{Created: created, LastModified: now}, nil
}

func (s *mongoStore) Invite(ctx context.Context, roomID, identity string) error {
	if roomID == "" || identity == "" {
		return fmt.Errorf("room id and identity are required")
	}

	// No upsert: inviting to a board that was never saved changes nothing.
	_, err := s.boards.UpdateOne(ctx, bson.M{"_id": roomID},
		bson.M{"$addToSet": bson.M{"collaborators": identity}})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"room_id":  roomID,
			"identity": identity,
		}).WithError(err).Error("Failed to add collaborator")
		return err
	}
	return nil
}

func (s *mongoStore) Delete(ctx context.Context, roomID string) (int64, error) {
	res, err := s.boards.DeleteOne(ctx, bson.M{"_id": roomID})
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to delete board")
		return 0, err
	}
	if res.DeletedCount > 0 {
		logrus.WithField("room_id", roomID).Info("Board deleted")
	}
	return res.DeletedCount, nil
}

func (s *mongoStore) CreateShare(ctx context.Context, elements []json.RawMessage) (string, error) {
	id := ulid.Make().String()
	data, err := json.Marshal(elements)
	if err != nil {
		return "", err
	}

	_, err = s.shares.InsertOne(ctx, shareDoc{
		ID:        id,
		Elements:  string(data),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		logrus.WithField("share_id", id).WithError(err).Error("Failed to create share snapshot")
		return "", err
	}
	logrus.WithField("share_id", id).Info("Share snapshot created")
	return id, nil
}

func (s *mongoStore) GetShare(ctx context.Context, id string) (*core.ShareSnapshot, error) {
	var doc shareDoc
	err := s.shares.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("share %s: %w", id, core.ErrNotFound)
		}
		logrus.WithField("share_id", id).WithError(err).Error("Failed to retrieve share snapshot")
		return nil, err
	}

	share := &core.ShareSnapshot{ID: doc.ID, CreatedAt: doc.CreatedAt}
	if doc.Elements != "" {
		if err := json.Unmarshal([]byte(doc.Elements), &share.Elements); err != nil {
			return nil, fmt.Errorf("corrupt elements for share %s: %w", id, err)
		}
	}
	return share, nil
}
