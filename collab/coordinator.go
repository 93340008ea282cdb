package collab

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"sketchboard-server/core"
)

// Coordinator drives a board's collaborative session: it admits connections
// to rooms, routes live events between members and tears membership down on
// disconnect. Live traffic never touches the store; durable board state only
// changes through the save endpoint.
type Coordinator struct {
	registry *Registry
	relay    *Relay
	boards   core.BoardStore
}

func NewCoordinator(registry *Registry, boards core.BoardStore) *Coordinator {
	return &Coordinator{
		registry: registry,
		relay:    NewRelay(registry),
		boards:   boards,
	}
}

// Join admits the connection to the room after checking the saved board's
// access list. A room whose board was never saved is open to anyone; once a
// save has bound an owner, only the owner and collaborators get in. On
// success the joiner learns whether it is alone ("first-in-room"), the
// existing members learn about the joiner ("new-user") and everyone gets the
// fresh membership list ("room-user-change").
func (co *Coordinator) Join(ctx context.Context, c Conn, roomID, identity string) error {
	log := logrus.WithFields(logrus.Fields{
		"room_id":  roomID,
		"conn_id":  c.ID(),
		"identity": identity,
	})

	board, err := co.boards.Get(ctx, roomID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		// Never saved, the room is open.
	case err != nil:
		log.WithError(err).Error("Board lookup failed during join")
		return err
	case !board.CanRead(identity):
		log.Warn("Join denied")
		return core.ErrUnauthorized
	}

	co.registry.Join(roomID, c)
	members := co.registry.MemberIDs(roomID)
	if len(members) <= 1 {
		if err := c.Send("first-in-room"); err != nil {
			log.WithError(err).Debug("first-in-room send failed")
		}
	} else {
		co.relay.Reliable(roomID, c.ID(), "new-user", c.ID())
	}
	co.relay.Announce(roomID, "room-user-change", members)
	log.WithField("members", len(members)).Debug("Connection joined room")
	return nil
}

// DrawingUpdate relays a sender's element changes to everyone else in the
// room on the reliable path. This is the live view only; the durable record
// is untouched until a client saves.
func (co *Coordinator) DrawingUpdate(roomID, senderID string, elements any) {
	co.relay.Reliable(roomID, senderID, "receive-drawing", elements)
}

// PointerMove relays cursor movement to everyone else in the room on the
// volatile path. A stale position is worthless, so dropped deliveries are
// fine.
func (co *Coordinator) PointerMove(roomID, senderID string, payload any) {
	co.relay.Volatile(roomID, senderID, "receive-mouse", payload)
}

// Disconnect removes the connection from every room it joined and tells the
// remaining members who is left. Returns the rooms the connection was in.
func (co *Coordinator) Disconnect(connID string) []string {
	left := co.registry.Remove(connID)
	for _, roomID := range left {
		members := co.registry.MemberIDs(roomID)
		if len(members) > 0 {
			co.relay.Announce(roomID, "room-user-change", members)
		}
	}
	if len(left) > 0 {
		logrus.WithFields(logrus.Fields{
			"conn_id": connID,
			"rooms":   left,
		}).Debug("Connection removed from rooms")
	}
	return left
}
