package collab

import (
	"github.com/sirupsen/logrus"
)

// Relay fans events out to the members of a room. Delivery runs sequentially
// on the caller's goroutine against a membership snapshot taken at call time,
// so two events relayed by the same sender reach every shared recipient in
// the order they were relayed. Connections that join after the snapshot do
// not receive the event.
type Relay struct {
	registry *Registry
}

func NewRelay(registry *Registry) *Relay {
	return &Relay{registry: registry}
}

// Reliable delivers the event to every room member except the sender over
// the ordered path. A failing recipient is logged and skipped; the sender
// never learns about individual delivery failures.
func (rl *Relay) Reliable(roomID, senderID, event string, args ...any) {
	for _, c := range rl.registry.MembersExcept(roomID, senderID) {
		if err := c.Send(event, args...); err != nil {
			logrus.WithFields(logrus.Fields{
				"room_id": roomID,
				"conn_id": c.ID(),
				"event":   event,
			}).WithError(err).Debug("Recipient send failed, skipping")
		}
	}
}

// Volatile delivers the event to every room member except the sender over
// the lossy path. Drops are expected and not reported.
func (rl *Relay) Volatile(roomID, senderID, event string, args ...any) {
	for _, c := range rl.registry.MembersExcept(roomID, senderID) {
		if err := c.SendVolatile(event, args...); err != nil {
			logrus.WithFields(logrus.Fields{
				"room_id": roomID,
				"conn_id": c.ID(),
				"event":   event,
			}).WithError(err).Debug("Volatile send failed, skipping")
		}
	}
}

// Announce delivers the event to every member of the room, sender included.
// Used for presence updates that describe the room as a whole.
func (rl *Relay) Announce(roomID, event string, args ...any) {
	for _, c := range rl.registry.Members(roomID) {
		if err := c.Send(event, args...); err != nil {
			logrus.WithFields(logrus.Fields{
				"room_id": roomID,
				"conn_id": c.ID(),
				"event":   event,
			}).WithError(err).Debug("Announce send failed, skipping")
		}
	}
}
