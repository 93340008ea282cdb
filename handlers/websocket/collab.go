package websocket

import (
	"context"
	"errors"
	"sketchboard-server/collab"
	"sketchboard-server/core"
	"sketchboard-server/handlers/auth"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// joinTimeout bounds the board lookup a join triggers so a stalled
// store cannot wedge the socket's event handling.
const joinTimeout = 5 * time.Second

// sioConn adapts a socket.io connection to the collab.Conn seam. Emit
// hands the frame to the per-socket engine.io buffer without blocking
// the caller; the volatile flavor lets the transport drop the frame
// when the client is not keeping up.
type sioConn struct {
	socket *socketio.Socket
}

func (c *sioConn) ID() string {
	return string(c.socket.Id())
}

func (c *sioConn) Send(event string, args ...any) error {
	return c.socket.Emit(event, args...)
}

func (c *sioConn) SendVolatile(event string, args ...any) error {
	return c.socket.Volatile().Emit(event, args...)
}

// NewServer builds the socket.io server that fronts live collaboration.
// Membership lives in the coordinator's registry rather than socket.io
// rooms, so admission and fan-out decisions stay in one place.
func NewServer(coordinator *collab.Coordinator) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})
	ioo := socketio.NewServer(nil, opts)

	ioo.On("connection", func(clients ...any) {
		socket := clients[0].(*socketio.Socket)
		conn := &sioConn{socket: socket}
		// The identity is fixed at handshake time for the life of the
		// connection. No token means anonymous, which only unsaved
		// boards admit.
		identity := identityFor(socket)
		log := logrus.WithFields(logrus.Fields{
			"conn_id":  conn.ID(),
			"identity": identity,
		})
		log.Debug("Socket connected")
		socket.Emit("init-room")

		socket.On("join-room", func(datas ...any) {
			roomID, ok := stringArg(datas, 0)
			if !ok {
				log.Warn("join-room without a room id, dropping")
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
			defer cancel()
			if err := coordinator.Join(ctx, conn, roomID, identity); err != nil {
				if errors.Is(err, core.ErrUnauthorized) {
					socket.Emit("unauthorized", roomID)
				}
				return
			}
		})

		socket.On("drawing-update", func(datas ...any) {
			payload, ok := mapArg(datas, 0)
			if !ok {
				log.Debug("Malformed drawing-update, dropping")
				return
			}
			roomID, _ := payload["roomId"].(string)
			elements, hasElements := payload["elements"]
			if roomID == "" || !hasElements {
				log.Debug("drawing-update missing roomId or elements, dropping")
				return
			}
			coordinator.DrawingUpdate(roomID, conn.ID(), elements)
		})

		socket.On("mouse-move", func(datas ...any) {
			payload, ok := mapArg(datas, 0)
			if !ok {
				log.Debug("Malformed mouse-move, dropping")
				return
			}
			roomID, _ := payload["roomId"].(string)
			if roomID == "" {
				log.Debug("mouse-move missing roomId, dropping")
				return
			}
			coordinator.PointerMove(roomID, conn.ID(), map[string]any{
				"pointer":  payload["pointer"],
				"button":   payload["button"],
				"socketId": conn.ID(),
				"user":     payload["user"],
			})
		})

		socket.On("disconnecting", func(datas ...any) {
			coordinator.Disconnect(conn.ID())
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})

	return ioo
}

// identityFor extracts and verifies the handshake token. Clients send it
// in the socket.io auth object; the engine.io query string is accepted as
// a fallback. Invalid tokens downgrade the connection to anonymous.
func identityFor(socket *socketio.Socket) string {
	handshake := socket.Handshake()
	if handshake == nil {
		return ""
	}

	token := ""
	if authData, ok := handshake.Auth.(map[string]any); ok {
		token, _ = authData["token"].(string)
	}
	if token == "" {
		if values := handshake.Query["token"]; len(values) > 0 {
			token = values[0]
		}
	}
	if token == "" {
		return ""
	}

	claims, err := auth.ParseJWT(token)
	if err != nil {
		logrus.WithError(err).Debug("Rejecting handshake token")
		return ""
	}
	return claims.Identity()
}

func stringArg(datas []any, i int) (string, bool) {
	if i >= len(datas) {
		return "", false
	}
	s, ok := datas[i].(string)
	return s, ok && s != ""
}

func mapArg(datas []any, i int) (map[string]any, bool) {
	if i >= len(datas) {
		return nil, false
	}
	m, ok := datas[i].(map[string]any)
	return m, ok
}
