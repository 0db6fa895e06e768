package ws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"meeting-server/domain"
	"meeting-server/domain/event"
	"meeting-server/errors"
	"meeting-server/runtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxMessageSize,
	WriteBufferSize: maxMessageSize,
	// The front door sits behind the product's own proxy; origin policy
	// belongs there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server owns the websocket endpoint and dispatches every inbound frame
// to the room worker of the meeting the connection belongs to.
type Server struct {
	log        *slog.Logger
	rooms      *runtime.Rooms
	bufferSize int
	validate   *validator.Validate
}

func NewServer(log *slog.Logger, rooms *runtime.Rooms, bufferSize int) *Server {
	return &Server{
		log:        log,
		rooms:      rooms,
		bufferSize: bufferSize,
		validate:   validator.New(),
	}
}

// HandleWS upgrades the connection and joins the meeting named in the
// query string. Identity is assumed already validated upstream; only
// its shape is checked here, before any room state is touched.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	roomID := domain.RoomID(r.URL.Query().Get("id"))
	identity := domain.Identity{
		ID:     r.URL.Query().Get("participantId"),
		UserID: r.URL.Query().Get("userId"),
		Name:   r.URL.Query().Get("name"),
		Email:  r.URL.Query().Get("email"),
	}
	if roomID == "" {
		http.Error(w, "missing meeting id", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(identity); err != nil {
		http.Error(w, "invalid participant identity", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(s.log, conn, s.bufferSize)

	worker, err := s.join(r.Context(), roomID, client, identity)
	if err != nil {
		s.reject(conn, err)
		return
	}

	// The init snapshot is already queued on the client; the pump
	// flushes it before anything broadcast afterwards.
	go client.WritePump()
	s.log.Info(fmt.Sprintf("Participant %s connected to room %s", identity.ID, roomID))

	s.readLoop(conn, worker, client, identity.ID)

	// Exactly one leave per connection, whichever way the socket died.
	// The worker resolves the participant from the connection itself.
	client.Shutdown()
	if err := worker.Disconnect(context.Background(), client); err != nil {
		s.log.Warn("Leave failed", "participant", identity.ID, "error", err)
	}
	s.log.Info(fmt.Sprintf("Participant %s disconnected from room %s", identity.ID, roomID))
}

// join admits the client, retrying once when it raced the eviction of a
// dying worker under the same meeting ID.
func (s *Server) join(ctx context.Context, roomID domain.RoomID, client *Client,
	identity domain.Identity) (*runtime.RoomWorker, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		worker := s.rooms.Get(roomID)
		if _, err := worker.Join(ctx, client, identity); err == nil {
			return worker, nil
		} else {
			lastErr = err
			if !stderrors.Is(err, errors.ErrRoomClosed) {
				break
			}
		}
	}
	return nil, lastErr
}

// reject answers a refused join on the raw connection. The write pump
// never started, so a direct write is safe here.
func (s *Server) reject(conn *websocket.Conn, reason error) {
	frame, err := encodeEvent(event.Rejection{Reason: reason.Error()})
	if err == nil {
		conn.WriteJSON(frame)
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason.Error()))
	conn.Close()
}

// readLoop pumps inbound frames to the room worker until the connection
// dies. A malformed frame is logged and skipped, it never disconnects
// the sender or crashes the room.
func (s *Server) readLoop(conn *websocket.Conn, worker *runtime.RoomWorker, client *Client, participantID string) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("Read failed", "participant", participantID, "error", err)
			}
			return
		}
		s.dispatch(worker, client, participantID, frame)
	}
}

// dispatch maps one inbound frame onto a room operation. Rejections of
// the requester's own operation go back to that requester only;
// expected races (stale targets) are dropped silently.
func (s *Server) dispatch(worker *runtime.RoomWorker, client *Client, participantID string, frame Frame) {
	ctx := context.Background()

	switch frame.Type {
	case frameInit:
		var payload initPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			s.logMalformed(participantID, frame.Type, err)
			return
		}
		hostID := payload.HostID
		if hostID == "" {
			hostID = participantID
		}
		var patch domain.SettingsPatch
		if payload.Settings != nil {
			patch = *payload.Settings
		}
		if err := worker.Init(ctx, hostID, patch); err != nil {
			s.log.Warn("Init failed", "participant", participantID, "error", err)
		}

	case frameSignal:
		var envelope domain.SignalEnvelope
		if err := json.Unmarshal(frame.Payload, &envelope); err != nil {
			s.logMalformed(participantID, frame.Type, err)
			return
		}
		if err := worker.Signal(ctx, participantID, envelope); err != nil {
			s.log.Debug("Signal dropped", "participant", participantID, "error", err)
		}

	case frameChat:
		var payload chatPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			s.logMalformed(participantID, frame.Type, err)
			return
		}
		kind := payload.Kind
		if kind == "" {
			kind = domain.MessageText
		}
		_, err := worker.PostChat(ctx, participantID, runtime.ChatInput{
			Body:     payload.Body,
			Kind:     kind,
			FileURL:  payload.FileURL,
			FileName: payload.FileName,
			FileSize: payload.FileSize,
		})
		s.answer(client, participantID, err)

	case frameUpdateState:
		var delta domain.StateDelta
		if err := json.Unmarshal(frame.Payload, &delta); err != nil {
			s.logMalformed(participantID, frame.Type, err)
			return
		}
		err := worker.UpdateState(ctx, participantID, delta)
		if stderrors.Is(err, errors.ErrNotFound) {
			// Raced a leave; expected, nothing to tell anyone.
			return
		}
		s.answer(client, participantID, err)

	case frameReaction:
		var payload reactionPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			s.logMalformed(participantID, frame.Type, err)
			return
		}
		if err := worker.React(ctx, participantID, payload.Emoji); err != nil {
			s.log.Debug("Reaction dropped", "participant", participantID, "error", err)
		}

	case frameStartRecording:
		s.answer(client, participantID, worker.SetRecording(ctx, participantID, true))

	case frameStopRecording:
		s.answer(client, participantID, worker.SetRecording(ctx, participantID, false))

	default:
		s.log.Warn(fmt.Sprintf("Unknown frame type %q from %s", frame.Type, participantID))
	}
}

// answer surfaces an operation failure to the requester only.
func (s *Server) answer(client *Client, participantID string, err error) {
	if err == nil {
		return
	}
	s.log.Debug("Operation refused", "participant", participantID, "error", err)
	if consumeErr := client.Consume(context.Background(), event.Rejection{Reason: err.Error()}); consumeErr != nil {
		s.log.Warn("Failed to surface rejection", "participant", participantID, "error", consumeErr)
	}
}

func (s *Server) logMalformed(participantID, frameType string, err error) {
	s.log.Warn(fmt.Sprintf("Malformed %s frame from %s", frameType, participantID), "error", err)
}
