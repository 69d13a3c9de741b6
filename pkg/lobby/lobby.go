// Package lobby routes every inbound event to the lobby, room and chat stores
// and decides which connections hear about the result.
package lobby

import (
	"context"
	"sync"
	"time"

	"github.com/JJ-Intelligence/duel-lobby/pkg/chat"
	"github.com/JJ-Intelligence/duel-lobby/pkg/comms"
	"github.com/JJ-Intelligence/duel-lobby/pkg/room"
	"go.uber.org/zap"
)

// Transport delivers messages to connections. Implementations must not block
// and must not call back into the Lobby.
type Transport interface {
	// Send delivers to a single connection.
	Send(connID string, message comms.Message)

	// Publish delivers to every connection subscribed to group.
	Publish(group string, message comms.Message)

	// Broadcast delivers to every connection except those listed.
	Broadcast(message comms.Message, except ...string)

	Subscribe(connID, group string)
	Unsubscribe(connID, group string)

	// Dissolve unsubscribes every connection from group.
	Dissolve(group string)
}

type request struct {
	connID string
	event  Event
}

// Lobby owns the lobby, room and chat stores. Each event is handled under a
// single lock, so the stores always change together.
type Lobby struct {
	Log       *zap.Logger
	transport Transport
	now       func() time.Time

	mu       sync.Mutex
	players  *Store
	rooms    *room.Store
	messages *chat.Log

	// requests stores a channel of incoming events for Run
	requests chan request
	stopped  chan struct{}
}

func New(log *zap.Logger, transport Transport, rooms *room.Store) *Lobby {
	return &Lobby{
		Log:       log,
		transport: transport,
		now:       time.Now,
		players:   NewStore(),
		rooms:     rooms,
		messages:  chat.NewLog(),
		requests:  make(chan request),
		stopped:   make(chan struct{}),
	}
}

// Run handles submitted events one at a time until ctx is done.
func (l *Lobby) Run(ctx context.Context) {
	defer close(l.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-l.requests:
			l.Handle(req.connID, req.event)
		}
	}
}

// Submit queues an event for Run. Events from one caller are handled in the
// order submitted. It reports false once Run has returned.
func (l *Lobby) Submit(connID string, event Event) bool {
	select {
	case l.requests <- request{connID: connID, event: event}:
		return true
	case <-l.stopped:
		return false
	}
}

// HandleMessage decodes a client message and handles it, answering the sender
// with an error frame when the message is malformed.
func (l *Lobby) HandleMessage(connID string, message comms.Message) {
	event, err := Decode(message)
	if err != nil {
		l.reject(connID, message.Type, err)
		return
	}
	l.Handle(connID, event)
}

// SubmitMessage is HandleMessage for use with Run.
func (l *Lobby) SubmitMessage(connID string, message comms.Message) bool {
	event, err := Decode(message)
	if err != nil {
		l.reject(connID, message.Type, err)
		return true
	}
	return l.Submit(connID, event)
}

func (l *Lobby) reject(connID, messageType string, err error) {
	l.Log.Warn("Rejected malformed message",
		zap.String("conn", connID),
		zap.String("type", messageType),
		zap.Error(err))
	l.transport.Send(connID, comms.ToError(err.Error()))
}

// Handle runs the handler for event atomically with respect to every other
// handler. A panicking handler is logged and does not take the Lobby down.
func (l *Lobby) Handle(connID string, event Event) {
	if event == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			l.Log.Error("Recovered from handler panic",
				zap.String("conn", connID),
				zap.Stringer("kind", event.Kind()),
				zap.Any("panic", r))
		}
	}()

	switch e := event.(type) {
	case ConnectEvent:
		l.Log.Info("Client connected", zap.String("conn", connID))
	case DisconnectEvent:
		l.disconnect(connID)
	case JoinLobbyEvent:
		l.joinLobby(connID, e)
	case JoinRoomEvent:
		l.joinRoom(connID, e)
	case LeaveRoomEvent:
		l.leaveRoom(connID, e)
	case CreateRoomEvent:
		l.createRoom(connID, e)
	case DeleteRoomEvent:
		l.deleteRoom(connID, e)
	case SendMessageEvent:
		l.sendMessage(e)
	case RelayEvent:
		l.relay(connID, e)
	case EndGameEvent:
		l.endGame(e)
	case ListPlayersEvent:
		l.transport.Send(connID, comms.ToMessage(PlayersType, l.players.Usernames()))
	case ListRoomsEvent:
		l.transport.Send(connID, comms.ToMessage(RoomsType, l.rooms.Snapshot()))
	case ListMessagesEvent:
		l.transport.Send(connID, comms.ToMessage(MessagesType, l.messages.List()))
	default:
		l.Log.Warn("Unhandled event", zap.String("conn", connID), zap.Stringer("kind", event.Kind()))
	}
}

func (l *Lobby) disconnect(connID string) {
	if entry, ok := l.players.Remove(connID); ok {
		l.Log.Info("Client disconnected from lobby",
			zap.String("conn", connID), zap.String("username", entry.Username))
		l.transport.Broadcast(comms.ToMessage(PlayerListType, PlayerListDelta{
			Add:      false,
			Username: entry.Username,
		}))
		l.broadcastRooms()
		l.clearMessagesIfLobbyEmptied(true)
		return
	}

	roomID, ok := l.rooms.FindByMember(connID)
	if !ok {
		l.Log.Info("Client disconnected, but was not in the lobby or a room",
			zap.String("conn", connID))
		return
	}

	result := l.rooms.Leave(roomID, connID)
	l.transport.Unsubscribe(connID, roomID)
	l.Log.Info("Client disconnected from room",
		zap.String("conn", connID),
		zap.String("room", roomID),
		zap.Stringer("result", result))
	if result == room.RoomBecameEmpty {
		l.broadcastRooms()
	}
}

func (l *Lobby) joinLobby(connID string, e JoinLobbyEvent) {
	if roomID, seated := l.rooms.FindByMember(connID); seated {
		l.Log.Info("Ignoring lobby announce from seated client",
			zap.String("conn", connID), zap.String("room", roomID))
		return
	}

	if displaced, ok := l.players.Announce(connID, e.Username); ok {
		l.transport.Broadcast(comms.ToMessage(PlayerListType, PlayerListDelta{
			Add:      false,
			Username: displaced.Username,
		}))
	}
	l.Log.Info("Player joined lobby",
		zap.String("conn", connID), zap.String("username", e.Username))

	l.broadcastRooms()
	l.transport.Broadcast(comms.ToMessage(PlayerListType, PlayerListDelta{
		Add:      true,
		Username: e.Username,
	}), connID)
}

func (l *Lobby) joinRoom(connID string, e JoinRoomEvent) {
	if roomID, seated := l.rooms.FindByMember(connID); seated {
		l.Log.Info("Ignoring join from seated client",
			zap.String("conn", connID), zap.String("room", roomID))
		return
	}

	result := l.rooms.Join(e.Room, room.Member{ConnID: connID, Username: e.Username})
	switch result {
	case room.Joined:
		l.transport.Subscribe(connID, e.Room)
		l.transport.Publish(e.Room, comms.ToMessage(RoomJoinedType, RoomJoinedBroadcast{
			ClientID: connID,
			Username: e.Username,
			Room:     e.Room,
		}))

		wasPopulated := !l.players.IsEmpty()
		l.players.Remove(connID)
		l.Log.Info("Player joined room",
			zap.String("conn", connID),
			zap.String("username", e.Username),
			zap.String("room", e.Room))
		l.broadcastRooms()
		l.clearMessagesIfLobbyEmptied(wasPopulated)

	case room.RoomFull, room.JoinRoomNotFound:
		l.Log.Info("Join dropped",
			zap.String("conn", connID),
			zap.String("room", e.Room),
			zap.Stringer("result", result))
	}
}

func (l *Lobby) leaveRoom(connID string, e LeaveRoomEvent) {
	result := l.rooms.Leave(e.Room, connID)
	switch result {
	case room.Left, room.RoomBecameEmpty:
		l.transport.Unsubscribe(connID, e.Room)
		if result == room.RoomBecameEmpty {
			l.broadcastRooms()
		}
	}
	l.Log.Info("Leave room",
		zap.String("conn", connID),
		zap.String("room", e.Room),
		zap.Stringer("result", result))
}

func (l *Lobby) createRoom(connID string, e CreateRoomEvent) {
	roomID, err := l.rooms.Create(e.Username, connID, e.Name)
	if err != nil {
		l.Log.Info("Create room rejected", zap.String("conn", connID), zap.Error(err))
		l.transport.Send(connID, comms.ToError(err.Error()))
		return
	}
	l.Log.Info("Room created",
		zap.String("conn", connID),
		zap.String("owner", e.Username),
		zap.String("room", roomID))
	l.broadcastRooms()
}

func (l *Lobby) deleteRoom(connID string, e DeleteRoomEvent) {
	deleted, err := l.rooms.Delete(e.Room)
	if err != nil {
		l.Log.Info("Delete room rejected", zap.String("conn", connID), zap.Error(err))
		l.transport.Send(connID, comms.ToError(err.Error()))
		return
	}
	if !deleted {
		l.Log.Info("Delete of unknown room", zap.String("conn", connID), zap.String("room", e.Room))
		return
	}
	l.transport.Dissolve(e.Room)
	l.Log.Info("Room deleted", zap.String("conn", connID), zap.String("room", e.Room))
	l.broadcastRooms()
}

func (l *Lobby) sendMessage(e SendMessageEvent) {
	message := l.messages.Append(e.Username, e.Text, l.now())
	l.transport.Broadcast(comms.ToMessage(ChatMessageType, message))
}

func (l *Lobby) relay(connID string, e RelayEvent) {
	var messageType string
	switch e.Kind() {
	case KindGameMove:
		messageType = GameMoveType
	case KindHit:
		messageType = HitType
	case KindOpponentLife:
		messageType = OpponentLifeType
	default:
		l.Log.Warn("Relay of non-gameplay event", zap.String("conn", connID), zap.Stringer("kind", e.Kind()))
		return
	}
	l.transport.Send(e.OpponentID, comms.ToMessage(messageType, e.Payload))
}

func (l *Lobby) endGame(e EndGameEvent) {
	if _, ok := l.rooms.Get(e.RoomID); !ok {
		l.Log.Info("End game for unknown room", zap.String("room", e.RoomID))
		return
	}

	l.transport.Publish(e.RoomID, comms.ToMessage(EndGameType, e.Payload))
	l.rooms.Reset(e.RoomID)
	l.transport.Dissolve(e.RoomID)
	l.Log.Info("Game ended",
		zap.String("room", e.RoomID), zap.String("winner", e.Winner))
	l.broadcastRooms()
}

func (l *Lobby) broadcastRooms() {
	l.transport.Broadcast(comms.ToMessage(RoomListType, l.rooms.Snapshot()))
}

// clearMessagesIfLobbyEmptied clears the chat log when the lobby has just gone
// from populated to empty.
func (l *Lobby) clearMessagesIfLobbyEmptied(wasPopulated bool) {
	if wasPopulated && l.players.IsEmpty() && l.messages.Len() > 0 {
		l.messages.Clear()
		l.Log.Info("Lobby emptied, cleared chat history")
	}
}

// Players lists the lobby usernames in arrival order.
func (l *Lobby) Players() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.players.Usernames()
}

func (l *Lobby) Rooms() []room.Room {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rooms.Snapshot()
}

func (l *Lobby) Messages() []chat.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.messages.List()
}
