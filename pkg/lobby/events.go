package lobby

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/JJ-Intelligence/duel-lobby/pkg/comms"
	"github.com/mitchellh/mapstructure"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrMissingField   = errors.New("missing required field")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Kind enumerates every inbound event the Lobby handles.
type Kind int

const (
	KindConnect Kind = iota
	KindDisconnect
	KindJoinLobby
	KindJoinRoom
	KindLeaveRoom
	KindCreateRoom
	KindDeleteRoom
	KindSendMessage
	KindGameMove
	KindHit
	KindOpponentLife
	KindEndGame
	KindListPlayers
	KindListRooms
	KindListMessages
)

var kindNames = [...]string{
	KindConnect:      "connect",
	KindDisconnect:   "disconnect",
	KindJoinLobby:    "join_lobby",
	KindJoinRoom:     "join_room",
	KindLeaveRoom:    "leave_room",
	KindCreateRoom:   "create_room",
	KindDeleteRoom:   "delete_room",
	KindSendMessage:  "message",
	KindGameMove:     "gameMove",
	KindHit:          "hit",
	KindOpponentLife: "opponentLife",
	KindEndGame:      "endGame",
	KindListPlayers:  "list_players",
	KindListRooms:    "list_rooms",
	KindListMessages: "list_messages",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind resolves a client message type. Connect and disconnect are raised
// by the transport only and never parse.
func ParseKind(messageType string) (Kind, bool) {
	for k, name := range kindNames {
		kind := Kind(k)
		if kind == KindConnect || kind == KindDisconnect {
			continue
		}
		if name == messageType {
			return kind, true
		}
	}
	return 0, false
}

// Event is an inbound event with a validated payload.
type Event interface {
	Kind() Kind
}

type ConnectEvent struct{}

type DisconnectEvent struct{}

type JoinLobbyEvent struct{ JoinLobbyRequest }

type JoinRoomEvent struct{ JoinRoomRequest }

type LeaveRoomEvent struct{ LeaveRoomRequest }

type CreateRoomEvent struct{ CreateRoomRequest }

type DeleteRoomEvent struct{ DeleteRoomRequest }

type SendMessageEvent struct{ SendMessageRequest }

// RelayEvent carries a gameplay payload verbatim to the opponent.
type RelayEvent struct {
	kind       Kind
	OpponentID string
	Payload    map[string]interface{}
}

// EndGameEvent carries the end-of-game payload verbatim to the room.
type EndGameEvent struct {
	RoomID     string
	Winner     string
	OpponentID string
	Payload    map[string]interface{}
}

type ListPlayersEvent struct{}

type ListRoomsEvent struct{}

type ListMessagesEvent struct{}

func (ConnectEvent) Kind() Kind      { return KindConnect }
func (DisconnectEvent) Kind() Kind   { return KindDisconnect }
func (JoinLobbyEvent) Kind() Kind    { return KindJoinLobby }
func (JoinRoomEvent) Kind() Kind     { return KindJoinRoom }
func (LeaveRoomEvent) Kind() Kind    { return KindLeaveRoom }
func (CreateRoomEvent) Kind() Kind   { return KindCreateRoom }
func (DeleteRoomEvent) Kind() Kind   { return KindDeleteRoom }
func (SendMessageEvent) Kind() Kind  { return KindSendMessage }
func (e RelayEvent) Kind() Kind      { return e.kind }
func (EndGameEvent) Kind() Kind      { return KindEndGame }
func (ListPlayersEvent) Kind() Kind  { return KindListPlayers }
func (ListRoomsEvent) Kind() Kind    { return KindListRooms }
func (ListMessagesEvent) Kind() Kind { return KindListMessages }

// NewRelayEvent builds a relay of kind, which must be one of KindGameMove,
// KindHit or KindOpponentLife.
func NewRelayEvent(kind Kind, opponentID string, payload map[string]interface{}) RelayEvent {
	return RelayEvent{kind: kind, OpponentID: opponentID, Payload: payload}
}

// Decode validates a client message into an Event. A message that fails to
// decode never reaches a handler.
func Decode(message comms.Message) (Event, error) {
	kind, ok := ParseKind(message.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, message.Type)
	}

	contents, err := contentsMap(message.Contents)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindJoinLobby:
		var req JoinLobbyRequest
		if err := decodeContents(contents, &req); err != nil {
			return nil, err
		}
		if err := require("username", req.Username); err != nil {
			return nil, err
		}
		return JoinLobbyEvent{req}, nil

	case KindJoinRoom:
		var req JoinRoomRequest
		if err := decodeContents(contents, &req); err != nil {
			return nil, err
		}
		if err := require("room", req.Room, "username", req.Username); err != nil {
			return nil, err
		}
		return JoinRoomEvent{req}, nil

	case KindLeaveRoom:
		var req LeaveRoomRequest
		if err := decodeContents(contents, &req); err != nil {
			return nil, err
		}
		if err := require("room", req.Room); err != nil {
			return nil, err
		}
		return LeaveRoomEvent{req}, nil

	case KindCreateRoom:
		var req CreateRoomRequest
		if err := decodeContents(contents, &req); err != nil {
			return nil, err
		}
		if err := require("username", req.Username); err != nil {
			return nil, err
		}
		return CreateRoomEvent{req}, nil

	case KindDeleteRoom:
		var req DeleteRoomRequest
		if err := decodeContents(contents, &req); err != nil {
			return nil, err
		}
		if err := require("room", req.Room); err != nil {
			return nil, err
		}
		return DeleteRoomEvent{req}, nil

	case KindSendMessage:
		var req SendMessageRequest
		if err := decodeContents(contents, &req); err != nil {
			return nil, err
		}
		if err := require("username", req.Username, "text", req.Text); err != nil {
			return nil, err
		}
		return SendMessageEvent{req}, nil

	case KindGameMove, KindHit, KindOpponentLife:
		var target relayTarget
		if err := decodeContents(contents, &target); err != nil {
			return nil, err
		}
		if err := require("opponentId", target.OpponentID); err != nil {
			return nil, err
		}
		return NewRelayEvent(kind, target.OpponentID, contents), nil

	case KindEndGame:
		var fields endGameFields
		if err := decodeContents(contents, &fields); err != nil {
			return nil, err
		}
		if err := require("roomId", fields.RoomID, "winner", fields.Winner, "opponentId", fields.OpponentID); err != nil {
			return nil, err
		}
		return EndGameEvent{
			RoomID:     fields.RoomID,
			Winner:     fields.Winner,
			OpponentID: fields.OpponentID,
			Payload:    contents,
		}, nil

	case KindListPlayers:
		return ListPlayersEvent{}, nil
	case KindListRooms:
		return ListRoomsEvent{}, nil
	case KindListMessages:
		return ListMessagesEvent{}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, message.Type)
}

func contentsMap(contents interface{}) (map[string]interface{}, error) {
	switch c := contents.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return c, nil
	}
	return nil, fmt.Errorf("%w: contents must be an object", ErrInvalidPayload)
}

// decodeContents decodes into the json-tagged fields of out, accepting
// numbers where strings are expected so that room ids may be sent either way.
func decodeContents(contents map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(contents); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, err)
	}
	return nil
}

// require takes alternating field names and values.
func require(fieldsAndValues ...string) error {
	for i := 0; i+1 < len(fieldsAndValues); i += 2 {
		if strings.TrimSpace(fieldsAndValues[i+1]) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, fieldsAndValues[i])
		}
	}
	return nil
}
