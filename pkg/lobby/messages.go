package lobby

// Outbound message types
const (
	ConnectedType    = "connected"
	PlayerListType   = "list_players"
	RoomListType     = "list_rooms"
	ChatMessageType  = "message"
	RoomJoinedType   = "join_room"
	GameMoveType     = "gameMove"
	HitType          = "hit"
	OpponentLifeType = "opponentLife"
	EndGameType      = "endGame"
	PlayersType      = "players"
	RoomsType        = "rooms"
	MessagesType     = "messages"
)

// Lobby Player management
type JoinLobbyRequest struct {
	ClientID string `json:"client_id"`
	Username string `json:"username"`
}

type PlayerListDelta struct {
	Add      bool   `json:"add"`
	Username string `json:"username"`
}

type ConnectedResponse struct {
	ClientID string `json:"clientId"`
}

// Rooms
type JoinRoomRequest struct {
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Room     string `json:"room"`
}

type RoomJoinedBroadcast struct {
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Room     string `json:"room"`
}

type LeaveRoomRequest struct {
	Room string `json:"room"`
}

type CreateRoomRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

type DeleteRoomRequest struct {
	Room string `json:"room"`
}

// Chat
type SendMessageRequest struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

// Gameplay
type relayTarget struct {
	OpponentID string `json:"opponentId"`
}

type endGameFields struct {
	RoomID     string `json:"roomId"`
	Winner     string `json:"winner"`
	OpponentID string `json:"opponentId"`
}
