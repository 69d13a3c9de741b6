package comms

// Message is the envelope of every frame exchanged with a client.
type Message struct {
	Type     string      `json:"type"`
	Contents interface{} `json:"contents"`
}

// ToMessage wraps contents into a Message of the given type.
func ToMessage(messageType string, contents interface{}) Message {
	return Message{
		Type:     messageType,
		Contents: contents,
	}
}

// ErrorType is the type of every ErrorResponse frame.
const ErrorType = "error"

// Error returned to the client
type ErrorResponse struct {
	Reason string `json:"reason"`
}

// ToError builds an error frame with the given reason.
func ToError(reason string) Message {
	return ToMessage(ErrorType, ErrorResponse{Reason: reason})
}
