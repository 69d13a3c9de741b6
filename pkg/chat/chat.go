// Package chat keeps the lobby-wide chat history.
package chat

import "time"

type Message struct {
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is an append-only sequence of messages shared by every connection.
// It is not safe for concurrent use; callers serialize access.
//
// The log has no size cap and grows until Clear.
type Log struct {
	messages []Message
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Append(username, text string, timestamp time.Time) Message {
	m := Message{Username: username, Text: text, Timestamp: timestamp}
	l.messages = append(l.messages, m)
	return m
}

// List returns the messages in chronological order.
func (l *Log) List() []Message {
	messages := make([]Message, len(l.messages))
	copy(messages, l.messages)
	return messages
}

func (l *Log) Len() int {
	return len(l.messages)
}

func (l *Log) Clear() {
	l.messages = nil
}
