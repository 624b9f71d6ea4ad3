// Package hub fans analysis results out to dashboard websocket clients
// through a single goroutine that owns the client set.
package hub

type MessageType int

const (
	JSONMessage MessageType = iota
	BinaryMessage
)

type Message struct {
	Type MessageType
	Data []byte
}

func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
