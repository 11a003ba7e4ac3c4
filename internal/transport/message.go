package transport

import "fmt"

// Name tags the role of a Message
type Name string

const (
	NameRequest  Name = "ChannelRequest"
	NameResponse Name = "ChannelResponse"
	NameEvent    Name = "ChannelEvent"
)

// Valid reports whether n is a known message name
func (n Name) Valid() bool {
	switch n {
	case NameRequest, NameResponse, NameEvent:
		return true
	}
	return false
}

// Message is one frame on the wire. Subject correlates a response with its
// request; Payload is encoded with the transport's codec.
type Message struct {
	Subject string
	Name    Name
	Payload []byte
}

func (m Message) String() string {
	return fmt.Sprintf("%s[%s] %d bytes", m.Name, m.Subject, len(m.Payload))
}
