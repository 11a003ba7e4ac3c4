package transport

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Cmd  string `json:"cmd"`
	Path string `json:"path,omitempty"`
	Data []byte `json:"data,omitempty"`
}

func collect(t Transport) <-chan Message {
	ch := make(chan Message, 16)
	t.OnMessage(func(m Message) { ch <- m })
	return ch
}

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestCodecs(t *testing.T) {
	for _, codec := range []Codec{JSON, CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			body, err := codec.Marshal(payload{Cmd: "stat", Path: "fs:/x", Data: []byte{0, 1, 2}})
			require.NoError(t, err)

			frame, err := codec.EncodeMessage(Message{Subject: "7", Name: NameRequest, Payload: body})
			require.NoError(t, err)

			msg, err := codec.DecodeMessage(frame)
			require.NoError(t, err)
			assert.Equal(t, "7", msg.Subject)
			assert.Equal(t, NameRequest, msg.Name)

			var got payload
			require.NoError(t, codec.Unmarshal(msg.Payload, &got))
			assert.Equal(t, "stat", got.Cmd)
			assert.Equal(t, []byte{0, 1, 2}, got.Data)
		})
	}
}

func TestCodecRejectsUnknownName(t *testing.T) {
	frame, err := JSON.EncodeMessage(Message{Subject: "1", Name: "Bogus"})
	require.NoError(t, err)
	_, err = JSON.DecodeMessage(frame)
	assert.Error(t, err)

	_, err = CodecByName("xml")
	assert.Error(t, err)
	c, err := CodecByName("CBOR")
	require.NoError(t, err)
	assert.Equal(t, "cbor", c.Name())
}

func TestPipeOrder(t *testing.T) {
	a, b := Pipe(JSON, nil)
	defer a.Close()
	received := collect(b)

	for _, subject := range []string{"1", "2", "3"} {
		require.NoError(t, a.SendMessage(Message{Subject: subject, Name: NameEvent, Payload: []byte(`{}`)}))
	}
	for _, subject := range []string{"1", "2", "3"} {
		assert.Equal(t, subject, receive(t, received).Subject)
	}
}

func TestPipeClosePropagates(t *testing.T) {
	a, b := Pipe(CBOR, nil)
	collect(a)
	collect(b)

	require.NoError(t, a.Close())
	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not observe close")
	}
	assert.NoError(t, b.Err())
	assert.ErrorIs(t, a.SendMessage(Message{Name: NameEvent}), ErrClosed)
}

func TestConnTransport(t *testing.T) {
	left, right := net.Pipe()
	a := NewConn(left, CBOR, nil)
	b := NewConn(right, CBOR, nil)
	received := collect(b)
	collect(a)

	go func() {
		_ = a.SendMessage(Message{Subject: "9", Name: NameResponse, Payload: []byte{0xa0}})
	}()
	msg := receive(t, received)
	assert.Equal(t, "9", msg.Subject)
	assert.Equal(t, NameResponse, msg.Name)

	require.NoError(t, a.Close())
	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not observe close")
	}
}

func TestWebSocketTransport(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// echo every message back
		tr := NewWebSocket(conn, JSON, nil)
		tr.OnMessage(func(m Message) { _ = tr.SendMessage(m) })
		<-tr.Done()
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	client := NewWebSocket(conn, JSON, nil)
	received := collect(client)

	require.NoError(t, client.SendMessage(Message{Subject: "1", Name: NameRequest, Payload: []byte(`{"cmd":"stat"}`)}))
	msg := receive(t, received)
	assert.Equal(t, "1", msg.Subject)
	assert.JSONEq(t, `{"cmd":"stat"}`, string(msg.Payload))

	require.NoError(t, client.Close())
	<-client.Done()
}
