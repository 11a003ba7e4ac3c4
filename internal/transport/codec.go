package transport

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/fxamacker/cbor/v2"
)

// Codec encodes payload values and whole messages
type Codec interface {
	Name() string
	// Binary reports whether frames should travel as binary rather than text.
	Binary() bool
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	EncodeMessage(msg Message) ([]byte, error)
	DecodeMessage(data []byte) (Message, error)
}

// CodecByName returns the codec for "json" or "cbor"
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "json", "":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

var (
	JSON Codec = jsonCodec{}
	CBOR Codec = newCBORCodec()
)

type jsonEnvelope struct {
	Subject string          `json:"subject"`
	Name    Name            `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

func (jsonCodec) EncodeMessage(msg Message) ([]byte, error) {
	return sonic.Marshal(jsonEnvelope{Subject: msg.Subject, Name: msg.Name, Payload: msg.Payload})
}

func (jsonCodec) DecodeMessage(data []byte) (Message, error) {
	var env jsonEnvelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("decode json message: %w", err)
	}
	if !env.Name.Valid() {
		return Message{}, fmt.Errorf("decode json message: unknown name %q", env.Name)
	}
	return Message{Subject: env.Subject, Name: env.Name, Payload: env.Payload}, nil
}

type cborEnvelope struct {
	Subject string          `cbor:"subject"`
	Name    Name            `cbor:"name"`
	Payload cbor.RawMessage `cbor:"payload,omitempty"`
}

// cborCodec uses Core Deterministic Encoding. Values decoded into any use
// string-keyed maps, and text marshalers such as path.Path travel as text.
type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	enc, err := encOptions.EncMode()
	if err != nil {
		panic("transport: CBOR encoder initialization failed: " + err.Error())
	}

	dec, err := cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("transport: CBOR decoder initialization failed: " + err.Error())
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string { return "cbor" }
func (cborCodec) Binary() bool { return true }

func (c cborCodec) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c cborCodec) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}

func (c cborCodec) EncodeMessage(msg Message) ([]byte, error) {
	return c.enc.Marshal(cborEnvelope{Subject: msg.Subject, Name: msg.Name, Payload: msg.Payload})
}

func (c cborCodec) DecodeMessage(data []byte) (Message, error) {
	var env cborEnvelope
	if err := c.dec.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("decode cbor message: %w", err)
	}
	if !env.Name.Valid() {
		return Message{}, fmt.Errorf("decode cbor message: unknown name %q", env.Name)
	}
	return Message{Subject: env.Subject, Name: env.Name, Payload: env.Payload}, nil
}
