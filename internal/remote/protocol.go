package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/GriffinCanCode/axiom/internal/channel"
	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/shared/id"
	"github.com/GriffinCanCode/axiom/internal/transport"
	"github.com/GriffinCanCode/axiom/internal/vfs"
)

// Command is the closed set of request kinds
type Command string

const (
	CmdStat   Command = "stat"
	CmdList   Command = "list"
	CmdMkdir  Command = "mkdir"
	CmdUnlink Command = "unlink"
	CmdMove   Command = "move"
	CmdAlias  Command = "alias"

	CmdOpenCreate Command = "open-context-create"
	CmdOpenSeek   Command = "open-context-seek"
	CmdOpenRead   Command = "open-context-read"
	CmdOpenWrite  Command = "open-context-write"
	CmdOpenClose  Command = "open-context-close"

	CmdExecCreate  Command = "execute-context.create"
	CmdExecExecute Command = "execute-context.execute"
	CmdExecClose   Command = "execute-context.close"

	CmdStreamRead   Command = "readable-stream.read"
	CmdStreamPause  Command = "readable-stream.pause"
	CmdStreamResume Command = "readable-stream.resume"
	CmdStreamClose  Command = "readable-stream.close"
)

// EventName is the closed set of stream notifications
type EventName string

const (
	EventData     EventName = "readable-stream.onData"
	EventReadable EventName = "readable-stream.onReadable"
	EventEnd      EventName = "readable-stream.onEnd"
	EventClose    EventName = "readable-stream.onClose"
)

// SeekRequest moves an open context's position
type SeekRequest struct {
	Offset int64      `json:"offset"`
	Whence vfs.Whence `json:"whence,omitempty"`
}

// CloseRequest carries the reason a context is closed with
type CloseRequest struct {
	Error *fserr.Wire `json:"error,omitempty"`
	Value any         `json:"value,omitempty"`
}

// Request is the payload of every ChannelRequest. Only the fields the
// command needs are set.
type Request struct {
	Cmd       Command                `json:"cmd"`
	Path      string                 `json:"path,omitempty"`
	To        string                 `json:"to,omitempty"`
	Mode      *vfs.OpenMode          `json:"mode,omitempty"`
	Arg       vfs.Arg                `json:"arg,omitempty"`
	Env       map[string]string      `json:"env,omitempty"`
	ContextID id.ContextID           `json:"contextId,omitempty"`
	StreamID  id.StreamID            `json:"streamId,omitempty"`
	Streams   map[string]id.StreamID `json:"streams,omitempty"`
	Seek      *SeekRequest           `json:"seek,omitempty"`
	Read      *vfs.ReadRequest       `json:"read,omitempty"`
	Write     *vfs.WriteRequest      `json:"write,omitempty"`
	Close     *CloseRequest          `json:"close,omitempty"`
}

// Response is the payload of every ChannelResponse: a result or an error.
type Response[T any] struct {
	Result T           `json:"result,omitempty"`
	Error  *fserr.Wire `json:"error,omitempty"`
}

// Event is the payload of every ChannelEvent
type Event struct {
	Event    EventName   `json:"event"`
	StreamID id.StreamID `json:"streamId"`
	Item     *Item       `json:"item,omitempty"`
	Error    *fserr.Wire `json:"error,omitempty"`
}

// OpenResult answers open-context-create
type OpenResult struct {
	ContextID id.ContextID    `json:"contextId"`
	Stat      *vfs.StatResult `json:"stat"`
}

// SeekResult answers open-context-seek
type SeekResult struct {
	Position int64 `json:"position"`
}

// ExecCreateResult answers execute-context.create with the exported outputs
type ExecCreateResult struct {
	ContextID id.ContextID           `json:"contextId"`
	Streams   map[string]id.StreamID `json:"streams"`
}

// ExecResult answers execute-context.execute
type ExecResult struct {
	Value any `json:"value,omitempty"`
}

// StreamReadResult answers readable-stream.read. Ok is false when the
// stream had nothing buffered.
type StreamReadResult struct {
	Item *Item `json:"item,omitempty"`
	Ok   bool  `json:"ok"`
}

// Item is one stream value. Byte slices are tagged so they survive text
// codecs, which carry them as base64.
type Item struct {
	Bytes bool `json:"bytes,omitempty"`
	Value any  `json:"value"`
}

func encodeItem(v any) *Item {
	if b, ok := v.([]byte); ok {
		return &Item{Bytes: true, Value: b}
	}
	return &Item{Value: v}
}

func (it *Item) decode() (any, error) {
	if it == nil {
		return nil, nil
	}
	if it.Bytes {
		return vfs.DecodeData(it.Value, vfs.DataArrayBuffer)
	}
	return it.Value, nil
}

// respond encodes a handler outcome as a Response payload.
func respond(codec transport.Codec, result any, err error) []byte {
	resp := Response[any]{Result: result}
	if err != nil {
		resp = Response[any]{Error: fserr.ToWire(err)}
	}

	payload, encErr := codec.Marshal(resp)
	if encErr != nil {
		payload, _ = codec.Marshal(Response[any]{Error: fserr.ToWire(fserr.Runtime(encErr.Error()))})
	}
	return payload
}

// panicResponse answers a request whose handler panicked.
func panicResponse(ch *channel.Channel) channel.ErrorEncoder {
	return func(err error) []byte { return respond(ch.Codec(), nil, err) }
}

// useChannelTimeout selects the channel's configured timeout.
const useChannelTimeout time.Duration = -1

// call sends req and decodes the result into T. Remote errors come back as
// *fserr.Error.
func call[T any](ctx context.Context, ch *channel.Channel, req Request) (T, error) {
	return callTimeout[T](ctx, ch, req, useChannelTimeout)
}

func callTimeout[T any](ctx context.Context, ch *channel.Channel, req Request, timeout time.Duration) (T, error) {
	var zero T
	codec := ch.Codec()

	payload, err := codec.Marshal(req)
	if err != nil {
		return zero, fmt.Errorf("encode %s request: %w", req.Cmd, err)
	}

	var raw []byte
	if timeout == useChannelTimeout {
		raw, err = ch.SendRequest(ctx, payload)
	} else {
		raw, err = ch.SendRequestTimeout(ctx, payload, timeout)
	}
	if err != nil {
		return zero, err
	}

	var resp Response[T]
	if err := codec.Unmarshal(raw, &resp); err != nil {
		return zero, fserr.Runtime(fmt.Sprintf("decode %s response: %v", req.Cmd, err))
	}
	if resp.Error != nil {
		return zero, fserr.FromWire(resp.Error)
	}
	return resp.Result, nil
}
