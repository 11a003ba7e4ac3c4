// Package transport frames Messages onto an ordered duplex byte stream.
//
// A Transport pairs an inbound and an outbound stream of encoded frames.
// Adapters connect it to an in-process pipe, a WebSocket connection or any
// io.ReadWriteCloser using length-prefixed frames. Payloads are opaque bytes
// in the transport's codec, so the layers above pick their own shapes.
package transport
