// Package remote forwards a FileSystem across a Channel.
//
// A Skeleton serves a local FileSystem to its peer and a Stub presents the
// peer's FileSystem locally. Simple calls are one request each. Open and
// execute contexts live in Skeleton tables keyed by generated ids and are
// evicted on every close path.
//
// Streams cross the wire as exports and mirrors. The side that owns a
// stream exports it: it forwards data, readable, end and close events and
// serves read, pause, resume and close requests. The other side writes what
// it receives into a local mirror stream and forwards the mirror's flow
// changes and close back to the owner. Skeletons export the outputs of an
// execution and mirror its inputs; Stubs do the inverse.
package remote
