// Package stream provides the buffered dual-mode stream used for file data,
// process stdio and transport frames.
//
// A Stream is either paused or flowing:
//   - Paused (the initial mode): the consumer pulls one item at a time with
//     Read. OnReadable fires on each empty to non-empty transition, not per
//     item, so the consumer must drain with Read in a loop.
//   - Flowing: every buffered and incoming item is pushed through OnData as
//     soon as it arrives, in write order. Read fails while flowing.
//
// Pause and Resume are the only backpressure mechanism. Each written item may
// carry an ack callback invoked exactly when the item is dequeued.
//
// End marks that no more writes will happen; OnEnd fires once the backlog is
// drained. Close terminates the stream immediately and drops the backlog.
package stream
