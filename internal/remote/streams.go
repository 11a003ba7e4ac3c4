package remote

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/channel"
	"github.com/GriffinCanCode/axiom/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/axiom/internal/shared/event"
	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/shared/id"
	"github.com/GriffinCanCode/axiom/internal/stream"
)

// exports serves local streams to the peer by id.
type exports struct {
	ch      *channel.Channel
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	streams map[id.StreamID]*export // Protected by mu
}

type export struct {
	source *stream.Stream
	subs   event.Group
}

func newExports(ch *channel.Channel, logger *zap.Logger, metrics *monitoring.Metrics) *exports {
	return &exports{
		ch:      ch,
		logger:  logger,
		metrics: metrics,
		streams: make(map[id.StreamID]*export),
	}
}

// Export starts forwarding s to the peer and returns the id the peer
// addresses it by. The entry is evicted when s ends or closes.
func (e *exports) Export(s *stream.Stream) id.StreamID {
	sid := id.NewStreamID()
	x := &export{source: s}

	e.mu.Lock()
	e.streams[sid] = x
	e.mu.Unlock()
	e.metrics.AddResources("stream", 1)

	x.subs.Add(s.OnData(func(v any) {
		e.send(Event{Event: EventData, StreamID: sid, Item: encodeItem(v)})
	}))
	x.subs.Add(s.OnReadable(func() {
		e.send(Event{Event: EventReadable, StreamID: sid})
	}))
	x.subs.Add(s.OnEnd(func() {
		e.send(Event{Event: EventEnd, StreamID: sid})
		e.evict(sid)
	}))
	x.subs.Add(s.OnClose(func(err error) {
		e.send(Event{Event: EventClose, StreamID: sid, Error: fserr.ToWire(err)})
		e.evict(sid)
	}))

	// terminal before the listeners were attached
	switch {
	case s.Closed():
		e.send(Event{Event: EventClose, StreamID: sid})
		e.evict(sid)
	case s.Ended() && s.Len() == 0:
		e.send(Event{Event: EventEnd, StreamID: sid})
		e.evict(sid)
	}
	return sid
}

func (e *exports) send(ev Event) {
	payload, err := e.ch.Codec().Marshal(ev)
	if err != nil {
		e.logger.Warn("Failed to encode stream event", zap.String("event", string(ev.Event)), zap.Error(err))
		return
	}
	if err := e.ch.SendEvent(payload); err != nil {
		e.logger.Debug("Failed to send stream event", zap.String("event", string(ev.Event)), zap.Error(err))
	}
}

func (e *exports) evict(sid id.StreamID) {
	e.mu.Lock()
	x, ok := e.streams[sid]
	delete(e.streams, sid)
	e.mu.Unlock()

	if ok {
		x.subs.Unsubscribe()
		e.metrics.AddResources("stream", -1)
	}
}

func (e *exports) lookup(sid id.StreamID) (*export, error) {
	if err := sid.Check(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	x, ok := e.streams[sid]
	if !ok {
		return nil, fserr.NotFound("stream", string(sid))
	}
	return x, nil
}

// serve answers a readable-stream request from the peer.
func (e *exports) serve(req Request) (any, error) {
	x, err := e.lookup(req.StreamID)
	if err != nil {
		return nil, err
	}

	switch req.Cmd {
	case CmdStreamRead:
		v, ok, err := x.source.Read()
		if err != nil {
			return nil, err
		}
		if !ok {
			return StreamReadResult{}, nil
		}
		return StreamReadResult{Item: encodeItem(v), Ok: true}, nil
	case CmdStreamPause:
		x.source.Pause()
	case CmdStreamResume:
		x.source.Resume()
	case CmdStreamClose:
		x.source.Close(nil)
	default:
		return nil, fserr.NotImplemented(string(req.Cmd))
	}
	return nil, nil
}

// Len returns the number of exported streams
func (e *exports) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.streams)
}

// release stops forwarding every stream, closing the sources when close
// is set.
func (e *exports) release(close bool) {
	e.mu.Lock()
	all := e.streams
	e.streams = make(map[id.StreamID]*export)
	e.mu.Unlock()

	for _, x := range all {
		x.subs.Unsubscribe()
		if close {
			x.source.Close(fserr.Runtime("channel closed"))
		}
	}
	e.metrics.AddResources("stream", -len(all))
}

// imports writes the peer's exported streams into local mirror streams.
type imports struct {
	ch      *channel.Channel
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	mirrors map[id.StreamID]*mirror // Protected by mu
}

type mirror struct {
	sid    id.StreamID
	target *stream.Stream
	owner  *imports
	subs   event.Group

	mu         sync.Mutex
	idle       *sync.Cond // signalled when a pull finishes
	done       bool
	pulling    bool
	again      bool
	endPending bool
	syncing    bool
	resuming   bool
	want, sent bool // flowing state requested by the target and last sent
}

func newImports(ch *channel.Channel, logger *zap.Logger, metrics *monitoring.Metrics) *imports {
	return &imports{
		ch:      ch,
		logger:  logger,
		metrics: metrics,
		mirrors: make(map[id.StreamID]*mirror),
	}
}

// Import mirrors the peer's stream sid into target. Pause and resume on
// target are forwarded to the peer; closing target closes the remote
// stream.
func (im *imports) Import(sid id.StreamID, target *stream.Stream) *mirror {
	m := &mirror{sid: sid, target: target, owner: im}
	m.idle = sync.NewCond(&m.mu)

	im.mu.Lock()
	im.mirrors[sid] = m
	im.mu.Unlock()
	im.metrics.AddResources("mirror", 1)

	m.subs.Add(target.OnFlow(m.setFlowing))
	m.subs.Add(target.OnClose(func(error) {
		if m.finish() {
			go m.request(CmdStreamClose)
		}
	}))

	if target.Flowing() {
		m.setFlowing(true)
	} else {
		// data buffered before the import produced no readable event
		m.pull()
	}
	return m
}

func (im *imports) lookup(sid id.StreamID) *mirror {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.mirrors[sid]
}

// onEvent decodes a channel event payload and applies it.
func (im *imports) onEvent(payload []byte) {
	var ev Event
	if err := im.ch.Codec().Unmarshal(payload, &ev); err != nil {
		im.logger.Warn("Dropping undecodable event", zap.Error(err))
		return
	}
	im.handle(ev)
}

// handle applies a stream event. It runs on the transport's reader, so it
// never waits on a round trip.
func (im *imports) handle(ev Event) {
	m := im.lookup(ev.StreamID)
	if m == nil {
		im.logger.Debug("Dropping event for unknown stream",
			zap.String("event", string(ev.Event)),
			zap.String("stream", string(ev.StreamID)))
		return
	}

	switch ev.Event {
	case EventData:
		v, err := ev.Item.decode()
		if err != nil {
			im.logger.Warn("Dropping undecodable stream item", zap.Error(err))
			return
		}
		m.write(v)
	case EventReadable:
		m.pull()
	case EventEnd:
		m.end()
	case EventClose:
		var err error
		if ev.Error != nil {
			err = fserr.FromWire(ev.Error)
		}
		if m.finish() {
			m.target.Close(err)
		}
	}
}

// Len returns the number of live mirrors
func (im *imports) Len() int {
	im.mu.Lock()
	defer im.mu.Unlock()
	return len(im.mirrors)
}

// closeAll closes every live mirror with err.
func (im *imports) closeAll(err error) {
	im.mu.Lock()
	all := make([]*mirror, 0, len(im.mirrors))
	for _, m := range im.mirrors {
		all = append(all, m)
	}
	im.mu.Unlock()

	for _, m := range all {
		if m.finish() {
			m.target.Close(err)
		}
	}
}

func (m *mirror) write(v any) {
	if err := m.target.Write(v, nil); err != nil {
		m.owner.logger.Debug("Mirror rejected item", zap.String("stream", string(m.sid)), zap.Error(err))
	}
}

// finish marks the mirror done and drops it from the table. It reports
// whether this call did so.
func (m *mirror) finish() bool {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return false
	}
	m.done = true
	m.mu.Unlock()

	im := m.owner
	im.mu.Lock()
	delete(im.mirrors, m.sid)
	im.mu.Unlock()
	im.metrics.AddResources("mirror", -1)

	m.subs.Unsubscribe()
	return true
}

// end ends the target once any in-flight pull has written its items.
func (m *mirror) end() {
	m.mu.Lock()
	if m.pulling {
		m.endPending = true
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if m.finish() {
		_ = m.target.End()
	}
}

// pull starts draining the remote buffer unless a pull is running, in
// which case that pull goes round once more. A flowing owner pushes its
// items as data events, so no pull starts while resuming or resumed.
func (m *mirror) pull() {
	m.mu.Lock()
	if m.done || m.resuming || m.sent {
		m.mu.Unlock()
		return
	}
	if m.pulling {
		m.again = true
		m.mu.Unlock()
		return
	}
	m.pulling = true
	m.mu.Unlock()

	go m.pullLoop()
}

func (m *mirror) pullLoop() {
	for {
		m.drain()

		m.mu.Lock()
		if m.again && !m.done && !m.resuming {
			m.again = false
			m.mu.Unlock()
			continue
		}
		m.pulling = false
		m.again = false
		end := m.endPending
		m.idle.Broadcast()
		m.mu.Unlock()

		if end && m.finish() {
			_ = m.target.End()
		}
		return
	}
}

// drain reads the remote buffer until it is empty or a resume is pending.
func (m *mirror) drain() {
	ch := m.owner.ch
	for {
		m.mu.Lock()
		stop := m.resuming || m.done
		m.again = false
		m.mu.Unlock()
		if stop {
			return
		}

		res, err := call[StreamReadResult](context.Background(), ch, Request{Cmd: CmdStreamRead, StreamID: m.sid})
		if err != nil {
			if fserr.Is(err, fserr.KindNotFound) {
				// evicted on the owner's side after its end
				m.mu.Lock()
				m.endPending = true
				m.mu.Unlock()
			} else {
				m.owner.logger.Debug("Stream pull stopped", zap.String("stream", string(m.sid)), zap.Error(err))
			}
			return
		}
		if !res.Ok {
			return
		}

		v, err := res.Item.decode()
		if err != nil {
			m.owner.logger.Warn("Dropping undecodable stream item", zap.Error(err))
			continue
		}
		m.write(v)
	}
}

// setFlowing records the target's mode and forwards it to the owner in
// order, one request at a time. A resume is held back until the running
// pull has written its item, since the owner's data events would otherwise
// overtake the read response.
func (m *mirror) setFlowing(flowing bool) {
	m.mu.Lock()
	m.want = flowing
	if m.syncing || m.done {
		m.mu.Unlock()
		return
	}
	m.syncing = true
	m.mu.Unlock()

	go func() {
		for {
			m.mu.Lock()
			want, sent, done := m.want, m.sent, m.done
			if want == sent || done {
				m.syncing = false
				m.mu.Unlock()
				return
			}
			m.mu.Unlock()

			if !want {
				m.request(CmdStreamPause)
				m.mu.Lock()
				m.sent = false
				m.mu.Unlock()
				// items buffered by the owner while flowing was being switched
				m.pull()
				continue
			}

			m.mu.Lock()
			m.resuming = true
			for m.pulling {
				m.idle.Wait()
			}
			m.mu.Unlock()

			m.request(CmdStreamResume)

			m.mu.Lock()
			m.sent = true
			m.resuming = false
			m.mu.Unlock()
		}
	}()
}

func (m *mirror) request(cmd Command) {
	_, err := call[any](context.Background(), m.owner.ch, Request{Cmd: cmd, StreamID: m.sid})
	if err != nil && !fserr.Is(err, fserr.KindNotFound) {
		m.owner.logger.Debug("Stream request failed",
			zap.String("cmd", string(cmd)),
			zap.String("stream", string(m.sid)),
			zap.Error(err))
	}
}
