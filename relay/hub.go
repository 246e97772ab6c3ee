package relay

import (
	"sync"

	sessionerrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
)

// Hub hosts named in-process channels. Every endpoint returned by Channel behaves
// like one browser tab's BroadcastChannel: its broadcasts reach every other
// endpoint on the same name, synchronously.
type Hub struct {
	lock     sync.Mutex
	channels map[string]*channel
}

type channel struct {
	lock      sync.Mutex
	seq       int
	endpoints map[int]*endpoint
}

type endpoint struct {
	id      int
	channel *channel

	lock   sync.Mutex
	seq    int
	subs   map[int]func(Message)
	closed bool
}

func NewHub() *Hub {
	return &Hub{channels: make(map[string]*channel)}
}

// Channel opens a new endpoint on the named channel.
func (h *Hub) Channel(name string) ActivityRelay {
	h.lock.Lock()
	ch, ok := h.channels[name]
	if !ok {
		ch = &channel{endpoints: make(map[int]*endpoint)}
		h.channels[name] = ch
	}
	h.lock.Unlock()

	ch.lock.Lock()
	defer ch.lock.Unlock()
	ch.seq++
	ep := &endpoint{id: ch.seq, channel: ch, subs: make(map[int]func(Message))}
	ch.endpoints[ep.id] = ep
	return ep
}

func (e *endpoint) Broadcast(msg Message) error {
	e.lock.Lock()
	closed := e.closed
	e.lock.Unlock()
	if closed {
		return sessionerrors.ErrRelayClosed
	}

	e.channel.lock.Lock()
	peers := make([]*endpoint, 0, len(e.channel.endpoints))
	for id, peer := range e.channel.endpoints {
		if id != e.id {
			peers = append(peers, peer)
		}
	}
	e.channel.lock.Unlock()

	for _, peer := range peers {
		peer.deliver(msg)
	}
	return nil
}

func (e *endpoint) deliver(msg Message) {
	e.lock.Lock()
	if e.closed {
		e.lock.Unlock()
		return
	}
	subs := make([]func(Message), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.lock.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}

func (e *endpoint) Subscribe(fn func(Message)) func() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.seq++
	id := e.seq
	e.subs[id] = fn
	return func() {
		e.lock.Lock()
		defer e.lock.Unlock()
		delete(e.subs, id)
	}
}

func (e *endpoint) Close() error {
	e.lock.Lock()
	e.closed = true
	e.subs = make(map[int]func(Message))
	e.lock.Unlock()

	e.channel.lock.Lock()
	delete(e.channel.endpoints, e.id)
	e.channel.lock.Unlock()
	return nil
}
