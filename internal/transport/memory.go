package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/waypoint/internal/presence"
)

// ErrNotAttached is returned when publishing on a channel that is not
// attached.
var ErrNotAttached = errors.New("transport: channel not attached")

// Hub is an in-memory transport shared by any number of connections. It is
// used by tests, the scenario harness and the simulate command.
//
// Faults can be injected per channel (FailPublishes) and per connection
// (Conn.SetState, Conn.SetChannelState).
type Hub struct {
	mu       sync.Mutex
	channels map[string]*hubChannel
	conns    []*Conn
	nextID   int
}

type hubChannel struct {
	name      string
	members   map[string][]byte
	views     map[*Conn]*channel
	published []Message
	attempts  int
	failNext  int
	failErr   error
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]*hubChannel)}
}

// Connect opens a connection for clientID. The connection starts connected.
func (h *Hub) Connect(clientID string) *Conn {
	c := &Conn{
		hub:            h,
		clientID:       clientID,
		dispatch:       newDispatcher(),
		state:          presence.TransportConnected,
		stateListeners: make(map[int]func(presence.TransportState, error)),
		channels:       make(map[string]*channel),
	}
	h.mu.Lock()
	h.conns = append(h.conns, c)
	h.mu.Unlock()
	return c
}

// FailPublishes makes the next n publishes on the named channel fail with
// err. A nil err fails with a generic error.
func (h *Hub) FailPublishes(name string, n int, err error) {
	if err == nil {
		err = fmt.Errorf("transport: injected publish failure on %s", name)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	hc := h.channelLocked(name)
	hc.failNext = n
	hc.failErr = err
}

// Published returns the messages successfully published on the named
// channel, in order.
func (h *Hub) Published(name string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	hc, ok := h.channels[name]
	if !ok {
		return nil
	}
	return append([]Message(nil), hc.published...)
}

// PublishAttempts returns the number of publish calls on the named channel,
// failed ones included.
func (h *Hub) PublishAttempts(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if hc, ok := h.channels[name]; ok {
		return hc.attempts
	}
	return 0
}

// Members returns the client IDs present on the named channel, sorted.
func (h *Hub) Members(name string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	hc, ok := h.channels[name]
	if !ok {
		return nil
	}
	return sortedKeys(hc.members)
}

// Flush blocks until every callback submitted so far, on every connection,
// has run.
func (h *Hub) Flush() {
	h.mu.Lock()
	conns := append([]*Conn(nil), h.conns...)
	h.mu.Unlock()
	for _, c := range conns {
		c.dispatch.wait()
	}
}

func (h *Hub) channelLocked(name string) *hubChannel {
	hc, ok := h.channels[name]
	if !ok {
		hc = &hubChannel{
			name:    name,
			members: make(map[string][]byte),
			views:   make(map[*Conn]*channel),
		}
		h.channels[name] = hc
	}
	return hc
}

func (h *Hub) nextIDLocked() int {
	h.nextID++
	return h.nextID
}

// broadcastPresenceLocked fans a presence event out to every view of hc.
func (h *Hub) broadcastPresenceLocked(hc *hubChannel, msg PresenceMessage) {
	for _, view := range hc.views {
		for _, fn := range view.presenceListeners {
			fn := fn
			m := msg
			m.Data = cloneBytes(msg.Data)
			view.conn.dispatch.submit(func() { fn(m) })
		}
	}
}

// Conn is a Connection to a Hub.
type Conn struct {
	hub      *Hub
	clientID string
	dispatch *dispatcher

	// Guarded by hub.mu.
	state          presence.TransportState
	stateErr       error
	stateListeners map[int]func(presence.TransportState, error)
	channels       map[string]*channel
	closed         bool
}

var _ Connection = (*Conn)(nil)

// ClientID implements Connection.
func (c *Conn) ClientID() string {
	return c.clientID
}

// Channel implements Connection.
func (c *Conn) Channel(ctx context.Context, name string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if ch, ok := c.channels[name]; ok {
		return ch, nil
	}

	hc := h.channelLocked(name)
	ch := &channel{
		conn:              c,
		hc:                hc,
		state:             presence.ChannelAttached,
		presenceListeners: make(map[int]func(PresenceMessage)),
		messageListeners:  make(map[int]messageListener),
		stateListeners:    make(map[int]func(presence.ChannelState, error)),
	}
	hc.views[c] = ch
	c.channels[name] = ch
	return ch, nil
}

// OnStateChange implements Connection.
func (c *Conn) OnStateChange(fn func(presence.TransportState, error)) func() {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextIDLocked()
	c.stateListeners[id] = fn
	state, err := c.state, c.stateErr
	c.dispatch.submit(func() { fn(state, err) })

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(c.stateListeners, id)
	}
}

// SetState injects a connection state change.
func (c *Conn) SetState(state presence.TransportState, err error) {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	c.setStateLocked(state, err)
}

// SetChannelState injects a state change on one of this connection's
// channels. It is a no-op for channels that were never attached.
func (c *Conn) SetChannelState(name string, state presence.ChannelState, err error) {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := c.channels[name]; ok {
		ch.setStateLocked(state, err)
	}
}

// Close implements Connection.
func (c *Conn) Close(ctx context.Context) error {
	h := c.hub
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return nil
	}
	for _, name := range sortedKeys(c.channels) {
		c.channels[name].detachLocked()
	}
	c.setStateLocked(presence.TransportClosed, nil)
	c.closed = true
	h.mu.Unlock()

	c.dispatch.close()
	return ctx.Err()
}

func (c *Conn) setStateLocked(state presence.TransportState, err error) {
	if c.closed {
		return
	}
	c.state, c.stateErr = state, err
	for _, fn := range c.stateListeners {
		fn := fn
		c.dispatch.submit(func() { fn(state, err) })
	}
}

type messageListener struct {
	name string
	fn   func(Message)
}

// channel is one connection's view of a hubChannel. Guarded by hub.mu.
type channel struct {
	conn              *Conn
	hc                *hubChannel
	state             presence.ChannelState
	stateErr          error
	presenceListeners map[int]func(PresenceMessage)
	messageListeners  map[int]messageListener
	stateListeners    map[int]func(presence.ChannelState, error)
	detached          bool
}

func (ch *channel) Name() string {
	return ch.hc.name
}

func (ch *channel) SubscribePresence(fn func(PresenceMessage)) func() {
	h := ch.conn.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextIDLocked()
	ch.presenceListeners[id] = fn
	for _, clientID := range sortedKeys(ch.hc.members) {
		msg := PresenceMessage{Action: presence.ActionPresent, ClientID: clientID, Data: cloneBytes(ch.hc.members[clientID])}
		ch.conn.dispatch.submit(func() { fn(msg) })
	}

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(ch.presenceListeners, id)
	}
}

func (ch *channel) EnterPresence(ctx context.Context, data []byte) error {
	return ch.presence(ctx, presence.ActionEnter, data)
}

func (ch *channel) UpdatePresence(ctx context.Context, data []byte) error {
	return ch.presence(ctx, presence.ActionUpdate, data)
}

func (ch *channel) LeavePresence(ctx context.Context, data []byte) error {
	return ch.presence(ctx, presence.ActionLeave, data)
}

func (ch *channel) presence(ctx context.Context, action presence.Action, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h := ch.conn.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := ch.usableLocked(); err != nil {
		return err
	}

	clientID := ch.conn.clientID
	_, present := ch.hc.members[clientID]
	switch action {
	case presence.ActionEnter, presence.ActionUpdate:
		if present && action == presence.ActionEnter {
			action = presence.ActionUpdate
		}
		if !present {
			action = presence.ActionEnter
		}
		ch.hc.members[clientID] = cloneBytes(data)
	case presence.ActionLeave:
		if !present {
			return nil
		}
		if data == nil {
			data = ch.hc.members[clientID]
		}
		delete(ch.hc.members, clientID)
	}

	h.broadcastPresenceLocked(ch.hc, PresenceMessage{Action: action, ClientID: clientID, Data: data})
	return nil
}

func (ch *channel) Publish(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h := ch.conn.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := ch.usableLocked(); err != nil {
		return err
	}

	hc := ch.hc
	hc.attempts++
	if hc.failNext > 0 {
		hc.failNext--
		return hc.failErr
	}

	msg := Message{Name: name, ClientID: ch.conn.clientID, Data: cloneBytes(data)}
	hc.published = append(hc.published, msg)
	for _, view := range hc.views {
		for _, l := range view.messageListeners {
			if l.name != name {
				continue
			}
			fn := l.fn
			m := msg
			m.Data = cloneBytes(msg.Data)
			view.conn.dispatch.submit(func() { fn(m) })
		}
	}
	return nil
}

func (ch *channel) Subscribe(name string, fn func(Message)) func() {
	h := ch.conn.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextIDLocked()
	ch.messageListeners[id] = messageListener{name: name, fn: fn}
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(ch.messageListeners, id)
	}
}

func (ch *channel) OnStateChange(fn func(presence.ChannelState, error)) func() {
	h := ch.conn.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextIDLocked()
	ch.stateListeners[id] = fn
	state, err := ch.state, ch.stateErr
	ch.conn.dispatch.submit(func() { fn(state, err) })

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(ch.stateListeners, id)
	}
}

func (ch *channel) Detach(ctx context.Context) error {
	h := ch.conn.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	ch.detachLocked()
	return ctx.Err()
}

func (ch *channel) detachLocked() {
	if ch.detached {
		return
	}
	h := ch.conn.hub
	clientID := ch.conn.clientID
	if data, ok := ch.hc.members[clientID]; ok {
		delete(ch.hc.members, clientID)
		h.broadcastPresenceLocked(ch.hc, PresenceMessage{Action: presence.ActionLeave, ClientID: clientID, Data: data})
	}
	ch.setStateLocked(presence.ChannelDetached, nil)
	delete(ch.hc.views, ch.conn)
	delete(ch.conn.channels, ch.hc.name)
	ch.detached = true
}

func (ch *channel) setStateLocked(state presence.ChannelState, err error) {
	if ch.detached {
		return
	}
	ch.state, ch.stateErr = state, err
	for _, fn := range ch.stateListeners {
		fn := fn
		ch.conn.dispatch.submit(func() { fn(state, err) })
	}
}

func (ch *channel) usableLocked() error {
	if ch.conn.closed || ch.detached {
		return ErrClosed
	}
	if ch.state != presence.ChannelAttached {
		return fmt.Errorf("%w: %s", ErrNotAttached, ch.hc.name)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
