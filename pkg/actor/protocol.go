// ABOUTME: Actor message protocol with separate control and data channels
// ABOUTME: Sync and async sends, replies and per-channel purge over msgqueue
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/msgqueue"
)

// ErrTimeout is returned by a sync send that got no reply in time.
var ErrTimeout = errors.New("actor: no reply")

// Signal identifies a message within a protocol.
type Signal int

// Channel selects the logical port a message travels on.
type Channel int

const (
	ChannelData Channel = iota
	ChannelControl
)

func (c Channel) String() string {
	if c == ChannelControl {
		return "control"
	}
	return "data"
}

// Queue priorities backing the two channels.
const (
	priorityData    = 0
	priorityControl = 1
)

// Message is a tagged variant exchanged with an actor.
type Message struct {
	Signal  Signal
	Payload any

	channel Channel
	reply   chan *Message
	inbox   *msgqueue.Queue[*Message]
	once    sync.Once
}

// Channel returns the channel the message was sent on.
func (m *Message) Channel() Channel {
	return m.channel
}

// IsSync reports whether a sender is blocked waiting for the reply.
func (m *Message) IsSync() bool {
	return m.reply != nil
}

// Reply answers the message. Sync senders receive the reply directly; replies
// to async messages are queued for the sender's Replies call. Only the first
// reply is delivered.
func (m *Message) Reply(signal Signal, payload any) {
	m.once.Do(func() {
		r := &Message{Signal: signal, Payload: payload, channel: m.channel}
		if m.reply != nil {
			m.reply <- r
			return
		}
		if m.inbox != nil {
			_ = m.inbox.Put(r, 0)
		}
	})
}

// DataSize delegates accounting to the payload.
func (m *Message) DataSize() int {
	if s, ok := m.Payload.(msgqueue.Sized); ok {
		return s.DataSize()
	}
	return 0
}

// Duration delegates accounting to the payload.
func (m *Message) Duration() time.Duration {
	if s, ok := m.Payload.(msgqueue.Sized); ok {
		return s.Duration()
	}
	return 0
}

// Protocol connects senders with a single receiving actor.
type Protocol struct {
	name    string
	outbox  *msgqueue.Queue[*Message]
	replies *msgqueue.Queue[*Message]
}

// NewProtocol creates an initialized protocol.
func NewProtocol(name string) *Protocol {
	p := &Protocol{
		name:    name,
		outbox:  msgqueue.New[*Message](name + ".out"),
		replies: msgqueue.New[*Message](name + ".in"),
	}
	p.Init()
	return p
}

// Name returns the protocol name.
func (p *Protocol) Name() string {
	return p.name
}

// Init resets both directions and accepts traffic again.
func (p *Protocol) Init() {
	p.outbox.Init()
	p.replies.Init()
}

// Abort wakes the actor and refuses further sends until Init.
func (p *Protocol) Abort() {
	p.outbox.Abort()
}

// SendControl posts an async control message.
func (p *Protocol) SendControl(signal Signal, payload any) error {
	return p.send(ChannelControl, signal, payload, nil)
}

// SendData posts an async data message.
func (p *Protocol) SendData(signal Signal, payload any) error {
	return p.send(ChannelData, signal, payload, nil)
}

// SendControlSync posts a control message and waits for the reply.
func (p *Protocol) SendControlSync(ctx context.Context, signal Signal, payload any, timeout time.Duration) (*Message, error) {
	return p.sendSync(ctx, ChannelControl, signal, payload, timeout)
}

// SendDataSync posts a data message and waits for the reply.
func (p *Protocol) SendDataSync(ctx context.Context, signal Signal, payload any, timeout time.Duration) (*Message, error) {
	return p.sendSync(ctx, ChannelData, signal, payload, timeout)
}

func (p *Protocol) sendSync(ctx context.Context, ch Channel, signal Signal, payload any, timeout time.Duration) (*Message, error) {
	reply := make(chan *Message, 1)
	if err := p.send(ch, signal, payload, reply); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-reply:
		return r, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s signal %d: %w", p.name, signal, ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Protocol) send(ch Channel, signal Signal, payload any, reply chan *Message) error {
	m := &Message{
		Signal:  signal,
		Payload: payload,
		channel: ch,
		reply:   reply,
		inbox:   p.replies,
	}
	prio := priorityData
	if ch == ChannelControl {
		prio = priorityControl
	}
	if err := p.outbox.Put(m, prio); err != nil {
		return fmt.Errorf("%s send %s: %w", p.name, ch, err)
	}
	return nil
}

// Receive returns the next message for the actor. Control messages are served
// first; data messages only when acceptData is set.
func (p *Protocol) Receive(timeout time.Duration, acceptData bool) (*Message, error) {
	minPrio := priorityControl
	if acceptData {
		minPrio = priorityData
	}
	m, _, err := p.outbox.Get(timeout, minPrio)
	return m, err
}

// Replies returns the async replies queued so far without blocking.
func (p *Protocol) Replies() []*Message {
	var out []*Message
	for {
		m, _, err := p.replies.Get(0, 0)
		if err != nil {
			return out
		}
		out = append(out, m)
	}
}

// Purge removes pending messages of ch that match fn (all when fn is nil)
// and returns them in queue order.
func (p *Protocol) Purge(ch Channel, fn func(*Message) bool) []*Message {
	return p.outbox.Remove(func(m *Message) bool {
		return m.channel == ch && (fn == nil || fn(m))
	})
}

// Pending returns the number of messages waiting on ch.
func (p *Protocol) Pending(ch Channel) int {
	return p.outbox.Count(func(m *Message) bool { return m.channel == ch })
}

// PendingDuration returns the audio duration waiting on the data channel.
func (p *Protocol) PendingDuration() time.Duration {
	return p.outbox.TimeSize()
}
