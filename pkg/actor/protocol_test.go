// ABOUTME: Tests for the actor protocol
// ABOUTME: Covers channel priority, sync replies, async replies and purge
package actor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/msgqueue"
)

const (
	sigPing Signal = iota
	sigPong
	sigChunk
	sigDone
)

type chunk struct {
	n   int
	dur time.Duration
}

func (c chunk) DataSize() int           { return c.n }
func (c chunk) Duration() time.Duration { return c.dur }

func TestControlBeforeData(t *testing.T) {
	p := NewProtocol("test")
	for i := 0; i < 10; i++ {
		p.SendData(sigChunk, chunk{n: i})
	}
	p.SendControl(sigPing, nil)

	m, err := p.Receive(0, true)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if m.Signal != sigPing || m.Channel() != ChannelControl {
		t.Fatalf("expected control ping first, got signal %d on %s", m.Signal, m.Channel())
	}

	for i := 0; i < 10; i++ {
		m, err := p.Receive(0, true)
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		if got := m.Payload.(chunk).n; got != i {
			t.Fatalf("expected chunk %d, got %d", i, got)
		}
	}
}

func TestReceiveControlOnly(t *testing.T) {
	p := NewProtocol("test")
	p.SendData(sigChunk, chunk{n: 1})

	_, err := p.Receive(0, false)
	if !errors.Is(err, msgqueue.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if p.Pending(ChannelData) != 1 {
		t.Errorf("expected data message to remain pending")
	}
}

func TestSyncReply(t *testing.T) {
	p := NewProtocol("test")
	go func() {
		m, err := p.Receive(time.Second, true)
		if err != nil {
			return
		}
		m.Reply(sigPong, "hello")
		m.Reply(sigPong, "ignored")
	}()

	r, err := p.SendControlSync(context.Background(), sigPing, nil, time.Second)
	if err != nil {
		t.Fatalf("SendControlSync failed: %v", err)
	}
	if r.Signal != sigPong || r.Payload.(string) != "hello" {
		t.Errorf("unexpected reply %+v", r)
	}
	if len(p.Replies()) != 0 {
		t.Error("sync replies must not land in the async reply queue")
	}
}

func TestSyncTimeout(t *testing.T) {
	p := NewProtocol("test")
	_, err := p.SendControlSync(context.Background(), sigPing, nil, 10*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestAsyncReplies(t *testing.T) {
	p := NewProtocol("test")
	p.SendData(sigChunk, chunk{n: 1})
	p.SendData(sigChunk, chunk{n: 2})

	for i := 0; i < 2; i++ {
		m, _ := p.Receive(0, true)
		m.Reply(sigDone, m.Payload)
	}

	replies := p.Replies()
	if len(replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(replies))
	}
	for i, r := range replies {
		if r.Signal != sigDone || r.Payload.(chunk).n != i+1 {
			t.Errorf("reply %d: unexpected %+v", i, r)
		}
	}
}

func TestPurgeKeepsControl(t *testing.T) {
	p := NewProtocol("test")
	p.SendData(sigChunk, chunk{n: 1, dur: 10 * time.Millisecond})
	p.SendControl(sigPing, nil)
	p.SendData(sigChunk, chunk{n: 2, dur: 10 * time.Millisecond})

	if p.PendingDuration() != 20*time.Millisecond {
		t.Errorf("expected 20ms pending, got %v", p.PendingDuration())
	}

	purged := p.Purge(ChannelData, nil)
	if len(purged) != 2 {
		t.Fatalf("expected 2 purged, got %d", len(purged))
	}
	if purged[0].Payload.(chunk).n != 1 || purged[1].Payload.(chunk).n != 2 {
		t.Error("purge must preserve queue order")
	}
	if p.Pending(ChannelControl) != 1 || p.PendingDuration() != 0 {
		t.Error("control message must survive a data purge")
	}
}

func TestAbortRefusesSends(t *testing.T) {
	p := NewProtocol("test")
	p.Abort()

	if _, err := p.Receive(time.Second, true); !errors.Is(err, msgqueue.ErrAborted) {
		t.Errorf("expected ErrAborted, got %v", err)
	}
	if err := p.SendControl(sigPing, nil); !errors.Is(err, msgqueue.ErrAborted) {
		t.Errorf("expected ErrAborted on send, got %v", err)
	}

	p.Init()
	if err := p.SendControl(sigPing, nil); err != nil {
		t.Errorf("expected send to work after Init, got %v", err)
	}
}
