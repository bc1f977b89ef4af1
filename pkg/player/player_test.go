// ABOUTME: Tests for the audio player dispatch loop
// ABOUTME: Runs real engines against null devices and checks sync behavior
package player

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio/decode"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio/output"
	"github.com/Resonate-Protocol/audiopipe/pkg/engine"
	"github.com/Resonate-Protocol/audiopipe/pkg/sink"
)

const (
	packetFrames = 2400 // 50ms at 48kHz
	packetTime   = 50 * time.Millisecond
	eventWait    = 3 * time.Second
)

var pcmHints = decode.Hints{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16}

type recorder struct {
	events  chan Event
	started atomic.Int32

	mu      sync.Mutex
	outputs []uint64
}

func newRecorder() *recorder {
	return &recorder{events: make(chan Event, 256)}
}

func (r *recorder) listen(e Event) {
	if _, ok := e.(Started); ok {
		r.started.Add(1)
	}
	select {
	case r.events <- e:
	default:
	}
}

func (r *recorder) output(rep sink.OutputReport) {
	if rep.Silence {
		return
	}
	r.mu.Lock()
	r.outputs = append(r.outputs, rep.FrameID)
	r.mu.Unlock()
}

func (r *recorder) frameIDs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.outputs...)
}

func (r *recorder) waitStarted(t *testing.T) Started {
	t.Helper()
	timer := time.NewTimer(eventWait)
	defer timer.Stop()
	for {
		select {
		case e := <-r.events:
			if s, ok := e.(Started); ok {
				return s
			}
		case <-timer.C:
			t.Fatal("timed out waiting for Started")
		}
	}
}

func (r *recorder) waitState(t *testing.T) StateReport {
	t.Helper()
	timer := time.NewTimer(eventWait)
	defer timer.Stop()
	for {
		select {
		case e := <-r.events:
			if s, ok := e.(StateReport); ok {
				return s
			}
		case <-timer.C:
			t.Fatal("timed out waiting for StateReport")
		}
	}
}

type testEnv struct {
	player *AudioPlayer
	eng    *engine.Engine
	device *output.Null
	rec    *recorder
}

func newTestEnv(t *testing.T, settings engine.Settings, buffer time.Duration, opts ...engine.Option) *testEnv {
	t.Helper()
	return newDeviceEnv(t, settings, output.NewNull(output.WithNullBuffer(buffer)), opts...)
}

func newDeviceEnv(t *testing.T, settings engine.Settings, dev *output.Null, opts ...engine.Option) *testEnv {
	t.Helper()
	rec := newRecorder()
	settings.Device = "null"
	opts = append([]engine.Option{
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithDeviceFactory(func(string) (output.Device, error) { return dev, nil }),
		engine.WithOutputObserver(rec.output),
	}, opts...)
	eng, err := engine.New(settings, opts...)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	eng.Start(context.Background())
	t.Cleanup(func() { eng.Close() })
	return &testEnv{player: New(eng, rec.listen), eng: eng, device: dev, rec: rec}
}

func pcmPacket(index int) decode.Packet {
	data := bytes.Repeat([]byte{byte(index + 1), 0x01}, packetFrames*2)
	return decode.Packet{
		Data:     data,
		PTS:      time.Duration(index) * packetTime,
		Duration: packetTime,
	}
}

func sendPackets(t *testing.T, p *AudioPlayer, from, n int) {
	t.Helper()
	for i := from; i < from+n; i++ {
		if err := p.SendMessage(NewPacket(pcmPacket(i), false), 0); err != nil {
			t.Fatalf("send packet %d: %v", i, err)
		}
	}
}

// resync releases a started stream at the pts of its oldest queued audio.
func resync(t *testing.T, env *testEnv, s Started) time.Duration {
	t.Helper()
	ts := s.FirstPTS()
	env.eng.Clock.Discontinuity(ts)
	if err := env.player.SendMessage(NewResync(ts), 1); err != nil {
		t.Fatalf("resync: %v", err)
	}
	waitFor(t, "insync", func() bool { return env.player.SyncState() == SyncInSync })
	return ts
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(eventWait)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartedFiresOnce(t *testing.T) {
	env := newTestEnv(t, engine.DefaultSettings(), 400*time.Millisecond)
	p := env.player
	if err := p.OpenStream(pcmHints); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	sendPackets(t, p, 0, 10)

	s := env.rec.waitStarted(t)
	if s.CacheTime < 300*time.Millisecond {
		t.Errorf("expected cache time >= 300ms, got %v", s.CacheTime)
	}
	if s.CacheTotal != 400*time.Millisecond {
		t.Errorf("expected cache total 400ms, got %v", s.CacheTotal)
	}
	if s.Timestamp != 250*time.Millisecond {
		t.Errorf("expected timestamp 250ms, got %v", s.Timestamp)
	}

	time.Sleep(100 * time.Millisecond)
	if n := env.rec.started.Load(); n != 1 {
		t.Errorf("expected Started once, got %d", n)
	}
	if st := p.SyncState(); st != SyncWaitSync {
		t.Errorf("expected waitsync, got %s", st)
	}
	if env.device.Written() != 0 {
		t.Errorf("expected nothing played before resync, got %d frames", env.device.Written())
	}

	p.CloseStream(false)
	if n := p.Renderer().Outstanding(); n != 0 {
		t.Errorf("expected every buffer returned, got %d outstanding", n)
	}
	if p.IsInited() {
		t.Error("expected player closed")
	}
}

func TestEOFStartsShortStream(t *testing.T) {
	env := newTestEnv(t, engine.DefaultSettings(), 400*time.Millisecond)
	p := env.player
	if err := p.OpenStream(pcmHints); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	sendPackets(t, p, 0, 2)
	if err := p.SendMessage(NewSignal(MsgGeneralEOF), 0); err != nil {
		t.Fatalf("eof: %v", err)
	}

	s := env.rec.waitStarted(t)
	if s.CacheTime < 2*packetTime {
		t.Errorf("expected cache time >= %v, got %v", 2*packetTime, s.CacheTime)
	}
	if got := s.FirstPTS(); got > 5*time.Millisecond || got < -5*time.Millisecond {
		t.Errorf("expected first pts near 0, got %v", got)
	}
	resync(t, env, s)

	p.CloseStream(true)
	if got := env.device.Written(); got != 2*packetFrames {
		t.Errorf("expected %d frames played, got %d", 2*packetFrames, got)
	}
}

func TestResyncReachesInSync(t *testing.T) {
	env := newTestEnv(t, engine.DefaultSettings(), 400*time.Millisecond)
	p := env.player
	if err := p.OpenStream(pcmHints); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	sendPackets(t, p, 0, 10)
	ts := resync(t, env, env.rec.waitStarted(t))

	p.RequestState()
	if rep := env.rec.waitState(t); rep.State != SyncInSync {
		t.Errorf("expected insync report, got %s", rep.State)
	}

	last := ts
	for i := 0; i < 20; i++ {
		c := p.Info().AudioClock
		if c < last {
			t.Fatalf("audio clock went back from %v to %v", last, c)
		}
		last = c
		time.Sleep(10 * time.Millisecond)
	}
	waitFor(t, "audio played", func() bool { return env.device.Written() > 0 })

	p.CloseStream(true)
	if n := p.Renderer().Outstanding(); n != 0 {
		t.Errorf("expected every buffer returned, got %d outstanding", n)
	}
}

// stubbornDecoder refuses every third packet once.
type stubbornDecoder struct {
	*decode.PCMDecoder

	mu       sync.Mutex
	refused  map[time.Duration]bool
	accepted []decode.Packet
}

func (d *stubbornDecoder) AddData(pkt decode.Packet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := int(pkt.PTS / packetTime)
	if idx%3 == 2 && !d.refused[pkt.PTS] {
		d.refused[pkt.PTS] = true
		return decode.ErrBufferFull
	}
	if err := d.PCMDecoder.AddData(pkt); err != nil {
		return err
	}
	d.accepted = append(d.accepted, pkt)
	return nil
}

func (d *stubbornDecoder) snapshot() []decode.Packet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]decode.Packet(nil), d.accepted...)
}

func TestRefusedPacketIsOfferedAgainFirst(t *testing.T) {
	var dec *stubbornDecoder
	factory := func(h decode.Hints, _ decode.Options) (decode.Decoder, error) {
		pcm, err := decode.NewPCM(h)
		if err != nil {
			return nil, err
		}
		dec = &stubbornDecoder{PCMDecoder: pcm, refused: make(map[time.Duration]bool)}
		return dec, nil
	}
	// A large cache keeps the stream in STARTING so every packet is read.
	env := newTestEnv(t, engine.DefaultSettings(), 2*time.Second, engine.WithDecoderFactory(factory))
	p := env.player
	if err := p.OpenStream(pcmHints); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	sendPackets(t, p, 0, 10)
	waitFor(t, "all packets decoded", func() bool { return len(dec.snapshot()) == 10 })

	for i, pkt := range dec.snapshot() {
		want := pcmPacket(i)
		if pkt.PTS != want.PTS {
			t.Errorf("packet %d: expected pts %v, got %v", i, want.PTS, pkt.PTS)
		}
		if !bytes.Equal(pkt.Data, want.Data) {
			t.Errorf("packet %d: payload changed", i)
		}
	}
	if len(dec.refused) != 3 {
		t.Errorf("expected 3 refusals, got %d", len(dec.refused))
	}
	p.CloseStream(false)
}

func TestSyncTypeSwitchKeepsFrameOrder(t *testing.T) {
	env := newTestEnv(t, engine.DefaultSettings(), 400*time.Millisecond)
	p := env.player

	live := pcmHints
	live.Realtime = true
	if err := p.OpenStream(live); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	sendPackets(t, p, 0, 10)
	resync(t, env, env.rec.waitStarted(t))
	if adj := env.eng.Clock.MaxSpeedAdjust(); adj != maxSpeedAdjust {
		t.Errorf("expected resample mode with max adjust %v, got %v", maxSpeedAdjust, adj)
	}

	if err := p.OpenStream(pcmHints); err != nil {
		t.Fatalf("stream change: %v", err)
	}
	sendPackets(t, p, 10, 10)
	resync(t, env, env.rec.waitStarted(t))
	if adj := env.eng.Clock.MaxSpeedAdjust(); adj != 0 {
		t.Errorf("expected discon mode, got max adjust %v", adj)
	}

	p.CloseStream(true)
	ids := env.rec.frameIDs()
	if len(ids) == 0 {
		t.Fatal("expected audio written")
	}
	for i, id := range ids {
		if id != uint64(i+1) {
			t.Fatalf("expected frame id %d at position %d, got %d", i+1, i, id)
		}
	}
	if last := ids[len(ids)-1]; last != p.Renderer().nextID {
		t.Errorf("expected all %d buffers played, last was %d", p.Renderer().nextID, last)
	}
}

func TestFlushTwice(t *testing.T) {
	env := newTestEnv(t, engine.DefaultSettings(), 400*time.Millisecond)
	p := env.player
	if err := p.OpenStream(pcmHints); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	sendPackets(t, p, 0, 10)
	env.rec.waitStarted(t)

	p.Flush(true)
	p.Flush(true)
	waitFor(t, "flush", func() bool {
		return p.Renderer().Outstanding() == 0 && p.Level() == 0
	})
	if q := env.eng.Stats.Snapshot().Queued; q != 0 {
		t.Errorf("expected nothing queued, got %v", q)
	}
	waitFor(t, "starting", func() bool { return p.SyncState() == SyncStarting })

	// The stream restarts from scratch after the flush.
	sendPackets(t, p, 20, 10)
	s := env.rec.waitStarted(t)
	if s.Timestamp < 20*packetTime {
		t.Errorf("expected restart at new packets, got %v", s.Timestamp)
	}
	p.CloseStream(false)
	if n := p.Renderer().Outstanding(); n != 0 {
		t.Errorf("expected every buffer returned, got %d outstanding", n)
	}
}

func TestOpenStreamUnsupported(t *testing.T) {
	env := newTestEnv(t, engine.DefaultSettings(), 200*time.Millisecond)
	err := env.player.OpenStream(decode.Hints{Codec: "ac3", SampleRate: 48000, Channels: 6})
	if err == nil {
		t.Fatal("expected ac3 without passthrough to fail")
	}
	if env.player.IsInited() {
		t.Error("expected player not started")
	}
}

func TestSynchronizeBarrier(t *testing.T) {
	b := NewBarrier(2)
	done := make(chan bool)
	go func() { done <- b.Wait(time.Second, "video") }()
	if !b.Wait(time.Second, "audio") {
		t.Error("expected barrier to release audio")
	}
	if !<-done {
		t.Error("expected barrier to release video")
	}

	lone := NewBarrier(2)
	if lone.Wait(10*time.Millisecond, "audio") {
		t.Error("expected timeout with one participant")
	}
}

func TestPassthroughStreamType(t *testing.T) {
	s := engine.DefaultSettings()
	s.Passthrough = true
	s.PassthroughTypes = []audio.StreamType{audio.StreamAC3, audio.StreamDTS1024}
	r := &Renderer{settings: s}

	tests := []struct {
		codec string
		rate  int
		want  audio.StreamType
	}{
		{"ac3", 48000, audio.StreamAC3},
		{"eac3", 48000, audio.StreamNone},
		{"dts", 48000, audio.StreamDTS1024},
		{"pcm", 48000, audio.StreamNone},
		{"ac3", 0, audio.StreamNone},
	}
	for _, tt := range tests {
		t.Run(tt.codec, func(t *testing.T) {
			if got := r.GetPassthroughStreamType(tt.codec, tt.rate); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

// recordingDecoder remembers the pts of every packet it accepted.
type recordingDecoder struct {
	*decode.PCMDecoder

	mu  sync.Mutex
	pts []time.Duration
}

func (d *recordingDecoder) AddData(pkt decode.Packet) error {
	if err := d.PCMDecoder.AddData(pkt); err != nil {
		return err
	}
	d.mu.Lock()
	d.pts = append(d.pts, pkt.PTS)
	d.mu.Unlock()
	return nil
}

func (d *recordingDecoder) accepted(pts time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.pts {
		if p == pts {
			return true
		}
	}
	return false
}

func TestDropMarkerRestartsSync(t *testing.T) {
	var dec *recordingDecoder
	factory := func(h decode.Hints, _ decode.Options) (decode.Decoder, error) {
		pcm, err := decode.NewPCM(h)
		if err != nil {
			return nil, err
		}
		dec = &recordingDecoder{PCMDecoder: pcm}
		return dec, nil
	}
	env := newTestEnv(t, engine.DefaultSettings(), 400*time.Millisecond, engine.WithDecoderFactory(factory))
	p := env.player
	if err := p.OpenStream(pcmHints); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	sendPackets(t, p, 0, 10)
	resync(t, env, env.rec.waitStarted(t))

	dropped := pcmPacket(10)
	if err := p.SendMessage(NewPacket(dropped, true), 0); err != nil {
		t.Fatalf("send drop marker: %v", err)
	}
	waitFor(t, "starting", func() bool { return p.SyncState() == SyncStarting })
	if q := env.eng.Stats.Snapshot().Queued; q != 0 {
		t.Errorf("expected buffered audio flushed, got %v queued", q)
	}

	sendPackets(t, p, 11, 10)
	s := env.rec.waitStarted(t)
	if s.Timestamp < 11*packetTime {
		t.Errorf("expected restart after the marker, got %v", s.Timestamp)
	}
	if n := env.rec.started.Load(); n != 2 {
		t.Errorf("expected Started twice, got %d", n)
	}
	if dec.accepted(dropped.PTS) {
		t.Error("expected the marked packet not to be decoded")
	}
	p.CloseStream(false)
}

func TestDropMarkerWhileStarting(t *testing.T) {
	env := newTestEnv(t, engine.DefaultSettings(), 400*time.Millisecond)
	p := env.player
	if err := p.OpenStream(pcmHints); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if err := p.SendMessage(NewPacket(pcmPacket(0), true), 0); err != nil {
		t.Fatalf("send drop marker: %v", err)
	}
	sendPackets(t, p, 1, 10)

	s := env.rec.waitStarted(t)
	if got := s.FirstPTS(); got < packetTime-5*time.Millisecond || got > packetTime+5*time.Millisecond {
		t.Errorf("expected buffered audio to begin after the marked packet, got %v", got)
	}
	if st := p.SyncState(); st != SyncWaitSync {
		t.Errorf("expected waitsync, got %s", st)
	}
	p.CloseStream(false)
}

func TestResetFlushesRenderer(t *testing.T) {
	env := newTestEnv(t, engine.DefaultSettings(), 400*time.Millisecond)
	p := env.player
	if err := p.OpenStream(pcmHints); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	sendPackets(t, p, 0, 10)
	resync(t, env, env.rec.waitStarted(t))
	waitFor(t, "packets decoded", func() bool {
		return p.queue.Count(isPacket) == 0 && p.Info().AudioClock > 0
	})

	if err := p.SendMessage(NewSignal(MsgGeneralReset), 1); err != nil {
		t.Fatalf("reset: %v", err)
	}
	waitFor(t, "reset", func() bool {
		info := p.Info()
		return info.SyncState == SyncStarting && info.AudioClock == 0
	})
	if q := env.eng.Stats.Snapshot().Queued; q != 0 {
		t.Errorf("expected nothing queued after reset, got %v", q)
	}

	sendPackets(t, p, 20, 10)
	s := env.rec.waitStarted(t)
	if s.Timestamp < 20*packetTime {
		t.Errorf("expected restart at new packets, got %v", s.Timestamp)
	}
	p.CloseStream(false)
	if n := p.Renderer().Outstanding(); n != 0 {
		t.Errorf("expected every buffer returned, got %d outstanding", n)
	}
}

func TestRendererCreateFailurePlaysMuted(t *testing.T) {
	dev := output.NewNull(output.WithOpenError(errors.New("device unplugged")))
	env := newDeviceEnv(t, engine.DefaultSettings(), dev)
	p := env.player
	if err := p.OpenStream(pcmHints); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	sendPackets(t, p, 0, 10)
	resync(t, env, env.rec.waitStarted(t))

	waitFor(t, "packets consumed", func() bool {
		return p.queue.Count(isPacket) == 0 && p.Info().AudioClock >= 10*packetTime
	})
	p.CloseStream(false)

	if got := dev.Written(); got != 0 {
		t.Errorf("expected nothing written to a failed device, got %d frames", got)
	}
	if n := p.Renderer().Outstanding(); n != 0 {
		t.Errorf("expected no buffers outstanding, got %d", n)
	}
}

func TestSilencePlaysZeros(t *testing.T) {
	var mu sync.Mutex
	var total, loud int
	dev := output.NewNull(
		output.WithNullBuffer(400*time.Millisecond),
		output.WithRecorder(func(data []byte) {
			mu.Lock()
			defer mu.Unlock()
			total += len(data)
			for _, b := range data {
				if b != 0 {
					loud++
				}
			}
		}))
	env := newDeviceEnv(t, engine.DefaultSettings(), dev)
	p := env.player
	if err := p.OpenStream(pcmHints); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if err := p.SendMessage(NewSilence(true), 1); err != nil {
		t.Fatalf("silence: %v", err)
	}
	sendPackets(t, p, 0, 4)
	if err := p.SendMessage(NewSignal(MsgGeneralEOF), 0); err != nil {
		t.Fatalf("eof: %v", err)
	}
	resync(t, env, env.rec.waitStarted(t))
	p.CloseStream(true)

	if got := dev.Written(); got != 4*packetFrames {
		t.Errorf("expected %d frames played, got %d", 4*packetFrames, got)
	}
	mu.Lock()
	defer mu.Unlock()
	if total == 0 {
		t.Fatal("expected audio written")
	}
	if loud != 0 {
		t.Errorf("expected only zero bytes while silenced, got %d of %d", loud, total)
	}
}

func TestFastForwardStillStarts(t *testing.T) {
	env := newTestEnv(t, engine.DefaultSettings(), 400*time.Millisecond)
	p := env.player
	if err := p.OpenStream(pcmHints); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	p.SetSpeed(4)
	sendPackets(t, p, 0, 10)

	s := env.rec.waitStarted(t)
	if s.CacheTime < 300*time.Millisecond {
		t.Errorf("expected cache time >= 300ms, got %v", s.CacheTime)
	}
	if got := p.Speed(); got != 4 {
		t.Errorf("expected speed 4, got %v", got)
	}
	resync(t, env, s)

	// In sync at a speed the tempo range cannot play, packets are discarded.
	sendPackets(t, p, 10, 10)
	waitFor(t, "packets discarded", func() bool { return p.queue.Count(isPacket) == 0 })
	if c := p.Info().AudioClock; c > 10*packetTime {
		t.Errorf("expected discarded packets not to advance the audio clock, got %v", c)
	}
	p.CloseStream(false)
}

func TestSetSpeedBeforeOpen(t *testing.T) {
	env := newTestEnv(t, engine.DefaultSettings(), 200*time.Millisecond)
	p := env.player
	if got := p.Speed(); got != SpeedNormal {
		t.Errorf("expected normal speed, got %v", got)
	}
	p.SetSpeed(1.25)
	if got := p.Speed(); got != 1.25 {
		t.Errorf("expected speed 1.25, got %v", got)
	}
}
