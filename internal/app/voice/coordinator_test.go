package voice

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/avesler/huddle/internal/core"
	"github.com/avesler/huddle/internal/domain"
	"github.com/avesler/huddle/internal/media"
)

type fakeRelay struct {
	id core.ConnID

	mu       sync.Mutex
	handlers map[string]core.EventHandler
	sent     []any
}

func newFakeRelay(id core.ConnID) *fakeRelay {
	return &fakeRelay{id: id, handlers: make(map[string]core.EventHandler)}
}

func (r *fakeRelay) ConnID() core.ConnID { return r.id }

func (r *fakeRelay) Emit(payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, payload)
	return nil
}

func (r *fakeRelay) Handle(event string, fn core.EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = fn
}

func (r *fakeRelay) Close() error { return nil }

func (r *fakeRelay) deliver(t *testing.T, payload any) {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var env core.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	r.mu.Lock()
	fn, ok := r.handlers[env.Type]
	r.mu.Unlock()
	if !ok {
		t.Fatalf("no handler registered for %q", env.Type)
	}
	fn(b)
}

func (r *fakeRelay) emitted() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.sent))
	copy(out, r.sent)
	return out
}

func (r *fakeRelay) countType(event string) int {
	n := 0
	for _, v := range r.emitted() {
		b, _ := json.Marshal(v)
		var env core.Envelope
		_ = json.Unmarshal(b, &env)
		if env.Type == event {
			n++
		}
	}
	return n
}

type fakeDevices struct {
	mu       sync.Mutex
	fail     bool
	acquired []*media.LocalStream
}

func (d *fakeDevices) Acquire(ctx context.Context, withVideo bool) (*media.LocalStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errors.New("no capture device")
	}
	var video *media.Track
	if withVideo {
		video = media.NewTrack(media.KindVideo, nil)
	}
	s := media.NewLocalStream(media.NewTrack(media.KindAudio, nil), video)
	d.acquired = append(d.acquired, s)
	return s, nil
}

type fakeSession struct {
	mu        sync.Mutex
	remote    core.ConnID
	initiator bool

	onSignal func(core.SessionSignal)
	onStream func(*media.RemoteStream)
	onClosed func()

	started   bool
	destroyed bool
	received  []core.SessionSignal
}

func offerSignal() core.SessionSignal {
	return core.SessionSignal{SDP: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}}
}

func answerSignal() core.SessionSignal {
	return core.SessionSignal{SDP: &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}}
}

func (s *fakeSession) Start(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	fire := s.initiator
	sink := s.onSignal
	s.mu.Unlock()
	if fire && sink != nil {
		sink(offerSignal())
	}
	return nil
}

func (s *fakeSession) Signal(sig core.SessionSignal) error {
	s.mu.Lock()
	s.received = append(s.received, sig)
	answer := !s.initiator && sig.SDP != nil && sig.SDP.Type == webrtc.SDPTypeOffer
	sink := s.onSignal
	s.mu.Unlock()
	if answer && sink != nil {
		sink(answerSignal())
	}
	return nil
}

func (s *fakeSession) OnSignal(fn func(core.SessionSignal)) {
	s.mu.Lock()
	s.onSignal = fn
	s.mu.Unlock()
}

func (s *fakeSession) OnStream(fn func(*media.RemoteStream)) {
	s.mu.Lock()
	s.onStream = fn
	s.mu.Unlock()
}

func (s *fakeSession) OnClosed(fn func()) {
	s.mu.Lock()
	s.onClosed = fn
	s.mu.Unlock()
}

func (s *fakeSession) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()
}

func (s *fakeSession) gotSignals() []core.SessionSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.SessionSignal, len(s.received))
	copy(out, s.received)
	return out
}

func (s *fakeSession) isDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeSession
}

func (f *fakeFactory) NewSession(remote core.ConnID, initiator bool, local *media.LocalStream) (core.PeerSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSession{remote: remote, initiator: initiator}
	f.created = append(f.created, s)
	return s, nil
}

func (f *fakeFactory) sessions() []*fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeSession, len(f.created))
	copy(out, f.created)
	return out
}

func newTestCoordinator(id core.ConnID, user domain.UserID) (*Coordinator, *fakeRelay, *fakeDevices, *fakeFactory) {
	relay := newFakeRelay(id)
	devices := &fakeDevices{}
	factory := &fakeFactory{}
	c := New(relay, devices, factory, media.NewControls(), user)
	return c, relay, devices, factory
}

func TestJoinAnnouncesMembership(t *testing.T) {
	c, relay, devices, _ := newTestCoordinator("conn-a", "alice")

	if err := c.Join(context.Background(), "ops"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if got := c.RoomID(); got != "ops" {
		t.Fatalf("room = %q, want ops", got)
	}
	if len(devices.acquired) != 1 {
		t.Fatalf("acquired %d streams, want 1", len(devices.acquired))
	}

	sent := relay.emitted()
	if len(sent) != 1 {
		t.Fatalf("emitted %d payloads, want 1", len(sent))
	}
	jv, ok := sent[0].(core.JoinVoice)
	if !ok {
		t.Fatalf("emitted %T, want core.JoinVoice", sent[0])
	}
	if jv.RoomID != "ops" || jv.UserID != "alice" || jv.PeerID != "conn-a" {
		t.Fatalf("bad join-voice: %+v", jv)
	}
}

func TestJoinSameRoomIsNoop(t *testing.T) {
	c, relay, devices, _ := newTestCoordinator("conn-a", "alice")

	if err := c.Join(context.Background(), "ops"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := c.Join(context.Background(), "ops"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if n := relay.countType(core.EventJoinVoice); n != 1 {
		t.Fatalf("join-voice emitted %d times, want 1", n)
	}
	if len(devices.acquired) != 1 {
		t.Fatalf("acquired %d streams, want 1", len(devices.acquired))
	}
}

func TestJoinOtherRoomTearsDownFirst(t *testing.T) {
	c, relay, devices, factory := newTestCoordinator("conn-a", "alice")

	if err := c.Join(context.Background(), "ops"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	relay.deliver(t, core.UserJoinedVoice{Type: core.EventUserJoinedVoice, UserID: "bob", PeerID: "conn-b"})
	if n := len(c.Participants()); n != 1 {
		t.Fatalf("participants = %d, want 1", n)
	}

	if err := c.Join(context.Background(), "standup"); err != nil {
		t.Fatalf("Join other room: %v", err)
	}
	if got := c.RoomID(); got != "standup" {
		t.Fatalf("room = %q, want standup", got)
	}
	if n := len(c.Participants()); n != 0 {
		t.Fatalf("participants carried across rooms: %d", n)
	}
	if !factory.sessions()[0].isDestroyed() {
		t.Fatal("old room session not destroyed")
	}
	if !devices.acquired[0].Stopped() {
		t.Fatal("old stream not stopped")
	}
	if devices.acquired[1].Stopped() {
		t.Fatal("new stream stopped prematurely")
	}
	if n := relay.countType(core.EventLeaveVoice); n != 1 {
		t.Fatalf("leave-voice emitted %d times, want 1", n)
	}
	if n := relay.countType(core.EventJoinVoice); n != 2 {
		t.Fatalf("join-voice emitted %d times, want 2", n)
	}
}

func TestMemberJoinedStartsInitiatorSession(t *testing.T) {
	c, relay, _, factory := newTestCoordinator("conn-a", "alice")

	if err := c.Join(context.Background(), "ops"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	relay.deliver(t, core.UserJoinedVoice{Type: core.EventUserJoinedVoice, UserID: "bob", PeerID: "conn-b"})

	sessions := factory.sessions()
	if len(sessions) != 1 {
		t.Fatalf("created %d sessions, want 1", len(sessions))
	}
	sess := sessions[0]
	if !sess.initiator || sess.remote != "conn-b" {
		t.Fatalf("bad session: initiator=%v remote=%q", sess.initiator, sess.remote)
	}

	var sig *core.VoiceSignal
	for _, v := range relay.emitted() {
		if vs, ok := v.(core.VoiceSignal); ok {
			sig = &vs
		}
	}
	if sig == nil {
		t.Fatal("no voice-signal emitted for the offer")
	}
	if sig.TargetID != "conn-b" || sig.CallerID != "conn-a" {
		t.Fatalf("bad voice-signal routing: %+v", sig)
	}
	if sig.Metadata.UserID != "alice" {
		t.Fatalf("voice-signal metadata user = %q, want alice", sig.Metadata.UserID)
	}
	if sig.Signal.SDP == nil || sig.Signal.SDP.Type != webrtc.SDPTypeOffer {
		t.Fatalf("voice-signal carries no offer: %+v", sig.Signal)
	}
}

func TestOwnJoinEchoIgnored(t *testing.T) {
	c, relay, _, factory := newTestCoordinator("conn-a", "alice")

	if err := c.Join(context.Background(), "ops"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	relay.deliver(t, core.UserJoinedVoice{Type: core.EventUserJoinedVoice, UserID: "alice", PeerID: "conn-a"})
	if n := len(factory.sessions()); n != 0 {
		t.Fatalf("self join event created %d sessions", n)
	}
}

func TestUnknownSignalStartsReceiverSession(t *testing.T) {
	c, relay, _, factory := newTestCoordinator("conn-b", "bob")

	if err := c.Join(context.Background(), "ops"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	relay.deliver(t, core.VoiceSignal{
		Type:     core.EventVoiceSignal,
		TargetID: "conn-b",
		CallerID: "conn-a",
		Signal:   offerSignal(),
		Metadata: core.VoiceSignalMeta{UserID: "alice"},
	})

	sessions := factory.sessions()
	if len(sessions) != 1 {
		t.Fatalf("created %d sessions, want 1", len(sessions))
	}
	sess := sessions[0]
	if sess.initiator {
		t.Fatal("receiver session must not be the initiator")
	}
	sigs := sess.gotSignals()
	if len(sigs) != 1 || sigs[0].SDP == nil || sigs[0].SDP.Type != webrtc.SDPTypeOffer {
		t.Fatalf("offer not fed to session: %+v", sigs)
	}

	var answer *core.VoiceSignal
	for _, v := range relay.emitted() {
		if vs, ok := v.(core.VoiceSignal); ok {
			answer = &vs
		}
	}
	if answer == nil {
		t.Fatal("no answer voice-signal emitted")
	}
	if answer.TargetID != "conn-a" || answer.Signal.SDP == nil || answer.Signal.SDP.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("bad answer voice-signal: %+v", answer)
	}

	parts := c.Participants()
	if len(parts) != 1 || parts[0].User != "alice" {
		t.Fatalf("participant not registered from signal metadata: %+v", parts)
	}
}

func TestKnownSignalFeedsExistingSession(t *testing.T) {
	c, relay, _, factory := newTestCoordinator("conn-a", "alice")

	if err := c.Join(context.Background(), "ops"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	relay.deliver(t, core.UserJoinedVoice{Type: core.EventUserJoinedVoice, UserID: "bob", PeerID: "conn-b"})
	relay.deliver(t, core.VoiceSignal{
		Type:     core.EventVoiceSignal,
		CallerID: "conn-b",
		Signal:   answerSignal(),
		Metadata: core.VoiceSignalMeta{UserID: "bob"},
	})

	sessions := factory.sessions()
	if len(sessions) != 1 {
		t.Fatalf("created %d sessions, want 1 (dispatch must reuse)", len(sessions))
	}
	sigs := sessions[0].gotSignals()
	if len(sigs) != 1 || sigs[0].SDP == nil || sigs[0].SDP.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer not applied to initiator session: %+v", sigs)
	}
}

func TestSignalBeforeJoinEventTolerated(t *testing.T) {
	c, relay, _, factory := newTestCoordinator("conn-b", "bob")

	if err := c.Join(context.Background(), "ops"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	relay.deliver(t, core.VoiceSignal{
		Type:     core.EventVoiceSignal,
		CallerID: "conn-a",
		Signal:   offerSignal(),
		Metadata: core.VoiceSignalMeta{UserID: "alice"},
	})
	// The join event arrives late; the standing session must survive.
	relay.deliver(t, core.UserJoinedVoice{Type: core.EventUserJoinedVoice, UserID: "alice", PeerID: "conn-a"})

	if n := len(factory.sessions()); n != 1 {
		t.Fatalf("created %d sessions, want 1", n)
	}
	if n := len(c.Participants()); n != 1 {
		t.Fatalf("participants = %d, want 1", n)
	}
}

func TestSignalsDroppedWhenNotInRoom(t *testing.T) {
	c, relay, _, factory := newTestCoordinator("conn-b", "bob")

	relay.deliver(t, core.VoiceSignal{
		Type:     core.EventVoiceSignal,
		CallerID: "conn-a",
		Signal:   offerSignal(),
		Metadata: core.VoiceSignalMeta{UserID: "alice"},
	})
	relay.deliver(t, core.UserJoinedVoice{Type: core.EventUserJoinedVoice, UserID: "alice", PeerID: "conn-a"})

	if n := len(factory.sessions()); n != 0 {
		t.Fatalf("events outside a room created %d sessions", n)
	}
	if n := len(c.Participants()); n != 0 {
		t.Fatalf("participants = %d, want 0", n)
	}
}

func TestMemberLeftResolvedByUserID(t *testing.T) {
	c, relay, _, factory := newTestCoordinator("conn-a", "alice")

	if err := c.Join(context.Background(), "ops"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	relay.deliver(t, core.UserJoinedVoice{Type: core.EventUserJoinedVoice, UserID: "bob", PeerID: "conn-b"})

	var left []Participant
	c.OnParticipantLeft(func(p Participant) { left = append(left, p) })

	relay.deliver(t, core.UserLeftVoice{Type: core.EventUserLeftVoice, UserID: "bob"})

	if n := len(c.Participants()); n != 0 {
		t.Fatalf("participants = %d after leave, want 0", n)
	}
	if !factory.sessions()[0].isDestroyed() {
		t.Fatal("departed member's session not destroyed")
	}
	if len(left) != 1 || left[0].User != "bob" {
		t.Fatalf("leave notification = %+v", left)
	}

	// Unknown user leaves: nothing to do.
	relay.deliver(t, core.UserLeftVoice{Type: core.EventUserLeftVoice, UserID: "mallory"})
	if len(left) != 1 {
		t.Fatalf("unknown user produced a leave notification: %+v", left)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	c, relay, devices, factory := newTestCoordinator("conn-a", "alice")

	if err := c.Join(context.Background(), "ops"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	relay.deliver(t, core.UserJoinedVoice{Type: core.EventUserJoinedVoice, UserID: "bob", PeerID: "conn-b"})

	c.Leave()
	c.Leave()

	if got := c.RoomID(); got != "" {
		t.Fatalf("room = %q after leave, want empty", got)
	}
	if n := relay.countType(core.EventLeaveVoice); n != 1 {
		t.Fatalf("leave-voice emitted %d times, want 1", n)
	}
	if !factory.sessions()[0].isDestroyed() {
		t.Fatal("session not destroyed on leave")
	}
	if !devices.acquired[0].Stopped() {
		t.Fatal("stream not stopped on leave")
	}
}

func TestLeaveWithoutRoomEmitsNothing(t *testing.T) {
	c, relay, _, _ := newTestCoordinator("conn-a", "alice")
	c.Leave()
	if n := len(relay.emitted()); n != 0 {
		t.Fatalf("emitted %d payloads without a room, want 0", n)
	}
}

func TestMediaFailureAbortsJoin(t *testing.T) {
	relay := newFakeRelay("conn-a")
	devices := &fakeDevices{fail: true}
	c := New(relay, devices, &fakeFactory{}, media.NewControls(), "alice")

	if err := c.Join(context.Background(), "ops"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if got := c.RoomID(); got != "" {
		t.Fatalf("room = %q after failed acquisition, want empty", got)
	}
	if n := len(relay.emitted()); n != 0 {
		t.Fatalf("emitted %d payloads without media, want 0", n)
	}
}
