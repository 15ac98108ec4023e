// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/mattermost/callsignal/service/calls"
	"github.com/mattermost/callsignal/service/relay"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const testSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type fakeBus struct {
	mut     sync.Mutex
	handler func(Envelope)
	rooms   map[string]bool
	ops     []string
	emitted []Envelope
	emitErr error
}

func newFakeBus() *fakeBus {
	return &fakeBus{rooms: make(map[string]bool)}
}

func (b *fakeBus) JoinRoom(room string) error {
	b.mut.Lock()
	defer b.mut.Unlock()
	b.rooms[room] = true
	b.ops = append(b.ops, "join:"+room)
	return nil
}

func (b *fakeBus) LeaveRoom(room string) error {
	b.mut.Lock()
	defer b.mut.Unlock()
	delete(b.rooms, room)
	b.ops = append(b.ops, "leave:"+room)
	return nil
}

func (b *fakeBus) Emit(env Envelope) error {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.emitErr != nil {
		return b.emitErr
	}
	b.emitted = append(b.emitted, env)
	b.ops = append(b.ops, "emit:"+string(env.Type))
	return nil
}

func (b *fakeBus) Subscribe(fn func(Envelope)) error {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.handler != nil {
		return ErrAlreadySubscribed
	}
	b.handler = fn
	return nil
}

func (b *fakeBus) setEmitErr(err error) {
	b.mut.Lock()
	defer b.mut.Unlock()
	b.emitErr = err
}

func (b *fakeBus) deliver(env Envelope) {
	b.mut.Lock()
	fn := b.handler
	b.mut.Unlock()
	fn(env)
}

func (b *fakeBus) inRoom(room string) bool {
	b.mut.Lock()
	defer b.mut.Unlock()
	return b.rooms[room]
}

func (b *fakeBus) emits(envType EnvelopeType) []Envelope {
	b.mut.Lock()
	defer b.mut.Unlock()
	var envs []Envelope
	for _, env := range b.emitted {
		if env.Type == envType {
			envs = append(envs, env)
		}
	}
	return envs
}

func (b *fakeBus) opsLog() []string {
	b.mut.Lock()
	defer b.mut.Unlock()
	return append([]string(nil), b.ops...)
}

type fakeBookkeeper struct {
	mut       sync.Mutex
	nextID    int
	created   []string
	answered  []string
	rejected  []string
	ended     map[string]int64
	endCalls  int
	createErr error
	answerErr error
	endErr    error
	rejectErr error
	// onAnswer runs inside MarkAnswered before it returns.
	onAnswer func()
}

func newFakeBookkeeper() *fakeBookkeeper {
	return &fakeBookkeeper{ended: make(map[string]int64)}
}

func (b *fakeBookkeeper) CreateCall(_ context.Context, peerUserID string, _ Mode) (string, error) {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.createErr != nil {
		return "", b.createErr
	}
	b.nextID++
	id := fmt.Sprintf("call%d", b.nextID)
	b.created = append(b.created, peerUserID)
	return id, nil
}

func (b *fakeBookkeeper) MarkAnswered(_ context.Context, callID string) error {
	b.mut.Lock()
	fn := b.onAnswer
	err := b.answerErr
	if err == nil {
		b.answered = append(b.answered, callID)
	}
	b.mut.Unlock()
	if fn != nil {
		fn()
	}
	return err
}

func (b *fakeBookkeeper) MarkEnded(_ context.Context, callID string, durationSeconds int64) error {
	b.mut.Lock()
	defer b.mut.Unlock()
	b.endCalls++
	if b.endErr != nil {
		return b.endErr
	}
	b.ended[callID] = durationSeconds
	return nil
}

func (b *fakeBookkeeper) MarkRejected(_ context.Context, callID string) error {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.rejectErr != nil {
		return b.rejectErr
	}
	b.rejected = append(b.rejected, callID)
	return nil
}

func (b *fakeBookkeeper) History(_ context.Context, limit int) ([]calls.Record, error) {
	b.mut.Lock()
	defer b.mut.Unlock()
	records := make([]calls.Record, 0, limit)
	for _, id := range b.created {
		records = append(records, calls.Record{ID: id})
	}
	return records, nil
}

func (b *fakeBookkeeper) endedWith(callID string) (int64, bool) {
	b.mut.Lock()
	defer b.mut.Unlock()
	dur, ok := b.ended[callID]
	return dur, ok
}

func (b *fakeBookkeeper) endCount() int {
	b.mut.Lock()
	defer b.mut.Unlock()
	return b.endCalls
}

func (b *fakeBookkeeper) answeredCalls() []string {
	b.mut.Lock()
	defer b.mut.Unlock()
	return append([]string(nil), b.answered...)
}

func (b *fakeBookkeeper) rejectedCalls() []string {
	b.mut.Lock()
	defer b.mut.Unlock()
	return append([]string(nil), b.rejected...)
}

type fakeTrack struct {
	id   string
	kind webrtc.RTPCodecType

	mut     sync.Mutex
	enabled bool
	stopped bool
}

func (t *fakeTrack) ID() string                    { return t.id }
func (t *fakeTrack) Kind() webrtc.RTPCodecType     { return t.kind }
func (t *fakeTrack) TrackLocal() webrtc.TrackLocal { return nil }

func (t *fakeTrack) Enabled() bool {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Stop() {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.stopped = true
}

func (t *fakeTrack) isStopped() bool {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.stopped
}

type fakeMedia struct {
	mut      sync.Mutex
	n        int
	err      error
	acquired []*TrackSet
	// onAcquire runs inside Acquire before it returns.
	onAcquire func()
}

func (m *fakeMedia) Acquire(_ context.Context, wantVideo bool) (*TrackSet, error) {
	m.mut.Lock()
	fn := m.onAcquire
	err := m.err
	var ts *TrackSet
	if err == nil {
		m.n++
		ts = &TrackSet{Audio: &fakeTrack{id: fmt.Sprintf("audio%d", m.n), kind: webrtc.RTPCodecTypeAudio, enabled: true}}
		if wantVideo {
			ts.Video = &fakeTrack{id: fmt.Sprintf("video%d", m.n), kind: webrtc.RTPCodecTypeVideo, enabled: true}
		}
		m.acquired = append(m.acquired, ts)
	}
	m.mut.Unlock()

	if fn != nil {
		fn()
	}
	return ts, err
}

func (m *fakeMedia) setErr(err error) {
	m.mut.Lock()
	defer m.mut.Unlock()
	m.err = err
}

func (m *fakeMedia) setOnAcquire(fn func()) {
	m.mut.Lock()
	defer m.mut.Unlock()
	m.onAcquire = fn
}

func (m *fakeMedia) last() *TrackSet {
	m.mut.Lock()
	defer m.mut.Unlock()
	if len(m.acquired) == 0 {
		return nil
	}
	return m.acquired[len(m.acquired)-1]
}

type fakeSender struct {
	kind  webrtc.RTPCodecType
	track LocalTrack
}

func (s *fakeSender) Kind() webrtc.RTPCodecType { return s.kind }

func (s *fakeSender) ReplaceTrack(track LocalTrack) error {
	s.track = track
	return nil
}

type fakePeerConn struct {
	mut sync.Mutex

	senders    []*fakeSender
	removed    int
	offers     int
	answers    int
	rollbacks  int
	local      []webrtc.SessionDescription
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     bool

	setRemoteErr error

	onICE     func(webrtc.ICECandidateInit)
	onTrack   func(RemoteTrack)
	onState   func(webrtc.PeerConnectionState)
	onQuality func(float64, float64)
}

func (pc *fakePeerConn) AddTrack(track LocalTrack) (Sender, error) {
	pc.mut.Lock()
	defer pc.mut.Unlock()
	snd := &fakeSender{kind: track.Kind(), track: track}
	pc.senders = append(pc.senders, snd)
	return snd, nil
}

func (pc *fakePeerConn) RemoveTrack(Sender) error {
	pc.mut.Lock()
	defer pc.mut.Unlock()
	pc.removed++
	return nil
}

func (pc *fakePeerConn) CreateOffer() (webrtc.SessionDescription, error) {
	pc.mut.Lock()
	defer pc.mut.Unlock()
	pc.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP}, nil
}

func (pc *fakePeerConn) CreateAnswer() (webrtc.SessionDescription, error) {
	pc.mut.Lock()
	defer pc.mut.Unlock()
	pc.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testSDP}, nil
}

func (pc *fakePeerConn) SetLocalDescription(sd webrtc.SessionDescription) error {
	pc.mut.Lock()
	defer pc.mut.Unlock()
	pc.local = append(pc.local, sd)
	return nil
}

func (pc *fakePeerConn) SetRemoteDescription(sd webrtc.SessionDescription) error {
	pc.mut.Lock()
	defer pc.mut.Unlock()
	if pc.setRemoteErr != nil {
		return pc.setRemoteErr
	}
	pc.remote = append(pc.remote, sd)
	return nil
}

func (pc *fakePeerConn) Rollback() error {
	pc.mut.Lock()
	defer pc.mut.Unlock()
	pc.rollbacks++
	return nil
}

func (pc *fakePeerConn) AddICECandidate(c webrtc.ICECandidateInit) error {
	pc.mut.Lock()
	defer pc.mut.Unlock()
	pc.candidates = append(pc.candidates, c)
	return nil
}

func (pc *fakePeerConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	pc.mut.Lock()
	defer pc.mut.Unlock()
	pc.onICE = fn
}

func (pc *fakePeerConn) OnTrack(fn func(RemoteTrack)) {
	pc.mut.Lock()
	defer pc.mut.Unlock()
	pc.onTrack = fn
}

func (pc *fakePeerConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	pc.mut.Lock()
	defer pc.mut.Unlock()
	pc.onState = fn
}

func (pc *fakePeerConn) OnQuality(fn func(float64, float64)) {
	pc.mut.Lock()
	defer pc.mut.Unlock()
	pc.onQuality = fn
}

func (pc *fakePeerConn) Close() error {
	pc.mut.Lock()
	defer pc.mut.Unlock()
	pc.closed = true
	return nil
}

func (pc *fakePeerConn) isClosed() bool {
	pc.mut.Lock()
	defer pc.mut.Unlock()
	return pc.closed
}

func (pc *fakePeerConn) counts() (offers, answers, rollbacks int) {
	pc.mut.Lock()
	defer pc.mut.Unlock()
	return pc.offers, pc.answers, pc.rollbacks
}

func (pc *fakePeerConn) remoteCandidates() []webrtc.ICECandidateInit {
	pc.mut.Lock()
	defer pc.mut.Unlock()
	return append([]webrtc.ICECandidateInit(nil), pc.candidates...)
}

type fakeRemoteTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (t fakeRemoteTrack) ID() string                { return t.id }
func (t fakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

type eventRecorder struct {
	mut    sync.Mutex
	events map[EventType][]any
}

func (r *eventRecorder) get(eventType EventType) []any {
	r.mut.Lock()
	defer r.mut.Unlock()
	return append([]any(nil), r.events[eventType]...)
}

type testEnv struct {
	tb     testing.TB
	userID string
	ctrl   *Controller
	bus    *fakeBus
	books  *fakeBookkeeper
	media  *fakeMedia
	rec    *eventRecorder

	pcMut sync.Mutex
	pcs   []*fakePeerConn
}

func newTestEnv(tb testing.TB, userID string, cfgFns ...func(cfg *Config)) *testEnv {
	tb.Helper()

	env := &testEnv{
		tb:     tb,
		userID: userID,
		bus:    newFakeBus(),
		books:  newFakeBookkeeper(),
		media:  &fakeMedia{},
		rec:    &eventRecorder{events: make(map[EventType][]any)},
	}

	cfg := Config{
		UserID:      userID,
		DisplayName: "User " + userID,
		RingTimeout: time.Minute,
	}
	for _, fn := range cfgFns {
		fn(&cfg)
	}

	ctrl, err := NewController(cfg, Collaborators{
		Bus:        env.bus,
		Bookkeeper: env.books,
		Media:      env.media,
		NewPeerConn: func() (PeerConn, error) {
			pc := &fakePeerConn{}
			env.pcMut.Lock()
			env.pcs = append(env.pcs, pc)
			env.pcMut.Unlock()
			return pc, nil
		},
	}, WithLogger(newTestLogger()))
	require.NoError(tb, err)
	env.ctrl = ctrl

	for _, eventType := range []EventType{
		IncomingCallEvent, StateChangeEvent, LocalTracksEvent, RemoteTrackEvent,
		ModeChangedEvent, CallInactiveEvent, DurationEvent, CallQualityEvent, ErrorEvent,
	} {
		eventType := eventType
		err := ctrl.On(eventType, func(ctx any) error {
			env.rec.mut.Lock()
			defer env.rec.mut.Unlock()
			env.rec.events[eventType] = append(env.rec.events[eventType], ctx)
			return nil
		})
		require.NoError(tb, err)
	}

	return env
}

func (env *testEnv) pc() *fakePeerConn {
	env.tb.Helper()
	env.pcMut.Lock()
	defer env.pcMut.Unlock()
	require.NotEmpty(env.tb, env.pcs)
	return env.pcs[len(env.pcs)-1]
}

func (env *testEnv) state() State {
	s, ok := env.ctrl.Session()
	if !ok {
		return StateIdle
	}
	return s.State
}

// incoming delivers a call initiation from callerID to the local user.
func (env *testEnv) incoming(callID, callerID string, mode Mode) {
	env.tb.Helper()
	env.deliver(EnvelopeCallInitiated, callID, relay.UserRoom(env.userID), callerID, InitiatedPayload{
		CallID:       callID,
		Caller:       CallerInfo{ID: callerID, Name: "Caller"},
		CalleeUserID: env.userID,
		Mode:         mode,
	})
}

func (env *testEnv) deliver(envType EnvelopeType, callID, room, from string, payload any) {
	env.tb.Helper()
	e, err := NewEnvelope(envType, callID, room, payload)
	require.NoError(env.tb, err)
	e.From = from
	env.bus.deliver(e)
}

func (env *testEnv) deliverSDP(envType EnvelopeType, callID, from string, sdpType webrtc.SDPType) {
	env.tb.Helper()
	env.deliver(envType, callID, relay.CallRoom(callID), from, SDPPayload{
		CallID: callID,
		Type:   sdpType.String(),
		SDP:    testSDP,
	})
}

// connectedCaller returns an env whose user placed a call to peer that is
// now connected.
func connectedCaller(tb testing.TB, userID, peer string, mode Mode) (*testEnv, string) {
	tb.Helper()
	env := newTestEnv(tb, userID)
	callID, err := env.ctrl.StartCall(context.Background(), peer, mode)
	require.NoError(tb, err)
	env.deliver(EnvelopeCallAnswered, callID, relay.CallRoom(callID), peer, CallPayload{CallID: callID})
	env.deliverSDP(EnvelopeWebRTCAnswer, callID, peer, webrtc.SDPTypeAnswer)
	require.Equal(tb, StateConnected, env.state())
	return env, callID
}

// connectedCallee returns an env whose user answered a call from peer that
// is now connected.
func connectedCallee(tb testing.TB, userID, peer string, mode Mode) (*testEnv, string) {
	tb.Helper()
	env := newTestEnv(tb, userID)
	callID := "incoming1"
	env.incoming(callID, peer, mode)
	require.NoError(tb, env.ctrl.AnswerCall(context.Background(), callID, mode))
	env.deliverSDP(EnvelopeWebRTCOffer, callID, peer, webrtc.SDPTypeOffer)
	require.Equal(tb, StateConnected, env.state())
	return env, callID
}
