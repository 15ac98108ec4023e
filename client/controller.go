// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattermost/callsignal/service/calls"
	"github.com/mattermost/callsignal/service/relay"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pion/webrtc/v4"
)

const (
	retiredCallsCacheSize = 256
	defaultHistoryLimit   = 50
)

// Controller runs the call state machine for a single user. It owns at
// most one active call at a time.
//
// Every handler takes the lock, re-validates the session and queues its
// side effects (bus operations, events, closers). The effects run in order
// once the lock is released so that collaborators and event handlers never
// run under it.
type Controller struct {
	cfg Config
	log *slog.Logger
	now func() time.Time

	bus         SignalBus
	books       Bookkeeper
	media       MediaSource
	newPeerConn PeerConnFactory

	handlers    map[EventType]EventHandler
	handlersMut sync.RWMutex

	mut      sync.Mutex
	sess     *session
	gen      uint64
	starting bool
	// retired holds the IDs of ended calls so that late duplicates can't
	// revive them.
	retired *lru.Cache[string, struct{}]

	ops     []busOp
	events  []pendingEvent
	closers []func() error
}

type busOp struct {
	join  string
	leave string
	env   *Envelope
}

type Option func(c *Controller) error

func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) error {
		if log == nil {
			return fmt.Errorf("invalid nil logger")
		}
		c.log = log
		return nil
	}
}

// NewController creates a controller and subscribes it to the bus.
func NewController(cfg Config, collab Collaborators, opts ...Option) (*Controller, error) {
	if err := cfg.parseCall(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	if collab.Bus == nil {
		return nil, fmt.Errorf("invalid nil signal bus")
	}
	if collab.Bookkeeper == nil {
		return nil, fmt.Errorf("invalid nil bookkeeper")
	}
	if collab.Media == nil {
		return nil, fmt.Errorf("invalid nil media source")
	}
	if collab.NewPeerConn == nil {
		return nil, fmt.Errorf("invalid nil peer connection factory")
	}

	retired, err := lru.New[string, struct{}](retiredCallsCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	c := &Controller{
		cfg:         cfg,
		now:         time.Now,
		bus:         collab.Bus,
		books:       collab.Bookkeeper,
		media:       collab.Media,
		newPeerConn: collab.NewPeerConn,
		handlers:    make(map[EventType]EventHandler),
		retired:     retired,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if c.log == nil {
		c.log = slog.Default()
	}

	if err := c.bus.Subscribe(c.handleEnvelope); err != nil {
		return nil, fmt.Errorf("failed to subscribe to bus: %w", err)
	}

	return c, nil
}

// Session returns a snapshot of the current or last call.
func (c *Controller) Session() (Session, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.sess == nil {
		return Session{}, false
	}
	return c.sess.Session, true
}

// StartCall places a call to peerUserID. It returns once the callee has
// been signaled; the outcome is reported through events.
func (c *Controller) StartCall(ctx context.Context, peerUserID string, mode Mode) (string, error) {
	if peerUserID == "" || peerUserID == c.cfg.UserID {
		return "", fmt.Errorf("invalid peer user id %q", peerUserID)
	}
	if !mode.IsValid() {
		return "", fmt.Errorf("invalid mode %q", mode)
	}

	c.mut.Lock()
	if c.busyLocked() {
		c.mut.Unlock()
		return "", ErrBusy
	}
	c.starting = true
	c.mut.Unlock()

	defer func() {
		c.mut.Lock()
		c.starting = false
		c.mut.Unlock()
	}()

	tracks, err := c.media.Acquire(ctx, mode == ModeVideo)
	if err != nil {
		return "", &MediaAcquisitionError{Err: err}
	}

	callID, err := c.books.CreateCall(ctx, peerUserID, mode)
	if err != nil {
		tracks.Stop()
		return "", &BookkeepingError{Op: "create", Err: err}
	}

	c.mut.Lock()
	c.gen++
	s := &session{
		Session: Session{
			CallID:     callID,
			Role:       RoleCaller,
			PeerUserID: peerUserID,
			Mode:       mode,
			PeerMode:   mode,
			StartedAt:  c.now(),
		},
		gen: c.gen,
		caller: CallerInfo{
			ID:   c.cfg.UserID,
			Name: c.cfg.DisplayName,
		},
		tracks: tracks,
	}
	s.neg = newNegotiator(c.log, RoleCaller, callID, c.sender(s))
	c.sess = s

	c.setState(s, StateRingingOut)
	c.queueEvent(LocalTracksEvent, LocalTracks{CallID: callID, Tracks: tracks})
	c.queueJoin(s.room())
	c.queueEmit(relay.UserRoom(peerUserID), EnvelopeCallInitiated, InitiatedPayload{
		CallID:       callID,
		Caller:       s.caller,
		CalleeUserID: peerUserID,
		Mode:         mode,
	})
	c.armRingTimer(s)
	gen := s.gen

	if err := c.unlockAndFlush(); err != nil {
		err = fmt.Errorf("failed to signal call: %w", err)
		c.abort(gen, err)
		return "", err
	}

	c.log.Info("call started", slog.String("callID", callID), slog.String("peer", peerUserID), slog.String("mode", string(mode)))

	return callID, nil
}

// AnswerCall accepts the incoming call callID.
func (c *Controller) AnswerCall(ctx context.Context, callID string, mode Mode) error {
	if !mode.IsValid() {
		return fmt.Errorf("invalid mode %q", mode)
	}

	c.mut.Lock()
	s := c.sess
	if s == nil || s.CallID != callID || s.State.IsTerminal() {
		c.mut.Unlock()
		return ErrStaleCall
	}
	if s.State != StateRingingIn || s.answering {
		c.mut.Unlock()
		return fmt.Errorf("cannot answer call in state %s: %w", s.State, ErrInvalidState)
	}
	s.answering = true
	gen := s.gen
	c.mut.Unlock()

	tracks, err := c.media.Acquire(ctx, mode == ModeVideo)
	if err != nil {
		maErr := &MediaAcquisitionError{Err: err}
		if !c.abort(gen, maErr) {
			return ErrStaleCall
		}
		return maErr
	}

	if !c.ringingIn(gen) {
		tracks.Stop()
		return ErrStaleCall
	}

	if err := c.books.MarkAnswered(ctx, callID); err != nil {
		tracks.Stop()
		bkErr := &BookkeepingError{Op: "mark answered", Err: err}
		if !c.abort(gen, bkErr) {
			return ErrStaleCall
		}
		return bkErr
	}

	c.mut.Lock()
	s = c.sessionFor(gen)
	if s == nil || s.State != StateRingingIn {
		// The call ended while we were waiting.
		c.unlockAndFlush()
		tracks.Stop()
		return ErrStaleCall
	}

	s.answering = false
	s.tracks = tracks
	s.Mode = mode
	s.StartedAt = c.now()
	c.queueEvent(LocalTracksEvent, LocalTracks{CallID: callID, Tracks: tracks})
	c.setState(s, StateNegotiating)

	if err := c.attachPeerConn(s); err != nil {
		nErr := &NegotiationError{Err: err}
		callID, dur := c.failLocked(s, nErr)
		c.unlockAndFlush()
		c.markEnded(context.Background(), callID, dur)
		return nErr
	}

	c.queueEmit(s.room(), EnvelopeCallAnswered, CallPayload{CallID: callID})

	return c.unlockAndFlush()
}

// RejectCall declines the incoming call callID. Rejecting an already
// ended call is a no-op.
func (c *Controller) RejectCall(ctx context.Context, callID string) error {
	c.mut.Lock()
	s := c.sess
	if s == nil || s.CallID != callID || s.State.IsTerminal() {
		retired := c.retired.Contains(callID)
		c.mut.Unlock()
		if retired {
			return nil
		}
		return ErrStaleCall
	}
	if s.State != StateRingingIn {
		c.mut.Unlock()
		return fmt.Errorf("cannot reject call in state %s: %w", s.State, ErrInvalidState)
	}

	c.queueEmit(s.room(), EnvelopeCallRejected, CallPayload{CallID: callID})
	c.endLocked(s, false)
	c.unlockAndFlush()

	if err := c.books.MarkRejected(ctx, callID); err != nil {
		c.log.Error("failed to mark call rejected", slog.String("callID", callID), slog.String("err", err.Error()))
		return &BookkeepingError{Op: "mark rejected", Err: err}
	}

	return nil
}

// EndCall hangs up the current call. It's a no-op if there is none.
func (c *Controller) EndCall(ctx context.Context) error {
	c.mut.Lock()
	s := c.sess
	if s == nil || s.State.IsTerminal() {
		c.mut.Unlock()
		return nil
	}
	callID, dur := c.endLocked(s, true)
	c.unlockAndFlush()

	return c.markEnded(ctx, callID, dur)
}

// SwitchMode moves a connected call to newMode. The mode changes once the
// peer has applied the new media configuration.
func (c *Controller) SwitchMode(ctx context.Context, newMode Mode) error {
	if !newMode.IsValid() {
		return fmt.Errorf("invalid mode %q", newMode)
	}

	c.mut.Lock()
	s := c.sess
	if s == nil || s.State.IsTerminal() {
		c.mut.Unlock()
		return ErrNoSession
	}
	if s.State != StateConnected {
		c.mut.Unlock()
		return fmt.Errorf("cannot switch mode in state %s: %w", s.State, ErrInvalidState)
	}
	if s.switching {
		c.mut.Unlock()
		return ErrSwitchInProgress
	}
	if s.pendingMode == "" && s.Mode == newMode {
		c.mut.Unlock()
		return nil
	}
	s.switching = true
	gen := s.gen
	c.mut.Unlock()

	tracks, acqErr := c.media.Acquire(ctx, newMode == ModeVideo)

	c.mut.Lock()
	s = c.sessionFor(gen)
	if s == nil || s.State != StateConnected {
		c.unlockAndFlush()
		if tracks != nil {
			tracks.Stop()
		}
		return ErrStaleCall
	}
	s.switching = false

	if acqErr != nil {
		nErr := &NegotiationError{Err: &MediaAcquisitionError{Err: acqErr}}
		callID, dur := c.failLocked(s, nErr)
		c.unlockAndFlush()
		c.markEnded(context.Background(), callID, dur)
		return nErr
	}

	for _, t := range tracks.Tracks() {
		if prev := s.tracks.Get(t.Kind()); prev != nil {
			t.SetEnabled(prev.Enabled())
		}
	}

	changed, err := s.neg.applyTracks(tracks)
	prev := s.tracks
	s.tracks = tracks
	prev.Stop()
	if err == nil && changed {
		err = s.neg.offer()
	}
	if err != nil {
		nErr := &NegotiationError{Err: err}
		callID, dur := c.failLocked(s, nErr)
		c.unlockAndFlush()
		c.markEnded(context.Background(), callID, dur)
		return nErr
	}

	c.queueEvent(LocalTracksEvent, LocalTracks{CallID: s.CallID, Tracks: tracks})
	s.pendingMode = newMode
	c.completeSwitchLocked(s)

	return c.unlockAndFlush()
}

// ToggleAudio flips the enabled flag of the local audio track and returns
// the new value.
func (c *Controller) ToggleAudio() (bool, error) {
	return c.toggle(webrtc.RTPCodecTypeAudio)
}

// ToggleVideo flips the enabled flag of the local video track and returns
// the new value.
func (c *Controller) ToggleVideo() (bool, error) {
	return c.toggle(webrtc.RTPCodecTypeVideo)
}

func (c *Controller) toggle(kind webrtc.RTPCodecType) (bool, error) {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.sess == nil || c.sess.State.IsTerminal() {
		return false, ErrNoLocalTracks
	}
	t := c.sess.tracks.Get(kind)
	if t == nil {
		return false, ErrNoLocalTracks
	}
	t.SetEnabled(!t.Enabled())

	return t.Enabled(), nil
}

// History returns the most recent calls of the local user, newest first.
func (c *Controller) History(ctx context.Context, limit int) ([]calls.Record, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	records, err := c.books.History(ctx, limit)
	if err != nil {
		return nil, &BookkeepingError{Op: "history", Err: err}
	}
	return records, nil
}

// Close ends the current call, if any.
func (c *Controller) Close() error {
	return c.EndCall(context.Background())
}

func (c *Controller) handleEnvelope(env Envelope) {
	switch env.Type {
	case EnvelopeCallInitiated:
		c.onInitiated(env)
	case EnvelopeCallAnswered:
		c.onAnswered(env)
	case EnvelopeCallRejected:
		c.onRejected(env)
	case EnvelopeCallEnded:
		c.onEnded(env)
	case EnvelopeCallModeChanged:
		c.onModeChanged(env)
	case EnvelopeWebRTCOffer:
		c.onOffer(env)
	case EnvelopeWebRTCAnswer:
		c.onAnswer(env)
	case EnvelopeWebRTCICE:
		c.onICE(env)
	default:
		c.log.Debug("ignoring unknown envelope", slog.String("type", string(env.Type)))
	}
}

func (c *Controller) onInitiated(env Envelope) {
	var p InitiatedPayload
	if err := env.Decode(&p); err != nil {
		c.log.Warn("failed to decode envelope", slog.String("err", err.Error()))
		return
	}
	if p.CalleeUserID != c.cfg.UserID || p.Caller.ID == "" || !p.Mode.IsValid() {
		c.log.Debug("ignoring invalid call initiation", slog.String("callID", p.CallID))
		return
	}
	if env.From != "" && env.From != p.Caller.ID {
		c.log.Warn("ignoring call initiation from unexpected sender", slog.String("callID", p.CallID), slog.String("from", env.From))
		return
	}

	c.mut.Lock()
	if c.retired.Contains(p.CallID) {
		c.unlockAndFlush()
		return
	}
	if c.busyLocked() {
		c.log.Info("busy, ignoring incoming call", slog.String("callID", p.CallID), slog.String("caller", p.Caller.ID))
		c.unlockAndFlush()
		return
	}

	c.gen++
	s := &session{
		Session: Session{
			CallID:     p.CallID,
			Role:       RoleCallee,
			PeerUserID: p.Caller.ID,
			Mode:       p.Mode,
			PeerMode:   p.Mode,
			StartedAt:  c.now(),
		},
		gen:    c.gen,
		caller: p.Caller,
	}
	s.neg = newNegotiator(c.log, RoleCallee, p.CallID, c.sender(s))
	c.sess = s

	c.setState(s, StateRingingIn)
	c.queueJoin(s.room())
	c.queueEvent(IncomingCallEvent, IncomingCall{
		CallID: p.CallID,
		Caller: p.Caller,
		Mode:   p.Mode,
	})
	c.unlockAndFlush()
}

func (c *Controller) onAnswered(env Envelope) {
	c.mut.Lock()
	s := c.current(env)
	if s == nil || s.Role != RoleCaller || s.State != StateRingingOut {
		c.unlockAndFlush()
		return
	}

	c.disarmRingTimer(s)
	c.setState(s, StateNegotiating)

	err := c.attachPeerConn(s)
	if err == nil {
		err = s.neg.offer()
	}
	if err != nil {
		callID, dur := c.failLocked(s, &NegotiationError{Err: err})
		c.unlockAndFlush()
		c.markEnded(context.Background(), callID, dur)
		return
	}

	c.unlockAndFlush()
}

func (c *Controller) onRejected(env Envelope) {
	c.mut.Lock()
	s := c.current(env)
	if s == nil || (s.State != StateRingingOut && s.State != StateRingingIn) {
		c.unlockAndFlush()
		return
	}
	c.log.Info("call rejected by peer", slog.String("callID", s.CallID))
	c.endLocked(s, false)
	c.unlockAndFlush()
}

func (c *Controller) onEnded(env Envelope) {
	c.mut.Lock()
	s := c.current(env)
	if s == nil {
		c.unlockAndFlush()
		return
	}
	c.log.Info("call ended by peer", slog.String("callID", s.CallID))
	c.endLocked(s, false)
	c.unlockAndFlush()
}

func (c *Controller) onModeChanged(env Envelope) {
	var p ModeChangedPayload
	if err := env.Decode(&p); err != nil || !p.NewMode.IsValid() {
		c.log.Warn("invalid mode change envelope", slog.String("callID", env.CallID))
		return
	}

	c.mut.Lock()
	s := c.current(env)
	if s == nil || (s.State != StateNegotiating && s.State != StateConnected) {
		c.unlockAndFlush()
		return
	}
	s.PeerMode = p.NewMode
	c.queueEvent(ModeChangedEvent, ModeChange{
		CallID: s.CallID,
		Mode:   p.NewMode,
		Remote: true,
	})
	c.unlockAndFlush()
}

func (c *Controller) onOffer(env Envelope) {
	var p SDPPayload
	if err := env.Decode(&p); err != nil {
		c.log.Warn("failed to decode envelope", slog.String("err", err.Error()))
		return
	}

	c.mut.Lock()
	s := c.current(env)
	if s == nil || (s.State != StateNegotiating && s.State != StateConnected) || !s.neg.attached() {
		c.unlockAndFlush()
		return
	}

	handled, err := s.neg.handleOffer(p.SessionDescription())
	if err != nil {
		callID, dur := c.failLocked(s, &NegotiationError{Err: err})
		c.unlockAndFlush()
		c.markEnded(context.Background(), callID, dur)
		return
	}
	if handled && s.State == StateNegotiating {
		c.connectLocked(s)
	}
	c.completeSwitchLocked(s)
	c.unlockAndFlush()
}

func (c *Controller) onAnswer(env Envelope) {
	var p SDPPayload
	if err := env.Decode(&p); err != nil {
		c.log.Warn("failed to decode envelope", slog.String("err", err.Error()))
		return
	}

	c.mut.Lock()
	s := c.current(env)
	if s == nil || (s.State != StateNegotiating && s.State != StateConnected) {
		c.unlockAndFlush()
		return
	}

	if err := s.neg.handleAnswer(p.SessionDescription()); errors.Is(err, errUnexpectedAnswer) {
		c.log.Debug("ignoring unexpected answer", slog.String("callID", s.CallID))
		c.unlockAndFlush()
		return
	} else if err != nil {
		callID, dur := c.failLocked(s, &NegotiationError{Err: err})
		c.unlockAndFlush()
		c.markEnded(context.Background(), callID, dur)
		return
	}

	if s.State == StateNegotiating {
		c.connectLocked(s)
	}
	c.completeSwitchLocked(s)
	c.unlockAndFlush()
}

func (c *Controller) onICE(env Envelope) {
	var p ICEPayload
	if err := env.Decode(&p); err != nil {
		c.log.Warn("failed to decode envelope", slog.String("err", err.Error()))
		return
	}

	c.mut.Lock()
	s := c.current(env)
	if s == nil {
		c.unlockAndFlush()
		return
	}
	if err := s.neg.addCandidate(p.CandidateInit()); err != nil {
		callID, dur := c.failLocked(s, &NegotiationError{Err: err})
		c.unlockAndFlush()
		c.markEnded(context.Background(), callID, dur)
		return
	}
	c.unlockAndFlush()
}

// attachPeerConn creates the call's peer connection and adds the local
// tracks to it.
func (c *Controller) attachPeerConn(s *session) error {
	pc, err := c.newPeerConn()
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	gen := s.gen
	pc.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		c.mut.Lock()
		if s := c.sessionFor(gen); s != nil {
			c.queueEmit(s.room(), EnvelopeWebRTCICE, newICEPayload(s.CallID, cand))
		}
		c.unlockAndFlush()
	})
	pc.OnTrack(func(track RemoteTrack) {
		c.mut.Lock()
		if s := c.sessionFor(gen); s != nil {
			c.queueEvent(RemoteTrackEvent, RemoteTrackInfo{CallID: s.CallID, Track: track})
		}
		c.unlockAndFlush()
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		c.log.Debug("peer connection state changed", slog.String("state", st.String()))
		if st == webrtc.PeerConnectionStateFailed {
			c.abort(gen, &NegotiationError{Err: fmt.Errorf("peer connection failed")})
		}
	})
	pc.OnQuality(func(lossRate, jitter float64) {
		c.mut.Lock()
		if s := c.sessionFor(gen); s != nil {
			c.queueEvent(CallQualityEvent, CallQuality{CallID: s.CallID, LossRate: lossRate, Jitter: jitter})
		}
		c.unlockAndFlush()
	})

	return s.neg.attach(pc, s.tracks)
}

func (c *Controller) connectLocked(s *session) {
	if !c.setState(s, StateConnected) {
		return
	}
	if s.ConnectedAt.IsZero() {
		s.ConnectedAt = c.now()
	}
	c.startDurationTicker(s)
	c.log.Info("call connected", slog.String("callID", s.CallID))
}

// completeSwitchLocked applies a pending mode switch once no offer is
// outstanding.
func (c *Controller) completeSwitchLocked(s *session) {
	if s.pendingMode == "" || !s.neg.settled() {
		return
	}
	s.Mode = s.pendingMode
	s.pendingMode = ""
	c.queueEmit(s.room(), EnvelopeCallModeChanged, ModeChangedPayload{
		CallID:  s.CallID,
		NewMode: s.Mode,
	})
	c.queueEvent(ModeChangedEvent, ModeChange{
		CallID: s.CallID,
		Mode:   s.Mode,
	})
}

// endLocked moves s to Ended and queues the release of its resources.
// When notify is set the peer is told with a call_ended envelope.
func (c *Controller) endLocked(s *session, notify bool) (string, int64) {
	dur := s.durationSeconds(c.now())
	c.setState(s, StateEnded)
	if notify {
		c.queueEmit(s.room(), EnvelopeCallEnded, EndedPayload{
			CallID:          s.CallID,
			DurationSeconds: dur,
		})
	}

	c.disarmRingTimer(s)
	c.stopDurationTicker(s)
	s.tracks.Stop()
	s.tracks = nil
	if pc := s.neg.close(); pc != nil {
		c.closers = append(c.closers, pc.Close)
	}
	s.pendingMode = ""
	c.retired.Add(s.CallID, struct{}{})
	c.queueLeave(s.room())

	return s.CallID, dur
}

func (c *Controller) failLocked(s *session, cause error) (string, int64) {
	c.log.Error("call failed", slog.String("callID", s.CallID), slog.String("err", cause.Error()))
	c.queueEvent(ErrorEvent, CallError{CallID: s.CallID, Err: cause})
	return c.endLocked(s, true)
}

// abort ends the call identified by gen because of cause. It reports
// whether the call was still active.
func (c *Controller) abort(gen uint64, cause error) bool {
	c.mut.Lock()
	s := c.sessionFor(gen)
	if s == nil {
		c.unlockAndFlush()
		return false
	}
	callID, dur := c.failLocked(s, cause)
	c.unlockAndFlush()
	c.markEnded(context.Background(), callID, dur)
	return true
}

func (c *Controller) markEnded(ctx context.Context, callID string, dur int64) error {
	if err := c.books.MarkEnded(ctx, callID, dur); err != nil {
		c.log.Error("failed to mark call ended", slog.String("callID", callID), slog.String("err", err.Error()))
		return &BookkeepingError{Op: "mark ended", Err: err}
	}
	return nil
}

func (c *Controller) setState(s *session, to State) bool {
	from := s.State
	if !from.CanTransitionTo(to) {
		c.log.Warn("invalid state transition", slog.String("callID", s.CallID),
			slog.String("from", from.String()), slog.String("to", to.String()))
		return false
	}
	s.State = to
	c.queueEvent(StateChangeEvent, StateChange{CallID: s.CallID, From: from, To: to})
	return true
}

// ringingIn reports whether the incoming call identified by gen is still
// waiting for the local user.
func (c *Controller) ringingIn(gen uint64) bool {
	c.mut.Lock()
	defer c.mut.Unlock()
	s := c.sessionFor(gen)
	return s != nil && s.State == StateRingingIn
}

func (c *Controller) busyLocked() bool {
	return c.starting || (c.sess != nil && !c.sess.State.IsTerminal())
}

// sessionFor returns the active session if it's still the one identified
// by gen.
func (c *Controller) sessionFor(gen uint64) *session {
	if c.sess == nil || c.sess.gen != gen || c.sess.State.IsTerminal() {
		return nil
	}
	return c.sess
}

// current returns the active session env belongs to.
func (c *Controller) current(env Envelope) *session {
	s := c.sess
	if s == nil || s.State.IsTerminal() || s.CallID != env.CallID {
		return nil
	}
	if env.From != "" && env.From != s.PeerUserID {
		return nil
	}
	return s
}

func (c *Controller) sender(s *session) func(EnvelopeType, any) {
	return func(envType EnvelopeType, payload any) {
		c.queueEmit(s.room(), envType, payload)
	}
}

func (c *Controller) queueJoin(room string) {
	c.ops = append(c.ops, busOp{join: room})
}

func (c *Controller) queueLeave(room string) {
	c.ops = append(c.ops, busOp{leave: room})
}

func (c *Controller) queueEmit(room string, envType EnvelopeType, payload any) {
	var callID string
	if c.sess != nil {
		callID = c.sess.CallID
	}
	env, err := NewEnvelope(envType, callID, room, payload)
	if err != nil {
		c.log.Error("failed to create envelope", slog.String("err", err.Error()))
		return
	}
	c.ops = append(c.ops, busOp{env: &env})
}

func (c *Controller) queueEvent(eventType EventType, ctx any) {
	c.events = append(c.events, pendingEvent{eventType: eventType, ctx: ctx})
}

// unlockAndFlush releases the lock and runs the queued effects. It returns
// the first bus error.
func (c *Controller) unlockAndFlush() error {
	ops, events, closers := c.ops, c.events, c.closers
	c.ops, c.events, c.closers = nil, nil, nil
	c.mut.Unlock()

	var busErr error
	for _, op := range ops {
		var err error
		switch {
		case op.join != "":
			err = c.bus.JoinRoom(op.join)
		case op.leave != "":
			err = c.bus.LeaveRoom(op.leave)
		case op.env != nil:
			err = c.bus.Emit(*op.env)
		}
		if err != nil {
			c.log.Error("signaling failed", slog.String("err", err.Error()))
			if busErr == nil {
				busErr = err
			}
		}
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			c.log.Error("failed to close peer connection", slog.String("err", err.Error()))
		}
	}

	for _, ev := range events {
		c.emit(ev.eventType, ev.ctx)
	}

	return busErr
}
