// Package session owns the active battle flow. All mutation happens on one
// goroutine that consumes typed inputs; network calls run off-loop and post
// their results back.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Barz/internal/adapters/store"
	"github.com/dkeye/Barz/internal/app"
	"github.com/dkeye/Barz/internal/app/battle"
	"github.com/dkeye/Barz/internal/app/heartbeat"
	"github.com/dkeye/Barz/internal/app/matching"
	"github.com/dkeye/Barz/internal/core"
	"github.com/dkeye/Barz/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var (
	ErrBusy       = errors.New("a battle flow is already active")
	ErrNoFlow     = errors.New("no active battle flow")
	ErrWrongPhase = errors.New("not possible in the current phase")
	ErrStopped    = errors.New("session stopped")
)

// Heartbeat is the periodic check-in driver; it calls Session.Tick.
type Heartbeat interface {
	Start() error
	Stop()
}

type Deps struct {
	Gateway   core.Gateway
	Channels  core.ChannelSubscriber
	Video     core.VideoCall
	Perms     core.MediaPermissions
	Net       core.Connectivity
	Store     store.Store
	Clock     clockwork.Clock
	Policy    app.Policy
	Heartbeat Heartbeat
}

type Options struct {
	UserID             domain.UserID
	Algorithm          domain.MatchingAlgorithm
	AutoReady          time.Duration
	ChallengeAutoReady time.Duration
	CoinToss           time.Duration
	Summary            time.Duration
	EventRetry         time.Duration
	CheckinInterval    time.Duration
	RequestTimeout     time.Duration
	TrackIDAttempts    int
}

type Session struct {
	deps     Deps
	opts     Options
	clock    clockwork.Clock
	coord    *matching.Coordinator
	throttle *heartbeat.Throttle
	notices  *noticeHub
	ownLoop  *heartbeat.Loop

	inbox chan input
	done  chan struct{}
	ctx   context.Context
	wg    conc.WaitGroup

	// loop-owned
	flow     *flow
	epoch    uint64
	online   bool
	appState domain.AppState
}

// flow is the Session Context of one battle attempt. It is replaced wholesale
// when the attempt ends.
type flow struct {
	epoch uint64
	phase Phase
	reg   *app.Registry

	participant  *domain.Participant
	challenge    *domain.Challenge
	target       domain.UserID
	battle       *domain.Battle
	opponentUser *domain.User
	beat         *domain.Beat
	def          domain.MachineDefinition
	outcome      *domain.ProjectedOutcome
	machine      *battle.Machine
	early        []domain.StateMachineEvent

	completed      bool
	autoReadyFired bool
	readying       bool
	loading        bool
	joining        bool
	leaving        bool
	videoConnected bool
	trackAttempts  int
	loadAttempts   int
	privacy        matching.PrivacyTxn

	countdown     *Countdown
	offlineAction app.OfflineAction
	outbox        []domain.StateMachineEvent
	posting       bool
	timers        map[string]uint64
	nextTimer     uint64
}

func New(deps Deps, opts Options) (*Session, error) {
	if deps.Gateway == nil || deps.Channels == nil || deps.Video == nil || deps.Perms == nil || deps.Net == nil {
		return nil, fmt.Errorf("session: missing dependency")
	}
	if err := domain.ValidUserID(opts.UserID); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Policy == nil {
		deps.Policy = app.ThresholdPolicy{Unmatched: 5 * time.Second, Matched: 10 * time.Second}
	}
	if opts.Algorithm == "" {
		opts.Algorithm = domain.MatchingDefault
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.TrackIDAttempts <= 0 {
		opts.TrackIDAttempts = 3
	}
	if opts.EventRetry <= 0 {
		opts.EventRetry = time.Second
	}
	if opts.CheckinInterval <= 0 {
		opts.CheckinInterval = 2 * time.Second
	}
	s := &Session{
		deps:     deps,
		opts:     opts,
		clock:    deps.Clock,
		coord:    matching.New(deps.Gateway, deps.Perms),
		throttle: heartbeat.NewThrottle(deps.Clock, opts.CheckinInterval),
		notices:  newNoticeHub(),
		inbox:    make(chan input, 64),
		done:     make(chan struct{}),
		ctx:      context.Background(),
	}
	if s.deps.Heartbeat == nil {
		loop, err := heartbeat.NewLoop(deps.Clock, opts.CheckinInterval, s.Tick)
		if err != nil {
			return nil, err
		}
		s.deps.Heartbeat = loop
		s.ownLoop = loop
	}
	s.flow = s.newFlow()
	return s, nil
}

// Run consumes inputs until ctx is done, then tears the flow down.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	s.online = s.deps.Net.Online()
	netCh, cancelNet := s.deps.Net.Subscribe()
	s.wg.Go(func() {
		for online := range netCh {
			s.post(inOnline{online: online})
		}
	})
	defer func() {
		cancelNet()
		s.teardown()
		close(s.done)
		s.wg.Wait()
		if s.ownLoop != nil {
			_ = s.ownLoop.Shutdown()
		}
	}()

	s.resume()
	log.Info().Str("module", "app.session").Str("user", string(s.opts.UserID)).Bool("online", s.online).Msg("session started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.session").Msg("session stopped")
			return ctx.Err()
		case in := <-s.inbox:
			s.handle(in)
		}
	}
}

func (s *Session) post(in input) {
	select {
	case s.inbox <- in:
	case <-s.done:
	}
}

// request sends a command and waits for the loop to answer it.
func (s *Session) request(ctx context.Context, build func(reply chan error) input) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- build(reply):
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) StartMatch(ctx context.Context, alg domain.MatchingAlgorithm) error {
	return s.request(ctx, func(r chan error) input { return cmdStartMatch{alg: alg, reply: r} })
}

func (s *Session) StartChallenge(ctx context.Context, target domain.UserID) error {
	return s.request(ctx, func(r chan error) input { return cmdStartChallenge{target: target, reply: r} })
}

// ConfirmChallenge resolves the pending-challenge decision point.
func (s *Session) ConfirmChallenge(ctx context.Context, proceed bool) error {
	return s.request(ctx, func(r chan error) input { return cmdConfirmChallenge{proceed: proceed, reply: r} })
}

func (s *Session) ResumeChallenge(ctx context.Context, ch domain.Challenge) error {
	return s.request(ctx, func(r chan error) input { return cmdResumeChallenge{challenge: ch, reply: r} })
}

func (s *Session) MarkReady(ctx context.Context) error {
	return s.request(ctx, func(r chan error) input { return cmdMarkReady{reply: r} })
}

func (s *Session) RequestPrivacy(ctx context.Context, level domain.PrivacyLevel) error {
	return s.request(ctx, func(r chan error) input { return cmdRequestPrivacy{level: level, reply: r} })
}

// Leave forfeits an unfinished battle, abandons matching, or closes the summary.
func (s *Session) Leave(ctx context.Context) error {
	return s.request(ctx, func(r chan error) input { return cmdLeave{reply: r} })
}

func (s *Session) ReportAppState(ctx context.Context, state domain.AppState) error {
	return s.request(ctx, func(r chan error) input { return cmdAppState{state: state, reply: r} })
}

// Tick is called by the heartbeat driver.
func (s *Session) Tick() { s.post(inTick{}) }

func (s *Session) Snapshot(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	select {
	case s.inbox <- cmdSnapshot{reply: reply}:
	case <-s.done:
		return State{}, ErrStopped
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-s.done:
		return State{}, ErrStopped
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

func (s *Session) newFlow() *flow {
	s.epoch++
	return &flow{
		epoch:  s.epoch,
		phase:  PhaseIdle,
		reg:    app.NewRegistry(),
		timers: make(map[string]uint64),
	}
}

func (s *Session) setPhase(p Phase) {
	if s.flow.phase == p {
		return
	}
	log.Info().Str("module", "app.session").Str("from", string(s.flow.phase)).Str("to", string(p)).Msg("phase changed")
	s.flow.phase = p
}

// endFlow tears the current flow down and starts a fresh idle one.
func (s *Session) endFlow(why string) {
	f := s.flow
	if f.phase == PhaseIdle && f.participant == nil && f.challenge == nil {
		return
	}
	s.stopFlow(f)
	if s.deps.Store != nil {
		s.goBestEffort("clear snapshot", func(ctx context.Context) error {
			return s.deps.Store.Clear(ctx, s.opts.UserID)
		})
	}
	if f.participant != nil {
		s.throttle.Forget(f.participant.ID)
	}
	log.Info().Str("module", "app.session").Str("phase", string(f.phase)).Str("reason", why).Msg("flow ended")
	s.flow = s.newFlow()
}

func (s *Session) stopFlow(f *flow) {
	f.reg.CancelAll()
	if f.battle != nil {
		s.deps.Video.StopBeat()
		s.deps.Video.Disconnect()
	}
	if s.deps.Heartbeat != nil {
		s.deps.Heartbeat.Stop()
	}
}

// teardown runs on exit; the snapshot is kept so the flow resumes next start.
func (s *Session) teardown() {
	s.stopFlow(s.flow)
}

// after arms a flow-bound timer. Re-arming a name replaces the old timer.
func (s *Session) after(name string, d time.Duration) {
	f := s.flow
	f.nextTimer++
	token := f.nextTimer
	f.timers[name] = token
	epoch := f.epoch
	t := s.clock.AfterFunc(d, func() {
		s.post(inTimer{name: name, token: token, epoch: epoch})
	})
	f.reg.Bind("timer:"+name, func() { t.Stop() })
}

func (s *Session) cancelTimer(name string) {
	delete(s.flow.timers, name)
	s.flow.reg.Cancel("timer:" + name)
}

func (s *Session) timerArmed(name string) bool {
	_, ok := s.flow.timers[name]
	return ok
}

// listen forwards a channel subscription into the loop for the current flow.
func (s *Session) listen(channel string) {
	f := s.flow
	name := "channel:" + channel
	if f.reg.Has(name) {
		return
	}
	ch, cancel := s.deps.Channels.Subscribe(channel)
	epoch := f.epoch
	s.wg.Go(func() {
		for msg := range ch {
			s.post(inChannel{msg: msg, epoch: epoch})
		}
	})
	f.reg.Bind(name, cancel)
}

func (s *Session) listenVideo() {
	f := s.flow
	if f.reg.Has("video") {
		return
	}
	ch, cancel := s.deps.Video.Subscribe()
	epoch := f.epoch
	s.wg.Go(func() {
		for ev := range ch {
			s.post(inVideo{ev: ev, epoch: epoch})
		}
	})
	f.reg.Bind("video", cancel)
}

// async runs fn off-loop and applies then on the loop, unless the flow that
// started it has ended by then.
func async[T any](s *Session, op string, fn func(ctx context.Context) (T, error), then func(T, error)) {
	asyncOwned(s, op, fn, then, nil)
}

// asyncOwned is async for calls that create server-side state. When the flow
// has moved on by the time fn succeeds, orphan runs on the loop instead of then
// so the created resource can be released.
func asyncOwned[T any](s *Session, op string, fn func(ctx context.Context) (T, error), then func(T, error), orphan func(T)) {
	epoch := s.flow.epoch
	s.wg.Go(func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.RequestTimeout)
		defer cancel()
		v, err := fn(ctx)
		if err != nil {
			log.Debug().Err(err).Str("module", "app.session").Str("op", op).Msg("call failed")
		}
		in := inDone{epoch: epoch, apply: func() { then(v, err) }}
		if orphan != nil && err == nil {
			in.orphan = func() { orphan(v) }
		}
		s.post(in)
	})
}

// goBestEffort runs fn off-loop and only logs its failure.
func (s *Session) goBestEffort(op string, fn func(ctx context.Context) error) {
	s.wg.Go(func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.RequestTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Warn().Err(err).Str("module", "app.session").Str("op", op).Msg("best-effort call failed")
		}
	})
}

func (s *Session) saveSnapshot() {
	if s.deps.Store == nil {
		return
	}
	f := s.flow
	snap := store.Snapshot{UserID: s.opts.UserID}
	if f.participant != nil {
		snap.ParticipantID = f.participant.ID
		snap.BattleID = f.participant.BattleID
	}
	if f.challenge != nil {
		snap.ChallengeID = f.challenge.ID
	}
	if snap.Empty() {
		return
	}
	s.goBestEffort("save snapshot", func(ctx context.Context) error {
		return s.deps.Store.Save(ctx, snap)
	})
}

func (s *Session) state() State {
	f := s.flow
	st := State{
		Phase:           f.phase,
		Online:          s.online,
		BattleCompleted: f.completed,
		VideoConnected:  f.videoConnected,
		OpponentUser:    f.opponentUser,
		Beat:            f.beat,
		Outcome:         f.outcome,
		PendingEvents:   len(f.outbox),
	}
	if f.participant != nil {
		p := *f.participant
		st.Participant = &p
		st.InitialMatchFailed = p.InitialMatchFailed
	}
	if f.challenge != nil {
		c := *f.challenge
		st.Challenge = &c
	}
	if f.battle != nil {
		b := *f.battle
		st.Battle = &b
		st.ComputedPrivacy = b.ComputePrivacy()
		if f.participant != nil {
			if opp, err := b.Opponent(f.participant.ID); err == nil {
				o := *opp
				st.Opponent = &o
			}
		}
	}
	if f.machine != nil && (f.phase == PhaseInBattle || f.phase == PhaseSummary) {
		st.Stage = f.machine.Stage()
		c := f.machine.Context()
		st.Context = &c
	}
	if f.countdown != nil {
		c := *f.countdown
		st.Countdown = &c
	}
	return st
}
