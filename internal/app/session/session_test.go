package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Barz/internal/adapters/realtime"
	"github.com/dkeye/Barz/internal/adapters/store"
	"github.com/dkeye/Barz/internal/app"
	"github.com/dkeye/Barz/internal/app/apptest"
	"github.com/dkeye/Barz/internal/app/connectivity"
	"github.com/dkeye/Barz/internal/core"
	"github.com/dkeye/Barz/internal/domain"
	json "github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	wait = 2 * time.Second
	tick = 5 * time.Millisecond
)

type mockPermissions struct{ mock.Mock }

func (m *mockPermissions) Check(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type fakeHeartbeat struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
}

func (h *fakeHeartbeat) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = true
	h.starts++
	return nil
}

func (h *fakeHeartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	h.stops++
}

func (h *fakeHeartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

type harness struct {
	gw      *apptest.Gateway
	ch      *apptest.Channels
	video   *apptest.VideoCall
	net     *connectivity.Monitor
	clock   *clockwork.FakeClock
	hb      *fakeHeartbeat
	store   *store.MemoryStore
	perms   *mockPermissions
	permErr error
	opts    Options
	s       *Session
}

func newHarness() *harness {
	clock := clockwork.NewFakeClock()
	return &harness{
		gw:    apptest.NewGateway(),
		ch:    apptest.NewChannels(),
		video: apptest.NewVideoCall(),
		net:   connectivity.New(connectivity.Options{Clock: clock}),
		clock: clock,
		hb:    &fakeHeartbeat{},
		store: store.NewMemoryStore(clock, time.Hour),
		perms: &mockPermissions{},
		opts: Options{
			UserID:          "u1",
			CoinToss:        time.Second,
			Summary:         5 * time.Second,
			EventRetry:      time.Second,
			CheckinInterval: 2 * time.Second,
			RequestTimeout:  time.Second,
		},
	}
}

func (h *harness) start(t *testing.T) *Session {
	t.Helper()
	h.perms.On("Check", mock.Anything).Return(h.permErr)
	s, err := New(Deps{
		Gateway:   h.gw,
		Channels:  h.ch,
		Video:     h.video,
		Perms:     h.perms,
		Net:       h.net,
		Store:     h.store,
		Clock:     h.clock,
		Policy:    app.ThresholdPolicy{Unmatched: 5 * time.Second, Matched: 10 * time.Second},
		Heartbeat: h.hb,
	}, h.opts)
	require.NoError(t, err)
	h.s = s

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	st, err := h.s.Snapshot(context.Background())
	require.NoError(t, err)
	return st
}

func (h *harness) waitFor(t *testing.T, cond func(State) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(h.state(t)) }, wait, tick, msg)
}

func (h *harness) waitPhase(t *testing.T, p Phase) {
	t.Helper()
	h.waitFor(t, func(st State) bool { return st.Phase == p }, "phase "+string(p))
}

func (h *harness) waitStage(t *testing.T, stage domain.Stage) {
	t.Helper()
	h.waitFor(t, func(st State) bool { return st.Stage == stage }, "stage "+string(stage))
}

// push publishes once a listener for channel exists.
func (h *harness) push(t *testing.T, channel, event, data string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.ch.Publish(channel, event, []byte(data)) > 0
	}, wait, tick, "no listener on "+channel)
}

func (h *harness) matchedBattle() {
	zero, one := 0, 1
	h.gw.PutUser(domain.User{ID: "u2", Handle: "rival"})
	h.gw.PutBattle(domain.Battle{
		ID:                  "b1",
		NumberOfRounds:      1,
		TurnLengthSeconds:   2,
		WarmupLengthSeconds: 1,
		TwilioRoomName:      "room-b1",
		Participants: []domain.Participant{
			{ID: "p1", UserID: "u1", BattleID: "b1", Order: &zero},
			{ID: "p2", UserID: "u2", BattleID: "b1", Order: &one},
		},
	})
}

func (h *harness) toSearching(t *testing.T) {
	t.Helper()
	h.gw.QueueParticipant(domain.Participant{ID: "p1", UserID: "u1"})
	require.NoError(t, h.s.StartMatch(context.Background(), ""))
	h.waitPhase(t, PhaseSearching)
}

func (h *harness) toReady(t *testing.T) {
	t.Helper()
	h.toSearching(t)
	h.matchedBattle()
	h.push(t, realtime.ParticipantChannel("p1"), realtime.EventParticipantUpdate, `{"battleId":"b1"}`)
	h.waitPhase(t, PhaseReady)
}

func (h *harness) toBattle(t *testing.T) {
	t.Helper()
	h.toReady(t)
	require.NoError(t, h.s.MarkReady(context.Background()))
	h.waitFor(t, func(st State) bool { return st.Participant != nil && st.Participant.Ready() }, "self ready")
	h.push(t, realtime.ParticipantChannel("p2"), realtime.EventParticipantUpdate, `{"readyForBattleAt":"2026-01-02T03:04:05Z"}`)
	h.waitPhase(t, PhaseInBattle)
}

func opponentEvent(uuid string, typ domain.EventType, round, participant int) domain.StateMachineEvent {
	return domain.StateMachineEvent{
		UUID:                     uuid,
		Type:                     typ,
		TriggeredByParticipantID: "p2",
		CreatedAt:                time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Turn:                     &domain.Turn{Round: round, Participant: participant},
	}
}

func postedTypes(gw *apptest.Gateway) []domain.EventType {
	var out []domain.EventType
	for _, c := range gw.Calls("PostEvent") {
		out = append(out, c.Arg.(domain.StateMachineEvent).Type)
	}
	return out
}

func TestSession_MatchToSummary(t *testing.T) {
	h := newHarness()
	h.start(t)
	h.toBattle(t)

	st := h.state(t)
	assert.Equal(t, domain.StageCoinToss, st.Stage)
	require.NotNil(t, st.OpponentUser)
	assert.Equal(t, "rival", st.OpponentUser.Handle)
	require.NotNil(t, st.Beat)
	assert.Equal(t, "beat-1", st.Beat.ID)
	require.Eventually(t, func() bool { return slices.Contains(h.video.Ops(), "connect") }, wait, tick)
	_, muted, _ := h.video.State()
	assert.True(t, muted)

	h.clock.Advance(time.Second)
	h.waitStage(t, domain.StageWarmUp)
	_, _, beat := h.video.State()
	assert.True(t, beat)

	h.clock.Advance(time.Second)
	h.waitStage(t, domain.StageBattle)
	_, muted, _ = h.video.State()
	assert.False(t, muted)

	h.clock.Advance(time.Second)
	h.waitStage(t, domain.StageWaiting)

	h.video.Emit(core.VideoEvent{Kind: core.VideoDataMessage, Event: ptr(opponentEvent("e-warm", domain.EventWarmUpComplete, 0, 1))})
	done, err := json.Marshal(opponentEvent("e-done", domain.EventBattleComplete, 0, 1))
	require.NoError(t, err)
	h.push(t, realtime.BattleEventsChannel("b1"), realtime.EventBattleEvent, string(done))

	h.waitPhase(t, PhaseSummary)
	st = h.state(t)
	assert.True(t, st.BattleCompleted)
	assert.False(t, st.CanLeave())
	assert.Equal(t, domain.StageComplete, st.Stage)
	require.Eventually(t, func() bool { return h.gw.Count("PostEvent") == 3 }, wait, tick)
	assert.Equal(t, []domain.EventType{
		domain.EventCoinTossComplete,
		domain.EventWarmUpComplete,
		domain.EventMoveToNextParticipant,
	}, postedTypes(h.gw))
	assert.Len(t, h.video.Sent(), 3)

	h.clock.Advance(5 * time.Second)
	h.waitPhase(t, PhaseIdle)
	assert.Contains(t, h.video.Ops(), "disconnect")
	require.Eventually(t, func() bool {
		_, err := h.store.Load(context.Background(), "u1")
		return errors.Is(err, store.ErrNotFound)
	}, wait, tick)
}

func ptr[T any](v T) *T { return &v }

func TestSession_Guards(t *testing.T) {
	h := newHarness()
	h.start(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.s.Leave(ctx), ErrNoFlow)
	assert.ErrorIs(t, h.s.MarkReady(ctx), ErrWrongPhase)
	assert.ErrorIs(t, h.s.RequestPrivacy(ctx, domain.PrivacyPrivate), ErrWrongPhase)
	assert.ErrorIs(t, h.s.ConfirmChallenge(ctx, true), ErrWrongPhase)
	assert.Error(t, h.s.ReportAppState(ctx, "sleeping"))

	h.toSearching(t)
	assert.ErrorIs(t, h.s.StartMatch(ctx, domain.MatchingRandom), ErrBusy)
	assert.ErrorIs(t, h.s.StartChallenge(ctx, "u2"), ErrBusy)
	assert.True(t, h.hb.Running())

	require.Eventually(t, func() bool {
		snap, err := h.store.Load(ctx, "u1")
		return err == nil && snap.ParticipantID == "p1"
	}, wait, tick)
}

func TestSession_StillSearchingNotice(t *testing.T) {
	h := newHarness()
	h.start(t)
	notices, cancel := h.s.Notices()
	defer cancel()

	h.toSearching(t)
	h.push(t, realtime.ParticipantChannel("p1"), realtime.EventParticipantUpdate, `{"initialMatchFailed":true}`)

	select {
	case n := <-notices:
		assert.Equal(t, NoticeInfo, n.Kind)
		assert.Equal(t, msgStillSearching, n.Message)
	case <-time.After(wait):
		t.Fatal("no notice")
	}
	st := h.state(t)
	assert.True(t, st.InitialMatchFailed)
	assert.Equal(t, PhaseSearching, st.Phase)
}

func TestSession_MadeInactiveWhileSearching(t *testing.T) {
	h := newHarness()
	h.start(t)
	h.toSearching(t)

	h.push(t, realtime.ParticipantChannel("p1"), realtime.EventParticipantUpdate,
		`{"madeInactiveAt":"2026-01-02T03:04:05Z","madeInactiveReason":"UNKNOWN"}`)
	h.waitPhase(t, PhaseIdle)
	assert.False(t, h.hb.Running())
}

func TestSession_OfflineWhileSearchingAbandons(t *testing.T) {
	h := newHarness()
	h.start(t)
	h.toSearching(t)

	h.net.Set(false)
	h.waitFor(t, func(st State) bool { return st.Countdown != nil }, "countdown")
	st := h.state(t)
	assert.False(t, st.Online)
	assert.Equal(t, "abandon_search", st.Countdown.Action)
	assert.Equal(t, h.clock.Now().Add(5*time.Second), st.Countdown.Deadline)
	assert.False(t, h.hb.Running())

	h.clock.Advance(5 * time.Second)
	h.waitPhase(t, PhaseIdle)
	assert.Zero(t, h.gw.Count("Leave"))
}

func TestSession_OfflineWhileMatchedForfeits(t *testing.T) {
	h := newHarness()
	h.start(t)
	h.toReady(t)

	h.net.Set(false)
	h.waitFor(t, func(st State) bool { return st.Countdown != nil }, "countdown")
	assert.Equal(t, "forfeit", h.state(t).Countdown.Action)

	h.clock.Advance(9 * time.Second)
	h.net.Set(true)
	h.waitFor(t, func(st State) bool { return st.Online && st.Countdown == nil }, "countdown cancelled")
	assert.Equal(t, PhaseReady, h.state(t).Phase)
	assert.True(t, h.hb.Running())

	h.net.Set(false)
	h.waitFor(t, func(st State) bool { return st.Countdown != nil }, "second countdown")
	h.clock.Advance(10 * time.Second)
	h.waitPhase(t, PhaseIdle)
	require.Eventually(t, func() bool { return h.gw.Count("Leave") == 1 }, wait, tick)
	assert.Equal(t, domain.ReasonAutoForfeit, h.gw.Calls("Leave")[0].Arg)
}

func TestSession_ReconnectReplaysBattleLog(t *testing.T) {
	h := newHarness()
	h.opts.CoinToss = time.Minute
	h.start(t)
	h.toBattle(t)

	h.net.Set(false)
	h.waitFor(t, func(st State) bool { return !st.Online }, "offline")
	h.gw.AppendEvent("b1", opponentEvent("e-coin", domain.EventCoinTossComplete, 0, 0))
	h.net.Set(true)

	h.waitStage(t, domain.StageWarmUp)
	assert.Equal(t, PhaseInBattle, h.state(t).Phase)
}

func TestSession_EventPostRetried(t *testing.T) {
	h := newHarness()
	h.start(t)
	h.toBattle(t)
	h.gw.Fail("PostEvent", errors.New("backend down"))

	h.clock.Advance(time.Second)
	h.waitStage(t, domain.StageWarmUp)
	h.waitFor(t, func(st State) bool { return st.PendingEvents == 1 }, "event pending")

	h.gw.Fail("PostEvent", nil)
	h.waitFor(t, func(st State) bool {
		h.clock.Advance(100 * time.Millisecond)
		return st.PendingEvents == 0
	}, "event posted")
	b := h.gw.Battle("b1")
	ev := b.Events()
	require.NotEmpty(t, ev)
	assert.Equal(t, domain.EventCoinTossComplete, ev[0].Type)
}

func TestSession_AutoReady(t *testing.T) {
	h := newHarness()
	h.opts.AutoReady = 3 * time.Second
	h.start(t)
	h.toReady(t)

	h.clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return h.gw.Count("MarkReady") == 1 }, wait, tick)
	h.waitFor(t, func(st State) bool { return st.Participant.Ready() }, "ready")
}

func TestSession_PermissionsDenied(t *testing.T) {
	h := newHarness()
	h.permErr = core.ErrPermissionsDenied
	h.start(t)
	h.toReady(t)

	require.NoError(t, h.s.MarkReady(context.Background()))
	h.waitPhase(t, PhaseIdle)
	require.Eventually(t, func() bool { return h.gw.Count("Leave") == 1 }, wait, tick)
	assert.Equal(t, domain.ReasonMediaPermissionsNotGranted, h.gw.Calls("Leave")[0].Arg)
	assert.Zero(t, h.gw.Count("MarkReady"))
	h.perms.AssertExpectations(t)
}

func TestSession_LeaveForfeits(t *testing.T) {
	h := newHarness()
	h.start(t)
	h.toReady(t)

	require.NoError(t, h.s.Leave(context.Background()))
	h.waitPhase(t, PhaseIdle)
	require.Equal(t, 1, h.gw.Count("Leave"))
	assert.Equal(t, domain.ReasonParticipantLeft, h.gw.Calls("Leave")[0].Arg)
	assert.Contains(t, h.video.Ops(), "disconnect")
	assert.ErrorIs(t, h.s.Leave(context.Background()), ErrNoFlow)
}

func (h *harness) toChallengeWaiting(t *testing.T) {
	t.Helper()
	require.NoError(t, h.s.StartChallenge(context.Background(), "u2"))
	h.waitPhase(t, PhaseChallengeWaiting)
}

func TestSession_ChallengeToPrivacyRollback(t *testing.T) {
	h := newHarness()
	h.start(t)
	notices, cancel := h.s.Notices()
	defer cancel()
	h.toChallengeWaiting(t)
	h.matchedBattle()

	h.push(t, realtime.UserChallengesChannel("u1"), realtime.EventChallengeUpdate, `{"id":"c-1","status":"STARTED","battleId":"b1"}`)
	h.waitPhase(t, PhasePrivacy)

	h.gw.Fail("RequestPrivacy", errors.New("nope"))
	require.NoError(t, h.s.RequestPrivacy(context.Background(), domain.PrivacyPrivate))

	deadline := time.After(wait)
	for {
		select {
		case n := <-notices:
			if n.Message != msgPrivacyFailed {
				continue
			}
			st := h.state(t)
			assert.Equal(t, domain.PrivacyUnset, st.Participant.RequestedPrivacyLevel)
			assert.Equal(t, PhasePrivacy, st.Phase)
			return
		case <-deadline:
			t.Fatal("no rollback notice")
		}
	}
}

func TestSession_PrivacyChangeClearsReady(t *testing.T) {
	h := newHarness()
	h.start(t)
	h.toChallengeWaiting(t)
	h.matchedBattle()
	h.push(t, realtime.UserChallengesChannel("u1"), realtime.EventChallengeUpdate, `{"id":"c-1","status":"STARTED","battleId":"b1"}`)
	h.waitPhase(t, PhasePrivacy)

	require.NoError(t, h.s.MarkReady(context.Background()))
	h.waitFor(t, func(st State) bool { return st.Participant.Ready() }, "ready")
	require.NoError(t, h.s.RequestPrivacy(context.Background(), domain.PrivacyPublic))
	st := h.state(t)
	assert.False(t, st.Participant.Ready())
	assert.Equal(t, domain.PrivacyPublic, st.Participant.RequestedPrivacyLevel)
	assert.Error(t, h.s.RequestPrivacy(context.Background(), "SECRET"))
}

func TestSession_ChallengeCancelledByOpponent(t *testing.T) {
	h := newHarness()
	h.start(t)
	notices, cancel := h.s.Notices()
	defer cancel()
	h.toChallengeWaiting(t)

	// Pushes about other challenges are ignored.
	h.push(t, realtime.UserChallengesChannel("u1"), realtime.EventChallengeUpdate, `{"id":"c-9","status":"CANCELLED"}`)
	h.push(t, realtime.UserChallengesChannel("u1"), realtime.EventChallengeUpdate, `{"id":"c-1","status":"CANCELLED","cancelledByUserId":"u2"}`)
	h.waitPhase(t, PhaseIdle)

	select {
	case n := <-notices:
		assert.Equal(t, msgChallengeCancelled, n.Message)
	case <-time.After(wait):
		t.Fatal("no notice")
	}
}

func TestSession_ChallengeConfirmation(t *testing.T) {
	h := newHarness()
	h.gw.SetChallenging(true)
	h.start(t)

	require.NoError(t, h.s.StartChallenge(context.Background(), "u2"))
	h.waitPhase(t, PhaseConfirmChallenge)
	assert.Zero(t, h.gw.Count("CreateChallenge"))

	require.NoError(t, h.s.ConfirmChallenge(context.Background(), true))
	h.waitPhase(t, PhaseChallengeWaiting)
	assert.Equal(t, 1, h.gw.Count("CreateChallenge"))
	assert.Equal(t, 1, h.gw.Count("IsChallenging"))

	require.NoError(t, h.s.Leave(context.Background()))
	h.waitPhase(t, PhaseIdle)
	require.Eventually(t, func() bool { return h.gw.Count("LeaveChallenge") == 1 }, wait, tick)
}

func TestSession_ChallengeDeclined(t *testing.T) {
	h := newHarness()
	h.gw.SetChallenging(true)
	h.start(t)

	require.NoError(t, h.s.StartChallenge(context.Background(), "u2"))
	h.waitPhase(t, PhaseConfirmChallenge)
	require.NoError(t, h.s.ConfirmChallenge(context.Background(), false))
	h.waitPhase(t, PhaseIdle)
	assert.Zero(t, h.gw.Count("CreateChallenge"))
}

func TestSession_ResumeFromStore(t *testing.T) {
	h := newHarness()
	h.matchedBattle()
	require.NoError(t, h.store.Save(context.Background(), store.Snapshot{UserID: "u1", ParticipantID: "p1", BattleID: "b1"}))
	h.start(t)

	h.waitPhase(t, PhaseReady)
	assert.Equal(t, 1, h.gw.Count("GetParticipant"))
}

func TestSession_CheckinThrottledAndDeferred(t *testing.T) {
	h := newHarness()
	h.opts.CoinToss = time.Minute
	h.start(t)
	h.toBattle(t)
	h.video.Emit(core.VideoEvent{Kind: core.VideoConnected})
	h.waitFor(t, func(st State) bool { return st.VideoConnected }, "video connected")
	require.Eventually(t, func() bool { return h.gw.Count("StoreTrackIDs") == 1 }, wait, tick)

	before := h.gw.Count("Checkin")
	h.s.Tick()
	h.s.Tick()
	h.state(t)
	h.clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool {
		return slices.ContainsFunc(h.gw.Calls("Checkin")[before:], func(c apptest.Call) bool {
			return c.Arg.(domain.CheckinPayload).CurrentState == domain.StageCoinToss
		})
	}, wait, tick)
	last := h.gw.Calls("Checkin")[h.gw.Count("Checkin")-1].Arg.(domain.CheckinPayload)
	require.NotNil(t, last.VideoStreamOffsetMs)
	assert.Equal(t, int64(1500), *last.VideoStreamOffsetMs)
	require.NotNil(t, last.CurrentContext)
	assert.Equal(t, []domain.ParticipantID{"p1", "p2"}, last.CurrentContext.ParticipantIDs)
}

func TestSession_BootstrapFailureAbandons(t *testing.T) {
	h := newHarness()
	h.start(t)
	h.toSearching(t)
	h.gw.Fail("GetBeat", errors.New("cdn down"))
	h.matchedBattle()
	h.push(t, realtime.ParticipantChannel("p1"), realtime.EventParticipantUpdate, `{"battleId":"b1"}`)

	h.waitFor(t, func(st State) bool {
		h.clock.Advance(time.Second)
		return st.Phase == PhaseIdle
	}, "abandoned")
	assert.Equal(t, bootstrapAttempts, h.gw.Count("GetBeat"))
	require.Eventually(t, func() bool { return h.gw.Count("Leave") == 1 }, wait, tick)
}

func TestSession_OfflineWhileLoadingBattleForfeits(t *testing.T) {
	h := newHarness()
	h.start(t)
	h.toSearching(t)
	h.matchedBattle()
	release := h.gw.Hold("GetBattle")
	t.Cleanup(release)

	h.push(t, realtime.ParticipantChannel("p1"), realtime.EventParticipantUpdate, `{"battleId":"b1"}`)
	h.waitPhase(t, PhaseLoadingBattle)
	require.Eventually(t, func() bool { return h.gw.Count("GetBattle") == 1 }, wait, tick)

	h.net.Set(false)
	h.waitFor(t, func(st State) bool { return st.Countdown != nil }, "countdown")
	st := h.state(t)
	assert.Equal(t, "forfeit", st.Countdown.Action)
	assert.Equal(t, h.clock.Now().Add(10*time.Second), st.Countdown.Deadline)

	h.clock.Advance(10 * time.Second)
	h.waitPhase(t, PhaseIdle)
	require.Eventually(t, func() bool { return h.gw.Count("Leave") == 1 }, wait, tick)
	assert.Equal(t, domain.ReasonAutoForfeit, h.gw.Calls("Leave")[0].Arg)
}

func TestSession_LeaveWhileCreatingParticipantReleasesIt(t *testing.T) {
	h := newHarness()
	h.start(t)
	release := h.gw.Hold("CreateParticipant")
	t.Cleanup(release)
	h.gw.QueueParticipant(domain.Participant{ID: "p1", UserID: "u1"})

	require.NoError(t, h.s.StartMatch(context.Background(), ""))
	h.waitPhase(t, PhaseCreatingParticipant)
	require.Eventually(t, func() bool { return h.gw.Count("CreateParticipant") == 1 }, wait, tick)

	require.NoError(t, h.s.Leave(context.Background()))
	h.waitPhase(t, PhaseIdle)
	assert.Zero(t, h.gw.Count("Leave"))

	release()
	require.Eventually(t, func() bool { return h.gw.Count("Leave") == 1 }, wait, tick)
	assert.Equal(t, domain.ReasonParticipantLeft, h.gw.Calls("Leave")[0].Arg)
	st := h.state(t)
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Nil(t, st.Participant)
}

func TestSession_LeaveWhileCreatingChallengeReleasesIt(t *testing.T) {
	h := newHarness()
	h.start(t)
	release := h.gw.Hold("CreateChallenge")
	t.Cleanup(release)
	h.gw.QueueChallenge(domain.Challenge{ID: "c1", Status: domain.ChallengePending})

	require.NoError(t, h.s.StartChallenge(context.Background(), "u2"))
	h.waitPhase(t, PhaseCreatingChallenge)
	require.Eventually(t, func() bool { return h.gw.Count("CreateChallenge") == 1 }, wait, tick)

	require.NoError(t, h.s.Leave(context.Background()))
	h.waitPhase(t, PhaseIdle)

	release()
	require.Eventually(t, func() bool { return h.gw.Count("LeaveChallenge") == 1 }, wait, tick)
	assert.Equal(t, domain.ChallengeID("c1"), h.gw.Calls("LeaveChallenge")[0].Arg)
	assert.Nil(t, h.state(t).Challenge)
}
