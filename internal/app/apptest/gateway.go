// Package apptest provides in-memory fakes of the core interfaces for tests of
// the battle flow.
package apptest

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Barz/internal/adapters/backend"
	"github.com/dkeye/Barz/internal/core"
	"github.com/dkeye/Barz/internal/domain"
)

type Call struct {
	Op  string
	Arg any
}

// Gateway is an in-memory backend. Every operation is recorded; failures are
// injected per operation name with Fail.
type Gateway struct {
	mu sync.Mutex

	participants map[domain.ParticipantID]domain.Participant
	battles      map[domain.BattleID]domain.Battle
	challenges   map[domain.ChallengeID]domain.Challenge
	users        map[domain.UserID]domain.User

	next        []domain.Participant
	nextCh      []domain.Challenge
	definition  *domain.MachineDefinition
	beat        domain.Beat
	outcome     *domain.ProjectedOutcome
	challenging bool

	errs  map[string]error
	holds map[string]chan struct{}
	calls []Call
	now   func() time.Time
}

var _ core.Gateway = (*Gateway)(nil)

func NewGateway() *Gateway {
	return &Gateway{
		participants: make(map[domain.ParticipantID]domain.Participant),
		battles:      make(map[domain.BattleID]domain.Battle),
		challenges:   make(map[domain.ChallengeID]domain.Challenge),
		users:        make(map[domain.UserID]domain.User),
		beat:         domain.Beat{ID: "beat-1", BeatURL: "http://beats.test/beat-1.mp3"},
		errs:         make(map[string]error),
		holds:        make(map[string]chan struct{}),
		now:          time.Now,
	}
}

// Fail makes op return err until cleared with a nil err.
func (g *Gateway) Fail(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.errs, op)
		return
	}
	g.errs[op] = err
}

// Status is the error a real backend returns for a non-2xx response.
func Status(op string, code int) error {
	return &backend.APIError{Op: op, StatusCode: code, Status: fmt.Sprintf("%d %s", code, http.StatusText(code))}
}

func (g *Gateway) Calls(op string) []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Call
	for _, c := range g.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (g *Gateway) Count(op string) int { return len(g.Calls(op)) }

func (g *Gateway) Ops() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.calls))
	for _, c := range g.calls {
		out = append(out, c.Op)
	}
	return out
}

// QueueParticipant is returned by the next CreateParticipant.
func (g *Gateway) QueueParticipant(p domain.Participant) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next = append(g.next, p)
}

func (g *Gateway) QueueChallenge(c domain.Challenge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextCh = append(g.nextCh, c)
}

func (g *Gateway) PutParticipant(p domain.Participant) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.participants[p.ID] = p
	if p.BattleID != "" {
		if b, ok := g.battles[p.BattleID]; ok {
			b.ReplaceParticipant(p)
			g.battles[p.BattleID] = b
		}
	}
}

// PutBattle stores b and its participants.
func (g *Gateway) PutBattle(b domain.Battle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b.Participants = slices.Clone(b.Participants)
	g.battles[b.ID] = b
	for _, p := range b.Participants {
		g.participants[p.ID] = p
	}
}

func (g *Gateway) Participant(id domain.ParticipantID) domain.Participant {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.participants[id]
}

func (g *Gateway) Battle(id domain.BattleID) domain.Battle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.battles[id]
}

func (g *Gateway) PutUser(u domain.User) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.users[u.ID] = u
}

func (g *Gateway) SetDefinition(def *domain.MachineDefinition) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.definition = def
}

func (g *Gateway) SetChallenging(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.challenging = v
}

// AppendEvent records ev in the battle's durable log as if a peer posted it.
func (g *Gateway) AppendEvent(id domain.BattleID, ev domain.StateMachineEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.appendEvent(id, ev)
}

func (g *Gateway) appendEvent(id domain.BattleID, ev domain.StateMachineEvent) {
	b := g.battles[id]
	for _, r := range b.StateMachineEvents {
		if r.ClientGeneratedUUID == ev.UUID {
			return
		}
	}
	b.StateMachineEvents = append(slices.Clone(b.StateMachineEvents), domain.RecordedEvent{
		ClientGeneratedUUID:      ev.UUID,
		TriggeredByParticipantID: ev.TriggeredByParticipantID,
		Payload:                  ev.Payload(),
		CreatedAt:                ev.CreatedAt,
	})
	g.battles[id] = b
}

// Hold blocks op after it is recorded until the returned release is called.
// Release is idempotent.
func (g *Gateway) Hold(op string) (release func()) {
	ch := make(chan struct{})
	g.mu.Lock()
	g.holds[op] = ch
	g.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.holds, op)
			g.mu.Unlock()
			close(ch)
		})
	}
}

func (g *Gateway) record(op string, arg any) error {
	g.mu.Lock()
	g.calls = append(g.calls, Call{Op: op, Arg: arg})
	hold := g.holds[op]
	g.mu.Unlock()
	if hold != nil {
		<-hold
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errs[op]
}

func (g *Gateway) AuthorizeChannel(_ context.Context, channel, socketID string) (core.ChannelAuth, error) {
	if err := g.record("AuthorizeChannel", channel); err != nil {
		return core.ChannelAuth{}, err
	}
	return core.ChannelAuth{Auth: "fake:" + channel + ":" + socketID}, nil
}

func (g *Gateway) CreateParticipant(_ context.Context, alg domain.MatchingAlgorithm) (*domain.Participant, error) {
	if err := g.record("CreateParticipant", alg); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var p domain.Participant
	if len(g.next) > 0 {
		p, g.next = g.next[0], g.next[1:]
	} else {
		p = domain.Participant{ID: domain.ParticipantID(fmt.Sprintf("p-%d", len(g.participants)+1))}
	}
	g.participants[p.ID] = p
	return &p, nil
}

func (g *Gateway) GetParticipant(_ context.Context, id domain.ParticipantID) (*domain.Participant, error) {
	if err := g.record("GetParticipant", id); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.participants[id]
	if !ok {
		return nil, Status("getting participant", http.StatusNotFound)
	}
	return &p, nil
}

func (g *Gateway) CreateVideoToken(_ context.Context, id domain.ParticipantID) (string, error) {
	if err := g.record("CreateVideoToken", id); err != nil {
		return "", err
	}
	return "video-token-" + string(id), nil
}

func (g *Gateway) update(id domain.ParticipantID, fn func(*domain.Participant)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.participants[id]
	fn(&p)
	g.participants[id] = p
	if b, ok := g.battles[p.BattleID]; ok {
		b.Participants = slices.Clone(b.Participants)
		b.ReplaceParticipant(p)
		b.ComputedPrivacyLevel = b.ComputePrivacy()
		g.battles[p.BattleID] = b
	}
}

func (g *Gateway) MarkReady(_ context.Context, id domain.ParticipantID) error {
	if err := g.record("MarkReady", id); err != nil {
		return err
	}
	now := g.now()
	g.update(id, func(p *domain.Participant) { p.ReadyForBattleAt = &now })
	return nil
}

func (g *Gateway) RequestPrivacy(_ context.Context, id domain.ParticipantID, level domain.PrivacyLevel) error {
	if err := g.record("RequestPrivacy", level); err != nil {
		return err
	}
	g.update(id, func(p *domain.Participant) {
		p.RequestedPrivacyLevel = level
		p.ReadyForBattleAt = nil
	})
	return nil
}

func (g *Gateway) StoreTrackIDs(_ context.Context, _ domain.ParticipantID, ids domain.TrackIDs) error {
	return g.record("StoreTrackIDs", ids)
}

func (g *Gateway) Checkin(_ context.Context, _ domain.ParticipantID, p domain.CheckinPayload) error {
	return g.record("Checkin", p)
}

func (g *Gateway) UpdateAppState(_ context.Context, _ domain.ParticipantID, state domain.AppState) error {
	return g.record("UpdateAppState", state)
}

func (g *Gateway) PostEvent(_ context.Context, id domain.ParticipantID, ev domain.StateMachineEvent) error {
	if err := g.record("PostEvent", ev); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.participants[id]; ok && p.BattleID != "" {
		g.appendEvent(p.BattleID, ev)
	}
	return nil
}

func (g *Gateway) Leave(_ context.Context, id domain.ParticipantID, reason string) error {
	if err := g.record("Leave", reason); err != nil {
		return err
	}
	now := g.now()
	g.update(id, func(p *domain.Participant) {
		p.MadeInactiveAt = &now
		p.MadeInactiveReason = reason
	})
	return nil
}

func (g *Gateway) GetBattle(_ context.Context, id domain.BattleID) (*domain.Battle, error) {
	if err := g.record("GetBattle", id); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.battles[id]
	if !ok {
		return nil, Status("getting battle", http.StatusNotFound)
	}
	b.Participants = slices.Clone(b.Participants)
	b.StateMachineEvents = slices.Clone(b.StateMachineEvents)
	return &b, nil
}

func (g *Gateway) GetDefinition(_ context.Context, id domain.BattleID) (*domain.MachineDefinition, error) {
	if err := g.record("GetDefinition", id); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.definition == nil {
		return nil, Status("getting state machine definition", http.StatusNotFound)
	}
	d := *g.definition
	return &d, nil
}

func (g *Gateway) GetBeat(_ context.Context, id domain.BattleID) (*domain.Beat, error) {
	if err := g.record("GetBeat", id); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.beat
	return &b, nil
}

func (g *Gateway) GetProjectedOutcome(_ context.Context, id domain.BattleID) (*domain.ProjectedOutcome, error) {
	if err := g.record("GetProjectedOutcome", id); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.outcome == nil {
		return &domain.ProjectedOutcome{StartingScore: 1000}, nil
	}
	o := *g.outcome
	return &o, nil
}

func (g *Gateway) CreateChallenge(_ context.Context, target domain.UserID) (*domain.Challenge, error) {
	if err := g.record("CreateChallenge", target); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var c domain.Challenge
	if len(g.nextCh) > 0 {
		c, g.nextCh = g.nextCh[0], g.nextCh[1:]
	} else {
		c = domain.Challenge{ID: domain.ChallengeID(fmt.Sprintf("c-%d", len(g.challenges)+1)), Status: domain.ChallengePending}
	}
	c.ChallengedUserID = target
	g.challenges[c.ID] = c
	g.challenging = true
	return &c, nil
}

func (g *Gateway) LeaveChallenge(_ context.Context, id domain.ChallengeID) error {
	return g.record("LeaveChallenge", id)
}

func (g *Gateway) CancelChallenge(_ context.Context, id domain.ChallengeID) (*domain.Challenge, error) {
	if err := g.record("CancelChallenge", id); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.challenges[id]
	c.Status = domain.ChallengeCancelled
	g.challenges[id] = c
	return &c, nil
}

func (g *Gateway) CheckinChallenge(_ context.Context, id domain.ChallengeID) error {
	return g.record("CheckinChallenge", id)
}

func (g *Gateway) IsChallenging(context.Context) (bool, error) {
	if err := g.record("IsChallenging", nil); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.challenging, nil
}

func (g *Gateway) GetUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	if err := g.record("GetUser", id); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.users[id]
	if !ok {
		return nil, Status("getting user", http.StatusNotFound)
	}
	return &u, nil
}
