// Package matching creates battle attempts and challenges, loads what a
// matched battle needs and runs the readiness handshake.
package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Barz/internal/app/battle"
	"github.com/dkeye/Barz/internal/core"
	"github.com/dkeye/Barz/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

var (
	ErrCreation          = errors.New("creation rejected")
	ErrPermissionsDenied = core.ErrPermissionsDenied
	ErrChallengeClosed   = errors.New("challenge is no longer pending")
)

type Coordinator struct {
	gw    core.Gateway
	perms core.MediaPermissions
}

func New(gw core.Gateway, perms core.MediaPermissions) *Coordinator {
	return &Coordinator{gw: gw, perms: perms}
}

func (c *Coordinator) CreateParticipant(ctx context.Context, alg domain.MatchingAlgorithm) (*domain.Participant, error) {
	p, err := c.gw.CreateParticipant(ctx, alg)
	if err != nil {
		return nil, fmt.Errorf("%w: participant: %w", ErrCreation, err)
	}
	log.Info().Str("module", "app.matching").Str("participant", string(p.ID)).Str("algorithm", string(alg)).Msg("participant created")
	return p, nil
}

// ChallengeStart is the result of StartChallenge. When NeedsConfirmation is
// set nothing was created and the caller must ask the user.
type ChallengeStart struct {
	NeedsConfirmation bool
	Challenge         *domain.Challenge
}

// StartChallenge creates a challenge against target. Unless confirmed, an
// already pending challenge of the caller stops it at the decision point;
// creating a new one replaces the old one server-side.
func (c *Coordinator) StartChallenge(ctx context.Context, target domain.UserID, confirmed bool) (ChallengeStart, error) {
	if err := domain.ValidUserID(target); err != nil {
		return ChallengeStart{}, fmt.Errorf("%w: challenge: %w", ErrCreation, err)
	}
	if !confirmed {
		busy, err := c.gw.IsChallenging(ctx)
		if err != nil {
			return ChallengeStart{}, fmt.Errorf("%w: challenge status: %w", ErrCreation, err)
		}
		if busy {
			return ChallengeStart{NeedsConfirmation: true}, nil
		}
	}
	ch, err := c.gw.CreateChallenge(ctx, target)
	if err != nil {
		return ChallengeStart{}, fmt.Errorf("%w: challenge: %w", ErrCreation, err)
	}
	log.Info().Str("module", "app.matching").Str("challenge", string(ch.ID)).Str("target", string(target)).Msg("challenge created")
	return ChallengeStart{Challenge: ch}, nil
}

// ResumeChallenge re-attaches to an existing challenge and checks in on it.
func (c *Coordinator) ResumeChallenge(ctx context.Context, ch domain.Challenge) (*domain.Challenge, error) {
	if ch.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrChallengeClosed, ch.Status)
	}
	if err := c.gw.CheckinChallenge(ctx, ch.ID); err != nil {
		return nil, fmt.Errorf("resume challenge: %w", err)
	}
	return &ch, nil
}

func (c *Coordinator) CheckinChallenge(ctx context.Context, id domain.ChallengeID) error {
	return c.gw.CheckinChallenge(ctx, id)
}

func (c *Coordinator) LeaveChallenge(ctx context.Context, id domain.ChallengeID) error {
	if err := c.gw.LeaveChallenge(ctx, id); err != nil {
		return fmt.Errorf("leave challenge: %w", err)
	}
	return nil
}

// Bootstrap is everything a matched battle needs before its readiness stage.
type Bootstrap struct {
	Battle       domain.Battle
	Self         domain.Participant
	Opponent     domain.Participant
	OpponentUser *domain.User
	Beat         domain.Beat
	Definition   domain.MachineDefinition
	Outcome      *domain.ProjectedOutcome
}

// Bootstrap fetches the battle, its beat, machine definition and projected
// outcome concurrently. Battle and beat are required; a bad definition falls
// back to the built-in one and a missing outcome is left nil.
func (c *Coordinator) Bootstrap(ctx context.Context, id domain.BattleID, self domain.ParticipantID) (*Bootstrap, error) {
	var (
		b   *domain.Battle
		bt  *domain.Beat
		def *domain.MachineDefinition
		out = &Bootstrap{}
	)
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) (err error) {
		b, err = c.gw.GetBattle(ctx, id)
		return wrap("battle", err)
	})
	p.Go(func(ctx context.Context) (err error) {
		bt, err = c.gw.GetBeat(ctx, id)
		return wrap("beat", err)
	})
	p.Go(func(ctx context.Context) error {
		d, err := c.gw.GetDefinition(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("module", "app.matching").Str("battle", string(id)).Msg("definition unavailable, using built-in")
			return nil
		}
		def = d
		return nil
	})
	p.Go(func(ctx context.Context) error {
		o, err := c.gw.GetProjectedOutcome(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("module", "app.matching").Str("battle", string(id)).Msg("projected outcome unavailable")
			return nil
		}
		out.Outcome = o
		return nil
	})
	if err := p.Wait(); err != nil {
		return nil, err
	}

	me, ok := b.Participant(self)
	if !ok {
		return nil, fmt.Errorf("bootstrap: %w", domain.ErrNotInBattle)
	}
	opp, err := b.Opponent(self)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	resolved, err := battle.Resolve(def)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.matching").Str("battle", string(id)).Msg("definition rejected, using built-in")
	}
	out.Battle, out.Self, out.Opponent = *b, *me, *opp
	out.Beat, out.Definition = *bt, resolved

	if opp.UserID != "" {
		u, err := c.gw.GetUser(ctx, opp.UserID)
		if err != nil {
			log.Warn().Err(err).Str("module", "app.matching").Str("user", string(opp.UserID)).Msg("opponent user unavailable")
		} else {
			out.OpponentUser = u
		}
	}
	return out, nil
}

func wrap(what string, err error) error {
	if err != nil {
		return fmt.Errorf("bootstrap %s: %w", what, err)
	}
	return nil
}

func (c *Coordinator) VideoToken(ctx context.Context, id domain.ParticipantID) (string, error) {
	return c.gw.CreateVideoToken(ctx, id)
}

// MarkReady checks media permissions and marks the participant ready. A denied
// permission abandons the attempt: the backend is told best-effort and
// ErrPermissionsDenied is returned.
func (c *Coordinator) MarkReady(ctx context.Context, id domain.ParticipantID) error {
	if err := c.perms.Check(ctx); err != nil {
		if !errors.Is(err, core.ErrPermissionsDenied) {
			return fmt.Errorf("check permissions: %w", err)
		}
		if lerr := c.gw.Leave(ctx, id, domain.ReasonMediaPermissionsNotGranted); lerr != nil {
			log.Warn().Err(lerr).Str("module", "app.matching").Str("participant", string(id)).Msg("leave after permission denial failed")
		}
		return ErrPermissionsDenied
	}
	if err := c.gw.MarkReady(ctx, id); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	return nil
}

func (c *Coordinator) RequestPrivacy(ctx context.Context, id domain.ParticipantID, level domain.PrivacyLevel) error {
	if !level.Valid() {
		return fmt.Errorf("request privacy: invalid level %q", level)
	}
	if err := c.gw.RequestPrivacy(ctx, id, level); err != nil {
		return fmt.Errorf("request privacy: %w", err)
	}
	return nil
}

func (c *Coordinator) Leave(ctx context.Context, id domain.ParticipantID, reason string) error {
	if err := c.gw.Leave(ctx, id, reason); err != nil {
		return fmt.Errorf("leave: %w", err)
	}
	log.Info().Str("module", "app.matching").Str("participant", string(id)).Str("reason", reason).Msg("left")
	return nil
}

// ParticipantForUser finds the caller's participant in a battle started from
// a challenge.
func (c *Coordinator) ParticipantForUser(ctx context.Context, id domain.BattleID, user domain.UserID) (*domain.Participant, error) {
	b, err := c.gw.GetBattle(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find participant: %w", err)
	}
	p, ok := b.ParticipantByUser(user)
	if !ok {
		return nil, fmt.Errorf("find participant for user %s: %w", user, domain.ErrNotInBattle)
	}
	out := *p
	return &out, nil
}
