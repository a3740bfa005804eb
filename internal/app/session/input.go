package session

import (
	"github.com/dkeye/Barz/internal/adapters/realtime"
	"github.com/dkeye/Barz/internal/core"
	"github.com/dkeye/Barz/internal/domain"
	"github.com/rs/zerolog/log"
)

// input is anything the loop consumes.
type input interface{ isInput() }

type (
	cmdStartMatch struct {
		alg   domain.MatchingAlgorithm
		reply chan error
	}
	cmdStartChallenge struct {
		target domain.UserID
		reply  chan error
	}
	cmdConfirmChallenge struct {
		proceed bool
		reply   chan error
	}
	cmdResumeChallenge struct {
		challenge domain.Challenge
		reply     chan error
	}
	cmdMarkReady struct {
		reply chan error
	}
	cmdRequestPrivacy struct {
		level domain.PrivacyLevel
		reply chan error
	}
	cmdLeave struct {
		reply chan error
	}
	cmdAppState struct {
		state domain.AppState
		reply chan error
	}
	cmdSnapshot struct {
		reply chan State
	}

	inChannel struct {
		msg   core.ChannelMessage
		epoch uint64
	}
	inVideo struct {
		ev    core.VideoEvent
		epoch uint64
	}
	inOnline struct {
		online bool
	}
	inTimer struct {
		name  string
		token uint64
		epoch uint64
	}
	inTick struct{}
	inDone struct {
		epoch  uint64
		apply  func()
		orphan func()
	}
)

func (cmdStartMatch) isInput()       {}
func (cmdStartChallenge) isInput()   {}
func (cmdConfirmChallenge) isInput() {}
func (cmdResumeChallenge) isInput()  {}
func (cmdMarkReady) isInput()        {}
func (cmdRequestPrivacy) isInput()   {}
func (cmdLeave) isInput()            {}
func (cmdAppState) isInput()         {}
func (cmdSnapshot) isInput()         {}
func (inChannel) isInput()           {}
func (inVideo) isInput()             {}
func (inOnline) isInput()            {}
func (inTimer) isInput()             {}
func (inTick) isInput()              {}
func (inDone) isInput()              {}

func (s *Session) handle(in input) {
	switch in := in.(type) {
	case cmdStartMatch:
		in.reply <- s.startMatch(in.alg)
	case cmdStartChallenge:
		in.reply <- s.startChallenge(in.target, false)
	case cmdConfirmChallenge:
		in.reply <- s.confirmChallenge(in.proceed)
	case cmdResumeChallenge:
		in.reply <- s.resumeChallenge(in.challenge)
	case cmdMarkReady:
		in.reply <- s.markReady()
	case cmdRequestPrivacy:
		in.reply <- s.requestPrivacy(in.level)
	case cmdLeave:
		in.reply <- s.leave()
	case cmdAppState:
		in.reply <- s.reportAppState(in.state)
	case cmdSnapshot:
		in.reply <- s.state()

	case inChannel:
		if in.epoch != s.flow.epoch {
			return
		}
		s.onChannel(in.msg)
	case inVideo:
		if in.epoch != s.flow.epoch {
			return
		}
		s.onVideo(in.ev)
	case inOnline:
		s.onConnectivity(in.online)
	case inTimer:
		if in.epoch != s.flow.epoch || s.flow.timers[in.name] != in.token {
			return
		}
		delete(s.flow.timers, in.name)
		s.flow.reg.Unbind("timer:" + in.name)
		s.onTimer(in.name)
	case inTick:
		s.checkin("heartbeat")
	case inDone:
		if in.epoch != s.flow.epoch {
			if in.orphan != nil {
				in.orphan()
			}
			return
		}
		in.apply()
	default:
		log.Warn().Str("module", "app.session").Msgf("unknown input %T", in)
	}
}

const (
	timerOffline         = "offline"
	timerAutoReady       = "auto-ready"
	timerStage           = "stage"
	timerSummary         = "summary"
	timerEventRetry      = "event-retry"
	timerCheckinDeferred = "checkin-deferred"
	timerBootstrapRetry  = "bootstrap-retry"
	timerTrackIDs        = "track-ids"
)

func (s *Session) onTimer(name string) {
	switch name {
	case timerOffline:
		s.offlineExpired()
	case timerAutoReady:
		s.autoReady()
	case timerStage:
		s.stageTimeout()
	case timerSummary:
		s.endFlow("summary closed")
	case timerEventRetry:
		s.flushOutbox()
	case timerCheckinDeferred:
		s.checkin("deferred")
	case timerBootstrapRetry:
		s.loadBattle()
	case timerTrackIDs:
		s.storeTrackIDs()
	}
}

func (s *Session) onChannel(msg core.ChannelMessage) {
	switch msg.Event {
	case realtime.EventParticipantUpdate, realtime.EventParticipantCreate:
		s.onParticipantPush(msg)
	case realtime.EventBattleUpdate, realtime.EventBattleCreate:
		s.onBattlePush(msg.Data)
	case realtime.EventBattleEvent:
		s.onEventPush(msg.Data)
	case realtime.EventChallengeUpdate, realtime.EventChallengeCreate:
		s.onChallengePush(msg.Data)
	case realtime.EventChallengeRequestCheck:
		s.onChallengeCheckRequest()
	default:
		log.Debug().Str("module", "app.session").Str("channel", msg.Channel).Str("event", msg.Event).Msg("ignored push")
	}
}
