package app

import (
	"time"

	"github.com/dkeye/Barz/internal/domain"
)

type OfflineAction int

const (
	NoAction OfflineAction = iota
	// AbandonSearch returns to idle; no battle exists so nothing is forfeited.
	AbandonSearch
	// Forfeit leaves the battle with an auto-forfeit reason.
	Forfeit
)

func (a OfflineAction) String() string {
	switch a {
	case AbandonSearch:
		return "abandon_search"
	case Forfeit:
		return "forfeit"
	}
	return "none"
}

type Policy interface {
	// OnOffline decides what happens if the device stays offline for the
	// returned duration.
	OnOffline(hasParticipant, matched bool) (OfflineAction, time.Duration)
	ForfeitReason() string
}

type ThresholdPolicy struct {
	Unmatched time.Duration
	Matched   time.Duration
}

func (p ThresholdPolicy) OnOffline(hasParticipant, matched bool) (OfflineAction, time.Duration) {
	switch {
	case matched:
		return Forfeit, p.Matched
	case hasParticipant:
		return AbandonSearch, p.Unmatched
	}
	return NoAction, 0
}

func (ThresholdPolicy) ForfeitReason() string { return domain.ReasonAutoForfeit }
