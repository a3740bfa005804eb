package app

import (
	"testing"
	"time"

	"github.com/dkeye/Barz/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRegistry_BindReplaceCancel(t *testing.T) {
	r := NewRegistry()
	var first, second, other int
	r.Bind("timer", func() { first++ })
	r.Bind("timer", func() { second++ })
	r.Bind("sub", func() { other++ })

	assert.Equal(t, 1, first)
	assert.Equal(t, []string{"sub", "timer"}, r.Names())

	assert.True(t, r.Cancel("timer"))
	assert.False(t, r.Cancel("timer"))
	assert.Equal(t, 1, second)
	assert.False(t, r.Has("timer"))

	r.Unbind("sub")
	assert.Zero(t, r.CancelAll())
	assert.Zero(t, other)
}

func TestRegistry_CancelAll(t *testing.T) {
	r := NewRegistry()
	n := 0
	for _, name := range []string{"a", "b", "c"} {
		r.Bind(name, func() { n++ })
	}
	r.Bind("nil", nil)

	assert.Equal(t, 4, r.CancelAll())
	assert.Equal(t, 3, n)
	assert.Empty(t, r.Names())
}

func TestThresholdPolicy(t *testing.T) {
	p := ThresholdPolicy{Unmatched: 5 * time.Second, Matched: 10 * time.Second}

	tests := []struct {
		name           string
		hasParticipant bool
		matched        bool
		action         OfflineAction
		after          time.Duration
	}{
		{"idle", false, false, NoAction, 0},
		{"searching", true, false, AbandonSearch, 5 * time.Second},
		{"matched", true, true, Forfeit, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, after := p.OnOffline(tt.hasParticipant, tt.matched)
			assert.Equal(t, tt.action, action)
			assert.Equal(t, tt.after, after)
		})
	}
	assert.Equal(t, domain.ReasonAutoForfeit, p.ForfeitReason())
	assert.Equal(t, "forfeit", Forfeit.String())
}
