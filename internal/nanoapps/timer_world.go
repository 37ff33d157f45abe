// Package nanoapps holds the sample applications compiled into the daemon.
package nanoapps

import (
	"time"

	"chred/internal/runtime"
	"chred/pkg/types"
)

// TimerWorldAppID is the application ID of TimerWorld.
const TimerWorldAppID uint64 = 0x0123456789000001

type timerCookie int

const (
	periodicCookie timerCookie = iota + 1
	oneShotCookie
)

// TimerWorld arms a periodic and a one-shot timer, then cancels the periodic
// one after MaxTicks expirations.
type TimerWorld struct {
	Period       time.Duration
	OneShotDelay time.Duration
	MaxTicks     int

	sys          *runtime.System
	periodic     types.TimerHandle
	ticks        int
	oneShotFired bool
}

// NewTimerWorld returns a TimerWorld with a 1s period, a 1.5s one-shot and
// ten ticks.
func NewTimerWorld() *TimerWorld {
	return &TimerWorld{Period: time.Second, OneShotDelay: 1500 * time.Millisecond, MaxTicks: 10}
}

func (a *TimerWorld) Start(sys *runtime.System) bool {
	a.sys = sys
	a.periodic = sys.SetTimer(a.Period, periodicCookie, false)
	oneShot := sys.SetTimer(a.OneShotDelay, oneShotCookie, true)
	sys.Log().Info().Uint32("periodic", uint32(a.periodic)).Uint32("one_shot", uint32(oneShot)).Msg("timer world started")
	return a.periodic != types.TimerInvalid && oneShot != types.TimerInvalid
}

func (a *TimerWorld) HandleEvent(_ uint32, eventType types.EventType, data any) {
	if eventType != types.EventTimer {
		return
	}
	switch data {
	case periodicCookie:
		a.ticks++
		a.sys.Log().Info().Int("tick", a.ticks).Dur("time", a.sys.Time()).Msg("periodic timer fired")
		if a.ticks >= a.MaxTicks {
			ok := a.sys.CancelTimer(a.periodic)
			a.sys.Log().Info().Bool("cancelled", ok).Msg("periodic timer done")
		}
	case oneShotCookie:
		a.oneShotFired = true
		a.sys.Log().Info().Dur("time", a.sys.Time()).Msg("one-shot timer fired")
	default:
		a.sys.Log().Warn().Interface("cookie", data).Msg("timer event with unknown cookie")
	}
}

func (a *TimerWorld) End() {
	a.sys.Log().Info().Int("ticks", a.ticks).Msg("timer world stopped")
}

// Ticks is the number of periodic expirations seen so far.
func (a *TimerWorld) Ticks() int { return a.ticks }

// OneShotFired reports whether the one-shot timer has expired.
func (a *TimerWorld) OneShotFired() bool { return a.oneShotFired }
