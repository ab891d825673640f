package conversation

import "time"

// Timer is a pending scheduled call.
type Timer interface {
	// Stop prevents the call from firing. It reports false if the call already fired or was stopped.
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ClockScheduler schedules on the wall clock.
var ClockScheduler Scheduler = clockScheduler{}
