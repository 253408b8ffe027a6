package xfer

import "time"

// pollInterval is the busy-wait cadence for Drain/DrainAll's blocking path.
const pollInterval = 50 * time.Microsecond

func spinWait() { time.Sleep(pollInterval) }
