package presence

import "time"

// Options holds the tunable windows and limits of the presence core.
// Zero values are replaced with production defaults, so tests can shrink
// individual windows without restating the rest.
type Options struct {
	// DefaultSession is the session joined when none is named.
	DefaultSession string

	// TypingTimeout is the inactivity window after which a typing flag
	// flips back to false.
	TypingTimeout time.Duration

	// MessageMinInterval is the per-connection floor between accepted
	// chat messages. Violations are reported as rate-limited errors.
	MessageMinInterval time.Duration

	// LocationMinInterval is the per-connection floor between accepted
	// location updates. Violations are dropped silently.
	LocationMinInterval time.Duration

	// GracePeriod is how long a departed participant's record and
	// buffered messages are retained for reconnection.
	GracePeriod time.Duration

	// PongTimeout bounds the wait for a heartbeat answer.
	PongTimeout time.Duration

	// Heartbeat interval adaptation bounds and steps.
	PingIntervalInitial time.Duration
	PingIntervalMin     time.Duration
	PingIntervalMax     time.Duration
	PingIntervalStepUp  time.Duration
	PingIntervalStepDn  time.Duration

	// FastLatency and SlowLatency are the adaptation thresholds: below
	// the first the interval widens, above the second it narrows.
	FastLatency time.Duration
	SlowLatency time.Duration

	// StaleThreshold is the last-pong age beyond which the periodic
	// sweep evicts a participant.
	StaleThreshold time.Duration

	// Shutdown pacing.
	ForceCloseAfter  time.Duration
	WatchdogAfter    time.Duration
	ExpectedDowntime time.Duration
}

// Normalized returns a copy with defaults filled in.
func (o Options) Normalized() Options {
	def := func(d *time.Duration, v time.Duration) {
		if *d == 0 {
			*d = v
		}
	}
	if o.DefaultSession == "" {
		o.DefaultSession = "default"
	}
	def(&o.TypingTimeout, 3*time.Second)
	def(&o.MessageMinInterval, 500*time.Millisecond)
	def(&o.LocationMinInterval, time.Second)
	def(&o.GracePeriod, 5*time.Minute)
	def(&o.PongTimeout, 15*time.Second)
	def(&o.PingIntervalInitial, 30*time.Second)
	def(&o.PingIntervalMin, 15*time.Second)
	def(&o.PingIntervalMax, 60*time.Second)
	def(&o.PingIntervalStepUp, 5*time.Second)
	def(&o.PingIntervalStepDn, 2*time.Second)
	def(&o.FastLatency, 100*time.Millisecond)
	def(&o.SlowLatency, time.Second)
	def(&o.StaleThreshold, 10*time.Minute)
	def(&o.ForceCloseAfter, 5*time.Second)
	def(&o.WatchdogAfter, 15*time.Second)
	def(&o.ExpectedDowntime, 30*time.Second)
	return o
}
