package presence

import (
	"log"
	"os"
	"sync"
	"time"
)

// Coordinator drains connections and terminates the process with bounded
// latency. The sequence is: snapshot state, broadcast a shutdown notice,
// close connections (with a force timer if graceful close stalls), close
// the listener and exit 0. An outer watchdog exits 1 if any of that
// hangs.
type Coordinator struct {
	registry *Registry
	gw       Gateway
	opts     Options

	// closeListener stops the accepting transport. Set by the entry
	// point; optional in tests.
	closeListener func()

	// exit terminates the process. Overridable in tests.
	exit func(code int)

	once sync.Once
}

// NewCoordinator creates a shutdown coordinator.
func NewCoordinator(registry *Registry, gw Gateway, opts Options) *Coordinator {
	return &Coordinator{
		registry: registry,
		gw:       gw,
		opts:     opts.Normalized(),
		exit:     os.Exit,
	}
}

// SetCloseListener registers the callback that closes the listening
// transport.
func (c *Coordinator) SetCloseListener(fn func()) {
	c.closeListener = fn
}

// Shutdown starts the drain exactly once; later calls are no-ops.
func (c *Coordinator) Shutdown(reason string) {
	c.once.Do(func() { go c.run(reason) })
}

func (c *Coordinator) run(reason string) {
	log.Printf("shutting down: %s", reason)

	watchdog := time.AfterFunc(c.opts.WatchdogAfter, func() {
		log.Printf("shutdown watchdog fired, forcing exit")
		c.exit(1)
	})

	snap := c.registry.Snapshot()
	c.gw.Broadcast(EventShutdownNotice, ShutdownNoticePayload{
		Snapshot:           snap,
		ExpectedDowntimeMS: c.opts.ExpectedDowntime.Milliseconds(),
		Reason:             reason,
	})

	done := make(chan struct{})
	go func() {
		c.gw.CloseAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.opts.ForceCloseAfter):
		log.Printf("graceful close stalled, forcing connection teardown")
	}

	if c.closeListener != nil {
		c.closeListener()
	}

	watchdog.Stop()
	log.Printf("shutdown complete (%d participants snapshotted)", len(snap.Participants))
	c.exit(0)
}
