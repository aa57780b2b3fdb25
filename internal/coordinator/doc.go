// Package coordinator runs the per-entry polling loop.
//
// A Coordinator calls its UpdateFunc on a fixed interval and publishes each
// successful result as an immutable *Snapshot through an atomic pointer, so
// a reader never sees a half-assembled poll. Failed polls keep the previous
// snapshot and are reported through LastError and LastUpdateSuccess.
//
// # Lifecycle
//
//	c, _ := coordinator.New(coordinator.Options{Name: "Fing HA", Interval: 30 * time.Second, Update: fetch})
//	if err := c.FirstRefresh(ctx); err != nil {
//	    log.Warn("first refresh failed", "error", err) // setup continues
//	}
//	c.Start(ctx)
//	defer c.Stop()
package coordinator
