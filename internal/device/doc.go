// Package device holds the live, volatile per-user device catalog and state
// fed by gateway connections. It owns the devicesChanged/stateChanged event
// stream and the liveness watchdog; nothing here survives a restart.
package device
