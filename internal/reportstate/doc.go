// Package reportstate bridges device.Repository's stateChanged events onto
// the bridge's MQTT report-state feed. Each event is projected into the
// assistant's trait-state shape and published retained so Google's servers
// (or anything else subscribed) always see a device's last known state.
package reportstate
