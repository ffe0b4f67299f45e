// Package translate maps between the gateway's device/capability
// vocabulary and the voice assistant's device-type/trait vocabulary. Every
// function here is pure: no I/O, no shared state, safe for concurrent use.
package translate
