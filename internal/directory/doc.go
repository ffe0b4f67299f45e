// Package directory maps gateway bearer tokens to users and tracks each
// user's live connections. It is the single writer of the user↔connection
// table.
package directory
