// Package frame implements the gateway wire protocol's byte-stuffed record
// envelope: start/end delimiters with backslash-style escaping of the
// delimiter bytes inside the body.
package frame
