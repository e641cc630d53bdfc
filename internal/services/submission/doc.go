// Package submission pushes the latest value typed on the sending device
// to the relay.
//
// Set records a value and marks the loop dirty. On every tick a dirty loop
// snapshots (value, version), seals it for the paired session and sends it.
// A successful send clears the dirty flag only if no newer Set happened
// meanwhile; a failed send leaves it set, so the tick interval is also the
// retry interval. Rapid edits within one interval collapse into one send
// of the newest value.
package submission
