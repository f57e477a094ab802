// Package session owns the shared flashing session.
//
// A Store is the only place the session is mutated. Every change runs
// under one lock, and the resulting snapshot is published to the progress
// sink before the lock is released, so observers see changes in order.
package session
