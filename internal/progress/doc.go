// Package progress delivers session and run state updates to observers.
//
// Publishers must never block on observers: the Broadcaster hands each
// subscriber a buffered channel and drops updates a slow subscriber has
// no room for.
package progress
