// Package control implements the HTTP control API of the flashing station.
//
// It adapts the session store, the flasher and the poller to JSON
// endpoints and streams progress updates as server-sent events.
package control
