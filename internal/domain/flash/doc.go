// Package flash contains the core domain types of the flashing station.
//
// It defines board profiles (which release sub-tree and overlay set a board
// uses), device records as reported by the upgrade tool, and the Session
// aggregate shared between the device poller and the flash orchestrator.
// Clone helpers keep callers from leaking references into guarded state.
package flash
