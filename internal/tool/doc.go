// Package tool drives the vendor upgrade tool.
//
// Every invocation is scoped to one device with `-s <loc_id>`. Standard
// output and standard error are drained concurrently and logged line by
// line; a call returns only after both streams hit EOF and the process
// exited, so a blocked pipe cannot hide a hung tool.
package tool
