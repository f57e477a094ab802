// Package flasher runs flash batches against the attached devices.
//
// A run pauses device polling, assembles the image for the selected
// release and board, then walks the checked devices one at a time through
// the fixed step sequence. A failing device is marked and skipped; the
// batch continues with the next one.
package flasher
