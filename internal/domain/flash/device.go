package flash

// Progress labels that are not tied to a flashing step.
const (
	// ProgressReady is the label of a device nobody has touched yet.
	ProgressReady = "ready"
	// ProgressSuccess marks a device whose whole sequence completed.
	ProgressSuccess = "SUCCESS"
	// ProgressFailedPrefix starts the label of a device whose step failed.
	ProgressFailedPrefix = "FAILED: "
)

// Device is one attached unit as reported by the upgrade tool.
type Device struct {
	// DevNo is the tool's running number of the device.
	DevNo string `json:"dev_no"`
	// LocID identifies the USB connection point; it is the join key across refreshes.
	LocID string `json:"loc_id"`
	// Mode is the reported boot mode, e.g. "Maskrom" or "Loader".
	Mode string `json:"mode"`
	// SerialNo is the reported serial number; may be empty.
	SerialNo string `json:"serial_no"`
	// Checked marks the device as selected for flashing.
	Checked bool `json:"checked"`
	// Progress is the label of the last completed flashing step.
	Progress string `json:"progress"`
}

// FailedProgress builds the progress label for a failed step.
func FailedProgress(step string) string {
	return ProgressFailedPrefix + step
}
