package tool

// Artifacts are the per-board files written to every device.
type Artifacts struct {
	// Loader is the download-mode loader (loader.bin).
	Loader string
	// Parameter is the partition table (parameter.txt).
	Parameter string
	// UBoot is the u-boot image (uboot.img).
	UBoot string
	// Boot is the kernel boot image (boot.img).
	Boot string
	// RootFS is the assembled root filesystem image.
	RootFS string
}

// Step is one tool invocation of the flashing sequence.
type Step struct {
	// Name is the progress label published once the step completes.
	Name string
	// Args follow the `-s <loc_id>` device selector.
	Args []string
}

// Progress labels of the flashing sequence.
const (
	StepUpgradeLoader  = "upgrade loader"
	StepWriteParameter = "write parameter"
	StepWriteUBoot     = "write uboot"
	StepWriteBoot      = "write boot"
	StepWriteRootFS    = "write rootfs"
	StepResetDevice    = "reset device"
	StepMaskrom        = "reboot to maskrom"
)

// Steps returns the fixed flashing sequence for one device.
func Steps(a Artifacts) []Step {
	return []Step{
		{Name: StepUpgradeLoader, Args: []string{"ul", a.Loader, "-noreset"}},
		{Name: StepWriteParameter, Args: []string{"di", "-p", a.Parameter}},
		{Name: StepWriteUBoot, Args: []string{"di", "-uboot", a.UBoot}},
		{Name: StepWriteBoot, Args: []string{"di", "-b", a.Boot}},
		{Name: StepWriteRootFS, Args: []string{"di", "-rootfs", a.RootFS}},
		{Name: StepResetDevice, Args: []string{"rd"}},
	}
}

// MaskromStep reboots a device into download (maskrom) mode.
func MaskromStep() Step {
	return Step{Name: StepMaskrom, Args: []string{"rd", "3"}}
}

// ListDevicesArgs are the arguments of the enumeration command.
func ListDevicesArgs() []string {
	return []string{"ld"}
}
