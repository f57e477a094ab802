// Package registry enumerates attached devices through the upgrade tool and
// reconciles each enumeration with the previously known device list.
package registry

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/oshokin/rkflash/internal/domain/flash"
	"github.com/oshokin/rkflash/internal/tool"
)

// EnumerationError reports that the enumeration command failed.
type EnumerationError struct {
	Err error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("enumerate devices: %v", e.Err)
}

func (e *EnumerationError) Unwrap() error {
	return e.Err
}

// Record lines start with DevNo=; the remaining fields are looked up
// individually so a missing one yields "" instead of dropping the line.
var (
	devNoPattern    = regexp.MustCompile(`^\s*DevNo=(\S*)`)
	locIDPattern    = regexp.MustCompile(`(?:^|[\s,])LocationID=([^\s,]*)`)
	modePattern     = regexp.MustCompile(`(?:^|[\s,])Mode=([^\s,]*)`)
	serialNoPattern = regexp.MustCompile(`(?:^|[\s,])SerialNo=([^\s,]*)`)
)

// Parse extracts device records from the enumeration output. Lines not
// starting with DevNo= are ignored.
func Parse(output string) []flash.Device {
	var devices []flash.Device

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		if device, ok := ParseLine(scanner.Text()); ok {
			devices = append(devices, device)
		}
	}

	return devices
}

// ParseLine parses one enumeration line.
func ParseLine(line string) (flash.Device, bool) {
	match := devNoPattern.FindStringSubmatch(line)
	if match == nil {
		return flash.Device{}, false
	}

	return flash.Device{
		DevNo:    match[1],
		LocID:    field(locIDPattern, line),
		Mode:     field(modePattern, line),
		SerialNo: field(serialNoPattern, line),
		Progress: flash.ProgressReady,
	}, true
}

func field(pattern *regexp.Regexp, line string) string {
	if match := pattern.FindStringSubmatch(line); match != nil {
		return match[1]
	}

	return ""
}

// Reconcile merges a fresh enumeration with the previous device list.
// Devices present in both keep their checked flag and progress; new ones
// get selectNew and "ready"; devices missing from next are dropped.
// Order follows next. Duplicate loc_ids in next keep the first record.
func Reconcile(prev, next []flash.Device, selectNew bool) []flash.Device {
	known := make(map[string]flash.Device, len(prev))
	for _, d := range prev {
		known[d.LocID] = d
	}

	seen := make(map[string]struct{}, len(next))
	result := make([]flash.Device, 0, len(next))

	for _, d := range next {
		if _, dup := seen[d.LocID]; dup {
			continue
		}

		seen[d.LocID] = struct{}{}

		if old, ok := known[d.LocID]; ok {
			d.Checked = old.Checked
			d.Progress = old.Progress
		} else {
			d.Checked = selectNew
			d.Progress = flash.ProgressReady
		}

		result = append(result, d)
	}

	return result
}

// Registry enumerates devices with the upgrade tool.
type Registry struct {
	runner    tool.Runner
	selectNew bool
}

// New creates a registry. selectNew is the checked flag of new devices.
func New(runner tool.Runner, selectNew bool) *Registry {
	return &Registry{
		runner:    runner,
		selectNew: selectNew,
	}
}

// Enumerate runs the enumeration command and parses its output.
func (r *Registry) Enumerate(ctx context.Context) ([]flash.Device, error) {
	output, err := r.runner.Output(ctx, tool.ListDevicesArgs()...)
	if err != nil {
		return nil, &EnumerationError{Err: err}
	}

	return Parse(string(output)), nil
}

// Reconcile merges next with prev using the registry's default selection.
func (r *Registry) Reconcile(prev, next []flash.Device) []flash.Device {
	return Reconcile(prev, next, r.selectNew)
}

// Refresh enumerates devices and reconciles them with prev.
func (r *Registry) Refresh(ctx context.Context, prev []flash.Device) ([]flash.Device, error) {
	next, err := r.Enumerate(ctx)
	if err != nil {
		return nil, err
	}

	return r.Reconcile(prev, next), nil
}
