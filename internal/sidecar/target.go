package sidecar

import "fmt"

// Target is the sealed set of platform gamepad emulations a sidecar child
// can be asked to present, spec.md §9 "Dynamic dispatch over bridges". The
// supervisor never branches on it beyond threading the wire value through
// the control line; all target-specific behavior lives in the external
// process.
type Target string

const (
	TargetX360     Target = "x360"
	TargetDS4      Target = "ds4"
	TargetDKBridge Target = "dkbridge"
)

// ParseTarget validates a config/CLI value against the sealed set.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case TargetX360, TargetDS4, TargetDKBridge:
		return Target(s), nil
	default:
		return "", fmt.Errorf("sidecar: unknown target %q", s)
	}
}
