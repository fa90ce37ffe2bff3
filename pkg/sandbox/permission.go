package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrPermissionUnsupported is returned when the runtime has no permission model.
var ErrPermissionUnsupported = errors.New("script runtime has no permission model")

// DetectPermissionFlag runs `<runtime> --version` and returns the flag that
// enables the permission model on that release.
func DetectPermissionFlag(ctx context.Context, runtime string) (string, error) {
	out, err := exec.CommandContext(ctx, runtime, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("query %s version: %w", runtime, err)
	}
	return permissionFlagFor(strings.TrimSpace(string(out)))
}

// permissionFlagFor maps a Node version string ("v22.13.1") to its
// permission flag. The flag went stable in 22.13 and 23.5; 20.x through
// 22.12 only ship the experimental spelling.
func permissionFlagFor(version string) (string, error) {
	major, minor, ok := parseVersion(version)
	if !ok {
		return "", fmt.Errorf("%w: unrecognized version %q", ErrPermissionUnsupported, version)
	}
	switch {
	case major >= 24, major == 23 && minor >= 5, major == 22 && minor >= 13:
		return "--permission", nil
	case major >= 20:
		return "--experimental-permission", nil
	}
	return "", fmt.Errorf("%w: %s predates Node 20", ErrPermissionUnsupported, version)
}

func parseVersion(v string) (major, minor int, ok bool) {
	v, found := strings.CutPrefix(v, "v")
	if !found {
		return 0, 0, false
	}
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}
