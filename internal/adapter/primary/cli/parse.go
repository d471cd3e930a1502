package cli

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"tinnicap/internal/domain"
	"tinnicap/internal/usecase"
)

var errInvalidLimit = errors.New("limit must be a percentage (50%, 50) or a fraction (0.5) between 0 and 100%")

// parseLimit accepts "50%", "50" or "0.5" and returns a fraction.
// Bare integers are percentages, so "1" is 1%. Decimals up to 1 are fractions
// and larger decimals are percentages again.
func parseLimit(s string) (float64, error) {
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))

	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%w: %q", errInvalidLimit, s)
	}
	if percent || n > 1 || !strings.ContainsAny(s, ".eE") {
		n /= 100
	}
	if n < 0 || n > 1 {
		return 0, errInvalidLimit
	}
	return n, nil
}

// resolveTarget maps a command-line device argument to a stable identifier.
// It matches identifiers first, then names case-insensitively. Arguments that look
// like identifiers are accepted even when the device is absent, so limits can be
// configured ahead of plugging a device in.
func resolveTarget(uc usecase.MonitorUseCase, arg string) (string, string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", "", domain.ErrInvalidIdentifier
	}
	devices := uc.GetSnapshot()
	for _, d := range devices {
		if d.StableID == arg {
			return d.StableID, d.Name, nil
		}
	}
	for _, d := range devices {
		if strings.EqualFold(d.Name, arg) {
			return d.StableID, d.Name, nil
		}
	}
	if strings.Contains(arg, ":") {
		return arg, arg, nil
	}
	return "", "", fmt.Errorf("%w: %q", domain.ErrDeviceNotFound, arg)
}
