package registry

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"thinfleet/pkg/models"
)

var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// NormalizeMAC returns the canonical lower-case, colon separated form of mac.
// Dashes are accepted as separators; anything that is not a 6 byte hardware
// address is a validation error.
func NormalizeMAC(mac string) (string, error) {
	s := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(mac)), "-", ":")
	if s == "" {
		return "", fmt.Errorf("mac address is required: %w", models.ErrValidation)
	}

	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return "", fmt.Errorf("invalid mac address %q: %w", mac, models.ErrValidation)
	}
	return hw.String(), nil
}

// DeviceIDFromMAC derives the default device id from a canonical MAC
func DeviceIDFromMAC(mac string) string {
	return strings.ReplaceAll(mac, ":", "")
}

// ValidateDeviceID checks an explicitly supplied device id. Ids end up in
// file names and URL paths, so separators and whitespace are rejected.
func ValidateDeviceID(id string) error {
	if !deviceIDPattern.MatchString(id) {
		return fmt.Errorf("invalid device_id %q: %w", id, models.ErrValidation)
	}
	return nil
}
