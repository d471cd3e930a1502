package domain

import "strings"

const uidPrefix = "uid:"

// ResolveStableID derives the identifier limits are keyed by.
//
// The host's persistent UID wins when there is one. Otherwise the identifier is
// "<transport>:<name>", which cannot tell apart two identical devices of the same
// model on the same transport.
func ResolveStableID(raw RawDevice) string {
	if uid := strings.TrimSpace(raw.UID); uid != "" {
		return uidPrefix + uid
	}
	transport := raw.Transport
	if transport == "" {
		transport = TransportOther
	}
	return string(transport) + ":" + strings.TrimSpace(raw.Name)
}

// HasHardwareUID reports whether id was built from a persistent hardware UID.
func HasHardwareUID(id string) bool {
	return strings.HasPrefix(id, uidPrefix)
}
