// Package identity derives the stable device UID stamped on every snapshot.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/host"
)

// Namespace scopes UIDs derived from host IDs so they never collide with
// other UUIDv5 users of the same machine ID.
var Namespace = uuid.MustParse("5b0c8d3e-61f2-4c56-9a0e-3c1f9e7d2a41")

// ErrNoHostID is returned when the platform reports an empty host ID.
var ErrNoHostID = errors.New("host id unavailable")

// DeviceUID returns override when set, otherwise a UID derived from the
// host's machine ID.
func DeviceUID(override string) (string, error) {
	if uid := strings.TrimSpace(override); uid != "" {
		return uid, nil
	}

	hostID, err := host.HostID()
	if err != nil {
		return "", fmt.Errorf("read host id: %w", err)
	}
	return FromHostID(hostID)
}

// FromHostID maps a host ID to a UUIDv5. The same host ID always yields the
// same UID.
func FromHostID(hostID string) (string, error) {
	hostID = strings.ToLower(strings.TrimSpace(hostID))
	if hostID == "" {
		return "", ErrNoHostID
	}
	return uuid.NewSHA1(Namespace, []byte(hostID)).String(), nil
}
