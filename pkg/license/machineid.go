// Package license derives a stable per-host identity used to tag broker orders.
package license

import (
	"os"
	"strings"

	"github.com/denisbrodbeck/machineid"
)

const tagLen = 12

// MachineID fetches the host's identifier hashed with appID, so the raw id
// never leaves the machine.
func MachineID(appID string) (string, error) {
	return machineid.ProtectedID(appID)
}

// InstanceTag returns "<appID>-<hash prefix>" for stamping client extensions.
// Hosts without a readable machine id fall back to the hostname.
func InstanceTag(appID string) string {
	id, err := MachineID(appID)
	if err != nil || id == "" {
		host, herr := os.Hostname()
		if herr != nil || host == "" {
			return appID
		}
		id = host
	}
	id = strings.ToLower(id)
	if len(id) > tagLen {
		id = id[:tagLen]
	}
	return appID + "-" + id
}
