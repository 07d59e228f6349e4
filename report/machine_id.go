package report

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"sync"
)

var (
	machineIDOnce   sync.Once
	cachedMachineID string
)

// MachineID returns a stable, anonymous identifier for the current host:
// SHA-256 of the hostname plus the first non-loopback MAC address found,
// truncated to 16 hex characters. Computed once per process and cached.
//
// No pack example derives a machine id; this is a ~10-line stdlib
// computation, not worth pulling in a dependency for.
func MachineID() string {
	machineIDOnce.Do(func() {
		cachedMachineID = computeMachineID()
	})
	return cachedMachineID
}

func computeMachineID() string {
	host, _ := os.Hostname()

	mac := ""
	if ifaces, err := net.Interfaces(); err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 {
				continue
			}
			if len(iface.HardwareAddr) == 0 {
				continue
			}
			mac = iface.HardwareAddr.String()
			break
		}
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s", host, mac)))
	return hex.EncodeToString(sum[:])[:16]
}
