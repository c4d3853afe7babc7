package tunnel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Stats summarises traffic on the active interface.
type Stats struct {
	LastHandshake time.Time
	ReceiveBytes  int64
	TransmitBytes int64
	Peers         int
}

type deviceReader interface {
	Device(name string) (*wgtypes.Device, error)
	Close() error
}

var openDeviceReader = func() (deviceReader, error) {
	return wgctrl.New()
}

// darwinNameDir is where wg-quick on macOS records which utun device backs
// a configuration.
var darwinNameDir = "/var/run/wireguard"

// Stats queries the kernel or userspace WireGuard implementation for the
// session's interface. Failures are informational only.
func (c *Controller) Stats(session *Session) (Stats, error) {
	if session == nil || session.State() != StateActive {
		return Stats{}, errors.New("session is not active")
	}

	client, err := openDeviceReader()
	if err != nil {
		return Stats{}, fmt.Errorf("open wireguard control: %w", err)
	}
	defer client.Close()

	device, err := client.Device(deviceName(session.Interface))
	if err != nil {
		return Stats{}, fmt.Errorf("read device %s: %w", session.Interface, err)
	}

	stats := Stats{Peers: len(device.Peers)}
	for _, peer := range device.Peers {
		stats.ReceiveBytes += peer.ReceiveBytes
		stats.TransmitBytes += peer.TransmitBytes
		if peer.LastHandshakeTime.After(stats.LastHandshake) {
			stats.LastHandshake = peer.LastHandshakeTime
		}
	}
	return stats, nil
}

func deviceName(iface string) string {
	if runtime.GOOS != "darwin" {
		return iface
	}
	data, err := os.ReadFile(filepath.Join(darwinNameDir, iface+".name"))
	if err != nil {
		return iface
	}
	if name := strings.TrimSpace(string(data)); name != "" {
		return name
	}
	return iface
}
