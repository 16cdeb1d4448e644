package network

import (
	"path/filepath"
	"slices"
	"strings"

	"codeberg.org/mutker/traystats/internal/errors"
	"codeberg.org/mutker/traystats/internal/hwmon"
	"github.com/dustin/go-humanize"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// tunnelPrefixes name virtual point-to-point interfaces that do not report
// the pointtopoint flag.
var tunnelPrefixes = []string{"tun", "tap", "wg", "tailscale", "zt", "ppp"}

// Source supplies interface counters and descriptors.
type Source interface {
	// Counters sums received and sent bytes over every counted interface.
	Counters() (rx, tx uint64, err error)
	Adapters() ([]Adapter, error)
}

type osSource struct {
	sys        hwmon.SysFS
	interfaces func() (psnet.InterfaceStatList, error)
	counters   func(pernic bool) ([]psnet.IOCountersStat, error)
}

// NewSource returns a Source backed by gopsutil, reading link speed and
// driver from sysfs.
func NewSource(sys hwmon.SysFS) Source {
	return &osSource{sys: sys, interfaces: psnet.Interfaces, counters: psnet.IOCounters}
}

func (s *osSource) Counters() (uint64, uint64, error) {
	errFactory := errors.New()

	ifaces, err := s.interfaces()
	if err != nil {
		return 0, 0, errFactory.Wrap(errors.ErrQueryFailed, err)
	}
	counters, err := s.counters(true)
	if err != nil {
		return 0, 0, errFactory.Wrap(errors.ErrQueryFailed, err)
	}

	counted := make(map[string]bool, len(ifaces))
	for _, iface := range ifaces {
		counted[iface.Name] = isUp(iface) && !isVirtualLink(iface)
	}

	var rx, tx uint64
	for _, c := range counters {
		if counted[c.Name] {
			rx += c.BytesRecv
			tx += c.BytesSent
		}
	}

	return rx, tx, nil
}

func (s *osSource) Adapters() ([]Adapter, error) {
	errFactory := errors.New()

	ifaces, err := s.interfaces()
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrQueryFailed, err)
	}

	var adapters []Adapter
	for _, iface := range ifaces {
		if isVirtualLink(iface) {
			continue
		}

		adapters = append(adapters, Adapter{
			Name:        iface.Name,
			Description: s.description(iface),
			Speed:       s.speed(iface.Name),
			IsActive:    isUp(iface),
		})
	}

	return adapters, nil
}

// description is the kernel driver bound to the interface, or its hardware
// address for virtual devices.
func (s *osSource) description(iface psnet.InterfaceStat) string {
	link := s.sys.Path("class/net", iface.Name, "device/driver")
	if target, err := filepath.EvalSymlinks(link); err == nil {
		return filepath.Base(target)
	}

	return iface.HardwareAddr
}

// speed formats the negotiated link speed. sysfs reports Mbit/s and -1 when
// the link is down or the driver does not know.
func (s *osSource) speed(name string) string {
	mbps, err := s.sys.ReadInt("class/net", name, "speed")
	if err != nil || mbps <= 0 {
		return ""
	}

	return FormatLinkSpeed(float64(mbps) * 1e6)
}

// FormatLinkSpeed renders bits per second with SI prefixes, e.g. "1 Gbps".
func FormatLinkSpeed(bps float64) string {
	return humanize.SIWithDigits(bps, 0, "bps")
}

func isUp(iface psnet.InterfaceStat) bool {
	return slices.Contains(iface.Flags, "up")
}

func isVirtualLink(iface psnet.InterfaceStat) bool {
	if slices.Contains(iface.Flags, "loopback") || slices.Contains(iface.Flags, "pointtopoint") {
		return true
	}
	for _, p := range tunnelPrefixes {
		if strings.HasPrefix(iface.Name, p) {
			return true
		}
	}

	return false
}
