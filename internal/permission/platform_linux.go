//go:build linux

package permission

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// HostTable is the capability table for the running OS
var HostTable = LinuxTable

var linuxCapabilities = map[string]int{
	"CAP_NET_ADMIN": unix.CAP_NET_ADMIN,
	"CAP_NET_RAW":   unix.CAP_NET_RAW,
}

// HostPlatform reads effective process capabilities; raw HCI access needs CAP_NET_ADMIN and CAP_NET_RAW.
type HostPlatform struct {
	logger *logrus.Logger
}

// NewHostPlatform creates the platform for the running OS
func NewHostPlatform(logger *logrus.Logger) Platform {
	if logger == nil {
		logger = logrus.New()
	}
	return &HostPlatform{logger: logger}
}

// Version encodes the kernel release as major*100+minor (6.1 -> 601)
func (p *HostPlatform) Version() int {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		p.logger.WithField("error", err).Debug("uname failed, assuming version 0")
		return 0
	}
	return parseKernelVersion(unix.ByteSliceToString(uts.Release[:]))
}

func parseKernelVersion(release string) int {
	parts := strings.SplitN(release, ".", 3)
	if len(parts) < 2 {
		return 0
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	digits := parts[1]
	if i := strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		digits = digits[:i]
	}
	minor, err := strconv.Atoi(digits)
	if err != nil {
		return major * 100
	}
	return major*100 + minor
}

func (p *HostPlatform) Granted(permission string) bool {
	if unix.Geteuid() == 0 {
		return true
	}

	capability, ok := linuxCapabilities[permission]
	if !ok {
		return false
	}

	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		p.logger.WithField("error", err).Debug("capget failed")
		return false
	}

	bit := uint(capability)
	return data[bit/32].Effective&(1<<(bit%32)) != 0
}

// Request cannot prompt on Linux; it reports how to grant the capabilities instead
func (p *HostPlatform) Request(permissions []string) error {
	exe, err := os.Executable()
	if err != nil {
		exe = "<binary>"
	}
	caps := strings.ToLower(strings.Join(permissions, ","))
	return fmt.Errorf("capabilities %s must be granted out of band: sudo setcap '%s+eip' %s", strings.Join(permissions, ", "), caps, exe)
}
