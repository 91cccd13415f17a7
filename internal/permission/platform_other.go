//go:build !linux

package permission

import "github.com/sirupsen/logrus"

// HostTable is the capability table for the running OS; the OS prompts on first radio use.
var HostTable = Table{}

// HostPlatform lets the OS's own Bluetooth privacy prompt decide.
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

func (p *HostPlatform) Version() int {
	return 0
}

func (p *HostPlatform) Granted(string) bool {
	return true
}

func (p *HostPlatform) Request(permissions []string) error {
	p.logger.WithField("permissions", permissions).Debug("Permissions are prompted by the OS on first use")
	return nil
}
