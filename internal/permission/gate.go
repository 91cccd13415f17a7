// Package permission guards privileged radio operations behind platform permissions.
package permission

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
)

// Platform is the host permission system
type Platform interface {
	// Version is the platform version the capability table is keyed by
	Version() int
	Granted(permission string) bool
	// Request prompts for permissions; the outcome is observed through later Granted calls
	Request(permissions []string) error
}

// Gate answers capability checks against the rule resolved once at construction
type Gate struct {
	platform Platform
	rule     Rule
	logger   *logrus.Logger
}

// NewGate resolves table for the platform's version
func NewGate(platform Platform, table Table, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.New()
	}

	version := platform.Version()
	rule := table.Resolve(version)
	logger.WithFields(logrus.Fields{
		"platform_version": version,
		"rule_min_version": rule.MinVersion,
		"scan_check":       rule.Scan.Check,
		"advertise_check":  rule.Advertise.Check,
	}).Debug("Resolved permission rule")

	return &Gate{platform: platform, rule: rule, logger: logger}
}

// Rule returns the resolved rule
func (g *Gate) Rule() Rule {
	return g.rule
}

// Check reports whether capability c is currently granted
func (g *Gate) Check(c Capability) bool {
	effect := g.rule.Effect(c)
	if effect.Check == "" {
		return true
	}
	return g.platform.Granted(effect.Check)
}

// Require fails with PermissionDenied when c is not granted
func (g *Gate) Require(c Capability) error {
	if g.Check(c) {
		return nil
	}
	effect := g.rule.Effect(c)
	g.logger.WithFields(logrus.Fields{
		"capability": c.String(),
		"permission": effect.Check,
	}).Warn("Permission not granted")
	return device.NewError(device.PermissionDenied, fmt.Sprintf("%s permission not granted", c), nil)
}

// Request asks the platform for c's permissions without waiting for the answer.
// Nothing happens when c is already granted or has nothing to request.
func (g *Gate) Request(c Capability) {
	if g.Check(c) {
		return
	}
	effect := g.rule.Effect(c)
	if len(effect.Request) == 0 {
		return
	}

	perms := append([]string(nil), effect.Request...)
	groutine.Go(context.Background(), "permission-request", func(ctx context.Context) {
		if err := g.platform.Request(perms); err != nil {
			g.logger.WithFields(logrus.Fields{
				"capability":  c.String(),
				"permissions": perms,
				"error":       err,
			}).Warn("Permission request failed")
		}
	})
}
