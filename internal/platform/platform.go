// Package platform describes what the host's alarm facility can do.
package platform

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/vthunder/chapelotas/internal/logging"
)

// DefaultCapMinutes is the lookahead limit of vendors that cap alarms.
const DefaultCapMinutes = 270

// Capability reports how far ahead an exact alarm may be armed. A zero
// MaxLookahead means unlimited.
type Capability struct {
	Vendor       string
	MaxLookahead time.Duration
}

// Capped reports whether the alarm facility has a lookahead limit
func (c Capability) Capped() bool {
	return c.MaxLookahead > 0
}

// Unlimited is the capability of hosts with no alarm lookahead limit.
func Unlimited() Capability { return Capability{} }

// Static returns a capability with a fixed cap.
func Static(vendor string, lookahead time.Duration) Capability {
	return Capability{Vendor: vendor, MaxLookahead: lookahead}
}

// Detect probes the host and matches it against CHAPELOTAS_CAPPED_VENDORS
// (comma-separated, matched case-insensitively against platform, family and
// OS). CHAPELOTAS_VENDOR_CAP_MINUTES sets the cap; a value > 0 with no
// vendor list caps every host.
func Detect(ctx context.Context) Capability {
	capMinutes := DefaultCapMinutes
	if v := os.Getenv("CHAPELOTAS_VENDOR_CAP_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			logging.Warn("platform", "ignoring CHAPELOTAS_VENDOR_CAP_MINUTES=%q", v)
		} else {
			capMinutes = n
		}
	}
	vendors := splitList(os.Getenv("CHAPELOTAS_CAPPED_VENDORS"))

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		logging.Warn("platform", "host info: %v", err)
	}
	var ids []string
	vendor := "unknown"
	if info != nil {
		ids = []string{info.Platform, info.PlatformFamily, info.OS, info.VirtualizationSystem}
		vendor = info.Platform
		if vendor == "" {
			vendor = info.OS
		}
	}

	c := match(vendor, ids, vendors, capMinutes, os.Getenv("CHAPELOTAS_VENDOR_CAP_MINUTES") != "")
	if c.Capped() {
		logging.Info("platform", "%s caps alarms at %s", c.Vendor, c.MaxLookahead)
	}
	return c
}

func match(vendor string, ids, vendors []string, capMinutes int, explicitCap bool) Capability {
	if capMinutes == 0 {
		return Capability{Vendor: vendor}
	}
	if len(vendors) == 0 {
		if explicitCap {
			return Static(vendor, time.Duration(capMinutes)*time.Minute)
		}
		return Capability{Vendor: vendor}
	}
	for _, id := range ids {
		for _, v := range vendors {
			if id != "" && strings.EqualFold(id, v) {
				return Static(vendor, time.Duration(capMinutes)*time.Minute)
			}
		}
	}
	return Capability{Vendor: vendor}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
