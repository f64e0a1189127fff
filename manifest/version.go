// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"strings"

	"github.com/Masterminds/semver"
)

// NormalizeVersion strips a leading v/V and cuts the string at the
// first prerelease or build separator, so "v2.1.0-rc1+build7"
// compares as "2.1.0".
func NormalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "v")
	v = strings.TrimPrefix(v, "V")
	if idx := strings.IndexAny(v, "-+"); idx >= 0 {
		v = v[:idx]
	}
	return v
}

// IsNewer reports whether candidate is a strictly newer release than
// running. A version that does not parse is never newer; a device
// must not downgrade or sidegrade because a manifest is malformed.
func IsNewer(candidate, running string) bool {
	cv, err := semver.NewVersion(NormalizeVersion(candidate))
	if err != nil {
		return false
	}
	rv, err := semver.NewVersion(NormalizeVersion(running))
	if err != nil {
		return false
	}
	return cv.GreaterThan(rv)
}

// NeedsUpdate decides whether the manifest describes firmware the
// device should install. When both sides carry a binary hash the hash
// comparison wins: a rebuild under the same version still updates, and
// an identical binary under a bumped version does not.
func NeedsUpdate(manifestVersion, manifestHash, runningVersion, runningHash string) bool {
	if manifestHash != "" && runningHash != "" {
		return !strings.EqualFold(manifestHash, runningHash)
	}
	return IsNewer(manifestVersion, runningVersion)
}
