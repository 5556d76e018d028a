package process

import (
	"fmt"
	"strings"

	"rpa-orchestrator/pkg/errutil"
)

// ValidateSemver accepts strict MAJOR.MINOR.PATCH only: three dot-separated
// non-negative integers with no leading zeros. No pre-release or build
// metadata suffixes.
func ValidateSemver(v string) error {
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return errutil.ValidationFailed(fmt.Sprintf("version %q must have the form MAJOR.MINOR.PATCH", v))
	}
	for _, p := range parts {
		if !validSemverComponent(p) {
			return errutil.ValidationFailed(fmt.Sprintf("version %q has an invalid component %q", v, p))
		}
	}
	return nil
}

func validSemverComponent(p string) bool {
	if p == "" {
		return false
	}
	if len(p) > 1 && p[0] == '0' {
		return false
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
