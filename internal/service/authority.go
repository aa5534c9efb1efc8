package service

import (
	"crypto/subtle"

	"github.com/openstable/cdpcore/internal/pkg/apperrors"
)

// Policy decides whether a set of presented credentials carries a capability.
// Governance thresholds stay pluggable: single root key, any-of, N-of-M.
type Policy interface {
	Authorize(callers []string) bool
}

// RootPolicy grants the capability to one key.
type RootPolicy struct {
	Key string
}

func (p RootPolicy) Authorize(callers []string) bool {
	if p.Key == "" {
		return false
	}
	for _, c := range callers {
		if subtle.ConstantTimeCompare([]byte(c), []byte(p.Key)) == 1 {
			return true
		}
	}
	return false
}

// NOfMPolicy requires at least Threshold distinct member keys.
type NOfMPolicy struct {
	Keys      []string
	Threshold int
}

func (p NOfMPolicy) Authorize(callers []string) bool {
	if p.Threshold <= 0 || len(p.Keys) == 0 {
		return false
	}
	matched := make(map[int]bool)
	for _, c := range callers {
		for i, k := range p.Keys {
			if !matched[i] && subtle.ConstantTimeCompare([]byte(c), []byte(k)) == 1 {
				matched[i] = true
			}
		}
	}
	return len(matched) >= p.Threshold
}

// AnyOfPolicy is the common single-signer governance setup.
func AnyOfPolicy(keys []string) Policy {
	return NOfMPolicy{Keys: keys, Threshold: 1}
}

func authorize(p Policy, callers []string) error {
	if p == nil || !p.Authorize(callers) {
		return apperrors.New(apperrors.ErrBadOrigin, "caller lacks the required capability", nil)
	}
	return nil
}
