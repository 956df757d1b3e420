// Package version normalizes and compares upstream version strings.
package version

import (
	"strconv"
	"strings"
)

// Normalize strips decorations that vary between sources so versions from
// different upstreams compare cleanly: leading "v"/"V" or "release-"
// prefixes, an epoch ("2:1.4"), and a distribution pkgrel suffix ("1.4-3").
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if idx := strings.IndexByte(s, ':'); idx > 0 {
		if _, err := strconv.Atoi(s[:idx]); err == nil {
			s = s[idx+1:]
		}
	}
	lower := strings.ToLower(s)
	for _, prefix := range []string{"release-", "version-", "v."} {
		if strings.HasPrefix(lower, prefix) {
			s = s[len(prefix):]
			lower = lower[len(prefix):]
		}
	}
	if len(s) > 1 && (s[0] == 'v' || s[0] == 'V') && s[1] >= '0' && s[1] <= '9' {
		s = s[1:]
	}
	if idx := strings.LastIndexByte(s, '-'); idx > 0 {
		if _, err := strconv.Atoi(s[idx+1:]); err == nil {
			s = s[:idx]
		}
	}
	return s
}

// Compare orders two normalized versions segment by segment. It returns
// -1, 0 or 1. Numeric segments compare numerically; mixed segments fall
// back to byte order. A missing segment sorts before any present one, and
// a numeric segment beats a pre-release word at the same position
// ("1.2.0" > "1.2.rc1").
func Compare(a, b string) int {
	if a == b {
		return 0
	}
	as := split(a)
	bs := split(b)
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		var sa, sb string
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}
		if sa == sb {
			continue
		}
		na, errA := strconv.Atoi(sa)
		nb, errB := strconv.Atoi(sb)
		switch {
		case errA == nil && errB == nil:
			if na != nb {
				return sign(na - nb)
			}
		case errA == nil:
			// numeric beats word (1.2.0 > 1.2.rc1)
			return 1
		case errB == nil:
			return -1
		default:
			if c := strings.Compare(sa, sb); c != 0 {
				return c
			}
		}
	}
	return 0
}

// Newer reports whether the upstream version is strictly ahead of local.
func Newer(upstream, local string) bool {
	return Compare(Normalize(upstream), Normalize(local)) > 0
}

func split(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '-' || r == '_' || r == '+' || r == '~'
	})
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
