// Package identity derives the caller identity used for free-tier accounting.
//
// A wallet-style header wins when present. Otherwise the network origin of the
// request is used, and callers that cannot be identified at all share the
// Unknown bucket instead of being rejected.
package identity

import (
	"net"
	"net/http"
	"strings"
)

// WalletHeader is the caller-supplied wallet address header.
const WalletHeader = "X-Wallet-Address"

// CallerIdentity is the key under which free-tier usage is tracked.
type CallerIdentity string

// Unknown is the shared identity for callers with no usable metadata.
const Unknown CallerIdentity = "unknown"

func (c CallerIdentity) String() string { return string(c) }

// Metadata is the subset of request metadata identity resolution looks at.
type Metadata struct {
	Wallet       string
	ForwardedFor string
	RealIP       string
	RemoteAddr   string
}

// MetadataFromRequest collects resolution inputs from r.
func MetadataFromRequest(r *http.Request) Metadata {
	return Metadata{
		Wallet:       r.Header.Get(WalletHeader),
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		RealIP:       r.Header.Get("X-Real-IP"),
		RemoteAddr:   r.RemoteAddr,
	}
}

// Resolve returns the caller identity for md. It never fails.
func Resolve(md Metadata) CallerIdentity {
	if w := normalizeWallet(md.Wallet); w != "" {
		return CallerIdentity(w)
	}
	if ip := origin(md); ip != "" {
		return CallerIdentity(ip)
	}
	return Unknown
}

// FromRequest resolves the caller identity of r.
func FromRequest(r *http.Request) CallerIdentity {
	return Resolve(MetadataFromRequest(r))
}

// ClientIP returns the network origin of r, ignoring any wallet header.
// Returns "" when nothing usable is present.
func ClientIP(r *http.Request) string {
	return origin(MetadataFromRequest(r))
}

// Wallet returns the normalized wallet header of r, or "".
func Wallet(r *http.Request) string {
	return normalizeWallet(r.Header.Get(WalletHeader))
}

func normalizeWallet(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// origin picks the first of: forwarded client address, X-Real-IP, socket peer.
func origin(md Metadata) string {
	if xff := strings.TrimSpace(md.ForwardedFor); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if rip := strings.TrimSpace(md.RealIP); rip != "" {
		return rip
	}
	addr := strings.TrimSpace(md.RemoteAddr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	// No port; strip IPv6 brackets if present.
	return strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
}
