// Package fleet handles tenant, path and owner-key addressing.
//
// Every agent in the fleet is addressed by an OwnerKey: an opaque tenant
// identifier plus a slash-delimited hierarchical path. The canonical path
// form is "/" for the root and "/a/b/c" otherwise; segments are stored
// percent-decoded. The registry key is "tenant|path".
package fleet

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// DefaultTenant is used when no tenant can be derived from a request.
const DefaultTenant = "demo"

// MaxSegmentLen bounds a single path segment.
const MaxSegmentLen = 32

// Path is a hierarchical location inside one tenant. The zero value is the
// root path.
type Path struct {
	segments []string
}

// RootPath is the empty path ("/").
var RootPath = Path{}

// ValidSegment reports whether s is a legal path segment: 1..32 chars from
// [A-Za-z0-9 _-].
func ValidSegment(s string) bool {
	if len(s) == 0 || len(s) > MaxSegmentLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == ' ' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// ParsePath canonicalizes a slash-delimited path string. Segments are
// percent-decoded before validation; empty segments (doubled or trailing
// slashes) are dropped so "/a/b" and "/a/b/" parse identically.
func ParsePath(raw string) (Path, error) {
	var segs []string
	for _, part := range strings.Split(raw, "/") {
		if part == "" {
			continue
		}
		dec, err := url.PathUnescape(part)
		if err != nil {
			return Path{}, fmt.Errorf("path segment %q: %w", part, err)
		}
		if !ValidSegment(dec) {
			return Path{}, fmt.Errorf("invalid path segment %q", dec)
		}
		segs = append(segs, dec)
	}
	return Path{segments: segs}, nil
}

// MustParsePath is ParsePath for known-good literals (tests, fixtures).
func MustParsePath(raw string) Path {
	p, err := ParsePath(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the canonical form: "/" for root, "/a/b/c" otherwise.
func (p Path) String() string {
	if len(p.segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(p.segments, "/")
}

// IsRoot reports whether the path has no segments.
func (p Path) IsRoot() bool { return len(p.segments) == 0 }

// Segments returns a copy of the decoded segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// Last returns the final segment, or "" for the root.
func (p Path) Last() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Child returns the path extended by one segment. The segment must already
// be validated by the caller.
func (p Path) Child(segment string) Path {
	segs := make([]string, 0, len(p.segments)+1)
	segs = append(segs, p.segments...)
	segs = append(segs, segment)
	return Path{segments: segs}
}

// Parent returns the shortened path and true, or the root and false when the
// path is already the root. Strictly shortening paths make parent
// propagation cycle-free.
func (p Path) Parent() (Path, bool) {
	if len(p.segments) == 0 {
		return RootPath, false
	}
	segs := make([]string, len(p.segments)-1)
	copy(segs, p.segments[:len(p.segments)-1])
	return Path{segments: segs}, true
}

// Encoded returns the path with each segment percent-encoded, for URL
// construction only. Storage and routing always use the decoded form.
func (p Path) Encoded() string {
	if len(p.segments) == 0 {
		return "/"
	}
	enc := make([]string, len(p.segments))
	for i, s := range p.segments {
		enc[i] = url.PathEscape(s)
	}
	return "/" + strings.Join(enc, "/")
}

// OwnerKey addresses exactly one live agent: a tenant plus a canonical path.
type OwnerKey struct {
	Tenant string
	Path   Path
}

// NewOwnerKey builds an owner key, defaulting an empty tenant to "demo".
func NewOwnerKey(tenant string, path Path) OwnerKey {
	if tenant == "" {
		tenant = DefaultTenant
	}
	return OwnerKey{Tenant: tenant, Path: path}
}

// String is the registry key form: "tenant|/a/b".
func (k OwnerKey) String() string {
	return k.Tenant + "|" + k.Path.String()
}

// Display is the human-facing form used in logs: "tenant:/a/b".
func (k OwnerKey) Display() string {
	return k.Tenant + ":" + k.Path.String()
}

// Child returns the owner key for a direct child segment.
func (k OwnerKey) Child(segment string) OwnerKey {
	return OwnerKey{Tenant: k.Tenant, Path: k.Path.Child(segment)}
}

// Parent returns the parent owner key and whether one exists.
func (k OwnerKey) Parent() (OwnerKey, bool) {
	parent, ok := k.Path.Parent()
	if !ok {
		return OwnerKey{}, false
	}
	return OwnerKey{Tenant: k.Tenant, Path: parent}, true
}

// DeriveTenant applies the deterministic tenant derivation order from the
// routing contract:
//
//  1. host with a third-or-deeper label whose leftmost label is not "www"
//     → that label;
//  2. URL path "/tenant/<id>/…" → <id>, remaining segments form the path;
//  3. otherwise the first path segment is the tenant;
//  4. nothing → "demo".
//
// It returns the tenant and the path remainder still to be parsed.
func DeriveTenant(host, urlPath string) (tenant, rest string) {
	if h := hostTenant(host); h != "" {
		return h, urlPath
	}

	trimmed := strings.TrimPrefix(urlPath, "/")
	if strings.HasPrefix(trimmed, "tenant/") {
		parts := strings.SplitN(strings.TrimPrefix(trimmed, "tenant/"), "/", 2)
		if parts[0] != "" {
			rest = "/"
			if len(parts) == 2 {
				rest = "/" + parts[1]
			}
			return parts[0], rest
		}
	}

	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] != "" {
		rest = "/"
		if len(parts) == 2 {
			rest = "/" + parts[1]
		}
		return parts[0], rest
	}

	return DefaultTenant, "/"
}

// hostTenant extracts the tenant from a subdomain, if any. IP-literal hosts
// carry no tenancy.
func hostTenant(host string) string {
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	if net.ParseIP(host) != nil {
		return ""
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}
	if labels[0] == "www" || labels[0] == "" {
		return ""
	}
	return labels[0]
}
