package router

import (
	"strings"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		host       string
		path       string
		wantTenant string
		wantPath   string
		wantEP     string
		wantUp     bool
	}{
		{"state with tenant segment", "localhost:8080", "/acme/a/state", "acme", "/a", EndpointState, false},
		{"state at tenant root", "localhost", "/acme/state", "acme", "/", EndpointState, false},
		{"subdomain tenant", "acme.fleet.example.com", "/a/state", "acme", "/a", EndpointState, false},
		{"tenant prefix", "localhost", "/tenant/acme/a/increment", "acme", "/a", EndpointIncrement, false},
		{"bare upgrade", "localhost", "/ws", "demo", "/", "", true},
		{"nested upgrade", "localhost", "/tenant/demo/org/ws", "demo", "/org", "", true},
		{"inventory stock", "localhost", "/acme/a/inventory/stock", "acme", "/a", EndpointStock, false},
		{"inventory query", "localhost", "/acme/inventory/query", "acme", "/", EndpointQuery, false},
		{"ai analyze", "localhost", "/acme/a/ai/analyze", "acme", "/a", EndpointAnalyze, false},
		{"messages beats message", "localhost", "/acme/messages", "acme", "/", EndpointMessages, false},
		{"message", "localhost", "/acme/message", "acme", "/", EndpointMessage, false},
		{"delete subtree", "localhost", "/acme/a/b/delete-subtree", "acme", "/a/b", EndpointDeleteSubtree, false},
		{"percent-encoded segment", "localhost", "/acme/warehouse%20east/state", "acme", "/warehouse east", EndpointState, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route, err := Resolve(tt.host, tt.path)
			if err != nil {
				t.Fatalf("Resolve(%q, %q): %v", tt.host, tt.path, err)
			}
			if route.Key.Tenant != tt.wantTenant {
				t.Errorf("tenant = %q, want %q", route.Key.Tenant, tt.wantTenant)
			}
			if got := route.Key.Path.String(); got != tt.wantPath {
				t.Errorf("path = %q, want %q", got, tt.wantPath)
			}
			if route.Endpoint != tt.wantEP {
				t.Errorf("endpoint = %q, want %q", route.Endpoint, tt.wantEP)
			}
			if route.Upgrade != tt.wantUp {
				t.Errorf("upgrade = %v, want %v", route.Upgrade, tt.wantUp)
			}
		})
	}
}

func TestResolveStatic(t *testing.T) {
	// Anything that is neither an API suffix nor an upgrade resolves to the
	// static shell: zero route, no error, even with characters that would be
	// illegal in a fleet path.
	for _, path := range []string{"/", "/favicon.ico", "/acme/dashboard", "/some.file.js"} {
		route, err := Resolve("localhost", path)
		if err != nil {
			t.Errorf("Resolve(%q): %v", path, err)
		}
		if route.Endpoint != "" || route.Upgrade {
			t.Errorf("Resolve(%q) = %+v, want zero route", path, route)
		}
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"unknown inventory endpoint", "/acme/inventory/bogus", 404},
		{"unknown ai endpoint", "/acme/ai/divine", 404},
		{"invalid segment under api", "/acme/a.b/state", 400},
		{"segment too long", "/acme/" + strings.Repeat("a", 33) + "/state", 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve("localhost", tt.path)
			if err == nil {
				t.Fatalf("Resolve(%q) succeeded, want status %d", tt.path, tt.wantStatus)
			}
			re, ok := err.(*ResolveError)
			if !ok {
				t.Fatalf("error type %T", err)
			}
			if re.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", re.Status, tt.wantStatus)
			}
		})
	}
}
