package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/stockfleet/internal/fleet"
)

// API endpoint suffixes recognized by the front door.
const (
	EndpointState          = "/state"
	EndpointIncrement      = "/increment"
	EndpointMessages       = "/messages"
	EndpointMessage        = "/message"
	EndpointDeleteSubtree  = "/delete-subtree"
	EndpointStock          = "/inventory/stock"
	EndpointQuery          = "/inventory/query"
	EndpointSync           = "/inventory/sync"
	EndpointAlerts         = "/inventory/alerts"
	EndpointAnalyze        = "/ai/analyze"
	EndpointForecast       = "/ai/forecast"
	EndpointInsights       = "/ai/insights"
	EndpointDebugLocations = "/debug/locations"
	EndpointDebugDB        = "/debug/db"
	EndpointHealth         = "/health"
)

// apiSuffixes, longest first, so "/messages" wins over "/message".
var apiSuffixes = func() []string {
	s := []string{
		EndpointState, EndpointIncrement, EndpointMessages, EndpointMessage,
		EndpointDeleteSubtree, EndpointStock, EndpointQuery, EndpointSync,
		EndpointAlerts, EndpointAnalyze, EndpointForecast, EndpointInsights,
		EndpointDebugLocations, EndpointDebugDB,
	}
	sort.Slice(s, func(i, j int) bool { return len(s[i]) > len(s[j]) })
	return s
}()

// Route is a resolved request target.
type Route struct {
	Key      fleet.OwnerKey
	Endpoint string // empty for the static UI
	Upgrade  bool   // subscription upgrade (…/ws)
}

// ResolveError carries the HTTP status the gateway should answer with.
type ResolveError struct {
	Status  int
	Message string
}

func (e *ResolveError) Error() string { return e.Message }

func badRequest(format string, args ...interface{}) *ResolveError {
	return &ResolveError{Status: 400, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...interface{}) *ResolveError {
	return &ResolveError{Status: 404, Message: fmt.Sprintf(format, args...)}
}

// Resolve maps a request to its owning agent and endpoint. The endpoint
// suffix is classified first, then the tenant is derived from what remains:
// subdomain, /tenant/<id>/ prefix, first path segment, else "demo".
func Resolve(host, urlPath string) (Route, error) {
	endpoint, upgrade, remainder, err := classify(urlPath)
	if err != nil {
		return Route{}, err
	}

	// Not an API call or upgrade: the gateway serves the static shell and
	// never needs an owner key.
	if endpoint == "" && !upgrade {
		return Route{}, nil
	}

	tenant, rest := fleet.DeriveTenant(host, remainder)
	path, perr := fleet.ParsePath(rest)
	if perr != nil {
		return Route{}, badRequest("invalid path: %v", perr)
	}

	return Route{
		Key:      fleet.NewOwnerKey(tenant, path),
		Endpoint: endpoint,
		Upgrade:  upgrade,
	}, nil
}

// classify strips the API suffix (or /ws) from the URL path. Any substring
// "/inventory/" or "/ai/" splits the URL at its first occurrence; the part
// after it must then be a known endpoint.
func classify(urlPath string) (endpoint string, upgrade bool, remainder string, err error) {
	if urlPath == "" {
		urlPath = "/"
	}

	if urlPath == "/ws" || strings.HasSuffix(urlPath, "/ws") {
		return "", true, strings.TrimSuffix(urlPath, "/ws"), nil
	}

	for _, marker := range []string{"/inventory/", "/ai/"} {
		idx := strings.Index(urlPath, marker)
		if idx < 0 {
			continue
		}
		tail := urlPath[idx:]
		if !knownEndpoint(tail) {
			return "", false, "", notFound("unknown endpoint %q", tail)
		}
		return tail, false, urlPath[:idx], nil
	}

	for _, suffix := range apiSuffixes {
		if strings.HasSuffix(urlPath, suffix) {
			return suffix, false, strings.TrimSuffix(urlPath, suffix), nil
		}
	}

	// Not an API call: static UI for GETs, handled by the gateway.
	return "", false, urlPath, nil
}

func knownEndpoint(s string) bool {
	for _, suffix := range apiSuffixes {
		if s == suffix {
			return true
		}
	}
	return false
}
