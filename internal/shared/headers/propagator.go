// Package headers selects which inbound request headers travel with outbound calls.
package headers

import "net/http"

const (
	TenantID       = "X-Tenant-ID"
	TraceID        = "X-Trace-ID"
	SessionID      = "X-Session-ID"
	IdempotencyKey = "Idempotency-Key"
)

// Allowed is the ordered propagation allow-list.
var Allowed = []string{TenantID, TraceID, SessionID, IdempotencyKey}

// Propagate returns the allow-listed entries of in that carry a non-empty
// value. Lookups are case-sensitive and the result is never nil.
func Propagate(in map[string]string) map[string]string {
	out := make(map[string]string, len(Allowed))
	if len(in) == 0 {
		return out
	}
	for _, name := range Allowed {
		if v, ok := in[name]; ok && v != "" {
			out[name] = v
		}
	}
	return out
}

// FromHTTP reads the allow-listed headers from canonicalised net/http headers.
func FromHTTP(h http.Header) map[string]string {
	in := make(map[string]string, len(Allowed))
	for _, name := range Allowed {
		// http.Header canonicalises X-Tenant-ID as X-Tenant-Id
		if v := h.Get(name); v != "" {
			in[name] = v
		}
	}
	return Propagate(in)
}

// Apply writes propagated headers onto an outbound request's headers.
func Apply(h http.Header, propagated map[string]string) {
	for _, name := range Allowed {
		if v, ok := propagated[name]; ok && v != "" {
			h.Set(name, v)
		}
	}
}

// With returns a copy of propagated with name set to value when value is non-empty.
func With(propagated map[string]string, name, value string) map[string]string {
	out := make(map[string]string, len(propagated)+1)
	for k, v := range propagated {
		out[k] = v
	}
	if value != "" {
		out[name] = value
	}
	return Propagate(out)
}
