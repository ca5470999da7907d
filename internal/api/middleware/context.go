package middleware

import (
	"context"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/tenantgate/internal/audit"
	"github.com/kiranshivaraju/tenantgate/internal/auth"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	clientIPKey  contextKey = "client_ip"
)

// SetPrincipal stores the resolved principal on ctx.
func SetPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal set by Authenticate.
func PrincipalFrom(r *http.Request) (auth.Principal, bool) {
	p, ok := r.Context().Value(principalKey).(auth.Principal)
	return p, ok
}

// UserFrom returns the principal when it is an interactive user.
func UserFrom(r *http.Request) (*auth.UserPrincipal, bool) {
	p, ok := r.Context().Value(principalKey).(*auth.UserPrincipal)
	return p, ok
}

// Meta extracts the audit source fields from r.
func Meta(r *http.Request) audit.Meta {
	return audit.Meta{SourceAddress: ClientIP(r), ClientAgent: r.UserAgent()}
}

// Action names the request for audit details. It prefers the matched route
// pattern and falls back to the request path while routing is incomplete.
func Action(r *http.Request) string {
	return r.Method + " " + routePattern(r)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" && !strings.HasSuffix(p, "/*") {
			return p
		}
	}
	return r.URL.Path
}

// ClientAddress resolves the client address once per request. The
// connection address is used unless it belongs to one of trusted, in which
// case X-Forwarded-For is walked from the right and the first hop outside
// trusted wins.
func ClientAddress(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, trusted)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPKey, ip)))
		})
	}
}

// ClientIP returns the address resolved by ClientAddress, or the connection
// address when that middleware is not installed. Request headers are never
// consulted here.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey).(string); ok {
		return ip
	}
	if addr, ok := remoteAddr(r); ok {
		return addr.String()
	}
	return ""
}

func resolveClientIP(r *http.Request, trusted []netip.Prefix) string {
	remote, ok := remoteAddr(r)
	if !ok {
		return ""
	}
	if !isTrusted(remote, trusted) {
		return remote.String()
	}

	hops := forwardedHops(r)
	client := remote
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(hops[i])
		if err != nil {
			break
		}
		client = hop.Unmap()
		if !isTrusted(client, trusted) {
			break
		}
	}
	return client.String()
}

func remoteAddr(r *http.Request) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().Unmap(), true
	}
	if a, err := netip.ParseAddr(r.RemoteAddr); err == nil {
		return a.Unmap(), true
	}
	return netip.Addr{}, false
}

func forwardedHops(r *http.Request) []string {
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, h := range strings.Split(v, ",") {
			hops = append(hops, strings.TrimSpace(h))
		}
	}
	return hops
}

func isTrusted(a netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}
