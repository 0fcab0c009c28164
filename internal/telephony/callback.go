package telephony

import (
	"net"
	"net/url"
	"strings"

	"call-orchestrator/internal/tenant"
)

// CallbackResolver decides which webhook callback URL is handed to the
// provider. A tenant-configured URL is honored only when the provider can
// plausibly reach it; anything on the denylist silently falls back to the
// computed canonical URL, with a warning flag for the caller to surface.
type CallbackResolver struct {
	// PublicBaseURL is the externally reachable base of this deployment.
	PublicBaseURL string
}

// WebhookPath is where the provider posts call and message events.
const WebhookPath = "/webhooks/telnyx"

var blockedHosts = map[string]struct{}{
	"localhost":            {},
	"127.0.0.1":            {},
	"0.0.0.0":              {},
	"::1":                  {},
	"host.docker.internal": {},
}

// Disposable inspection services: handy in a browser, unreachable or
// pointless as a production callback target.
var blockedDomainSuffixes = []string{
	"webhook.site",
	"requestbin.com",
	"pipedream.net",
	"ngrok-free.app",
	"beeceptor.com",
}

// Local dev-server ports that never belong on a provider-facing URL.
var blockedPorts = map[string]struct{}{
	"3000": {},
	"5173": {},
	"8080": {},
}

// Resolve returns the callback URL to hand the provider and whether the
// configured value was rejected in favor of the canonical one.
func (r CallbackResolver) Resolve(configured string) (callbackURL string, warned bool) {
	canonical := strings.TrimRight(r.PublicBaseURL, "/") + WebhookPath

	configured = strings.TrimSpace(configured)
	if configured == "" || configured == tenant.WebhookURLAuto {
		return canonical, false
	}
	if !r.reachable(configured) {
		return canonical, true
	}
	return configured, false
}

func (r CallbackResolver) reachable(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}

	host := strings.ToLower(u.Hostname())
	if _, blocked := blockedHosts[host]; blocked {
		return false
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return false
	}
	for _, suffix := range blockedDomainSuffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return false
		}
	}
	if port := u.Port(); port != "" {
		if _, blocked := blockedPorts[port]; blocked {
			return false
		}
	}
	return true
}
