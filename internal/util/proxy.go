package util

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// NewProxyFunc builds a transport proxy selector. Explicit proxies win over
// the environment; hosts matching noProxy (comma-separated host suffixes,
// "*" for all) always go direct. With nothing configured the environment
// (HTTP_PROXY, HTTPS_PROXY, NO_PROXY) decides.
func NewProxyFunc(httpProxy, httpsProxy, noProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}

	bypass := splitNoProxy(noProxy)

	return func(req *http.Request) (*url.URL, error) {
		if bypassProxy(req.URL.Hostname(), bypass) {
			return nil, nil
		}
		if req.URL.Scheme == "https" && httpsProxy != "" {
			return url.Parse(httpsProxy)
		}
		if httpProxy != "" {
			return url.Parse(httpProxy)
		}
		return http.ProxyFromEnvironment(req)
	}
}

func splitNoProxy(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func bypassProxy(host string, patterns []string) bool {
	host = strings.ToLower(host)
	for _, p := range patterns {
		switch {
		case p == "*":
			return true
		case host == strings.TrimPrefix(p, "."):
			return true
		case strings.HasSuffix(host, "."+strings.TrimPrefix(p, ".")):
			return true
		}
		if _, cidr, err := net.ParseCIDR(p); err == nil {
			if ip := net.ParseIP(host); ip != nil && cidr.Contains(ip) {
				return true
			}
		}
	}
	return false
}
