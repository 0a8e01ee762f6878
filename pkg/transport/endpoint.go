package transport

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint describes where a channel server listens.
type Endpoint struct {
	// Scheme is "ws" or "wss". Empty means "ws".
	Scheme string

	// Host is a host name or IP address.
	Host string

	// Port is optional. Zero leaves the port to the scheme default.
	Port int

	// Path is the request path, for example "/socket".
	Path string
}

// URL returns the endpoint as a URL string.
func (e Endpoint) URL() string {
	scheme := e.Scheme
	if scheme == "" {
		scheme = "ws"
	}
	host := e.Host
	if e.Port > 0 {
		host = net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	u := url.URL{Scheme: scheme, Host: host, Path: e.Path}
	return u.String()
}

// String implements fmt.Stringer.
func (e Endpoint) String() string {
	return e.URL()
}

// ParseEndpoint parses a ws:// or wss:// URL into an Endpoint.
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: scheme must be ws or wss", raw)
	}
	if u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: missing host", raw)
	}

	ep := Endpoint{Scheme: u.Scheme, Host: u.Hostname(), Path: u.Path}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Endpoint{}, fmt.Errorf("invalid endpoint %q: bad port %q", raw, p)
		}
		ep.Port = port
	}
	return ep, nil
}
