package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/chanmux/chanmux-go/pkg/transport"
)

const (
	// DefaultService is the DNS-SD service type of channel servers.
	DefaultService = "_chanmux._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultTimeout bounds Resolve when no timeout is given.
	DefaultTimeout = 5 * time.Second
)

// TXT record keys.
const (
	TXTPath = "path"
	TXTTLS  = "tls"
)

// ErrNotFound is returned when no instance was seen before the timeout.
var ErrNotFound = errors.New("no server found")

// ServiceEntry is one resolved service instance.
type ServiceEntry struct {
	Instance string
	Host     string
	Port     int
	Text     []string
	Addrs    []net.IP
}

// Endpoint converts the entry into a dialable endpoint. A literal address is
// preferred over the host name, IPv4 before IPv6.
func (e ServiceEntry) Endpoint() (transport.Endpoint, error) {
	if e.Port <= 0 || e.Port > 65535 {
		return transport.Endpoint{}, fmt.Errorf("instance %q: invalid port %d", e.Instance, e.Port)
	}

	host := pickAddr(e.Addrs)
	if host == "" {
		host = strings.TrimSuffix(e.Host, ".")
	}
	if host == "" {
		return transport.Endpoint{}, fmt.Errorf("instance %q: no address", e.Instance)
	}

	txt := parseTXT(e.Text)
	ep := transport.Endpoint{Scheme: "ws", Host: host, Port: e.Port, Path: "/"}
	if p := txt[TXTPath]; p != "" {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		ep.Path = p
	}
	switch strings.ToLower(txt[TXTTLS]) {
	case "1", "true", "yes":
		ep.Scheme = "wss"
	}
	return ep, nil
}

// Resolver browses for channel servers.
type Resolver struct {
	// Service is the DNS-SD service type (default: DefaultService).
	Service string

	// Domain defaults to Domain.
	Domain string

	// Interface restricts browsing to one network interface.
	Interface string
}

// Resolve returns the endpoint of the first instance found within timeout.
func (r *Resolver) Resolve(ctx context.Context, timeout time.Duration) (transport.Endpoint, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	browseErr := make(chan error, 1)
	go func() {
		browseErr <- zeroconf.Browse(ctx, r.service(), r.domain(), entries, removed, r.options()...)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return transport.Endpoint{}, ErrNotFound
			}
			ep, err := fromZeroconf(entry).Endpoint()
			if err != nil {
				continue
			}
			return ep, nil
		case <-removed:
		case err := <-browseErr:
			if err != nil {
				return transport.Endpoint{}, fmt.Errorf("browse %s: %w", r.service(), err)
			}
			browseErr = nil
		case <-ctx.Done():
			return transport.Endpoint{}, ErrNotFound
		}
	}
}

// Resolve looks up service with default settings.
func Resolve(ctx context.Context, service string, timeout time.Duration) (transport.Endpoint, error) {
	r := &Resolver{Service: service}
	return r.Resolve(ctx, timeout)
}

func (r *Resolver) service() string {
	if r.Service == "" {
		return DefaultService
	}
	return r.Service
}

func (r *Resolver) domain() string {
	if r.Domain == "" {
		return Domain
	}
	return r.Domain
}

func (r *Resolver) options() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if r.Interface != "" {
		iface, err := net.InterfaceByName(r.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

func fromZeroconf(entry *zeroconf.ServiceEntry) ServiceEntry {
	addrs := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	addrs = append(addrs, entry.AddrIPv4...)
	addrs = append(addrs, entry.AddrIPv6...)
	return ServiceEntry{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     entry.Port,
		Text:     entry.Text,
		Addrs:    addrs,
	}
}

func pickAddr(addrs []net.IP) string {
	var v6 string
	for _, ip := range addrs {
		if ip.To4() != nil {
			return ip.String()
		}
		if v6 == "" && !ip.IsLinkLocalUnicast() {
			v6 = ip.String()
		}
	}
	return v6
}

// parseTXT parses "key=value" strings. A bare key maps to "".
func parseTXT(strs []string) map[string]string {
	txt := make(map[string]string, len(strs))
	for _, s := range strs {
		key, value, _ := strings.Cut(s, "=")
		if key != "" {
			txt[strings.ToLower(key)] = value
		}
	}
	return txt
}
