package gossip

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint identifies a gossip participant: the address it gossips on plus the
// service port the application built on top of it listens on. It is a plain
// comparable value and is used as a map key everywhere.
type Endpoint struct {
	Host        string
	Port        int
	ServicePort int
}

// NewEndpoint returns an endpoint with a canonicalised host.
func NewEndpoint(host string, port, servicePort int) Endpoint {
	return Endpoint{Host: canonicalHost(host), Port: port, ServicePort: servicePort}
}

// ParseEndpoint accepts "host:port" or "host:port:servicePort". IPv6 hosts
// must be bracketed.
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, fmt.Errorf("%w: empty address", ErrInvalidEndpoint)
	}

	host, portStr, err := net.SplitHostPort(s)
	servicePort := 0
	if err != nil {
		// host:port:servicePort
		idx := strings.LastIndex(s, ":")
		if idx <= 0 {
			return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, s, err)
		}
		servicePort, err = parsePort(s[idx+1:])
		if err != nil {
			return Endpoint{}, fmt.Errorf("%w: %q: service port: %v", ErrInvalidEndpoint, s, err)
		}
		host, portStr, err = net.SplitHostPort(s[:idx])
		if err != nil {
			return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, s, err)
		}
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, s)
	}

	port, err := parsePort(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: port: %v", ErrInvalidEndpoint, s, err)
	}
	return NewEndpoint(host, port, servicePort), nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if p <= 0 || p > 65535 {
		return 0, fmt.Errorf("port %d out of range", p)
	}
	return p, nil
}

func canonicalHost(host string) string {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}

// Addr is the dialable gossip address.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	if e.ServicePort > 0 {
		return e.Addr() + ":" + strconv.Itoa(e.ServicePort)
	}
	return e.Addr()
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e == Endpoint{}
}

// Compare orders endpoints by host, gossip port and service port.
func (e Endpoint) Compare(o Endpoint) int {
	if c := cmp.Compare(e.Host, o.Host); c != 0 {
		return c
	}
	if c := cmp.Compare(e.Port, o.Port); c != 0 {
		return c
	}
	return cmp.Compare(e.ServicePort, o.ServicePort)
}

// NodeID packs the gossip port and the IPv4 address into one number, which is
// what nodes publish under the ID application state. Non-IPv4 hosts yield the
// port alone in the high half.
func (e Endpoint) NodeID() int64 {
	var ip uint32
	if v4 := net.ParseIP(e.Host).To4(); v4 != nil {
		ip = binary.BigEndian.Uint32(v4)
	}
	return int64(e.Port)<<32 | int64(ip)
}
