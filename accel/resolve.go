package accel

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/miekg/dns"

	"github.com/networknext/sdk-sub001/address"
)

// ResolveServerAddress turns a "host:port" string into an
// address.Address. If host is already a dotted-quad or bracketed IPv6
// literal, it's parsed directly; otherwise an A-record lookup is
// performed via github.com/miekg/dns so Client.OpenSession can accept a
// hostname instead of requiring a pre-resolved address.
func ResolveServerAddress(hostPort string) (address.Address, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return address.Address{}, fmt.Errorf("accel: split host:port %q: %w", hostPort, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return address.Address{}, fmt.Errorf("accel: invalid port %q: %w", portStr, err)
	}

	if ip := net.ParseIP(host); ip != nil {
		return address.Parse(net.JoinHostPort(host, portStr))
	}

	ip, err := resolveHostnameA(host)
	if err != nil {
		return address.Address{}, err
	}
	return address.Parse(fmt.Sprintf("%s:%d", ip.String(), port))
}

// resolveHostnameA performs a single A-record lookup against the
// system's configured resolver.
func resolveHostnameA(host string) (net.IP, error) {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return nil, fmt.Errorf("accel: no DNS resolver configured to resolve %q: %w", host, err)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)

	c := new(dns.Client)
	c.Timeout = 3 * time.Second

	server := net.JoinHostPort(conf.Servers[0], conf.Port)
	resp, _, err := c.Exchange(msg, server)
	if err != nil {
		return nil, fmt.Errorf("accel: resolve %q: %w", host, err)
	}
	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			return a.A, nil
		}
	}
	return nil, fmt.Errorf("accel: no A record found for %q", host)
}
