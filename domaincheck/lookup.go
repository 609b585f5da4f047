// domaincheck/lookup.go
package domaincheck

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// Lookuper performs the two DNS queries the resolver needs.
// *net.Resolver satisfies it.
type Lookuper interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// NewSystemLookuper returns a pure-Go resolver using the system's configured
// nameservers, with a dial timeout so one slow server cannot stall a batch.
func NewSystemLookuper(timeout time.Duration) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{Timeout: timeout}
			return d.DialContext(ctx, network, address)
		},
	}
}

// DNSClient queries one nameserver directly, bypassing /etc/resolv.conf.
// Truncated UDP answers are retried over TCP.
type DNSClient struct {
	udp    *dns.Client
	tcp    *dns.Client
	server string
}

// NewDNSClient creates a client for server ("host:port").
func NewDNSClient(server string, timeout time.Duration) *DNSClient {
	return &DNSClient{
		udp:    &dns.Client{Net: "udp", Timeout: timeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: timeout},
		server: server,
	}
}

// LookupIP returns A records for "ip4"/"ip", or AAAA records for "ip6".
func (c *DNSClient) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	qtype := dns.TypeA
	if network == "ip6" {
		qtype = dns.TypeAAAA
	}

	in, err := c.exchange(ctx, host, qtype)
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, rr := range in.Answer {
		switch v := rr.(type) {
		case *dns.A:
			ips = append(ips, v.A)
		case *dns.AAAA:
			ips = append(ips, v.AAAA)
		}
	}
	if len(ips) == 0 {
		return nil, c.notFound(host)
	}
	return ips, nil
}

// LookupMX returns the MX records for name.
func (c *DNSClient) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	in, err := c.exchange(ctx, name, dns.TypeMX)
	if err != nil {
		return nil, err
	}

	var mxs []*net.MX
	for _, rr := range in.Answer {
		if v, ok := rr.(*dns.MX); ok {
			mxs = append(mxs, &net.MX{Host: v.Mx, Pref: v.Preference})
		}
	}
	if len(mxs) == 0 {
		return nil, c.notFound(name)
	}
	return mxs, nil
}

func (c *DNSClient) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	in, _, err := c.udp.ExchangeContext(ctx, m, c.server)
	if err == nil && in.Truncated {
		in, _, err = c.tcp.ExchangeContext(ctx, m, c.server)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s %s: %w", dns.TypeToString[qtype], name, err)
	}

	if in.Rcode != dns.RcodeSuccess {
		return nil, &net.DNSError{
			Err:        dns.RcodeToString[in.Rcode],
			Name:       name,
			Server:     c.server,
			IsNotFound: in.Rcode == dns.RcodeNameError,
		}
	}
	return in, nil
}

func (c *DNSClient) notFound(name string) error {
	return &net.DNSError{Err: "no such host", Name: name, Server: c.server, IsNotFound: true}
}
