package seeds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// MiekgResolver implements Resolver against an explicit DNS server address
// rather than the host's system resolver, using the same TXT query format
// the seed DNS stub (ops/seeds/tools/dnsstub) answers. Operators pointing at
// a private seed authority that isn't reachable through /etc/resolv.conf use
// this instead of DefaultResolver.
type MiekgResolver struct {
	Server  string // "host:port", UDP
	Timeout time.Duration
}

// NewMiekgResolver constructs a MiekgResolver querying server directly.
func NewMiekgResolver(server string, timeout time.Duration) *MiekgResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MiekgResolver{Server: server, Timeout: timeout}
}

// LookupTXT issues a single UDP TXT query against r.Server, falling back to
// TCP if the response is truncated.
func (r *MiekgResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: r.Timeout, Net: "udp"}
	resp, _, err := client.ExchangeContext(ctx, msg, r.Server)
	if err != nil {
		return nil, fmt.Errorf("seeds: dns query %s against %s: %w", name, r.Server, err)
	}
	if resp.Truncated {
		tcpClient := &dns.Client{Timeout: r.Timeout, Net: "tcp"}
		resp, _, err = tcpClient.ExchangeContext(ctx, msg, r.Server)
		if err != nil {
			return nil, fmt.Errorf("seeds: dns tcp retry %s against %s: %w", name, r.Server, err)
		}
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("seeds: dns query %s against %s: rcode %s", name, r.Server, dns.RcodeToString[resp.Rcode])
	}

	out := make([]string, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		out = append(out, strings.Join(txt.Txt, ""))
	}
	return out, nil
}
