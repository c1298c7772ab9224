package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

var errNoDNSResult = errors.New("no dns result")

type dnsConfig struct {
	enabled         bool
	cacheTTL        time.Duration
	refreshInterval time.Duration
	timeout         time.Duration
	udpServers      []string
	tlsServers      []string
	dohEndpoints    []string
}

type dnsCacheEntry struct {
	ips     []string
	expires time.Time
}

// resolver tracks the addresses of the remote-write host so the pusher can
// drop its connections when they change.
type resolver struct {
	host   string
	cfg    dnsConfig
	clock  quartz.Clock
	logger *zap.Logger
	http   *http.Client

	mu          sync.Mutex
	resolvedIPs []string
	lastResolve time.Time
	cache       map[string]dnsCacheEntry
}

func newResolver(host string, cfg dnsConfig, clock quartz.Clock, logger *zap.Logger) *resolver {
	return &resolver{
		host:   host,
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		http:   http.DefaultClient,
		cache:  make(map[string]dnsCacheEntry),
	}
}

// resolvable reports whether the host is a name rather than an address.
func (r *resolver) resolvable() bool {
	return r.host != "" && net.ParseIP(r.host) == nil
}

// refresh resolves the host and reports whether the pusher should rebuild
// its client: the address set changed, or force was set and a lookup
// succeeded. Unforced refreshes are throttled to one a minute.
func (r *resolver) refresh(ctx context.Context, force bool) bool {
	if !r.resolvable() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if !force && now.Sub(r.lastResolve) < time.Minute {
		return false
	}

	if ce, ok := r.cache[r.host]; ok && now.Before(ce.expires) && !force {
		r.lastResolve = now
		if slices.Equal(ce.ips, r.resolvedIPs) {
			return false
		}
		r.resolvedIPs = ce.ips
		r.logger.Info("dns cache hit with new addresses",
			zap.String("host", r.host), zap.Strings("ips", ce.ips))
		return true
	}

	var (
		ips []string
		err error
	)
	if r.cfg.enabled {
		ips, err = r.resolveFastest(ctx)
	} else {
		ips, err = lookupSystem(ctx, r.host)
	}
	r.lastResolve = now
	if err != nil || len(ips) == 0 {
		r.logger.Warn("dns lookup failed", zap.String("host", r.host), zap.Error(err))
		return false
	}

	slices.Sort(ips)
	changed := !slices.Equal(ips, r.resolvedIPs)
	r.resolvedIPs = ips
	if r.cfg.enabled {
		r.cache[r.host] = dnsCacheEntry{ips: ips, expires: now.Add(r.cfg.cacheTTL)}
	}
	return changed || force
}

// addresses returns the last resolved address set.
func (r *resolver) addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.resolvedIPs)
}

// resolveFastest queries every configured resolver and the system resolver
// at once and returns the first non-empty answer.
func (r *resolver) resolveFastest(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()

	type result struct {
		ips []string
		err error
	}
	var lookups []func(context.Context) ([]string, error)
	for _, srv := range r.cfg.udpServers {
		lookups = append(lookups, func(ctx context.Context) ([]string, error) {
			return exchange(ctx, "udp", r.host, srv, r.cfg.timeout)
		})
	}
	for _, srv := range r.cfg.tlsServers {
		lookups = append(lookups, func(ctx context.Context) ([]string, error) {
			return exchange(ctx, "tcp-tls", r.host, srv, r.cfg.timeout)
		})
	}
	for _, ep := range r.cfg.dohEndpoints {
		lookups = append(lookups, func(ctx context.Context) ([]string, error) {
			return resolveDoH(ctx, r.http, r.host, ep)
		})
	}
	lookups = append(lookups, func(ctx context.Context) ([]string, error) {
		return lookupSystem(ctx, r.host)
	})

	ch := make(chan result, len(lookups))
	for _, lookup := range lookups {
		go func() {
			ips, err := lookup(ctx)
			ch <- result{ips, err}
		}()
	}

	var firstErr error
	for range lookups {
		select {
		case res := <-ch:
			if res.err == nil && len(res.ips) > 0 {
				return res.ips, nil
			}
			if firstErr == nil {
				firstErr = res.err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if firstErr == nil {
		firstErr = errNoDNSResult
	}
	return nil, firstErr
}

func lookupSystem(ctx context.Context, host string) ([]string, error) {
	netIPs, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	ips := make([]string, 0, len(netIPs))
	for _, ip := range netIPs {
		ips = append(ips, ip.String())
	}
	return ips, nil
}

func question(host string) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	return m
}

func exchange(ctx context.Context, network, host, server string, timeout time.Duration) ([]string, error) {
	c := &dns.Client{Net: network, Timeout: timeout}
	resp, _, err := c.ExchangeContext(ctx, question(host), server)
	if err != nil {
		return nil, fmt.Errorf("%s dns query to %s: %w", network, server, err)
	}
	return answers(resp)
}

func resolveDoH(ctx context.Context, client *http.Client, host, endpoint string) ([]string, error) {
	payload, err := question(host).Pack()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var msg dns.Msg
	if err := msg.Unpack(body); err != nil {
		return nil, fmt.Errorf("doh response: %w", err)
	}
	return answers(&msg)
}

func answers(msg *dns.Msg) ([]string, error) {
	if msg == nil {
		return nil, errNoDNSResult
	}
	if msg.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns rcode %s", dns.RcodeToString[msg.Rcode])
	}
	ips := make([]string, 0, len(msg.Answer))
	for _, ans := range msg.Answer {
		if a, ok := ans.(*dns.A); ok {
			ips = append(ips, a.A.String())
		}
	}
	return ips, nil
}
