package export

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/eryajf/promwrite"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Config defines the configuration for a Pusher
type Config struct {
	// Metric names are prefixed with Namespace_Subsystem_
	Namespace   string
	Subsystem   string
	ServiceName string

	// Root is the subtree of the source that is pushed
	Root string

	// Remote write configuration
	RemoteWriteURL      string
	RemoteWriteInterval time.Duration
	WriteTimeout        time.Duration

	// Instance information
	InstanceIP   string
	Version      string
	CustomLabels map[string]string

	// Optional logger and clock
	Logger *zap.Logger
	Clock  quartz.Clock

	// DNS resolver options (optional, for advanced use cases)
	DNSEnable          bool
	DNSCacheTTL        time.Duration
	DNSRefreshInterval time.Duration
	DNSTimeout         time.Duration
	DNSUDPServers      []string // e.g. ["1.1.1.1:53", "8.8.8.8:53"]
	DNSTLSServers      []string // e.g. ["1.1.1.1:853", "9.9.9.9:853"]
	DNSDoHEndpoints    []string // e.g. ["https://cloudflare-dns.com/dns-query"]
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	ip, _ := OutboundIPv4()
	return Config{
		Namespace:           "app",
		Subsystem:           "prod",
		ServiceName:         "service",
		RemoteWriteInterval: 15 * time.Second,
		WriteTimeout:        15 * time.Second,
		InstanceIP:          ip,
		CustomLabels:        make(map[string]string),
	}
}

// Pusher periodically writes the numeric stats of a source to a Prometheus
// remote-write endpoint. Nothing is pushed until a rule allows it.
type Pusher struct {
	Rules

	cfg    Config
	source Source
	logger *zap.Logger
	clock  quartz.Clock
	dns    *resolver

	mu     sync.Mutex
	client *promwrite.Client

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	waiters   []quartz.Waiter
}

// NewPusher creates a pusher for source. It does not start pushing.
func NewPusher(source Source, config Config) (*Pusher, error) {
	if config.ServiceName == "" {
		return nil, fmt.Errorf("service name cannot be empty")
	}
	if config.RemoteWriteURL == "" {
		return nil, fmt.Errorf("remote write url cannot be empty")
	}
	u, err := url.Parse(config.RemoteWriteURL)
	if err != nil {
		return nil, fmt.Errorf("parse remote write url: %w", err)
	}
	if config.InstanceIP == "" {
		ip, err := OutboundIPv4()
		if err != nil {
			return nil, fmt.Errorf("failed to get outbound IPv4: %w", err)
		}
		config.InstanceIP = ip
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Clock == nil {
		config.Clock = quartz.NewReal()
	}
	config.RemoteWriteInterval = pickDuration(config.RemoteWriteInterval, 15*time.Second)
	config.WriteTimeout = pickDuration(config.WriteTimeout, 15*time.Second)

	dnsCfg := dnsConfig{
		enabled:         config.DNSEnable,
		cacheTTL:        pickDuration(config.DNSCacheTTL, 10*time.Minute),
		refreshInterval: pickDuration(config.DNSRefreshInterval, 5*time.Minute),
		timeout:         pickDuration(config.DNSTimeout, 800*time.Millisecond),
		udpServers:      append([]string(nil), config.DNSUDPServers...),
		tlsServers:      append([]string(nil), config.DNSTLSServers...),
		dohEndpoints:    append([]string(nil), config.DNSDoHEndpoints...),
	}

	return &Pusher{
		cfg:    config,
		source: source,
		logger: config.Logger,
		clock:  config.Clock,
		dns:    newResolver(u.Hostname(), dnsCfg, config.Clock, config.Logger),
		client: promwrite.NewClient(config.RemoteWriteURL),
	}, nil
}

func pickDuration(v time.Duration, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// Samples returns the stats the next push would send.
func (p *Pusher) Samples() []Sample {
	t, ok := p.source.Snapshot(p.cfg.Root)
	if !ok {
		return nil
	}
	return Flatten(t, &p.Rules)
}

// Push writes the current stats once. If the write fails and a forced DNS
// refresh yields addresses, the client is rebuilt and the write retried.
func (p *Pusher) Push(ctx context.Context) error {
	samples := p.Samples()
	if len(samples) == 0 {
		return nil
	}
	req := &promwrite.WriteRequest{TimeSeries: p.timeSeries(samples, p.clock.Now())}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	defer cancel()

	if _, err := p.currentClient().Write(ctx, req); err != nil {
		if !p.dns.refresh(ctx, true) {
			return fmt.Errorf("writing time series failed: %w", err)
		}
		p.resetClient()
		if _, err := p.currentClient().Write(ctx, req); err != nil {
			return fmt.Errorf("writing time series failed after dns refresh: %w", err)
		}
	}
	return nil
}

func (p *Pusher) currentClient() *promwrite.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

// resetClient replaces the client so new connections pick up new addresses.
func (p *Pusher) resetClient() {
	p.mu.Lock()
	p.client = promwrite.NewClient(p.cfg.RemoteWriteURL)
	p.mu.Unlock()
	p.logger.Info("refreshed remote write client after dns update",
		zap.String("host", p.dns.host), zap.Strings("ips", p.dns.addresses()))
}

// Start pushes every RemoteWriteInterval and, with DNSEnable set, refreshes
// the remote host's addresses every DNSRefreshInterval. It is a no-op if
// the pusher is already running.
func (p *Pusher) Start() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.waiters = append(p.waiters, p.clock.TickerFunc(ctx, p.cfg.RemoteWriteInterval, func() error {
		if err := p.Push(ctx); err != nil {
			p.logger.Warn("failed to push stats", zap.Error(err))
		}
		return nil
	}, "export", "push"))

	if p.cfg.DNSEnable && p.dns.resolvable() {
		p.waiters = append(p.waiters, p.clock.TickerFunc(ctx, p.dns.cfg.refreshInterval, func() error {
			if p.dns.refresh(ctx, false) {
				p.resetClient()
			}
			return nil
		}, "export", "dns"))
	}
	p.logger.Info("stats pusher started",
		zap.String("url", p.cfg.RemoteWriteURL), zap.Duration("interval", p.cfg.RemoteWriteInterval))
}

// Stop halts the push loops and waits for them to exit.
func (p *Pusher) Stop() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	var err error
	for _, w := range p.waiters {
		if werr := w.Wait(); !errors.Is(werr, context.Canceled) {
			err = multierr.Append(err, werr)
		}
	}
	p.cancel = nil
	p.waiters = nil
	if err != nil {
		p.logger.Warn("stats pusher stopped with errors", zap.Error(err))
		return
	}
	p.logger.Info("stats pusher stopped")
}

// timeSeries converts samples to promwrite time series format
func (p *Pusher) timeSeries(samples []Sample, now time.Time) []promwrite.TimeSeries {
	prefix := MetricName(p.cfg.Namespace, p.cfg.Subsystem)
	result := make([]promwrite.TimeSeries, 0, len(samples))
	for _, s := range samples {
		name := s.Name
		if prefix != "" {
			name = prefix + "_" + name
		}

		labels := make([]promwrite.Label, 0, 6+len(p.cfg.CustomLabels))
		labels = append(labels,
			promwrite.Label{Name: "__name__", Value: name},
			promwrite.Label{Name: "_instance_", Value: p.cfg.InstanceIP},
			promwrite.Label{Name: "instance", Value: p.cfg.InstanceIP},
			promwrite.Label{Name: "_target_", Value: p.cfg.ServiceName},
			promwrite.Label{Name: "stat_path", Value: "/" + s.Path},
		)
		if p.cfg.Version != "" {
			labels = append(labels, promwrite.Label{Name: "version", Value: p.cfg.Version})
		}
		for k, v := range p.cfg.CustomLabels {
			labels = append(labels, promwrite.Label{Name: k, Value: v})
		}

		result = append(result, promwrite.TimeSeries{
			Labels: labels,
			Sample: promwrite.Sample{Time: now, Value: s.Value},
		})
	}
	return result
}

// OutboundIPv4 returns the local address used to reach the internet.
func OutboundIPv4() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}
