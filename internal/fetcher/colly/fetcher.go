// Package collyfetcher implements the site health probe using gocolly.
package collyfetcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/site-health-crawler/internal/crawler"
)

// DefaultTimeout bounds a single probe when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	// Transport overrides the default verifying transport. Tests use it to
	// trust an httptest certificate.
	Transport http.RoundTripper
}

// Prober implements crawler.Prober using the Colly collector.
type Prober struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type probeState struct {
	status   int
	body     []byte
	got      bool
	fetchErr error
}

// New builds a Prober. TLS certificates are always verified.
func New(cfg Config) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport(cfg.Timeout)
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = true
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Prober{cfg: cfg, baseCollector: c}
}

// Probe issues one GET against url and reports what happened. Every HTTP
// status counts as a response; anything that prevents one is a transport
// failure. The probe never retries.
func (p *Prober) Probe(ctx context.Context, url string, headers http.Header) crawler.ProbeOutcome {
	state := &probeState{}
	start := time.Now()
	collector := p.buildCollector(headers, state)

	err := p.runCollector(ctx, collector, url)
	elapsed := time.Since(start)
	switch {
	case err != nil:
		return crawler.TransportFailed(err.Error(), elapsed)
	case state.fetchErr != nil:
		return crawler.TransportFailed(state.fetchErr.Error(), elapsed)
	case !state.got:
		return crawler.TransportFailed("no response received", elapsed)
	default:
		return crawler.Responded(state.status, elapsed, state.body)
	}
}

func (p *Prober) buildCollector(headers http.Header, state *probeState) *colly.Collector {
	collector := p.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.IgnoreRobotsTxt = true
	collector.MaxBodySize = p.baseCollector.MaxBodySize
	collector.UserAgent = p.baseCollector.UserAgent
	configureCollectorHooks(collector, headers, state)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, headers http.Header, state *probeState) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.status = r.StatusCode
		state.body = append([]byte(nil), r.Body...)
		state.got = true
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			state.status = r.StatusCode
			state.body = append([]byte(nil), r.Body...)
			state.got = true
			return
		}
		state.fetchErr = err
	})
}

func (p *Prober) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("probe canceled: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("probe request failed: %w", err)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
