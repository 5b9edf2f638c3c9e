package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/time/rate"

	"github.com/civicsignal/feewatch/schedule"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// maxDocumentBytes caps a single schedule document read.
const maxDocumentBytes = 25 << 20

// ClientConfig configures the standalone HTTP client.
type ClientConfig struct {
	Timeout   time.Duration // per-request. Default: 45s.
	UserAgent string        // Default: a current Chrome UA.
	// HostRPS throttles requests per target host. Default: 0.5/s.
	HostRPS float64
	Logger  *slog.Logger
}

func (c *ClientConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = chromeUA
	}
	if c.HostRPS <= 0 {
		c.HostRPS = 0.5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client fetches documents without a browser. TLS handshakes carry a
// Chrome fingerprint so bare requests don't stand out from the session
// traffic. Redirects are not auto-followed; Fetch reissues one 301/302
// manually and treats anything else non-200 as terminal.
type Client struct {
	cfg    ClientConfig
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	cfg.defaults()
	transport := &http.Transport{
		DialTLSContext: dialTLSChrome,
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch retrieves a document URL, following at most one 301/302
// redirect. Any other terminal status fails with AcquisitionError.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, &schedule.AcquisitionError{Op: "request", Err: err}
	}
	if err := c.waitHost(ctx, rawURL); err != nil {
		return nil, &schedule.AcquisitionError{Op: "request", Err: err}
	}

	body, status, location, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, &schedule.AcquisitionError{Op: "request", Err: err}
	}

	if status == http.StatusMovedPermanently || status == http.StatusFound {
		if location == "" {
			return nil, &schedule.AcquisitionError{Op: "request", StatusCode: status, Err: fmt.Errorf("redirect without location")}
		}
		c.cfg.Logger.Debug("download: following redirect", "from", rawURL, "to", location)
		body, status, _, err = c.get(ctx, location)
		if err != nil {
			return nil, &schedule.AcquisitionError{Op: "request", Err: err}
		}
	}

	if status != http.StatusOK {
		return nil, &schedule.AcquisitionError{Op: "request", StatusCode: status, Err: fmt.Errorf("http %d for %s", status, rawURL)}
	}
	return body, nil
}

// FetchFile downloads to path, removing any partial file on failure.
func (c *Client) FetchFile(ctx context.Context, rawURL, path string) error {
	body, err := c.Fetch(ctx, rawURL)
	if err != nil {
		os.Remove(path)
		return err
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		os.Remove(path)
		return &schedule.PersistenceError{Path: path, Err: err}
	}
	return nil
}

func (c *Client) get(ctx context.Context, rawURL string) (body []byte, status int, location string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/pdf,text/html,application/xhtml+xml,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, resp.StatusCode, "", fmt.Errorf("read body: %w", err)
	}
	return data, resp.StatusCode, resp.Header.Get("Location"), nil
}

// waitHost applies the per-host politeness limiter.
func (c *Client) waitHost(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	c.mu.Lock()
	lim, ok := c.limiters[u.Host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.cfg.HostRPS), 1)
		c.limiters[u.Host] = lim
	}
	c.mu.Unlock()
	return lim.Wait(ctx)
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", rawURL)
	}
	return nil
}

// dialTLSChrome performs the TLS handshake with a Chrome ClientHello.
func dialTLSChrome(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := utls.UClient(rawConn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}
