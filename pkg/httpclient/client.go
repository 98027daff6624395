/*
 * EasyProxy is a reverse proxy for HLS and MPEG-DASH streams with
 * URL extraction and ClearKey support.
 * Copyright (C) 2025  Lucas Duport
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/lucasduport/easyproxy/pkg/utils"
)

const (
	// DefaultTimeout bounds a whole request including the body read.
	DefaultTimeout = 60 * time.Second
	// ConnectTimeout bounds the TCP/TLS dial.
	ConnectTimeout = 30 * time.Second
	// ReadTimeout bounds waiting for response headers.
	ReadTimeout = 30 * time.Second

	maxAttempts  = 3
	retryBackoff = 2 * time.Second
)

// Options configures a Client.
type Options struct {
	// Proxies is a pool of upstream proxy URLs. One entry is picked at
	// random for the lifetime of the session; Reset picks again.
	Proxies []string

	// Timeout overrides DefaultTimeout when non zero.
	Timeout time.Duration

	// InsecureTLS skips certificate verification. Some stream CDNs sit
	// behind hosts with broken chains.
	InsecureTLS bool

	// UserAgent overrides the default desktop agent.
	UserAgent string
}

// Client is an upstream HTTP session with a cookie jar, an optional
// proxy and manual content decoding. Response compression is negotiated
// explicitly so that bodies can be streamed and re-encoded as needed.
type Client struct {
	opts Options

	mu   sync.Mutex
	http *http.Client
}

// New builds a client with a fresh cookie jar and a proxy picked from
// the pool.
func New(opts Options) (*Client, error) {
	c := &Client{opts: opts}
	if err := c.rebuild(); err != nil {
		return nil, err
	}
	return c, nil
}

// rebuild replaces the underlying session: new jar, new transport, a
// newly picked proxy. Callers hold c.mu or are the constructor.
func (c *Client) rebuild() error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("httpclient: cookie jar: %w", err)
	}

	transport, err := buildTransport(pickProxy(c.opts.Proxies), c.opts.InsecureTLS)
	if err != nil {
		return err
	}

	timeout := c.opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	c.http = &http.Client{
		Jar:       jar,
		Transport: transport,
		Timeout:   timeout,
	}
	return nil
}

// Reset drops the current session. Cookies and the proxy choice are
// discarded, idle connections closed.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.http.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	if err := c.rebuild(); err != nil {
		utils.ErrorLog("Session rebuild failed: %v", err)
	}
}

// Close releases the client's idle connections.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.http.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

func pickProxy(pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[rand.Intn(len(pool))]
}

func buildTransport(proxyURL string, insecure bool) (*http.Transport, error) {
	dialer := &net.Dialer{Timeout: ConnectTimeout, KeepAlive: 30 * time.Second}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   ConnectTimeout,
		ResponseHeaderTimeout: ReadTimeout,
		// Compression is negotiated by hand so the raw bytes reach us.
		DisableCompression: true,
	}
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if proxyURL == "" {
		return transport, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("httpclient: proxy url %q: %w", utils.MaskURL(proxyURL), err)
	}

	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if u.User != nil {
			pass, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: pass}
		}
		socks, err := proxy.SOCKS5("tcp", u.Host, auth, dialer)
		if err != nil {
			return nil, fmt.Errorf("httpclient: socks5 proxy: %w", err)
		}
		if cd, ok := socks.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return socks.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("httpclient: unsupported proxy scheme %q", u.Scheme)
	}
	return transport, nil
}

// NewRequest builds a request with the session defaults applied on top
// of the given headers.
func (c *Client) NewRequest(ctx context.Context, method, rawURL string, body io.Reader, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		ua := c.opts.UserAgent
		if ua == "" {
			ua = utils.GetStreamUserAgent()
		}
		req.Header.Set("User-Agent", ua)
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	return req, nil
}

// Do performs a single request on the session.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	client := c.http
	c.mu.Unlock()
	return client.Do(req)
}

// Get fetches rawURL once with the given headers.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, rawURL, nil, headers)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// GetRobust fetches rawURL with retries. Transport errors back off
// exponentially; after the last failed attempt the whole session is
// reset so the next caller starts clean.
func (c *Client) GetRobust(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := retryBackoff * time.Duration(1<<uint(attempt-1))
			utils.DebugLog("Retrying %s in %v (attempt %d/%d)", utils.MaskURL(rawURL), backoff, attempt+1, maxAttempts)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.Get(ctx, rawURL, headers)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	utils.WarnLog("Request to %s failed after %d attempts, resetting session: %v",
		utils.MaskURL(rawURL), maxAttempts, lastErr)
	c.Reset()
	return nil, fmt.Errorf("httpclient: %s: %w", utils.MaskURL(rawURL), lastErr)
}

// GetText fetches rawURL, decodes the body and returns it as a string.
// Non-2xx responses are returned as errors that carry the status code.
func (c *Client) GetText(ctx context.Context, rawURL string, headers map[string]string) (string, error) {
	resp, err := c.GetRobust(ctx, rawURL, headers)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := ReadBody(resp)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return string(body), &StatusError{Code: resp.StatusCode, URL: rawURL}
	}
	return string(body), nil
}

// PostForm submits a form body and returns the decoded response body.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (string, int, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()), headers)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := ReadBody(resp)
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(body), resp.StatusCode, nil
}

// StatusError reports an upstream non-2xx response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d for %s", e.Code, utils.MaskURL(e.URL))
}

// StatusCode extracts the upstream status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
