// Package proxy forwards gateway requests to the backing services.
package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/patternvault/backend/shared/logging"
)

// Hop-by-hop headers are meaningful only for a single connection.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type Proxy struct {
	client       *http.Client
	frontProxies []netip.Prefix
	log          logging.Logger
}

// New builds a Proxy. frontProxies lists the addresses or CIDRs of proxies
// placed in front of the gateway; only their X-Forwarded-Host and
// X-Forwarded-Proto are passed on.
func New(timeout time.Duration, frontProxies []string, log logging.Logger) (*Proxy, error) {
	prefixes := make([]netip.Prefix, 0, len(frontProxies))
	for _, raw := range frontProxies {
		prefix, err := parsePrefix(raw)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, prefix)
	}
	return &Proxy{
		client: &http.Client{
			Timeout: timeout,
			// Redirects are the client's business.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		frontProxies: prefixes,
		log:          log,
	}, nil
}

func parsePrefix(raw string) (netip.Prefix, error) {
	if strings.Contains(raw, "/") {
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid front proxy %q: %w", raw, err)
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid front proxy %q: %w", raw, err)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// fromFrontProxy reports whether the direct peer is a configured front proxy.
func (p *Proxy) fromFrontProxy(c *gin.Context) bool {
	addr, err := netip.ParseAddr(c.RemoteIP())
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p.frontProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// To returns a handler that forwards the request unchanged to serviceURL,
// setting the X-Forwarded-* headers the services use to build absolute URLs.
func (p *Proxy) To(serviceURL string) gin.HandlerFunc {
	serviceURL = strings.TrimSuffix(serviceURL, "/")

	return func(c *gin.Context) {
		targetURL := serviceURL + c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			targetURL += "?" + c.Request.URL.RawQuery
		}

		req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, targetURL, c.Request.Body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to create request"})
			return
		}
		req.ContentLength = c.Request.ContentLength

		copyHeader(req.Header, c.Request.Header)
		trusted := p.fromFrontProxy(c)
		if !trusted || req.Header.Get("X-Forwarded-Host") == "" {
			req.Header.Set("X-Forwarded-Host", c.Request.Host)
		}
		if !trusted || req.Header.Get("X-Forwarded-Proto") == "" {
			scheme := "http"
			if c.Request.TLS != nil {
				scheme = "https"
			}
			req.Header.Set("X-Forwarded-Proto", scheme)
		}
		if ip := c.ClientIP(); ip != "" {
			req.Header.Set("X-Forwarded-For", ip)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			p.log.Error(c.Request.Context(), "error proxying request", "target", targetURL, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"message": "Service unavailable"})
			return
		}
		defer resp.Body.Close()

		// CORS is answered by the gateway itself.
		for key := range resp.Header {
			if strings.HasPrefix(key, "Access-Control-") {
				resp.Header.Del(key)
			}
		}
		copyHeader(c.Writer.Header(), resp.Header)
		c.Status(resp.StatusCode)
		if _, err := io.Copy(c.Writer, resp.Body); err != nil {
			p.log.Warn(c.Request.Context(), "failed to relay response", "target", targetURL, "error", err)
		}
	}
}

func copyHeader(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}
