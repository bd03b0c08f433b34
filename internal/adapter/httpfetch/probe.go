package httpfetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vertextoedge/offline-stream/internal/domain"
	"github.com/vertextoedge/offline-stream/internal/port"
)

// NetworkProbe checks connectivity by sending a HEAD request to a fixed
// URL. Any HTTP response counts as reachable.
type NetworkProbe struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// Ensure NetworkProbe implements port.NetworkProbe
var _ port.NetworkProbe = (*NetworkProbe)(nil)

// NewNetworkProbe creates a probe. An empty url disables the check.
func NewNetworkProbe(url string, timeout time.Duration) *NetworkProbe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NetworkProbe{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Available returns domain.ErrNetworkUnavailable when the probe URL
// cannot be reached
func (p *NetworkProbe) Available(ctx context.Context) error {
	if p.url == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNetworkUnavailable, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNetworkUnavailable, err)
	}
	resp.Body.Close()

	return nil
}
