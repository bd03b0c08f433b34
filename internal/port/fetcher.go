package port

import (
	"context"
	"io"
)

// Fetcher performs manifest and segment requests. Every call takes the
// caller's header map so auth tokens reach every request of a download.
type Fetcher interface {
	// Get fetches a playlist body
	Get(ctx context.Context, url string, headers map[string]string) ([]byte, error)

	// Probe returns the size of a resource without downloading it
	Probe(ctx context.Context, url string, headers map[string]string) (int64, error)

	// Open starts streaming a resource
	// Returns: body, content length (-1 if unknown), error
	Open(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, int64, error)
}

// NetworkProbe reports whether the network is usable before a transfer starts
type NetworkProbe interface {
	Available(ctx context.Context) error
}
