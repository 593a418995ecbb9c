package ports

import "context"

// FetchResult is one completed HTTP exchange.
type FetchResult struct {
	Status   int
	FinalURL string
	Body     []byte
}

// Fetcher performs the outbound HTTP calls the engines need: associate
// POSTs and check_authentication POSTs. Implementations must reject
// non-http(s) URLs before dispatch and bound redirect following on Get.
// Calls are synchronous, single-attempt and bounded by the fetcher's
// timeout; a failed fetch surfaces immediately with no retry.
type Fetcher interface {
	Get(ctx context.Context, url string) (*FetchResult, error)
	Post(ctx context.Context, url, body string) (*FetchResult, error)
}
