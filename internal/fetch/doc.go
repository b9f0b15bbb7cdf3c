// Package fetch retrieves remote objects over HTTP with bounded retry.
//
// # Retry Policy
//
// Every request is attempted up to DefaultAttempts times with a constant
// DefaultDelay between attempts. Connection errors, 5xx and 429 responses are
// retried. A 404, any other 4xx, and a 200 response with an empty body fail
// immediately: the marker check relies on an empty body meaning "not found".
//
// # Usage
//
//	f := fetch.New(fetch.WithUserAgent("crio-get/v1.0.0"))
//	body, err := f.Fetch(ctx, url, nil)
//	if errors.Is(err, fetch.ErrNotFound) {
//	    // absent
//	}
package fetch
