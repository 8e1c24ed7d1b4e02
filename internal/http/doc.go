// Package http provides the HTTP transport used to talk to the SeDAS API.
//
// This package handles:
//   - Connection pooling for parallel downloads
//   - Retry with exponential backoff on transport and server errors
//   - Status code to error mapping
//
// # Usage
//
//	client := http.NewClient(Options{
//	    MaxIdleConnsPerHost: 100,
//	    Timeout:             30 * time.Second,
//	    RetryAttempts:       5,
//	})
//
//	resp, err := client.Get(ctx, url, headers)
//	defer resp.Body.Close()
//
// Client errors (4xx) are not retried and are returned as ordinary
// responses so callers can implement their own recovery, such as the
// re-login on expired tokens in pkg/sedas.
package http
