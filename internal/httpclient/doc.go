// Package httpclient is the transport adapter used by the probe.
//
// A [Client] is configured once with a base URL, static headers and a timeout
// and then issues plain GET requests:
//
//	client, err := httpclient.New(httpclient.Options{
//		BaseURL: "https://api.example.com",
//		Headers: map[string]string{"X-VTEX-API-AppKey": key},
//		Timeout: 30 * time.Second,
//	})
//	resp, err := client.Get(ctx, "/api/test-endpoint?_from=0&_to=50")
//
// Relative references are appended to the base URL path. Any non-2xx status is
// returned as an [*HTTPError] so callers can tell throttling apart from other
// failures with [IsRateLimited]. The client never retries.
package httpclient
