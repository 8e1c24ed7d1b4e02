// Package sedas is a client for the SeDAS satellite data access service.
//
// A Client authenticates with a SeDAS account and keeps its session token
// refreshed across calls, so none of the operations require explicit login
// handling.
//
//	client, err := sedas.NewClient(username, password)
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Searching
//
// Searches take a WKT polygon and an ISO8601 time window, with optional
// refinements:
//
//	result, err := client.SearchSAR(ctx, wkt,
//		"2020-04-01T00:00:00Z", "2020-04-14T00:00:00Z",
//		sedas.WithFilter("sarProductType", "SLC"))
//
// # Downloading
//
// Products that are available online carry a download URL and can be passed
// straight to Download. Products held in the long term archive have no
// download URL yet: stage them with Request, poll with IsRequestReady, and
// download once a URL is returned. Package bulk runs that loop concurrently
// for whole search results.
package sedas
