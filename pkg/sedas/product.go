package sedas

// Product is a single catalogue entry returned by a search.
//
// DownloadURL is empty for products held in the long term archive. Such
// products must be staged with [Client.Request] and polled with
// [Client.IsRequestReady] before they can be fetched; pkg/bulk automates
// that flow for whole result sets.
type Product struct {
	SupplierID  string `json:"supplierId"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// SearchResult is the envelope returned by the search endpoints.
type SearchResult struct {
	Products []*Product `json:"products"`
}
