// Package testutils provides shared test infrastructure: an in-process fake
// of the SeDAS API, and containerized backends for integration tests.
package testutils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/SatelliteApplicationsCatapult/sedas-go/pkg/sedas"
)

// FakeSeDAS is an in-process stand-in for the SeDAS API. It accepts any
// non-blank credentials, hands out session tokens, and serves registered
// product payloads, including the archive request flow.
type FakeSeDAS struct {
	server *httptest.Server

	mu       sync.Mutex
	token    string
	logins   int
	products map[string]*fakeProduct
	requests map[string]*fakeRequest
}

type fakeProduct struct {
	supplierID    string
	payload       string
	online        bool
	readyAfter    int // status checks before an archive request completes
	failDownloads int // download attempts to reject with a server error
}

type fakeRequest struct {
	product *fakeProduct
	polls   int
}

// NewFakeSeDAS starts a fake SeDAS service. The server is shut down when
// the test finishes.
func NewFakeSeDAS(t *testing.T) *FakeSeDAS {
	t.Helper()

	f := &FakeSeDAS{
		products: map[string]*fakeProduct{},
		requests: map[string]*fakeRequest{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/authentication", f.handleLogin)
	mux.HandleFunc("POST /api/search", f.handleSearch)
	mux.HandleFunc("GET /api/search/products", f.handleSearchProducts)
	mux.HandleFunc("POST /api/request/{supplierID}", f.handleRequest)
	mux.HandleFunc("GET /api/request", f.handleRequestStatus)
	mux.HandleFunc("GET /api/download/{name}", f.handleDownload)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

// BaseURL is the API root to pass to sedas.WithBaseURL.
func (f *FakeSeDAS) BaseURL() string {
	return f.server.URL + "/api/"
}

// AddProduct registers a product that is available online and returns its
// catalogue entry.
func (f *FakeSeDAS) AddProduct(supplierID, payload string) *sedas.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[supplierID] = &fakeProduct{
		supplierID: supplierID,
		payload:    payload,
		online:     true,
	}
	return &sedas.Product{SupplierID: supplierID, DownloadURL: f.downloadURL(supplierID)}
}

// AddArchivedProduct registers a product held in the long term archive. Its
// archive request completes after readyAfter status checks.
func (f *FakeSeDAS) AddArchivedProduct(supplierID, payload string, readyAfter int) *sedas.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[supplierID] = &fakeProduct{
		supplierID: supplierID,
		payload:    payload,
		readyAfter: readyAfter,
	}
	return &sedas.Product{SupplierID: supplierID}
}

// FailDownloads makes the next n download attempts for the product fail
// with a server error.
func (f *FakeSeDAS) FailDownloads(supplierID string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.products[supplierID]; ok {
		p.failDownloads = n
	}
}

// Logins reports how many times a client has authenticated.
func (f *FakeSeDAS) Logins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *FakeSeDAS) downloadURL(supplierID string) string {
	return f.server.URL + "/api/download/" + supplierID + ".zip"
}

func (f *FakeSeDAS) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username == "" || creds.Password == "" {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
		return
	}

	f.mu.Lock()
	f.logins++
	f.token = uuid.NewString()
	token := f.token
	f.mu.Unlock()

	validUntil := time.Now().UTC().Add(12 * time.Hour).Format("2006-01-02T15:04:05Z")
	writeJSON(w, map[string]string{"token": token, "validUntil": validUntil})
}

// authorized rejects requests that do not carry the current session token.
func (f *FakeSeDAS) authorized(w http.ResponseWriter, r *http.Request) bool {
	f.mu.Lock()
	token := f.token
	f.mu.Unlock()
	if token == "" || r.Header.Get("Authorization") != "Token "+token {
		http.Error(w, "User token does not exist", http.StatusForbidden)
		return false
	}
	return true
}

func (f *FakeSeDAS) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	var query struct {
		AOIWKT string `json:"aoiWKT"`
		Start  string `json:"start"`
		Stop   string `json:"stop"`
	}
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil || query.AOIWKT == "" {
		http.Error(w, "bad search", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	products := make([]*sedas.Product, 0, len(f.products))
	for _, p := range f.products {
		products = append(products, f.catalogueEntry(p))
	}
	f.mu.Unlock()

	writeJSON(w, map[string]any{"products": products})
}

func (f *FakeSeDAS) handleSearchProducts(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	ids := strings.Split(r.URL.Query().Get("ids"), ",")

	f.mu.Lock()
	products := make([]*sedas.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			products = append(products, f.catalogueEntry(p))
		}
	}
	f.mu.Unlock()

	writeJSON(w, map[string]any{"products": products})
}

// catalogueEntry builds the search representation of p. f.mu must be held.
func (f *FakeSeDAS) catalogueEntry(p *fakeProduct) *sedas.Product {
	entry := &sedas.Product{SupplierID: p.supplierID}
	if p.online {
		entry.DownloadURL = f.downloadURL(p.supplierID)
	}
	return entry
}

func (f *FakeSeDAS) handleRequest(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	supplierID := r.PathValue("supplierID")

	f.mu.Lock()
	defer f.mu.Unlock()
	product, ok := f.products[supplierID]
	if !ok {
		http.Error(w, "unknown product", http.StatusNotFound)
		return
	}
	requestID := uuid.NewString()
	f.requests[requestID] = &fakeRequest{product: product}
	writeJSON(w, map[string]string{"requestId": requestID})
}

func (f *FakeSeDAS) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	ids := strings.Split(r.URL.Query().Get("ids"), ",")

	f.mu.Lock()
	defer f.mu.Unlock()
	statuses := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		req, ok := f.requests[id]
		if !ok {
			http.Error(w, "unknown request", http.StatusNotFound)
			return
		}
		req.polls++
		status := map[string]string{"requestId": id}
		if req.polls > req.product.readyAfter {
			status["downloadUrl"] = f.downloadURL(req.product.supplierID)
		}
		statuses = append(statuses, status)
	}
	writeJSON(w, statuses)
}

func (f *FakeSeDAS) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	name := strings.TrimSuffix(r.PathValue("name"), ".zip")

	f.mu.Lock()
	product, ok := f.products[name]
	if ok && product.failDownloads > 0 {
		product.failDownloads--
		f.mu.Unlock()
		http.Error(w, "temporary failure", http.StatusServiceUnavailable)
		return
	}
	var payload string
	if ok {
		payload = product.payload
	}
	f.mu.Unlock()

	if !ok {
		http.Error(w, "unknown product", http.StatusNotFound)
		return
	}
	fmt.Fprint(w, payload)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
