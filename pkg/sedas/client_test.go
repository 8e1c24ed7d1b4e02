package sedas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sedashttp "github.com/SatelliteApplicationsCatapult/sedas-go/internal/http"
)

// testServer runs a fake SeDAS endpoint and returns a client pointed at it.
// Authentication is handled internally and counted; every other request is
// passed to handler.
func testServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server, *atomic.Int32) {
	t.Helper()

	var logins atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/authentication", func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		validUntil := time.Now().UTC().Add(12 * time.Hour).Format(validUntilLayout)
		fmt.Fprintf(w, `{"token": "test-token", "validUntil": %q}`, validUntil)
	})
	mux.HandleFunc("/api/", handler)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := NewClient("alice", "secret", WithBaseURL(server.URL+"/api/"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, server, &logins
}

func TestNewClientBlankCredentials(t *testing.T) {
	if _, err := NewClient("", "secret"); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("NewClient with blank username: got %v, want ErrMissingCredentials", err)
	}
	if _, err := NewClient("alice", ""); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("NewClient with blank password: got %v, want ErrMissingCredentials", err)
	}
}

func TestLoginSendsCredentials(t *testing.T) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/authentication" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Errorf("decode credentials: %v", err)
		}
		validUntil := time.Now().UTC().Add(12 * time.Hour).Format(validUntilLayout)
		fmt.Fprintf(w, `{"token": "tok-1", "validUntil": %q}`, validUntil)
	}))
	defer server.Close()

	client, err := NewClient("alice", "secret", WithBaseURL(server.URL+"/api/"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if creds.Username != "alice" || creds.Password != "secret" {
		t.Errorf("got credentials %+v", creds)
	}
}

func TestLoginFailure(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer server.Close()

	client, err := NewClient("alice", "wrong", WithBaseURL(server.URL+"/api/"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.Login(context.Background()); !errors.Is(err, sedashttp.ErrUnauthorized) {
		t.Fatalf("Login: got %v, want ErrUnauthorized", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("got %d login attempts, want 1", got)
	}
}

func TestTokenReused(t *testing.T) {
	client, _, logins := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"requestId": "req-1"}`)
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := client.Request(ctx, &Product{SupplierID: "S1A_TEST"}); err != nil {
			t.Fatalf("Request: %v", err)
		}
	}
	if got := logins.Load(); got != 1 {
		t.Errorf("got %d logins for three calls, want 1", got)
	}
}

func TestTokenRefreshedNearExpiry(t *testing.T) {
	var logins atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/authentication", func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		// Inside the five minute safety margin, so every call refreshes.
		validUntil := time.Now().UTC().Add(time.Minute).Format(validUntilLayout)
		fmt.Fprintf(w, `{"token": "tok", "validUntil": %q}`, validUntil)
	})
	mux.HandleFunc("/api/request/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"requestId": "req-1"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient("alice", "secret", WithBaseURL(server.URL+"/api/"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := client.Request(ctx, &Product{SupplierID: "S1A_TEST"}); err != nil {
			t.Fatalf("Request: %v", err)
		}
	}
	if got := logins.Load(); got != 2 {
		t.Errorf("got %d logins, want one per call", got)
	}
}

func TestTokenErrorRecovery(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		recovered bool
	}{
		{"unauthorized", http.StatusUnauthorized, "", true},
		{"forbidden", http.StatusForbidden, "", true},
		{"stale token", http.StatusBadRequest, `{"message": "User token does not exist"}`, true},
		{"unrelated bad request", http.StatusBadRequest, `{"message": "invalid product"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls, logins atomic.Int32
			mux := http.NewServeMux()
			mux.HandleFunc("/api/authentication", func(w http.ResponseWriter, r *http.Request) {
				logins.Add(1)
				validUntil := time.Now().UTC().Add(12 * time.Hour).Format(validUntilLayout)
				fmt.Fprintf(w, `{"token": "tok", "validUntil": %q}`, validUntil)
			})
			mux.HandleFunc("/api/request/", func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) == 1 {
					w.WriteHeader(tt.status)
					fmt.Fprint(w, tt.body)
					return
				}
				fmt.Fprint(w, `{"requestId": "req-1"}`)
			})
			server := httptest.NewServer(mux)
			defer server.Close()

			client, err := NewClient("alice", "secret", WithBaseURL(server.URL+"/api/"))
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}

			id, err := client.Request(context.Background(), &Product{SupplierID: "S1A_TEST"})
			if !tt.recovered {
				if err == nil {
					t.Fatal("Request: expected error")
				}
				if got := calls.Load(); got != 1 {
					t.Errorf("got %d request attempts, want 1", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Request: %v", err)
			}
			if id != "req-1" {
				t.Errorf("got request id %q, want req-1", id)
			}
			if got := calls.Load(); got != 2 {
				t.Errorf("got %d request attempts, want 2", got)
			}
			if got := logins.Load(); got != 2 {
				t.Errorf("got %d logins, want 2", got)
			}
		})
	}
}

func TestRequest(t *testing.T) {
	client, _, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.URL.Path != "/api/request/S1A_IW_SLC" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Token test-token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		fmt.Fprint(w, `{"requestId": "7f1b"}`)
	})

	id, err := client.Request(context.Background(), &Product{SupplierID: "S1A_IW_SLC"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if id != "7f1b" {
		t.Errorf("got request id %q, want 7f1b", id)
	}
}

func TestIsRequestReady(t *testing.T) {
	urls := map[string]string{
		"pending":  "",
		"complete": "https://example.com/data.zip",
	}
	client, _, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/request" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		id := r.URL.Query().Get("ids")
		fmt.Fprintf(w, `[{"requestId": %q, "downloadUrl": %q}]`, id, urls[id])
	})

	ctx := context.Background()
	if url, err := client.IsRequestReady(ctx, "pending"); err != nil || url != "" {
		t.Fatalf("IsRequestReady(pending): got %q, %v", url, err)
	}
	if url, err := client.IsRequestReady(ctx, "complete"); err != nil || url != urls["complete"] {
		t.Fatalf("IsRequestReady(complete): got %q, %v", url, err)
	}
}

func TestFetchWithoutURL(t *testing.T) {
	client, err := NewClient("alice", "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.Fetch(context.Background(), &Product{SupplierID: "S1A_TEST"}); !errors.Is(err, ErrNoDownloadURL) {
		t.Fatalf("Fetch: got %v, want ErrNoDownloadURL", err)
	}
}

func TestDownload(t *testing.T) {
	payload := strings.Repeat("sedas product data ", 512)
	client, server, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token test-token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		fmt.Fprint(w, payload)
	})

	path := filepath.Join(t.TempDir(), "S1A_TEST.zip")
	product := &Product{
		SupplierID:  "S1A_TEST",
		DownloadURL: server.URL + "/api/download/S1A_TEST.zip",
	}
	if err := client.Download(context.Background(), product, path); err != nil {
		t.Fatalf("Download: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != payload {
		t.Errorf("downloaded %d bytes, want %d", len(data), len(payload))
	}
}
