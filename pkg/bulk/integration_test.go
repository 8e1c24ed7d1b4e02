//go:build integration

package bulk

import (
	"context"
	"testing"
	"time"

	_ "gocloud.dev/blob/s3blob"

	"github.com/SatelliteApplicationsCatapult/sedas-go/internal/testutils"
	"github.com/SatelliteApplicationsCatapult/sedas-go/pkg/sedas"
)

func TestDownloadToMinio(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	env := testutils.StartMinioContainer(t, ctx, "sedas-products")
	defer env.Close(ctx)

	bucket, err := env.OpenBucket(ctx)
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	fake := testutils.NewFakeSeDAS(t)
	online := fake.AddProduct("S1A_ONLINE", "online payload")
	archived := fake.AddArchivedProduct("S1A_ARCHIVED", "archived payload", 1)

	client, err := sedas.NewClient("alice", "secret", sedas.WithBaseURL(fake.BaseURL()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	completions := make(chan Completion, 2)
	d, err := New(client, "",
		WithBucket(bucket),
		WithPollInterval(100*time.Millisecond),
		WithIdleDelay(50*time.Millisecond),
		WithMonitorInterval(0),
		WithCompletions(completions))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Add(ctx, online, archived); err != nil {
		t.Fatalf("Add: %v", err)
	}

	waitFor(t, 60*time.Second, d.Done)
	d.Shutdown()
	if err := d.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	want := map[string]string{
		"S1A_ONLINE.zip":   "online payload",
		"S1A_ARCHIVED.zip": "archived payload",
	}
	for key, payload := range want {
		data, err := bucket.ReadAll(ctx, key)
		if err != nil {
			t.Fatalf("ReadAll(%s): %v", key, err)
		}
		if string(data) != payload {
			t.Errorf("object %s: got %q, want %q", key, data, payload)
		}
	}

	for i := 0; i < 2; i++ {
		c := <-completions
		if _, ok := want[c.Path]; !ok {
			t.Errorf("unexpected completion path %q", c.Path)
		}
	}
}
