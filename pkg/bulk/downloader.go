package bulk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"golang.org/x/sync/errgroup"

	"github.com/SatelliteApplicationsCatapult/sedas-go/pkg/sedas"
)

// ErrAlreadyStarted is returned by Start on any call after the first.
var ErrAlreadyStarted = errors.New("bulk: downloader already running")

// ArchiveClient is the part of the SeDAS API the downloader needs. It is
// implemented by *sedas.Client.
type ArchiveClient interface {
	// Request stages an archived product and returns the identifier of
	// the archive request.
	Request(ctx context.Context, product *sedas.Product) (string, error)

	// IsRequestReady returns the product download URL once the archive
	// request is complete, or the empty string while it is pending.
	IsRequestReady(ctx context.Context, requestID string) (string, error)

	// Fetch opens the download stream for a product with a download URL.
	Fetch(ctx context.Context, product *sedas.Product) (io.ReadCloser, error)
}

var _ ArchiveClient = (*sedas.Client)(nil)

// Completion records one finished download.
type Completion struct {
	// Product is the catalogue entry that was downloaded.
	Product *sedas.Product

	// Path is where the data was written: a file path under the output
	// directory, or the object key when a custom bucket is used.
	Path string
}

type options struct {
	workers         int
	pollInterval    time.Duration
	monitorInterval time.Duration
	idleDelay       time.Duration
	bucket          *blob.Bucket
	completions     chan<- Completion
	log             *slog.Logger
}

func defaultOptions() options {
	return options{
		workers:         2,
		pollInterval:    5 * time.Second,
		monitorInterval: 5 * time.Second,
		idleDelay:       time.Second,
		log:             slog.Default(),
	}
}

// Option configures a Downloader.
type Option func(*options)

// WithWorkers sets the number of concurrent download workers. Defaults to 2.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithPollInterval sets how often pending archive requests are checked.
// Defaults to 5 seconds.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

// WithMonitorInterval sets how often a progress summary is logged. Zero
// disables the summary. Defaults to 5 seconds.
func WithMonitorInterval(d time.Duration) Option {
	return func(o *options) {
		o.monitorInterval = d
	}
}

// WithIdleDelay sets how long a worker sleeps when no download is ready.
// Defaults to 1 second.
func WithIdleDelay(d time.Duration) Option {
	return func(o *options) {
		o.idleDelay = d
	}
}

// WithBucket writes downloads to the given bucket instead of the output
// directory. The caller keeps ownership of the bucket and must close it
// after Wait returns.
func WithBucket(bucket *blob.Bucket) Option {
	return func(o *options) {
		o.bucket = bucket
	}
}

// WithCompletions delivers a record for every finished download on ch. The
// downloader blocks on ch when it is full, so keep receiving until Wait
// returns; a record may be dropped when a stop is requested while its send
// is blocked. The channel is never closed by the downloader.
func WithCompletions(ch chan<- Completion) Option {
	return func(o *options) {
		o.completions = ch
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Downloader drains sets of SeDAS products in the background. Products that
// are already online are handed straight to the download workers; archived
// products are requested from the long term archive and polled until they
// are staged. A Downloader is safe for use from multiple goroutines.
type Downloader struct {
	client ArchiveClient
	opts   options

	bucket    *blob.Bucket
	ownBucket bool
	dir       string
	log       *slog.Logger

	mu        sync.Mutex
	started   bool
	stopped   bool
	group     *errgroup.Group
	pending   map[string]*sedas.Product // request id -> product being staged
	requested map[string]struct{}       // supplier ids accepted for an archive request
	ready     []*sedas.Product          // staged products waiting for a worker

	stopCh    chan struct{}
	closeOnce sync.Once

	outstanding atomic.Int64 // accepted products not yet downloaded or dropped
	inFlight    atomic.Int32 // downloads currently running
}

// New creates a Downloader that saves products under dir as
// {supplier id}.zip. Pass WithBucket to write somewhere other than the
// local filesystem.
func New(client ArchiveClient, dir string, opts ...Option) (*Downloader, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		return nil, fmt.Errorf("bulk: workers must be at least 1, got %d", o.workers)
	}
	if o.pollInterval <= 0 {
		return nil, fmt.Errorf("bulk: poll interval must be positive, got %s", o.pollInterval)
	}
	if o.idleDelay <= 0 {
		return nil, fmt.Errorf("bulk: idle delay must be positive, got %s", o.idleDelay)
	}

	d := &Downloader{
		client:    client,
		opts:      o,
		bucket:    o.bucket,
		dir:       dir,
		log:       o.log,
		pending:   make(map[string]*sedas.Product),
		requested: make(map[string]struct{}),
		stopCh:    make(chan struct{}),
	}
	if d.bucket == nil {
		bucket, err := fileblob.OpenBucket(dir, &fileblob.Options{
			CreateDir: true,
			Metadata:  fileblob.MetadataDontWrite,
		})
		if err != nil {
			return nil, fmt.Errorf("bulk: open output directory: %w", err)
		}
		d.bucket = bucket
		d.ownBucket = true
	}
	return d, nil
}

// Start launches the request poller and the download workers. It returns
// ErrAlreadyStarted on any call after the first. Cancelling ctx aborts all
// work immediately, downloads underway included; use Shutdown for a
// graceful stop.
func (d *Downloader) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.started = true
	group, gctx := errgroup.WithContext(ctx)
	d.group = group
	d.mu.Unlock()

	group.Go(func() error {
		d.pollRequests(gctx)
		return nil
	})
	for i := 0; i < d.opts.workers; i++ {
		worker := i
		group.Go(func() error {
			d.downloadWorker(gctx, worker)
			return nil
		})
	}
	if d.opts.monitorInterval > 0 {
		group.Go(func() error {
			d.monitor(gctx)
			return nil
		})
	}
	return nil
}

// Add accepts products for download. Products with a download URL are
// queued for a worker directly; the rest are requested from the long term
// archive and queued once staged. A product whose supplier identifier was
// already accepted for an archive request is skipped, so overlapping search
// results can be added freely.
//
// When an archive request fails, the failing product is dropped, its
// reservation is released, and the error is returned; products accepted
// earlier in the same call stay accepted. Only the call that issued the
// request sees the failure: a concurrent Add that skipped the product as a
// duplicate returns nil, and the product can be added again afterwards.
func (d *Downloader) Add(ctx context.Context, products ...*sedas.Product) error {
	for _, product := range products {
		if product.DownloadURL != "" {
			d.outstanding.Add(1)
			d.mu.Lock()
			d.ready = append(d.ready, product)
			d.mu.Unlock()
			continue
		}

		// Reserve the supplier id before the API call so a concurrent
		// Add cannot request the same product twice.
		d.mu.Lock()
		if _, ok := d.requested[product.SupplierID]; ok {
			d.mu.Unlock()
			d.log.Debug("skipping product, already requested", "supplier_id", product.SupplierID)
			continue
		}
		d.requested[product.SupplierID] = struct{}{}
		d.mu.Unlock()

		requestID, err := d.client.Request(ctx, product)
		if err != nil {
			d.mu.Lock()
			delete(d.requested, product.SupplierID)
			d.mu.Unlock()
			return fmt.Errorf("bulk: request %s: %w", product.SupplierID, err)
		}

		d.outstanding.Add(1)
		d.mu.Lock()
		d.pending[requestID] = product
		d.mu.Unlock()
		d.log.Debug("requested product from archive",
			"supplier_id", product.SupplierID, "request_id", requestID)
	}
	return nil
}

// Done reports whether every accepted product has been downloaded or
// dropped after a failure. A downloader with nothing accepted is done.
func (d *Downloader) Done() bool {
	return d.outstanding.Load() == 0
}

// Shutdown asks every loop to stop once its current item is finished. It
// does not block; use Wait to observe completion. Shutdown is safe to call
// more than once.
func (d *Downloader) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	close(d.stopCh)
}

// Wait blocks until every loop has stopped, then closes the output bucket
// if the downloader opened it. The loops stop after Shutdown is called or
// the Start context is cancelled. On a downloader that was never started,
// Wait only closes the bucket.
func (d *Downloader) Wait() error {
	d.mu.Lock()
	group := d.group
	d.mu.Unlock()

	if group != nil {
		if err := group.Wait(); err != nil {
			return err
		}
	}

	var closeErr error
	d.closeOnce.Do(func() {
		if d.ownBucket {
			closeErr = d.bucket.Close()
		}
	})
	return closeErr
}

// pollRequests periodically checks the pending archive requests and queues
// products whose request has completed.
func (d *Downloader) pollRequests(ctx context.Context) {
	ticker := time.NewTicker(d.opts.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			d.log.Debug("request poller stopping")
			return
		case <-ctx.Done():
			d.log.Debug("request poller stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			d.checkRequests(ctx)
		}
	}
}

// checkRequests runs one sweep over the pending archive requests. A failed
// status check leaves the request pending for the next sweep.
func (d *Downloader) checkRequests(ctx context.Context) {
	d.mu.Lock()
	snapshot := make(map[string]*sedas.Product, len(d.pending))
	for id, product := range d.pending {
		snapshot[id] = product
	}
	d.mu.Unlock()

	for requestID, product := range snapshot {
		if ctx.Err() != nil {
			return
		}
		d.log.Debug("checking state of request",
			"request_id", requestID, "supplier_id", product.SupplierID)

		url, err := d.client.IsRequestReady(ctx, requestID)
		if err != nil {
			d.log.Warn("request status check failed",
				"request_id", requestID, "error", err)
			continue
		}
		if url == "" {
			continue
		}

		d.log.Info("request complete",
			"request_id", requestID, "supplier_id", product.SupplierID)

		d.mu.Lock()
		product.DownloadURL = url
		delete(d.pending, requestID)
		d.ready = append(d.ready, product)
		d.mu.Unlock()
	}
}

// downloadWorker drains the ready queue until the downloader is stopped. A
// failed download is logged and dropped; the worker moves on to the next
// product.
func (d *Downloader) downloadWorker(ctx context.Context, id int) {
	log := d.log.With("worker", id)
	for {
		select {
		case <-d.stopCh:
			log.Debug("download worker stopping")
			return
		case <-ctx.Done():
			log.Debug("download worker stopping", "reason", ctx.Err())
			return
		default:
		}

		product, ok := d.nextReady()
		if !ok {
			select {
			case <-d.stopCh:
				log.Debug("download worker stopping")
				return
			case <-ctx.Done():
				log.Debug("download worker stopping", "reason", ctx.Err())
				return
			case <-time.After(d.opts.idleDelay):
			}
			continue
		}

		d.inFlight.Add(1)
		err := d.download(ctx, log, product)
		d.inFlight.Add(-1)
		d.outstanding.Add(-1)

		if err != nil {
			log.Error("download failed",
				"supplier_id", product.SupplierID, "error", err)
			continue
		}

		if d.opts.completions != nil {
			completion := Completion{Product: product, Path: d.completionPath(product)}
			select {
			case d.opts.completions <- completion:
			case <-d.stopCh:
				log.Debug("download worker stopping")
				return
			case <-ctx.Done():
				log.Debug("download worker stopping", "reason", ctx.Err())
				return
			}
		}
	}
}

// nextReady pops the oldest staged product, if any.
func (d *Downloader) nextReady() (*sedas.Product, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ready) == 0 {
		return nil, false
	}
	product := d.ready[0]
	d.ready = d.ready[1:]
	return product, true
}

// download transfers one product into the bucket.
func (d *Downloader) download(ctx context.Context, log *slog.Logger, product *sedas.Product) error {
	key := product.SupplierID + ".zip"
	log.Info("downloading product", "supplier_id", product.SupplierID, "key", key)

	stream, err := d.client.Fetch(ctx, product)
	if err != nil {
		return err
	}
	defer stream.Close()

	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer, err := d.bucket.NewWriter(writeCtx, key, nil)
	if err != nil {
		return fmt.Errorf("open writer for %s: %w", key, err)
	}

	if _, err := io.Copy(writer, stream); err != nil {
		// Cancel before closing so no partial object is committed.
		cancel()
		writer.Close()
		return fmt.Errorf("copy %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

// completionPath is the path reported for a finished download: a file path
// for the default directory bucket, the object key otherwise.
func (d *Downloader) completionPath(product *sedas.Product) string {
	key := product.SupplierID + ".zip"
	if d.ownBucket {
		return filepath.Join(d.dir, key)
	}
	return key
}
