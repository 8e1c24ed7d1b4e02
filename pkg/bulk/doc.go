// Package bulk downloads whole sets of SeDAS products concurrently.
//
// A Downloader accepts products from search results and drains them in the
// background. Products that are already online go straight to the download
// workers; archived products are requested from the long term archive and
// polled until they are staged. Downloads land as {supplier id}.zip in an
// output directory, or in any gocloud.dev blob bucket.
//
//	downloader, err := bulk.New(client, "./data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := downloader.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	if err := downloader.Add(ctx, result.Products...); err != nil {
//		log.Fatal(err)
//	}
//	for !downloader.Done() {
//		time.Sleep(time.Second)
//	}
//	downloader.Shutdown()
//	if err := downloader.Wait(); err != nil {
//		log.Fatal(err)
//	}
//
// # Failure handling
//
// A download that fails is logged and dropped while the remaining products
// keep downloading. Transient HTTP failures are retried inside the client
// before they ever reach the downloader, so a drop means the product
// genuinely could not be fetched.
package bulk
