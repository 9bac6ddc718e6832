// Package batch drives sequential lookups over a list of raw keys.
//
// Keys are normalized and de-duplicated first; each unique key is then
// fetched once, in first-seen order, with a random delay before every
// request and a longer cooldown every N keys to stay under the target's
// anti-scraping thresholds. One result is produced per unique key.
//
// Example usage:
//
//	fetcher, err := batch.NewFetcher(apiClient, batch.DefaultConfig())
//	res, err := fetcher.FetchBatch(ctx, rawKeys, func(i, total int, raw any, ok bool) {
//		fmt.Printf("[%d/%d] %v ok=%v\n", i, total, raw, ok)
//	})
//
// The fetcher:
//   - Skips invalid keys without a request or progress callback
//   - Fetches each unique key exactly once
//   - Fires progress callbacks in processing order
//   - Returns partial results together with ctx.Err() when cancelled
//
// Processing is sequential on purpose. The cooldown counter assumes one
// request in flight at a time.
package batch
