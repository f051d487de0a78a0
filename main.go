// Command fetchgate runs the media-fetch bot.
//
// Architecture overview:
//   - Webhook: internal/api receives Bot API updates on POST /telegram/{secret}, answers 200 at once, and hands
//     decoded messages and button presses to internal/intake in the background.
//   - Intake: each link is extracted, throttled per user, probed through yt-dlp without downloading, and passed to
//     internal/admission, which admits it (free size, admin grant, completed gate) or issues a three-step gate
//     prompt keyed by a correlation token.
//   - Queue and workers: admitted jobs go through internal/dispatcher into a bounded in-memory FIFO drained by a
//     small fixed worker pool (worker.concurrency, default 1). A dequeued job always runs to completion.
//   - Artifacts: internal/artifact removes every fetched file after delivery was attempted, including on failure.
//   - Persistence: entitlements live in memory, Postgres (pgx + goose migrations), or an embedded Badger store.
//   - Plumbing: Viper config with FETCHGATE_* env overrides, zap logging, Prometheus metrics on /metrics, and
//     job outcome events published to memory or Google Pub/Sub.
//
// Run locally: fetchgate serve --config config.yaml. Grant access offline: fetchgate grant <user-id>.
package main

import (
	"github.com/JakeFAU/fetchgate/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
