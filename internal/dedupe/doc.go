// Package dedupe remembers recently seen request keys so retried requests
// are not processed twice.
package dedupe
