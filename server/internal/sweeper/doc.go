// Package sweeper periodically evicts source records whose last contact is
// older than the configured expiration.
package sweeper
