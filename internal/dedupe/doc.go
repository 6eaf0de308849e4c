// Package dedupe tracks recently relayed message keys in a TTL cache so
// backend redeliveries within the window are dropped instead of fanned out
// twice.
package dedupe
