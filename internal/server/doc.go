// Package server exposes the browser-facing HTTP surface: the upload form,
// the /upload relay endpoint, health and stats probes, and Prometheus metrics.
package server
