// Package config builds the immutable service configuration from defaults,
// an optional YAML file and environment variables, and validates each section.
package config
