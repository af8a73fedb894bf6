// Package config loads the collector configuration from defaults, an optional
// YAML/TOML/JSON file and COLLECTOR_-prefixed environment variables, and
// validates it with struct tags.
package config
