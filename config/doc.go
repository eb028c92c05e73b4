// Package config loads and validates the bus server configuration.
//
// Configuration is layered: built-in defaults, then one or more JSON files
// merged in order, then environment variable overrides with the ERRAI_
// prefix. Duration fields accept Go duration strings ("30m", "2s") in the
// JSON files.
//
// File access is defensive: paths are checked for traversal, size is capped,
// and JSON nesting depth is bounded before parsing.
package config
