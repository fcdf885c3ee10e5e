// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, and request middleware shared by the
// gate API surface.
package httputil
