package gateway

import (
	"strings"

	"github.com/holdwallet/gateway/lib/stringset"
)

// DefaultCollectionPaths are the collection endpoints that must carry a
// trailing slash. Hitting them without one makes the backend answer with a
// redirect that iOS Safari follows while dropping the Authorization header.
var DefaultCollectionPaths = []string{
	"/users",
	"/wallets",
	"/trades",
	"/transactions",
	"/fees",
	"/p2p/orders",
}

// NormalizePath appends a trailing slash to exact matches of the collection
// allow-list. Sub-paths and requests carrying a query string are left
// untouched.
func NormalizePath(path string, collections stringset.StringSet, hasQuery bool) string {
	if hasQuery || strings.Contains(path, "?") {
		return path
	}
	if collections.Contains(path) {
		return path + "/"
	}
	return path
}
