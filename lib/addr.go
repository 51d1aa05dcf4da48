package lib

import (
	"net/url"
	"strings"

	"github.com/gravitational/trace"
)

// AddrToURL turns a backend address into a base URL. A bare host defaults to
// https, and a redundant :443 port is stripped so derived URLs stay canonical.
func AddrToURL(addr string) (*url.URL, error) {
	if !strings.Contains(addr, "://") {
		addr = "https://" + addr
	}
	result, err := url.Parse(addr)
	if err != nil {
		return nil, trace.Wrap(err, "parsing backend address %q", addr)
	}
	if result.Scheme == "https" && result.Port() == "443" {
		result.Host = result.Hostname()
	}
	return result, nil
}
