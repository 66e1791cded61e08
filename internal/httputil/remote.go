package httputil

import (
	"net"
	"net/http"
)

// RemoteHost returns the client address without its port, so every
// connection from one address shares a budget. chi's RealIP has already
// applied proxy headers to RemoteAddr.
func RemoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
