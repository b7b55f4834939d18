package app

import (
	"net"
	"strings"
)

// curlHost turns a listen address into something a user can paste into curl.
// Wildcard and empty hosts become localhost.
func curlHost(listenAddr string) string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return "localhost:8080"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
