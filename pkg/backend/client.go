package backend

import (
	"net"
	"net/http"
	"time"
)

// newHTTPClient builds a connection-pooling client sized for a single
// backend host, narrowed to two timeouts: a dial-class connect timeout
// and an end-to-end read timeout.
func newHTTPClient(connectTimeout, readTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        32,
		MaxIdleConnsPerHost:  8,
		IdleConnTimeout:      90 * time.Second,
		TLSHandshakeTimeout:  connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   readTimeout,
	}
}
