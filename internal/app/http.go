package app

import (
    "net"
    "net/http"
    "time"
)

// newHTTPClient returns a client with bounded dial and handshake timeouts.
// Per-request deadlines are applied by the callers through contexts, so the
// client-wide timeout only guards against hung transfers.
func newHTTPClient(timeout time.Duration) *http.Client {
    transport := &http.Transport{
        Proxy: http.ProxyFromEnvironment,
        DialContext: (&net.Dialer{
            Timeout:   10 * time.Second,
            KeepAlive: 30 * time.Second,
        }).DialContext,
        ForceAttemptHTTP2:     true,
        MaxIdleConnsPerHost:   16,
        IdleConnTimeout:       90 * time.Second,
        TLSHandshakeTimeout:   10 * time.Second,
        ExpectContinueTimeout: 1 * time.Second,
    }
    if timeout <= 0 {
        timeout = 2 * time.Minute
    }
    return &http.Client{Transport: transport, Timeout: timeout}
}
