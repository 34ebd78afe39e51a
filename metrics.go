package meff

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServeMetrics starts a background HTTP server exposing the default
// Prometheus registry (queue depth, heartbeats, drops, files stored)
// at addr. It is an ambient observability concern every long-running
// peer process carries. The server runs for the life of the process; there is no
// Shutdown hook because nothing in the Request API has a matching
// lifecycle event to trigger one from.
func (c *Client) ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	server := &http.Server{Handler: mux}
	go func() {
		_ = server.Serve(ln)
	}()
	return nil
}
