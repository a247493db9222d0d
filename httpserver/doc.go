/*
Package httpserver serves the registry DID document over HTTP.

The document is built once from the bootstrapped identity and served as
immutable bytes. A did:web identifier for host example.org resolves to
https://example.org/.well-known/did.json; the same document is served at /.

# Endpoints

  - GET / - DID document
  - GET /.well-known/did.json - DID document
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready
  - /debug/* - pprof, when enabled

Prometheus metrics are exposed on a separate listener at /metrics.

# Example Usage

	doc, err := diddoc.Build(agent)
	if err != nil {
		return err
	}
	handler, err := httpserver.NewHandler(doc, log)
	if err != nil {
		return err
	}

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               "0.0.0.0:8080",
		MetricsAddr:              "0.0.0.0:8090",
		Log:                      log,
		DrainDuration:            45 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}, handler)
	if err != nil {
		return err
	}
	srv.RunInBackground()
	defer srv.Shutdown()

With TLS set, the server generates a short-lived self-signed CA at startup
and serves HTTPS with it.
*/
package httpserver
