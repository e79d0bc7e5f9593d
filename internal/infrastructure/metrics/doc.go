// Package metrics serves the Prometheus scrape endpoint and a health report.
//
// The presence package registers its collectors with promauto on the
// default registry; Server exposes them at metrics.path (default /metrics)
// together with HealthPath, a JSON report of the registered checks that
// answers 503 when any check fails.
//
//	srv, err := metrics.NewServer(cfg.Metrics, nil, logger)
//	if err != nil {
//	    return err
//	}
//	srv.AddCheck("database", db.HealthCheck)
//	go srv.Run(ctx)
package metrics
