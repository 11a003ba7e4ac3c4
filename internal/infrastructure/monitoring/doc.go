/*
Package monitoring provides Prometheus metrics for the server.

# Overview

Metrics live on a private registry per Metrics instance and cover HTTP
requests, channel round trips, skeleton commands and live resources,
mounted filesystems and WebSocket connections. Every recording method is
safe to call on a nil *Metrics, so components take metrics as an optional
dependency.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "stat")
	// ... serve the command ...
	timer.Stop("ok")
*/
package monitoring
