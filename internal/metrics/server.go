package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ServedFrames tracks frames served over HTTP by encoding.
	ServedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frameio_server_frames_served_total",
		Help: "Frames served over HTTP by response encoding",
	}, []string{"encoding"}) // encoding: "png" | "raw"

	// CatalogSize tracks the number of videos known to the server.
	CatalogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "frameio_server_catalog_videos",
		Help: "Number of videos currently in the catalog",
	})

	// OpenSessions tracks currently open read sessions held by the server.
	OpenSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "frameio_server_open_sessions",
		Help: "Currently open read sessions",
	})
)
