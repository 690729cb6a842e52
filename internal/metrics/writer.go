package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesWritten tracks frames accepted by the encoder.
	FramesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frameio_writer_frames_total",
		Help: "Total frames accepted by the encoder",
	})

	// WriterBytesIn tracks raw input bytes fed to the encoder.
	WriterBytesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frameio_writer_bytes_input_total",
		Help: "Total raw bytes fed to the encoder",
	})

	// WriterErrors tracks writer-side failures by error kind.
	WriterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frameio_writer_errors_total",
		Help: "Writer-side failures by error kind",
	}, []string{"kind"})
)
