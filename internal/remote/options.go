package remote

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/infrastructure/monitoring"
)

type options struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// Option configures a Skeleton or Stub
type Option func(*options)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics enables command metrics
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
