package config

import (
	"github.com/randalmurphal/salespipe/pkg/salespipe"
	errs "github.com/randalmurphal/salespipe/pkg/salespipe/errors"
)

// RetryConfig converts the retry section into a retry policy. Unset
// fields keep the defaults.
func (r Retry) RetryConfig() errs.RetryConfig {
	var opts []errs.RetryOption
	if r.MaxAttempts > 0 {
		opts = append(opts, errs.WithMaxAttempts(r.MaxAttempts))
	}
	if r.InitialBackoff > 0 {
		opts = append(opts, errs.WithInitialBackoff(r.InitialBackoff.Std()))
	}
	if r.MaxBackoff > 0 {
		opts = append(opts, errs.WithMaxBackoff(r.MaxBackoff.Std()))
	}
	if r.BackoffFactor > 0 {
		opts = append(opts, errs.WithBackoffFactor(r.BackoffFactor))
	}
	if r.Jitter > 0 {
		opts = append(opts, errs.WithJitter(r.Jitter))
	}
	return errs.NewRetryConfig(opts...)
}

// EngineOptions converts the engine section into engine options. The
// caller appends wiring options (bus, logger, stores) on top.
func (f *File) EngineOptions() []salespipe.Option {
	opts := []salespipe.Option{
		salespipe.WithRetry(f.Engine.Retry.RetryConfig()),
	}
	if f.Engine.Workers > 0 {
		opts = append(opts, salespipe.WithWorkers(f.Engine.Workers))
	}
	if f.Engine.QueueCapacity > 0 {
		opts = append(opts, salespipe.WithQueueCapacity(f.Engine.QueueCapacity))
	}
	return opts
}
