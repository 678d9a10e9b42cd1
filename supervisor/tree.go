// Package supervisor runs the long-lived services of the API under a suture
// tree. Failures are logged with zerolog and counted per service.
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"pledgesite/api/logging"
	"pledgesite/api/metrics"
)

type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff. Default: 5
	FailureThreshold float64
	// FailureDecay is the rate at which failures decay in seconds. Default: 30
	FailureDecay float64
	// FailureBackoff is the wait once the threshold is exceeded. Default: 15s
	FailureBackoff time.Duration
	// ShutdownTimeout bounds how long each service may take to stop. Default: 10s
	ShutdownTimeout time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree has two layers:
//   - data: change listener, analytics sink, tracking dispatcher, badger GC
//   - api: dashboard aggregator, rate limiter cleanup, HTTP server
//
// A crash in the data layer does not take the HTTP server down.
type Tree struct {
	root *suture.Supervisor
	data *suture.Supervisor
	api  *suture.Supervisor
}

func NewTree(config TreeConfig) *Tree {
	defaults := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = defaults.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = defaults.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	rootSpec := suture.Spec{
		EventHook:        EventHook(logging.With("supervisor")),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	// Children inherit the root's EventHook when added.
	childSpec := rootSpec
	childSpec.EventHook = nil

	root := suture.New("pledgesite", rootSpec)
	data := suture.New("data-layer", childSpec)
	api := suture.New("api-layer", childSpec)
	root.Add(data)
	root.Add(api)

	return &Tree{root: root, data: data, api: api}
}

func (t *Tree) AddDataService(svc suture.Service) suture.ServiceToken {
	return t.data.Add(svc)
}

func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve blocks until ctx is cancelled and every service has stopped.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// EventHook logs supervisor events and counts restarts.
func EventHook(log zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		switch ev := e.(type) {
		case suture.EventServiceTerminate:
			if ev.Restarting {
				metrics.ServiceRestarts.WithLabelValues(ev.ServiceName).Inc()
			}
			log.Warn().
				Str("supervisor", ev.SupervisorName).
				Str("service", ev.ServiceName).
				Interface("error", ev.Err).
				Bool("restarting", ev.Restarting).
				Float64("failures", ev.CurrentFailures).
				Msg("service terminated")
		case suture.EventServicePanic:
			if ev.Restarting {
				metrics.ServiceRestarts.WithLabelValues(ev.ServiceName).Inc()
			}
			log.Error().
				Str("supervisor", ev.SupervisorName).
				Str("service", ev.ServiceName).
				Str("panic", ev.PanicMsg).
				Str("stack", ev.Stacktrace).
				Bool("restarting", ev.Restarting).
				Msg("service panicked")
		case suture.EventBackoff:
			log.Warn().Str("supervisor", ev.SupervisorName).Msg("supervisor entering backoff")
		case suture.EventResume:
			log.Info().Str("supervisor", ev.SupervisorName).Msg("supervisor resumed")
		case suture.EventStopTimeout:
			log.Error().
				Str("supervisor", ev.SupervisorName).
				Str("service", ev.ServiceName).
				Msg("service did not stop in time")
		default:
			log.Info().Fields(e.Map()).Msg(e.String())
		}
	}
}
