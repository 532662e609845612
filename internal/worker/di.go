package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"

	"github.com/calldeck/callscribe/internal/artifact"
	"github.com/calldeck/callscribe/internal/config"
	"github.com/calldeck/callscribe/internal/filter"
	"github.com/calldeck/callscribe/internal/mediastream"
	"github.com/calldeck/callscribe/internal/metrics"
	"github.com/calldeck/callscribe/internal/recorder"
	"github.com/calldeck/callscribe/internal/transcribe"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*metrics.Metrics, error) {
		return metrics.New(prometheus.DefaultRegisterer), nil
	})
	do.Provide(injector, func(i do.Injector) (*Worker, error) {
		cfg := do.MustInvoke[*config.Config](i)
		source := do.MustInvoke[mediastream.Source](i)
		streamer := do.MustInvoke[transcribe.Streamer](i)
		store := do.MustInvoke[recorder.EventStore](i)
		bus := do.MustInvoke[recorder.EventBus](i)
		artifacts := do.MustInvoke[*artifact.Writer](i)
		hook := do.MustInvoke[filter.Hook](i)
		m := do.MustInvoke[*metrics.Metrics](i)
		return New(cfg, source, streamer, store, bus, artifacts, hook, m), nil
	})
}
