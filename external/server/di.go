package server

import (
	"github.com/samber/do/v2"

	"github.com/calldeck/callscribe/internal/config"
	"github.com/calldeck/callscribe/internal/worker"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		w := do.MustInvoke[*worker.Worker](i)
		return New(cfg, w), nil
	})
}
