package filter

import (
	"github.com/samber/do/v2"

	"github.com/calldeck/callscribe/internal/config"
	"github.com/calldeck/callscribe/internal/filter"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (filter.Hook, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewHTTPHook(cfg.FilterHookURL), nil
	})
}
