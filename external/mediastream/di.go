package mediastream

import (
	"github.com/samber/do/v2"

	"github.com/calldeck/callscribe/internal/mediastream"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (mediastream.Source, error) {
		return NewWebsocketSource(), nil
	})
}
