package assurance

import (
	"go.uber.org/fx"
)

// Module provides the assurance gate dependencies
var Module = fx.Options(
	fx.Provide(
		NewGate,
	),
)
