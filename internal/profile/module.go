package profile

import (
	"go.uber.org/fx"
)

// Module provides the profile enricher dependencies
var Module = fx.Options(
	fx.Provide(
		NewEnricher,
	),
)
