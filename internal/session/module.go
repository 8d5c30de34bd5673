package session

import (
	"go.uber.org/fx"
)

// Module provides the session store dependencies
var Module = fx.Options(
	fx.Provide(
		NewStore,
	),
)
