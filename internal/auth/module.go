package auth

import (
	"go.uber.org/fx"
)

// Module provides the auth facade and binds it to the application
// lifecycle so startup acquisition begins with the process and the
// session store shuts down with it.
var Module = fx.Options(
	fx.Provide(
		NewFacade,
	),
	fx.Invoke(func(lc fx.Lifecycle, f *Facade) {
		lc.Append(fx.Hook{
			OnStart: f.Start,
			OnStop:  f.Stop,
		})
	}),
)
