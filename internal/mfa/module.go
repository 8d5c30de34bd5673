package mfa

import (
	"go.uber.org/fx"

	"github.com/Ilkenza/siteorg-auth/internal/provider"
)

// Module provides the MFA coordinator dependencies
var Module = fx.Options(
	fx.Provide(
		func(r *provider.Recorder) Recorder { return r },
		NewCoordinator,
	),
)
