package provider

import (
	"go.uber.org/fx"
)

// Module provides the identity-provider client dependencies
var Module = fx.Options(
	fx.Provide(
		NewHTTPClient,
		func(c *HTTPClient) Client { return c },
		func(c *HTTPClient) *Recorder { return c.Recorder() },
	),
)
