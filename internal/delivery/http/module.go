package http

import (
	"go.uber.org/fx"

	"sign-vrtl/internal/delivery/http/handler"
	"sign-vrtl/internal/delivery/http/router"
)

var Module = fx.Module("http",
	fx.Provide(
		handler.NewSignRequestHandler,
		handler.NewSignerHandler,
		handler.NewHealthHandler,
		router.NewRouter,
	),
)
