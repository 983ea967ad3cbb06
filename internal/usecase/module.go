package usecase

import "go.uber.org/fx"

var Module = fx.Module("usecase",
	fx.Provide(NewClock),
	fx.Provide(NewTxRunner),
	fx.Provide(NewLinkSigner),
	fx.Provide(NewSignatureValidator),
	fx.Provide(NewAuditUsecase),
	fx.Provide(NewNotificationUsecase),
	fx.Provide(NewSignRequestUsecase),
	fx.Provide(provideItemEventHandler),
	fx.Provide(NewSignItemUsecase),
	fx.Provide(NewReminderUsecase),
	fx.Provide(NewAccessUsecase),
)

// item transitions are reported to the request state machine
func provideItemEventHandler(requests SignRequestUsecase) ItemEventHandler {
	return requests
}
