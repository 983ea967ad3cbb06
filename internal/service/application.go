package service

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/fx"

	"sign-vrtl/internal/config"
	deliveryhttp "sign-vrtl/internal/delivery/http"
	"sign-vrtl/internal/infrastructure/certificate"
	"sign-vrtl/internal/infrastructure/document"
	"sign-vrtl/internal/infrastructure/geoip"
	"sign-vrtl/internal/infrastructure/lock"
	"sign-vrtl/internal/infrastructure/logger"
	"sign-vrtl/internal/infrastructure/mailer"
	"sign-vrtl/internal/infrastructure/redis"
	"sign-vrtl/internal/infrastructure/repository"
	"sign-vrtl/internal/scheduler"
	"sign-vrtl/internal/server"
	"sign-vrtl/internal/usecase"
)

// Options is the full module graph. The console entry point and the Windows service
// share it.
func Options(extra ...fx.Option) fx.Option {
	return fx.Options(
		fx.Options(extra...),

		// Configuration
		config.Module,

		// Infrastructure
		logger.Module,
		redis.Module,
		lock.Module,
		geoip.Module,
		document.Module,
		certificate.Module,
		mailer.Module,
		repository.Module,

		// Business Logic
		usecase.Module,
		scheduler.Module,

		// Delivery
		deliveryhttp.Module,

		// Server
		server.Module,
	)
}

// Application runs the module graph under a service manager or a console
type Application struct {
	app      *fx.App
	ctx      context.Context
	cancel   context.CancelFunc
	ready    chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	err      error
}

func NewApplication() *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run blocks until SIGINT, SIGTERM or Shutdown. Ready is closed once every start hook
// has returned.
func (a *Application) Run() error {
	defer close(a.done)

	a.app = fx.New(Options(fx.Provide(func() context.Context { return a.ctx })))
	if err := a.app.Start(a.ctx); err != nil {
		a.err = err
		return err
	}
	close(a.ready)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
	case <-a.ctx.Done():
	}
	return a.stop()
}

// Shutdown stops the application and waits for Run to return
func (a *Application) Shutdown() error {
	a.cancel()
	<-a.done
	return a.err
}

func (a *Application) stop() error {
	a.stopOnce.Do(func() {
		a.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), a.app.StopTimeout())
		defer cancel()
		a.err = a.app.Stop(ctx)
	})
	return a.err
}

func (a *Application) Ready() <-chan struct{} { return a.ready }

func (a *Application) Done() <-chan struct{} { return a.done }
