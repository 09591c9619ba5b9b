package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/subszero0/meme-maker/internal/transport"

	"golang.org/x/sync/errgroup"
)

type app struct {
	di  *dependencyInjector
	srv *http.Server
}

func New(ctx context.Context) *app {
	di := newDI()
	di.Logger()
	mux := http.NewServeMux()
	return &app{
		di: di,
		srv: &http.Server{
			Addr: di.Config().Addr,
			Handler: transport.WithRecover(
				transport.LogMiddleware(
					di.Router(ctx).MountRoutes(mux),
				),
			),
		},
	}
}

// Run starts the HTTP server, the worker pool and the janitor, and blocks
// until ctx is cancelled or the server fails.
func (a *app) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		slog.Info("starting server", slog.String("addr", a.srv.Addr))
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", err.Error()))
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.di.Pool(gCtx).Run(gCtx)
		return nil
	})

	g.Go(func() error {
		a.di.Janitor(gCtx).Run(gCtx)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancelShutdown := context.WithTimeout(
			context.Background(),
			a.di.Config().ShutdownTimeout(),
		)
		defer cancelShutdown()

		if err := a.srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", slog.String("error", err.Error()))
			return err
		}
		return nil
	})

	err := g.Wait()

	if a.di.natsQueue != nil {
		a.di.natsQueue.Close()
	}

	if err != nil {
		return err
	}

	slog.Info("server gracefully stopped")
	return nil
}
