package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/mastercactapus/glaser/machine"
)

func withCORS(log *zap.Logger, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		log.Debug("request", zap.String("method", req.Method), zap.String("path", req.URL.Path), zap.String("remote", req.RemoteAddr))
		h.ServeHTTP(w, req)
	})
}

var serveCmd = command{
	usage: "serve: run the HTTP control API",
	flags: func(fs *pflag.FlagSet) {
		serialFlags(fs)
		optimizeFlags(fs)
		fs.String("addr", "", "Address to bind the server to.")
		fs.String("dir", "", "Data directory to use.")
	},
	run: func(ctx context.Context, e *env, fs *pflag.FlagSet) error {
		events := newEvents(e.log)
		defer events.Shutdown()

		obs := machine.Observers{
			eventObserver{sse: events, log: e.log},
			machine.LogObserver{Logger: e.log},
		}
		c, err := openController(e, obs)
		if err != nil {
			return err
		}
		defer c.Close()

		a := newAPI(machine.NewMachine(c), e.cfg, events, e.log)
		srv := &http.Server{Addr: e.cfg.HTTP.Addr, Handler: withCORS(e.log, a)}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		e.log.Info("listening", zap.String("addr", e.cfg.HTTP.Addr), zap.String("dir", e.cfg.HTTP.Dir))

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		if s := c.Session(); !s.State.Done() && s.State != machine.SessionIdle {
			e.log.Warn("stopping running session", zap.String("id", s.ID))
			c.Stop()
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}
