package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 3 * time.Second

func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ServerAddr())
	if err != nil {
		return err
	}
	return s.RunListener(ctx, ln)
}

func (s *Server) RunListener(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	httpServer := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		s.logger.Infof("sitechat backend listening on http://%s", ln.Addr())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.hub.CancelAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if path := s.cfg.Server.SocketPath; path != "" {
		g.Go(func() error {
			s.logger.Infof("json-rpc listening on unix:%s", path)
			return s.ServeUnix(ctx, path)
		})
	}
	return g.Wait()
}
