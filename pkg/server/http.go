package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"creator-booking/pkg/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ProvideHTTPServer = fx.Module("http.server",
	fx.Provide(NewHttpServer),
	fx.Invoke(Run),
)

type Server struct {
	server          *http.Server
	certs           *certReloader
	shutdownTimeout time.Duration
}

type Params struct {
	fx.In
	Config  *config.Config
	Handler *gin.Engine
}

func NewHttpServer(p Params) (*Server, error) {
	cfg := p.Config
	srv := &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.Server.Addr),
			Handler:           p.Handler,
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
			IdleTimeout:       cfg.Server.IdleTimeout,
			MaxHeaderBytes:    1 << 16,
		},
		shutdownTimeout: cfg.Server.ShutdownTimeout,
	}

	if !cfg.TLS.Enable {
		return srv, nil
	}

	certs, err := newCertReloader(cfg.TLS.CertPath, cfg.TLS.KeyPath)
	if err != nil {
		return nil, err
	}
	srv.certs = certs
	srv.server.TLSConfig = &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: certs.GetCertificate,
	}

	return srv, nil
}

func Run(lc fx.Lifecycle, srv *Server) {
	watchCtx, stopWatch := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.server.Addr)
			if err != nil {
				stopWatch()
				return err
			}

			if srv.certs != nil {
				go srv.certs.watch(watchCtx)
				ln = tls.NewListener(ln, srv.server.TLSConfig)
			}
			zap.L().Info("[HTTP] listening",
				zap.String("addr", srv.server.Addr),
				zap.Bool("tls", srv.certs != nil),
			)

			go func() {
				if err := srv.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					zap.L().Error("[HTTP] server stopped", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopWatch()
			if srv.shutdownTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, srv.shutdownTimeout)
				defer cancel()
			}
			zap.L().Info("[HTTP] draining in-flight requests")
			return srv.server.Shutdown(ctx)
		},
	})
}
