package monitoring

import (
	"context"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"reimage/internal/logging"
)

// Serve exposes registry on bind until ctx is done. The returned channel
// closes once the server has stopped.
func Serve(ctx context.Context, bind string, registry *prometheus.Registry, log *logging.Logger) (<-chan struct{}, error) {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, err
	}
	return ServeListener(ctx, ln, registry, log), nil
}

func ServeListener(ctx context.Context, ln net.Listener, registry *prometheus.Registry, log *logging.Logger) <-chan struct{} {
	server := fasthttp.Server{
		Handler: fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			Registry:          registry,
			EnableOpenMetrics: true,
		})),
		GetOnly:          true,
		DisableKeepalive: true,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Infow("monitoring enabled",
			"bind", ln.Addr().String(),
		)
		if err := server.Serve(ln); err != nil {
			log.Errorw("monitoring server stopped",
				"error", err,
			)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = server.Shutdown()
	}()
	return done
}
