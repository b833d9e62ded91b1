package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/annel0/world-templates/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer HTTP-эндпоинт Prometheus /metrics
type MetricsServer struct {
	srv *http.Server
	ln  net.Listener
}

// StartMetricsServer слушает addr (например ":2112") и отдаёт метрики из gatherer.
// gatherer == nil означает prometheus.DefaultGatherer. Метод неблокирующий.
func StartMetricsServer(addr string, gatherer prometheus.Gatherer) (*MetricsServer, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	ms := &MetricsServer{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}
	go func() {
		logging.Info("📈 Prometheus /metrics доступен по адресу %s", ln.Addr())
		if err := ms.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()
	return ms, nil
}

// Addr фактический адрес сервера
func (m *MetricsServer) Addr() string {
	return m.ln.Addr().String()
}

// Shutdown останавливает HTTP-сервер
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
