package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nhirsama/goster-zk/src/inter"
	"github.com/nhirsama/goster-zk/src/metrics"
	"github.com/sirupsen/logrus"
)

const DefaultAddr = ":8080"

const shutdownTimeout = 5 * time.Second

type webServer struct {
	dataStore     inter.DataStore
	deviceManager inter.DeviceManager
	addr          string
	log           logrus.FieldLogger
}

// NewWebServer 创建一个新的 web 服务器实例
func NewWebServer(ds inter.DataStore, dm inter.DeviceManager, addr string, log logrus.FieldLogger) inter.WebServer {
	if addr == "" {
		addr = DefaultAddr
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &webServer{
		dataStore:     ds,
		deviceManager: dm,
		addr:          addr,
		log:           log,
	}
}

// Handler 返回注册好全部路由的 mux
func (ws *webServer) Handler() http.Handler {
	mux := http.NewServeMux()
	ws.registerRoutes(mux)
	return instrument(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument 按路由模式统计请求，未匹配的路径归为一类
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(r.Method, route, rec.status, time.Since(start))
	})
}

// Start 启动标准 HTTP 服务器，ctx 结束后优雅关闭
func (ws *webServer) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ws.addr,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		ws.log.WithField("addr", ws.addr).Info("Web: 正在启动 HTTP 服务")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	ws.log.Info("Web: HTTP 服务已关闭")
	return nil
}

func (ws *webServer) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/terminals", ws.terminalListHandler)
	mux.HandleFunc("GET /api/terminals/{name}/users", ws.userListHandler)
	mux.HandleFunc("GET /api/terminals/{name}/attendance", ws.attendanceHandler)
	mux.HandleFunc("GET /api/terminals/{name}/runs", ws.syncRunsHandler)
	mux.HandleFunc("POST /api/terminals/{name}/unlock", ws.unlockHandler)
	mux.HandleFunc("POST /api/terminals/{name}/sync", ws.syncHandler)
	mux.Handle("GET /metrics", metrics.Handler())
}
