package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/db-monitor/pkg/auth"
	"github.com/db-monitor/pkg/config"
	log "github.com/db-monitor/pkg/logger"
)

// Server HTTP服务实例，封装核心依赖和配置
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	server   *http.Server
	registry prometheus.Gatherer
	router   *mux.Router
	api      *API
	auth     *auth.JWTAuth
}

// statusWriter 包装ResponseWriter，捕获状态码
type statusWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获状态码
func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// NewHTTPServer 创建HTTP服务实例
func NewHTTPServer(cfg *config.Config, logger *zap.Logger, registry prometheus.Gatherer, api *API, jwtAuth *auth.JWTAuth) *Server {
	srv := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		router:   mux.NewRouter(),
		api:      api,
		auth:     jwtAuth,
	}

	// 注册核心端点
	srv.registerEndpoints()

	srv.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return srv
}

// Handler 完整的中间件链：日志 -> CORS -> 路由
func (s *Server) Handler() http.Handler {
	return s.logMiddleware(s.corsMiddleware(s.router))
}

// logMiddleware 统一日志记录
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		s.logger.Info(
			"HTTP request",
			zap.String("method", r.Method),
			zap.String("url", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// corsMiddleware 允许前端带 Cookie 跨域
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origin := s.cfg.Auth.AllowedOrigin
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin != "" && r.Header.Get("Origin") == origin {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// registerEndpoints 注册核心路由
func (s *Server) registerEndpoints() {
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)

	// /metrics 端点
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(s.logger),
	})).Methods(http.MethodGet)

	// /health 端点
	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	apiRouter := s.router.PathPrefix("/api").Subrouter()
	apiRouter.Use(s.auth.Middleware)
	s.api.Register(apiRouter)
}

const indexHTML = `<!DOCTYPE html>
<html lang="zh-CN">
<head>
	<meta charset="UTF-8">
	<title>DB Monitor</title>
	<style>
		body { font-family: Arial, sans-serif; margin: 40px; }
		h1 { color: #333; }
		a { display: block; margin: 8px 0; font-size: 18px; }
	</style>
</head>
<body>
	<h1>DB Monitor Service</h1>
	<p>Service is running.</p>
	<h2>Available Endpoints:</h2>
	<a href="/health">/health - 健康检查</a>
	<a href="/metrics">/metrics - Prometheus 指标暴露</a>
	<a href="/api/metrics">/api/metrics - 近期样本（需登录）</a>
	<a href="/api/databases">/api/databases - 已注册目标（需登录）</a>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(indexHTML))
}

// Start 启动HTTP服务（非阻塞）
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("listen_addr", s.cfg.Server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown 优雅关闭HTTP服务
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logger.Warn("shutdown timeout exceeded")
			return nil
		}
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server shutdown successfully")
	return nil
}

// WaitForShutdown 监听退出信号
func WaitForShutdown(shutdownFunc func() error) {
	if shutdownFunc == nil {
		log.Error("shutdownFunc is nil, cannot execute shutdown")
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	log.Info("service running, waiting for SIGINT/SIGTERM...")

	sig := <-sigChan
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	if err := shutdownFunc(); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	} else {
		log.Info("graceful shutdown completed successfully")
	}
}
