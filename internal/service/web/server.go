package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"jobcrawl_nexus/internal/shared/logger"
	"jobcrawl_nexus/internal/shared/types"
)

// --- DIAGNOSTIC HELPER: A listener that logs accepted connections ---
type loggingListener struct {
	net.Listener
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		log := logger.WithComponent("Web/Server")
		log.Debug().Msgf("Connection accepted from: %s", conn.RemoteAddr())
	}
	return conn, err
}

// basicAuthMiddleware 检查 user 和 password 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	// 如果用户名或密码未设置，则不启用认证，直接返回原始处理器
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewMux 注册所有路由。/api/status 与 /ws 公开，其余需要认证。
func NewMux(cfg types.WebConf, handler *Handler, hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	auth := func(h http.HandlerFunc) http.Handler {
		return basicAuthMiddleware(h, cfg.User, cfg.Password)
	}

	mux.Handle("GET /api/runs", auth(handler.HandleRuns))
	mux.Handle("GET /api/runs/{id}", auth(handler.HandleRun))
	mux.Handle("GET /api/proxies", auth(handler.HandleProxies))
	mux.Handle("POST /api/proxies/refresh", auth(handler.HandleRefreshProxies))

	mux.HandleFunc("GET /api/status", handler.HandleStatus)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	})
	return mux
}

// Server is the monitor HTTP server.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// StartServer 启动监控服务。port 为 0 时不启动，返回 nil。
func StartServer(wg *sync.WaitGroup, cfg types.WebConf, handler *Handler, hub *Hub) (*Server, error) {
	l := logger.WithComponent("Web/Server")
	if cfg.Port <= 0 {
		l.Info().Msg("Monitor is disabled (port is 0 or not set).")
		return nil, nil
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	s := &Server{
		srv: &http.Server{Handler: NewMux(cfg, handler, hub)},
		ln:  ln,
	}
	l.Info().Msgf("Monitor is listening on http://%s", ln.Addr())

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.srv.Serve(loggingListener{Listener: ln}); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error().Err(err).Msg("Web server error.")
		}
		l.Info().Msg("Web server stopped.")
	}()
	return s, nil
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
