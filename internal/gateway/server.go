package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/orderhub/pkg/authz"
	"github.com/nao1215/orderhub/pkg/middleware"
	"github.com/nao1215/orderhub/pkg/response"
)

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサービス設定。
	cfg Config
	// limiter はクライアントIP単位のレートリミッター。
	limiter *middleware.RateLimiter
	// httpClient は内部サービスへの転送に使用するHTTPクライアント。
	// コネクションプールを全リクエストで共有する。
	httpClient *http.Client
}

// hopByHopHeaders は転送してはならないホップバイホップヘッダーの一覧。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Host":                {},
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg Config) (*Server, error) {
	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitPerMinute))

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(middleware.RequestID())
	// レート制限はルーティング・認証より前に適用する。
	// 超過したリクエストは下流に一切到達しない。
	router.Use(limiter.Middleware())

	s := &Server{
		router:  router,
		cfg:     cfg,
		limiter: limiter,
		httpClient: &http.Client{
			Timeout: cfg.UpstreamTimeout,
		},
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.cfg.Port))
}

// Stop はバックグラウンドのリソースを解放する。
func (s *Server) Stop() {
	s.limiter.Stop()
}

// setupRoutes はAPIルーティングを設定する。
// ヘルスチェック以外のすべてのリクエストはhandleRouteで
// パスプレフィックスに基づき内部サービスへ転送する。
func (s *Server) setupRoutes() {
	// ヘルスチェックはGateway自身が応答する
	s.router.GET("/health", func(c *gin.Context) {
		response.OK(c, http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})

	s.router.NoRoute(s.handleRoute())
}

// handleRoute は転送先の解決・認証判定・プロキシを行うハンドラを返す。
//
// 転送先はパスプレフィックスで決定する。認証が必要なルートでは
// Bearerトークンを検証し、失敗時は下流を呼び出さずに401を返す。
// 検証に成功してもクレームをヘッダーに注入せず、元のAuthorization
// ヘッダーをそのまま転送して内部サービスに独立再検証させる。
func (s *Server) handleRoute() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		var upstreamBase string
		switch {
		case path == "/v1/users" || strings.HasPrefix(path, "/v1/users/"):
			upstreamBase = s.cfg.UsersServiceURL
		case path == "/v1/orders" || strings.HasPrefix(path, "/v1/orders/"):
			upstreamBase = s.cfg.OrdersServiceURL
		default:
			response.Fail(c, http.StatusNotFound, response.CodeNotFound, "ルートが見つかりません")
			return
		}

		if authz.RequiresAuth(c.Request.Method, path) {
			token := middleware.BearerToken(c.GetHeader("Authorization"))
			if token == "" {
				response.Fail(c, http.StatusUnauthorized, response.CodeUnauthorized, "トークンが欠落しているか不正です")
				return
			}
			if _, err := middleware.VerifyToken(token, s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.JWTAudience); err != nil {
				response.Fail(c, http.StatusUnauthorized, response.CodeUnauthorized, "トークンが欠落しているか不正です")
				return
			}
		}

		s.doProxy(c, upstreamBase)
	}
}

// doProxy はリクエストを内部サービスに転送する。
// メソッド・パス・クエリ・ボディは変更せずそのまま転送し、
// ホップバイホップヘッダーを除去したうえで相関IDヘッダーを付与する。
// レスポンスのステータスコード・Content-Type・ボディはそのまま中継する。
func (s *Server) doProxy(c *gin.Context, upstreamBase string) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.CodeValidationError, "リクエストボディの読み取りに失敗しました")
		return
	}

	upstreamURL := upstreamBase + c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		upstreamURL += "?" + c.Request.URL.RawQuery
	}

	// クライアント切断時は元リクエストのコンテキスト経由で
	// 転送中の呼び出しも中断される。
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, upstreamURL, bytes.NewReader(body))
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "転送リクエストの作成に失敗しました")
		log.Printf("プロキシリクエスト作成エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
		return
	}

	for name, values := range c.Request.Header {
		if _, hop := hopByHopHeaders[http.CanonicalHeaderKey(name)]; hop {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set(middleware.HeaderRequestID, middleware.GetRequestID(c))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// 自動リトライは行わない。ボディが安全に再送可能とは限らないため、
		// 失敗は単一のGatewayエラーとして呼び出し元に返す。
		if isTimeout(err) {
			response.Fail(c, http.StatusGatewayTimeout, response.CodeUpstreamTimeout, "内部サービスが時間内に応答しませんでした")
		} else {
			response.Fail(c, http.StatusBadGateway, response.CodeUpstreamUnavailable, "内部サービスとの通信に失敗しました")
		}
		log.Printf("プロキシエラー: request_id=%s, url=%s, error=%v", middleware.GetRequestID(c), upstreamURL, err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		response.Fail(c, http.StatusBadGateway, response.CodeUpstreamUnavailable, "内部サービスのレスポンスの読み取りに失敗しました")
		log.Printf("レスポンス読み取りエラー: request_id=%s, url=%s, error=%v", middleware.GetRequestID(c), upstreamURL, err)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, respBody)
}

// isTimeout はエラーが転送タイムアウトによるものかを判定する。
func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
