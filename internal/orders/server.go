package orders

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nao1215/orderhub/pkg/authz"
	"github.com/nao1215/orderhub/pkg/event"
	"github.com/nao1215/orderhub/pkg/httpclient"
	"github.com/nao1215/orderhub/pkg/middleware"
	"github.com/nao1215/orderhub/pkg/response"
)

// Server は注文サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサービス設定。
	cfg Config
	// queries は注文テーブルへのクエリ実行オブジェクト。
	queries *orderQueries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// usersClient はUsersサービスへのHTTPクライアント。所有者存在確認に使用する。
	usersClient *httpclient.Client
	// events はドメインイベントの発行先。
	events event.Sink
}

// NewServer は新しい注文サーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(cfg Config) (*Server, error) {
	// _txlock=immediateにより書き込みトランザクションが開始時点で
	// ロックを取得し、read-modify-writeが直列化される。
	sqlDB, err := sql.Open("sqlite", cfg.DatabasePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.RequestID())

	var sink event.Sink = event.NewLogSink()
	if cfg.EventsWebhookURL != "" {
		sink = event.NewWebhookSink(cfg.EventsWebhookURL)
	}

	s := &Server{
		router:      router,
		cfg:         cfg,
		queries:     newOrderQueries(sqlDB),
		db:          sqlDB,
		usersClient: httpclient.NewWithTimeout(cfg.UsersServiceURL, 5*time.Second),
		events:      sink,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.cfg.Port))
}

// setupRoutes はAPIルーティングを設定する。
// Gatewayが検証済みでも、Bearerトークンをここで独立に再検証する。
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/v1/orders")
	v1.Use(middleware.JWTAuth(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.JWTAudience))
	{
		// 注文作成
		v1.POST("", s.handleCreate())
		// 自身の注文一覧取得
		v1.GET("", s.handleList())
		// 注文詳細取得
		v1.GET("/:id", s.handleGetByID())
		// ステータス更新
		v1.PATCH("/:id/status", s.handleUpdateStatus())
		// キャンセル（冪等）
		v1.POST("/:id/cancel", s.handleCancel())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		response.OK(c, http.StatusOK, gin.H{"status": "ok", "service": "orders"})
	})
}

// orderItem は注文アイテムのJSON構造。
type orderItem struct {
	// Product は商品名。
	Product string `json:"product" binding:"required,min=1"`
	// Quantity は数量。1以上。
	Quantity int `json:"quantity" binding:"required,gte=1"`
}

// createOrderRequest は注文作成リクエストのJSON構造。
type createOrderRequest struct {
	// Items は注文アイテムの一覧。1件以上必須。
	Items []orderItem `json:"items" binding:"required,min=1,dive"`
	// TotalSum は合計金額。0以上。
	TotalSum *float64 `json:"total_sum" binding:"required,gte=0"`
}

// updateStatusRequest はステータス更新リクエストのJSON構造。
type updateStatusRequest struct {
	// Status は要求するステータス。
	Status string `json:"status" binding:"required"`
}

// orderResponse は注文の公開プロジェクション。
type orderResponse struct {
	// ID は注文の一意識別子。
	ID string `json:"id"`
	// UserID は注文の所有者のユーザーID。
	UserID string `json:"user_id"`
	// Items は注文アイテムの一覧。
	Items []orderItem `json:"items"`
	// Status は注文ステータス。
	Status string `json:"status"`
	// TotalSum は合計金額。
	TotalSum float64 `json:"total_sum"`
	// CreatedAt は作成日時。
	CreatedAt string `json:"created_at"`
	// UpdatedAt は更新日時。
	UpdatedAt string `json:"updated_at"`
}

// toOrderResponse はDB行を公開プロジェクションに変換する。
func toOrderResponse(o Order) orderResponse {
	var items []orderItem
	if err := json.Unmarshal([]byte(o.ItemsJSON), &items); err != nil {
		log.Printf("注文アイテムのデシリアライズに失敗: order_id=%s, error=%v", o.ID, err)
		items = []orderItem{}
	}

	return orderResponse{
		ID:        o.ID,
		UserID:    o.UserID,
		Items:     items,
		Status:    o.Status,
		TotalSum:  o.TotalSum,
		CreatedAt: o.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		UpdatedAt: o.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// handleCreate は注文作成を処理するハンドラを返す。
// 所有者の存在をUsersサービスへの同期呼び出しで確認してから永続化し、
// order.createdイベントを発行する。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Fail(c, http.StatusBadRequest, response.CodeValidationError,
				fmt.Sprintf("リクエストが不正です: %v", err))
			return
		}

		if s.cfg.DisableUserCheck {
			// 逃げ道の使用は監査できるよう毎回記録する
			log.Printf("所有者存在チェックをスキップ: user_id=%s, request_id=%s", userID, middleware.GetRequestID(c))
		} else {
			ctx := httpclient.WithRequestID(c.Request.Context(), middleware.GetRequestID(c))
			err := s.usersClient.GetJSON(ctx, "/v1/users/internal/"+userID, nil)
			if err != nil {
				if httpclient.IsStatus(err, http.StatusNotFound) {
					response.Fail(c, http.StatusBadRequest, response.CodeUserNotFound, "ユーザーが存在しません")
					return
				}
				response.Fail(c, http.StatusBadGateway, response.CodeUpstreamUnavailable, "ユーザーサービスとの通信に失敗しました")
				log.Printf("存在確認エラー: user_id=%s, request_id=%s, error=%v", userID, middleware.GetRequestID(c), err)
				return
			}
		}

		itemsJSON, err := json.Marshal(req.Items)
		if err != nil {
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "注文の作成に失敗しました")
			log.Printf("注文アイテムのシリアライズに失敗: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		orderID := uuid.New().String()
		if err := s.queries.CreateOrder(c.Request.Context(), orderID, userID, string(itemsJSON), *req.TotalSum); err != nil {
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "注文の作成に失敗しました")
			log.Printf("注文作成エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		s.emitEvent(c, event.NameOrderCreated, event.OrderCreatedData{
			OrderID: orderID,
			UserID:  userID,
		})

		created, err := s.queries.GetOrderByID(c.Request.Context(), orderID)
		if err != nil {
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "作成した注文の取得に失敗しました")
			log.Printf("注文取得エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		response.OK(c, http.StatusCreated, toOrderResponse(created))
	}
}

// handleGetByID は注文詳細取得を処理するハンドラを返す。
// 所有者本人または管理者のみアクセスできる。
func (s *Server) handleGetByID() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("id")

		o, err := s.queries.GetOrderByID(c.Request.Context(), orderID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				response.Fail(c, http.StatusNotFound, response.CodeNotFound, "注文が見つかりません")
				return
			}
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "注文の取得に失敗しました")
			log.Printf("注文取得エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		if !authz.CanAccessOrder(middleware.GetUserID(c), middleware.GetRoles(c), o.UserID) {
			response.Fail(c, http.StatusForbidden, response.CodeForbidden, "この注文へのアクセス権がありません")
			return
		}

		response.OK(c, http.StatusOK, toOrderResponse(o))
	}
}

// handleList は自身の注文一覧取得を処理するハンドラを返す。
// 常に呼び出し元自身の注文に限定する（管理者向けの全件一覧は提供しない）。
// ソートフィールドは明示的な列挙に含まれるもののみ受け付ける。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		page, pageSize, ok := parsePagination(c)
		if !ok {
			return
		}

		sortField := c.DefaultQuery("sort", "created_at")
		sortColumn, ok := sortColumns[sortField]
		if !ok {
			response.Fail(c, http.StatusBadRequest, response.CodeValidationError,
				fmt.Sprintf("sortに指定できない値です: %s", sortField))
			return
		}

		direction := c.DefaultQuery("order", "desc")
		if direction != "asc" && direction != "desc" {
			response.Fail(c, http.StatusBadRequest, response.CodeValidationError,
				fmt.Sprintf("orderに指定できない値です: %s", direction))
			return
		}

		total, err := s.queries.CountOrdersByUser(c.Request.Context(), userID)
		if err != nil {
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "注文一覧の取得に失敗しました")
			log.Printf("注文総数取得エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		orderList, err := s.queries.ListOrdersByUser(
			c.Request.Context(), userID, sortColumn, direction == "desc", pageSize, (page-1)*pageSize)
		if err != nil {
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "注文一覧の取得に失敗しました")
			log.Printf("注文一覧取得エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		items := make([]orderResponse, 0, len(orderList))
		for _, o := range orderList {
			items = append(items, toOrderResponse(o))
		}

		response.OK(c, http.StatusOK, gin.H{
			"items":     items,
			"page":      page,
			"page_size": pageSize,
			"total":     total,
		})
	}
}

// handleUpdateStatus はステータス更新を処理するハンドラを返す。
// チェック順序は NotFound → Forbidden → 未知のリテラル → 不正な遷移。
// 成功時はorder.status_updatedイベントを発行する。
func (s *Server) handleUpdateStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("id")

		o, err := s.queries.GetOrderByID(c.Request.Context(), orderID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				response.Fail(c, http.StatusNotFound, response.CodeNotFound, "注文が見つかりません")
				return
			}
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "注文の取得に失敗しました")
			log.Printf("注文取得エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		if !authz.CanAccessOrder(middleware.GetUserID(c), middleware.GetRoles(c), o.UserID) {
			response.Fail(c, http.StatusForbidden, response.CodeForbidden, "この注文へのアクセス権がありません")
			return
		}

		var req updateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Fail(c, http.StatusBadRequest, response.CodeValidationError,
				fmt.Sprintf("リクエストが不正です: %v", err))
			return
		}

		next, ok := authz.ParseStatus(req.Status)
		if !ok {
			response.Fail(c, http.StatusBadRequest, response.CodeValidationError,
				fmt.Sprintf("不明なステータスです: %s", req.Status))
			return
		}

		updated, _, err := s.queries.TransitionStatus(c.Request.Context(), orderID, string(next),
			func(current string) error {
				if !authz.CanTransition(authz.Status(current), next) {
					return errIllegalTransition
				}
				return nil
			})
		if err != nil {
			if errors.Is(err, errIllegalTransition) {
				response.Fail(c, http.StatusBadRequest, response.CodeValidationError,
					fmt.Sprintf("遷移できないステータスです: %s → %s", o.Status, next))
				return
			}
			if errors.Is(err, ErrNotFound) {
				response.Fail(c, http.StatusNotFound, response.CodeNotFound, "注文が見つかりません")
				return
			}
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "注文の更新に失敗しました")
			log.Printf("ステータス更新エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		s.emitEvent(c, event.NameOrderStatusUpdated, event.OrderStatusUpdatedData{
			OrderID: updated.ID,
			Status:  updated.Status,
		})

		response.OK(c, http.StatusOK, toOrderResponse(updated))
	}
}

// handleCancel は注文のキャンセルを処理するハンドラを返す。
// キャンセル済みの注文への再実行は成功としてそのままの記録を返す（冪等）。
// order.cancelledイベントは実際に状態が変化した場合のみ発行する。
func (s *Server) handleCancel() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("id")

		o, err := s.queries.GetOrderByID(c.Request.Context(), orderID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				response.Fail(c, http.StatusNotFound, response.CodeNotFound, "注文が見つかりません")
				return
			}
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "注文の取得に失敗しました")
			log.Printf("注文取得エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		if !authz.CanCancelOrder(middleware.GetUserID(c), middleware.GetRoles(c), o.UserID) {
			response.Fail(c, http.StatusForbidden, response.CodeForbidden, "この注文をキャンセルする権限がありません")
			return
		}

		updated, changed, err := s.queries.TransitionStatus(c.Request.Context(), orderID, string(authz.StatusCancelled),
			func(current string) error {
				if current == string(authz.StatusCancelled) {
					return errSkipTransition
				}
				if !authz.CanTransition(authz.Status(current), authz.StatusCancelled) {
					return errIllegalTransition
				}
				return nil
			})
		if err != nil {
			if errors.Is(err, errIllegalTransition) {
				response.Fail(c, http.StatusBadRequest, response.CodeValidationError,
					fmt.Sprintf("遷移できないステータスです: %s → %s", o.Status, authz.StatusCancelled))
				return
			}
			if errors.Is(err, ErrNotFound) {
				response.Fail(c, http.StatusNotFound, response.CodeNotFound, "注文が見つかりません")
				return
			}
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "注文のキャンセルに失敗しました")
			log.Printf("キャンセルエラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		if changed {
			s.emitEvent(c, event.NameOrderCancelled, event.OrderCancelledData{
				OrderID: updated.ID,
			})
		}

		response.OK(c, http.StatusOK, toOrderResponse(updated))
	}
}

// emitEvent はドメインイベントをイベントシンクに発行する。
// 発行に失敗した場合はログに記録するが、呼び出し元にはエラーを返さない。
func (s *Server) emitEvent(c *gin.Context, name event.Name, data any) {
	e, err := event.New(name, data)
	if err != nil {
		log.Printf("イベントの生成に失敗: request_id=%s, error=%v", middleware.GetRequestID(c), err)
		return
	}
	if err := s.events.Publish(c.Request.Context(), e); err != nil {
		log.Printf("イベントの発行に失敗: request_id=%s, error=%v", middleware.GetRequestID(c), err)
	}
}

// parsePagination はページングのクエリパラメータを解析する。
// pageは1以上、page_sizeは1〜100の範囲のみ受け付け、
// 範囲外の場合は400を書き込んでfalseを返す。
func parsePagination(c *gin.Context) (page, pageSize int, ok bool) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		response.Fail(c, http.StatusBadRequest, response.CodeValidationError, "pageは1以上の整数を指定してください")
		return 0, 0, false
	}

	pageSize, err = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		response.Fail(c, http.StatusBadRequest, response.CodeValidationError, "page_sizeは1から100の整数を指定してください")
		return 0, 0, false
	}

	return page, pageSize, true
}
