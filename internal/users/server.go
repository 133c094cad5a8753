package users

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/nao1215/orderhub/pkg/authz"
	"github.com/nao1215/orderhub/pkg/middleware"
	"github.com/nao1215/orderhub/pkg/response"
)

// Server はユーザーサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサービス設定。
	cfg Config
	// queries はユーザーテーブルへのクエリ実行オブジェクト。
	queries *userQueries
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewServer は新しいユーザーサーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(cfg Config) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", cfg.DatabasePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
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

	s := &Server{
		router:  router,
		cfg:     cfg,
		queries: newUserQueries(sqlDB),
		db:      sqlDB,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.cfg.Port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/v1/users")
	{
		// 公開エンドポイント
		v1.POST("/register", s.handleRegister())
		v1.POST("/login", s.handleLogin())
		// 内部向けのユーザー存在確認（Ordersサービスのみが消費する）
		v1.GET("/internal/:id", s.handleInternalExists())
	}

	// 認証必須のエンドポイント。Gatewayが検証済みでも、
	// Bearerトークンをここで独立に再検証する。
	authed := s.router.Group("/v1/users")
	authed.Use(middleware.JWTAuth(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.JWTAudience))
	{
		authed.GET("/me", s.handleMe())
		authed.PUT("/me", s.handleUpdateMe())
		authed.GET("", s.handleListUsers())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		response.OK(c, http.StatusOK, gin.H{"status": "ok", "service": "users"})
	})
}

// registerRequest はユーザー登録リクエストのJSON構造。
type registerRequest struct {
	// Email はメールアドレス。形式チェックを行う。
	Email string `json:"email" binding:"required,email"`
	// Password はパスワード。最低8文字。
	Password string `json:"password" binding:"required,min=8"`
	// Name は表示名。
	Name string `json:"name" binding:"required,min=1"`
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	// Email はメールアドレス。
	Email string `json:"email" binding:"required,email"`
	// Password はパスワード。
	Password string `json:"password" binding:"required"`
}

// updateProfileRequest はプロフィール更新リクエストのJSON構造。
// 指定されたフィールドのみを更新する。
type updateProfileRequest struct {
	// Name は表示名。nilの場合は変更しない。
	Name *string `json:"name" binding:"omitempty,min=1"`
}

// userResponse はユーザーの公開プロジェクション。
// パスワードハッシュは決して含めない。
type userResponse struct {
	// ID はユーザーの一意識別子。
	ID string `json:"id"`
	// Email はメールアドレス。
	Email string `json:"email"`
	// Name は表示名。
	Name string `json:"name"`
	// Roles はロール一覧。
	Roles []string `json:"roles"`
	// CreatedAt は作成日時。
	CreatedAt string `json:"created_at"`
	// UpdatedAt は更新日時。
	UpdatedAt string `json:"updated_at"`
}

// toUserResponse はDB行を公開プロジェクションに変換する。
func toUserResponse(u User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Roles:     u.RolesList(),
		CreatedAt: u.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		UpdatedAt: u.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// handleRegister はユーザー登録を処理するハンドラを返す。
// メールアドレスの一意性違反は409を返す。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Fail(c, http.StatusBadRequest, response.CodeValidationError,
				fmt.Sprintf("リクエストが不正です: %v", err))
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "ユーザーの登録に失敗しました")
			log.Printf("パスワードハッシュ化エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		userID := uuid.New().String()
		if err := s.queries.CreateUser(c.Request.Context(), userID, req.Email, string(hash), req.Name, authz.RoleUser); err != nil {
			if errors.Is(err, ErrEmailTaken) {
				response.Fail(c, http.StatusConflict, response.CodeEmailExists, "このメールアドレスは既に登録されています")
				return
			}
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "ユーザーの登録に失敗しました")
			log.Printf("ユーザー作成エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		created, err := s.queries.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "作成したユーザーの取得に失敗しました")
			log.Printf("ユーザー取得エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		response.OK(c, http.StatusCreated, toUserResponse(created))
	}
}

// handleLogin はログインを処理するハンドラを返す。
// 成功時にJWTトークンを発行する。メールアドレス不明とパスワード誤りは
// 同一の汎用エラーを返し、どちらが誤りかを明かさない。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Fail(c, http.StatusBadRequest, response.CodeValidationError,
				fmt.Sprintf("リクエストが不正です: %v", err))
			return
		}

		user, err := s.queries.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				log.Printf("ユーザー取得エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			}
			response.Fail(c, http.StatusUnauthorized, response.CodeInvalidCredentials, "メールアドレスまたはパスワードが不正です")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			response.Fail(c, http.StatusUnauthorized, response.CodeInvalidCredentials, "メールアドレスまたはパスワードが不正です")
			return
		}

		token, err := middleware.GenerateToken(
			s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.JWTAudience,
			user.ID, user.RolesList(), s.cfg.TokenTTL,
		)
		if err != nil {
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "トークンの発行に失敗しました")
			log.Printf("JWT生成エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		response.OK(c, http.StatusOK, gin.H{"token": token})
	}
}

// handleMe は認証済みユーザー自身のプロフィール取得を処理するハンドラを返す。
func (s *Server) handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		user, err := s.queries.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				response.Fail(c, http.StatusNotFound, response.CodeNotFound, "ユーザーが見つかりません")
				return
			}
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "ユーザーの取得に失敗しました")
			log.Printf("ユーザー取得エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		response.OK(c, http.StatusOK, toUserResponse(user))
	}
}

// handleUpdateMe はプロフィールの部分更新を処理するハンドラを返す。
// 指定されたフィールドのみを変更し、更新日時を刷新する。
func (s *Server) handleUpdateMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		var req updateProfileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Fail(c, http.StatusBadRequest, response.CodeValidationError,
				fmt.Sprintf("リクエストが不正です: %v", err))
			return
		}

		if req.Name != nil {
			if err := s.queries.UpdateName(c.Request.Context(), userID, *req.Name); err != nil {
				if errors.Is(err, ErrNotFound) {
					response.Fail(c, http.StatusNotFound, response.CodeNotFound, "ユーザーが見つかりません")
					return
				}
				response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "ユーザーの更新に失敗しました")
				log.Printf("ユーザー更新エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
				return
			}
		}

		user, err := s.queries.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				response.Fail(c, http.StatusNotFound, response.CodeNotFound, "ユーザーが見つかりません")
				return
			}
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "ユーザーの取得に失敗しました")
			log.Printf("ユーザー取得エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		response.OK(c, http.StatusOK, toUserResponse(user))
	}
}

// handleListUsers は管理者向けのユーザー一覧取得を処理するハンドラを返す。
// emailクエリパラメータで大文字小文字を区別しない部分一致の絞り込みを行う。
func (s *Server) handleListUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authz.IsAdmin(middleware.GetRoles(c)) {
			response.Fail(c, http.StatusForbidden, response.CodeForbidden, "管理者ロールが必要です")
			return
		}

		page, pageSize, ok := parsePagination(c)
		if !ok {
			return
		}
		emailFilter := c.Query("email")

		total, err := s.queries.CountUsers(c.Request.Context(), emailFilter)
		if err != nil {
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "ユーザー一覧の取得に失敗しました")
			log.Printf("ユーザー総数取得エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		userList, err := s.queries.ListUsers(c.Request.Context(), emailFilter, pageSize, (page-1)*pageSize)
		if err != nil {
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "ユーザー一覧の取得に失敗しました")
			log.Printf("ユーザー一覧取得エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		items := make([]userResponse, 0, len(userList))
		for _, u := range userList {
			items = append(items, toUserResponse(u))
		}

		response.OK(c, http.StatusOK, gin.H{
			"items":     items,
			"page":      page,
			"page_size": pageSize,
			"total":     total,
		})
	}
}

// handleInternalExists は内部向けのユーザー存在確認を処理するハンドラを返す。
// Ordersサービスの所有者存在チェック専用で、存在有無のみを返し
// ユーザーの全情報は返さない。
func (s *Server) handleInternalExists() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("id")

		user, err := s.queries.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				response.Fail(c, http.StatusNotFound, response.CodeNotFound, "ユーザーが見つかりません")
				return
			}
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "ユーザーの取得に失敗しました")
			log.Printf("ユーザー取得エラー: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			return
		}

		response.OK(c, http.StatusOK, gin.H{"exists": true, "id": user.ID})
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
