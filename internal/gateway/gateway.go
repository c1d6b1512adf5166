// Package gateway is the HTTP/WebSocket front door described in spec.md
// §4.8: it authenticates inbound connections and requests, resolves the
// target user's Hub through the Manager, and hands off the rest to the hub
// package. It owns no chat/job state of its own.
package gateway

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/streamspace/streamspace/api/internal/auth"
	"github.com/streamspace/streamspace/api/internal/frame"
	"github.com/streamspace/streamspace/api/internal/hub"
	"github.com/streamspace/streamspace/api/internal/logger"
	"github.com/streamspace/streamspace/api/internal/socketpair"
	"github.com/streamspace/streamspace/api/internal/store"
)

// Config holds the Gateway's own settings (distinct from any per-hub or
// per-store config); grounded on the teacher's practice of threading an
// explicit config struct rather than reading globals inside handlers
// (spec.md §9 calls out "Global JWT secret access" as a pattern to replace
// with an explicit AuthContext).
type Config struct {
	AllowedOrigins []string
}

// Gateway wires HTTP/WS routes to the hub.Manager. One Gateway per process.
type Gateway struct {
	manager *hub.Manager
	store   *store.Store
	authMgr *auth.JWTManager
	cfg     Config
	log     *zerolog.Logger

	upgrader websocket.Upgrader
}

// New constructs a Gateway. Call RegisterRoutes to mount it on a gin engine.
func New(manager *hub.Manager, st *store.Store, authMgr *auth.JWTManager, cfg Config) *Gateway {
	return &Gateway{
		manager: manager,
		store:   st,
		authMgr: authMgr,
		cfg:     cfg,
		log:     logger.HTTP(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true }, // origin enforced by CORSMiddleware for HTTP; WS upgrade has no browser-enforced origin check to rely on
		},
	}
}

// RegisterRoutes mounts every route from spec.md §4.8/§6 on router.
func (g *Gateway) RegisterRoutes(router gin.IRouter) {
	router.GET("/healthz", g.handleHealthz)
	router.GET("/api/gateway/:connId", g.handlePluginUpgrade)
	router.GET("/api/ws/:userId/:sessionId", g.handleClientUpgrade)

	authed := router.Group("/api/hub")
	authed.Use(g.bearerAuth())
	authed.GET("/:userId/status", g.handleStatus)
	authed.POST("/:userId/send", g.handleSend)
	authed.GET("/:userId/history", g.handleHistory)
}

// CORSMiddleware enforces an explicit origin allowlist (spec.md §4.8);
// unlike the teacher's hand-rolled wildcard-avoidance this is scoped to the
// Gateway's own Config rather than reading an environment variable inline,
// so tests can construct a Gateway with a fixed allowlist.
func (g *Gateway) CORSMiddleware() gin.HandlerFunc {
	allowed := make(map[string]bool, len(g.cfg.AllowedOrigins))
	for _, o := range g.cfg.AllowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && allowed[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (g *Gateway) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// bearerAuth validates the Authorization header against the JWT manager
// (±60s clock skew tolerance is enforced inside auth.JWTManager.ValidateToken)
// and stores the claims on the context for downstream handlers.
func (g *Gateway) bearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := g.authMgr.ValidateToken(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

// handlePluginUpgrade implements spec.md §4.8's plugin-upgrade route: if
// connId doesn't look like a resolvable user id (the literal "default"),
// the gateway resolves a pairing token from ?token= or X-Pairing-Token
// instead.
func (g *Gateway) handlePluginUpgrade(c *gin.Context) {
	connID := c.Param("connId")

	userID := connID
	var tokenID, presentedToken string
	if connID == "default" || connID == "" {
		presentedToken = c.Query("token")
		if presentedToken == "" {
			presentedToken = c.GetHeader("X-Pairing-Token")
		}
		if presentedToken == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "pairing token required"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		resolved, tid, err := g.store.ResolvePairingToken(ctx, presentedToken)
		if err != nil {
			switch err {
			case store.ErrTokenNotFound, store.ErrTokenRevoked:
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid pairing token"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "pairing token lookup failed"})
			}
			return
		}
		userID, tokenID = resolved, tid
	}

	h, err := g.manager.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		if wn, ok := err.(*hub.WrongNodeError); ok {
			c.JSON(http.StatusConflict, gin.H{"error": "wrong node", "ownerNodeId": wn.OwnerNodeID})
			return
		}
		g.log.Warn().Err(err).Str("userId", userID).Msg("failed to acquire hub for plugin attach")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hub unavailable"})
		return
	}

	if tokenID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := g.store.RecordPairingUse(ctx, tokenID, c.ClientIP()); err != nil {
			g.log.Warn().Err(err).Str("tokenId", tokenID).Msg("failed to record pairing token use")
		}
		cancel()
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn().Err(err).Msg("plugin websocket upgrade failed")
		return
	}

	pair := socketpair.New(conn)
	pair.OnMessage = func(raw []byte) { h.DispatchPluginFrame(raw) }
	pair.OnClose = func(err error) { h.DetachPlugin(pair, err) }
	pair.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.AttachPlugin(ctx, pair); err != nil {
		g.log.Warn().Err(err).Str("userId", userID).Msg("plugin attach rejected")
		_ = pair.Close(frame.CloseOverloaded, "hub overloaded")
	}
}

// handleClientUpgrade implements spec.md §4.8's client-upgrade route: the
// WS upgrade itself carries no auth, matching the spec's "auth is handled
// by the first WS message" (§4.8, §4.7 Client attach protocol).
func (g *Gateway) handleClientUpgrade(c *gin.Context) {
	userID := c.Param("userId")

	h, err := g.manager.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		if wn, ok := err.(*hub.WrongNodeError); ok {
			c.JSON(http.StatusConflict, gin.H{"error": "wrong node", "ownerNodeId": wn.OwnerNodeID})
			return
		}
		g.log.Warn().Err(err).Str("userId", userID).Msg("failed to acquire hub for client attach")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hub unavailable"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn().Err(err).Msg("client websocket upgrade failed")
		return
	}

	pair := socketpair.New(conn)
	client := hub.NewClientConn(uuid.NewString(), pair)

	pair.OnMessage = func(raw []byte) { h.DispatchClientFrame(client, raw) }
	pair.OnClose = func(err error) { h.DetachClient(client, err) }
	pair.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.AttachClient(ctx, client); err != nil {
		_ = pair.Close(frame.CloseOverloaded, "hub overloaded")
	}
}

func (g *Gateway) handleStatus(c *gin.Context) {
	userID := c.Param("userId")
	if !g.requireSelfOrAdmin(c, userID) {
		return
	}

	h, ok := g.manager.Lookup(userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active hub for user"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	status, err := h.Status(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status query failed"})
		return
	}
	c.JSON(http.StatusOK, status)
}

type sendRequest struct {
	Frame map[string]interface{} `json:"frame" binding:"required"`
}

func (g *Gateway) handleSend(c *gin.Context) {
	userID := c.Param("userId")
	if !g.requireSelfOrAdmin(c, userID) {
		return
	}

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid frame payload"})
		return
	}

	h, ok := g.manager.Lookup(userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active hub for user"})
		return
	}

	raw, err := frame.Marshal(req.Frame)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid frame payload"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := h.SendToPlugin(ctx, raw); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (g *Gateway) handleHistory(c *gin.Context) {
	userID := c.Param("userId")
	if !g.requireSelfOrAdmin(c, userID) {
		return
	}

	sessionKey := c.Query("sessionKey")
	if sessionKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionKey is required"})
		return
	}
	threadID := c.Query("threadId")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	h, ok := g.manager.Lookup(userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active hub for user"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	messages, replyCounts, err := h.History(ctx, sessionKey, threadID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "replyCounts": replyCounts})
}

// requireSelfOrAdmin enforces that the bearer-authenticated caller is
// either the user whose hub is being queried or holds the admin role; it
// writes the 403 response itself when the check fails.
func (g *Gateway) requireSelfOrAdmin(c *gin.Context, userID string) bool {
	raw, ok := c.Get("claims")
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth claims"})
		return false
	}
	claims, ok := raw.(*auth.Claims)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid auth claims"})
		return false
	}
	if claims.UserID != userID && claims.Role != "admin" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}
