package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drawdock/drawdock/internal/config"
	"github.com/drawdock/drawdock/internal/slogging"
	"github.com/drawdock/drawdock/wire"
)

// registerTimeout bounds how long an upgrade waits on join bookkeeping.
const registerTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth happens on the token, not the Origin header
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server wires the hub, persistence gateway and auth onto a gin engine.
// Connection upgrades are accepted on exactly one route; every other path
// is refused before any upgrade happens.
type Server struct {
	cfg    *config.Config
	hub    *Hub
	engine *gin.Engine
}

// NewServer creates the collaboration server.
func NewServer(cfg *config.Config, store DiagramStore, reg *prometheus.Registry) *Server {
	if !cfg.Logging.IsDev {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg: cfg,
		hub: NewHub(store, cfg.WebSocket, reg),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	// The one designated upgrade route
	engine.GET("/ws/diagrams/:diagram_id", s.HandleWS)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if reg != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "no such route",
		})
	})

	s.engine = engine
	return s
}

// Hub exposes the hub, mainly for tests.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the http handler for the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// claimsIdentity is the identity extracted from a validated token.
type claimsIdentity struct {
	UserID      string
	DisplayName string
}

// authenticate validates the JWT presented as a `token` query parameter or
// a bearer Authorization header and extracts the user identity.
func (s *Server) authenticate(c *gin.Context) (*claimsIdentity, error) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			tokenStr = parts[1]
		}
	}
	if tokenStr == "" {
		return nil, fmt.Errorf("missing auth token")
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.Auth.JWT.Secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected token claims")
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return nil, fmt.Errorf("token missing subject")
	}
	displayName, _ := claims["name"].(string)
	if displayName == "" {
		displayName = userID
	}

	return &claimsIdentity{UserID: userID, DisplayName: displayName}, nil
}

// HandleWS authenticates the connection parameters, upgrades, and auto-joins
// the target diagram's room.
func (s *Server) HandleWS(c *gin.Context) {
	logger := slogging.Get()
	diagramID := c.Param("diagram_id")

	identity, err := s.authenticate(c)
	if err != nil {
		// Refused before upgrade: the client manager treats 401 as a
		// terminal auth failure and stops retrying.
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": err.Error(),
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Failed to upgrade connection for diagram %s: %v", diagramID, err)
		return
	}

	client := NewClient(s.hub, conn)
	ctx, cancel := context.WithTimeout(c.Request.Context(), registerTimeout)
	defer cancel()

	session, joined, err := s.hub.Join(ctx, JoinCandidate{
		DiagramID:   diagramID,
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
	}, client)
	if err != nil {
		s.refuseJoin(conn, diagramID, err)
		return
	}

	client.trySend(mustMarshal(joined))

	go client.WritePump()
	go client.ReadPump()

	logger.Debug("Upgraded connection for user %s on diagram %s (session %s)",
		identity.UserID, diagramID, session.ID)
}

// refuseJoin reports a join failure over the fresh socket, then closes it.
func (s *Server) refuseJoin(conn *websocket.Conn, diagramID string, err error) {
	logger := slogging.Get()

	code := wire.ErrorCodeInternal
	if err == ErrNotFound {
		code = wire.ErrorCodeNotFound
	} else {
		logger.Error("Join failed for diagram %s: %v", diagramID, err)
	}

	frame := mustMarshal(wire.ErrorMessage{
		MessageType: wire.MessageTypeError,
		Code:        code,
		Message:     err.Error(),
		Timestamp:   time.Now().UTC(),
	})
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, frame)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code),
		time.Now().Add(time.Second))
	_ = conn.Close()
}
