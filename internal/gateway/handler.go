package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/camride/dispatch/pkg/logger"
)

// Claims are the bearer-token claims a socket presents at connect time.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is delegated to the edge proxy.
		return true
	},
}

// HandleWebSocket authenticates the bearer token, upgrades the connection
// and starts the client pumps.
func HandleWebSocket(c *gin.Context, hub *Hub, jwtSecret string) {
	tokenString := c.Query("token")
	if tokenString == "" {
		authHeader := c.GetHeader("Authorization")
		if parts := strings.Split(authHeader, " "); len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
	}
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHENTICATED", "message": "authorization required"})
		return
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(jwtSecret), nil
	})
	if err != nil || !token.Valid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHENTICATED", "message": "invalid or expired token"})
		return
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHENTICATED", "message": "invalid token claims"})
		return
	}

	role := RolePassenger
	if claims.Role == RoleDriver {
		role = RoleDriver
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("socket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(claims.UserID.String(), role, conn, hub)
	hub.Register <- client

	// The request context dies with the HTTP handler; the connection
	// outlives it.
	go client.WritePump()
	go client.ReadPump(context.Background())

	client.SendMessage(&Message{Event: EventConnected, Timestamp: time.Now().UTC()})
}
