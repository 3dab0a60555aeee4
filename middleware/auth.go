package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"splitpay-api/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims identify a member of staff of one organization
type Claims struct {
	OrganizationID uint             `json:"organization_id"`
	Role           models.StaffRole `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed staff JWT
func GenerateToken(secret []byte, subject string, orgID uint, role models.StaffRole, ttl time.Duration) (string, error) {
	if subject == "" || orgID == 0 {
		return "", errors.New("token needs a subject and an organization")
	}
	now := time.Now()
	claims := Claims{
		OrganizationID: orgID,
		Role:           role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// AuthRequired validates the Bearer JWT and injects its claims into the context
func AuthRequired(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Authorization header required (Bearer <token>)"})
			c.Abort()
			return
		}
		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Invalid or expired token"})
			c.Abort()
			return
		}
		c.Set("staffID", claims.Subject)
		c.Set("organizationID", claims.OrganizationID)
		c.Set("role", string(claims.Role))
		c.Next()
	}
}

// RoleRequired enforces that caller has one of the allowed roles
func RoleRequired(roles ...models.StaffRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		roleVal, exists := c.Get("role")
		if !exists {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "Role not found in context"})
			c.Abort()
			return
		}
		callerRole := models.StaffRole(roleVal.(string))
		for _, r := range roles {
			if callerRole == r {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Access denied. Required role(s): " + rolesString(roles),
		})
		c.Abort()
	}
}

func rolesString(roles []models.StaffRole) string {
	s := make([]string, len(roles))
	for i, r := range roles {
		s[i] = string(r)
	}
	return strings.Join(s, ", ")
}

// GetOrganizationID extracts the caller's organization from context
func GetOrganizationID(c *gin.Context) uint {
	val, _ := c.Get("organizationID")
	id, _ := val.(uint)
	return id
}

// GetStaffID extracts the caller's subject from context
func GetStaffID(c *gin.Context) string {
	val, _ := c.Get("staffID")
	id, _ := val.(string)
	return id
}
