package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/logan676/mindscribe/internal/auth"
	"github.com/logan676/mindscribe/internal/common"
)

const ClinicianIDKey = "clinician_id"

// AuthRequired accepts a bearer JWT. When devClinicianID is set, requests
// without a token act as that clinician.
func AuthRequired(secret, devClinicianID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" && devClinicianID != "" {
			c.Set(ClinicianIDKey, devClinicianID)
			c.Next()
			return
		}
		scheme, token, found := strings.Cut(h, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		id, err := auth.ParseJWT(strings.TrimSpace(token), secret)
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}
		c.Set(ClinicianIDKey, id)
		c.Next()
	}
}

// ClinicianID returns the identity set by AuthRequired.
func ClinicianID(c *gin.Context) (string, bool) {
	id := c.GetString(ClinicianIDKey)
	return id, id != ""
}

func abortUnauthorized(c *gin.Context, msg string) {
	common.Abort(c, http.StatusUnauthorized, 40101, msg)
}
