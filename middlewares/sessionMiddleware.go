package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/opsboard_backend/config"
	"bitbucket.org/mmdatafocus/opsboard_backend/models"
	"bitbucket.org/mmdatafocus/opsboard_backend/utils"
)

// SessionMiddleware resolves the caller identity from the token header. A
// redis-backed session is checked first; a signed JWT is accepted as a
// fallback so API clients survive a redis flush without re-login.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)

		username, exists, err := config.GetRedisValue("Token:" + token)
		if err != nil || !exists {
			claims := claimsFromJwt(token)
			if claims == nil || claims.Username == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}
			username = claims.Username
			ctx = utils.SetUserIdInContext(ctx, claims.ID)
			if claims.Role == string(models.UserRoleAdmin) {
				ctx = utils.SetIsAdminInContext(ctx, true)
			}
		}

		ctx = utils.SetUsernameInContext(ctx, username)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func claimsFromJwt(token string) *utils.JwtCustomClaim {
	parsed, err := utils.JwtValidate(token)
	if err != nil || !parsed.Valid {
		return nil
	}
	claims, ok := parsed.Claims.(*utils.JwtCustomClaim)
	if !ok {
		return nil
	}
	return claims
}
