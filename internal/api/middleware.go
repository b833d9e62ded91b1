package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ctxOperator = "operator"
	ctxIsAdmin  = "is_admin"
)

// jwtMiddleware проверяет JWT токен в заголовке Authorization.
// Без менеджера токенов любой запрос считается запросом администратора.
func (rs *RestServer) jwtMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rs.tokens == nil {
			c.Set(ctxOperator, "anonymous")
			c.Set(ctxIsAdmin, true)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "Отсутствует токен авторизации")
			return
		}

		// Проверяем формат "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abort(c, http.StatusUnauthorized, "Неверный формат токена")
			return
		}

		claims, err := rs.tokens.Validate(parts[1])
		if err != nil {
			abort(c, http.StatusUnauthorized, "Недействительный токен")
			return
		}

		c.Set(ctxOperator, claims.Operator)
		c.Set(ctxIsAdmin, claims.IsAdmin)
		c.Next()
	}
}

// adminMiddleware проверяет, что оператор является администратором
func (rs *RestServer) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ctxIsAdmin) {
			abort(c, http.StatusForbidden, "Недостаточно прав доступа")
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, GenericResponse{Success: false, Message: msg})
}
