package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/libms-api/internal/models"
)

func newRBACRouter(sess *models.Session, allowed ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	inject := func(c *gin.Context) {
		if sess != nil {
			c.Set(ContextSessionKey, sess)
		}
		c.Next()
	}
	r.GET("/users/:id", inject, RBAC(allowed...), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func rbacRequest(r *gin.Engine, path string) int {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRBACAllowsListedRole(t *testing.T) {
	r := newRBACRouter(&models.Session{UserID: "user-1", Role: models.RoleAdmin}, "ADMIN", "LIBRARIAN")
	require.Equal(t, http.StatusOK, rbacRequest(r, "/users/user-2"))
}

func TestRBACRejectsUnlistedRole(t *testing.T) {
	r := newRBACRouter(&models.Session{UserID: "user-1", Role: models.RoleMember}, "ADMIN", "LIBRARIAN")
	require.Equal(t, http.StatusForbidden, rbacRequest(r, "/users/user-2"))
}

func TestRBACSelfMatchesOwnID(t *testing.T) {
	r := newRBACRouter(&models.Session{UserID: "user-1", Role: models.RoleMember}, "ADMIN", "SELF")
	require.Equal(t, http.StatusOK, rbacRequest(r, "/users/user-1"))
	require.Equal(t, http.StatusForbidden, rbacRequest(r, "/users/user-2"))
}

func TestRBACMissingSession(t *testing.T) {
	r := newRBACRouter(nil, "ADMIN")
	require.Equal(t, http.StatusUnauthorized, rbacRequest(r, "/users/user-1"))
}
