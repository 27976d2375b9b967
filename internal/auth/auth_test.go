package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIssuer() Issuer {
	return Issuer{Name: "classledger", Key: "test-key", AccessTTL: time.Minute, RefreshTTL: time.Hour}
}

func TestIssueAndParse(t *testing.T) {
	iss := testIssuer()
	pair, err := iss.Issue("user-1")
	require.NoError(t, err)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := iss.Parse(pair.AccessToken, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, KindAccess, claims.Kind)

	_, err = iss.Parse(pair.RefreshToken, KindAccess)
	assert.ErrorIs(t, err, ErrWrongKind)

	_, err = iss.Issue("")
	assert.Error(t, err)
}

func TestParseRejects(t *testing.T) {
	iss := testIssuer()
	pair, err := iss.Issue("user-1")
	require.NoError(t, err)

	other := iss
	other.Key = "another-key"
	_, err = other.Parse(pair.AccessToken, KindAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other = iss
	other.Name = "someone-else"
	_, err = other.Parse(pair.AccessToken, KindAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := iss
	expired.AccessTTL = -time.Minute
	pair, err = expired.Issue("user-1")
	require.NoError(t, err)
	_, err = iss.Parse(pair.AccessToken, KindAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Kind: KindAccess}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = iss.Parse(none, KindAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh(t *testing.T) {
	iss := testIssuer()
	pair, err := iss.Issue("user-1")
	require.NoError(t, err)

	next, err := iss.Refresh(pair.RefreshToken)
	require.NoError(t, err)
	claims, err := iss.Parse(next.AccessToken, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())

	_, err = iss.Refresh(pair.AccessToken)
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestUserAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	iss := testIssuer()
	r := gin.New()
	r.GET("/me", UserAuth(iss), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})

	pair, err := iss.Issue("user-42")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"garbage", "Bearer abc", http.StatusUnauthorized, ""},
		{"refresh token", "Bearer " + pair.RefreshToken, http.StatusUnauthorized, ""},
		{"access token", "Bearer " + pair.AccessToken, http.StatusOK, "user-42"},
		{"lowercase scheme", "bearer " + pair.AccessToken, http.StatusOK, "user-42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}
