package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/cardflow/pkg/cerr"
)

func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(cerr.NewConvertErrorChiMiddleware(), Middleware(APIKeys{"secret": "alice"}))
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		userID, err := RequirePrincipal(r.Context())
		if err != nil {
			cerr.SetJSONError(r.Context(), err)
			return
		}
		cerr.SetJSONResponse(r.Context(), map[string]string{"user": userID})
	})
	return r
}

func TestMiddleware(t *testing.T) {
	h := newRouter()

	tests := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{name: "x-api-key", header: "X-API-Key", value: "secret", status: http.StatusOK},
		{name: "bearer", header: "Authorization", value: "Bearer secret", status: http.StatusOK},
		{name: "wrong key", header: "X-API-Key", value: "nope", status: http.StatusUnauthorized},
		{name: "missing", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tt.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			if tt.status == http.StatusOK {
				assert.Equal(t, "alice", body["user"])
			} else {
				assert.Equal(t, "unauthenticated", body["code"])
			}
		})
	}
}

func TestRequirePrincipal(t *testing.T) {
	_, err := RequirePrincipal(t.Context())
	assert.True(t, cerr.IsCode(err, cerr.Unauthenticated))

	userID, err := RequirePrincipal(WithPrincipal(t.Context(), "bob"))
	require.NoError(t, err)
	assert.Equal(t, "bob", userID)
}
