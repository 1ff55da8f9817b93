package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"labeling-service/internal/assignment"
	"labeling-service/internal/middleware"
	"labeling-service/internal/models"
	"labeling-service/internal/repository"
	"labeling-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	router *gin.Engine
	tokens map[string]string
}

func newTestServer(t *testing.T, limiter *middleware.KeyedLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewMemoryRepository()
	dist := assignment.NewDistributor(assignment.Config{Seed: 7}, zap.NewNop())
	annotator := service.NewAnnotator(store, dist, service.AnnotatorConfig{
		Reasons: []string{"sarcasm", "slur"},
	}, zap.NewNop())
	auth := service.NewAuthService(store, service.AuthConfig{
		JWTSecret: []byte("handler-test"),
		TokenTTL:  time.Hour,
		AdminCode: "code",
	}, zap.NewNop())
	require.NoError(t, auth.SeedDefaults(context.Background(), []service.DefaultUser{
		{Username: "root", Password: "pw", Role: models.RoleAdmin},
		{Username: "alice", Password: "pw", Role: models.RoleStudent},
		{Username: "bob", Password: "pw", Role: models.RoleStudent},
	}))

	router := gin.New()
	NewHandler(annotator, auth, zap.NewNop()).RegisterRoutes(router, limiter)

	s := &testServer{router: router, tokens: map[string]string{}}
	for _, name := range []string{"root", "alice", "bob"} {
		token, _, err := auth.Login(context.Background(), name, "pw")
		require.NoError(t, err)
		s.tokens[name] = token
	}
	return s
}

func (s *testServer) do(t *testing.T, method, path, as string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[as])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeItem(t *testing.T, w *httptest.ResponseRecorder) models.Item {
	t.Helper()
	var item models.Item
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))
	return item
}

func (s *testServer) createItems(t *testing.T, texts ...string) []models.Item {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/items", "root", CreateItemsRequest{Texts: texts})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Items []models.Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Items
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestRegister(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   RegisterRequest
		status int
	}{
		{"student", RegisterRequest{Username: "carol", Password: "pw"}, http.StatusCreated},
		{"duplicate", RegisterRequest{Username: "alice", Password: "pw"}, http.StatusConflict},
		{"admin without code", RegisterRequest{Username: "dave", Password: "pw", Role: "admin"}, http.StatusForbidden},
		{"admin with code", RegisterRequest{Username: "erin", Password: "pw", Role: "admin", AdminCode: "code"}, http.StatusCreated},
		{"unknown role", RegisterRequest{Username: "frank", Password: "pw", Role: "owner"}, http.StatusBadRequest},
		{"missing password", RegisterRequest{Username: "gina"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/auth/register", "", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestLogin(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "alice", Password: "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])
	assert.Equal(t, "student", resp["role"])

	w = s.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "alice", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_Throttled(t *testing.T) {
	s := newTestServer(t, middleware.NewKeyedLimiter(0.001, 1))
	body := LoginRequest{Username: "alice", Password: "wrong"}

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/api/auth/login", "", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodPost, "/api/auth/login", "", body).Code)
}

func TestRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/items", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/items", "alice", CreateItemsRequest{Texts: []string{"x"}}).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/stats", "alice", nil).Code)
}

func TestGetLabels(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/api/labels", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Category_A")
	assert.Contains(t, w.Body.String(), "sarcasm")
}

func TestLabelingFlow(t *testing.T) {
	s := newTestServer(t, nil)
	items := s.createItems(t, "first", "second")
	require.Len(t, items, 2)

	w := s.do(t, http.MethodPost, "/api/items/auto-assign", "root", AutoAssignRequest{OverlapPercentage: 100})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result assignment.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Overlap)

	id := items[0].ID
	w = s.do(t, http.MethodPut, "/api/items/"+id+"/labels/alice", "alice", LabelRequest{Label: "Category_B"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decodeItem(t, w).FinalLabel.IsPending())

	// Students cannot label for someone else.
	w = s.do(t, http.MethodPut, "/api/items/"+id+"/labels/bob", "alice", LabelRequest{Label: "Category_B"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPut, "/api/items/"+id+"/labels/bob", "bob", LabelRequest{Label: "Category_B"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.VerdictOf(models.CategoryB), decodeItem(t, w).FinalLabel)

	// Admins may relabel any student.
	w = s.do(t, http.MethodPut, "/api/items/"+id+"/labels/bob", "root", LabelRequest{Label: "Neither"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeItem(t, w).FinalLabel.IsConflict())

	w = s.do(t, http.MethodPut, "/api/items/"+id+"/final-label", "root", FinalLabelRequest{Label: "Neither"})
	require.Equal(t, http.StatusOK, w.Code)
	item := decodeItem(t, w)
	assert.Equal(t, models.VerdictOf(models.Neither), item.FinalLabel)
	assert.True(t, item.FinalLabelOverridden)

	w = s.do(t, http.MethodDelete, "/api/items/"+id+"/labels/alice", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeItem(t, w).FinalLabel.IsPending())

	w = s.do(t, http.MethodGet, "/api/items", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":2`)
}

func TestLabelErrors(t *testing.T) {
	s := newTestServer(t, nil)
	items := s.createItems(t, "text")
	id := items[0].ID

	w := s.do(t, http.MethodPut, "/api/items/"+id+"/assignment", "root", AssignmentRequest{AssignedTo: []string{"alice"}})
	require.Equal(t, http.StatusOK, w.Code)

	tests := []struct {
		name   string
		path   string
		body   LabelRequest
		status int
	}{
		{"unknown label", "/api/items/" + id + "/labels/alice", LabelRequest{Label: "Maybe"}, http.StatusBadRequest},
		{"unknown reason", "/api/items/" + id + "/labels/alice", LabelRequest{Label: "Category_A", Reasons: []string{"vibes"}}, http.StatusBadRequest},
		{"missing item", "/api/items/missing/labels/alice", LabelRequest{Label: "Neither"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPut, tt.path, "alice", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	w = s.do(t, http.MethodPut, "/api/items/"+id+"/final-label", "root", FinalLabelRequest{Label: "CONFLICT"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetItem_StudentScope(t *testing.T) {
	s := newTestServer(t, nil)
	items := s.createItems(t, "text")
	id := items[0].ID

	s.do(t, http.MethodPut, "/api/items/"+id+"/assignment", "root", AssignmentRequest{AssignedTo: []string{"alice"}})

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/items/"+id, "alice", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/items/"+id, "bob", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/items/nope", "root", nil).Code)
}

func TestAutoAssign_InvalidOverlap(t *testing.T) {
	s := newTestServer(t, nil)
	s.createItems(t, "text")

	w := s.do(t, http.MethodPost, "/api/items/auto-assign", "root", AutoAssignRequest{Students: []string{"alice"}, OverlapPercentage: 150})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/items/auto-assign", "root", AutoAssignRequest{Students: []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteItems(t *testing.T) {
	s := newTestServer(t, nil)
	items := s.createItems(t, "a", "b")

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/items/"+items[0].ID, "root", nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/items/"+items[0].ID, "root", nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/items", "root", nil).Code)

	w := s.do(t, http.MethodGet, "/api/items", "root", nil)
	assert.Contains(t, w.Body.String(), `"total":0`)
}

func TestUploadItems(t *testing.T) {
	s := newTestServer(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "tweets.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("id,text\n1,\"hello, world\"\n2,second\n3,\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/items/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.tokens["root"])
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "hello, world")
	assert.Contains(t, w.Body.String(), `"total":2`)
}

func TestUploadItems_MissingFile(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/api/items/upload", "root", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExport(t *testing.T) {
	s := newTestServer(t, nil)
	items := s.createItems(t, "text")
	id := items[0].ID
	s.do(t, http.MethodPut, "/api/items/"+id+"/assignment", "root", AssignmentRequest{AssignedTo: []string{"alice"}})
	s.do(t, http.MethodPut, "/api/items/"+id+"/labels/alice", "alice", LabelRequest{Label: "Category_A", Reasons: []string{"slur"}})

	w := s.do(t, http.MethodGet, "/api/export/csv", "root", nil)
	require.Equal(t, http.StatusOK, w.Code)
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,text,finalLabel,alice_label,alice_reasons", lines[0])
	assert.Equal(t, id+",text,Category_A,Category_A,slur", lines[1])

	w = s.do(t, http.MethodGet, "/api/export/json", "root", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var doc struct {
		Tweets []models.Item `json:"tweets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Len(t, doc.Tweets, 1)
	assert.Equal(t, []string{"slur"}, doc.Tweets[0].AnnotationFeatures["alice"])
}

func TestListUsers_HidesHashes(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/api/users", "root", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":3`)
	assert.NotContains(t, w.Body.String(), "argon2id")
}

func TestGetStats(t *testing.T) {
	s := newTestServer(t, nil)
	s.createItems(t, "a", "b")
	w := s.do(t, http.MethodGet, "/api/stats", "root", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":2`)
	assert.Contains(t, w.Body.String(), `"unassigned":2`)
}

func TestRecordLabel_StudentOnlyOnAssignedItems(t *testing.T) {
	s := newTestServer(t, nil)
	items := s.createItems(t, "bob's item")
	id := items[0].ID
	s.do(t, http.MethodPut, "/api/items/"+id+"/assignment", "root", AssignmentRequest{AssignedTo: []string{"bob"}})

	w := s.do(t, http.MethodPut, "/api/items/"+id+"/labels/alice", "alice", LabelRequest{Label: "Neither"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotContains(t, w.Body.String(), "bob's item")

	w = s.do(t, http.MethodDelete, "/api/items/"+id+"/labels/alice", "alice", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Admin tooling may still label a student outside the assignment.
	w = s.do(t, http.MethodPut, "/api/items/"+id+"/labels/alice", "root", LabelRequest{Label: "Neither"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/items/"+id, "root", nil)
	require.Equal(t, http.StatusOK, w.Code)
	item := decodeItem(t, w)
	assert.Equal(t, map[string]models.Label{"alice": models.Neither}, item.Annotations)
	assert.True(t, item.FinalLabel.IsPending())
}
