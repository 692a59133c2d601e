package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"comentario/comment"
	"comentario/like"
	"comentario/models"
	"comentario/store"
	"comentario/user"
)

func setupTestRouter(t *testing.T) (*store.Store, *gin.Engine) {
	t.Helper()

	backend, err := store.OpenLocal(":memory:")
	require.NoError(t, err)
	s := store.New(backend)

	users := user.NewUserModule(s, "")
	likes := like.NewLikeModule(s)
	comments := comment.NewCommentModule(s, likes, users)
	apiModule := NewApiModule(users, comments, likes)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.HandleMethodNotAllowed = true
	apiModule.RegisterRoutes(router)
	return s, router
}

func seedUser(t *testing.T, s *store.Store, username, password, role string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, s.Write(context.Background(), "users/"+username, models.User{
		Username:  username,
		Email:     username + "@example.io",
		Password:  string(hash),
		CreatedAt: now,
		UpdatedAt: now,
		Role:      role,
	}))
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func TestDispatch_UnknownPair(t *testing.T) {
	_, router := setupTestRouter(t)

	w := postJSON(router, "/api", gin.H{"type": "comment", "action": "explode"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	envelope := decodeEnvelope(t, w)
	assert.Equal(t, false, envelope["success"])
}

func TestDispatch_MalformedBody(t *testing.T) {
	_, router := setupTestRouter(t)

	req, _ := http.NewRequest(http.MethodPost, "/api", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserRegisterAndLogin(t *testing.T) {
	_, router := setupTestRouter(t)

	w := postJSON(router, "/api", gin.H{
		"type": "user", "action": "register",
		"data": gin.H{"username": "alice", "email": "alice@x.io", "password": "Secret#12"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	envelope := decodeEnvelope(t, w)
	data := envelope["data"].(map[string]any)
	assert.Equal(t, "alice", data["username"])
	assert.NotContains(t, data, "password")

	// right password
	w = postJSON(router, "/api/user", gin.H{
		"action": "login",
		"data":   gin.H{"username": "alice", "password": "Secret#12"},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	envelope = decodeEnvelope(t, w)
	data = envelope["data"].(map[string]any)
	assert.NotNil(t, data["lastLoginAt"])

	// wrong password
	w = postJSON(router, "/api/user", gin.H{
		"action": "login",
		"data":   gin.H{"username": "alice", "password": "WrongPass1"},
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUserRegister_Conflict(t *testing.T) {
	s, router := setupTestRouter(t)

	seedUser(t, s, "alice", "Secret#12", "user")

	w := postJSON(router, "/api", gin.H{
		"type": "user", "action": "register",
		"data": gin.H{"username": "alice", "email": "alice@x.io", "password": "Secret#12"},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCommentAddAndList(t *testing.T) {
	_, router := setupTestRouter(t)

	w := postJSON(router, "/api/comments", gin.H{
		"action": "add",
		"postId": "post1",
		"data":   gin.H{"name": "alice", "email": "alice@x.io", "comment": "top comment"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	parentID := decodeEnvelope(t, w)["data"].(map[string]any)["id"].(string)

	w = postJSON(router, "/api/comments", gin.H{
		"action": "add",
		"postId": "post1",
		"data":   gin.H{"name": "bob", "email": "bob@x.io", "comment": "a reply", "parentId": parentID},
	})
	require.Equal(t, http.StatusOK, w.Code)

	req, _ := http.NewRequest(http.MethodGet, "/api/comments?postId=post1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	envelope := decodeEnvelope(t, w)
	tree := envelope["data"].([]any)
	require.Len(t, tree, 1)

	top := tree[0].(map[string]any)
	assert.Equal(t, parentID, top["id"])
	assert.Equal(t, float64(1), top["floor"])
	replies := top["children"].([]any)
	require.Len(t, replies, 1)
	assert.Equal(t, "a reply", replies[0].(map[string]any)["comment"])
}

func TestCommentList_HTMLFormat(t *testing.T) {
	_, router := setupTestRouter(t)

	w := postJSON(router, "/api/comments", gin.H{
		"action": "add",
		"postId": "post1",
		"data":   gin.H{"name": "alice", "email": "alice@x.io", "comment": "hello **world**"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	req, _ := http.NewRequest(http.MethodGet, "/api/comments?postId=post1&format=html", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	tree := decodeEnvelope(t, w)["data"].([]any)
	require.Len(t, tree, 1)
	assert.Contains(t, tree[0].(map[string]any)["commentHtml"], "<strong>world</strong>")
}

func TestCommentDelete_ForbiddenForNonAdmin(t *testing.T) {
	s, router := setupTestRouter(t)

	seedUser(t, s, "alice", "Secret#12", "user")

	w := postJSON(router, "/api/comments", gin.H{
		"action": "add",
		"postId": "post1",
		"data":   gin.H{"name": "alice", "email": "alice@x.io", "comment": "to delete"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	commentID := decodeEnvelope(t, w)["data"].(map[string]any)["id"].(string)

	w = postJSON(router, "/api/comments", gin.H{
		"action":    "delete",
		"userId":    "alice",
		"postId":    "post1",
		"commentId": commentID,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCommentDelete_AdminUpdatesAncestorTotals(t *testing.T) {
	s, router := setupTestRouter(t)
	ctx := context.Background()

	seedUser(t, s, "root", "Secret#12", "admin")

	w := postJSON(router, "/api/comments", gin.H{
		"action": "add", "postId": "post1",
		"data": gin.H{"name": "alice", "email": "alice@x.io", "comment": "top"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	c1 := decodeEnvelope(t, w)["data"].(map[string]any)["id"].(string)

	w = postJSON(router, "/api/comments", gin.H{
		"action": "add", "postId": "post1",
		"data": gin.H{"name": "bob", "email": "bob@x.io", "comment": "reply", "parentId": c1},
	})
	require.Equal(t, http.StatusOK, w.Code)
	c2 := decodeEnvelope(t, w)["data"].(map[string]any)["id"].(string)

	// bob likes c1, alice likes c2: totalLikes(c1)=2
	w = postJSON(router, "/api", gin.H{"type": "comment", "action": "like", "userId": "bob", "postId": "post1", "commentId": c1})
	require.Equal(t, http.StatusOK, w.Code)
	w = postJSON(router, "/api", gin.H{"type": "comment", "action": "like", "userId": "alice", "postId": "post1", "commentId": c2})
	require.Equal(t, http.StatusOK, w.Code)

	var top models.Comment
	_, err := s.Read(ctx, "comments/post1/"+c1, &top)
	require.NoError(t, err)
	assert.Equal(t, 2, top.TotalLikes)

	w = postJSON(router, "/api/comments", gin.H{
		"action": "delete", "userId": "root", "postId": "post1", "commentId": c2,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	_, err = s.Read(ctx, "comments/post1/"+c1, &top)
	require.NoError(t, err)
	assert.Empty(t, top.Children)
	assert.Equal(t, 1, top.TotalLikes, "subtree total must drop with the deleted reply")
}

func TestCommentLike_GhostGives410(t *testing.T) {
	_, router := setupTestRouter(t)

	w := postJSON(router, "/api", gin.H{
		"type": "comment", "action": "like",
		"userId": "alice", "postId": "post1", "commentId": "deleted",
	})
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestArticleLikeEndpoints(t *testing.T) {
	_, router := setupTestRouter(t)

	w := postJSON(router, "/api/like", gin.H{"action": "like", "userId": "alice", "postId": "post1"})
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]any)
	assert.Equal(t, true, data["isNewLike"])
	assert.Equal(t, float64(1), data["likes"])

	w = postJSON(router, "/api/like", gin.H{"action": "hasLiked", "userId": "alice", "postId": "post1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeEnvelope(t, w)["data"].(map[string]any)["hasLiked"])

	w = postJSON(router, "/api/like", gin.H{"action": "count", "postId": "post1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeEnvelope(t, w)["data"].(map[string]any)["likes"])

	w = postJSON(router, "/api/like", gin.H{"action": "unlike", "userId": "alice", "postId": "post1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decodeEnvelope(t, w)["data"].(map[string]any)["likes"])
}

func TestMethodNotAllowed(t *testing.T) {
	_, router := setupTestRouter(t)

	req, _ := http.NewRequest(http.MethodPut, "/api", bytes.NewReader([]byte("{}")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
