package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"comentario/comment"
	"comentario/common"
	"comentario/like"
	"comentario/user"
)

// ApiModule is the single routing indirection: it parses the request body,
// picks the (type, action) pair and hands off to one of the services.
type ApiModule struct {
	users    *user.UserModule
	comments *comment.CommentModule
	likes    *like.LikeModule
}

func NewApiModule(users *user.UserModule, comments *comment.CommentModule, likes *like.LikeModule) *ApiModule {
	return &ApiModule{users: users, comments: comments, likes: likes}
}

func (a *ApiModule) RegisterRoutes(router *gin.Engine) {
	router.POST("/api", a.dispatch(""))
	// compatibility endpoints with an implicit type
	router.POST("/api/comments", a.dispatch("comment"))
	router.POST("/api/like", a.dispatch("article"))
	router.POST("/api/user", a.dispatch("user"))

	router.GET("/api/comments", a.listComments)
}

// Request is the dispatch envelope. Data carries action-specific fields.
type Request struct {
	Type      string          `json:"type"`
	Action    string          `json:"action"`
	UserID    string          `json:"userId"`
	PostID    string          `json:"postId"`
	CommentID string          `json:"commentId"`
	Data      json.RawMessage `json:"data"`
}

func (a *ApiModule) dispatch(implicitType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Request
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, fmt.Errorf("%w: malformed request body", common.ErrValidation))
			return
		}
		if implicitType != "" {
			req.Type = implicitType
		}

		data, err := a.route(c, req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
	}
}

// route maps every recognized (type, action) pair onto a service call.
// Anything else is a validation failure.
func (a *ApiModule) route(c *gin.Context, req Request) (any, error) {
	ctx := c.Request.Context()

	switch req.Type {
	case "user":
		switch req.Action {
		case "register":
			var body struct {
				Username string `json:"username"`
				Email    string `json:"email"`
				Password string `json:"password"`
			}
			if err := unmarshalData(req.Data, &body); err != nil {
				return nil, err
			}
			return a.users.Register(ctx, body.Username, body.Email, body.Password)
		case "login":
			var body struct {
				Username string `json:"username"`
				Password string `json:"password"`
			}
			if err := unmarshalData(req.Data, &body); err != nil {
				return nil, err
			}
			return a.users.Login(ctx, body.Username, body.Password)
		case "profile":
			return a.users.GetProfile(ctx, req.UserID)
		case "update":
			var patch user.Patch
			if err := unmarshalData(req.Data, &patch); err != nil {
				return nil, err
			}
			return a.users.Update(ctx, req.UserID, patch)
		case "delete":
			return nil, a.users.Delete(ctx, req.UserID)
		}

	case "comment":
		switch req.Action {
		case "add":
			var body comment.AddRequest
			if err := unmarshalData(req.Data, &body); err != nil {
				return nil, err
			}
			body.PostID = req.PostID
			return a.comments.Add(ctx, body)
		case "list":
			return a.comments.List(ctx, req.PostID, false)
		case "edit":
			var body struct {
				Comment string `json:"comment"`
			}
			if err := unmarshalData(req.Data, &body); err != nil {
				return nil, err
			}
			return a.comments.Edit(ctx, req.PostID, req.CommentID, body.Comment)
		case "delete":
			return nil, a.comments.Delete(ctx, req.PostID, req.CommentID, req.UserID)
		case "like":
			return a.likes.AddCommentLike(ctx, req.UserID, req.PostID, req.CommentID)
		case "unlike":
			return a.likes.RemoveCommentLike(ctx, req.UserID, req.PostID, req.CommentID)
		case "hasLiked":
			liked, err := a.likes.HasLikedComment(ctx, req.UserID, req.PostID, req.CommentID)
			if err != nil {
				return nil, err
			}
			return gin.H{"hasLiked": liked}, nil
		case "count":
			likes, total, err := a.likes.GetCommentLikeCounts(ctx, req.PostID, req.CommentID)
			if err != nil {
				return nil, err
			}
			return gin.H{"likes": likes, "totalLikes": total}, nil
		}

	case "article":
		switch req.Action {
		case "like":
			return a.likes.AddArticleLike(ctx, req.UserID, req.PostID)
		case "unlike":
			return a.likes.RemoveArticleLike(ctx, req.UserID, req.PostID)
		case "hasLiked":
			liked, err := a.likes.HasLikedArticle(ctx, req.UserID, req.PostID)
			if err != nil {
				return nil, err
			}
			return gin.H{"hasLiked": liked}, nil
		case "count":
			count, err := a.likes.GetArticleLikeCount(ctx, req.PostID)
			if err != nil {
				return nil, err
			}
			return gin.H{"likes": count}, nil
		}
	}

	return nil, fmt.Errorf("%w: unknown action %q for type %q", common.ErrValidation, req.Action, req.Type)
}

// listComments serves GET /api/comments?postId=...; format=html additionally
// returns each body rendered to HTML.
func (a *ApiModule) listComments(c *gin.Context) {
	postID := c.Query("postId")
	renderHTML := c.Query("format") == "html"

	tree, err := a.comments.List(c.Request.Context(), postID, renderHTML)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": tree})
}

func unmarshalData(data json.RawMessage, out any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", common.ErrValidation)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: malformed data", common.ErrValidation)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrGhostTarget):
		return http.StatusGone
	case errors.Is(err, common.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError maps the error taxonomy onto statuses. Internal errors only
// reveal their message outside release mode; the full error is always logged.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()

	if status == http.StatusInternalServerError {
		log.Printf("internal error on %s: %v", c.FullPath(), err)
		if gin.Mode() == gin.ReleaseMode {
			message = "internal server error"
		}
	}
	c.JSON(status, gin.H{"success": false, "message": message})
}
