package comment

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"comentario/common"
	"comentario/like"
	"comentario/models"
	"comentario/store"
	"comentario/user"
	"comentario/validate"
)

// staleAfter is how old a comment's lastSync may get before list schedules a
// background recomputation of its subtree total.
const staleAfter = 5 * time.Minute

// maxTreeDepth bounds descendant collection on delete, mirroring the
// aggregator's recursion bound.
const maxTreeDepth = 20

// CommentModule owns the records under comments/{postId}/{commentId}:
// parent/child links, floor numbering, and the mutations that change subtree
// membership (which it hands to the like aggregator for re-totaling).
type CommentModule struct {
	store *store.Store
	likes *like.LikeModule
	users *user.UserModule
}

func NewCommentModule(s *store.Store, likes *like.LikeModule, users *user.UserModule) *CommentModule {
	return &CommentModule{store: s, likes: likes, users: users}
}

func postPath(postID string) string {
	return "comments/" + postID
}

func commentPath(postID, commentID string) string {
	return "comments/" + postID + "/" + commentID
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// AddRequest is the input for Add. ParentID defaults to "0" (top-level).
type AddRequest struct {
	PostID   string `json:"postId"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Comment  string `json:"comment"`
	ParentID string `json:"parentId"`
	IsGuest  bool   `json:"isGuest"`
}

// Add creates a comment, assigns its floor among siblings, links it into the
// parent's child set and lets the aggregator refresh ancestor totals. A
// parentId that no longer exists falls back to top-level rather than failing.
//
// Racing inserts under the same parent may produce duplicate floors; that is
// tolerated, floors are ordinals at insertion time, not unique keys.
func (m *CommentModule) Add(ctx context.Context, req AddRequest) (*models.Comment, error) {
	req.Name = validate.Sanitize(req.Name)
	req.Email = validate.Sanitize(req.Email)
	req.Comment = validate.Sanitize(req.Comment)
	if req.ParentID == "" {
		req.ParentID = "0"
	}

	if !validate.Validate(req.PostID, validate.KindID) {
		return nil, fmt.Errorf("%w: postId", common.ErrValidation)
	}
	if req.ParentID != "0" && !validate.Validate(req.ParentID, validate.KindID) {
		return nil, fmt.Errorf("%w: parentId", common.ErrValidation)
	}
	if !validate.Validate(req.Name, validate.KindName) {
		return nil, fmt.Errorf("%w: name", common.ErrValidation)
	}
	if !validate.Validate(req.Email, validate.KindEmail) {
		return nil, fmt.Errorf("%w: email", common.ErrValidation)
	}
	if !validate.Validate(req.Comment, validate.KindComment) {
		return nil, fmt.Errorf("%w: comment must be 1-500 chars", common.ErrValidation)
	}

	var existing map[string]models.Comment
	if _, err := m.store.Read(ctx, postPath(req.PostID), &existing); err != nil {
		return nil, err
	}

	if req.ParentID != "0" {
		if _, ok := existing[req.ParentID]; !ok {
			log.Printf("post %s: parent %s is gone, attaching comment at top level", req.PostID, req.ParentID)
			req.ParentID = "0"
		}
	}

	floor := 1
	for _, sibling := range existing {
		if sibling.ParentID == req.ParentID {
			floor++
		}
	}

	now := nowMillis()
	record := models.Comment{
		ParentID:   req.ParentID,
		Name:       req.Name,
		Email:      req.Email,
		Comment:    req.Comment,
		Date:       now,
		Floor:      floor,
		Likes:      0,
		TotalLikes: 0,
		Children:   models.ChildSet{},
		LastSync:   now,
		IsGuest:    req.IsGuest,
	}

	id, err := m.store.Create(ctx, postPath(req.PostID), record)
	if err != nil {
		return nil, err
	}
	record.ID = id
	if err := m.store.Merge(ctx, commentPath(req.PostID, id), map[string]any{"id": id}); err != nil {
		return nil, err
	}

	if req.ParentID != "0" {
		linked, err := m.store.Transact(ctx, commentPath(req.PostID, req.ParentID), func(current json.RawMessage) (any, error) {
			if current == nil {
				return nil, store.ErrTxAbort
			}
			var parent models.Comment
			if err := json.Unmarshal(current, &parent); err != nil {
				return nil, err
			}
			if parent.Children == nil {
				parent.Children = models.ChildSet{}
			}
			parent.Children[id] = true
			return parent, nil
		})
		if err != nil {
			return nil, err
		}
		if !linked {
			// Parent vanished between the read and the link; re-home to root.
			log.Printf("post %s: parent %s deleted mid-add, re-homing %s to top level", req.PostID, req.ParentID, id)
			record.ParentID = "0"
			if err := m.store.Merge(ctx, commentPath(req.PostID, id), map[string]any{"parentId": "0"}); err != nil {
				return nil, err
			}
		} else if err := m.likes.PropagateToAncestors(ctx, req.PostID, req.ParentID); err != nil {
			return nil, err
		}
	}

	return &record, nil
}

// List returns the post's comment forest: top-level comments with their
// replies nested, siblings sorted by floor. Orphans attach to the root with a
// warning. Comments whose totals look stale get a background recompute.
// With renderHTML set, every node also carries its body rendered to HTML.
func (m *CommentModule) List(ctx context.Context, postID string, renderHTML bool) ([]*models.CommentNode, error) {
	if !validate.Validate(postID, validate.KindID) {
		return nil, fmt.Errorf("%w: postId", common.ErrValidation)
	}

	var flat map[string]models.Comment
	if _, err := m.store.Read(ctx, postPath(postID), &flat); err != nil {
		return nil, err
	}

	nodes := make(map[string]*models.CommentNode, len(flat))
	for id, c := range flat {
		if c.ID == "" {
			c.ID = id
		}
		nodes[id] = &models.CommentNode{Comment: c}
	}

	var roots []*models.CommentNode
	staleBefore := time.Now().Add(-staleAfter).UnixMilli()
	var stale []string

	for id, node := range nodes {
		if node.LastSync < staleBefore {
			stale = append(stale, id)
		}
		if node.ParentID == "" || node.ParentID == "0" {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[node.ParentID]
		if !ok {
			log.Printf("post %s: comment %s references missing parent %s, attaching to root", postID, id, node.ParentID)
			roots = append(roots, node)
			continue
		}
		parent.Replies = append(parent.Replies, node)
	}

	sortSiblings(roots)
	for _, node := range nodes {
		sortSiblings(node.Replies)
	}

	if len(stale) > 0 {
		m.scheduleRecompute(postID, stale)
	}
	if renderHTML {
		renderTree(roots)
	}
	return roots, nil
}

func sortSiblings(siblings []*models.CommentNode) {
	sort.Slice(siblings, func(i, j int) bool {
		if siblings[i].Floor != siblings[j].Floor {
			return siblings[i].Floor < siblings[j].Floor
		}
		if siblings[i].Date != siblings[j].Date {
			return siblings[i].Date < siblings[j].Date
		}
		return siblings[i].ID < siblings[j].ID
	})
}

// scheduleRecompute refreshes stale subtree totals off the request path.
// Fire-and-forget: failures are only logged, the next list tries again.
func (m *CommentModule) scheduleRecompute(postID string, ids []string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		for _, id := range ids {
			if _, err := m.likes.RecomputeSubtree(ctx, postID, id); err != nil {
				log.Printf("post %s: background recompute of %s failed: %v", postID, id, err)
				return
			}
		}
	}()
}

// Edit replaces the comment body. Tree shape and like counters are untouched.
func (m *CommentModule) Edit(ctx context.Context, postID, commentID, body string) (*models.Comment, error) {
	if !validate.Validate(postID, validate.KindID) {
		return nil, fmt.Errorf("%w: postId", common.ErrValidation)
	}
	if !validate.Validate(commentID, validate.KindID) {
		return nil, fmt.Errorf("%w: commentId", common.ErrValidation)
	}
	body = validate.Sanitize(body)
	if !validate.Validate(body, validate.KindComment) {
		return nil, fmt.Errorf("%w: comment must be 1-500 chars", common.ErrValidation)
	}

	var record models.Comment
	found, err := m.store.Read(ctx, commentPath(postID, commentID), &record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: comment %s", common.ErrNotFound, commentID)
	}

	now := nowMillis()
	err = m.store.Merge(ctx, commentPath(postID, commentID), map[string]any{
		"comment":  body,
		"lastSync": now,
	})
	if err != nil {
		return nil, err
	}
	record.Comment = body
	record.LastSync = now
	return &record, nil
}

// Delete removes a comment and its whole subtree. Admin only: the requester's
// stored role decides, not who authored the comment.
func (m *CommentModule) Delete(ctx context.Context, postID, commentID, requester string) error {
	if !validate.Validate(postID, validate.KindID) {
		return fmt.Errorf("%w: postId", common.ErrValidation)
	}
	if !validate.Validate(commentID, validate.KindID) {
		return fmt.Errorf("%w: commentId", common.ErrValidation)
	}
	if !validate.Validate(requester, validate.KindUsername) {
		return fmt.Errorf("%w: requester", common.ErrValidation)
	}

	admin, err := m.users.IsAdmin(ctx, requester)
	if err != nil {
		return err
	}
	if !admin {
		return fmt.Errorf("%w: only admins may delete comments", common.ErrForbidden)
	}

	var target models.Comment
	found, err := m.store.Read(ctx, commentPath(postID, commentID), &target)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: comment %s", common.ErrNotFound, commentID)
	}

	// Comments are stored flat per post, so the subtree is discovered through
	// the child sets, then removed node by node.
	doomed, err := m.collectSubtree(ctx, postID, commentID)
	if err != nil {
		return err
	}
	for _, id := range doomed {
		if err := m.store.Delete(ctx, commentPath(postID, id)); err != nil {
			return err
		}
	}

	if target.ParentID != "" && target.ParentID != "0" {
		_, err := m.store.Transact(ctx, commentPath(postID, target.ParentID), func(current json.RawMessage) (any, error) {
			if current == nil {
				return nil, store.ErrTxAbort
			}
			var parent models.Comment
			if err := json.Unmarshal(current, &parent); err != nil {
				return nil, err
			}
			delete(parent.Children, commentID)
			return parent, nil
		})
		if err != nil {
			return err
		}
		if err := m.likes.PropagateToAncestors(ctx, postID, target.ParentID); err != nil {
			return err
		}
	}

	log.Printf("post %s: admin %s deleted comment %s (+%d descendants)", postID, requester, commentID, len(doomed)-1)
	return nil
}

// collectSubtree returns commentID plus every descendant reachable through
// the child sets, deepest first so deletion never orphans a still-linked node.
func (m *CommentModule) collectSubtree(ctx context.Context, postID, commentID string) ([]string, error) {
	var ordered []string
	seen := map[string]bool{}

	var walk func(id string, depth int) error
	walk = func(id string, depth int) error {
		if depth > maxTreeDepth || seen[id] {
			return nil
		}
		seen[id] = true

		var node models.Comment
		found, err := m.store.Read(ctx, commentPath(postID, id), &node)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		childIDs := node.Children.IDs()
		sort.Strings(childIDs)
		for _, childID := range childIDs {
			if err := walk(childID, depth+1); err != nil {
				return err
			}
		}
		ordered = append(ordered, id)
		return nil
	}

	if err := walk(commentID, 0); err != nil {
		return nil, err
	}
	return ordered, nil
}
