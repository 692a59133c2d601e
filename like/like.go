package like

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"comentario/common"
	"comentario/models"
	"comentario/store"
	"comentario/validate"
)

// maxRecursionDepth bounds subtree walks and the ancestor chain. It doubles as
// a cycle guard: a healthy tree never comes close.
const maxRecursionDepth = 20

// LikeModule owns the per-user like records, the direct like counters and the
// denormalized totalLikes field on every comment.
//
// A like is a state machine per (user, target): absent <-> present. Both
// transitions run as a transaction on the flag record; when the updater
// observes the forbidden current state it aborts, making every endpoint an
// idempotent no-op on repeats. Counter bumps are separate transactions, so
// totalLikes on ancestors is eventually consistent, repaired by recomputation.
type LikeModule struct {
	store *store.Store
}

func NewLikeModule(s *store.Store) *LikeModule {
	return &LikeModule{store: s}
}

// Result reports what a like/unlike did and the counters afterwards.
// TotalLikes is always present, zero included; a balanced remove legitimately
// lands on 0 and clients still need the field. Article likes have no subtree,
// so theirs stays 0.
type Result struct {
	IsNewLike  bool `json:"isNewLike"`
	IsRemoved  bool `json:"isRemoved"`
	Likes      int  `json:"likes"`
	TotalLikes int  `json:"totalLikes"`
}

func articleLikePath(username, postID string) string {
	return "articleLikes/" + username + "_" + postID
}

func commentLikePath(username, postID, commentID string) string {
	return "commentLikes/" + username + "_" + postID + "_" + commentID
}

func commentPath(postID, commentID string) string {
	return "comments/" + postID + "/" + commentID
}

func articleCounterPath(postID string) string {
	return "articles/" + postID + "/likes"
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// bumpCounter clamps at zero so a stray double-remove can never drive a
// counter negative.
func bumpCounter(delta int) store.TxnFunc {
	return func(current json.RawMessage) (any, error) {
		count := 0
		if current != nil {
			if err := json.Unmarshal(current, &count); err != nil {
				count = 0
			}
		}
		count += delta
		if count < 0 {
			count = 0
		}
		return count, nil
	}
}

func validateIDs(ids ...string) error {
	for _, id := range ids {
		if !validate.Validate(id, validate.KindID) {
			return fmt.Errorf("%w: malformed id %q", common.ErrValidation, id)
		}
	}
	return nil
}

// AddArticleLike records username's like on postId once. Articles have no
// stored record of their own, so there is no existence check.
func (l *LikeModule) AddArticleLike(ctx context.Context, username, postID string) (*Result, error) {
	if err := validateIDs(username, postID); err != nil {
		return nil, err
	}

	record := models.ArticleLike{Username: username, PostID: postID, CreatedAt: nowMillis()}
	committed, err := l.store.Transact(ctx, articleLikePath(username, postID), func(current json.RawMessage) (any, error) {
		if current != nil {
			return nil, store.ErrTxAbort
		}
		return record, nil
	})
	if err != nil {
		return nil, err
	}

	if committed {
		if _, err := l.store.Transact(ctx, articleCounterPath(postID), bumpCounter(+1)); err != nil {
			return nil, err
		}
	}

	count, err := l.GetArticleLikeCount(ctx, postID)
	if err != nil {
		return nil, err
	}
	return &Result{IsNewLike: committed, Likes: count}, nil
}

// RemoveArticleLike is the reverse transition; removing an absent like is an
// idempotent no-op.
func (l *LikeModule) RemoveArticleLike(ctx context.Context, username, postID string) (*Result, error) {
	if err := validateIDs(username, postID); err != nil {
		return nil, err
	}

	committed, err := l.store.Transact(ctx, articleLikePath(username, postID), func(current json.RawMessage) (any, error) {
		if current == nil {
			return nil, store.ErrTxAbort
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	if committed {
		if _, err := l.store.Transact(ctx, articleCounterPath(postID), bumpCounter(-1)); err != nil {
			return nil, err
		}
	}

	count, err := l.GetArticleLikeCount(ctx, postID)
	if err != nil {
		return nil, err
	}
	return &Result{IsRemoved: committed, Likes: count}, nil
}

// HasLikedArticle reports whether username's like on postId is in effect.
func (l *LikeModule) HasLikedArticle(ctx context.Context, username, postID string) (bool, error) {
	if err := validateIDs(username, postID); err != nil {
		return false, err
	}
	var record models.ArticleLike
	return l.store.Read(ctx, articleLikePath(username, postID), &record)
}

// GetArticleLikeCount returns the article's like counter; never-liked
// articles count zero.
func (l *LikeModule) GetArticleLikeCount(ctx context.Context, postID string) (int, error) {
	if err := validateIDs(postID); err != nil {
		return 0, err
	}
	count := 0
	if _, err := l.store.Read(ctx, articleCounterPath(postID), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// AddCommentLike records username's like on a comment, bumps its direct
// counter and refreshes totalLikes up the ancestor chain. Liking a deleted
// comment is a ghost target.
func (l *LikeModule) AddCommentLike(ctx context.Context, username, postID, commentID string) (*Result, error) {
	if err := validateIDs(username, postID, commentID); err != nil {
		return nil, err
	}

	var target models.Comment
	found, err := l.store.Read(ctx, commentPath(postID, commentID), &target)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: comment %s no longer exists", common.ErrGhostTarget, commentID)
	}

	record := models.CommentLike{Username: username, PostID: postID, CommentID: commentID, CreatedAt: nowMillis()}
	committed, err := l.store.Transact(ctx, commentLikePath(username, postID, commentID), func(current json.RawMessage) (any, error) {
		if current != nil {
			return nil, store.ErrTxAbort
		}
		return record, nil
	})
	if err != nil {
		return nil, err
	}

	if committed {
		if _, err := l.store.Transact(ctx, commentPath(postID, commentID)+"/likes", bumpCounter(+1)); err != nil {
			return nil, err
		}
	}

	if _, err := l.RecomputeSubtree(ctx, postID, commentID); err != nil {
		return nil, err
	}
	if err := l.PropagateToAncestors(ctx, postID, commentID); err != nil {
		return nil, err
	}

	likes, total, err := l.GetCommentLikeCounts(ctx, postID, commentID)
	if err != nil {
		return nil, err
	}
	return &Result{IsNewLike: committed, Likes: likes, TotalLikes: total}, nil
}

// RemoveCommentLike is symmetric to AddCommentLike.
func (l *LikeModule) RemoveCommentLike(ctx context.Context, username, postID, commentID string) (*Result, error) {
	if err := validateIDs(username, postID, commentID); err != nil {
		return nil, err
	}

	var target models.Comment
	found, err := l.store.Read(ctx, commentPath(postID, commentID), &target)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: comment %s no longer exists", common.ErrGhostTarget, commentID)
	}

	committed, err := l.store.Transact(ctx, commentLikePath(username, postID, commentID), func(current json.RawMessage) (any, error) {
		if current == nil {
			return nil, store.ErrTxAbort
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	if committed {
		if _, err := l.store.Transact(ctx, commentPath(postID, commentID)+"/likes", bumpCounter(-1)); err != nil {
			return nil, err
		}
	}

	if _, err := l.RecomputeSubtree(ctx, postID, commentID); err != nil {
		return nil, err
	}
	if err := l.PropagateToAncestors(ctx, postID, commentID); err != nil {
		return nil, err
	}

	likes, total, err := l.GetCommentLikeCounts(ctx, postID, commentID)
	if err != nil {
		return nil, err
	}
	return &Result{IsRemoved: committed, Likes: likes, TotalLikes: total}, nil
}

// HasLikedComment reports whether username's like on the comment is in effect.
func (l *LikeModule) HasLikedComment(ctx context.Context, username, postID, commentID string) (bool, error) {
	if err := validateIDs(username, postID, commentID); err != nil {
		return false, err
	}
	var record models.CommentLike
	return l.store.Read(ctx, commentLikePath(username, postID, commentID), &record)
}

// GetCommentLikeCounts returns the direct and subtree counters of a comment.
func (l *LikeModule) GetCommentLikeCounts(ctx context.Context, postID, commentID string) (likes, totalLikes int, err error) {
	if err := validateIDs(postID, commentID); err != nil {
		return 0, 0, err
	}
	var target models.Comment
	found, err := l.store.Read(ctx, commentPath(postID, commentID), &target)
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, fmt.Errorf("%w: comment %s", common.ErrNotFound, commentID)
	}
	return target.Likes, target.TotalLikes, nil
}

// RecomputeSubtree rebuilds totalLikes for the comment and its whole subtree
// from stored state (post-order DFS) and returns the subtree total. Children
// that vanished under a concurrent delete contribute zero.
func (l *LikeModule) RecomputeSubtree(ctx context.Context, postID, commentID string) (int, error) {
	return l.recompute(ctx, postID, commentID, 0)
}

func (l *LikeModule) recompute(ctx context.Context, postID, commentID string, depth int) (int, error) {
	if depth > maxRecursionDepth {
		return 0, nil
	}

	var node models.Comment
	found, err := l.store.Read(ctx, commentPath(postID, commentID), &node)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}

	total := node.Likes
	childIDs := node.Children.IDs()
	sort.Strings(childIDs)
	for _, childID := range childIDs {
		childTotal, err := l.recompute(ctx, postID, childID, depth+1)
		if err != nil {
			return 0, err
		}
		total += childTotal
	}

	err = l.store.Merge(ctx, commentPath(postID, commentID), map[string]any{
		"totalLikes": total,
		"lastSync":   nowMillis(),
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// PropagateToAncestors walks the parent chain starting at startCommentID,
// recomputing the subtree total at every step. Stops at a top-level comment,
// at a missing node, or at the depth bound (cycle guard).
func (l *LikeModule) PropagateToAncestors(ctx context.Context, postID, startCommentID string) error {
	current := startCommentID
	for depth := 0; depth <= maxRecursionDepth; depth++ {
		var node models.Comment
		found, err := l.store.Read(ctx, commentPath(postID, current), &node)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}

		if _, err := l.RecomputeSubtree(ctx, postID, current); err != nil {
			return err
		}

		if node.ParentID == "" || node.ParentID == "0" {
			return nil
		}
		current = node.ParentID
	}
	return nil
}
