package models

import (
	"encoding/json"
	"time"
)

// User lives at users/{username} in the store.
type User struct {
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Password    string     `json:"password,omitempty"` // salted hash, stripped before responses
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	LastLoginAt *time.Time `json:"lastLoginAt"`
	Role        string     `json:"role"` // "user" or "admin"
}

// WithoutPassword returns a copy safe to hand back to clients.
func (u User) WithoutPassword() User {
	u.Password = ""
	return u
}

// Comment lives at comments/{postId}/{commentId}.
// Likes counts direct likes only; TotalLikes is the denormalized subtree sum
// (likes plus TotalLikes of every child), refreshed by the like aggregator.
type Comment struct {
	ID         string   `json:"id"`
	ParentID   string   `json:"parentId"` // "0" for top-level comments
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Comment    string   `json:"comment"`
	Date       int64    `json:"date"` // ms since epoch
	Floor      int      `json:"floor"`
	Likes      int      `json:"likes"`
	TotalLikes int      `json:"totalLikes"`
	Children   ChildSet `json:"children"`
	LastSync   int64    `json:"lastSync"` // ms since epoch of last totalLikes recomputation
	IsGuest    bool     `json:"isGuest"`
}

// CommentNode is the tree shape returned by list: the comment itself plus its
// resolved children, sorted by floor. Replies shadows the embedded Children set
// under the same JSON key. CommentHTML is only set when HTML rendering was
// requested.
type CommentNode struct {
	Comment
	Replies     []*CommentNode `json:"children"`
	CommentHTML string         `json:"commentHtml,omitempty"`
}

// ArticleLike lives at articleLikes/{username}_{postId}; present while the
// user's like is in effect.
type ArticleLike struct {
	Username  string `json:"username"`
	PostID    string `json:"postId"`
	CreatedAt int64  `json:"createdAt"`
}

// CommentLike lives at commentLikes/{username}_{postId}_{commentId}.
type CommentLike struct {
	Username  string `json:"username"`
	PostID    string `json:"postId"`
	CommentID string `json:"commentId"`
	CreatedAt int64  `json:"createdAt"`
}

// ChildSet is the set of child comment ids on a comment. Older records stored
// it inconsistently, so unmarshalling accepts every historical shape (object of
// id->true, array of {id} stubs, array of id strings) and marshalling always
// emits the object form.
type ChildSet map[string]bool

func (s ChildSet) MarshalJSON() ([]byte, error) {
	out := make(map[string]bool, len(s))
	for id, ok := range s {
		if ok {
			out[id] = true
		}
	}
	return json.Marshal(out)
}

func (s *ChildSet) UnmarshalJSON(data []byte) error {
	*s = ChildSet{}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(data, &asObject); err == nil {
		for id, raw := range asObject {
			var off bool
			// {"abc": false} means the id was tombstoned; skip it.
			if err := json.Unmarshal(raw, &off); err == nil && !off {
				continue
			}
			(*s)[id] = true
		}
		return nil
	}

	var asArray []json.RawMessage
	if err := json.Unmarshal(data, &asArray); err != nil {
		return err
	}
	for _, raw := range asArray {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil {
			if id != "" {
				(*s)[id] = true
			}
			continue
		}
		var stub struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &stub); err != nil {
			return err
		}
		if stub.ID != "" {
			(*s)[stub.ID] = true
		}
	}
	return nil
}

// IDs returns the child ids in unspecified order.
func (s ChildSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id, ok := range s {
		if ok {
			ids = append(ids, id)
		}
	}
	return ids
}
