package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildSetUnmarshal_LegacyShapes(t *testing.T) {
	tests := []struct {
		name string
		data string
		want ChildSet
	}{
		{"object form", `{"c1": true, "c2": true}`, ChildSet{"c1": true, "c2": true}},
		{"object with tombstone", `{"c1": true, "c2": false}`, ChildSet{"c1": true}},
		{"array of stubs", `[{"id": "c1"}, {"id": "c2"}]`, ChildSet{"c1": true, "c2": true}},
		{"array of strings", `["c1", "c2"]`, ChildSet{"c1": true, "c2": true}},
		{"empty object", `{}`, ChildSet{}},
		{"empty array", `[]`, ChildSet{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ChildSet
			require.NoError(t, json.Unmarshal([]byte(tt.data), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChildSetMarshal_AlwaysObjectForm(t *testing.T) {
	var set ChildSet
	require.NoError(t, json.Unmarshal([]byte(`[{"id":"c1"}]`), &set))

	out, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `{"c1": true}`, string(out))
}

func TestCommentNodeJSON_RepliesShadowChildSet(t *testing.T) {
	node := CommentNode{
		Comment: Comment{ID: "c1", ParentID: "0", Children: ChildSet{"c2": true}},
		Replies: []*CommentNode{
			{Comment: Comment{ID: "c2", ParentID: "c1", Children: ChildSet{}}},
		},
	}

	out, err := json.Marshal(node)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))

	children, ok := decoded["children"].([]any)
	require.True(t, ok, "children must serialize as the resolved reply list, not the id set")
	require.Len(t, children, 1)

	reply := children[0].(map[string]any)
	assert.Equal(t, "c2", reply["id"])
}

func TestUserWithoutPassword(t *testing.T) {
	u := User{Username: "alice", Password: "$2a$14$hash"}
	assert.Empty(t, u.WithoutPassword().Password)
	assert.Equal(t, "$2a$14$hash", u.Password, "original must be untouched")
}
