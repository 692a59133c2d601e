package comment

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"comentario/models"
)

// markdown renderer for comment bodies. No raw-HTML passthrough: comment
// authors are untrusted, so raw HTML stays escaped.
var md = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Linkify,
	),
)

func renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		// on error, return the original content rather than break the response
		return content
	}
	return buf.String()
}

// renderTree fills CommentHTML on every node of the forest.
func renderTree(nodes []*models.CommentNode) {
	for _, node := range nodes {
		node.CommentHTML = renderMarkdown(node.Comment.Comment)
		renderTree(node.Replies)
	}
}
