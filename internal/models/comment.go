package models

import "time"

// Comment is a comment on a post. Comments are append-only: there is no update
// or delete path.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// CommentOrder is the createdAt sort direction of a comment listing.
type CommentOrder string

const (
	CommentsOldestFirst CommentOrder = "asc"
	CommentsNewestFirst CommentOrder = "desc"
)

// ParseCommentOrder defaults to oldest first.
func ParseCommentOrder(s string) (CommentOrder, error) {
	switch CommentOrder(s) {
	case "", CommentsOldestFirst:
		return CommentsOldestFirst, nil
	case CommentsNewestFirst:
		return CommentsNewestFirst, nil
	}
	return "", NewValidationError("order must be asc or desc")
}

// CreateCommentRequest defines the request body for creating a new comment
type CreateCommentRequest struct {
	Text string `json:"text" validate:"required,min=1,max=2000"`
}
