package repositories

import (
	"context"
	"time"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
)

// PostRepository defines the interface for post data operations.
//
// Watch methods block, calling deliver with the full current result on every
// change, until ctx is cancelled (nil error) or the subscription fails.
type PostRepository interface {
	// CreatePost writes a new post. The caller supplies post.ID so a retried
	// create does not duplicate; an existing ID yields models.ErrConflict.
	CreatePost(ctx context.Context, post *models.Post) error
	GetPostByID(ctx context.Context, id string) (*models.Post, error)
	// ListPosts returns every post, newest first.
	ListPosts(ctx context.Context) ([]models.Post, error)
	WatchPosts(ctx context.Context, deliver func([]models.Post)) error
	UpdatePost(ctx context.Context, id string, patch models.PostPatch, updatedAt time.Time) error
	DeletePost(ctx context.Context, id string) error
	// AddLike and RemoveLike are set-add and set-remove on the likes array.
	AddLike(ctx context.Context, postID, uid string) error
	RemoveLike(ctx context.Context, postID, uid string) error
	IncrementCommentCount(ctx context.Context, postID string) error
	SetCommentCount(ctx context.Context, postID string, count int) error
}

// CommentRepository stores the comments of each post. There is no update or
// delete operation.
type CommentRepository interface {
	CreateComment(ctx context.Context, comment *models.Comment) error
	ListComments(ctx context.Context, postID string, order models.CommentOrder) ([]models.Comment, error)
	WatchComments(ctx context.Context, postID string, order models.CommentOrder, deliver func([]models.Comment)) error
	CountComments(ctx context.Context, postID string) (int, error)
}

// ProfileRepository stores the profile mirror of each identity.
type ProfileRepository interface {
	CreateProfile(ctx context.Context, profile *models.Profile) error
	GetProfile(ctx context.Context, uid string) (*models.Profile, error)
	ListProfiles(ctx context.Context) ([]models.Profile, error)
	// UpdateProfile merges fields into an existing profile document.
	UpdateProfile(ctx context.Context, uid string, fields map[string]interface{}) error
	// WatchProfile delivers nil while the document does not exist.
	WatchProfile(ctx context.Context, uid string, deliver func(*models.Profile)) error
	AddFollower(ctx context.Context, uid, followerID string) error
	RemoveFollower(ctx context.Context, uid, followerID string) error
	AddFollowing(ctx context.Context, uid, targetID string) error
	RemoveFollowing(ctx context.Context, uid, targetID string) error
}

// Store bundles the document repositories of one backend.
type Store struct {
	Posts    PostRepository
	Comments CommentRepository
	Profiles ProfileRepository
}

func descending(order models.CommentOrder) bool {
	return order == models.CommentsNewestFirst
}
