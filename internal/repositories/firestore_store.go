package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
)

const (
	postsCollection    = "posts"
	commentsCollection = "comments"
	profilesCollection = "users"
)

// NewFirestoreStore returns the Firestore-backed repositories. Comments live in
// the posts/{id}/comments sub-collection.
func NewFirestoreStore(client *firestore.Client) *Store {
	return &Store{
		Posts:    &FirestorePostRepository{client: client},
		Comments: &FirestoreCommentRepository{client: client},
		Profiles: &FirestoreProfileRepository{client: client},
	}
}

// firestoreError maps gRPC status codes onto the model sentinels.
func firestoreError(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return &models.AppError{Code: models.CodeNotFound, Message: fmt.Sprintf("%s with ID %s not found", resource, id), Err: err}
	case codes.AlreadyExists:
		return &models.AppError{Code: models.CodeConflict, Message: fmt.Sprintf("%s with ID %s already exists", resource, id), Err: err}
	case codes.Unavailable, codes.DeadlineExceeded:
		return &models.AppError{Code: models.CodeUnavailable, Message: "firestore unavailable", Err: err}
	}
	return err
}

// snapshotEnded reports whether a snapshot iterator stopped because its context
// was cancelled rather than because of a failure.
func snapshotEnded(ctx context.Context, err error) bool {
	return ctx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, iterator.Done)
}

type firestoreAuthor struct {
	ID          string `firestore:"id"`
	DisplayName string `firestore:"displayName"`
	AvatarURL   string `firestore:"avatarUrl"`
}

type firestoreAttachment struct {
	URL      string `firestore:"url"`
	Kind     string `firestore:"kind"`
	Filename string `firestore:"filename"`
	Path     string `firestore:"path"`
}

type firestorePost struct {
	Author       firestoreAuthor        `firestore:"author"`
	Type         string                 `firestore:"type"`
	Content      map[string]interface{} `firestore:"content"`
	Tags         []string               `firestore:"tags"`
	Likes        []string               `firestore:"likes"`
	CommentCount int64                  `firestore:"commentCount"`
	CreatedAt    time.Time              `firestore:"createdAt"`
	UpdatedAt    *time.Time             `firestore:"updatedAt,omitempty"`
	Attachments  []firestoreAttachment  `firestore:"attachments"`
}

func toFirestorePost(p *models.Post) (*firestorePost, error) {
	content, err := models.ContentToMap(p.Content)
	if err != nil {
		return nil, err
	}
	doc := &firestorePost{
		Author:       firestoreAuthor(p.Author),
		Type:         string(p.Type),
		Content:      content,
		Tags:         append([]string{}, p.Tags...),
		Likes:        append([]string{}, p.Likes...),
		CommentCount: int64(p.CommentCount),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	for _, a := range p.Attachments {
		doc.Attachments = append(doc.Attachments, firestoreAttachment{URL: a.URL, Kind: string(a.Kind), Filename: a.Filename, Path: a.Path})
	}
	return doc, nil
}

func fromFirestorePost(snap *firestore.DocumentSnapshot) (models.Post, error) {
	var doc firestorePost
	if err := snap.DataTo(&doc); err != nil {
		return models.Post{}, fmt.Errorf("decoding post %s: %w", snap.Ref.ID, err)
	}
	content, err := models.ContentFromMap(models.PostType(doc.Type), doc.Content)
	if err != nil {
		return models.Post{}, fmt.Errorf("decoding post %s content: %w", snap.Ref.ID, err)
	}
	post := models.Post{
		ID:           snap.Ref.ID,
		Author:       models.Author(doc.Author),
		Type:         models.PostType(doc.Type),
		Content:      content,
		Tags:         doc.Tags,
		Likes:        doc.Likes,
		CommentCount: int(doc.CommentCount),
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
	if post.Tags == nil {
		post.Tags = []string{}
	}
	if post.Likes == nil {
		post.Likes = []string{}
	}
	for _, a := range doc.Attachments {
		post.Attachments = append(post.Attachments, models.Attachment{URL: a.URL, Kind: models.AttachmentKind(a.Kind), Filename: a.Filename, Path: a.Path})
	}
	return post, nil
}

// decodePosts skips documents that do not decode so one bad post cannot blank
// the feed.
func decodePosts(docs []*firestore.DocumentSnapshot) []models.Post {
	posts := make([]models.Post, 0, len(docs))
	for _, d := range docs {
		p, err := fromFirestorePost(d)
		if err != nil {
			log.Warn().Err(err).Str("post_id", d.Ref.ID).Msg("Skipping undecodable post")
			continue
		}
		posts = append(posts, p)
	}
	return posts
}

// FirestorePostRepository implements PostRepository for Cloud Firestore.
type FirestorePostRepository struct {
	client *firestore.Client
}

func (r *FirestorePostRepository) coll() *firestore.CollectionRef {
	return r.client.Collection(postsCollection)
}

func (r *FirestorePostRepository) feedQuery() firestore.Query {
	return r.coll().OrderBy("createdAt", firestore.Desc)
}

func (r *FirestorePostRepository) CreatePost(ctx context.Context, post *models.Post) error {
	if post.ID == "" {
		post.ID = r.coll().NewDoc().ID
	}
	doc, err := toFirestorePost(post)
	if err != nil {
		return err
	}
	_, err = r.coll().Doc(post.ID).Create(ctx, doc)
	return firestoreError(err, "post", post.ID)
}

func (r *FirestorePostRepository) GetPostByID(ctx context.Context, id string) (*models.Post, error) {
	snap, err := r.coll().Doc(id).Get(ctx)
	if err != nil {
		return nil, firestoreError(err, "post", id)
	}
	post, err := fromFirestorePost(snap)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *FirestorePostRepository) ListPosts(ctx context.Context) ([]models.Post, error) {
	docs, err := r.feedQuery().Documents(ctx).GetAll()
	if err != nil {
		return nil, firestoreError(err, "post", "")
	}
	return decodePosts(docs), nil
}

func (r *FirestorePostRepository) WatchPosts(ctx context.Context, deliver func([]models.Post)) error {
	it := r.feedQuery().Snapshots(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err != nil {
			if snapshotEnded(ctx, err) {
				return nil
			}
			return fmt.Errorf("posts snapshot: %w", err)
		}
		docs, err := snap.Documents.GetAll()
		if err != nil {
			return fmt.Errorf("reading posts snapshot: %w", err)
		}
		deliver(decodePosts(docs))
	}
}

func (r *FirestorePostRepository) update(ctx context.Context, id string, updates []firestore.Update) error {
	_, err := r.coll().Doc(id).Update(ctx, updates)
	return firestoreError(err, "post", id)
}

func (r *FirestorePostRepository) UpdatePost(ctx context.Context, id string, patch models.PostPatch, updatedAt time.Time) error {
	updates := []firestore.Update{{Path: "updatedAt", Value: updatedAt}}
	if patch.Content != nil {
		content, err := models.ContentToMap(patch.Content)
		if err != nil {
			return err
		}
		updates = append(updates, firestore.Update{Path: "content", Value: content})
	}
	if patch.Tags != nil {
		updates = append(updates, firestore.Update{Path: "tags", Value: patch.Tags})
	}
	return r.update(ctx, id, updates)
}

func (r *FirestorePostRepository) DeletePost(ctx context.Context, id string) error {
	_, err := r.coll().Doc(id).Delete(ctx, firestore.Exists)
	return firestoreError(err, "post", id)
}

func (r *FirestorePostRepository) AddLike(ctx context.Context, postID, uid string) error {
	return r.update(ctx, postID, []firestore.Update{{Path: "likes", Value: firestore.ArrayUnion(uid)}})
}

func (r *FirestorePostRepository) RemoveLike(ctx context.Context, postID, uid string) error {
	return r.update(ctx, postID, []firestore.Update{{Path: "likes", Value: firestore.ArrayRemove(uid)}})
}

func (r *FirestorePostRepository) IncrementCommentCount(ctx context.Context, postID string) error {
	return r.update(ctx, postID, []firestore.Update{{Path: "commentCount", Value: firestore.Increment(1)}})
}

func (r *FirestorePostRepository) SetCommentCount(ctx context.Context, postID string, count int) error {
	return r.update(ctx, postID, []firestore.Update{{Path: "commentCount", Value: count}})
}

type firestoreComment struct {
	PostID    string          `firestore:"postId"`
	Author    firestoreAuthor `firestore:"author"`
	Text      string          `firestore:"text"`
	CreatedAt time.Time       `firestore:"createdAt"`
}

// FirestoreCommentRepository implements CommentRepository for Cloud Firestore.
type FirestoreCommentRepository struct {
	client *firestore.Client
}

func (r *FirestoreCommentRepository) coll(postID string) *firestore.CollectionRef {
	return r.client.Collection(postsCollection).Doc(postID).Collection(commentsCollection)
}

func (r *FirestoreCommentRepository) query(postID string, order models.CommentOrder) firestore.Query {
	dir := firestore.Asc
	if descending(order) {
		dir = firestore.Desc
	}
	return r.coll(postID).OrderBy("createdAt", dir)
}

func decodeComments(postID string, docs []*firestore.DocumentSnapshot) ([]models.Comment, error) {
	comments := make([]models.Comment, 0, len(docs))
	for _, d := range docs {
		var doc firestoreComment
		if err := d.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decoding comment %s: %w", d.Ref.ID, err)
		}
		comments = append(comments, models.Comment{
			ID:        d.Ref.ID,
			PostID:    postID,
			Author:    models.Author(doc.Author),
			Text:      doc.Text,
			CreatedAt: doc.CreatedAt,
		})
	}
	return comments, nil
}

func (r *FirestoreCommentRepository) CreateComment(ctx context.Context, comment *models.Comment) error {
	if comment.ID == "" {
		comment.ID = r.coll(comment.PostID).NewDoc().ID
	}
	_, err := r.coll(comment.PostID).Doc(comment.ID).Create(ctx, firestoreComment{
		PostID:    comment.PostID,
		Author:    firestoreAuthor(comment.Author),
		Text:      comment.Text,
		CreatedAt: comment.CreatedAt,
	})
	return firestoreError(err, "comment", comment.ID)
}

func (r *FirestoreCommentRepository) ListComments(ctx context.Context, postID string, order models.CommentOrder) ([]models.Comment, error) {
	docs, err := r.query(postID, order).Documents(ctx).GetAll()
	if err != nil {
		return nil, firestoreError(err, "post", postID)
	}
	return decodeComments(postID, docs)
}

func (r *FirestoreCommentRepository) WatchComments(ctx context.Context, postID string, order models.CommentOrder, deliver func([]models.Comment)) error {
	it := r.query(postID, order).Snapshots(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err != nil {
			if snapshotEnded(ctx, err) {
				return nil
			}
			return fmt.Errorf("comments snapshot: %w", err)
		}
		docs, err := snap.Documents.GetAll()
		if err != nil {
			return fmt.Errorf("reading comments snapshot: %w", err)
		}
		comments, err := decodeComments(postID, docs)
		if err != nil {
			return err
		}
		deliver(comments)
	}
}

func (r *FirestoreCommentRepository) CountComments(ctx context.Context, postID string) (int, error) {
	docs, err := r.coll(postID).Select().Documents(ctx).GetAll()
	if err != nil {
		return 0, firestoreError(err, "post", postID)
	}
	return len(docs), nil
}

type firestoreProfile struct {
	DisplayName string    `firestore:"displayName"`
	Email       string    `firestore:"email"`
	Bio         string    `firestore:"bio"`
	AvatarURL   string    `firestore:"avatarUrl"`
	Website     string    `firestore:"website"`
	Instagram   string    `firestore:"instagram"`
	Facebook    string    `firestore:"facebook"`
	Twitter     string    `firestore:"twitter"`
	JoinedAt    time.Time `firestore:"joinedAt"`
	Followers   []string  `firestore:"followers"`
	Following   []string  `firestore:"following"`
}

func fromFirestoreProfile(snap *firestore.DocumentSnapshot) (*models.Profile, error) {
	var doc firestoreProfile
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decoding profile %s: %w", snap.Ref.ID, err)
	}
	p := &models.Profile{
		ID:          snap.Ref.ID,
		DisplayName: doc.DisplayName,
		Email:       doc.Email,
		Bio:         doc.Bio,
		AvatarURL:   doc.AvatarURL,
		Website:     doc.Website,
		Instagram:   doc.Instagram,
		Facebook:    doc.Facebook,
		Twitter:     doc.Twitter,
		JoinedAt:    doc.JoinedAt,
		Followers:   doc.Followers,
		Following:   doc.Following,
		Exists:      true,
	}
	if p.Followers == nil {
		p.Followers = []string{}
	}
	if p.Following == nil {
		p.Following = []string{}
	}
	return p, nil
}

// FirestoreProfileRepository implements ProfileRepository for Cloud Firestore.
type FirestoreProfileRepository struct {
	client *firestore.Client
}

func (r *FirestoreProfileRepository) doc(uid string) *firestore.DocumentRef {
	return r.client.Collection(profilesCollection).Doc(uid)
}

func (r *FirestoreProfileRepository) CreateProfile(ctx context.Context, profile *models.Profile) error {
	_, err := r.doc(profile.ID).Create(ctx, firestoreProfile{
		DisplayName: profile.DisplayName,
		Email:       profile.Email,
		Bio:         profile.Bio,
		AvatarURL:   profile.AvatarURL,
		Website:     profile.Website,
		Instagram:   profile.Instagram,
		Facebook:    profile.Facebook,
		Twitter:     profile.Twitter,
		JoinedAt:    profile.JoinedAt,
		Followers:   append([]string{}, profile.Followers...),
		Following:   append([]string{}, profile.Following...),
	})
	return firestoreError(err, "profile", profile.ID)
}

func (r *FirestoreProfileRepository) GetProfile(ctx context.Context, uid string) (*models.Profile, error) {
	snap, err := r.doc(uid).Get(ctx)
	if err != nil {
		return nil, firestoreError(err, "profile", uid)
	}
	return fromFirestoreProfile(snap)
}

func (r *FirestoreProfileRepository) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	docs, err := r.client.Collection(profilesCollection).OrderBy("joinedAt", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, firestoreError(err, "profile", "")
	}
	profiles := make([]models.Profile, 0, len(docs))
	for _, d := range docs {
		p, err := fromFirestoreProfile(d)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, nil
}

func (r *FirestoreProfileRepository) UpdateProfile(ctx context.Context, uid string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	updates := make([]firestore.Update, 0, len(fields))
	for path, value := range fields {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}
	_, err := r.doc(uid).Update(ctx, updates)
	return firestoreError(err, "profile", uid)
}

func (r *FirestoreProfileRepository) WatchProfile(ctx context.Context, uid string, deliver func(*models.Profile)) error {
	it := r.doc(uid).Snapshots(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err != nil {
			if snapshotEnded(ctx, err) {
				return nil
			}
			return fmt.Errorf("profile snapshot: %w", err)
		}
		if !snap.Exists() {
			deliver(nil)
			continue
		}
		p, err := fromFirestoreProfile(snap)
		if err != nil {
			return err
		}
		deliver(p)
	}
}

func (r *FirestoreProfileRepository) arrayUpdate(ctx context.Context, uid, field string, value interface{}) error {
	_, err := r.doc(uid).Update(ctx, []firestore.Update{{Path: field, Value: value}})
	return firestoreError(err, "profile", uid)
}

func (r *FirestoreProfileRepository) AddFollower(ctx context.Context, uid, followerID string) error {
	return r.arrayUpdate(ctx, uid, "followers", firestore.ArrayUnion(followerID))
}

func (r *FirestoreProfileRepository) RemoveFollower(ctx context.Context, uid, followerID string) error {
	return r.arrayUpdate(ctx, uid, "followers", firestore.ArrayRemove(followerID))
}

func (r *FirestoreProfileRepository) AddFollowing(ctx context.Context, uid, targetID string) error {
	return r.arrayUpdate(ctx, uid, "following", firestore.ArrayUnion(targetID))
}

func (r *FirestoreProfileRepository) RemoveFollowing(ctx context.Context, uid, targetID string) error {
	return r.arrayUpdate(ctx, uid, "following", firestore.ArrayRemove(targetID))
}
