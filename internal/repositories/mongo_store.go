package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
)

// NewMongoStore returns the MongoDB-backed repositories. Live queries use
// change streams, which need a replica set.
func NewMongoStore(db *mongo.Database) *Store {
	return &Store{
		Posts:    &MongoPostRepository{collection: db.Collection(postsCollection)},
		Comments: &MongoCommentRepository{collection: db.Collection(commentsCollection)},
		Profiles: &MongoProfileRepository{collection: db.Collection(profilesCollection)},
	}
}

func mongoError(err error, resource, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return &models.AppError{Code: models.CodeNotFound, Message: fmt.Sprintf("%s with ID %s not found", resource, id), Err: err}
	case mongo.IsDuplicateKeyError(err):
		return &models.AppError{Code: models.CodeConflict, Message: fmt.Sprintf("%s with ID %s already exists", resource, id), Err: err}
	case mongo.IsTimeout(err), mongo.IsNetworkError(err):
		return &models.AppError{Code: models.CodeUnavailable, Message: "mongo unavailable", Err: err}
	}
	return err
}

// watchCollection opens a change stream before running reload, so no change
// between the initial read and the stream start is missed. Every event triggers
// a full reload.
func watchCollection(ctx context.Context, coll *mongo.Collection, pipeline mongo.Pipeline, reload func() error) error {
	stream, err := coll.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return fmt.Errorf("opening change stream on %s: %w", coll.Name(), err)
	}
	defer stream.Close(context.Background())

	if err := reload(); err != nil {
		return err
	}
	for stream.Next(ctx) {
		if err := reload(); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return stream.Err()
}

type mongoAuthor struct {
	ID          string `bson:"id"`
	DisplayName string `bson:"displayName"`
	AvatarURL   string `bson:"avatarUrl"`
}

type mongoAttachment struct {
	URL      string `bson:"url"`
	Kind     string `bson:"kind"`
	Filename string `bson:"filename"`
	Path     string `bson:"path"`
}

type mongoPost struct {
	ID           string            `bson:"_id"`
	Author       mongoAuthor       `bson:"author"`
	Type         string            `bson:"type"`
	Content      bson.M            `bson:"content"`
	Tags         []string          `bson:"tags"`
	Likes        []string          `bson:"likes"`
	CommentCount int               `bson:"commentCount"`
	CreatedAt    time.Time         `bson:"createdAt"`
	UpdatedAt    *time.Time        `bson:"updatedAt,omitempty"`
	Attachments  []mongoAttachment `bson:"attachments"`
}

func (d *mongoPost) toModel() (models.Post, error) {
	content, err := models.ContentFromMap(models.PostType(d.Type), d.Content)
	if err != nil {
		return models.Post{}, fmt.Errorf("decoding post %s content: %w", d.ID, err)
	}
	post := models.Post{
		ID:           d.ID,
		Author:       models.Author(d.Author),
		Type:         models.PostType(d.Type),
		Content:      content,
		Tags:         append([]string{}, d.Tags...),
		Likes:        append([]string{}, d.Likes...),
		CommentCount: d.CommentCount,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	for _, a := range d.Attachments {
		post.Attachments = append(post.Attachments, models.Attachment{URL: a.URL, Kind: models.AttachmentKind(a.Kind), Filename: a.Filename, Path: a.Path})
	}
	return post, nil
}

// MongoPostRepository implements PostRepository for MongoDB
type MongoPostRepository struct {
	collection *mongo.Collection
}

func (r *MongoPostRepository) CreatePost(ctx context.Context, post *models.Post) error {
	if post.ID == "" {
		post.ID = primitive.NewObjectID().Hex()
	}
	content, err := models.ContentToMap(post.Content)
	if err != nil {
		return err
	}
	doc := mongoPost{
		ID:           post.ID,
		Author:       mongoAuthor(post.Author),
		Type:         string(post.Type),
		Content:      content,
		Tags:         append([]string{}, post.Tags...),
		Likes:        append([]string{}, post.Likes...),
		CommentCount: post.CommentCount,
		CreatedAt:    post.CreatedAt,
		UpdatedAt:    post.UpdatedAt,
	}
	for _, a := range post.Attachments {
		doc.Attachments = append(doc.Attachments, mongoAttachment{URL: a.URL, Kind: string(a.Kind), Filename: a.Filename, Path: a.Path})
	}
	_, err = r.collection.InsertOne(ctx, doc)
	return mongoError(err, "post", post.ID)
}

func (r *MongoPostRepository) GetPostByID(ctx context.Context, id string) (*models.Post, error) {
	var doc mongoPost
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, mongoError(err, "post", id)
	}
	post, err := doc.toModel()
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *MongoPostRepository) ListPosts(ctx context.Context) ([]models.Post, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.D{}, findOptions)
	if err != nil {
		return nil, mongoError(err, "post", "")
	}
	defer cursor.Close(ctx)

	// An undecodable document is skipped so one bad post cannot blank the feed.
	posts := []models.Post{}
	for cursor.Next(ctx) {
		var doc mongoPost
		if err := cursor.Decode(&doc); err != nil {
			log.Warn().Err(err).Str("post_id", cursor.Current.Lookup("_id").String()).Msg("Skipping undecodable post")
			continue
		}
		p, err := doc.toModel()
		if err != nil {
			log.Warn().Err(err).Str("post_id", doc.ID).Msg("Skipping undecodable post")
			continue
		}
		posts = append(posts, p)
	}
	if err := cursor.Err(); err != nil {
		return nil, mongoError(err, "post", "")
	}
	return posts, nil
}

func (r *MongoPostRepository) WatchPosts(ctx context.Context, deliver func([]models.Post)) error {
	return watchCollection(ctx, r.collection, mongo.Pipeline{}, func() error {
		posts, err := r.ListPosts(ctx)
		if err != nil {
			return err
		}
		deliver(posts)
		return nil
	})
}

func (r *MongoPostRepository) updateOne(ctx context.Context, id string, update bson.M) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return mongoError(err, "post", id)
	}
	if res.MatchedCount == 0 {
		return models.NewNotFoundError("post", id)
	}
	return nil
}

func (r *MongoPostRepository) UpdatePost(ctx context.Context, id string, patch models.PostPatch, updatedAt time.Time) error {
	set := bson.M{"updatedAt": updatedAt}
	if patch.Content != nil {
		content, err := models.ContentToMap(patch.Content)
		if err != nil {
			return err
		}
		set["content"] = content
	}
	if patch.Tags != nil {
		set["tags"] = patch.Tags
	}
	return r.updateOne(ctx, id, bson.M{"$set": set})
}

func (r *MongoPostRepository) DeletePost(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mongoError(err, "post", id)
	}
	if res.DeletedCount == 0 {
		return models.NewNotFoundError("post", id)
	}
	return nil
}

func (r *MongoPostRepository) AddLike(ctx context.Context, postID, uid string) error {
	return r.updateOne(ctx, postID, bson.M{"$addToSet": bson.M{"likes": uid}})
}

func (r *MongoPostRepository) RemoveLike(ctx context.Context, postID, uid string) error {
	return r.updateOne(ctx, postID, bson.M{"$pull": bson.M{"likes": uid}})
}

func (r *MongoPostRepository) IncrementCommentCount(ctx context.Context, postID string) error {
	return r.updateOne(ctx, postID, bson.M{"$inc": bson.M{"commentCount": 1}})
}

func (r *MongoPostRepository) SetCommentCount(ctx context.Context, postID string, count int) error {
	return r.updateOne(ctx, postID, bson.M{"$set": bson.M{"commentCount": count}})
}

type mongoComment struct {
	ID        string      `bson:"_id"`
	PostID    string      `bson:"postId"`
	Author    mongoAuthor `bson:"author"`
	Text      string      `bson:"text"`
	CreatedAt time.Time   `bson:"createdAt"`
}

// MongoCommentRepository implements CommentRepository for MongoDB. Comments of
// all posts share one collection, keyed by postId.
type MongoCommentRepository struct {
	collection *mongo.Collection
}

func (r *MongoCommentRepository) CreateComment(ctx context.Context, comment *models.Comment) error {
	if comment.ID == "" {
		comment.ID = primitive.NewObjectID().Hex()
	}
	_, err := r.collection.InsertOne(ctx, mongoComment{
		ID:        comment.ID,
		PostID:    comment.PostID,
		Author:    mongoAuthor(comment.Author),
		Text:      comment.Text,
		CreatedAt: comment.CreatedAt,
	})
	return mongoError(err, "comment", comment.ID)
}

func (r *MongoCommentRepository) ListComments(ctx context.Context, postID string, order models.CommentOrder) ([]models.Comment, error) {
	dir := 1
	if descending(order) {
		dir = -1
	}
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: dir}})
	cursor, err := r.collection.Find(ctx, bson.M{"postId": postID}, findOptions)
	if err != nil {
		return nil, mongoError(err, "post", postID)
	}
	defer cursor.Close(ctx)

	var docs []mongoComment
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	comments := make([]models.Comment, 0, len(docs))
	for _, d := range docs {
		comments = append(comments, models.Comment{
			ID:        d.ID,
			PostID:    d.PostID,
			Author:    models.Author(d.Author),
			Text:      d.Text,
			CreatedAt: d.CreatedAt,
		})
	}
	return comments, nil
}

func (r *MongoCommentRepository) WatchComments(ctx context.Context, postID string, order models.CommentOrder, deliver func([]models.Comment)) error {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.M{"fullDocument.postId": postID}}}}
	return watchCollection(ctx, r.collection, pipeline, func() error {
		comments, err := r.ListComments(ctx, postID, order)
		if err != nil {
			return err
		}
		deliver(comments)
		return nil
	})
}

func (r *MongoCommentRepository) CountComments(ctx context.Context, postID string) (int, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"postId": postID})
	if err != nil {
		return 0, mongoError(err, "post", postID)
	}
	return int(n), nil
}

type mongoProfile struct {
	ID          string    `bson:"_id"`
	DisplayName string    `bson:"displayName"`
	Email       string    `bson:"email"`
	Bio         string    `bson:"bio"`
	AvatarURL   string    `bson:"avatarUrl"`
	Website     string    `bson:"website"`
	Instagram   string    `bson:"instagram"`
	Facebook    string    `bson:"facebook"`
	Twitter     string    `bson:"twitter"`
	JoinedAt    time.Time `bson:"joinedAt"`
	Followers   []string  `bson:"followers"`
	Following   []string  `bson:"following"`
}

func (d *mongoProfile) toModel() *models.Profile {
	return &models.Profile{
		ID:          d.ID,
		DisplayName: d.DisplayName,
		Email:       d.Email,
		Bio:         d.Bio,
		AvatarURL:   d.AvatarURL,
		Website:     d.Website,
		Instagram:   d.Instagram,
		Facebook:    d.Facebook,
		Twitter:     d.Twitter,
		JoinedAt:    d.JoinedAt,
		Followers:   append([]string{}, d.Followers...),
		Following:   append([]string{}, d.Following...),
		Exists:      true,
	}
}

// MongoProfileRepository implements ProfileRepository for MongoDB
type MongoProfileRepository struct {
	collection *mongo.Collection
}

func (r *MongoProfileRepository) CreateProfile(ctx context.Context, profile *models.Profile) error {
	_, err := r.collection.InsertOne(ctx, mongoProfile{
		ID:          profile.ID,
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
	return mongoError(err, "profile", profile.ID)
}

func (r *MongoProfileRepository) GetProfile(ctx context.Context, uid string) (*models.Profile, error) {
	var doc mongoProfile
	if err := r.collection.FindOne(ctx, bson.M{"_id": uid}).Decode(&doc); err != nil {
		return nil, mongoError(err, "profile", uid)
	}
	return doc.toModel(), nil
}

func (r *MongoProfileRepository) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	cursor, err := r.collection.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "joinedAt", Value: 1}}))
	if err != nil {
		return nil, mongoError(err, "profile", "")
	}
	defer cursor.Close(ctx)

	var docs []mongoProfile
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	profiles := make([]models.Profile, 0, len(docs))
	for i := range docs {
		profiles = append(profiles, *docs[i].toModel())
	}
	return profiles, nil
}

func (r *MongoProfileRepository) updateOne(ctx context.Context, uid string, update bson.M) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": uid}, update)
	if err != nil {
		return mongoError(err, "profile", uid)
	}
	if res.MatchedCount == 0 {
		return models.NewNotFoundError("profile", uid)
	}
	return nil
}

func (r *MongoProfileRepository) UpdateProfile(ctx context.Context, uid string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return r.updateOne(ctx, uid, bson.M{"$set": bson.M(fields)})
}

func (r *MongoProfileRepository) WatchProfile(ctx context.Context, uid string, deliver func(*models.Profile)) error {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.M{"documentKey._id": uid}}}}
	return watchCollection(ctx, r.collection, pipeline, func() error {
		p, err := r.GetProfile(ctx, uid)
		if errors.Is(err, models.ErrNotFound) {
			deliver(nil)
			return nil
		}
		if err != nil {
			return err
		}
		deliver(p)
		return nil
	})
}

func (r *MongoProfileRepository) AddFollower(ctx context.Context, uid, followerID string) error {
	return r.updateOne(ctx, uid, bson.M{"$addToSet": bson.M{"followers": followerID}})
}

func (r *MongoProfileRepository) RemoveFollower(ctx context.Context, uid, followerID string) error {
	return r.updateOne(ctx, uid, bson.M{"$pull": bson.M{"followers": followerID}})
}

func (r *MongoProfileRepository) AddFollowing(ctx context.Context, uid, targetID string) error {
	return r.updateOne(ctx, uid, bson.M{"$addToSet": bson.M{"following": targetID}})
}

func (r *MongoProfileRepository) RemoveFollowing(ctx context.Context, uid, targetID string) error {
	return r.updateOne(ctx, uid, bson.M{"$pull": bson.M{"following": targetID}})
}
