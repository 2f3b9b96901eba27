package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
)

// MemoryStore is an in-process document store with live queries. It backs
// development runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	posts    map[string]models.Post
	comments map[string][]models.Comment
	profiles map[string]models.Profile
	watchers map[int]chan struct{}
	nextID   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		posts:    map[string]models.Post{},
		comments: map[string][]models.Comment{},
		profiles: map[string]models.Profile{},
		watchers: map[int]chan struct{}{},
	}
}

// NewMemoryBackedStore returns a Store whose repositories share one MemoryStore.
func NewMemoryBackedStore() (*Store, *MemoryStore) {
	m := NewMemoryStore()
	return &Store{Posts: m, Comments: m, Profiles: m}, m
}

// notify wakes every watcher. Signals coalesce: a watcher that has not yet
// consumed the previous one reads the latest state once.
func (s *MemoryStore) notify() {
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *MemoryStore) watch(ctx context.Context, deliver func()) error {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}()

	deliver()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			deliver()
		}
	}
}

// Posts

func (s *MemoryStore) CreatePost(_ context.Context, post *models.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[post.ID]; ok {
		return models.ErrConflict
	}
	s.posts[post.ID] = post.Clone()
	s.notify()
	return nil
}

func (s *MemoryStore) GetPostByID(_ context.Context, id string) (*models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	post, ok := s.posts[id]
	if !ok {
		return nil, models.NewNotFoundError("post", id)
	}
	out := post.Clone()
	return &out, nil
}

func (s *MemoryStore) ListPosts(_ context.Context) ([]models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPostsLocked(), nil
}

func (s *MemoryStore) listPostsLocked() []models.Post {
	posts := lo.MapToSlice(s.posts, func(_ string, p models.Post) models.Post { return p.Clone() })
	sort.SliceStable(posts, func(i, j int) bool {
		if posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].ID > posts[j].ID
		}
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	return posts
}

func (s *MemoryStore) WatchPosts(ctx context.Context, deliver func([]models.Post)) error {
	return s.watch(ctx, func() {
		s.mu.RLock()
		posts := s.listPostsLocked()
		s.mu.RUnlock()
		deliver(posts)
	})
}

func (s *MemoryStore) mutatePost(id string, fn func(*models.Post)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[id]
	if !ok {
		return models.NewNotFoundError("post", id)
	}
	post = post.Clone()
	fn(&post)
	s.posts[id] = post
	s.notify()
	return nil
}

func (s *MemoryStore) UpdatePost(_ context.Context, id string, patch models.PostPatch, updatedAt time.Time) error {
	return s.mutatePost(id, func(p *models.Post) {
		if patch.Content != nil {
			p.Content = patch.Content
		}
		if patch.Tags != nil {
			p.Tags = append([]string{}, patch.Tags...)
		}
		p.UpdatedAt = &updatedAt
	})
}

func (s *MemoryStore) DeletePost(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[id]; !ok {
		return models.NewNotFoundError("post", id)
	}
	delete(s.posts, id)
	s.notify()
	return nil
}

func (s *MemoryStore) AddLike(_ context.Context, postID, uid string) error {
	return s.mutatePost(postID, func(p *models.Post) {
		if !lo.Contains(p.Likes, uid) {
			p.Likes = append(p.Likes, uid)
		}
	})
}

func (s *MemoryStore) RemoveLike(_ context.Context, postID, uid string) error {
	return s.mutatePost(postID, func(p *models.Post) {
		p.Likes = lo.Without(p.Likes, uid)
	})
}

func (s *MemoryStore) IncrementCommentCount(_ context.Context, postID string) error {
	return s.mutatePost(postID, func(p *models.Post) { p.CommentCount++ })
}

func (s *MemoryStore) SetCommentCount(_ context.Context, postID string, count int) error {
	return s.mutatePost(postID, func(p *models.Post) { p.CommentCount = count })
}

// Comments

func (s *MemoryStore) CreateComment(_ context.Context, comment *models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lo.ContainsBy(s.comments[comment.PostID], func(c models.Comment) bool { return c.ID == comment.ID }) {
		return models.ErrConflict
	}
	s.comments[comment.PostID] = append(s.comments[comment.PostID], *comment)
	s.notify()
	return nil
}

func (s *MemoryStore) listCommentsLocked(postID string, order models.CommentOrder) []models.Comment {
	comments := append([]models.Comment{}, s.comments[postID]...)
	sort.SliceStable(comments, func(i, j int) bool {
		if descending(order) {
			return comments[i].CreatedAt.After(comments[j].CreatedAt)
		}
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})
	return comments
}

func (s *MemoryStore) ListComments(_ context.Context, postID string, order models.CommentOrder) ([]models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listCommentsLocked(postID, order), nil
}

func (s *MemoryStore) WatchComments(ctx context.Context, postID string, order models.CommentOrder, deliver func([]models.Comment)) error {
	return s.watch(ctx, func() {
		s.mu.RLock()
		comments := s.listCommentsLocked(postID, order)
		s.mu.RUnlock()
		deliver(comments)
	})
}

func (s *MemoryStore) CountComments(_ context.Context, postID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.comments[postID]), nil
}

// Profiles

func cloneProfile(p models.Profile) models.Profile {
	p.Followers = append([]string{}, p.Followers...)
	p.Following = append([]string{}, p.Following...)
	return p
}

func (s *MemoryStore) CreateProfile(_ context.Context, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profile.ID]; ok {
		return models.ErrConflict
	}
	p := cloneProfile(*profile)
	p.Exists = true
	s.profiles[profile.ID] = p
	s.notify()
	return nil
}

func (s *MemoryStore) GetProfile(_ context.Context, uid string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[uid]
	if !ok {
		return nil, models.NewNotFoundError("profile", uid)
	}
	out := cloneProfile(p)
	return &out, nil
}

func (s *MemoryStore) ListProfiles(_ context.Context) ([]models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profiles := lo.MapToSlice(s.profiles, func(_ string, p models.Profile) models.Profile { return cloneProfile(p) })
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].JoinedAt.Before(profiles[j].JoinedAt) })
	return profiles, nil
}

func (s *MemoryStore) mutateProfile(uid string, fn func(*models.Profile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[uid]
	if !ok {
		return models.NewNotFoundError("profile", uid)
	}
	p = cloneProfile(p)
	fn(&p)
	s.profiles[uid] = p
	s.notify()
	return nil
}

func (s *MemoryStore) UpdateProfile(_ context.Context, uid string, fields map[string]interface{}) error {
	return s.mutateProfile(uid, func(p *models.Profile) {
		str := func(key string, dst *string) {
			if v, ok := fields[key].(string); ok {
				*dst = v
			}
		}
		str("displayName", &p.DisplayName)
		str("email", &p.Email)
		str("bio", &p.Bio)
		str("avatarUrl", &p.AvatarURL)
		str("website", &p.Website)
		str("instagram", &p.Instagram)
		str("facebook", &p.Facebook)
		str("twitter", &p.Twitter)
	})
}

func (s *MemoryStore) WatchProfile(ctx context.Context, uid string, deliver func(*models.Profile)) error {
	return s.watch(ctx, func() {
		s.mu.RLock()
		p, ok := s.profiles[uid]
		if ok {
			p = cloneProfile(p)
		}
		s.mu.RUnlock()
		if !ok {
			deliver(nil)
			return
		}
		deliver(&p)
	})
}

func addToSet(set []string, v string) []string {
	if lo.Contains(set, v) {
		return set
	}
	return append(set, v)
}

func (s *MemoryStore) AddFollower(_ context.Context, uid, followerID string) error {
	return s.mutateProfile(uid, func(p *models.Profile) { p.Followers = addToSet(p.Followers, followerID) })
}

func (s *MemoryStore) RemoveFollower(_ context.Context, uid, followerID string) error {
	return s.mutateProfile(uid, func(p *models.Profile) { p.Followers = lo.Without(p.Followers, followerID) })
}

func (s *MemoryStore) AddFollowing(_ context.Context, uid, targetID string) error {
	return s.mutateProfile(uid, func(p *models.Profile) { p.Following = addToSet(p.Following, targetID) })
}

func (s *MemoryStore) RemoveFollowing(_ context.Context, uid, targetID string) error {
	return s.mutateProfile(uid, func(p *models.Profile) { p.Following = lo.Without(p.Following, targetID) })
}
