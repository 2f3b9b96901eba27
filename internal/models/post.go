package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// PostType tags the shape of a post's content.
type PostType string

const (
	PostTypeText  PostType = "Text"
	PostTypePhoto PostType = "Photo"
	PostTypeVideo PostType = "Video"
	PostTypeAudio PostType = "Audio"
	PostTypeLink  PostType = "Link"
	PostTypeQuote PostType = "Quote"
)

// PostTypes lists every feather in display order.
var PostTypes = []PostType{PostTypeText, PostTypePhoto, PostTypeVideo, PostTypeAudio, PostTypeLink, PostTypeQuote}

// ParsePostType accepts the canonical name in any letter case.
func ParsePostType(s string) (PostType, error) {
	for _, t := range PostTypes {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", NewValidationError(fmt.Sprintf("unknown post type %q", s))
}

// PostContent is the payload of a post. Each variant carries only the fields of
// its type; Type reports which variant it is.
type PostContent interface {
	Type() PostType
}

type TextContent struct {
	Title string `json:"title,omitempty" validate:"max=300"`
	Text  string `json:"text" validate:"required,max=50000"`
}

// MediaContent is shared by Photo, Video and Audio posts. URL is filled from the
// first uploaded attachment when the request carries a file instead of a link.
type MediaContent struct {
	URL      string `json:"url" validate:"required,url"`
	Caption  string `json:"caption,omitempty" validate:"max=2000"`
	Filename string `json:"filename,omitempty"`
}

type PhotoContent struct{ MediaContent }
type VideoContent struct{ MediaContent }
type AudioContent struct{ MediaContent }

type LinkContent struct {
	URL         string `json:"url" validate:"required,url"`
	Title       string `json:"title,omitempty" validate:"max=300"`
	Description string `json:"description,omitempty" validate:"max=2000"`
}

type QuoteContent struct {
	Quote  string `json:"quote" validate:"required,max=5000"`
	Source string `json:"source,omitempty" validate:"max=300"`
}

func (TextContent) Type() PostType  { return PostTypeText }
func (PhotoContent) Type() PostType { return PostTypePhoto }
func (VideoContent) Type() PostType { return PostTypeVideo }
func (AudioContent) Type() PostType { return PostTypeAudio }
func (LinkContent) Type() PostType  { return PostTypeLink }
func (QuoteContent) Type() PostType { return PostTypeQuote }

// WithMedia returns content with its media URL and filename set. Non-media
// content is returned unchanged.
func WithMedia(c PostContent, url, filename string) PostContent {
	media := MediaContent{URL: url, Filename: filename}
	switch v := c.(type) {
	case PhotoContent:
		media.Caption = v.Caption
		return PhotoContent{media}
	case VideoContent:
		media.Caption = v.Caption
		return VideoContent{media}
	case AudioContent:
		media.Caption = v.Caption
		return AudioContent{media}
	}
	return c
}

// MediaURL returns the media URL of Photo, Video and Audio content.
func MediaURL(c PostContent) (string, bool) {
	switch v := c.(type) {
	case PhotoContent:
		return v.URL, true
	case VideoContent:
		return v.URL, true
	case AudioContent:
		return v.URL, true
	}
	return "", false
}

// DecodeContent decodes a JSON payload into the variant for t.
func DecodeContent(t PostType, raw []byte) (PostContent, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}
	var (
		content PostContent
		err     error
	)
	switch t {
	case PostTypeText:
		var v TextContent
		err = json.Unmarshal(raw, &v)
		content = v
	case PostTypePhoto:
		var v PhotoContent
		err = json.Unmarshal(raw, &v)
		content = v
	case PostTypeVideo:
		var v VideoContent
		err = json.Unmarshal(raw, &v)
		content = v
	case PostTypeAudio:
		var v AudioContent
		err = json.Unmarshal(raw, &v)
		content = v
	case PostTypeLink:
		var v LinkContent
		err = json.Unmarshal(raw, &v)
		content = v
	case PostTypeQuote:
		var v QuoteContent
		err = json.Unmarshal(raw, &v)
		content = v
	default:
		return nil, NewValidationError(fmt.Sprintf("unknown post type %q", t))
	}
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("invalid %s content: %v", t, err))
	}
	return content, nil
}

// ContentFromMap decodes a stored document map into the variant for t.
func ContentFromMap(t PostType, m map[string]interface{}) (PostContent, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s content: %w", t, err)
	}
	return DecodeContent(t, raw)
}

// ContentToMap flattens a variant into the map stored in documents.
func ContentToMap(c PostContent) (map[string]interface{}, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// AttachmentKind classifies an uploaded file.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentVideo AttachmentKind = "video"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentFile  AttachmentKind = "file"
)

// KindForContentType maps a MIME type to an attachment kind.
func KindForContentType(contentType string) AttachmentKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return AttachmentImage
	case strings.HasPrefix(contentType, "video/"):
		return AttachmentVideo
	case strings.HasPrefix(contentType, "audio/"):
		return AttachmentAudio
	}
	return AttachmentFile
}

type Attachment struct {
	URL      string         `json:"url"`
	Kind     AttachmentKind `json:"kind"`
	Filename string         `json:"filename"`
	// Path is the blob object path, kept so the object can be removed later.
	Path string `json:"path,omitempty"`
}

// Author is a denormalized copy of a profile taken when a post or comment is
// written. It is not updated when the profile changes.
type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Post is a blog post. Likes is a set of user IDs; CommentCount mirrors the
// number of documents in the post's comment collection.
type Post struct {
	ID           string       `json:"id"`
	Author       Author       `json:"author"`
	Type         PostType     `json:"type"`
	Content      PostContent  `json:"content"`
	Tags         []string     `json:"tags"`
	Likes        []string     `json:"likes"`
	CommentCount int          `json:"commentCount"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    *time.Time   `json:"updatedAt,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
}

// LikedBy reports whether uid is in the post's like set.
func (p *Post) LikedBy(uid string) bool {
	return lo.Contains(p.Likes, uid)
}

// Clone returns a copy that shares no slices with p.
func (p Post) Clone() Post {
	p.Tags = append([]string{}, p.Tags...)
	p.Likes = append([]string{}, p.Likes...)
	if p.Attachments != nil {
		p.Attachments = append([]Attachment{}, p.Attachments...)
	}
	if p.UpdatedAt != nil {
		t := *p.UpdatedAt
		p.UpdatedAt = &t
	}
	return p
}

func (p *Post) UnmarshalJSON(data []byte) error {
	type alias Post
	aux := struct {
		*alias
		Content json.RawMessage `json:"content"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	content, err := DecodeContent(p.Type, aux.Content)
	if err != nil {
		return err
	}
	p.Content = content
	return nil
}

// PostPatch is a partial update. Nil fields are left untouched.
type PostPatch struct {
	Content PostContent
	Tags    []string
}

// TagList accepts either a JSON array or a comma separated string ("a,b").
type TagList []string

func (t *TagList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = NormalizeTags(list)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("tags must be a string or an array of strings")
	}
	*t = ParseTags(s)
	return nil
}

// ParseTags splits a comma separated tag string.
func ParseTags(s string) []string {
	return NormalizeTags(strings.Split(s, ","))
}

// NormalizeTags trims tags, drops empty ones and removes duplicates while keeping
// first-seen order.
func NormalizeTags(tags []string) []string {
	trimmed := lo.Map(tags, func(tag string, _ int) string { return strings.TrimSpace(tag) })
	return lo.Uniq(lo.Compact(trimmed))
}

// CreatePostRequest is the JSON body of POST /posts. Multipart requests carry
// the same fields as form values, with content as a JSON string.
type CreatePostRequest struct {
	Type    string          `json:"type" form:"type" validate:"required"`
	Content json.RawMessage `json:"content"`
	Tags    TagList         `json:"tags"`
}

// UpdatePostRequest is the JSON body of PUT /posts/:id.
type UpdatePostRequest struct {
	Content json.RawMessage `json:"content,omitempty"`
	Tags    *TagList        `json:"tags,omitempty"`
}

// LikeRequest optionally carries the client's locally held like state.
type LikeRequest struct {
	Liked *bool `json:"liked"`
}

// FeatherField describes one content field of a post type.
type FeatherField struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// Feather describes a post type for the feather listing.
type Feather struct {
	Type      PostType       `json:"type"`
	Fields    []FeatherField `json:"fields"`
	AcceptsUp bool           `json:"acceptsUpload"`
}

// Feathers returns the field layout of every post type.
func Feathers() []Feather {
	media := []FeatherField{{Name: "url", Required: true}, {Name: "caption"}, {Name: "filename"}}
	return []Feather{
		{Type: PostTypeText, Fields: []FeatherField{{Name: "title"}, {Name: "text", Required: true}}, AcceptsUp: true},
		{Type: PostTypePhoto, Fields: media, AcceptsUp: true},
		{Type: PostTypeVideo, Fields: media, AcceptsUp: true},
		{Type: PostTypeAudio, Fields: media, AcceptsUp: true},
		{Type: PostTypeLink, Fields: []FeatherField{{Name: "url", Required: true}, {Name: "title"}, {Name: "description"}}},
		{Type: PostTypeQuote, Fields: []FeatherField{{Name: "quote", Required: true}, {Name: "source"}}},
	}
}
