package models

import (
	"fmt"
	"strings"
	"time"
)

// HealthFlags are the independent health markers of a session. A session is
// eligible for leasing only when all three are clear.
type HealthFlags struct {
	Blocked            bool `json:"blocked"`
	Challenged         bool `json:"challenged"`
	TemporarilyBlocked bool `json:"temporarily_blocked"`
}

// Clear reports whether no flag is set
func (f HealthFlags) Clear() bool {
	return !f.Blocked && !f.Challenged && !f.TemporarilyBlocked
}

// Union returns the flags set in either f or o
func (f HealthFlags) Union(o HealthFlags) HealthFlags {
	return HealthFlags{
		Blocked:            f.Blocked || o.Blocked,
		Challenged:         f.Challenged || o.Challenged,
		TemporarilyBlocked: f.TemporarilyBlocked || o.TemporarilyBlocked,
	}
}

// Session is one platform credential in the pool. Settings is the opaque
// client state blob and must round-trip byte for byte.
type Session struct {
	ID            int64       `json:"id"`
	Username      string      `json:"username"`
	Secret        string      `json:"-"`
	Settings      []byte      `json:"-"`
	Flags         HealthFlags `json:"flags"`
	UsageCount    int64       `json:"usage_count"`
	TempBlockedAt *time.Time  `json:"temp_blocked_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// SessionPatch carries administrative edits; nil fields are left unchanged
type SessionPatch struct {
	Username   *string      `json:"username,omitempty"`
	Flags      *HealthFlags `json:"flags,omitempty"`
	UsageCount *int64       `json:"usage_count,omitempty"`
	Settings   []byte       `json:"settings,omitempty"`
}

// TargetKind distinguishes the feeds content can be collected from
type TargetKind string

const (
	TargetProfile TargetKind = "profile"
	TargetHashtag TargetKind = "hashtag"
)

// Target names one collectable feed
type Target struct {
	Kind TargetKind `json:"kind"`
	Name string     `json:"name"`
}

// ParseTarget parses a storage key of the form "kind:name"
func ParseTarget(key string) (Target, error) {
	kind, name, ok := strings.Cut(key, ":")
	if !ok {
		return Target{}, fmt.Errorf("malformed target key %q", key)
	}
	t := Target{Kind: TargetKind(kind), Name: name}
	return t, t.Validate()
}

// Key returns the storage key for t
func (t Target) Key() string {
	return string(t.Kind) + ":" + t.Name
}

func (t Target) String() string {
	return t.Key()
}

// Validate checks the kind and the name
func (t Target) Validate() error {
	switch t.Kind {
	case TargetProfile, TargetHashtag:
	default:
		return fmt.Errorf("unknown target kind %q", t.Kind)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("target name is required")
	}
	return nil
}

// MediaType of an item
type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaVideo MediaType = "video"
	MediaAlbum MediaType = "album"
)

// MediaRef is one resource of an album item
type MediaRef struct {
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	VideoURL     string `json:"video_url,omitempty"`
}

// Author of an item
type Author struct {
	PK            string `json:"pk"`
	Username      string `json:"username"`
	FullName      string `json:"full_name,omitempty"`
	ProfilePicURL string `json:"profile_pic_url,omitempty"`
}

// Item is a normalized piece of content. ID is the platform item id and is
// the dedupe key when pages are merged into a record.
type Item struct {
	ID           string     `json:"id"`
	Code         string     `json:"code"`
	MediaType    MediaType  `json:"media_type"`
	Caption      string     `json:"caption,omitempty"`
	LikeCount    int        `json:"like_count"`
	CommentCount int        `json:"comment_count"`
	TakenAt      time.Time  `json:"taken_at"`
	ThumbnailURL string     `json:"thumbnail_url,omitempty"`
	VideoURL     string     `json:"video_url,omitempty"`
	Resources    []MediaRef `json:"resources,omitempty"`
	Author       Author     `json:"author"`
	Permalink    string     `json:"permalink"`
}

// ContentRecord is the current collected content for a target
type ContentRecord struct {
	ID           int64     `json:"id"`
	Target       Target    `json:"target"`
	SessionID    *int64    `json:"session_id,omitempty"`
	Items        []Item    `json:"items,omitempty"`
	ItemCount    int       `json:"item_count"`
	ResumeCursor string    `json:"resume_cursor,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Page is one page of a paginated platform feed
type Page struct {
	Items         []Item
	NextCursor    string
	MoreAvailable bool
}
