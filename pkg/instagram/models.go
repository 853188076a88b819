package instagram

import (
	"encoding/json"
	"strings"
	"time"

	"igcollector/pkg/models"
)

// apiStatus is the envelope every private API response carries. Failed
// responses fill message and, depending on the failure, the fields below.
type apiStatus struct {
	Status          string     `json:"status"`
	Message         string     `json:"message"`
	ErrorType       string     `json:"error_type"`
	FeedbackMessage string     `json:"feedback_message"`
	Spam            bool       `json:"spam"`
	Challenge       *challenge `json:"challenge"`
}

type challenge struct {
	APIPath string `json:"api_path"`
	URL     string `json:"url"`
}

// loginResponse is returned by the login endpoint
type loginResponse struct {
	apiStatus
	LoggedInUser rawUser `json:"logged_in_user"`
}

// ProfileResponse represents the web profile info response
type ProfileResponse struct {
	apiStatus
	Data struct {
		User struct {
			ID        string `json:"id"`
			Username  string `json:"username"`
			IsPrivate bool   `json:"is_private"`
		} `json:"user"`
	} `json:"data"`
}

// FeedResponse represents one page of a user or hashtag feed
type FeedResponse struct {
	apiStatus
	Items         []rawMedia `json:"items"`
	NextMaxID     string     `json:"next_max_id"`
	MoreAvailable bool       `json:"more_available"`
}

type rawUser struct {
	PK            json.Number `json:"pk"`
	Username      string      `json:"username"`
	FullName      string      `json:"full_name"`
	ProfilePicURL string      `json:"profile_pic_url"`
}

type rawCandidate struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// rawMedia is a media item as the feeds return it. media_type is 1 for a
// photo, 2 for a video and 8 for an album.
type rawMedia struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	MediaType    int    `json:"media_type"`
	TakenAt      int64  `json:"taken_at"`
	LikeCount    int    `json:"like_count"`
	CommentCount int    `json:"comment_count"`
	Caption      *struct {
		Text string `json:"text"`
	} `json:"caption"`
	ImageVersions2 struct {
		Candidates []rawCandidate `json:"candidates"`
	} `json:"image_versions2"`
	VideoVersions []rawCandidate `json:"video_versions"`
	CarouselMedia []rawMedia     `json:"carousel_media"`
	User          rawUser        `json:"user"`
}

const (
	rawPhoto = 1
	rawVideo = 2
	rawAlbum = 8
)

func (m rawMedia) thumbnailURL() string {
	if len(m.ImageVersions2.Candidates) == 0 {
		return ""
	}
	return m.ImageVersions2.Candidates[0].URL
}

func (m rawMedia) videoURL() string {
	if len(m.VideoVersions) == 0 {
		return ""
	}
	return m.VideoVersions[0].URL
}

// normalize converts a raw feed item into the stored representation. Album
// resources use the video URL as thumbnail for video children.
func normalize(m rawMedia) models.Item {
	item := models.Item{
		ID:           m.ID,
		Code:         m.Code,
		LikeCount:    m.LikeCount,
		CommentCount: m.CommentCount,
		ThumbnailURL: m.thumbnailURL(),
		VideoURL:     m.videoURL(),
		Permalink:    GetPostURL(m.Code),
		Author: models.Author{
			PK:            m.User.PK.String(),
			Username:      m.User.Username,
			FullName:      m.User.FullName,
			ProfilePicURL: m.User.ProfilePicURL,
		},
	}
	if m.TakenAt > 0 {
		item.TakenAt = time.Unix(m.TakenAt, 0).UTC()
	}
	if m.Caption != nil {
		item.Caption = strings.TrimSpace(m.Caption.Text)
	}

	switch m.MediaType {
	case rawVideo:
		item.MediaType = models.MediaVideo
	case rawAlbum:
		item.MediaType = models.MediaAlbum
		for _, child := range m.CarouselMedia {
			ref := models.MediaRef{VideoURL: child.videoURL()}
			if child.MediaType == rawPhoto {
				ref.ThumbnailURL = child.thumbnailURL()
			} else {
				ref.ThumbnailURL = ref.VideoURL
			}
			item.Resources = append(item.Resources, ref)
		}
	default:
		item.MediaType = models.MediaPhoto
	}
	return item
}

// toPage normalizes a feed response. Items without an id cannot be merged
// and are dropped.
func (r *FeedResponse) toPage() models.Page {
	page := models.Page{Items: make([]models.Item, 0, len(r.Items))}
	for _, raw := range r.Items {
		if raw.ID == "" {
			continue
		}
		page.Items = append(page.Items, normalize(raw))
	}
	if r.MoreAvailable && r.NextMaxID != "" {
		page.NextCursor = r.NextMaxID
		page.MoreAvailable = true
	}
	return page
}
