package instagram

import (
	"fmt"
	"net/url"
	"strconv"
)

const (
	// WebURL is the public site used for permalinks
	WebURL = "https://www.instagram.com"

	// LoginEndpoint authenticates with username and password
	LoginEndpoint = "/api/v1/accounts/login/"

	// TimelineEndpoint is requested to probe whether a session is still alive
	TimelineEndpoint = "/api/v1/feed/timeline/"

	// ProfileEndpoint resolves a username to its user id
	ProfileEndpoint = "/api/v1/users/web_profile_info/"

	// UserFeedEndpoint is the pattern for a user's media feed
	UserFeedEndpoint = "/api/v1/feed/user/%s/"

	// TagFeedEndpoint is the pattern for a hashtag's recent media feed
	TagFeedEndpoint = "/api/v1/feed/tag/%s/"

	// DefaultPageSize is the number of items requested per page
	DefaultPageSize = 12

	// MaxPageSize is the largest page the feeds accept
	MaxPageSize = 50
)

// loginURL constructs the login URL
func (c *Client) loginURL() string {
	return c.baseURL + LoginEndpoint
}

// timelineURL constructs the liveness probe URL
func (c *Client) timelineURL() string {
	return c.baseURL + TimelineEndpoint
}

// profileURL constructs the URL for resolving a username
func (c *Client) profileURL(username string) string {
	params := url.Values{}
	params.Set("username", username)

	return fmt.Sprintf("%s%s?%s", c.baseURL, ProfileEndpoint, params.Encode())
}

// userFeedURL constructs the URL for one page of a user's media
func (c *Client) userFeedURL(userID, cursor string) string {
	return c.feedURL(fmt.Sprintf(UserFeedEndpoint, url.PathEscape(userID)), cursor)
}

// tagFeedURL constructs the URL for one page of a hashtag's recent media
func (c *Client) tagFeedURL(tag, cursor string) string {
	return c.feedURL(fmt.Sprintf(TagFeedEndpoint, url.PathEscape(tag)), cursor)
}

func (c *Client) feedURL(path, cursor string) string {
	params := url.Values{}
	params.Set("count", strconv.Itoa(clampPageSize(c.pageSize)))
	if cursor != "" {
		params.Set("max_id", cursor)
	}
	return fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())
}

// challengeURL resolves the api_path of a challenge against the base URL
func (c *Client) challengeURL(apiPath string) string {
	return c.baseURL + "/api/v1" + apiPath
}

func clampPageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// GetPostURL constructs the permalink of a post
func GetPostURL(shortcode string) string {
	if shortcode == "" {
		return ""
	}
	return fmt.Sprintf("%s/p/%s/", WebURL, shortcode)
}

// IsValidUsername checks if a username is valid according to Instagram rules
func IsValidUsername(username string) bool {
	if username == "" || len(username) > 30 {
		return false
	}

	// Instagram usernames can only contain letters, numbers, periods, and underscores
	for _, char := range username {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '.' || char == '_') {
			return false
		}
	}

	return true
}

// IsValidHashtag checks a hashtag name without its leading '#'
func IsValidHashtag(tag string) bool {
	if tag == "" || len(tag) > 100 {
		return false
	}
	for _, char := range tag {
		if char == '#' || char == ' ' || char == '/' || char == '?' || char == '&' {
			return false
		}
	}
	return true
}

// SanitizeUsername removes a leading @ and trailing slashes or spaces
func SanitizeUsername(username string) string {
	if username == "" {
		return ""
	}

	if username[0] == '@' {
		username = username[1:]
	}

	for len(username) > 0 && (username[len(username)-1] == '/' || username[len(username)-1] == ' ') {
		username = username[:len(username)-1]
	}

	return username
}

// SanitizeHashtag removes a leading '#' and surrounding spaces
func SanitizeHashtag(tag string) string {
	for len(tag) > 0 && (tag[0] == '#' || tag[0] == ' ') {
		tag = tag[1:]
	}
	for len(tag) > 0 && tag[len(tag)-1] == ' ' {
		tag = tag[:len(tag)-1]
	}
	return tag
}
