package instagram

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	errs "igcollector/pkg/errors"
)

// DeviceIDs identify the emulated device. They survive a settings reset so
// the platform keeps seeing the same phone after a re-login.
type DeviceIDs struct {
	PhoneID         string `json:"phone_id"`
	UUID            string `json:"uuid"`
	ClientSessionID string `json:"client_session_id"`
	AdvertisingID   string `json:"advertising_id"`
	AndroidDeviceID string `json:"android_device_id"`
}

// AuthorizationData is the bearer token issued at login
type AuthorizationData struct {
	DSUserID      string `json:"ds_user_id,omitempty"`
	SessionID     string `json:"sessionid,omitempty"`
	Authorization string `json:"authorization,omitempty"`
}

// Settings is the exportable state of a client. It is stored on the session
// as an opaque blob.
type Settings struct {
	UUIDs             DeviceIDs         `json:"uuids"`
	Cookies           map[string]string `json:"cookies"`
	AuthorizationData AuthorizationData `json:"authorization_data"`
	UserAgent         string            `json:"user_agent,omitempty"`
	Locale            string            `json:"locale,omitempty"`
	Country           string            `json:"country,omitempty"`
	LastLogin         int64             `json:"last_login,omitempty"`
}

func newDeviceIDs() DeviceIDs {
	return DeviceIDs{
		PhoneID:         uuid.NewString(),
		UUID:            uuid.NewString(),
		ClientSessionID: uuid.NewString(),
		AdvertisingID:   uuid.NewString(),
		AndroidDeviceID: "android-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
	}
}

func (s Settings) loggedIn() bool {
	return s.AuthorizationData.Authorization != "" || s.AuthorizationData.SessionID != ""
}

// ImportSettings replaces the client state with a stored blob. An empty blob
// starts a fresh device. A blob that cannot be decoded is reported as a
// stale session so the caller falls back to a password login.
func (c *Client) ImportSettings(blob []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(blob) == 0 {
		c.settings = c.freshSettings(newDeviceIDs())
		return nil
	}

	var s Settings
	if err := json.Unmarshal(blob, &s); err != nil {
		c.settings = c.freshSettings(newDeviceIDs())
		return errs.Wrap(errs.ErrorTypeStaleSession, "stored settings are not readable", err)
	}
	if s.UUIDs.UUID == "" {
		s.UUIDs = newDeviceIDs()
	}
	if s.Cookies == nil {
		s.Cookies = make(map[string]string)
	}
	if s.UserAgent != "" {
		c.headers["User-Agent"] = s.UserAgent
	}
	c.settings = s
	return nil
}

// ExportSettings returns the current state as a blob suitable for
// ImportSettings
func (c *Client) ExportSettings() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(c.settings)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeInternal, "failed to encode settings", err)
	}
	return data, nil
}

// ResetSettings drops cookies and authorization. With keepDevice the device
// identifiers are carried over.
func (c *Client) ResetSettings(keepDevice bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := newDeviceIDs()
	if keepDevice && c.settings.UUIDs.UUID != "" {
		ids = c.settings.UUIDs
	}
	c.settings = c.freshSettings(ids)
	c.userIDs = make(map[string]string)
}

func (c *Client) freshSettings(ids DeviceIDs) Settings {
	return Settings{
		UUIDs:     ids,
		Cookies:   make(map[string]string),
		UserAgent: c.headers["User-Agent"],
		Locale:    c.locale,
		Country:   c.country,
	}
}

func (c *Client) markLoggedIn(auth AuthorizationData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if auth.Authorization != "" {
		c.settings.AuthorizationData.Authorization = auth.Authorization
	}
	if auth.DSUserID != "" {
		c.settings.AuthorizationData.DSUserID = auth.DSUserID
	}
	if sid, ok := c.settings.Cookies["sessionid"]; ok {
		c.settings.AuthorizationData.SessionID = sid
	}
	c.settings.LastLogin = time.Now().Unix()
}
