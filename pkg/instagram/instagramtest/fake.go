// Package instagramtest provides an in-memory platform for tests of the
// code that drives platform clients.
package instagramtest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	errs "igcollector/pkg/errors"
	"igcollector/pkg/instagram"
	"igcollector/pkg/models"
)

// Account scripts how the platform treats one username
type Account struct {
	// ProbeErr is returned by ProbeLiveness when settings are present
	ProbeErr error
	// LoginErr is returned by Login
	LoginErr error
	// ResolveErr is returned by ResolveChallenge
	ResolveErr error
	// PageErrs fails FetchPage for the given page index
	PageErrs map[int]error
}

// Platform is a fake platform shared by every client it creates
type Platform struct {
	mu       sync.Mutex
	accounts map[string]*Account
	feeds    map[string][]models.Page

	Logins   []string
	Probes   []string
	Resolves []string
	Fetches  []string
	Clients  int
}

// New creates an empty platform
func New() *Platform {
	return &Platform{
		accounts: make(map[string]*Account),
		feeds:    make(map[string][]models.Page),
	}
}

// SetAccount scripts the behaviour for username
func (p *Platform) SetAccount(username string, a Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[username] = &a
}

// SetFeed installs the pages of a target. Cursors are assigned by the fake.
func (p *Platform) SetFeed(target models.Target, pages ...[]models.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()

	feed := make([]models.Page, len(pages))
	for i, items := range pages {
		feed[i] = models.Page{Items: items}
		if i+1 < len(pages) {
			feed[i].NextCursor = Cursor(i + 1)
			feed[i].MoreAvailable = true
		}
	}
	p.feeds[target.Key()] = feed
}

// Cursor returns the cursor the fake uses for page index i
func Cursor(i int) string {
	return "page-" + strconv.Itoa(i)
}

// Settings returns a settings blob the fake accepts for username
func Settings(username string) []byte {
	data, _ := json.Marshal(settings{User: username, Token: "token-" + username})
	return data
}

// Items builds n items with ids prefix-0 .. prefix-(n-1)
func Items(prefix string, n int) []models.Item {
	items := make([]models.Item, n)
	for i := range items {
		id := fmt.Sprintf("%s-%d", prefix, i)
		items[i] = models.Item{ID: id, Code: id, MediaType: models.MediaPhoto, Permalink: instagram.GetPostURL(id)}
	}
	return items
}

// Factory returns a factory creating clients of this platform
func (p *Platform) Factory() instagram.Factory {
	return func() (instagram.PlatformClient, error) {
		p.mu.Lock()
		p.Clients++
		p.mu.Unlock()
		return &Client{platform: p}, nil
	}
}

func (p *Platform) account(username string) Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.accounts[username]; ok {
		return *a
	}
	return Account{}
}

func (p *Platform) record(list *[]string, entry string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	*list = append(*list, entry)
}

// Calls returns a copy of the recorded fetches
func (p *Platform) Calls() (logins, fetches []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Logins...), append([]string(nil), p.Fetches...)
}

type settings struct {
	User  string `json:"user,omitempty"`
	Token string `json:"token,omitempty"`
	// Device survives a reset with keepDevice
	Device string `json:"device,omitempty"`
}

// Client is a platform client backed by a Platform
type Client struct {
	platform *Platform
	mu       sync.Mutex
	state    settings
}

var _ instagram.PlatformClient = (*Client)(nil)

func (c *Client) ImportSettings(blob []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = settings{}
	if len(blob) == 0 {
		return nil
	}
	if err := json.Unmarshal(blob, &c.state); err != nil {
		return errs.Wrap(errs.ErrorTypeStaleSession, "stored settings are not readable", err)
	}
	return nil
}

func (c *Client) ExportSettings() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal(c.state)
}

func (c *Client) ResetSettings(keepDevice bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	device := ""
	if keepDevice {
		device = c.state.Device
	}
	c.state = settings{Device: device}
}

func (c *Client) user() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Token == "" {
		return ""
	}
	return c.state.User
}

func (c *Client) Login(ctx context.Context, username, password string) error {
	c.platform.record(&c.platform.Logins, username)
	c.mu.Lock()
	c.state.User = username
	c.mu.Unlock()
	if err := c.platform.account(username).LoginErr; err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Token = "token-" + username
	if c.state.Device == "" {
		c.state.Device = "device-" + username
	}
	return nil
}

func (c *Client) ProbeLiveness(ctx context.Context) error {
	user := c.user()
	c.platform.record(&c.platform.Probes, user)
	if user == "" {
		return errs.New(errs.ErrorTypeStaleSession, "no stored authorization")
	}
	return c.platform.account(user).ProbeErr
}

func (c *Client) ResolveChallenge(ctx context.Context) error {
	user := c.user()
	if user == "" {
		c.mu.Lock()
		user = c.state.User
		c.mu.Unlock()
	}
	c.platform.record(&c.platform.Resolves, user)
	return c.platform.account(user).ResolveErr
}

func (c *Client) FetchPage(ctx context.Context, target models.Target, cursor string) (models.Page, error) {
	if err := ctx.Err(); err != nil {
		return models.Page{}, errs.Wrap(errs.ErrorTypeCancelled, "request cancelled", err)
	}
	user := c.user()
	if user == "" {
		return models.Page{}, errs.New(errs.ErrorTypeStaleSession, "not logged in")
	}

	index := 0
	if cursor != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(cursor, "page-"))
		if err != nil {
			return models.Page{}, errs.New(errs.ErrorTypeUnclassified, "bad cursor "+cursor)
		}
		index = n
	}
	c.platform.record(&c.platform.Fetches, fmt.Sprintf("%s:%s:%d", user, target.Key(), index))

	if err, ok := c.platform.account(user).PageErrs[index]; ok {
		return models.Page{}, err
	}

	c.platform.mu.Lock()
	feed, ok := c.platform.feeds[target.Key()]
	c.platform.mu.Unlock()
	if !ok {
		return models.Page{}, errs.New(errs.ErrorTypeNotFound, target.Key()+" not found")
	}
	if index >= len(feed) {
		return models.Page{}, nil
	}
	page := feed[index]
	page.Items = append([]models.Item(nil), page.Items...)
	return page, nil
}
