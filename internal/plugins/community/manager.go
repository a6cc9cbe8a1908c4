package community

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"courseframework/pkg/clock"
	"courseframework/pkg/components"
	"courseframework/pkg/eventbus"
	"courseframework/pkg/plugin"

	"go.uber.org/zap"
)

// PluginID identifies the community plugin in the plugin registry.
const PluginID = "community"

// Component names published by the community plugin.
const (
	ComponentCommunityFeed   = "CommunityFeed"
	ComponentMemberDirectory = "MemberDirectory"
)

// Events this plugin reacts to or emits.
const (
	EventCourseCreated = "course:created"
	EventPostCreated   = "community:post_created"

	// EventCreatePost is the user action that posts to the caller's feed.
	EventCreatePost = "community:post"
)

// PostRequest is the data of a community:post action.
type PostRequest struct {
	Author string `json:"author,omitempty"`
	Text   string `json:"text"`
}

var (
	// ErrPostsDisabled is returned by Post when allow_posts is off.
	ErrPostsDisabled = errors.New("posting is disabled")

	// ErrNotReady is returned before Initialize succeeds.
	ErrNotReady = errors.New("community plugin not initialized")
)

// Config represents the community plugin configuration
type Config struct {
	AllowPosts bool `config:"allow_posts"`
	FeedSize   int  `config:"feed_size" validate:"gte=1,lte=1000"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{AllowPosts: true, FeedSize: 50}
}

// FeedItem is one entry in a tenant's community feed.
type FeedItem struct {
	Kind     string    `json:"kind"`
	TenantID string    `json:"tenantId,omitempty"`
	Author   string    `json:"author,omitempty"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// EventTenant returns the tenant the item was posted to.
func (f FeedItem) EventTenant() string { return f.TenantID }

// Feed item kinds.
const (
	KindAnnouncement = "announcement"
	KindPost         = "post"
)

// Manager keeps the community feed. It learns about new courses from the
// bus rather than from the course builder directly.
type Manager struct {
	pctx   *plugin.Context
	logger *zap.Logger
	clock  clock.Clock

	mu     sync.RWMutex
	config Config
	ready  bool
	feed   []FeedItem
	subs   []eventbus.Subscription
}

// NewManager creates a new community manager
func NewManager(pctx *plugin.Context) *Manager {
	logger := zap.NewNop()
	if pctx != nil && pctx.Logger != nil {
		logger = pctx.Logger
	}
	return &Manager{
		pctx:   pctx,
		logger: logger.Named(PluginID),
		clock:  clock.NewRealClock(),
		config: DefaultConfig(),
	}
}

// SetClock sets the clock implementation (useful for testing)
func (m *Manager) SetClock(c clock.Clock) {
	m.clock = c
}

// Initialize validates the configuration, subscribes to course events and
// returns the community components.
func (m *Manager) Initialize(ctx context.Context, cfg plugin.Config) (components.Set, error) {
	c, err := plugin.Decode(cfg, DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("community: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = c
	if len(m.subs) == 0 && m.pctx != nil && m.pctx.Bus != nil {
		for eventType, fn := range map[string]func(eventbus.Event) error{
			EventCourseCreated: m.handleCourseCreated,
			EventCreatePost:    m.handleCreatePost,
		} {
			sub, err := m.pctx.Bus.Subscribe(eventType, fn)
			if err != nil {
				m.unsubscribeLocked()
				return nil, fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
			}
			m.subs = append(m.subs, sub)
		}
	}
	m.ready = true

	m.logger.Info("Community plugin initialized",
		zap.Bool("allow_posts", c.AllowPosts),
		zap.Int("feed_size", c.FeedSize))

	return components.Set{
		ComponentCommunityFeed: {
			Props: map[string]any{"allowPosts": c.AllowPosts, "feedSize": c.FeedSize},
		},
		ComponentMemberDirectory: {},
	}, nil
}

// Destroy unsubscribes from the bus.
func (m *Manager) Destroy(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribeLocked()
	m.ready = false
	m.logger.Info("Community plugin stopped")
	return nil
}

func (m *Manager) unsubscribeLocked() {
	for _, sub := range m.subs {
		sub.Unsubscribe()
	}
	m.subs = nil
}

// Post adds a member post to a tenant's feed and emits community:post_created.
func (m *Manager) Post(tenantID, author, text string) (FeedItem, error) {
	text = strings.TrimSpace(text)

	m.mu.Lock()
	if !m.ready {
		m.mu.Unlock()
		return FeedItem{}, ErrNotReady
	}
	if !m.config.AllowPosts {
		m.mu.Unlock()
		return FeedItem{}, ErrPostsDisabled
	}
	if text == "" {
		m.mu.Unlock()
		return FeedItem{}, fmt.Errorf("post text is required")
	}
	item := FeedItem{
		Kind:     KindPost,
		TenantID: tenantID,
		Author:   author,
		Text:     text,
		At:       m.clock.Now(),
	}
	m.appendLocked(item)
	m.mu.Unlock()

	m.pctx.Emit(EventPostCreated, item)
	return item, nil
}

// Feed returns the newest-first feed for a tenant. Items with no tenant are
// shown to every tenant.
func (m *Manager) Feed(tenantID string) []FeedItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]FeedItem, 0, len(m.feed))
	for i := len(m.feed) - 1; i >= 0; i-- {
		item := m.feed[i]
		if item.TenantID != "" && item.TenantID != tenantID {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (m *Manager) handleCourseCreated(e eventbus.Event) error {
	title, tenantID, ok := courseFields(e.Payload)
	if !ok {
		return fmt.Errorf("unexpected %s payload %T", e.Type, e.Payload)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(FeedItem{
		Kind:     KindAnnouncement,
		TenantID: tenantID,
		Text:     fmt.Sprintf("New course: %s", title),
		At:       e.Timestamp,
	})
	m.logger.Debug("Announced new course", zap.String("title", title))
	return nil
}

// handleCreatePost posts to the feed of the caller's own tenant.
func (m *Manager) handleCreatePost(e eventbus.Event) error {
	a, err := plugin.ActionFrom(e)
	if err != nil {
		return err
	}
	if a.Actor.IsAnonymous() {
		return fmt.Errorf("%w: anonymous callers cannot post", components.ErrAccessDenied)
	}
	var req PostRequest
	if err := a.Decode(&req); err != nil {
		return err
	}
	_, err = m.Post(a.Actor.TenantID, req.Author, req.Text)
	return err
}

// appendLocked adds item and trims the feed to FeedSize. Caller holds mu.
func (m *Manager) appendLocked(item FeedItem) {
	m.feed = append(m.feed, item)
	if over := len(m.feed) - m.config.FeedSize; over > 0 {
		m.feed = append([]FeedItem(nil), m.feed[over:]...)
	}
}

// courseFields pulls the title and tenant out of a course payload without
// importing the course builder.
func courseFields(payload any) (title, tenantID string, ok bool) {
	switch p := payload.(type) {
	case interface {
		CourseTitle() string
		EventTenant() string
	}:
		return p.CourseTitle(), p.EventTenant(), true
	case map[string]any:
		title, _ = p["title"].(string)
		tenantID, _ = p["tenantId"].(string)
		return title, tenantID, title != ""
	}
	return "", "", false
}
