package coursebuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"courseframework/internal/storage"
	"courseframework/pkg/components"
	"courseframework/pkg/eventbus"
	"courseframework/pkg/plugin"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Events emitted by the course builder.
const (
	EventCourseCreated = "course:created"
	EventCourseUpdated = "course:updated"
	EventCourseDeleted = "course:deleted"
)

// Component names published by the course builder.
const (
	ComponentCourseEditor = "CourseEditor"
	ComponentCourseViewer = "CourseViewer"
	ComponentCourseList   = "CourseList"
)

var (
	// ErrNotReady is returned by course operations before Initialize succeeds.
	ErrNotReady = errors.New("course builder not initialized")

	// ErrInvalidCourse is returned for courses that fail validation.
	ErrInvalidCourse = errors.New("invalid course")

	// ErrTemplatesDisabled is returned when allow_templates is off.
	ErrTemplatesDisabled = errors.New("lesson templates are disabled")
)

// Course is the persisted course document.
type Course struct {
	ID         string   `json:"id,omitempty"`
	Title      string   `json:"title"`
	TenantID   string   `json:"tenantId,omitempty"`
	Visibility string   `json:"visibility"`
	Modules    []string `json:"modules"`
}

// CourseTitle returns the course title.
func (c Course) CourseTitle() string { return c.Title }

// EventTenant returns the tenant that owns the course, if any.
func (c Course) EventTenant() string { return c.TenantID }

// LessonTemplate is a reusable lesson skeleton.
type LessonTemplate struct {
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name"`
	Sections []string `json:"sections"`
}

// Manager handles course authoring on top of the storage adapter
type Manager struct {
	pctx   *plugin.Context
	store  storage.Store
	logger *zap.Logger

	mu     sync.RWMutex
	config Config
	ready  bool
	subs   []eventbus.Subscription
}

// NewManager creates a new course builder manager
func NewManager(pctx *plugin.Context, store storage.Store) *Manager {
	logger := zap.NewNop()
	if pctx != nil && pctx.Logger != nil {
		logger = pctx.Logger
	}
	return &Manager{
		pctx:   pctx,
		store:  store,
		logger: logger.Named(PluginID),
		config: DefaultConfig(),
	}
}

// Initialize validates the configuration and returns the components this
// plugin contributes.
func (m *Manager) Initialize(ctx context.Context, cfg plugin.Config) (components.Set, error) {
	c, err := ParseConfig(cfg)
	if err != nil {
		return nil, err
	}
	if m.store == nil {
		return nil, fmt.Errorf("course builder requires a storage adapter")
	}

	m.mu.Lock()
	if err := m.subscribeActions(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.config = c
	m.ready = true
	m.mu.Unlock()

	m.logger.Info("Course builder initialized",
		zap.String("default_visibility", c.DefaultVisibility),
		zap.Int("max_modules", c.MaxModules),
		zap.Bool("allow_templates", c.AllowTemplates))

	return components.Set{
		ComponentCourseEditor: {
			Props: map[string]any{"maxModules": c.MaxModules, "allowTemplates": c.AllowTemplates},
		},
		ComponentCourseViewer: {},
		ComponentCourseList: {
			Props: map[string]any{"defaultVisibility": c.DefaultVisibility},
		},
	}, nil
}

// Destroy stops accepting actions and marks the manager as stopped.
func (m *Manager) Destroy(ctx context.Context) error {
	m.mu.Lock()
	m.unsubscribeActions()
	m.ready = false
	m.mu.Unlock()
	m.logger.Info("Course builder stopped")
	return nil
}

// Config returns the active configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SaveCourse validates and stores a course. A course without an id is created
// and announced with course:created; otherwise course:updated is emitted.
func (m *Manager) SaveCourse(ctx context.Context, c Course) (Course, error) {
	cfg, err := m.readyConfig()
	if err != nil {
		return Course{}, err
	}

	c.Title = strings.TrimSpace(c.Title)
	if c.Title == "" {
		return Course{}, fmt.Errorf("%w: title is required", ErrInvalidCourse)
	}
	if len(c.Modules) > cfg.MaxModules {
		return Course{}, fmt.Errorf("%w: %d modules exceeds limit of %d", ErrInvalidCourse, len(c.Modules), cfg.MaxModules)
	}
	if c.Visibility == "" {
		c.Visibility = cfg.DefaultVisibility
	}
	switch c.Visibility {
	case VisibilityPublic, VisibilityPrivate, VisibilityCommunity:
	default:
		return Course{}, fmt.Errorf("%w: unknown visibility %q", ErrInvalidCourse, c.Visibility)
	}
	if c.Modules == nil {
		c.Modules = []string{}
	}

	created := c.ID == ""
	if created {
		c.ID = uuid.NewString()
	}
	rec, err := storage.NewRecord(c.ID, c)
	if err != nil {
		return Course{}, err
	}
	if _, err := m.store.Save(ctx, storage.CollectionCourses, rec); err != nil {
		return Course{}, fmt.Errorf("failed to save course: %w", err)
	}

	eventType := EventCourseUpdated
	if created {
		eventType = EventCourseCreated
	}
	m.logger.Info("Course saved",
		zap.String("id", c.ID),
		zap.String("title", c.Title),
		zap.Bool("created", created))
	m.pctx.Emit(eventType, c)
	return c, nil
}

// GetCourse loads one course.
func (m *Manager) GetCourse(ctx context.Context, id string) (Course, error) {
	if _, err := m.readyConfig(); err != nil {
		return Course{}, err
	}
	rec, err := m.store.GetByID(ctx, storage.CollectionCourses, id)
	if err != nil {
		return Course{}, err
	}
	var c Course
	if err := rec.Decode(&c); err != nil {
		return Course{}, err
	}
	c.ID = rec.ID
	return c, nil
}

// Courses lists courses, optionally restricted to one tenant.
func (m *Manager) Courses(ctx context.Context, tenantID string) ([]Course, error) {
	if _, err := m.readyConfig(); err != nil {
		return nil, err
	}
	recs, err := m.store.GetAll(ctx, storage.CollectionCourses)
	if err != nil {
		return nil, err
	}

	out := make([]Course, 0, len(recs))
	for _, rec := range recs {
		var c Course
		if err := rec.Decode(&c); err != nil {
			m.logger.Warn("Skipping unreadable course", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		c.ID = rec.ID
		if tenantID != "" && c.TenantID != tenantID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// DeleteCourse removes a course and emits course:deleted.
func (m *Manager) DeleteCourse(ctx context.Context, id string) error {
	c, err := m.GetCourse(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, storage.CollectionCourses, id); err != nil {
		return err
	}
	m.logger.Info("Course deleted", zap.String("id", id))
	m.pctx.Emit(EventCourseDeleted, map[string]any{"id": id, "tenantId": c.TenantID})
	return nil
}

// SaveLessonTemplate stores a lesson template when templates are enabled.
func (m *Manager) SaveLessonTemplate(ctx context.Context, lt LessonTemplate) (LessonTemplate, error) {
	cfg, err := m.readyConfig()
	if err != nil {
		return LessonTemplate{}, err
	}
	if !cfg.AllowTemplates {
		return LessonTemplate{}, ErrTemplatesDisabled
	}
	if strings.TrimSpace(lt.Name) == "" {
		return LessonTemplate{}, fmt.Errorf("%w: template name is required", ErrInvalidCourse)
	}

	rec, err := storage.NewRecord(lt.ID, lt)
	if err != nil {
		return LessonTemplate{}, err
	}
	saved, err := m.store.Save(ctx, storage.CollectionLessonTemplates, rec)
	if err != nil {
		return LessonTemplate{}, fmt.Errorf("failed to save lesson template: %w", err)
	}
	lt.ID = saved.ID
	return lt, nil
}

// LessonTemplates lists stored lesson templates.
func (m *Manager) LessonTemplates(ctx context.Context) ([]LessonTemplate, error) {
	if _, err := m.readyConfig(); err != nil {
		return nil, err
	}
	recs, err := m.store.GetAll(ctx, storage.CollectionLessonTemplates)
	if err != nil {
		return nil, err
	}
	out := make([]LessonTemplate, 0, len(recs))
	for _, rec := range recs {
		var lt LessonTemplate
		if err := rec.Decode(&lt); err != nil {
			return nil, err
		}
		lt.ID = rec.ID
		out = append(out, lt)
	}
	return out, nil
}

func (m *Manager) readyConfig() (Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.ready {
		return Config{}, ErrNotReady
	}
	return m.config, nil
}
