package coursebuilder

import (
	"context"
	"fmt"

	"courseframework/pkg/access"
	"courseframework/pkg/components"
	"courseframework/pkg/eventbus"
	"courseframework/pkg/plugin"

	"go.uber.org/zap"
)

// User actions the course builder accepts through the host's Dispatch.
const (
	EventCreateCourse = "course:create"
	EventDeleteCourse = "course:delete"
	EventSaveTemplate = "course:save_template"
)

// PermissionEditCourses lets members author courses in their tenant.
const PermissionEditCourses = "edit_courses"

// CreateCourseRequest is the data of a course:create action. TenantID is
// honored only for callers who can access that tenant; it defaults to the
// caller's own tenant.
type CreateCourseRequest struct {
	Title      string   `json:"title"`
	TenantID   string   `json:"tenantId,omitempty"`
	Visibility string   `json:"visibility,omitempty"`
	Modules    []string `json:"modules,omitempty"`
}

// DeleteCourseRequest is the data of a course:delete action.
type DeleteCourseRequest struct {
	ID string `json:"id"`
}

// subscribeActions attaches the action handlers once. Caller holds mu.
func (m *Manager) subscribeActions() error {
	if len(m.subs) > 0 || m.pctx == nil || m.pctx.Bus == nil {
		return nil
	}
	handlers := map[string]func(eventbus.Event) error{
		EventCreateCourse: m.handleCreateCourse,
		EventDeleteCourse: m.handleDeleteCourse,
		EventSaveTemplate: m.handleSaveTemplate,
	}
	for eventType, fn := range handlers {
		sub, err := m.pctx.Bus.Subscribe(eventType, fn)
		if err != nil {
			m.unsubscribeActions()
			return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}
		m.subs = append(m.subs, sub)
	}
	return nil
}

// unsubscribeActions detaches the action handlers. Caller holds mu.
func (m *Manager) unsubscribeActions() {
	for _, sub := range m.subs {
		sub.Unsubscribe()
	}
	m.subs = nil
}

func (m *Manager) handleCreateCourse(e eventbus.Event) error {
	a, err := plugin.ActionFrom(e)
	if err != nil {
		return err
	}
	if !canAuthor(a.Actor) {
		return m.deny(e, a.Actor, "authoring courses needs owner or edit_courses")
	}

	var req CreateCourseRequest
	if err := a.Decode(&req); err != nil {
		return err
	}
	tenantID := a.Actor.TenantID
	if req.TenantID != "" && req.TenantID != tenantID {
		if !a.Actor.CanAccessTenant(req.TenantID) {
			return m.deny(e, a.Actor, "cannot create courses for tenant "+req.TenantID)
		}
		tenantID = req.TenantID
	}

	_, err = m.SaveCourse(context.Background(), Course{
		Title:      req.Title,
		TenantID:   tenantID,
		Visibility: req.Visibility,
		Modules:    req.Modules,
	})
	return err
}

func (m *Manager) handleDeleteCourse(e eventbus.Event) error {
	a, err := plugin.ActionFrom(e)
	if err != nil {
		return err
	}
	if !canAuthor(a.Actor) {
		return m.deny(e, a.Actor, "deleting courses needs owner or edit_courses")
	}

	var req DeleteCourseRequest
	if err := a.Decode(&req); err != nil {
		return err
	}
	ctx := context.Background()
	c, err := m.GetCourse(ctx, req.ID)
	if err != nil {
		return err
	}
	if !ownsCourse(a.Actor, c) {
		return m.deny(e, a.Actor, "course "+c.ID+" belongs to another tenant")
	}
	return m.DeleteCourse(ctx, c.ID)
}

func (m *Manager) handleSaveTemplate(e eventbus.Event) error {
	a, err := plugin.ActionFrom(e)
	if err != nil {
		return err
	}
	// Templates are shared by every tenant
	if !a.Actor.IsSystemAdmin && !(canAuthor(a.Actor) && a.Actor.TenantID == "") {
		return m.deny(e, a.Actor, "lesson templates are managed by platform authors")
	}

	var lt LessonTemplate
	if err := a.Decode(&lt); err != nil {
		return err
	}
	_, err = m.SaveLessonTemplate(context.Background(), lt)
	return err
}

func (m *Manager) deny(e eventbus.Event, actx access.Context, reason string) error {
	m.logger.Warn("Course action refused",
		zap.String("type", e.Type),
		zap.String("role", string(actx.Role)),
		zap.String("tenant", actx.TenantID),
		zap.String("reason", reason))
	return fmt.Errorf("%w: %s", components.ErrAccessDenied, reason)
}

func canAuthor(actx access.Context) bool {
	if actx.IsAnonymous() {
		return false
	}
	return actx.IsSystemAdmin || actx.Role == access.RoleOwner || actx.Permissions.Has(PermissionEditCourses)
}

// ownsCourse reports whether actx may change c. Platform courses belong to
// callers without a tenant.
func ownsCourse(actx access.Context, c Course) bool {
	if c.TenantID == "" {
		return actx.IsSystemAdmin || actx.TenantID == ""
	}
	return actx.CanAccessTenant(c.TenantID)
}
