package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"courseframework/internal/host"
	"courseframework/internal/plugins/community"
	"courseframework/internal/plugins/coursebuilder"
	"courseframework/pkg/access"
	"courseframework/pkg/components"
	"courseframework/pkg/plugin"
	"courseframework/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenario_CourseCreatedReachesFeedAndStream follows one course from the
// builder to the community feed and to a websocket subscriber.
func TestScenario_CourseCreatedReachesFeedAndStream(t *testing.T) {
	h := setupTest(t, map[string]plugin.Config{
		coursebuilder.PluginID: {"default_visibility": "community"},
		community.PluginID:     {"feed_size": 10},
	})

	// GIVEN: a member watching course events
	stream, err := testutil.DialStream(h.http.URL, h.token(t, testutil.Member("X", access.PermissionView)), coursebuilder.EventCourseCreated)
	require.NoError(t, err)
	defer stream.Close()
	require.Eventually(t, func() bool {
		return h.env.Host.Bus().HandlerCount(coursebuilder.EventCourseCreated) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// WHEN: a course is created for tenant X
	t.Log("WHEN: course builder saves a new course")
	c, err := h.env.Builtins.CourseBuilder.SaveCourse(context.Background(), coursebuilder.Course{Title: "Distributed Systems", TenantID: "X"})
	require.NoError(t, err)
	assert.Equal(t, coursebuilder.VisibilityCommunity, c.Visibility)

	// THEN: the stream sees it
	e, err := stream.WaitFor(coursebuilder.EventCourseCreated, 2*time.Second)
	require.NoError(t, err)
	var streamed coursebuilder.Course
	require.NoError(t, json.Unmarshal(e.Payload, &streamed))
	assert.Equal(t, c.ID, streamed.ID)

	// AND: the community feed announces it to tenant X only
	feed := h.env.Builtins.Community.Feed("X")
	require.Len(t, feed, 1)
	assert.Equal(t, "New course: Distributed Systems", feed[0].Text)
	assert.Empty(t, h.env.Builtins.Community.Feed("Y"))

	// AND: it is persisted
	stored, err := h.env.Builtins.CourseBuilder.Courses(context.Background(), "X")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, c.ID, stored[0].ID)
}

// TestScenario_BootEvents checks the lifecycle events a boot produces.
func TestScenario_BootEvents(t *testing.T) {
	h := setupTest(t, nil)
	events := h.env.Recorder.Events()

	assert.Len(t, testutil.FilterEvents(events, plugin.EventRegistered), 2)
	assert.Len(t, testutil.FilterEvents(events, plugin.EventInitialized), 2)
	assert.Len(t, testutil.FilterEvents(events, components.EventComponentsPublished), 2)

	ready := testutil.FindEventWithPayload(events, host.EventPluginReady, "plugin", coursebuilder.PluginID)
	require.NotNil(t, ready)
	assert.True(t, testutil.Epoch.Equal(ready.Timestamp))

	var statuses []plugin.Status
	code := h.call(t, http.MethodGet, "/api/plugins", "", nil, &statuses)
	require.Equal(t, http.StatusOK, code)
	for _, s := range statuses {
		assert.True(t, s.Initialized, s.ID)
	}
}

// TestScenario_SlowPluginTimesOut boots with a plugin that never finishes
// initializing and checks the rest of the host still comes up.
func TestScenario_SlowPluginTimesOut(t *testing.T) {
	env, err := testutil.NewTestEnv(testutil.WithInitTimeout(50 * time.Millisecond))
	require.NoError(t, err)
	defer env.Cleanup()

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, env.Host.Register(plugin.Descriptor{
		ID: "slow",
		Initialize: func(ctx context.Context, cfg plugin.Config) (components.Set, error) {
			<-release
			return nil, nil
		},
	}))

	err = env.Boot(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	assert.False(t, env.Host.Registry().IsInitialized("slow"))
	assert.True(t, env.Host.Registry().IsInitialized(coursebuilder.PluginID))
	assert.True(t, env.Host.Resolve(coursebuilder.ComponentCourseViewer, testutil.Owner("", access.PermissionView), "").Granted)
	assert.Equal(t, 1, env.Recorder.Count(plugin.EventInitFailed))
}

// TestScenario_PolicyTightening narrows a component's permissions at runtime.
func TestScenario_PolicyTightening(t *testing.T) {
	h := setupTest(t, nil)
	token := h.token(t, testutil.Owner("", access.PermissionView))

	code := h.call(t, http.MethodGet, "/api/components/"+coursebuilder.ComponentCourseViewer, token, nil, nil)
	require.Equal(t, http.StatusOK, code)

	h.env.Host.ApplyPolicy(access.NewPolicy(map[string][]string{
		coursebuilder.ComponentCourseViewer: {access.PermissionView, "enrolled"},
	}))

	code = h.call(t, http.MethodGet, "/api/components/"+coursebuilder.ComponentCourseViewer, token, nil, nil)
	assert.Equal(t, http.StatusForbidden, code)

	enrolled := h.token(t, testutil.Owner("", access.PermissionView, "enrolled"))
	code = h.call(t, http.MethodGet, "/api/components/"+coursebuilder.ComponentCourseViewer, enrolled, nil, nil)
	assert.Equal(t, http.StatusOK, code)
}
