package integration

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"courseframework/internal/config"
	"courseframework/internal/plugins/coursebuilder"
	"courseframework/pkg/access"
	"courseframework/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const openPolicy = `
components:
  CourseEditor: [view]
  CourseViewer: [view]
  CourseList: [view]
`

const lockedPolicy = `
components:
  CourseEditor: [view, edit_courses]
  CourseViewer: [view]
  CourseList: [view]
`

// TestScenario_PolicyHotReload edits the policy file of a running host and
// checks access follows the file.
func TestScenario_PolicyHotReload(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(policyPath, []byte(openPolicy), 0o644))

	loader := config.NewLoader(policyPath, "", zap.NewNop())
	require.NoError(t, loader.LoadAll())

	h := setupTest(t, nil, testutil.WithPolicy(loader.Policy()))
	token := h.token(t, testutil.Owner("", access.PermissionView))
	editorPath := "/api/components/" + coursebuilder.ComponentCourseEditor

	// GIVEN: the editor only needs view
	t.Log("GIVEN: CourseEditor requires only view")
	require.Equal(t, http.StatusOK, h.call(t, http.MethodGet, editorPath, token, nil, nil))

	require.NoError(t, loader.Watch(func(l *config.Loader) {
		h.env.Host.ApplyPolicy(l.Policy())
	}))
	defer loader.Stop()

	// WHEN: the file starts requiring edit_courses
	t.Log("WHEN: policy file is rewritten to require edit_courses")
	require.NoError(t, os.WriteFile(policyPath, []byte(lockedPolicy), 0o644))

	// A write can surface as several events; wait for the final content
	require.Eventually(t, func() bool {
		required := h.env.Host.Components().Policy().Required(coursebuilder.ComponentCourseEditor)
		return len(required) == 2
	}, 5*time.Second, 20*time.Millisecond, "policy was not reloaded")

	// THEN: the same caller is refused, and an editor is served
	t.Log("THEN: callers without edit_courses are refused")
	assert.Equal(t, http.StatusForbidden, h.call(t, http.MethodGet, editorPath, token, nil, nil))

	editor := h.token(t, testutil.Owner("", access.PermissionView, "edit_courses"))
	assert.Equal(t, http.StatusOK, h.call(t, http.MethodGet, editorPath, editor, nil, nil))
	assert.Equal(t, []string{"edit_courses", "view"}, h.env.Host.Components().Policy().Required(coursebuilder.ComponentCourseEditor))
}
