package sysprompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mainthread/mainthread/internal/store"
)

func strPtr(s string) *string { return &s }

func TestBuild_MainThread(t *testing.T) {
	got := Build(&store.Thread{ID: "th_1", Title: "root"})

	assert.Contains(t, got, `thread: "root" (ID: th_1)`)
	assert.Contains(t, got, "MAIN THREAD")
	assert.Contains(t, got, "Task Parallelization")
	assert.NotContains(t, got, "SignalStatus")
	assert.NotContains(t, got, "PLAN MODE")
}

func TestBuild_SubThread(t *testing.T) {
	got := Build(&store.Thread{ID: "th_2", Title: "child", ParentID: strPtr("th_1")})

	assert.Contains(t, got, "SUB-THREAD")
	assert.Contains(t, got, "SignalStatus")
	assert.NotContains(t, got, "MAIN THREAD")
}

func TestBuild_WorkDirAndPlanMode(t *testing.T) {
	got := Build(&store.Thread{
		ID:             "th_3",
		Title:          "planner",
		WorkDir:        strPtr("/data/proj"),
		PermissionMode: store.PermissionPlan,
	})

	assert.Contains(t, got, "Working directory: /data/proj")
	assert.Contains(t, got, "Project Context Awareness")
	assert.Contains(t, got, "PLAN MODE")
}
