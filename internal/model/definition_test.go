package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinitionValidate(t *testing.T) {
	valid := func() WorkflowDefinition {
		return WorkflowDefinition{
			ID:   "wf-1",
			Name: "Pipeline",
			Tasks: []TaskDefinition{
				{ID: "a", AgentType: AgentTypeQuery},
				{ID: "b", AgentType: AgentTypeConnector, Dependencies: []string{"a"}},
			},
		}
	}

	t.Run("valid definition", func(t *testing.T) {
		def := valid()
		assert.NoError(t, def.Validate())
	})

	t.Run("missing workflow id", func(t *testing.T) {
		def := valid()
		def.ID = ""
		assert.ErrorIs(t, def.Validate(), ErrWorkflowIDRequired)
	})

	t.Run("missing workflow name", func(t *testing.T) {
		def := valid()
		def.Name = ""
		assert.ErrorIs(t, def.Validate(), ErrWorkflowNameRequired)
	})

	t.Run("missing task id", func(t *testing.T) {
		def := valid()
		def.Tasks[0].ID = ""
		assert.ErrorIs(t, def.Validate(), ErrTaskIDRequired)
	})

	t.Run("missing agent type", func(t *testing.T) {
		def := valid()
		def.Tasks[1].AgentType = ""
		assert.ErrorIs(t, def.Validate(), ErrTaskAgentTypeRequired)
	})

	t.Run("duplicate task id", func(t *testing.T) {
		def := valid()
		def.Tasks[1].ID = "a"
		err := def.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate task id")
	})

	t.Run("dependency cycle", func(t *testing.T) {
		def := valid()
		def.Tasks[0].Dependencies = []string{"b"}
		err := def.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "circular dependency")
	})

	t.Run("self dependency", func(t *testing.T) {
		def := valid()
		def.Tasks[0].Dependencies = []string{"a"}
		err := def.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "circular dependency")
	})

	t.Run("unknown dependency id passes validation", func(t *testing.T) {
		// Left for the engine's stuck detection at runtime
		def := valid()
		def.Tasks[0].Dependencies = []string{"ghost"}
		assert.NoError(t, def.Validate())
	})
}

func TestDefinitionBuild(t *testing.T) {
	def := WorkflowDefinition{
		ID:          "wf-1",
		Name:        "Pipeline",
		Description: "Nightly ingestion",
		Metadata:    map[string]interface{}{"owner": "data-team"},
		Tasks: []TaskDefinition{
			{ID: "a", AgentType: AgentTypeQuery, Params: map[string]interface{}{"prompt": "run"}},
			{ID: "b", AgentType: AgentTypeConnector, Name: "Sync CRM", Dependencies: []string{"a"}, Timeout: 2.5, RetryLimit: 5},
		},
	}

	wf, err := def.Build()
	require.NoError(t, err)

	assert.Equal(t, "wf-1", wf.ID)
	assert.Equal(t, WorkflowStatusPending, wf.Status)
	require.Len(t, wf.Tasks, 2)

	a := wf.Task("a")
	require.NotNil(t, a)
	assert.Equal(t, "a", a.Name, "task name defaults to its id")
	assert.Equal(t, DefaultRetryLimit, a.RetryLimit)
	assert.Equal(t, time.Duration(0), a.Timeout)
	assert.Equal(t, TaskStatusPending, a.Status)

	b := wf.Task("b")
	require.NotNil(t, b)
	assert.Equal(t, "Sync CRM", b.Name)
	assert.Equal(t, 5, b.RetryLimit)
	assert.Equal(t, 2500*time.Millisecond, b.Timeout)

	// Built tasks own copies of the definition's params
	a.Params["prompt"] = "changed"
	assert.Equal(t, "run", def.Tasks[0].Params["prompt"])
}

func TestDefinitionBuildInvalid(t *testing.T) {
	def := WorkflowDefinition{Name: "missing id"}
	wf, err := def.Build()
	assert.Nil(t, wf)
	assert.ErrorIs(t, err, ErrWorkflowIDRequired)
}
