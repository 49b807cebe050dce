package incident

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/core"
)

func TestDefaultSeverityPolicies(t *testing.T) {
	policies := DefaultSeverityPolicies()

	p1 := policies[core.IncidentSeverityP1]
	assert.True(t, p1.AutoEscalate)
	assert.Equal(t, 30*time.Minute, p1.EscalationTime)
	assert.NotEmpty(t, p1.EscalatedStakeholders)

	p2 := policies[core.IncidentSeverityP2]
	assert.True(t, p2.AutoEscalate)
	assert.Equal(t, 60*time.Minute, p2.EscalationTime)

	for _, sev := range []core.IncidentSeverity{core.IncidentSeverityP3, core.IncidentSeverityP4} {
		assert.False(t, policies[sev].AutoEscalate)
		assert.NotEmpty(t, policies[sev].Stakeholders)
	}
}

func TestDefaultPlaybooksCoverEveryCategory(t *testing.T) {
	playbooks := DefaultPlaybooks()
	known := KnownActionTypes()

	for _, category := range core.AllIncidentCategories {
		steps, ok := playbooks[category]
		require.True(t, ok, "category %s has no playbook", category)
		require.NotEmpty(t, steps)
		for _, step := range steps {
			assert.Contains(t, known, step.Type)
		}
	}
}

func writePlaybookFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playbooks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPlaybooks(t *testing.T) {
	path := writePlaybookFile(t, `
playbooks:
  DATA_LEAK:
    - type: preserve-logs
      automated: true
    - type: revoke-sessions
      automated: true
      confirmation_required: true
      description: Kill active sessions for the implicated account
`)

	playbooks, err := LoadPlaybooks(path)
	require.NoError(t, err)

	steps, ok := playbooks[core.CategoryDataLeak]
	require.True(t, ok)
	require.Len(t, steps, 2)
	assert.True(t, steps[0].Automated)
	assert.NotEmpty(t, steps[0].Description, "registry description fills the blank")
	assert.Equal(t, "Kill active sessions for the implicated account", steps[1].Description)
	assert.True(t, steps[1].ConfirmationRequired)
}

func TestLoadPlaybooksRejectsUnknownAction(t *testing.T) {
	path := writePlaybookFile(t, `
playbooks:
  DATA_LEAK:
    - type: launch-countermeasures
`)

	_, err := LoadPlaybooks(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action type")
}

func TestLoadPlaybooksRejectsUnknownCategory(t *testing.T) {
	path := writePlaybookFile(t, `
playbooks:
  ALIEN_INVASION:
    - type: collect-evidence
`)

	_, err := LoadPlaybooks(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown incident category")
}

func TestLoadPlaybooksMissingFile(t *testing.T) {
	_, err := LoadPlaybooks(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
