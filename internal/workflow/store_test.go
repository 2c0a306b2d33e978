package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/domguard/internal/recorder"
)

func TestStoreSaveGetDelete(t *testing.T) {
	s := NewStore(t.TempDir())
	w := loginWorkflow()
	w.Tags = []string{"auth"}
	w.Domain = "*.example.com"
	require.NoError(t, s.Save(w))
	assert.False(t, w.CreatedAt.IsZero())

	got, err := s.Get("login")
	require.NoError(t, err)
	assert.Equal(t, "Login", got.Name)
	require.Len(t, got.Steps, 4)
	assert.Nil(t, got.Steps[0].Required)
	assert.True(t, got.Steps[0].IsRequired())
	assert.Equal(t, "password", got.Parameters[1].Type())

	byName, err := s.Get("Login")
	require.NoError(t, err)
	assert.Equal(t, got.ID, byName.ID)

	tagged, err := s.ListByTag("AUTH")
	require.NoError(t, err)
	assert.Len(t, tagged, 1)

	forDomain, err := s.ListForDomain("app.example.com")
	require.NoError(t, err)
	assert.Len(t, forDomain, 1)
	none, err := s.ListForDomain("example.org")
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, s.Delete("login"))
	_, err = s.Get("login")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.ErrorIs(t, s.Delete("login"), ErrWorkflowNotFound)
}

func TestStoreGetByName(t *testing.T) {
	s := NewStore(t.TempDir())
	a := CreateEmpty("Checkout")
	require.NoError(t, s.Save(a))

	got, err := s.Get("checkout")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	b := CreateEmpty("Checkout")
	require.NoError(t, s.Save(b))
	_, err = s.Get("Checkout")
	assert.ErrorIs(t, err, ErrAmbiguousName)
}

func TestStoreParsesHandWrittenYAML(t *testing.T) {
	dir := t.TempDir()
	doc := `id: search
name: Search
domain: example.com
parameters:
  - name: query
    required: true
steps:
  - action: navigate
    target: https://example.com
  - name: Type query
    action: type
    target: "input[name=q]"
    value: "{{query}}"
    retry_count: 1
    timeout_ms: 2000
  - action: click
    target: "text:Accept"
    required: false
    condition:
      selector_exists: "text:Accept"
  - action: scroll
    args:
      dy: 400
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "search.yaml"), []byte(doc), 0644))
	s := NewStore(dir)

	w, err := s.Get("search")
	require.NoError(t, err)
	require.Len(t, w.Steps, 4)
	assert.Equal(t, 1, *w.Steps[1].RetryCount)
	assert.False(t, w.Steps[2].IsRequired())
	assert.Equal(t, "text:Accept", w.Steps[2].Condition.SelectorExists)
	assert.Equal(t, []string{"query"}, w.Placeholders())

	plan, err := w.Plan(map[string]string{"query": "go"})
	require.NoError(t, err)
	assert.Equal(t, "go", plan[1].Action.Value)
	assert.Equal(t, 2*time.Second, plan[1].Action.Timeout)
	assert.Equal(t, 400, plan[3].Action.Args["dy"])
}

func TestRecordRun(t *testing.T) {
	s := NewStore(t.TempDir())
	w := CreateEmpty("x")
	require.NoError(t, s.Save(w))
	require.NoError(t, s.RecordRun(w.ID))
	require.NoError(t, s.RecordRun(w.ID))

	got, err := s.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RunCount)
	assert.NotNil(t, got.LastRun)
}

func TestMatchDomain(t *testing.T) {
	tests := []struct {
		pattern, host string
		want          bool
	}{
		{"example.com", "example.com", true},
		{"example.com", "www.example.com", true},
		{"example.com", "badexample.com", false},
		{"*.example.com", "app.example.com", true},
		{"*.example.com", "a.b.example.com", false},
		{"**.example.com", "a.b.example.com", true},
		{"shop.*", "shop.test", true},
		{"", "example.com", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchDomain(tt.pattern, tt.host), "%s vs %s", tt.pattern, tt.host)
	}
}

func TestFromSession(t *testing.T) {
	s := &recorder.Session{
		ID:         "3f2a9c1e-77aa-4d1b-9e2f-0c1d2e3f4a5b",
		Name:       "checkout run",
		InitialURL: "https://shop.example.com/cart",
		Actions: []recorder.ActionRecord{
			{Command: "navigate", Args: map[string]any{"url": "https://shop.example.com/cart"}, Status: recorder.ActionSuccess},
			{Command: "type", Selector: "#email", Args: map[string]any{"value": "a@b.c"}, Status: recorder.ActionSuccess},
			{Command: "click", Selector: "text:Pay >> nth=1", Args: map[string]any{}, Status: recorder.ActionFailed},
			{Command: "scroll", Args: map[string]any{"dy": 300}, Status: recorder.ActionSuccess},
		},
	}
	w := FromSession(s, "Checkout")

	assert.Equal(t, "workflow-3f2a9c1e", w.ID)
	assert.Equal(t, "shop.example.com", w.Domain)
	assert.Equal(t, []string{"from-session"}, w.Tags)
	assert.Empty(t, w.Parameters)
	require.Len(t, w.Steps, 4)
	assert.Equal(t, "navigate", w.Steps[0].Action)
	assert.Equal(t, "https://shop.example.com/cart", w.Steps[0].Value)
	assert.Equal(t, "a@b.c", w.Steps[1].Value)
	assert.Equal(t, "#email", w.Steps[1].Target)
	assert.Equal(t, int64(5000), w.Steps[2].TimeoutMs)
	assert.True(t, w.Steps[2].IsRequired())
	assert.Equal(t, map[string]any{"dy": 300}, w.Steps[3].Args)

	plan, err := w.Plan(nil)
	require.NoError(t, err)
	assert.Len(t, plan, 4)
}
