package corpus

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360studio/semreq/requirement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(t *testing.T, base string, patterns ...string) *Loader {
	t.Helper()
	l, err := NewLoader(base, patterns, nil)
	require.NoError(t, err)
	return l
}

func TestLoader_Load(t *testing.T) {
	l := newTestLoader(t, "testdata", "usecases/**/*.yaml", "usecases/**/*.yml")

	c, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"ifrs9-ecl", "lcr"}, c.IDs())

	uc, ok := c.Get("ifrs9-ecl")
	require.True(t, ok)
	assert.Equal(t, "IFRS 9 Expected Credit Loss", uc.Name)
	assert.Equal(t, []string{"intake", "business_need"}, uc.Stages)
	require.Len(t, uc.Requirements, 3)

	first := uc.Requirements[0]
	assert.Equal(t, "1", first.ID, "integer ids become strings")
	assert.True(t, first.IsCDE)
	assert.Equal(t, requirement.MatchExact, first.MatchState)
	assert.Equal(t, requirement.AlignmentAligned, first.LexiconAlignment)
	assert.Equal(t, requirement.SourceDerived, first.Source)
	assert.Equal(t, requirement.AlignmentUnset, uc.Requirements[2].LexiconAlignment)

	lcr, ok := c.Get("lcr")
	require.True(t, ok)
	assert.Equal(t, requirement.SourceUser, lcr.Requirements[1].Source)
	assert.Equal(t, []string{"Probability of Default", "Settlement Date"}, lcr.TermLabels())

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLoader_FilesDeduplicated(t *testing.T) {
	l := newTestLoader(t, "testdata", "usecases/**/*.yaml", "usecases/credits/*.yaml")
	files, err := l.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "ifrs9.yaml", filepath.Base(files[0]))
}

func TestLoader_SchemaViolation(t *testing.T) {
	l := newTestLoader(t, "testdata", "broken/*.yaml")
	_, err := l.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "bad-match.yaml")
}

func TestLoader_Parse(t *testing.T) {
	l := newTestLoader(t, t.TempDir())

	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"minimal", "id: a\nrequirements: []\n", false},
		{"missing requirements", "id: a\n", true},
		{"unknown top-level key", "id: a\nrequirements: []\ncolor: red\n", true},
		{"missing term label", "id: a\nrequirements:\n  - id: 1\n    match: new\n", true},
		{"bad alignment", "id: a\nrequirements:\n  - id: 1\n    term_label: x\n    match: new\n    alignment: maybe\n", true},
		{"unknown stage", "id: a\nstages: [launch]\nrequirements: []\n", true},
		{"not yaml", "id: [a\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc, err := l.Parse([]byte(tt.doc))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a", uc.Name, "name defaults to id")
		})
	}
}

func TestNew_DuplicateIDs(t *testing.T) {
	_, err := New(UseCase{ID: "a", Path: "one.yaml"}, UseCase{ID: "a", Path: "two.yaml"})
	assert.ErrorIs(t, err, ErrDuplicate)

	var nilCorpus *Corpus
	assert.Equal(t, 0, nilCorpus.Len())
	assert.Nil(t, nilCorpus.IDs())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcher_ReportsContentChanges(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "uc.yaml")
	writeFile(t, file, "id: a\nrequirements: []\n")

	w, err := NewWatcher(dir, 20*time.Millisecond, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	writeFile(t, file, "id: a\nname: A\nrequirements: []\n")

	select {
	case change := <-w.Changes():
		assert.Equal(t, []string{file}, change.Paths)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
	drain(w.Changes(), 100*time.Millisecond)

	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, file, "id: a\nname: A\nrequirements: []\n")

	select {
	case change := <-w.Changes():
		t.Fatalf("unexpected change %v", change.Paths)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_NewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, 20*time.Millisecond, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	sub := filepath.Join(dir, "markets")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a tick to pick up the new directory.
	time.Sleep(100 * time.Millisecond)
	file := filepath.Join(sub, "frtb.yaml")
	writeFile(t, file, "id: frtb\nrequirements: []\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case change := <-w.Changes():
			if assert.NotEmpty(t, change.Paths) && change.Paths[len(change.Paths)-1] == file {
				return
			}
		case <-deadline:
			t.Fatal("new file in new directory not reported")
		}
	}
}

func TestWatcher_Run(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "uc.yaml")
	writeFile(t, file, "id: a\nrequirements: []\n")

	w, err := NewWatcher(dir, 20*time.Millisecond, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	reloads := make(chan struct{}, 4)
	done := make(chan struct{})
	go func() {
		w.Run(ctx, func(context.Context) error {
			reloads <- struct{}{}
			return nil
		})
		close(done)
	}()

	writeFile(t, file, "id: b\nrequirements: []\n")
	select {
	case <-reloads:
	case <-time.After(5 * time.Second):
		t.Fatal("reload not triggered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_ = w.Stop()
}

// drain discards changes until none arrive for quiet.
func drain(ch <-chan Change, quiet time.Duration) {
	for {
		select {
		case <-ch:
		case <-time.After(quiet):
			return
		}
	}
}
