package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"start", "migrate", "user"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("expected %s command, got %v (%v)", name, cmd, err)
		}
	}
	if cmd, _, err := root.Find([]string{"user", "add"}); err != nil || cmd.Name() != "add" {
		t.Fatalf("expected user add command, got %v (%v)", cmd, err)
	}
}

func TestUserAddRequiresName(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"user", "add", "--config", filepath.Join(t.TempDir(), "none.yaml")})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "--name") {
		t.Fatalf("expected missing name error, got %v", err)
	}
}

func TestMigrateRequiresPostgres(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "")
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"migrate", "--config", filepath.Join(t.TempDir(), "none.yaml")})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "postgres url not configured") {
		t.Fatalf("expected missing postgres error, got %v", err)
	}
}

func TestDefaultLevelsCoverAllLevels(t *testing.T) {
	levels := defaultLevels()
	for i := 1; i <= 8; i++ {
		if levels[i].Description == "" {
			t.Fatalf("level %d has no seed description", i)
		}
	}
}
