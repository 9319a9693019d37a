package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/iahome/access-gateway/internal/modules"
)

func TestCostDefaultsToOne(t *testing.T) {
	table := NewTable()
	if got := table.Cost(modules.ID("mystery"), "anything"); got != 1 {
		t.Fatalf("unknown module cost = %d, want 1", got)
	}
	if got := table.Cost(modules.MeTube, "no-such-action"); got != 1 {
		t.Fatalf("unknown action cost = %d, want 1", got)
	}
}

func TestBuiltinSchedule(t *testing.T) {
	table := NewTable()
	if got := table.Cost(modules.MeTube, "download"); got != 3 {
		t.Fatalf("metube/download = %d, want 3", got)
	}
	if got := table.Cost(modules.Whisper, "isolate"); got != 5 {
		t.Fatalf("whisper/isolate = %d, want 5", got)
	}
	if got := table.Cost(modules.MeTube, " Download "); got != 3 {
		t.Fatalf("action lookup should normalise case/space, got %d", got)
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	content := "metube:\n  download: 7\npdf:\n  watermark: 2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write pricing file: %v", err)
	}
	table, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := table.Cost(modules.MeTube, "download"); got != 7 {
		t.Fatalf("override not applied, got %d", got)
	}
	if got := table.Cost(modules.PDF, "watermark"); got != 2 {
		t.Fatalf("new action not applied, got %d", got)
	}
	if got := table.Cost(modules.PDF, "convert"); got != 2 {
		t.Fatalf("default retained after merge, got %d", got)
	}
}

func TestLoadFileRejectsBadEntries(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("metube:\n  download: 0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(bad); err == nil {
		t.Fatalf("expected error for non-positive cost")
	}
	unknown := filepath.Join(dir, "unknown.yaml")
	if err := os.WriteFile(unknown, []byte("cryptominer:\n  mine: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(unknown); err == nil {
		t.Fatalf("expected error for unknown module")
	}
}

func TestLoadFileMissingIsDefaults(t *testing.T) {
	table, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := table.Cost(modules.QRCode, "generate"); got != 1 {
		t.Fatalf("defaults missing, got %d", got)
	}
}
