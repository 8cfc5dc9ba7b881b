package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hivemind/internal/types"
)

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	fn()
	w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestParsePriority(t *testing.T) {
	p, err := parsePriority("Critical")
	if err != nil {
		t.Fatalf("parsePriority: %v", err)
	}
	if p != types.PriorityCritical {
		t.Fatalf("expected critical, got %s", p)
	}
	if _, err := parsePriority("urgent"); err == nil {
		t.Fatal("expected error for unknown priority")
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	for _, name := range []string{"run", "submit", "status", "consolidate", "goal", "inspect", "init"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Fatalf("subcommand %s not registered: %v", name, err)
		}
	}
}

func TestSubmitAndStatusRoundTrip(t *testing.T) {
	logger = zap.NewNop()
	workspace = t.TempDir()
	if err := os.Chdir(workspace); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	output := captureOutput(t, func() {
		if err := submitTask(&cobra.Command{}, []string{"index", "the", "corpus"}); err != nil {
			t.Fatalf("submitTask: %v", err)
		}
	})
	if !strings.Contains(output, "Created task") {
		t.Fatalf("expected creation notice, got: %s", output)
	}

	output = captureOutput(t, func() {
		if err := showStatus(&cobra.Command{}, nil); err != nil {
			t.Fatalf("showStatus: %v", err)
		}
	})
	if !strings.Contains(output, "index the corpus") {
		t.Fatalf("expected task in status output, got: %s", output)
	}
}

func TestTruncateCell(t *testing.T) {
	if got := truncateCell("short"); got != "short" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("x", 80)
	if got := truncateCell(long); len(got) != 60 || !strings.HasSuffix(got, "...") {
		t.Fatalf("got %q", got)
	}
}
