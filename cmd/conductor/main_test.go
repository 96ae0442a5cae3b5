package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/xraph/conductor/orchestrator"
)

const gated = `
name: gated
retry:
  attempts: 1
steps:
  - name: prepare
    shell: echo prepared
  - name: gate
    shell: test -f ready
`

func run(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := execute(context.Background(), args, &out, &errOut)
	return code, out.String() + errOut.String()
}

func TestParseVars(t *testing.T) {
	tests := []struct {
		in      []string
		want    map[string]string
		wantErr bool
	}{
		{nil, map[string]string{}, false},
		{[]string{"a=1", "b=x=y"}, map[string]string{"a": "1", "b": "x=y"}, false},
		{[]string{"empty="}, map[string]string{"empty": ""}, false},
		{[]string{"novalue"}, nil, true},
		{[]string{"=v"}, nil, true},
	}
	for _, tt := range tests {
		got, err := parseVars(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseVars(%v) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("parseVars(%v)[%q] = %q, want %q", tt.in, k, got[k], v)
			}
		}
	}
}

func TestExitWith(t *testing.T) {
	if err := exitWith(orchestrator.CodeCompleted, nil); err != nil {
		t.Errorf("exitWith(completed) = %v, want nil", err)
	}
	tests := []struct {
		code orchestrator.Code
		want int
	}{
		{orchestrator.CodeFailed, 1},
		{orchestrator.CodeNotResumable, 2},
		{orchestrator.CodeNotFound, 3},
		{orchestrator.CodeInterrupted, 130},
	}
	for _, tt := range tests {
		err := exitWith(tt.code, nil)
		ee, ok := err.(*exitError)
		if !ok || ee.code != tt.want {
			t.Errorf("exitWith(%s) = %v, want exit %d", tt.code, err, tt.want)
		}
	}
}

func TestSessions_Empty(t *testing.T) {
	code, out := run(t, "sessions", "--store", "memory", "--state-dir", t.TempDir())
	if code != 0 || !strings.Contains(out, "no sessions") {
		t.Errorf("sessions = %d %q", code, out)
	}
}

func TestResume_Usage(t *testing.T) {
	state := t.TempDir()
	if code, _ := run(t, "resume", "--state-dir", state); code != 1 {
		t.Errorf("resume without id = %d, want 1", code)
	}
	if code, _ := run(t, "resume", "not-an-id", "--state-dir", state); code != 3 {
		t.Errorf("resume with bad id = %d, want 3", code)
	}
	if code, _ := run(t, "resume", "--last", "--state-dir", state); code != 3 {
		t.Errorf("resume --last with nothing interrupted = %d, want 3", code)
	}
}

func TestRunFailResume(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	state := t.TempDir()
	work := t.TempDir()
	wf := filepath.Join(t.TempDir(), "gated.yml")
	if err := os.WriteFile(wf, []byte(gated), 0o600); err != nil {
		t.Fatal(err)
	}

	audit := filepath.Join(state, "audit.jsonl")
	code, out := run(t, "run", wf, "--workdir", work, "--state-dir", state, "--audit-log", audit)
	if code != 1 {
		t.Fatalf("run = %d, want 1\n%s", code, out)
	}
	m := regexp.MustCompile(`resume with: conductor resume (\S+)`).FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no resume hint in output:\n%s", out)
	}

	code, out = run(t, "sessions", "--resumable", "--state-dir", state)
	if code != 0 || !strings.Contains(out, m[1]) {
		t.Fatalf("sessions --resumable = %d\n%s", code, out)
	}

	if err := os.WriteFile(filepath.Join(work, "ready"), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	code, out = run(t, "resume", m[1], "--state-dir", state, "--audit-log", audit)
	if code != 0 {
		t.Fatalf("resume = %d, want 0\n%s", code, out)
	}
	if !strings.Contains(out, "completed") {
		t.Errorf("resume output = %q", out)
	}
	trail, err := os.ReadFile(audit)
	if err != nil {
		t.Fatal(err)
	}
	for _, action := range []string{`"session.failed"`, `"session.resumed"`, `"session.completed"`} {
		if !strings.Contains(string(trail), action) {
			t.Errorf("audit log missing %s:\n%s", action, trail)
		}
	}

	code, _ = run(t, "resume", m[1], "--state-dir", state)
	if code != 2 {
		t.Errorf("resume of completed session = %d, want 2", code)
	}
}

const flaky = `
name: flaky
retry:
  attempts: 5
  backoff: fixed
  initial_delay: 1ms
steps:
  - name: ask
    claude: summarize the diff
`

func TestRun_BreakerOpens(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	calls := filepath.Join(dir, "calls")
	bin := filepath.Join(dir, "claude")
	script := "#!/bin/sh\necho call >> " + calls + "\necho 'connection refused'\nexit 1\n"
	if err := os.WriteFile(bin, []byte(script), 0o700); err != nil {
		t.Fatal(err)
	}
	wf := filepath.Join(dir, "flaky.yml")
	if err := os.WriteFile(wf, []byte(flaky), 0o600); err != nil {
		t.Fatal(err)
	}

	code, out := run(t, "run", wf,
		"--workdir", dir,
		"--store", "memory",
		"--state-dir", t.TempDir(),
		"--claude-binary", bin,
		"--breaker-threshold", "2",
	)
	if code != 1 {
		t.Fatalf("run = %d, want 1\n%s", code, out)
	}
	if !strings.Contains(out, "circuit_open") {
		t.Errorf("output does not report an open circuit:\n%s", out)
	}
	raw, err := os.ReadFile(calls)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(raw), "call"); n != 2 {
		t.Errorf("claude ran %d times, want 2", n)
	}
}
