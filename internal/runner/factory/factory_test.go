package factory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bakkerme/filepoll/internal/config"
	"github.com/bakkerme/filepoll/internal/outputs/email/mock"
	"github.com/bakkerme/filepoll/internal/outputs/manifest"
	"github.com/bakkerme/filepoll/internal/processors/source"
	"github.com/bakkerme/filepoll/internal/runner"
	"github.com/bakkerme/filepoll/internal/sources/dir"
	dirmock "github.com/bakkerme/filepoll/internal/sources/dir/mock"
	"gopkg.in/yaml.v3"
)

func loadDoc(t *testing.T, data string) *config.PollerDocument {
	t.Helper()
	var doc config.PollerDocument
	if err := yaml.Unmarshal([]byte(data), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return &doc
}

func TestEndToEndDirectoryFlowAdmitsEachFileOnce(t *testing.T) {
	manifestDir := t.TempDir()
	doc := loadDoc(t, `
workflow:
  name: inbox
  trigger:
    - interval:
        period: 1h
  sources:
    - directory:
        path: /inbox
        capacity: 3
        read_content: true
  filter:
    - rule:
        name: skip_empty
        rule: "size == 0"
        result: drop
  transform:
    - markdown: {}
  output:
    - email:
        template: report
        to: ops@example.com
        subject: New files
    - manifest:
        path: `+filepath.Join(manifestDir, "{{run_id}}.json")+`
templates:
  - id: report
    template: "{{range .Blocks}}[{{.Name}}:{{safeHTML .HTML}}]{{end}}"
`)

	scanner := &dirmock.Scanner{}
	sender := &mock.Sender{}
	f := &Factory{Scanner: scanner, EmailSender: sender}
	t.Cleanup(func() { _ = f.Close() })

	flow, err := doc.ParseToFlowWithFactory(f)
	if err != nil {
		t.Fatalf("build flow: %v", err)
	}
	flow.ID = "inbox"
	r := runner.New(nil)
	ctx := context.Background()

	scanner.Set("/inbox", []dir.Entry{
		{Path: "/inbox/a.md", Name: "a.md", Size: 5, Content: "# A"},
		{Path: "/inbox/b.txt", Name: "b.txt", Size: 3, Content: "bee"},
		{Path: "/inbox/empty.txt", Name: "empty.txt"},
	})
	run, err := r.RunOnce(ctx, flow)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(run.Blocks) != 2 {
		t.Fatalf("expected 2 blocks after the rule filter, got %d", len(run.Blocks))
	}
	sent := sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sent))
	}
	if !strings.Contains(sent[0].Body, `[a.md:<h1 id="a">A</h1>`) || !strings.Contains(sent[0].Body, "[b.txt:]") {
		t.Fatalf("unexpected email body %q", sent[0].Body)
	}
	m, err := manifest.Load(filepath.Join(manifestDir, run.ID+".json"))
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if m.Count != 2 {
		t.Fatalf("expected manifest with 2 blocks, got %d", m.Count)
	}

	// Nothing new: no email, an empty manifest.
	run, err = r.RunOnce(ctx, flow)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(run.Blocks) != 0 || len(sender.Sent()) != 1 {
		t.Fatalf("expected no new blocks or email, got %d blocks / %d emails", len(run.Blocks), len(sender.Sent()))
	}

	// With capacity 3, c.txt evicts a.md, the oldest entry, so a.md is admitted again.
	scanner.Set("/inbox", []dir.Entry{
		{Path: "/inbox/c.txt", Name: "c.txt", Size: 1, Content: "c"},
	})
	if run, err = r.RunOnce(ctx, flow); err != nil || len(run.Blocks) != 1 {
		t.Fatalf("third run: %v, %d blocks", err, len(run.Blocks))
	}
	scanner.Set("/inbox", []dir.Entry{
		{Path: "/inbox/a.md", Name: "a.md", Size: 5, Content: "# A"},
	})
	if run, err = r.RunOnce(ctx, flow); err != nil || len(run.Blocks) != 1 {
		t.Fatalf("fourth run: %v, %d blocks", err, len(run.Blocks))
	}
}

func TestNewFromEnvConfigRejectsBadCapacity(t *testing.T) {
	env := config.EnvConfig{Dedupe: config.DedupeEnvConfig{Capacity: "-3"}}
	if _, err := NewFromEnvConfig(nil, env); err == nil {
		t.Fatalf("expected error for negative DEDUPE_CAPACITY")
	}
}

func TestNewFromEnvConfigAppliesDefaultCapacity(t *testing.T) {
	env := config.EnvConfig{Dedupe: config.DedupeEnvConfig{Capacity: "7"}}
	f, err := NewFromEnvConfig(nil, env)
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	f.Scanner = &dirmock.Scanner{}

	p, err := f.NewDirectorySource(&config.DirectorySource{Path: "/in"})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	if got := p.(*source.DirectoryProcessor).Seen().Capacity(); got != 7 {
		t.Fatalf("expected capacity 7 from env, got %d", got)
	}
}

func TestDirectorySourceWithSQLiteStoreIsClosedByFactory(t *testing.T) {
	f := &Factory{Scanner: &dirmock.Scanner{}}
	_, err := f.NewDirectorySource(&config.DirectorySource{
		Path:  "/in",
		Store: &config.SeenStoreConfig{SQLite: &config.SQLiteStoreConfig{DSN: filepath.Join(t.TempDir(), "seen.db")}},
	})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestEmailOutputMergesSMTPDefaults(t *testing.T) {
	f := &Factory{SMTPDefaults: config.SMTPEnvConfig{Host: "localhost", Port: 1025, TLSMode: "disabled"}}
	merged := f.mergeEmailConfig(&config.EmailOutput{Template: "x", To: "ops@example.com", Subject: "s", SMTPPort: 2525})
	if merged.SMTPHost != "localhost" || merged.SMTPPort != 2525 || merged.TLSMode != "disabled" {
		t.Fatalf("unexpected merge %+v", merged)
	}
	if merged.InsecureSkipVerify == nil || *merged.InsecureSkipVerify {
		t.Fatalf("expected insecure default false, got %v", merged.InsecureSkipVerify)
	}
	if _, err := f.NewEmailOutput(&config.EmailOutput{Template: "x", To: "ops@example.com", Subject: "s"}); err != nil {
		t.Fatalf("expected smtp sender to build from defaults, got %v", err)
	}
}

func TestInvalidCronSurfacesAtBuild(t *testing.T) {
	f := &Factory{}
	if _, err := f.NewCronTrigger(&config.CronTrigger{Schedule: "not a cron"}); err == nil {
		t.Fatalf("expected invalid cron error")
	}
}
