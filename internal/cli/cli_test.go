package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/giftvault/giftvault/internal/breakage"
	"github.com/giftvault/giftvault/internal/config"
	"github.com/giftvault/giftvault/internal/security"
)

func TestBuildFilter(t *testing.T) {
	filter, err := buildFilter(7, "2024-01-01", "2024-02-01T00:00:00Z")
	if err != nil {
		t.Fatalf("buildFilter: %v", err)
	}
	if filter.MerchantID == nil || *filter.MerchantID != 7 {
		t.Fatalf("merchant = %v", filter.MerchantID)
	}
	if !filter.IssuedFrom.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("from = %v", filter.IssuedFrom)
	}
	if !filter.IssuedTo.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("to = %v", filter.IssuedTo)
	}

	empty, err := buildFilter(0, "", "")
	if err != nil || empty.MerchantID != nil || empty.IssuedFrom != nil || empty.IssuedTo != nil {
		t.Fatalf("empty filter = %+v, %v", empty, err)
	}
	if _, err := buildFilter(0, "yesterday", ""); err == nil {
		t.Fatalf("expected error for bad date")
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestMigrateAndBreakageCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "database:\n  dsn: \"file:" + filepath.Join(dir, "gv.db") + "\"\nwebhook:\n  secret: s\nlogging:\n  level: warn\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(config.EnvDatabaseDSN, "")
	t.Setenv(config.EnvWebhookSecret, "")

	if _, err := runCLI(t, "--config", path, "migrate"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	out, err := runCLI(t, "--config", path, "breakage")
	if err != nil {
		t.Fatalf("breakage: %v", err)
	}
	var report breakage.Report
	if errDecode := json.Unmarshal([]byte(out), &report); errDecode != nil {
		t.Fatalf("decode %q: %v", out, errDecode)
	}
	if report.CardCount != 0 {
		t.Fatalf("card count = %d", report.CardCount)
	}

	out, err = runCLI(t, "--config", path, "sweep", "cleanup")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "cleanup: 1 job(s) enqueued") {
		t.Fatalf("sweep output = %q", out)
	}
}

func TestCommandsRequireConfig(t *testing.T) {
	t.Setenv(config.EnvDatabaseDSN, "")
	t.Setenv(config.EnvWebhookSecret, "")
	if _, err := runCLI(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), "migrate"); err == nil {
		t.Fatalf("expected error without a dsn")
	}
}

func TestHashKeyRunsWithoutConfig(t *testing.T) {
	t.Setenv(config.EnvDatabaseDSN, "")
	t.Setenv(config.EnvWebhookSecret, "")
	out, err := runCLI(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), "hash-key", "ops-key")
	if err != nil {
		t.Fatalf("hash-key: %v", err)
	}
	hash := strings.TrimSpace(out)
	if !security.CheckAPIKey(hash, "ops-key") {
		t.Fatalf("printed hash does not verify: %q", hash)
	}
}
