package command

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tendant/simple-tokens/internal/config"
)

// runApp runs the CLI against a SQLite database in a temp dir.
func runApp(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()

	t.Setenv("TOKENS_STORE_DRIVER", "sqlite")
	t.Setenv("TOKENS_SQLITE_PATH", dbPath)

	app := App()
	var out, errOut bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &errOut
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run(append([]string{"simple-tokens", "--log-level", "error"}, args...))
	return out.String(), err
}

func newDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.db")
	if _, err := runApp(t, path, "migrate"); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return path
}

func decodeToken(t *testing.T, out string) tokenView {
	t.Helper()
	var v tokenView
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	return v
}

func TestApp_Structure(t *testing.T) {
	app := App()

	names := make(map[string]bool)
	for _, cmd := range app.Commands {
		names[cmd.Name] = true
	}

	required := []string{"migrate", "add", "show", "find", "owner", "remove", "destroy-owner", "purge"}
	for _, name := range required {
		if !names[name] {
			t.Errorf("missing command: %s", name)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	path := newDB(t)

	out, err := runApp(t, path, "migrate")
	if err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}

	var v migrateView
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(v.Applied) != 0 {
		t.Errorf("Applied = %v, want none", v.Applied)
	}
}

func TestCommands_WithoutMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")

	if _, err := runApp(t, path, "show", "user", "1", "activation"); err == nil {
		t.Error("commands should fail before the schema exists")
	}
}

func TestTokenLifecycle(t *testing.T) {
	path := newDB(t)

	out, err := runApp(t, path, "add", "--size", "8", "-d", "plan=pro", "user", "42", "activation")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	added := decodeToken(t, out)
	if len(added.Value) != 8 {
		t.Errorf("len(Value) = %d, want 8", len(added.Value))
	}
	if added.ExpiresAt == nil {
		t.Fatal("ExpiresAt should default to now + ttl")
	}
	if d := time.Until(*added.ExpiresAt); d < 47*time.Hour || d > 49*time.Hour {
		t.Errorf("ExpiresAt in %v, want about 48h", d)
	}
	if added.Data["plan"] != "pro" {
		t.Errorf("Data = %v, want plan=pro", added.Data)
	}

	out, err = runApp(t, path, "show", "user", "42", "activation")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if got := decodeToken(t, out); got.Value != added.Value {
		t.Errorf("show Value = %q, want %q", got.Value, added.Value)
	}

	out, err = runApp(t, path, "find", "--valid", "user", "activation", added.Value)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if got := decodeToken(t, out); got.OwnerID != "42" {
		t.Errorf("find OwnerID = %q, want %q", got.OwnerID, "42")
	}

	out, err = runApp(t, path, "owner", "user", "activation", added.Value)
	if err != nil {
		t.Fatalf("owner failed: %v", err)
	}
	if !strings.Contains(out, `"id": "42"`) || !strings.Contains(out, `"type": "user"`) {
		t.Errorf("owner output = %q", out)
	}

	if _, err := runApp(t, path, "find", "--owner-id", "7", "user", "activation", added.Value); err == nil {
		t.Error("find scoped to another owner should fail")
	}

	if _, err := runApp(t, path, "remove", "user", "42", "activation"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := runApp(t, path, "show", "user", "42", "activation"); err == nil {
		t.Error("show after remove should fail")
	}
	if _, err := runApp(t, path, "remove", "user", "42", "activation"); err != nil {
		t.Errorf("second remove should be a no-op: %v", err)
	}
}

func TestAdd_ReplacesByName(t *testing.T) {
	path := newDB(t)

	out, err := runApp(t, path, "add", "user", "1", "api_key")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	first := decodeToken(t, out)

	out, err = runApp(t, path, "add", "--never-expires", "user", "1", "api_key")
	if err != nil {
		t.Fatalf("second add failed: %v", err)
	}
	second := decodeToken(t, out)
	if second.ExpiresAt != nil {
		t.Error("--never-expires should leave ExpiresAt unset")
	}

	if _, err := runApp(t, path, "owner", "user", "api_key", first.Value); err == nil {
		t.Error("replaced token should no longer resolve")
	}
	if _, err := runApp(t, path, "owner", "user", "api_key", second.Value); err != nil {
		t.Errorf("new token should resolve: %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	path := newDB(t)

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	out, err := runApp(t, path, "add", "--expires-at", past, "user", "5", "reset")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	token := decodeToken(t, out)
	if token.Valid {
		t.Error("token expiring in the past should not be valid")
	}

	if _, err := runApp(t, path, "find", "user", "reset", token.Value); err != nil {
		t.Errorf("find should ignore expiry: %v", err)
	}
	if _, err := runApp(t, path, "find", "--valid", "user", "reset", token.Value); err == nil {
		t.Error("find --valid should not match an expired token")
	}
	if _, err := runApp(t, path, "owner", "--valid", "user", "reset", token.Value); err == nil {
		t.Error("owner --valid should not match an expired token")
	}

	out, err = runApp(t, path, "purge")
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if !strings.Contains(out, `"deleted": 1`) {
		t.Errorf("purge output = %q, want 1 deleted", out)
	}
	if _, err := runApp(t, path, "find", "user", "reset", token.Value); err == nil {
		t.Error("purged token should be gone")
	}
}

func TestDestroyOwner(t *testing.T) {
	path := newDB(t)

	for _, name := range []string{"a", "b"} {
		if _, err := runApp(t, path, "add", "user", "9", name); err != nil {
			t.Fatalf("add %s failed: %v", name, err)
		}
	}
	if _, err := runApp(t, path, "add", "user", "10", "a"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	out, err := runApp(t, path, "--output", "table", "destroy-owner", "user", "9")
	if err != nil {
		t.Fatalf("destroy-owner failed: %v", err)
	}
	if !strings.Contains(out, "deleted 2 token(s)") {
		t.Errorf("destroy-owner output = %q", out)
	}
	if _, err := runApp(t, path, "show", "user", "10", "a"); err != nil {
		t.Errorf("other owner's token should survive: %v", err)
	}
}

func TestAdd_InvalidFlags(t *testing.T) {
	path := newDB(t)

	out, err := runApp(t, path, "add", "user", "1", "x")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	existing := decodeToken(t, out)

	tests := []struct {
		name string
		args []string
	}{
		{"missing args", []string{"add", "user", "1"}},
		{"ttl and never-expires", []string{"add", "--ttl", "1h", "--never-expires", "user", "1", "x"}},
		{"bad expires-at", []string{"add", "--expires-at", "tomorrow", "user", "1", "x"}},
		{"bad data", []string{"add", "-d", "novalue", "user", "1", "x"}},
		{"negative size", []string{"add", "--size", "-1", "user", "1", "x"}},
		{"unsaved owner", []string{"add", "user", "", "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runApp(t, path, tt.args...); err == nil {
				t.Errorf("%v should fail", tt.args)
			}
		})
	}

	out, err = runApp(t, path, "show", "user", "1", "x")
	if err != nil {
		t.Fatalf("rejected adds should keep the existing token: %v", err)
	}
	if got := decodeToken(t, out); got.Value != existing.Value {
		t.Errorf("show Value = %q, want %q", got.Value, existing.Value)
	}
}

func TestOutputFormats(t *testing.T) {
	path := newDB(t)

	if _, err := runApp(t, path, "add", "user", "3", "invite"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	out, err := runApp(t, path, "-o", "yaml", "show", "user", "3", "invite")
	if err != nil {
		t.Fatalf("show yaml failed: %v", err)
	}
	if !strings.Contains(out, "owner_type: user") {
		t.Errorf("yaml output = %q", out)
	}

	out, err = runApp(t, path, "-o", "table", "show", "user", "3", "invite")
	if err != nil {
		t.Fatalf("show table failed: %v", err)
	}
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "user/3") {
		t.Errorf("table output = %q", out)
	}

	if _, err := runApp(t, path, "-o", "xml", "show", "user", "3", "invite"); err == nil {
		t.Error("unknown output format should fail")
	}
}

func TestMigrate_RequiresSQL(t *testing.T) {
	t.Setenv("TOKENS_STORE_DRIVER", "memory")

	app := App()
	app.Writer = &bytes.Buffer{}
	app.ErrWriter = &bytes.Buffer{}
	app.ExitErrHandler = func(*cli.Context, error) {}

	if err := app.Run([]string{"simple-tokens", "migrate"}); err == nil {
		t.Error("migrate should fail for the memory driver")
	}
}

func TestMemoryDriver(t *testing.T) {
	t.Setenv("TOKENS_STORE_DRIVER", "memory")

	app := App()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &bytes.Buffer{}
	app.ExitErrHandler = func(*cli.Context, error) {}

	if err := app.Run([]string{"simple-tokens", "add", "user", "1", "activation"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if v := decodeToken(t, out.String()); len(v.Value) != 12 {
		t.Errorf("len(Value) = %d, want 12", len(v.Value))
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level, format string
		wantErr       bool
	}{
		{"info", "json", false},
		{"debug", "text", false},
		{"WARN", "", false},
		{"loud", "json", true},
		{"info", "xml", true},
	}

	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			_, err := newLogger(configLog(tt.level, tt.format), &bytes.Buffer{})
			if (err != nil) != tt.wantErr {
				t.Errorf("newLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func configLog(level, format string) config.LogConfig {
	return config.LogConfig{Level: level, Format: format}
}
