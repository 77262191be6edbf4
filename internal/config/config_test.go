package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestViperConfigGetString(t *testing.T) {
	v := viper.New()
	v.Set("name", "test")
	cfg := New(v)

	if got := cfg.GetString("name"); got != "test" {
		t.Errorf("GetString('name') = %q, want %q", got, "test")
	}
}

func TestViperConfigGetInt(t *testing.T) {
	v := viper.New()
	v.Set("port", 8080)
	cfg := New(v)

	if got := cfg.GetInt("port"); got != 8080 {
		t.Errorf("GetInt('port') = %d, want %d", got, 8080)
	}
}

func TestViperConfigGetBool(t *testing.T) {
	v := viper.New()
	v.Set("enabled", true)
	cfg := New(v)

	if got := cfg.GetBool("enabled"); !got {
		t.Error("GetBool('enabled') = false, want true")
	}
}

func TestViperConfigGetDuration(t *testing.T) {
	v := viper.New()
	v.Set("timeout", "5s")
	cfg := New(v)

	want := 5 * time.Second
	if got := cfg.GetDuration("timeout"); got != want {
		t.Errorf("GetDuration('timeout') = %v, want %v", got, want)
	}
}

func TestViperConfigIsSet(t *testing.T) {
	v := viper.New()
	v.Set("exists", true)
	cfg := New(v)

	if !cfg.IsSet("exists") {
		t.Error("IsSet('exists') = false, want true")
	}
	if cfg.IsSet("missing") {
		t.Error("IsSet('missing') = true, want false")
	}
}

func TestViperConfigSub(t *testing.T) {
	v := viper.New()
	v.Set("plugins.reload.enabled", true)
	v.Set("plugins.reload.interval", 30)
	cfg := New(v)

	sub := cfg.Sub("plugins.reload")
	if sub == nil {
		t.Fatal("Sub('plugins.reload') = nil")
	}
	if got := sub.GetBool("enabled"); !got {
		t.Error("sub.GetBool('enabled') = false, want true")
	}
	if got := sub.GetInt("interval"); got != 30 {
		t.Errorf("sub.GetInt('interval') = %d, want %d", got, 30)
	}
}

func TestViperConfigSubMissing(t *testing.T) {
	v := viper.New()
	cfg := New(v)

	sub := cfg.Sub("nonexistent")
	if sub == nil {
		t.Fatal("Sub('nonexistent') should return empty Config, not nil")
	}
	if got := sub.GetString("anything"); got != "" {
		t.Errorf("empty config GetString() = %q, want empty", got)
	}
}

func TestViperConfigUnmarshal(t *testing.T) {
	v := viper.New()
	v.Set("host", "localhost")
	v.Set("port", 9090)
	cfg := New(v)

	var target struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	}
	if err := cfg.Unmarshal(&target); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if target.Host != "localhost" {
		t.Errorf("Host = %q, want %q", target.Host, "localhost")
	}
	if target.Port != 9090 {
		t.Errorf("Port = %d, want %d", target.Port, 9090)
	}
}

func TestNilViper(t *testing.T) {
	cfg := New(nil)
	// Should not panic and return zero values.
	if got := cfg.GetString("key"); got != "" {
		t.Errorf("nil viper GetString() = %q, want empty", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.File() != "" {
		t.Errorf("File() = %q, want none", cfg.File())
	}
	if got := cfg.Server().Addr(); got != "127.0.0.1:7070" {
		t.Errorf("Server().Addr() = %q, want 127.0.0.1:7070", got)
	}
	cl := cfg.Cluster()
	if cl.Workers != 1 || cl.RespawnDelay != 250*time.Millisecond || cl.KillTimeout != 5*time.Second {
		t.Errorf("Cluster() = %+v, want 1 worker, 250ms respawn, 5s kill timeout", cl)
	}
	if got := cfg.GetInt("plugins.reload.interval"); got != 100 {
		t.Errorf("plugins.reload.interval = %d, want 100", got)
	}
	if got := cfg.GetString("plugins.reload.signal"); got != "SIGTERM" {
		t.Errorf("plugins.reload.signal = %q, want SIGTERM", got)
	}
	if got := cfg.GetInt("plugins.reload.max_stat_failures"); got != 50 {
		t.Errorf("plugins.reload.max_stat_failures = %d, want 50", got)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reload.yaml")
	content := `server:
  port: "9000"
cluster:
  command: node server.js
  workers: 4
plugins:
  reload:
    roots: [lib, index.js]
    interval: 50
    signal: SIGHUP
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RELOAD_PLUGINS_RELOAD_SIGNAL", "SIGUSR2")
	t.Setenv("RELOAD_SERVER_HOST", "0.0.0.0")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.File() != path {
		t.Errorf("File() = %q, want %q", cfg.File(), path)
	}
	if got := cfg.Server().Addr(); got != "0.0.0.0:9000" {
		t.Errorf("Server().Addr() = %q, want 0.0.0.0:9000", got)
	}
	cl := cfg.Cluster()
	if len(cl.Command) != 2 || cl.Command[0] != "node" || cl.Command[1] != "server.js" {
		t.Errorf("Cluster().Command = %v, want [node server.js]", cl.Command)
	}
	if cl.Workers != 4 {
		t.Errorf("Cluster().Workers = %d, want 4", cl.Workers)
	}
	if got := cfg.GetStringSlice("plugins.reload.roots"); len(got) != 2 || got[0] != "lib" {
		t.Errorf("plugins.reload.roots = %v, want [lib index.js]", got)
	}
	if got := cfg.GetString("plugins.reload.signal"); got != "SIGUSR2" {
		t.Errorf("plugins.reload.signal = %q, want SIGUSR2 from environment", got)
	}
	// Keys absent from the file keep their defaults.
	if got := cfg.GetStringSlice("plugins.reload.extensions"); len(got) != 1 || got[0] != ".js" {
		t.Errorf("plugins.reload.extensions = %v, want [.js]", got)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) error = nil, want error")
	}
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reload.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load(invalid) error = nil, want error")
	}
}

func TestServerAddrDisabled(t *testing.T) {
	if got := (ServerConfig{Host: "127.0.0.1"}).Addr(); got != "" {
		t.Errorf("Addr() with empty port = %q, want empty", got)
	}
}
