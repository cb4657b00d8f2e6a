package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("http.addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Push.Mode != "plaintext" || cfg.Push.Workers != 4 {
		t.Errorf("push = %+v", cfg.Push)
	}
	if cfg.Schedule.Tick != time.Minute || cfg.Schedule.UTCOffset != "-03:00" {
		t.Errorf("schedule = %+v", cfg.Schedule)
	}
	if cfg.Redis.LockTTL != 5*time.Minute {
		t.Errorf("redis.lock_ttl = %v", cfg.Redis.LockTTL)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "nudge.yaml")
	yaml := []byte("push:\n  mode: encrypted\n  workers: 8\nschedule:\n  utc_offset: \"+05:30\"\n")
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("NUDGE_PUSH_WORKERS", "2")
	t.Setenv("NUDGE_VAPID_SUBJECT", "mailto:ops@example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Push.Mode != "encrypted" {
		t.Errorf("push.mode = %q, want encrypted from file", cfg.Push.Mode)
	}
	if cfg.Push.Workers != 2 {
		t.Errorf("push.workers = %d, want 2 from env", cfg.Push.Workers)
	}
	if cfg.VAPID.Subject != "mailto:ops@example.com" {
		t.Errorf("vapid.subject = %q", cfg.VAPID.Subject)
	}

	loc, err := cfg.Schedule.Location()
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if _, off := time.Date(2026, 1, 1, 0, 0, 0, 0, loc).Zone(); off != 5*3600+30*60 {
		t.Errorf("offset = %d", off)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("NUDGE_TRIGGER_SECRET=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("NUDGE_TRIGGER_SECRET") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Trigger.Secret != "from-dotenv" {
		t.Errorf("trigger.secret = %q", cfg.Trigger.Secret)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := Load("/nonexistent/nudge.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestScheduleLocation(t *testing.T) {
	tests := []struct {
		offset  string
		want    int
		wantErr bool
	}{
		{"-03:00", -3 * 3600, false},
		{"+00:00", 0, false},
		{"Z", 0, false},
		{"", 0, false},
		{"-3", 0, true},
		{"America/Sao_Paulo", 0, true},
	}
	for _, tt := range tests {
		loc, err := ScheduleCfg{UTCOffset: tt.offset}.Location()
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: error = %v, wantErr %v", tt.offset, err, tt.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		if _, off := time.Now().In(loc).Zone(); off != tt.want {
			t.Errorf("%q: offset = %d, want %d", tt.offset, off, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	good := Config{
		VAPID:    VAPIDCfg{PublicKey: "pub", PrivateKey: "priv", Subject: "mailto:a@b.c"},
		Auth:     AuthCfg{JWTSecret: "s"},
		Push:     PushCfg{Mode: "plaintext"},
		Schedule: ScheduleCfg{UTCOffset: "-03:00"},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	noKeys := good
	noKeys.VAPID.PrivateKey = ""
	if err := noKeys.Validate(); err == nil {
		t.Error("expected error without vapid keys")
	}

	badMode := good
	badMode.Push.Mode = "sms"
	if err := badMode.Validate(); err == nil {
		t.Error("expected error for unknown push mode")
	}

	for _, tick := range []time.Duration{0, 7 * time.Second, 5 * time.Minute} {
		badTick := good
		badTick.Schedule.Enabled = true
		badTick.Schedule.Tick = tick
		if err := badTick.Validate(); err == nil {
			t.Errorf("expected error for schedule.tick %s", tick)
		}
	}

	goodTick := good
	goodTick.Schedule.Enabled = true
	goodTick.Schedule.Tick = 30 * time.Second
	if err := goodTick.Validate(); err != nil {
		t.Errorf("30s tick rejected: %v", err)
	}
}
