package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SMARTGARDEN_JWT_SECRET", "s3cret")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cooldown.Window != 5*time.Minute {
		t.Errorf("cooldown window %v", cfg.Cooldown.Window)
	}
	if cfg.Engine.AutoOff != AutoOffTimer || cfg.Cooldown.Backend != CooldownMemory {
		t.Errorf("engine %+v cooldown %+v", cfg.Engine, cfg.Cooldown)
	}
	if cfg.MQTT.TopicPrefix != "devices" || cfg.Engine.TickSpec != "@every 1m" {
		t.Errorf("mqtt %+v engine %+v", cfg.MQTT, cfg.Engine)
	}
	if cfg.UsesRedisQueue() {
		t.Error("default config should not need the task queue")
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
app:
  port: 9090
  timezone: Asia/Ho_Chi_Minh
engine:
  auto_off: queue
cooldown:
  window: 2m
jwt:
  secret: from-file
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SMARTGARDEN_APP_PORT", "7070")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Port != 7070 {
		t.Errorf("env should override file, port %d", cfg.App.Port)
	}
	if cfg.App.Timezone != "Asia/Ho_Chi_Minh" || cfg.Cooldown.Window != 2*time.Minute {
		t.Errorf("app %+v cooldown %+v", cfg.App, cfg.Cooldown)
	}
	if !cfg.UsesRedisQueue() {
		t.Error("queue auto-off needs the task queue")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:      AppConfig{Timezone: "UTC"},
			JWT:      JWTConfig{Secret: "x"},
			Engine:   EngineConfig{AutoOff: AutoOffTimer, TelemetryBackend: CooldownMemory},
			Cooldown: CooldownConfig{Window: time.Minute, Backend: CooldownRedis},
			Dispatch: DispatchConfig{Workers: 1, QueueSize: 1},
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(*Config){
		"timezone":  func(c *Config) { c.App.Timezone = "Mars/Olympus" },
		"auto_off":  func(c *Config) { c.Engine.AutoOff = "cron" },
		"backend":   func(c *Config) { c.Cooldown.Backend = "memcached" },
		"telemetry": func(c *Config) { c.Engine.TelemetryBackend = "disk" },
		"window":    func(c *Config) { c.Cooldown.Window = 0 },
		"workers":   func(c *Config) { c.Dispatch.Workers = 0 },
		"secret":    func(c *Config) { c.JWT.Secret = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.HasPrefix(err.Error(), "config:") {
				t.Errorf("error %q", err)
			}
		})
	}
}
