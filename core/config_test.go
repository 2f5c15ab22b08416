package core

import "testing"

func validConfig() *Config {
	c := &Config{}
	c.Telegram.Token = "123:abc"
	c.Telegram.Port = "8443"
	c.Storage.Driver = StorageMemory
	c.Generator.Backend = BackendProcess
	c.Generator.Command = []string{"python", "txt2img.py"}
	return c
}

func TestValidate(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if c.Generator.MaxConcurrent != 1 || c.Queue.Size != 16 {
		t.Fatalf("defaults not applied: %d %d", c.Generator.MaxConcurrent, c.Queue.Size)
	}

	mutations := map[string]func(*Config){
		"no token":      func(c *Config) { c.Telegram.Token = "" },
		"bad port":      func(c *Config) { c.Telegram.Port = "https" },
		"port range":    func(c *Config) { c.Telegram.Port = "70000" },
		"driver":        func(c *Config) { c.Storage.Driver = "redis" },
		"backend":       func(c *Config) { c.Generator.Backend = "grpc" },
		"empty command": func(c *Config) { c.Generator.Command = nil },
		"empty webui":   func(c *Config) { c.Generator.Backend = BackendWebUI; c.Generator.WebUIURL = "" },
	}
	for name, mutate := range mutations {
		c := validConfig()
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestWebhookURL(t *testing.T) {
	c := validConfig()
	c.Telegram.Hostname = "bot.example.com"
	if got, want := c.WebhookURL(), "https://bot.example.com:8443/123:abc"; got != want {
		t.Fatalf("WebhookURL() = %q, want %q", got, want)
	}
}
