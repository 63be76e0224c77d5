package tracing

import "testing"

func TestSetup_DisabledWithoutKeys(t *testing.T) {
	t.Parallel()
	for _, cfg := range []Config{
		{},
		{PublicKey: "pk"},
		{SecretKey: "sk"},
		{Host: "http://langfuse:3000"},
	} {
		h, flush, ok := Setup(cfg)
		if ok || h != nil {
			t.Errorf("Setup(%+v) enabled tracing without both keys", cfg)
		}
		if flush == nil {
			t.Fatalf("Setup(%+v) returned nil flush", cfg)
		}
		flush()
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LANGFUSE_HOST", "http://lf:3000")
	t.Setenv("LANGFUSE_PUBLIC_KEY", "pk-lf")
	t.Setenv("LANGFUSE_SECRET_KEY", "sk-lf")

	cfg := ConfigFromEnv()
	if !cfg.Enabled() {
		t.Fatal("expected config to be enabled")
	}
	if cfg.Host != "http://lf:3000" || cfg.PublicKey != "pk-lf" || cfg.SecretKey != "sk-lf" {
		t.Errorf("unexpected config %+v", cfg)
	}
}
