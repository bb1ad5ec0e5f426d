package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.TransportMode != ModeSim {
		t.Fatalf("got mode %q, want sim default", cfg.TransportMode)
	}
	if cfg.TypingExpiry != 3*time.Second {
		t.Fatalf("got typing expiry %v, want 3s", cfg.TypingExpiry)
	}
	if cfg.ReconnectBackoff != 3*time.Second {
		t.Fatalf("got backoff %v, want 3s", cfg.ReconnectBackoff)
	}
	if cfg.MaxReconnects != 10 {
		t.Fatalf("got max reconnects %d, want 10", cfg.MaxReconnects)
	}
	if !cfg.IsDevelopment() {
		t.Fatal("default env must be development")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TRANSPORT_MODE", ModeWS)
	t.Setenv("TYPING_EXPIRY", "750ms")
	t.Setenv("AUTO_REPLY", "false")
	t.Setenv("AUTO_REPLY_PROBABILITY", "0.25")
	t.Setenv("MAX_RECONNECTS", "2")

	cfg := Load()
	if cfg.TransportMode != ModeWS {
		t.Fatalf("got mode %q, want ws", cfg.TransportMode)
	}
	if cfg.TypingExpiry != 750*time.Millisecond {
		t.Fatalf("got typing expiry %v, want 750ms", cfg.TypingExpiry)
	}
	if cfg.AutoReplyEnabled {
		t.Fatal("auto reply must be off")
	}
	if cfg.AutoReplyProbability != 0.25 {
		t.Fatalf("got probability %v, want 0.25", cfg.AutoReplyProbability)
	}
	if cfg.MaxReconnects != 2 {
		t.Fatalf("got max reconnects %d, want 2", cfg.MaxReconnects)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("TYPING_EXPIRY", "soon")
	t.Setenv("MAX_RECONNECTS", "lots")
	t.Setenv("AUTO_REPLY_PROBABILITY", "often")

	cfg := Load()
	if cfg.TypingExpiry != 3*time.Second {
		t.Fatalf("got %v, want default on parse failure", cfg.TypingExpiry)
	}
	if cfg.MaxReconnects != 10 {
		t.Fatalf("got %d, want default on parse failure", cfg.MaxReconnects)
	}
	if cfg.AutoReplyProbability != 0.66 {
		t.Fatalf("got %v, want default on parse failure", cfg.AutoReplyProbability)
	}
}
