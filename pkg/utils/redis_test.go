package utils

import (
	"context"
	"testing"
	"time"
)

func TestWindowCounterScriptCompiles(t *testing.T) {
	// Compile-time smoke test: the script should be initialized.
	if windowCounterScript == nil {
		t.Fatalf("expected script to be initialized")
	}
}

func TestIncrWindowCounter_ValidatesArguments(t *testing.T) {
	ctx := context.Background()
	if _, err := IncrWindowCounter(ctx, nil, "k", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisConfig_Defaults(t *testing.T) {
	cfg := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if cfg.PoolSize <= 0 || cfg.DialTimeout <= 0 || cfg.PingTimeout <= 0 {
		t.Fatalf("expected conservative defaults, got %+v", cfg)
	}
}
