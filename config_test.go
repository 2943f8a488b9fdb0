package btf

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Compat != CompatV5 {
		t.Errorf("default compat = %v, want v5", cfg.Compat)
	}
	if cfg.ExtensionsEnabled {
		t.Error("extensions should default to disabled")
	}
	if cfg.NodePageSize <= 0 {
		t.Errorf("NodePageSize = %d, must be positive", cfg.NodePageSize)
	}
}

func TestOptionsApply(t *testing.T) {
	cfg := applyOptions(DefaultConfig(), []Option{
		WithCompat(CompatV4),
		WithExtensions(true),
		WithMaxNodes(100),
		WithMaxSize(4096),
		WithNodePageSize(8),
		WithDefaultBufferSize(1024),
		WithMaxStackDepthWithoutAlloc(32),
		WithSizeOptimized(true),
	})
	switch {
	case cfg.Compat != CompatV4:
		t.Error("WithCompat did not apply")
	case !cfg.ExtensionsEnabled:
		t.Error("WithExtensions did not apply")
	case cfg.MaxNodes != 100:
		t.Error("WithMaxNodes did not apply")
	case cfg.MaxSize != 4096:
		t.Error("WithMaxSize did not apply")
	case cfg.NodePageSize != 8:
		t.Error("WithNodePageSize did not apply")
	case cfg.DefaultBufferSize != 1024:
		t.Error("WithDefaultBufferSize did not apply")
	case cfg.MaxStackDepthWithoutAlloc != 32:
		t.Error("WithMaxStackDepthWithoutAlloc did not apply")
	case !cfg.SizeOptimized:
		t.Error("WithSizeOptimized did not apply")
	}
}
