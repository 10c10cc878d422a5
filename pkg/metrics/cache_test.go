package metrics

import "testing"

func TestNewCacheMetricsDisabledReturnsNil(t *testing.T) {
	Reset()
	defer Reset()

	if m := NewCacheMetrics(); m != nil {
		t.Fatalf("expected nil CacheMetrics when disabled, got %v", m)
	}
}

func TestNewCacheMetricsWithoutConstructorReturnsNil(t *testing.T) {
	Reset()
	defer Reset()

	InitRegistry()
	// No pkg/metrics/prometheus imported in this test binary, so the
	// constructor indirection is unset; NewCacheMetrics must not panic.
	if m := NewCacheMetrics(); m != nil {
		t.Fatalf("expected nil CacheMetrics without a registered constructor, got %v", m)
	}
}

func TestNilCacheMetricsInterfaceDeclares(t *testing.T) {
	var m CacheMetrics
	// m is a nil interface here (no concrete implementation registered in
	// this package); calling through it would panic, so this test only
	// declares m and calls neither its methods nor any registration accessor.
	_ = m
}

func TestRegisterCacheMetricsConstructor(t *testing.T) {
	Reset()
	defer Reset()
	defer RegisterCacheMetricsConstructor(nil)

	called := false
	RegisterCacheMetricsConstructor(func() CacheMetrics {
		called = true
		return nil
	})

	InitRegistry()
	NewCacheMetrics()

	if !called {
		t.Fatal("expected registered constructor to be invoked")
	}
}
