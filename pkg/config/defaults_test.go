package config

import "testing"

func TestApplyDefaultsIsIdempotent(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	firstLanes, firstCapacity := cfg.Inode.Lanes, cfg.Inode.Capacity

	ApplyDefaults(cfg)
	if cfg.Inode.Lanes != firstLanes || cfg.Inode.Capacity != firstCapacity {
		t.Fatalf("ApplyDefaults should be idempotent, got lanes=%d capacity=%d then lanes=%d capacity=%d",
			firstLanes, firstCapacity, cfg.Inode.Lanes, cfg.Inode.Capacity)
	}
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Inode: InodeConfig{
			Capacity:    12345,
			WorkPerWake: 3,
		},
	}
	ApplyDefaults(cfg)

	if cfg.Inode.Capacity != 12345 {
		t.Errorf("expected explicit capacity preserved, got %d", cfg.Inode.Capacity)
	}
	if cfg.Inode.WorkPerWake != 3 {
		t.Errorf("expected explicit work_per_wake preserved, got %d", cfg.Inode.WorkPerWake)
	}
	// Untouched fields still get defaults.
	if cfg.Inode.Lanes != 7 {
		t.Errorf("expected default lanes for unset field, got %d", cfg.Inode.Lanes)
	}
}

func TestApplyStateDefaultsGracePeriodFollowsLease(t *testing.T) {
	cfg := &StateConfig{LeaseDuration: 0}
	applyStateDefaults(cfg)

	if cfg.GracePeriod != cfg.LeaseDuration {
		t.Errorf("expected grace period to default to lease duration, got lease=%v grace=%v", cfg.LeaseDuration, cfg.GracePeriod)
	}
}
