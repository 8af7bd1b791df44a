package logging

import "testing"

func TestNewProgressSampler(t *testing.T) {
	tests := []struct {
		name       string
		bucketSize float64
		wantSize   float64
	}{
		{"default bucket size for zero", 0, 5},
		{"default bucket size for negative", -1, 5},
		{"custom bucket size", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProgressSampler(tt.bucketSize)
			if s.bucketSize != tt.wantSize {
				t.Errorf("bucketSize = %v, want %v", s.bucketSize, tt.wantSize)
			}
			if s.lastBucket != -1 {
				t.Errorf("lastBucket = %d, want -1", s.lastBucket)
			}
		})
	}
}

func TestProgressSamplerNilSampler(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "stage", "message") {
		t.Error("ShouldLog on nil sampler should always return true")
	}
	s.Reset() // should not panic
}

func TestProgressSamplerStageChange(t *testing.T) {
	s := NewProgressSampler(5)

	if !s.ShouldLog(0, "Separating", "starting") {
		t.Error("first stage should log")
	}
	if s.ShouldLog(0, "Separating", "still starting") {
		t.Error("same stage and percent should not log again")
	}
	if !s.ShouldLog(0, "Delivering", "starting") {
		t.Error("different stage should log")
	}
	if s.lastStage != "Delivering" {
		t.Errorf("lastStage = %q, want Delivering", s.lastStage)
	}
}

func TestProgressSamplerTrimsStage(t *testing.T) {
	s := NewProgressSampler(5)

	s.ShouldLog(0, "  Separating  ", "starting")
	if s.lastStage != "Separating" {
		t.Errorf("lastStage = %q, want Separating (trimmed)", s.lastStage)
	}
}

func TestProgressSamplerPercentBuckets(t *testing.T) {
	s := NewProgressSampler(5)

	if !s.ShouldLog(0, "Pass 1", "") {
		t.Error("0% should log")
	}
	if s.ShouldLog(3, "Pass 1", "") {
		t.Error("3% should not log (same bucket)")
	}
	if !s.ShouldLog(5, "Pass 1", "") {
		t.Error("5% should log (new bucket)")
	}
	if s.ShouldLog(7, "Pass 1", "") {
		t.Error("7% should not log (same bucket)")
	}
	if !s.ShouldLog(10, "Pass 1", "") {
		t.Error("10% should log (new bucket)")
	}
}

func TestProgressSamplerNegativePercent(t *testing.T) {
	s := NewProgressSampler(5)

	if !s.ShouldLog(-1, "Unknown", "") {
		t.Error("first call should log even with negative percent")
	}
	if s.ShouldLog(-1, "Unknown", "") {
		t.Error("negative percent should not trigger bucket logging")
	}
}

func TestProgressSamplerCaps100Percent(t *testing.T) {
	s := NewProgressSampler(5)

	s.ShouldLog(95, "Pass 4", "")
	if !s.ShouldLog(100, "Pass 4", "") {
		t.Error("100% should log")
	}
	if s.ShouldLog(105, "Pass 4", "") {
		t.Error("105% should not log again (same as 100% bucket)")
	}
}

func TestProgressSamplerBucketResetOnStageChange(t *testing.T) {
	s := NewProgressSampler(5)

	s.ShouldLog(50, "Pass 1", "")
	s.ShouldLog(0, "Pass 2", "")

	if !s.ShouldLog(10, "Pass 2", "") {
		t.Error("10% should log after stage change reset bucket")
	}
}

func TestProgressSamplerIgnoresMessage(t *testing.T) {
	s := NewProgressSampler(5)

	s.ShouldLog(10, "Pass 1", "first message")
	if s.ShouldLog(10, "Pass 1", "different message with ETA") {
		t.Error("different message should not trigger logging")
	}
}

func TestProgressSamplerReset(t *testing.T) {
	s := NewProgressSampler(5)
	s.ShouldLog(50, "Pass 1", "")

	s.Reset()

	if s.lastStage != "" {
		t.Errorf("lastStage = %q, want empty after reset", s.lastStage)
	}
	if s.lastBucket != -1 {
		t.Errorf("lastBucket = %d, want -1 after reset", s.lastBucket)
	}
	if !s.ShouldLog(50, "Pass 1", "") {
		t.Error("should log after reset")
	}
}
