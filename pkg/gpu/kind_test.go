package gpu

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"H100", KindH100},
		{"NVIDIA H100", KindH100},
		{"nvidia-tesla-a100", KindA100},
		{"A100 80GB", KindA100},
		{"Tesla V100", KindV100},
		{"NVIDIA GeForce RTX 4090", KindRTX},
		{"rtx 4090", KindRTX},
		{"L40S", KindL40S},
		{"nvidia-l4", KindL4},
		{"a10g", KindA10G},
		{"  T4  ", KindT4},
		{"Some Future GPU", "some-future-gpu"},
	}
	for _, c := range cases {
		if got := Canonicalize(c.in); got != c.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestBenchmarkKnownKinds(t *testing.T) {
	if Benchmark(KindH100) != BenchmarkCeiling {
		t.Errorf("H100 benchmark = %v, want ceiling %v", Benchmark(KindH100), BenchmarkCeiling)
	}
	if Benchmark(KindA100) >= Benchmark(KindH100) {
		t.Errorf("A100 should score below H100")
	}
	if Benchmark(KindT4) >= Benchmark(KindA100) {
		t.Errorf("T4 should score below A100")
	}
}

func TestBenchmarkUnknownKind(t *testing.T) {
	if got := Benchmark("some-future-gpu"); got <= 0 {
		t.Errorf("unknown kind benchmark = %v, want positive default", got)
	}
}
