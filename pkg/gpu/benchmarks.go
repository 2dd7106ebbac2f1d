package gpu

// benchmarkScores holds static per-GPU training throughput scores on a 0-100
// scale, normalized so the H100 is the ceiling. Used by the max-performance
// and balanced objectives. These are coarse by design; they rank generations,
// not SKUs within a generation.
var benchmarkScores = map[string]float64{
	KindH100: 100,
	KindA100: 62,
	KindL40S: 48,
	KindV100: 34,
	KindRTX:  40,
	KindL4:   24,
	KindA10G: 27,
	KindA10:  26,
	KindT4:   12,
	KindK80:  5,
}

const (
	// defaultBenchmark is used for GPU kinds with no published score.
	defaultBenchmark = 20
	// BenchmarkCeiling is the maximum per-GPU score, used to normalize the
	// performance term of the balanced objective.
	BenchmarkCeiling = 100
)

// Benchmark returns the per-GPU performance score for a canonical kind.
func Benchmark(kind string) float64 {
	if s, ok := benchmarkScores[kind]; ok {
		return s
	}
	return defaultBenchmark
}
