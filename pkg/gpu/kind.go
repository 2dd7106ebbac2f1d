// Package gpu holds the canonical GPU kind vocabulary shared by the provider
// adapters, the aggregator, and the optimization engine.
package gpu

import "strings"

// Canonical kinds. Adapters map their provider-specific names through
// Canonicalize before emitting price points, so the rest of the pipeline
// compares kinds by string equality.
const (
	KindH100 = "h100"
	KindA100 = "a100"
	KindV100 = "v100"
	KindL40S = "l40s"
	KindL4   = "l4"
	KindA10G = "a10g"
	KindA10  = "a10"
	KindT4   = "t4"
	KindK80  = "k80"
	KindRTX  = "rtx4090"
)

// aliases maps lowercase provider spellings to canonical kinds. Keys are
// matched after lowercasing and trimming vendor prefixes.
var aliases = map[string]string{
	"h100":              KindH100,
	"h100-sxm":          KindH100,
	"h100-pcie":         KindH100,
	"nvidia h100":       KindH100,
	"a100":              KindA100,
	"a100-sxm4":         KindA100,
	"a100-pcie":         KindA100,
	"a100 80gb":         KindA100,
	"a100 40gb":         KindA100,
	"nvidia a100":       KindA100,
	"nvidia-tesla-a100": KindA100,
	"v100":              KindV100,
	"tesla v100":        KindV100,
	"nvidia-tesla-v100": KindV100,
	"l40s":              KindL40S,
	"l4":                KindL4,
	"nvidia-l4":         KindL4,
	"a10g":              KindA10G,
	"a10":               KindA10,
	"t4":                KindT4,
	"tesla t4":          KindT4,
	"nvidia-tesla-t4":   KindT4,
	"k80":               KindK80,
	"tesla k80":         KindK80,
	"nvidia-tesla-k80":  KindK80,
	"rtx 4090":          KindRTX,
	"rtx4090":           KindRTX,
	"geforce rtx 4090":  KindRTX,
}

// Canonicalize maps a provider-reported GPU name to its canonical kind.
// Unknown names collapse to a lowercase, space-trimmed form so they still
// compare consistently across providers.
func Canonicalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.TrimPrefix(s, "nvidia ")
	if k, ok := aliases[s]; ok {
		return k
	}
	// Retry with the untrimmed lowercase form; some aliases keep the vendor
	// prefix (GCP accelerator names).
	if k, ok := aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return k
	}
	return strings.ReplaceAll(s, " ", "-")
}
