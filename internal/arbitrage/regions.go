package arbitrage

import "strings"

// builtinRegionClasses maps known region names to a coarse geographic class.
// Workloads are assumed movable within a class but not across one, so
// opportunities only pair lines in the same class. Config entries override
// this table.
var builtinRegionClasses = map[string]string{
	// AWS
	"us-east-1":      "na",
	"us-east-2":      "na",
	"us-west-1":      "na",
	"us-west-2":      "na",
	"eu-west-1":      "eu",
	"eu-central-1":   "eu",
	"ap-southeast-1": "ap",
	"ap-northeast-1": "ap",
	// GCP
	"us-central1":     "na",
	"us-east1":        "na",
	"us-west1":        "na",
	"europe-west1":    "eu",
	"europe-west4":    "eu",
	"asia-southeast1": "ap",
	// Azure
	"eastus":        "na",
	"eastus2":       "na",
	"westus2":       "na",
	"westeurope":    "eu",
	"northeurope":   "eu",
	"southeastasia": "ap",
	// Lambda Labs (us-east-1 and us-west-1 overlap the AWS names above)
	"us-south-1":       "na",
	"us-midwest-1":     "na",
	"europe-central-1": "eu",
	"asia-northeast-1": "ap",
}

// globalClass marks regions compatible with every class, used by providers
// that quote a single worldwide price.
const globalClass = "global"

// regionClassifier resolves regions to classes with config overrides layered
// over the builtin table.
type regionClassifier struct {
	overrides map[string]string
}

// classOf returns the class for a region. Unknown regions fall back to a
// prefix guess, then to the conservative choice of their own singleton class
// so they never pair with anything else.
func (rc regionClassifier) classOf(region string) string {
	if c, ok := rc.overrides[region]; ok {
		return c
	}
	if c, ok := builtinRegionClasses[region]; ok {
		return c
	}
	if region == "global" {
		return globalClass
	}
	switch {
	case strings.HasPrefix(region, "us-") || strings.HasPrefix(region, "ca-"):
		return "na"
	case strings.HasPrefix(region, "eu") || strings.HasPrefix(region, "europe-"):
		return "eu"
	case strings.HasPrefix(region, "ap-") || strings.HasPrefix(region, "asia-"):
		return "ap"
	}
	return region
}

// compatible reports whether a workload could move between two regions.
func (rc regionClassifier) compatible(a, b string) bool {
	ca, cb := rc.classOf(a), rc.classOf(b)
	return ca == cb || ca == globalClass || cb == globalClass
}
