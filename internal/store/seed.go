package store

import (
	"github.com/cloudarb/cloudarb/pkg/gpu"
	"github.com/cloudarb/cloudarb/pkg/pricing"
)

// seedEntries is the embedded instance catalog: the GPU instance shapes the
// five providers actually sell. Database rows overlay these, so operators can
// correct or extend the catalog without a rebuild.
var seedEntries = []CatalogEntry{
	// AWS
	{Provider: pricing.ProviderAWS, Name: "p3.2xlarge", GPUKind: gpu.KindV100, GPUCount: 1, VCPU: 8, MemoryGB: 61},
	{Provider: pricing.ProviderAWS, Name: "p3.8xlarge", GPUKind: gpu.KindV100, GPUCount: 4, VCPU: 32, MemoryGB: 244},
	{Provider: pricing.ProviderAWS, Name: "p3.16xlarge", GPUKind: gpu.KindV100, GPUCount: 8, VCPU: 64, MemoryGB: 488},
	{Provider: pricing.ProviderAWS, Name: "p4d.24xlarge", GPUKind: gpu.KindA100, GPUCount: 8, VCPU: 96, MemoryGB: 1152},
	{Provider: pricing.ProviderAWS, Name: "p5.48xlarge", GPUKind: gpu.KindH100, GPUCount: 8, VCPU: 192, MemoryGB: 2048},
	{Provider: pricing.ProviderAWS, Name: "g4dn.xlarge", GPUKind: gpu.KindT4, GPUCount: 1, VCPU: 4, MemoryGB: 16},
	{Provider: pricing.ProviderAWS, Name: "g4dn.12xlarge", GPUKind: gpu.KindT4, GPUCount: 4, VCPU: 48, MemoryGB: 192},
	{Provider: pricing.ProviderAWS, Name: "g5.xlarge", GPUKind: gpu.KindA10G, GPUCount: 1, VCPU: 4, MemoryGB: 16},
	{Provider: pricing.ProviderAWS, Name: "g5.12xlarge", GPUKind: gpu.KindA10G, GPUCount: 4, VCPU: 48, MemoryGB: 192},
	{Provider: pricing.ProviderAWS, Name: "g5.48xlarge", GPUKind: gpu.KindA10G, GPUCount: 8, VCPU: 192, MemoryGB: 768},
	{Provider: pricing.ProviderAWS, Name: "g6.xlarge", GPUKind: gpu.KindL4, GPUCount: 1, VCPU: 4, MemoryGB: 16},

	// GCP (accelerator-attached N1 shapes)
	{Provider: pricing.ProviderGCP, Name: "n1-standard-8-t4", GPUKind: gpu.KindT4, GPUCount: 1, VCPU: 8, MemoryGB: 30},
	{Provider: pricing.ProviderGCP, Name: "n1-standard-8-v100", GPUKind: gpu.KindV100, GPUCount: 1, VCPU: 8, MemoryGB: 30},
	{Provider: pricing.ProviderGCP, Name: "a2-highgpu-1g", GPUKind: gpu.KindA100, GPUCount: 1, VCPU: 12, MemoryGB: 85},
	{Provider: pricing.ProviderGCP, Name: "a2-highgpu-8g", GPUKind: gpu.KindA100, GPUCount: 8, VCPU: 96, MemoryGB: 680},
	{Provider: pricing.ProviderGCP, Name: "a3-highgpu-8g", GPUKind: gpu.KindH100, GPUCount: 8, VCPU: 208, MemoryGB: 1872},
	{Provider: pricing.ProviderGCP, Name: "g2-standard-4", GPUKind: gpu.KindL4, GPUCount: 1, VCPU: 4, MemoryGB: 16},

	// Azure
	{Provider: pricing.ProviderAzure, Name: "Standard_NC6s_v3", GPUKind: gpu.KindV100, GPUCount: 1, VCPU: 6, MemoryGB: 112},
	{Provider: pricing.ProviderAzure, Name: "Standard_NC24s_v3", GPUKind: gpu.KindV100, GPUCount: 4, VCPU: 24, MemoryGB: 448},
	{Provider: pricing.ProviderAzure, Name: "Standard_NC24ads_A100_v4", GPUKind: gpu.KindA100, GPUCount: 1, VCPU: 24, MemoryGB: 220},
	{Provider: pricing.ProviderAzure, Name: "Standard_NC96ads_A100_v4", GPUKind: gpu.KindA100, GPUCount: 4, VCPU: 96, MemoryGB: 880},
	{Provider: pricing.ProviderAzure, Name: "Standard_ND96isr_H100_v5", GPUKind: gpu.KindH100, GPUCount: 8, VCPU: 96, MemoryGB: 1900},
	{Provider: pricing.ProviderAzure, Name: "Standard_NV36ads_A10_v5", GPUKind: gpu.KindA10, GPUCount: 1, VCPU: 36, MemoryGB: 440},

	// Lambda Labs
	{Provider: pricing.ProviderLambdaLabs, Name: "gpu_1x_a100", GPUKind: gpu.KindA100, GPUCount: 1, VCPU: 30, MemoryGB: 200},
	{Provider: pricing.ProviderLambdaLabs, Name: "gpu_8x_a100", GPUKind: gpu.KindA100, GPUCount: 8, VCPU: 124, MemoryGB: 1800},
	{Provider: pricing.ProviderLambdaLabs, Name: "gpu_1x_h100_pcie", GPUKind: gpu.KindH100, GPUCount: 1, VCPU: 26, MemoryGB: 200},
	{Provider: pricing.ProviderLambdaLabs, Name: "gpu_8x_h100_sxm5", GPUKind: gpu.KindH100, GPUCount: 8, VCPU: 208, MemoryGB: 1800},
	{Provider: pricing.ProviderLambdaLabs, Name: "gpu_1x_a10", GPUKind: gpu.KindA10, GPUCount: 1, VCPU: 30, MemoryGB: 200},

	// RunPod
	{Provider: pricing.ProviderRunPod, Name: "NVIDIA A100 80GB PCIe", GPUKind: gpu.KindA100, GPUCount: 1, VCPU: 8, MemoryGB: 80},
	{Provider: pricing.ProviderRunPod, Name: "NVIDIA H100 PCIe", GPUKind: gpu.KindH100, GPUCount: 1, VCPU: 16, MemoryGB: 188},
	{Provider: pricing.ProviderRunPod, Name: "NVIDIA GeForce RTX 4090", GPUKind: gpu.KindRTX, GPUCount: 1, VCPU: 8, MemoryGB: 24},
	{Provider: pricing.ProviderRunPod, Name: "NVIDIA L40S", GPUKind: gpu.KindL40S, GPUCount: 1, VCPU: 8, MemoryGB: 48},
}
