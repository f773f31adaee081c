package config

import (
	"fmt"
	"strings"
)

const (
	AccelerationAuto = "auto"
	AccelerationCPU  = "cpu"
	AccelerationGPU  = "gpu"
)

func NormalizeAcceleration(raw string) (string, error) {
	mode := strings.ToLower(strings.TrimSpace(raw))
	if mode == "" {
		mode = AccelerationAuto
	}
	switch mode {
	case AccelerationAuto, AccelerationCPU, AccelerationGPU:
		return mode, nil
	case "cuda", "dml", "directml":
		return AccelerationGPU, nil
	default:
		return "", fmt.Errorf(
			"invalid acceleration mode %q (expected %s|%s|%s)",
			raw,
			AccelerationAuto,
			AccelerationCPU,
			AccelerationGPU,
		)
	}
}
