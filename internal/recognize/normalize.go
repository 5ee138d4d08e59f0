package recognize

import (
	"strings"

	"github.com/Cathyyyy1/anomaly-monitor/internal/model"
)

// Vendor label remapping onto the normalized vocabulary. Unmapped
// labels pass through unchanged (lowercased, trimmed).
var defaultLabelAliases = map[string]string{
	"person":     model.ClassPedestrian,
	"truck":      model.ClassCar,
	"car":        model.ClassCar,
	"bus":        model.ClassBus,
	"motorcycle": model.ClassBicycle,
	"bicycle":    model.ClassBicycle,
}

func NormalizeLabel(label string, aliases map[string]string) string {
	n := strings.ToLower(strings.TrimSpace(label))
	if n == "" {
		return n
	}
	if aliases != nil {
		if mapped, ok := aliases[n]; ok {
			return mapped
		}
	}
	if mapped, ok := defaultLabelAliases[n]; ok {
		return mapped
	}
	return n
}
