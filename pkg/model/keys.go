package model

import (
	"fmt"
	"sort"
)

// OfferKey builds the identifier shared by pending and confirmed offers.
func OfferKey(scheduleID int, scheduleDeviceID string) string {
	return fmt.Sprintf("%d_%s", scheduleID, scheduleDeviceID)
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
