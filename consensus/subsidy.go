package consensus

// Subsidy computes block_subsidy(height) per spec.md §4.5:
// INITIAL_SUBSIDY >> (height / HALVING_INTERVAL), zero once halvings >= 64.
func Subsidy(height uint64) uint64 {
	halvings := height / HalvingInterval
	if halvings >= 64 {
		return 0
	}
	return InitialSubsidy >> halvings
}
