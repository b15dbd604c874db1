package hub

// EstimatedTotalModels is the model count the top-percentile selection was calibrated on
const EstimatedTotalModels = 1531678

// SelectTopPercent returns how many of total repositories make up the top pct percent.
// At least one repository is always selected.
func SelectTopPercent(total int, pct float64) int {
	n := int(float64(total) * pct / 100)
	if n < 1 {
		return 1
	}
	return n
}
