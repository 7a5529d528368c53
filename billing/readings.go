package billing

import (
	"iter"

	"evcs/models"
)

// energyReadings yields energy import register readings in Wh, newest appended first.
// Samples of other measurands and values that do not parse are skipped.
func energyReadings(samples []models.TransactionMeter) iter.Seq[float64] {
	return func(yield func(float64) bool) {
		for i := len(samples) - 1; i >= 0; i-- {
			value, ok := samples[i].EnergyWh()
			if !ok {
				continue
			}
			if !yield(value) {
				return
			}
		}
	}
}

// HasEnergyReading reports whether a batch carries at least one energy import reading;
// batches without one leave the billed position of the session unchanged
func HasEnergyReading(samples []models.TransactionMeter) bool {
	for range energyReadings(samples) {
		return true
	}
	return false
}

// lastTwo takes the current and the previous reading and stops consuming the
// sequence as soon as both are known
func lastTwo(readings iter.Seq[float64]) (current, previous float64, ok bool) {
	found := 0
	for value := range readings {
		if found == 0 {
			current = value
			found++
			continue
		}
		previous = value
		return current, previous, true
	}
	return 0, 0, false
}
