package tokens

// Estimate approximates the token count of a prompt fragment. Providers
// report exact usage after the fact; this heuristic (floor of len/3, min 1
// for non-empty text) only gates batch packing, where an overestimate just
// makes batches smaller.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 3
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateAll sums the estimate over multiple fragments.
func EstimateAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += Estimate(t)
	}
	return total
}
