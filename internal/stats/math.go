package stats

// ratio returns num/den, or nil when den is zero so that undefined metrics
// serialize as null instead of 0 or NaN.
func ratio(num, den float64) *float64 {
	if den == 0 {
		return nil
	}
	v := num / den
	return &v
}

// shift adds delta to a defined value and keeps nil as nil.
func shift(v *float64, delta float64) *float64 {
	if v == nil {
		return nil
	}
	r := *v + delta
	return &r
}

// scale multiplies a defined value by k and keeps nil as nil.
func scale(v *float64, k float64) *float64 {
	if v == nil {
		return nil
	}
	r := *v * k
	return &r
}
