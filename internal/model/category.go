package model

// Category is the analytic profile that decides which labels a loop keeps.
type Category string

const (
	CategoryPeopleCount      Category = "people-count"
	CategoryBehaviorAnalytic Category = "behavior-analytic"
	CategoryVehicleCount     Category = "vehicle-count"
	CategorySafetyAnalytic   Category = "safety-analytic"
	CategoryDefault          Category = "default"
)

var categoryLabels = map[Category][]string{
	CategoryPeopleCount:      {"person"},
	CategoryBehaviorAnalytic: {"person"},
	CategoryVehicleCount:     {"car", "truck", "bus", "motorcycle", "bicycle"},
	CategorySafetyAnalytic:   {"person", "car", "truck"},
}

// Labels returns the accepted labels for the category. The second result is
// false for categories without a fixed label set.
func (c Category) Labels() ([]string, bool) {
	labels, ok := categoryLabels[c]
	if !ok {
		return nil, false
	}
	out := make([]string, len(labels))
	copy(out, labels)
	return out, true
}

// Known reports whether the category has its own label set.
func (c Category) Known() bool {
	_, ok := categoryLabels[c]
	return ok
}
