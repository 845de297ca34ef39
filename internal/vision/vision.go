package vision

import "context"

// UnknownClass is the sentinel category for raw labels absent from the
// reduction mapping. Every detection produces exactly one classification
// row, so unmapped labels land here instead of being dropped.
const UnknownClass = "unknown"

// Detection is one detected-object box from the vision model, before
// vocabulary reduction.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Detector runs the vision model over one stored image.
type Detector interface {
	Detect(ctx context.Context, imagePath string) ([]Detection, error)
}

// Mapping reduces the model's raw output vocabulary to the constrained
// product-category vocabulary.
type Mapping map[string]string

// Reduce is total: labels absent from the mapping resolve to UnknownClass.
func (m Mapping) Reduce(label string) string {
	if class, ok := m[label]; ok {
		return class
	}
	return UnknownClass
}

// DefaultMapping covers the model classes seen in the channel feeds.
func DefaultMapping() Mapping {
	return Mapping{
		"bottle":  "cream",
		"pill":    "pill",
		"syringe": "syringe",
		"cup":     "bottle",
	}
}
