package sorter

import (
	"context"

	"github.com/ecobrazo/sortarm/internal/logic/motion"
)

// Classification is the label an external classifier assigned to the
// item at the pickup point. OK is false when nothing was recognised.
type Classification struct {
	Category   motion.Category `json:"category"`
	Confidence float64         `json:"confidence"`
	OK         bool            `json:"ok"`
}

// Classifier labels the item waiting at the pickup point.
type Classifier interface {
	Classify(ctx context.Context) (Classification, error)
}

// FixedClassifier labels every item with the same category. It stands in
// for the vision model on rigs without a camera.
type FixedClassifier struct {
	Category motion.Category
}

func (f FixedClassifier) Classify(ctx context.Context) (Classification, error) {
	if err := ctx.Err(); err != nil {
		return Classification{}, err
	}
	if _, err := motion.ParseCategory(string(f.Category)); err != nil {
		return Classification{}, err
	}
	return Classification{Category: f.Category, Confidence: 1, OK: true}, nil
}
