// Package diagnosis holds the skin-condition label set, the static knowledge base
// describing each label, and the error taxonomy shared by the prediction pipeline.
package diagnosis

import "strings"

// Label identifies one of the fixed skin-condition categories.
type Label string

const (
	LabelMelanoma              Label = "melanoma"
	LabelBasalCellCarcinoma    Label = "basal_cell_carcinoma"
	LabelSquamousCellCarcinoma Label = "squamous_cell_carcinoma"
	LabelBenign                Label = "benign"
	LabelActinicKeratosis      Label = "actinic_keratosis"
	LabelDermatofibroma        Label = "dermatofibroma"
	LabelVascularLesion        Label = "vascular_lesion"

	// LabelUnknown marks a record whose classification has not completed.
	LabelUnknown Label = "unknown"
)

// labelOrder is the model's output order. Index i of the probability vector
// scores labelOrder[i].
var labelOrder = [...]Label{
	LabelMelanoma,
	LabelBasalCellCarcinoma,
	LabelSquamousCellCarcinoma,
	LabelBenign,
	LabelActinicKeratosis,
	LabelDermatofibroma,
	LabelVascularLesion,
}

// NumLabels is the width of the model's output vector.
const NumLabels = len(labelOrder)

// Labels returns the known labels in model output order.
func Labels() []Label {
	out := make([]Label, NumLabels)
	copy(out, labelOrder[:])
	return out
}

// LabelForIndex maps an output index to its label. Indices outside the table
// map to LabelUnknown.
func LabelForIndex(i int) Label {
	if i < 0 || i >= NumLabels {
		return LabelUnknown
	}
	return labelOrder[i]
}

// Known reports whether l is one of the classified labels.
func (l Label) Known() bool {
	for _, known := range labelOrder {
		if l == known {
			return true
		}
	}
	return false
}

// DisplayName renders the label for humans, e.g. "Basal Cell Carcinoma".
func (l Label) DisplayName() string {
	words := strings.Split(string(l), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func (l Label) String() string {
	return string(l)
}
