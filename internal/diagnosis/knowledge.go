package diagnosis

// Info is the descriptive text the knowledge base holds for a label.
type Info struct {
	Description     string
	Symptoms        string
	Recommendations string
}

var fallbackInfo = Info{
	Description:     "Information not available",
	Symptoms:        "Consult a healthcare provider for symptoms",
	Recommendations: "Consult a healthcare provider for recommendations",
}

var knowledgeBase = map[Label]Info{
	LabelMelanoma: {
		Description:     "Melanoma is a serious form of skin cancer that begins in cells known as melanocytes.",
		Symptoms:        "Asymmetrical moles, irregular borders, multiple colors, diameter larger than 6mm, evolving appearance",
		Recommendations: "Immediate consultation with a dermatologist is recommended. Regular skin checks and sun protection are essential.",
	},
	LabelBasalCellCarcinoma: {
		Description:     "Basal cell carcinoma is the most common type of skin cancer, usually slow-growing.",
		Symptoms:        "Pearly or waxy bump, flat flesh-colored or brown scar-like lesion, bleeding or scabbing sore",
		Recommendations: "Consult a dermatologist for proper diagnosis and treatment. Usually treatable with surgery.",
	},
	LabelSquamousCellCarcinoma: {
		Description:     "Squamous cell carcinoma is a common type of skin cancer that develops in squamous cells.",
		Symptoms:        "Firm red nodule, flat lesion with scaly crust, new sore or raised area on old scar",
		Recommendations: "Seek medical attention promptly. Treatment typically involves surgical removal.",
	},
	LabelBenign: {
		Description:     "This appears to be a benign skin condition, but regular monitoring is recommended.",
		Symptoms:        "Usually no concerning symptoms, but monitor for changes in size, color, or texture",
		Recommendations: "Continue regular skin monitoring. Consult a doctor if changes are noticed.",
	},
	LabelActinicKeratosis: {
		Description:     "Actinic keratosis is a precancerous skin condition that can develop into squamous cell carcinoma.",
		Symptoms:        "Rough, scaly patches, usually less than 2cm, may be pink or red",
		Recommendations: "Consult a dermatologist for treatment options. Regular skin checks recommended.",
	},
	LabelDermatofibroma: {
		Description:     "Dermatofibroma is a common benign skin growth that usually appears on the legs.",
		Symptoms:        "Small, firm, raised growth, usually brown or pink, may itch or be tender",
		Recommendations: "Usually no treatment needed unless symptomatic. Monitor for changes.",
	},
	LabelVascularLesion: {
		Description:     "Vascular lesions are abnormalities of blood vessels that can appear on the skin.",
		Symptoms:        "Red, purple, or pink patches or bumps, may be present at birth or develop later",
		Recommendations: "Consult a dermatologist for proper evaluation and treatment options.",
	},
}

// Describe returns the knowledge base entry for label. Labels without an entry
// get a generic consult-your-provider text.
func Describe(label Label) Info {
	if info, ok := knowledgeBase[label]; ok {
		return info
	}
	return fallbackInfo
}
