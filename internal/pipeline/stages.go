package pipeline

import "strings"

// Stage is one step of the construction-stages pipeline. Stage 1 is the
// reference image itself; every later stage transforms the previous stage's
// output image.
type Stage struct {
	Order          int     `json:"order"`
	Name           string  `json:"name"`
	DisplayName    string  `json:"display_name"`
	PromptFragment string  `json:"prompt_fragment"`
	Strength       float64 `json:"transformation_strength"`
}

// Passthrough returns true for the stage that records the reference image
// without calling a provider.
func (s Stage) Passthrough() bool {
	return s.Order == 1
}

// Preamble holds the consistency rules prepended to every stage prompt.
const Preamble = `Keep the exact same camera position, focal length, framing and perspective as the input image. ` +
	`Keep the same building footprint, proportions and architectural layout. ` +
	`Keep the same location, surrounding landscape, neighbouring structures, sky and lighting. ` +
	`Only change the construction progress described below. Photorealistic, no people, no text.`

// DefaultStages is the construction sequence, walking back from the finished
// building to the empty plot.
var DefaultStages = []Stage{
	{
		Order: 1, Name: "finished", DisplayName: "Finished building",
		Strength: 0,
	},
	{
		Order: 2, Name: "finishing", DisplayName: "Exterior finishing",
		PromptFragment: "Remove landscaping, exterior paint, light fixtures and decorative trims. " +
			"Windows and doors stay installed; scaffolding covers one facade.",
		Strength: 0.45,
	},
	{
		Order: 3, Name: "envelope", DisplayName: "Building envelope",
		PromptFragment: "Remove windows, doors and exterior cladding. " +
			"Show bare insulation boards and house wrap; the roof is covered with underlayment only.",
		Strength: 0.55,
	},
	{
		Order: 4, Name: "framing", DisplayName: "Structural framing",
		PromptFragment: "Remove walls and roof covering. " +
			"Show the exposed structural frame of columns, beams and roof trusses, with a crane beside the site.",
		Strength: 0.65,
	},
	{
		Order: 5, Name: "foundation", DisplayName: "Foundation",
		PromptFragment: "Remove the entire structure above ground. " +
			"Show a cured concrete foundation slab with protruding rebar and stacked building materials.",
		Strength: 0.7,
	},
	{
		Order: 6, Name: "excavation", DisplayName: "Excavation",
		PromptFragment: "Remove the foundation. " +
			"Show an excavated pit with formwork, an excavator and mounds of soil at the edges.",
		Strength: 0.7,
	},
	{
		Order: 7, Name: "empty-lot", DisplayName: "Empty lot",
		PromptFragment: "Remove all construction. " +
			"Show the untouched plot of land with natural ground cover and a surveyor's stakes.",
		Strength: 0.75,
	},
}

// Stages returns a copy of the default stage catalogue.
func Stages() []Stage {
	out := make([]Stage, len(DefaultStages))
	copy(out, DefaultStages)
	return out
}

// StagePrompt joins the preamble and a stage fragment.
func StagePrompt(preamble string, s Stage) string {
	return joinPrompt(preamble, s.PromptFragment)
}

// IntermediatePrompt asks for the halfway state between two stages.
func IntermediatePrompt(preamble string, from, to Stage) string {
	return joinPrompt(preamble,
		"Show the construction state halfway between \""+from.DisplayName+"\" and \""+to.DisplayName+"\". "+
			"The first reference image is the earlier state, the second is the later state.")
}

// TransitionPrompt describes the motion of a transition video.
const TransitionPrompt = "Smooth time-lapse of construction progress. Static locked-off camera, " +
	"no camera movement. Materials appear and disappear gradually between the first and last frame."

func joinPrompt(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
