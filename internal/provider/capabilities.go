package provider

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

// Provider names recorded on jobs.
const (
	NameKling  = "kling"
	NameVeo    = "veo"
	NameImagen = "imagen"
	NameGemini = "gemini"
)

// ModelSpec is the static capability table entry for one model.
type ModelSpec struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"display_name"`
	Provider     string   `json:"provider"`
	Kinds        []Kind   `json:"kinds"`
	Durations    []int    `json:"durations,omitempty"` // seconds, ascending
	AspectRatios []string `json:"aspect_ratios,omitempty"`
	Resolutions  []string `json:"resolutions,omitempty"`
	Audio        bool     `json:"audio"`
	EndFrame     bool     `json:"end_frame"`   // accepts a paired start+end frame
	MultiImage   bool     `json:"multi_image"` // accepts several conditioning images
	// Default marks the provider's most capable model, used when a provider
	// is handed a model name it does not know.
	Default bool `json:"-"`
}

// Supports returns true if the model can serve the kind.
func (m ModelSpec) Supports(k Kind) bool {
	return slices.Contains(m.Kinds, k)
}

// Normalize snaps every parameter to the nearest value the model supports.
// Values are never rejected.
func (m ModelSpec) Normalize(p Params) Params {
	out := p
	if len(m.Durations) > 0 {
		out.Duration = SnapDuration(p.Duration, m.Durations)
	} else {
		out.Duration = ""
	}
	if len(m.AspectRatios) > 0 {
		out.AspectRatio = SnapAspectRatio(p.AspectRatio, m.AspectRatios)
	}
	if len(m.Resolutions) > 0 {
		out.Resolution = SnapResolution(p.Resolution, m.Resolutions)
	} else {
		out.Resolution = ""
	}
	if !m.Audio {
		out.AudioEnabled = false
	}
	if p.Strength != nil {
		s := math.Max(0, math.Min(1, *p.Strength))
		out.Strength = &s
	}
	return out
}

// Catalogue is the static model capability table.
var Catalogue = []ModelSpec{
	{
		ID: "kling-v2-6", DisplayName: "Kling 2.6", Provider: NameKling,
		Kinds:        []Kind{KindTextToVideo, KindImageToVideo, KindMotionControl},
		Durations:    []int{5, 10},
		AspectRatios: []string{"16:9", "9:16", "1:1"},
		Resolutions:  []string{"720p", "1080p"},
		Audio:        true, EndFrame: true, Default: true,
	},
	{
		ID: "kling-v2-5-turbo", DisplayName: "Kling 2.5 Turbo", Provider: NameKling,
		Kinds:        []Kind{KindTextToVideo, KindImageToVideo},
		Durations:    []int{5, 10},
		AspectRatios: []string{"16:9", "9:16", "1:1"},
		Resolutions:  []string{"720p", "1080p"},
		EndFrame:     true,
	},
	{
		ID: "kling-v2-1-master", DisplayName: "Kling 2.1 Master", Provider: NameKling,
		Kinds:        []Kind{KindTextToVideo, KindImageToVideo},
		Durations:    []int{5, 10},
		AspectRatios: []string{"16:9", "9:16", "1:1"},
		Resolutions:  []string{"1080p"},
	},
	{
		ID: "veo-3.1-generate-preview", DisplayName: "Veo 3.1", Provider: NameVeo,
		Kinds:        []Kind{KindTextToVideo, KindImageToVideo, KindVideoToVideo},
		Durations:    []int{4, 6, 8},
		AspectRatios: []string{"16:9", "9:16"},
		Resolutions:  []string{"720p", "1080p"},
		Audio:        true, EndFrame: true, Default: true,
	},
	{
		ID: "veo-3.0-generate-001", DisplayName: "Veo 3", Provider: NameVeo,
		Kinds:        []Kind{KindTextToVideo, KindImageToVideo},
		Durations:    []int{8},
		AspectRatios: []string{"16:9", "9:16"},
		Resolutions:  []string{"720p", "1080p"},
		Audio:        true,
	},
	{
		ID: "veo-3.0-fast-generate-001", DisplayName: "Veo 3 Fast", Provider: NameVeo,
		Kinds:        []Kind{KindTextToVideo, KindImageToVideo},
		Durations:    []int{8},
		AspectRatios: []string{"16:9", "9:16"},
		Resolutions:  []string{"720p", "1080p"},
		Audio:        true,
	},
	{
		ID: "imagen-4.0-ultra-generate-001", DisplayName: "Imagen 4 Ultra", Provider: NameImagen,
		Kinds:        []Kind{KindTextToImage},
		AspectRatios: []string{"1:1", "3:4", "4:3", "9:16", "16:9"},
		Resolutions:  []string{"1k", "2k"},
		Default:      true,
	},
	{
		ID: "imagen-4.0-generate-001", DisplayName: "Imagen 4", Provider: NameImagen,
		Kinds:        []Kind{KindTextToImage},
		AspectRatios: []string{"1:1", "3:4", "4:3", "9:16", "16:9"},
		Resolutions:  []string{"1k", "2k"},
	},
	{
		ID: "imagen-4.0-fast-generate-001", DisplayName: "Imagen 4 Fast", Provider: NameImagen,
		Kinds:        []Kind{KindTextToImage},
		AspectRatios: []string{"1:1", "3:4", "4:3", "9:16", "16:9"},
	},
	{
		ID: "gemini-2.5-flash-image", DisplayName: "Nano Banana", Provider: NameGemini,
		Kinds:        []Kind{KindTextToImage, KindImageToImage},
		AspectRatios: []string{"1:1", "2:3", "3:2", "3:4", "4:3", "4:5", "5:4", "9:16", "16:9", "21:9"},
		MultiImage:   true, Default: true,
	},
}

// SpecsFor returns the catalogue entries owned by a provider.
func SpecsFor(providerName string) []ModelSpec {
	var out []ModelSpec
	for _, s := range Catalogue {
		if s.Provider == providerName {
			out = append(out, s)
		}
	}
	return out
}

// SpecFor returns the spec for model within a provider's catalogue. Unknown
// names fall back to the provider's default model.
func SpecFor(providerName, model string) ModelSpec {
	specs := SpecsFor(providerName)
	var fallback ModelSpec
	for _, s := range specs {
		if s.ID == model || s.DisplayName == model {
			return s
		}
		if s.Default {
			fallback = s
		}
	}
	if fallback.ID == "" && len(specs) > 0 {
		fallback = specs[0]
	}
	return fallback
}

// SnapDuration returns the supported duration nearest to requested, formatted
// as "<n>s". Ties resolve to the shorter duration. Unparseable input yields
// the shortest supported duration.
func SnapDuration(requested string, supported []int) string {
	if len(supported) == 0 {
		return ""
	}
	sorted := slices.Clone(supported)
	slices.Sort(sorted)

	want, ok := parseSeconds(requested)
	if !ok {
		return formatSeconds(sorted[0])
	}
	best := sorted[0]
	bestDist := math.Abs(want - float64(best))
	for _, d := range sorted[1:] {
		if dist := math.Abs(want - float64(d)); dist < bestDist {
			best, bestDist = d, dist
		}
	}
	return formatSeconds(best)
}

// SnapAspectRatio returns the supported ratio nearest to requested.
func SnapAspectRatio(requested string, supported []string) string {
	if len(supported) == 0 {
		return ""
	}
	if slices.Contains(supported, requested) {
		return requested
	}
	want, ok := parseRatio(requested)
	if !ok {
		return supported[0]
	}
	best := supported[0]
	bestDist := math.Inf(1)
	for _, s := range supported {
		r, ok := parseRatio(s)
		if !ok {
			continue
		}
		if dist := math.Abs(math.Log(want / r)); dist < bestDist {
			best, bestDist = s, dist
		}
	}
	return best
}

// SnapResolution returns the supported resolution nearest to requested by
// pixel height.
func SnapResolution(requested string, supported []string) string {
	if len(supported) == 0 {
		return ""
	}
	want, ok := parseResolution(requested)
	if !ok {
		return supported[len(supported)-1]
	}
	best := supported[0]
	bestDist := math.Inf(1)
	for _, s := range supported {
		h, ok := parseResolution(s)
		if !ok {
			continue
		}
		if dist := math.Abs(float64(want - h)); dist < bestDist {
			best, bestDist = s, dist
		}
	}
	return best
}

// DurationSeconds parses a snapped duration such as "5s".
func DurationSeconds(d string) int {
	v, ok := parseSeconds(d)
	if !ok {
		return 0
	}
	return int(v)
}

func parseSeconds(s string) (float64, bool) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func formatSeconds(n int) string {
	return strconv.Itoa(n) + "s"
}

func parseRatio(s string) (float64, bool) {
	w, h, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return 0, false
	}
	wf, err1 := strconv.ParseFloat(w, 64)
	hf, err2 := strconv.ParseFloat(h, 64)
	if err1 != nil || err2 != nil || wf <= 0 || hf <= 0 {
		return 0, false
	}
	return wf / hf, true
}

func parseResolution(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return 0, false
	case strings.HasSuffix(s, "k"):
		n, err := strconv.Atoi(strings.TrimSuffix(s, "k"))
		if err != nil || n <= 0 {
			return 0, false
		}
		// 1k = 1024 px on the short side, 4k = 2160p
		if n >= 4 {
			return 2160, true
		}
		return n * 1024, true
	case strings.HasSuffix(s, "p"):
		n, err := strconv.Atoi(strings.TrimSuffix(s, "p"))
		if err != nil || n <= 0 {
			return 0, false
		}
		return n, true
	default:
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return 0, false
		}
		return n, true
	}
}
