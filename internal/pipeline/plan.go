package pipeline

// Models the refine chain loads, in pass order.
const (
	ModelPrimaryVocals = "Kim_Vocal_1.onnx"
	ModelKaraoke       = "UVR_MDXNET_KARA.onnx"
	ModelDeEcho        = "UVR-De-Echo-Aggressive.pth"
	ModelDeNoise       = "UVR-DeNoise.pth"
)

// Step labels reported in advanced results.
const (
	StepVocalsInstrumental = "Vocals/Instrumental separation"
	StepLeadBacking        = "Lead/Backing vocal separation"
	StepDeReverb           = "DeReverb processing"
	StepDenoise            = "Denoise processing"
)

// Canonical artifact names.
const (
	StemInstrumental   = "Instrumental"
	StemVocals         = "Vocals"
	StemLeadVocals     = "Lead_Vocals"
	StemBackingVocals  = "Backing_Vocals"
	StemVocalsReverb   = "Vocals_Reverb"
	StemVocalsNoReverb = "Vocals_No_Reverb"
	StemVocalsNoise    = "Vocals_Noise"
	StemVocalsNoNoise  = "Vocals_No_Noise"
)

// AdvancedChainModels returns the model files the refine chain needs,
// including the pass-one fallback.
func AdvancedChainModels() []string {
	return []string{ModelPrimaryVocals, ModelKaraoke, ModelDeEcho, ModelDeNoise}
}

// stemSpec names one stem a pass must produce. Selection tries the engine's
// filename labels first and falls back to position in the sorted output
// list.
type stemSpec struct {
	canonical string
	labels    []string
	index     int
	final     bool
}

// passSpec describes one engine invocation within a plan.
type passSpec struct {
	step     string
	model    string
	fallback string
	// inputName is the canonical artifact a pass consumes; empty means the
	// job input.
	inputName string
	// stems is nil for single-pass plans, where every output is kept as a
	// final artifact under its engine label.
	stems []stemSpec
	// outputNames forwards caller renames to the engine (single-pass only).
	outputNames map[string]string
}

type plan struct {
	jobType string
	passes  []passSpec
}

func planSeparate(model string, outputNames map[string]string) plan {
	return plan{
		jobType: "separate",
		passes: []passSpec{{
			step:        "Separation",
			model:       model,
			outputNames: outputNames,
		}},
	}
}

func planAdvanced() plan {
	return plan{
		jobType: "advanced_separate",
		passes: []passSpec{
			{
				step:     StepVocalsInstrumental,
				model:    ModelPrimaryVocals,
				fallback: ModelKaraoke,
				stems: []stemSpec{
					{canonical: StemInstrumental, labels: []string{"Instrumental"}, index: 0, final: true},
					{canonical: StemVocals, labels: []string{"Vocals"}, index: 1},
				},
			},
			{
				step:      StepLeadBacking,
				model:     ModelKaraoke,
				inputName: StemVocals,
				stems: []stemSpec{
					{canonical: StemBackingVocals, labels: []string{"Instrumental"}, index: 0},
					{canonical: StemLeadVocals, labels: []string{"Vocals"}, index: 1},
				},
			},
			{
				step:      StepDeReverb,
				model:     ModelDeEcho,
				inputName: StemLeadVocals,
				stems: []stemSpec{
					{canonical: StemVocalsNoReverb, labels: []string{"No Echo", "No Reverb"}, index: 0},
					{canonical: StemVocalsReverb, labels: []string{"Echo", "Reverb"}, index: 1},
				},
			},
			{
				step:      StepDenoise,
				model:     ModelDeNoise,
				inputName: StemVocalsNoReverb,
				stems: []stemSpec{
					{canonical: StemVocalsNoise, labels: []string{"Noise"}, index: 0},
					{canonical: StemVocalsNoNoise, labels: []string{"No Noise"}, index: 1, final: true},
				},
			},
		},
	}
}
