package pipeline

import (
	"encoding/json"
	"strings"
)

// Artifact is one stem file a plan produced.
type Artifact struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
	Path  string `json:"path"`
	Pass  int    `json:"pass"`
	Final bool   `json:"final,omitempty"`
}

// PassRecord captures one executed pass.
type PassRecord struct {
	Index    int      `json:"index"`
	Step     string   `json:"step"`
	Model    string   `json:"model"`
	FellBack bool     `json:"fell_back,omitempty"`
	Outputs  []string `json:"outputs"`
}

// Manifest is the structured payload shared between the separation and
// delivery stages. It rides on the queue record as JSON.
type Manifest struct {
	JobType        string       `json:"job_type"`
	ModelUsed      string       `json:"model_used,omitempty"`
	OutputFormat   string       `json:"output_format,omitempty"`
	Passes         []PassRecord `json:"passes"`
	Artifacts      []Artifact   `json:"artifacts"`
	StepsCompleted []string     `json:"steps_completed,omitempty"`
	FinalOutputs   []string     `json:"final_outputs,omitempty"`
}

// ParseManifest loads a manifest from JSON, returning an empty manifest on
// blank input.
func ParseManifest(raw string) (Manifest, error) {
	var m Manifest
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Encode serialises the manifest to JSON.
func (m Manifest) Encode() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FinalArtifacts returns the artifacts delivery should hand back, in
// manifest order.
func (m Manifest) FinalArtifacts() []Artifact {
	finals := make([]Artifact, 0, 2)
	for _, artifact := range m.Artifacts {
		if artifact.Final {
			finals = append(finals, artifact)
		}
	}
	return finals
}

// ArtifactByName returns a pointer to the named artifact.
func (m *Manifest) ArtifactByName(name string) *Artifact {
	if m == nil {
		return nil
	}
	for idx := range m.Artifacts {
		if strings.EqualFold(m.Artifacts[idx].Name, name) {
			return &m.Artifacts[idx]
		}
	}
	return nil
}
