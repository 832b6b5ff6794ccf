package finetune

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/hyperjump/storyforge/internal/config"
)

// DefaultSystemPrompt is baked into the served model.
const DefaultSystemPrompt = "You are a helpful AI assistant that creates engaging, age-appropriate stories for children. Your stories should be safe, educational, and entertaining."

// ModelfileParams fill the Ollama Modelfile.
type ModelfileParams struct {
	GGUFPath    string
	Temperature float64
	TopP        float64
	NumCtx      int
	System      string
}

// DefaultModelfileParams uses the configured GGUF path with the serving defaults.
func DefaultModelfileParams(cfg config.TrainConfig) ModelfileParams {
	return ModelfileParams{
		GGUFPath:    cfg.GGUFPath,
		Temperature: 0.7,
		TopP:        0.9,
		NumCtx:      4096,
		System:      DefaultSystemPrompt,
	}
}

var modelfileTmpl = template.Must(template.New("Modelfile").Parse(`FROM {{.GGUFPath}}
PARAMETER temperature {{.Temperature}}
PARAMETER top_p {{.TopP}}
PARAMETER num_ctx {{.NumCtx}}
PARAMETER stop "<|end|>"
SYSTEM """{{.System}}"""
TEMPLATE """{{"{{ .System }}"}}

{{"{{ .Prompt }}"}}
"""
`))

// RenderModelfile renders an Ollama Modelfile.
func RenderModelfile(p ModelfileParams) (string, error) {
	if p.GGUFPath == "" {
		return "", fmt.Errorf("gguf path is required")
	}
	if strings.Contains(p.System, `"""`) {
		return "", fmt.Errorf("system prompt must not contain triple quotes")
	}
	var buf bytes.Buffer
	if err := modelfileTmpl.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("render Modelfile: %w", err)
	}
	return buf.String(), nil
}

// MergeCommands lists the commands that turn the adapter into an Ollama model:
// merge LoRA weights, convert to GGUF, then create the model from modelfilePath.
func MergeCommands(cfg config.TrainConfig, modelName, modelfilePath string) [][]string {
	var merge []string
	if len(cfg.Command) > 0 {
		merge = append(merge, cfg.Command...)
	} else {
		merge = append(merge, "python3", "-m", "storyforge_trainer")
	}
	merge = append(merge, "merge",
		"--base-model", cfg.BaseModel,
		"--adapter", cfg.OutputDir,
		"--output", cfg.MergedDir,
	)
	return [][]string{
		merge,
		{"python3", "convert-hf-to-gguf.py",
			"--model", cfg.MergedDir,
			"--outfile", cfg.GGUFPath,
			"--outtype", "q4_K_M",
		},
		{"ollama", "create", modelName, "-f", filepath.Clean(modelfilePath)},
	}
}
