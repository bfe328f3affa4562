package stt

import (
	"os"
	"path/filepath"
)

const modelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// WhisperModel is a downloadable ggml model usable by whispercli and whispercpp.
type WhisperModel struct {
	Name      string // file name, e.g. "ggml-base.en.bin"
	Label     string
	Size      string
	SizeBytes int64 // for progress when the server sends no length
	URL       string
}

func hfModel(name, label, size string, bytes int64) WhisperModel {
	return WhisperModel{Name: name, Label: label, Size: size, SizeBytes: bytes, URL: modelBaseURL + name}
}

// WhisperModels is the catalog offered by `golisten models`.
var WhisperModels = []WhisperModel{
	hfModel("ggml-tiny.en.bin", "Tiny English", "75 MB", 75_000_000),
	hfModel("ggml-base.en.bin", "Base English", "142 MB", 142_000_000),
	hfModel("ggml-small.en.bin", "Small English", "466 MB", 466_000_000),
	hfModel("ggml-medium.en.bin", "Medium English", "1.5 GB", 1_500_000_000),
	hfModel("ggml-large-v3-turbo-q5_0.bin", "Large V3 Turbo (q5_0)", "547 MB", 547_000_000),
	hfModel("ggml-large-v3-turbo.bin", "Large V3 Turbo", "1.6 GB", 1_600_000_000),
	hfModel("ggml-large-v3.bin", "Large V3", "3.1 GB", 3_100_000_000),
}

// GetModel returns the catalog entry called name, or nil.
func GetModel(name string) *WhisperModel {
	for i := range WhisperModels {
		if WhisperModels[i].Name == name {
			return &WhisperModels[i]
		}
	}
	return nil
}

// IsModelDownloaded checks if a model file exists in modelsDir.
func IsModelDownloaded(modelsDir, name string) bool {
	if modelsDir == "" || name == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(modelsDir, name))
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}

// ModelStatus pairs a catalog entry with its local presence.
type ModelStatus struct {
	WhisperModel
	Downloaded bool
	Path       string
}

// ListModels reports every catalog model against modelsDir.
func ListModels(modelsDir string) []ModelStatus {
	out := make([]ModelStatus, 0, len(WhisperModels))
	for _, m := range WhisperModels {
		out = append(out, ModelStatus{
			WhisperModel: m,
			Downloaded:   IsModelDownloaded(modelsDir, m.Name),
			Path:         filepath.Join(modelsDir, m.Name),
		})
	}
	return out
}
