//go:build onnx

package main

import (
	"os"

	"github.com/movne/advisor-backend/config"
	"github.com/movne/advisor-backend/embedder"
	"github.com/movne/advisor-backend/embedder/onnx"
)

func init() {
	newONNXEmbedder = func(cfg *config.Config) (embedder.Embedder, error) {
		return onnx.New(onnx.Config{
			ModelPath:         os.Getenv("ADVISOR_ONNX_MODEL"),
			TokenizerPath:     os.Getenv("ADVISOR_ONNX_TOKENIZER"),
			SharedLibraryPath: os.Getenv("ADVISOR_ONNX_LIBRARY"),
			Dimensions:        cfg.Embedding.Dimensions,
		})
	}
}
