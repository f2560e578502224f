//go:build onnx

// Package onnx implements the embedding capability with ONNX Runtime, for
// fully offline deployments. The expected model is a sentence-transformer
// exported to ONNX (e.g. paraphrase-multilingual-MiniLM-L12-v2, which
// handles both Hebrew and English); tokenization is BERT WordPiece read
// from the model's tokenizer.json.
package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/movne/advisor-backend/embedder"
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the exported model.onnx.
	ModelPath string

	// TokenizerPath is the path to tokenizer.json next to the model.
	TokenizerPath string

	// SharedLibraryPath points at libonnxruntime.so. Empty uses the
	// runtime's default lookup.
	SharedLibraryPath string

	// Dimensions is the hidden size of the model. Default: 384.
	Dimensions int

	// MaxSequence is the token window passed to the model. Default: 128.
	MaxSequence int
}

// Embedder runs sentence-embedding inference through ONNX Runtime.
// A session is not safe for concurrent use; wrap with embedder.NewCached,
// which serializes backend calls.
type Embedder struct {
	session *ort.DynamicAdvancedSession
	tok     *wordPieceTokenizer
	dims    int
	maxSeq  int
}

// New initializes the runtime, loads the tokenizer, and opens a session.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx: ModelPath is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxSequence == 0 {
		cfg.MaxSequence = 128
	}

	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	tok, err := loadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &Embedder{session: session, tok: tok, dims: cfg.Dimensions, maxSeq: cfg.MaxSequence}, nil
}

// Embed tokenizes the text, runs the model, mean-pools the hidden states
// over attended tokens, and normalizes the result to unit length.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	ids := e.tok.encode(text)

	inputIDs := make([]int64, e.maxSeq)
	attention := make([]int64, e.maxSeq)
	tokenTypes := make([]int64, e.maxSeq)

	inputIDs[0] = int64(e.tok.cls)
	attention[0] = 1

	n := len(ids)
	if n > e.maxSeq-2 { // room for [CLS] and [SEP]
		n = e.maxSeq - 2
	}
	for i := 0; i < n; i++ {
		inputIDs[i+1] = ids[i]
		attention[i+1] = 1
	}
	inputIDs[n+1] = int64(e.tok.sep)
	attention[n+1] = 1

	shape := ort.NewShape(1, int64(e.maxSeq))
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	attTensor, err := ort.NewTensor(shape, attention)
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer attTensor.Destroy()

	typeTensor, err := ort.NewTensor(shape, tokenTypes)
	if err != nil {
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idsTensor, attTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}

	data := tensor.GetData()
	outShape := tensor.GetShape()

	switch len(outShape) {
	case 2:
		// Model already pooled to [1, dims].
		if len(data) < e.dims {
			return nil, fmt.Errorf("output has %d values, expected %d", len(data), e.dims)
		}
		vec := make([]float32, e.dims)
		copy(vec, data[:e.dims])
		return embedder.Normalize(vec), nil

	case 3:
		// [1, seq, dims]: mean-pool over attended positions.
		seqLen := int(outShape[1])
		hidden := int(outShape[2])
		if hidden != e.dims {
			return nil, fmt.Errorf("hidden size %d, expected %d", hidden, e.dims)
		}

		vec := make([]float32, e.dims)
		var attended float32
		for i := 0; i < seqLen && i < e.maxSeq; i++ {
			if attention[i] == 0 {
				continue
			}
			attended++
			row := data[i*hidden : (i+1)*hidden]
			for j, v := range row {
				vec[j] += v
			}
		}
		if attended == 0 {
			return nil, fmt.Errorf("no attended tokens")
		}
		for j := range vec {
			vec[j] /= attended
		}
		return embedder.Normalize(vec), nil

	default:
		return nil, fmt.Errorf("unexpected output shape %v", outShape)
	}
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dims
}

// Close releases the session.
func (e *Embedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

// wordPieceTokenizer is a minimal BERT WordPiece encoder backed by the
// vocab from tokenizer.json.
type wordPieceTokenizer struct {
	vocab map[string]int
	cls   int
	sep   int
	unk   int
}

func loadTokenizer(path string) (*wordPieceTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer vocab is empty")
	}

	t := &wordPieceTokenizer{vocab: parsed.Model.Vocab, cls: 101, sep: 102, unk: 100}
	if id, ok := t.vocab["[CLS]"]; ok {
		t.cls = id
	}
	if id, ok := t.vocab["[SEP]"]; ok {
		t.sep = id
	}
	if id, ok := t.vocab["[UNK]"]; ok {
		t.unk = id
	}
	return t, nil
}

func (t *wordPieceTokenizer) encode(text string) []int64 {
	var ids []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()")
		if word == "" {
			continue
		}
		if id, ok := t.vocab[word]; ok {
			ids = append(ids, int64(id))
			continue
		}
		for _, piece := range t.split(word) {
			if id, ok := t.vocab[piece]; ok {
				ids = append(ids, int64(id))
			} else {
				ids = append(ids, int64(t.unk))
			}
		}
	}
	return ids
}

// split performs greedy longest-prefix WordPiece segmentation.
func (t *wordPieceTokenizer) split(word string) []string {
	var pieces []string
	start := 0
	for start < len(word) {
		end := len(word)
		matched := false
		for end > start {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if _, ok := t.vocab[piece]; ok {
				pieces = append(pieces, piece)
				start = end
				matched = true
				break
			}
			end--
		}
		if !matched {
			pieces = append(pieces, "[UNK]")
			start++
		}
	}
	return pieces
}
