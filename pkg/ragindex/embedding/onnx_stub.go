//go:build !cgo

package embedding

import "errors"

// ONNXEmbedder is the CGO-free stub; see onnx.go for the real implementation.
type ONNXEmbedder struct{}

// NewONNXEmbedder always fails without CGO: onnxruntime's Go bindings
// require linking against the native onnxruntime shared library.
func NewONNXEmbedder(_ string, _, _, _ int) (*ONNXEmbedder, error) {
	return nil, errors.New("embedding: ONNX embedder requires CGO_ENABLED=1 and the onnxruntime shared library")
}
