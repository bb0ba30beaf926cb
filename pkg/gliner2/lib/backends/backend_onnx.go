// Copyright 2026 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build onnx && ORT

package backends

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/errdefs"
)

func init() {
	Register(&onnxBackend{sessions: make(map[string]*onnxSession)})
}

// onnxBackend implements Backend using ONNX Runtime.
//
// Runtime requirements:
//   - CGO must be enabled (CGO_ENABLED=1)
//   - libonnxruntime must be reachable via ONNXRUNTIME_ROOT or
//     LD_LIBRARY_PATH
type onnxBackend struct {
	initOnce sync.Once
	initErr  error

	mu       sync.Mutex
	sessions map[string]*onnxSession
}

func (b *onnxBackend) Name() string {
	return "onnxruntime"
}

// Compile loads the ONNX artifact at path, caching the session so repeated
// compiles of the same artifact are free.
func (b *onnxBackend) Compile(path string) (Session, error) {
	if err := b.initialize(); err != nil {
		return nil, errdefs.Resourcef("initializing ONNX Runtime: %v", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if sess, ok := b.sessions[abs]; ok {
		return sess, nil
	}

	inputs, outputs, err := ort.GetInputOutputInfo(abs)
	if err != nil {
		return nil, errdefs.Resourcef("inspecting %s: %v", abs, err)
	}

	inputNames := make([]string, len(inputs))
	for i, info := range inputs {
		inputNames[i] = info.Name
	}
	outputNames := make([]string, len(outputs))
	for i, info := range outputs {
		outputNames[i] = info.Name
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errdefs.Resourcef("creating session options: %v", err)
	}
	raw, err := ort.NewDynamicAdvancedSession(abs, inputNames, outputNames, opts)
	if err != nil {
		opts.Destroy()
		return nil, errdefs.Resourcef("creating ONNX session for %s: %v", abs, err)
	}

	sess := &onnxSession{
		raw:         raw,
		opts:        opts,
		inputNames:  inputNames,
		outputNames: outputNames,
	}
	b.sessions[abs] = sess
	return sess, nil
}

func (b *onnxBackend) initialize() error {
	b.initOnce.Do(func() {
		if libDir := onnxLibraryDir(); libDir != "" {
			ort.SetSharedLibraryPath(filepath.Join(libDir, onnxLibraryName()))
		}
		b.initErr = ort.InitializeEnvironment()
	})
	return b.initErr
}

// onnxLibraryDir returns the directory containing the ONNX Runtime shared
// library, checking ONNXRUNTIME_ROOT then LD_LIBRARY_PATH.
func onnxLibraryDir() string {
	name := onnxLibraryName()
	if root := os.Getenv("ONNXRUNTIME_ROOT"); root != "" {
		platformDir := filepath.Join(root, runtime.GOOS+"-"+runtime.GOARCH, "lib")
		if _, err := os.Stat(filepath.Join(platformDir, name)); err == nil {
			return platformDir
		}
		directDir := filepath.Join(root, "lib")
		if _, err := os.Stat(filepath.Join(directDir, name)); err == nil {
			return directDir
		}
	}
	for _, dir := range filepath.SplitList(os.Getenv("LD_LIBRARY_PATH")) {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return dir
		}
	}
	return ""
}

func onnxLibraryName() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// onnxSession adapts an ONNX Runtime session to the Session interface.
type onnxSession struct {
	mu          sync.Mutex
	raw         *ort.DynamicAdvancedSession
	opts        *ort.SessionOptions
	inputNames  []string
	outputNames []string
}

func (s *onnxSession) Predict(ctx context.Context, inputs map[string]Tensor) (map[string]Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, errdefs.Cancelledf("%v", err)
	}

	values := make([]ort.Value, len(s.inputNames))
	defer func() {
		for _, v := range values {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	for i, name := range s.inputNames {
		t, ok := inputs[name]
		if !ok {
			return nil, errdefs.InvalidInputf("missing input tensor %q", name)
		}
		v, err := toOrtValue(t)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		values[i] = v
	}

	outputs := make([]ort.Value, len(s.outputNames))

	s.mu.Lock()
	err := s.raw.Run(values, outputs)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("running ONNX session: %w", err)
	}
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	result := make(map[string]Tensor, len(outputs))
	for i, v := range outputs {
		t, err := fromOrtValue(v)
		if err != nil {
			return nil, errdefs.InvalidOutputf("output %q: %v", s.outputNames[i], err)
		}
		result[s.outputNames[i]] = t
	}
	return result, nil
}

func (s *onnxSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raw != nil {
		s.raw.Destroy()
		s.raw = nil
	}
	if s.opts != nil {
		s.opts.Destroy()
		s.opts = nil
	}
	return nil
}

func toOrtValue(t Tensor) (ort.Value, error) {
	shape := ort.NewShape(t.Shape...)
	switch data := t.Data.(type) {
	case []float32:
		return ort.NewTensor(shape, data)
	case []int32:
		return ort.NewTensor(shape, data)
	default:
		return nil, fmt.Errorf("unsupported tensor payload %T", t.Data)
	}
}

func fromOrtValue(v ort.Value) (Tensor, error) {
	switch tensor := v.(type) {
	case *ort.Tensor[float32]:
		shape := tensor.GetShape()
		data := make([]float32, len(tensor.GetData()))
		copy(data, tensor.GetData())
		return Tensor{Shape: append([]int64(nil), shape...), Data: data}, nil
	case *ort.Tensor[uint16]:
		// float16 payload; adapters widen on read.
		shape := tensor.GetShape()
		data := make([]uint16, len(tensor.GetData()))
		copy(data, tensor.GetData())
		return Tensor{Shape: append([]int64(nil), shape...), Data: data}, nil
	case *ort.Tensor[int32]:
		shape := tensor.GetShape()
		data := make([]int32, len(tensor.GetData()))
		copy(data, tensor.GetData())
		return Tensor{Shape: append([]int64(nil), shape...), Data: data}, nil
	default:
		return Tensor{}, fmt.Errorf("unsupported output value %T", v)
	}
}
