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

// Package errdefs defines the error kinds surfaced by the GLiNER2 runtime.
// Every failure is classified as one of these sentinels so callers can
// branch with errors.Is without depending on message text.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrResource indicates a missing or unreadable model resource:
	// manifest, artifact path, tokenizer directory, or a special token
	// absent from the vocabulary.
	ErrResource = errors.New("resource error")

	// ErrTokenizer indicates a tokenizer-level failure: unsupported model
	// type, invalid max length, unknown special token at encode time, or
	// an encoded sequence exceeding the configured capacity.
	ErrTokenizer = errors.New("tokenizer error")

	// ErrEncoding indicates a mismatch between pipeline stages: sequence
	// length, hidden size, mask length, a word with no subword mapping, or
	// a prompt location with an empty or out-of-range subword span.
	ErrEncoding = errors.New("encoding error")

	// ErrInvalidInput indicates caller input the pipeline cannot accept,
	// such as a label count exceeding the schema capacity.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidOutput indicates a backend output tensor of unexpected
	// rank, dtype, or name.
	ErrInvalidOutput = errors.New("invalid output")

	// ErrCancelled indicates cooperative cancellation between stages.
	ErrCancelled = errors.New("cancelled")
)

// Resourcef wraps ErrResource with a formatted message.
func Resourcef(format string, args ...any) error {
	return wrapf(ErrResource, format, args...)
}

// Tokenizerf wraps ErrTokenizer with a formatted message.
func Tokenizerf(format string, args ...any) error {
	return wrapf(ErrTokenizer, format, args...)
}

// Encodingf wraps ErrEncoding with a formatted message.
func Encodingf(format string, args ...any) error {
	return wrapf(ErrEncoding, format, args...)
}

// InvalidInputf wraps ErrInvalidInput with a formatted message.
func InvalidInputf(format string, args ...any) error {
	return wrapf(ErrInvalidInput, format, args...)
}

// InvalidOutputf wraps ErrInvalidOutput with a formatted message.
func InvalidOutputf(format string, args ...any) error {
	return wrapf(ErrInvalidOutput, format, args...)
}

// Cancelledf wraps ErrCancelled with a formatted message.
func Cancelledf(format string, args ...any) error {
	return wrapf(ErrCancelled, format, args...)
}

func wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Stage wraps err with the name of the pipeline stage that produced it.
// The underlying kind is preserved for errors.Is.
func Stage(stage string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", stage, err)
}
