// Package translator wraps the machine translation engines.
package translator

import (
	"context"
	"errors"
)

// ErrEmptyResult is returned when an engine answers with no text.
var ErrEmptyResult = errors.New("translator returned an empty result")

// Translator translates text and detects its language.
// An empty source lets the engine infer the source language.
type Translator interface {
	Translate(ctx context.Context, text, target, source string) (string, error)
	DetectLanguage(ctx context.Context, text string) (string, error)
}
