package translator

import (
	"context"
	"fmt"
)

// SimpleTranslator is the development fallback used when no translation API is
// configured. It tags the text with the target language and always detects "en".
type SimpleTranslator struct{}

func NewSimpleTranslator() *SimpleTranslator {
	return &SimpleTranslator{}
}

func (SimpleTranslator) Translate(ctx context.Context, text, target, source string) (string, error) {
	return fmt.Sprintf("[%s] %s", target, text), nil
}

func (SimpleTranslator) DetectLanguage(ctx context.Context, text string) (string, error) {
	return "en", nil
}
