package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"unitalk/internal/cache"
	"unitalk/internal/metrics"
	"unitalk/internal/model"
	"unitalk/internal/translator"
)

// DefaultTranslationConcurrency bounds parallel engine requests per fanout.
const DefaultTranslationConcurrency = 4

// translateTimeout bounds one shared engine request.
const translateTimeout = 20 * time.Second

// TranslationService fans one text out to several target languages.
// Failed languages are omitted from the result, never returned as errors.
type TranslationService struct {
	engine      translator.Translator
	cache       cache.TranslationCache // nil disables caching
	concurrency int
	flight      singleflight.Group
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewTranslationService(engine translator.Translator, c cache.TranslationCache, concurrency int, m *metrics.Metrics, logger *zap.Logger) *TranslationService {
	if concurrency <= 0 {
		concurrency = DefaultTranslationConcurrency
	}
	return &TranslationService{
		engine:      engine,
		cache:       c,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger.Named("translation"),
	}
}

// CanonicalLanguage normalizes a language tag ("EN" -> "en", "zh_hant" -> "zh-Hant").
// It returns "" for empty or unparseable tags.
func CanonicalLanguage(tag string) string {
	tag = strings.TrimSpace(strings.ReplaceAll(tag, "_", "-"))
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return ""
	}
	return t.String()
}

// TranslateForTargets returns text translated into every target except the
// source language. The result never holds the source language key.
func (s *TranslationService) TranslateForTargets(ctx context.Context, text, sourceLang string, targets []string) model.TranslationMap {
	result := model.TranslationMap{}
	if strings.TrimSpace(text) == "" {
		return result
	}

	source := CanonicalLanguage(sourceLang)
	langs := s.normalizeTargets(source, targets)
	if len(langs) == 0 {
		return result
	}

	hash := cache.ContentHash(text)
	missing := langs
	if s.cache != nil {
		cached, err := s.cache.GetMany(ctx, hash, langs)
		if err != nil {
			s.logger.Warn("Cache read FAILED, translating directly", zap.Error(err))
		}
		missing = missing[:0:0]
		for _, lang := range langs {
			if t, ok := cached[lang]; ok && t != "" {
				result[lang] = t
				s.metrics.Translation(metrics.OutcomeCached)
				continue
			}
			missing = append(missing, lang)
		}
	}
	if len(missing) == 0 {
		return result
	}

	var mu sync.Mutex
	fresh := make(map[string]string, len(missing))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, lang := range missing {
		g.Go(func() error {
			translated, err := s.translateOne(gctx, hash, text, lang, source)
			if err != nil {
				s.absorbTranslationFailure(lang, err)
				return nil
			}
			mu.Lock()
			fresh[lang] = translated
			mu.Unlock()
			s.metrics.Translation(metrics.OutcomeOK)
			return nil
		})
	}
	_ = g.Wait()

	for lang, t := range fresh {
		result[lang] = t
	}
	if s.cache != nil && len(fresh) > 0 {
		if err := s.cache.SetMany(ctx, hash, fresh); err != nil {
			s.logger.Warn("Cache write FAILED", zap.Error(err))
		}
	}

	s.logger.Debug("TranslateForTargets OK",
		zap.String("source", source),
		zap.Strings("targets", langs),
		zap.Int("translated", len(result)))
	return result
}

// translateOne collapses identical in-flight requests. The shared call runs
// detached from any one caller, so a caller that gives up does not fail the
// others waiting on the same key.
func (s *TranslationService) translateOne(ctx context.Context, hash, text, target, source string) (string, error) {
	ch := s.flight.DoChan(hash+"|"+source+"|"+target, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), translateTimeout)
		defer cancel()

		t, err := s.engine.Translate(callCtx, text, target, source)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(t) == "" {
			return "", translator.ErrEmptyResult
		}
		return t, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *TranslationService) absorbTranslationFailure(lang string, err error) {
	s.metrics.Translation(metrics.OutcomeFailed)
	s.logger.Warn("Translate FAILED, language omitted", zap.String("target", lang), zap.Error(err))
}

func (s *TranslationService) normalizeTargets(source string, targets []string) []string {
	seen := make(map[string]struct{}, len(targets))
	langs := make([]string, 0, len(targets))
	for _, t := range targets {
		lang := CanonicalLanguage(t)
		if lang == "" || lang == source {
			continue
		}
		if _, dup := seen[lang]; dup {
			continue
		}
		seen[lang] = struct{}{}
		langs = append(langs, lang)
	}
	return langs
}

// Detect returns the language of text, or "" when detection fails.
func (s *TranslationService) Detect(ctx context.Context, text string) string {
	lang, err := s.engine.DetectLanguage(ctx, text)
	if err != nil {
		s.logger.Warn("DetectLanguage FAILED", zap.Error(err))
		return ""
	}
	return CanonicalLanguage(lang)
}

// DirectTargets returns the languages a direct message is translated into:
// the recipient's language, plus the sender's own language when the sender
// and recipient differ and the recipient does not already read the source.
func DirectTargets(sourceLang string, sender, recipient *model.User) []string {
	source := CanonicalLanguage(sourceLang)
	recipientLang := CanonicalLanguage(recipient.LanguageCode)
	senderLang := CanonicalLanguage(sender.LanguageCode)

	targets := []string{}
	if recipientLang != "" {
		targets = append(targets, recipientLang)
	}
	if senderLang != "" && senderLang != recipientLang && recipientLang != source {
		targets = append(targets, senderLang)
	}
	return targets
}

// GroupTargets returns the distinct member languages.
func GroupTargets(members []model.GroupMember) []string {
	seen := make(map[string]struct{}, len(members))
	var targets []string
	for _, m := range members {
		if m.LanguageCode == nil {
			continue
		}
		lang := CanonicalLanguage(*m.LanguageCode)
		if lang == "" {
			continue
		}
		if _, dup := seen[lang]; dup {
			continue
		}
		seen[lang] = struct{}{}
		targets = append(targets, lang)
	}
	return targets
}
