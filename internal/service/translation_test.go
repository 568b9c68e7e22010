package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"unitalk/internal/cache"
	"unitalk/internal/model"
)

type failingCache struct{}

func (failingCache) GetMany(ctx context.Context, hash string, langs []string) (map[string]string, error) {
	return nil, errors.New("redis down")
}

func (failingCache) SetMany(ctx context.Context, hash string, translations map[string]string) error {
	return errors.New("redis down")
}

func targetsOf(calls []translateCall) []string {
	var out []string
	for _, c := range calls {
		out = append(out, c.Target)
	}
	sort.Strings(out)
	return out
}

func TestTranslation_RemovesSourceAndDuplicates(t *testing.T) {
	engine := &mockTranslator{}
	svc := NewTranslationService(engine, nil, 2, nil, zap.NewNop())

	result := svc.TranslateForTargets(context.Background(), "안녕", "KO", []string{"en", "EN", "ko", "ja", "", "not a tag!"})

	assert.Equal(t, model.TranslationMap{"en": "[en] 안녕", "ja": "[ja] 안녕"}, result)
	assert.Equal(t, []string{"en", "ja"}, targetsOf(engine.calls()))
	for _, c := range engine.calls() {
		assert.Equal(t, "ko", c.Source)
	}
}

func TestTranslation_OnlySourceLanguage(t *testing.T) {
	engine := &mockTranslator{}
	svc := NewTranslationService(engine, nil, 2, nil, zap.NewNop())

	result := svc.TranslateForTargets(context.Background(), "hello", "en", []string{"en"})
	assert.Empty(t, result)
	assert.Empty(t, engine.calls())
}

func TestTranslation_UsesCache(t *testing.T) {
	engine := &mockTranslator{}
	svc := NewTranslationService(engine, cache.NewMemoryTranslationCache(0), 2, nil, zap.NewNop())
	ctx := context.Background()

	first := svc.TranslateForTargets(ctx, "hello", "en", []string{"ko", "ja"})
	second := svc.TranslateForTargets(ctx, "hello", "en", []string{"ko", "ja", "fr"})

	assert.Equal(t, first["ko"], second["ko"])
	assert.Equal(t, "[fr] hello", second["fr"])
	assert.Equal(t, []string{"fr", "ja", "ko"}, targetsOf(engine.calls()), "cached languages are not requested again")
}

func TestTranslation_CacheFailureFallsThrough(t *testing.T) {
	engine := &mockTranslator{}
	svc := NewTranslationService(engine, failingCache{}, 2, nil, zap.NewNop())

	result := svc.TranslateForTargets(context.Background(), "hello", "en", []string{"ko"})
	assert.Equal(t, model.TranslationMap{"ko": "[ko] hello"}, result)
}

func TestTranslation_EmptyResultIsOmitted(t *testing.T) {
	engine := &mockTranslator{
		translateFn: func(ctx context.Context, text, target, source string) (string, error) {
			if target == "ko" {
				return "  ", nil
			}
			return "ok", nil
		},
	}
	svc := NewTranslationService(engine, nil, 2, nil, zap.NewNop())

	result := svc.TranslateForTargets(context.Background(), "hello", "en", []string{"ko", "ja"})
	assert.Equal(t, model.TranslationMap{"ja": "ok"}, result)
}

func TestTranslation_SharedRequestSurvivesCancelledCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	engine := &mockTranslator{
		translateFn: func(ctx context.Context, text, target, source string) (string, error) {
			once.Do(func() { close(started) })
			select {
			case <-release:
				return "[" + target + "] " + text, nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}
	svc := NewTranslationService(engine, nil, 2, nil, zap.NewNop())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan model.TranslationMap, 1)
	go func() { firstDone <- svc.TranslateForTargets(firstCtx, "hello", "en", []string{"ja"}) }()
	<-started

	secondDone := make(chan model.TranslationMap, 1)
	go func() { secondDone <- svc.TranslateForTargets(context.Background(), "hello", "en", []string{"ja"}) }()
	time.Sleep(50 * time.Millisecond) // let the second caller join the in-flight request

	cancelFirst()
	assert.Empty(t, <-firstDone)

	close(release)
	select {
	case got := <-secondDone:
		assert.Equal(t, model.TranslationMap{"ja": "[ja] hello"}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never finished")
	}
	assert.Len(t, engine.calls(), 1)
}

func TestTranslation_Detect(t *testing.T) {
	engine := &mockTranslator{detectFn: detectAs("EN")}
	svc := NewTranslationService(engine, nil, 0, nil, zap.NewNop())
	assert.Equal(t, "en", svc.Detect(context.Background(), "hello"))

	engine.detectFn = nil
	assert.Equal(t, "", svc.Detect(context.Background(), "hello"))
}

func TestCanonicalLanguage(t *testing.T) {
	tests := map[string]string{
		"en":      "en",
		"EN":      "en",
		" ko ":    "ko",
		"zh_Hant": "zh-Hant",
		"":        "",
		"???":     "",
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalLanguage(in), "input %q", in)
	}
}

func TestDirectTargets(t *testing.T) {
	user := func(lang string) *model.User { return &model.User{LanguageCode: lang} }

	tests := []struct {
		name      string
		source    string
		sender    string
		recipient string
		want      []string
	}{
		{"same language", "en", "en", "en", []string{"en"}},
		{"recipient reads source", "en", "ko", "en", []string{"en"}},
		{"sender writes own language", "ko", "ko", "en", []string{"en", "ko"}},
		{"sender writes foreign language", "en", "ko", "ja", []string{"ja", "ko"}},
		{"unknown source", "", "ko", "en", []string{"en", "ko"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DirectTargets(tt.source, user(tt.sender), user(tt.recipient)))
		})
	}
}

func TestGroupTargets(t *testing.T) {
	members := []model.GroupMember{
		{UserID: "a", LanguageCode: strPtr("ko")},
		{UserID: "b", LanguageCode: strPtr("en")},
		{UserID: "c", LanguageCode: strPtr("EN")},
		{UserID: "d", LanguageCode: strPtr("ja")},
		{UserID: "e"},
	}
	assert.Equal(t, []string{"ko", "en", "ja"}, GroupTargets(members))
}
