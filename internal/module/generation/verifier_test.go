package generation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animemaker/server/internal/module/prompt"
	"github.com/animemaker/server/internal/shared/logger"
)

func generatedScenes(n int) []GeneratedScene {
	out := make([]GeneratedScene, n)
	for i := range out {
		out[i] = GeneratedScene{
			SceneID:     fmt.Sprintf("scene_%d", i+1),
			ImageURL:    fmt.Sprintf("/generated/scene_%d.png", i+1),
			ImageData:   pngData,
			Description: fmt.Sprintf("scene %d", i+1),
			Setting:     "rooftop",
			Attempts:    1,
		}
	}
	return out
}

func testCharacters() map[string]prompt.CharacterProfile {
	return map[string]prompt.CharacterProfile{
		"Yuki": {Name: "Yuki", Appearance: "silver hair", Outfit: "uniform"},
	}
}

func newTestVerifier(client *fakeClient, itemTimeout, batchTimeout time.Duration) *Verifier {
	cache := prompt.NewDescriptionCache(10, time.Minute)
	return NewVerifier(client, cache, itemTimeout, batchTimeout, logger.Nop(), nil)
}

func TestVerifierAttachesResults(t *testing.T) {
	client := &fakeClient{
		analyzeFn: func(ctx context.Context, apiKey, model, p, imageData string) (string, error) {
			return verificationJSON(0.9, 0.8, 0.85), nil
		},
	}
	v := newTestVerifier(client, time.Second, 5*time.Second)

	scenes := makeScenes(3)
	generated := generatedScenes(3)
	v.Run(context.Background(), "key", "model", generated, scenes, testCharacters(), VerifyThreshold, nil)

	for i := range generated {
		require.NotNil(t, generated[i].Verification, "scene %d", i)
		assert.True(t, generated[i].Verification.Passed)
		assert.InDelta(t, 0.85, generated[i].Verification.Score(), 0.001)
	}
}

// The vision call must receive the raw data URL. The stored URL is often
// a relative path a remote model cannot fetch.
func TestVerifierSendsRawImageData(t *testing.T) {
	var mu sync.Mutex
	var payloads []string
	client := &fakeClient{
		analyzeFn: func(ctx context.Context, apiKey, model, p, imageData string) (string, error) {
			mu.Lock()
			payloads = append(payloads, imageData)
			mu.Unlock()
			return verificationJSON(0.9, 0.9, 0.9), nil
		},
	}
	v := newTestVerifier(client, time.Second, 5*time.Second)

	generated := generatedScenes(2)
	v.Run(context.Background(), "key", "model", generated, makeScenes(2), testCharacters(), VerifyThreshold, nil)

	require.Len(t, payloads, 2)
	for _, p := range payloads {
		assert.Equal(t, pngData, p)
		assert.True(t, strings.HasPrefix(p, "data:image/"))
	}
}

// Scenes built without the raw payload still verify against whatever the
// ImageURL holds.
func TestVerifierFallsBackToImageURL(t *testing.T) {
	var got string
	client := &fakeClient{
		analyzeFn: func(ctx context.Context, apiKey, model, p, imageData string) (string, error) {
			got = imageData
			return verificationJSON(0.9, 0.9, 0.9), nil
		},
	}
	v := newTestVerifier(client, time.Second, 5*time.Second)

	generated := generatedScenes(1)
	generated[0].ImageData = ""
	v.Run(context.Background(), "key", "model", generated, makeScenes(1), testCharacters(), VerifyThreshold, nil)
	assert.Equal(t, generated[0].ImageURL, got)
}

func TestVerifierThreshold(t *testing.T) {
	// average 0.80: passes the default threshold, fails the strict one
	client := &fakeClient{
		analyzeFn: func(ctx context.Context, apiKey, model, p, imageData string) (string, error) {
			return verificationJSON(0.80, 0.80, 0.80), nil
		},
	}

	v := newTestVerifier(client, time.Second, 5*time.Second)
	generated := generatedScenes(1)
	v.Run(context.Background(), "key", "model", generated, makeScenes(1), testCharacters(), VerifyThreshold, nil)
	require.NotNil(t, generated[0].Verification)
	assert.True(t, generated[0].Verification.Passed)

	generated = generatedScenes(1)
	v.Run(context.Background(), "key", "model", generated, makeScenes(1), testCharacters(), VerifyThresholdStrict, nil)
	require.NotNil(t, generated[0].Verification)
	assert.False(t, generated[0].Verification.Passed)
}

func TestVerifierSkipsScenesWithoutImage(t *testing.T) {
	calls := 0
	client := &fakeClient{
		analyzeFn: func(ctx context.Context, apiKey, model, p, imageData string) (string, error) {
			calls++
			return verificationJSON(0.9, 0.9, 0.9), nil
		},
	}
	v := newTestVerifier(client, time.Second, 5*time.Second)

	generated := generatedScenes(2)
	generated[0].ImageURL = ""
	generated[0].Error = "all attempts failed"

	v.Run(context.Background(), "key", "model", generated, makeScenes(2), testCharacters(), VerifyThreshold, nil)
	assert.Nil(t, generated[0].Verification)
	assert.NotNil(t, generated[1].Verification)
	assert.Equal(t, 1, calls)
}

func TestVerifierItemTimeout(t *testing.T) {
	client := &fakeClient{
		analyzeFn: func(ctx context.Context, apiKey, model, p, imageData string) (string, error) {
			if strings.Contains(p, "scene 1") {
				time.Sleep(500 * time.Millisecond)
			}
			return verificationJSON(0.9, 0.9, 0.9), nil
		},
	}
	v := newTestVerifier(client, 50*time.Millisecond, 5*time.Second)

	generated := generatedScenes(2)
	start := time.Now()
	v.Run(context.Background(), "key", "model", generated, makeScenes(2), testCharacters(), VerifyThreshold, nil)

	assert.Nil(t, generated[0].Verification)
	assert.NotNil(t, generated[1].Verification)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestVerifierBatchTimeout(t *testing.T) {
	client := &fakeClient{
		analyzeFn: func(ctx context.Context, apiKey, model, p, imageData string) (string, error) {
			if strings.Contains(p, "scene 1") {
				return verificationJSON(0.9, 0.9, 0.9), nil
			}
			time.Sleep(2 * time.Second)
			return verificationJSON(0.9, 0.9, 0.9), nil
		},
	}
	// item timeout longer than batch timeout so the batch fires first
	v := newTestVerifier(client, 5*time.Second, 200*time.Millisecond)

	generated := generatedScenes(3)
	start := time.Now()
	v.Run(context.Background(), "key", "model", generated, makeScenes(3), testCharacters(), VerifyThreshold, nil)

	assert.Less(t, time.Since(start), time.Second)
	assert.NotNil(t, generated[0].Verification)
	assert.Nil(t, generated[1].Verification)
	assert.Nil(t, generated[2].Verification)
}

func TestVerifierToleratesErrorsAndBadJSON(t *testing.T) {
	client := &fakeClient{
		analyzeFn: func(ctx context.Context, apiKey, model, p, imageData string) (string, error) {
			switch {
			case strings.Contains(p, "scene 1"):
				return "", fmt.Errorf("vision model unavailable")
			case strings.Contains(p, "scene 2"):
				return "I cannot evaluate this image.", nil
			default:
				return verificationJSON(0.9, 0.9, 0.9), nil
			}
		},
	}
	v := newTestVerifier(client, time.Second, 5*time.Second)

	generated := generatedScenes(3)
	var settles []int
	v.Run(context.Background(), "key", "model", generated, makeScenes(3), testCharacters(), VerifyThreshold, func(done, total int) {
		assert.Equal(t, 3, total)
		settles = append(settles, done)
	})

	assert.Nil(t, generated[0].Verification)
	assert.Nil(t, generated[1].Verification)
	assert.NotNil(t, generated[2].Verification)
	assert.Equal(t, []int{1, 2, 3}, settles)
}
