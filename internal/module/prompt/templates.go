package prompt

import (
	"fmt"
	"sort"
	"strings"
)

// CharacterInput is one user-supplied character before profile generation.
type CharacterInput struct {
	Name   string `json:"name"`
	Traits string `json:"traits"`
}

// CharacterProfile is the generated design sheet for one character.
type CharacterProfile struct {
	Name          string   `json:"name"`
	Appearance    string   `json:"appearance"`
	Outfit        string   `json:"outfit"`
	Personality   string   `json:"personality"`
	VisualMarkers string   `json:"visual_markers"`
	ColorPalette  []string `json:"color_palette"`
}

// SceneContext is the scene information verification prompts need.
type SceneContext struct {
	Description       string
	Setting           string
	Mood              string
	VisualElements    []string
	CharactersPresent []string
}

var styleGuides = map[string]string{
	"shoujo":     "sparkles and flowers in background, soft lighting, pastel colors, large expressive eyes, delicate linework, romantic atmosphere",
	"shounen":    "dynamic action pose, bold lines, dramatic lighting with strong shadows, intense expressions, energy effects, vibrant colors",
	"seinen":     "realistic proportions, detailed backgrounds, sophisticated color palette, mature atmosphere, subtle shading",
	"josei":      "elegant character designs, natural proportions, refined color choices, realistic emotional expressions",
	"kodomomuke": "bright cheerful colors, simple rounded designs, wholesome atmosphere, clear expressions",
	"isekai":     "fantasy elements, magical atmosphere, RPG-style details, adventurous composition",
}

// StyleGuide returns the style enhancement line for an anime style tag.
func StyleGuide(style string) string {
	if g, ok := styleGuides[strings.ToLower(style)]; ok {
		return g
	}
	return "high-quality anime art, detailed character designs"
}

// CompleteStory builds the single prompt that produces character profiles,
// the full script and the ordered scene list in one model call.
func CompleteStory(outline string, characters []CharacterInput, style string, sceneCount int, comicMode bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Generate a complete anime story with all details in a single structured response.\n\n")
	fmt.Fprintf(&b, "STORY OUTLINE: %s\n\nCHARACTERS:\n", outline)
	for _, c := range characters {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Traits)
	}
	fmt.Fprintf(&b, "\nSTYLE: %s\nNUMBER OF SCENES: %d\n", style, sceneCount)

	if comicMode {
		b.WriteString(`
COMIC MODE ENABLED - TEXT IN IMAGES:
For each scene's image_prompt, include specific instructions for speech
bubble placement with exact dialogue text, sound effects with positioning,
caption boxes for narration, bold readable lettering with high contrast,
and clear bubble tails pointing to speakers.
`)
	}

	fmt.Fprintf(&b, `
Generate the following in ONE response:

1. CHARACTER PROFILES: appearance (hair, eyes, height, build), outfit with
   specific colors, personality, visual markers, color palette (3 colors).

2. FULL SCRIPT: complete anime script with scene descriptions, character
   actions, emotions and dialogue, in %[1]s style.

3. KEY SCENES: extract exactly %[2]d visually impactful scenes. For EACH
   scene provide:
   - Scene ID (scene_1, scene_2, etc.)
   - Description: ONE SENTENCE story narrative for viewers (15 words max).
     This is viewer text, never technical detail.
   - Characters present
   - Setting/location (brief)
   - Mood/atmosphere
   - Visual elements
   - Dialogue (if any, character name + line)
   - image_prompt: a COMPLETE technical prompt ready for the image API,
     with all character details, pose, setting, lighting and %[1]s style
     specifications. Viewers never see this field.
   - negative_prompt: artifacts to avoid.

CHARACTER CONSISTENCY (CRITICAL): use IDENTICAL character descriptions with
exact color codes in ALL %[2]d image_prompts, repeating outfit details
verbatim in every scene.

Output MUST be valid JSON in this EXACT format:
{
  "characters": {
    "character_name": {
      "name": "Full Name",
      "appearance": "detailed description",
      "outfit": "detailed outfit",
      "personality": "personality traits",
      "visual_markers": "unique features",
      "color_palette": ["#color1", "#color2", "#color3"]
    }
  },
  "script": "Full script text with scenes and dialogue...",
  "scenes": [
    {
      "id": "scene_1",
      "description": "One sentence viewer narrative",
      "characters_present": ["Character1"],
      "setting": "Brief location name",
      "mood": "Emotional atmosphere",
      "visual_elements": ["element1", "element2"],
      "dialogue": "Character Name: Their dialogue line",
      "image_prompt": "complete detailed technical prompt",
      "negative_prompt": "blurry, low quality, deformed, bad anatomy, extra limbs, watermark"
    }
  ]
}
`, style, sceneCount)

	return b.String()
}

// Verification builds the vision prompt used to score a generated image
// against its scene and character descriptions.
func Verification(scene SceneContext, descriptions string) string {
	var b strings.Builder

	b.WriteString("Analyze this anime image and verify it matches the requirements.\n\n")
	fmt.Fprintf(&b, "EXPECTED SCENE:\nDescription: %s\nSetting: %s\nMood: %s\nVisual Elements: %s\n\n",
		scene.Description, scene.Setting, scene.Mood, strings.Join(scene.VisualElements, ", "))
	fmt.Fprintf(&b, "EXPECTED CHARACTERS:\n%s\n", descriptions)

	b.WriteString(`
STRICT EVALUATION CRITERIA:
1. CHARACTER CONSISTENCY (0-1): hair, eyes, outfit and proportions must
   match the described appearance exactly. Score 0.9+ only for a near
   perfect match.
2. SCENE ACCURACY (0-1): setting, actions, mood and visual elements must
   match the description precisely.
3. QUALITY (0-1): professional anime production standard, clean linework,
   proper anatomy, no artifacts.
4. List ALL issues found, even minor ones.
5. Provide specific, actionable suggestions.

Output MUST be valid JSON:
{
  "passed": true or false,
  "character_consistency_score": 0.0 to 1.0,
  "scene_accuracy_score": 0.0 to 1.0,
  "quality_score": 0.0 to 1.0,
  "issues": ["list of issues found"],
  "suggestions": "specific improvements needed"
}

Be thorough and honest; only pass images acceptable in a published anime.
`)

	return b.String()
}

// StoryIdea builds the prompt for the idea generator endpoint.
func StoryIdea(genre, tone, complexity string) string {
	type band struct{ chars, scenes string }
	bands := map[string]band{
		"simple":   {"2-3", "3-4"},
		"standard": {"3-4", "5-6"},
		"epic":     {"4-5", "7-8"},
	}
	b, ok := bands[complexity]
	if !ok {
		b = bands["standard"]
	}

	tones := map[string]string{
		"light":    "lighthearted, fun, upbeat with positive vibes",
		"balanced": "balanced mix of light and serious moments",
		"dark":     "dark, serious, intense with dramatic stakes",
	}
	toneDesc, ok := tones[tone]
	if !ok {
		toneDesc = tones["balanced"]
	}

	return fmt.Sprintf(`Generate a creative anime story idea in the %[1]s genre with a %[2]s tone.

Requirements:
1. Story outline: 2-3 sentences with an engaging hook fitting the genre and tone.
2. Characters: %[3]s unique characters with distinct personalities and traits.
3. Style: the most fitting anime style (shoujo, shounen, seinen, slice-of-life, fantasy, sci-fi).
4. Scene count: %[4]s scenes.

Output MUST be valid JSON in this exact format:
{
  "outline": "A compelling 2-3 sentence story premise",
  "characters": [
    {"name": "Character Name", "traits": "personality, appearance, abilities"}
  ],
  "style": "one of the available styles",
  "scenes": 5
}
`, genre, toneDesc, b.chars, b.scenes)
}

// CharacterDescriptions renders the flat description block for the named
// characters, used in verification prompts. Results are memoized in cache
// when one is supplied, keyed by the requested names and profile set.
func CharacterDescriptions(names []string, profiles map[string]CharacterProfile, cache *DescriptionCache) string {
	if cache != nil {
		if cached, ok := cache.Get(names, profiles); ok {
			return cached
		}
	}

	lines := make([]string, 0, len(names))
	for _, name := range names {
		char, ok := profiles[name]
		if !ok {
			lines = append(lines, fmt.Sprintf("%s: (character details not found)", name))
			continue
		}
		desc := fmt.Sprintf("%s: %s, wearing %s", name, char.Appearance, char.Outfit)
		if char.VisualMarkers != "" {
			desc += ", distinctive features: " + char.VisualMarkers
		}
		lines = append(lines, desc)
	}
	out := strings.Join(lines, "\n")

	if cache != nil {
		cache.Set(names, profiles, out)
	}
	return out
}

// descriptionKey builds a deterministic cache key from the requested
// characters and the profile set they resolve against.
func descriptionKey(names []string, profiles map[string]CharacterProfile) string {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	parts := make([]string, 0, len(sorted)+1)
	parts = append(parts, strings.Join(sorted, ","))
	for _, name := range sorted {
		if p, ok := profiles[name]; ok {
			parts = append(parts, name+":"+p.Appearance+":"+p.Outfit)
		}
	}
	return strings.Join(parts, "|")
}
