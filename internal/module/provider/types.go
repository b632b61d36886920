package provider

// ImageResult is the outcome of a single image generation call.
// A failed call is reported through Success/Error rather than a Go error
// when the provider answered with a structured failure; transport and
// decoding problems surface as errors from the client method instead.
// Callers must handle both.
type ImageResult struct {
	Success   bool   `json:"success"`
	ImageData string `json:"image_data,omitempty"` // base64 data URL
	Error     string `json:"error,omitempty"`
}

// Model describes one entry of the provider's model catalog.
type Model struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Pricing       ModelPricing  `json:"pricing"`
	ContextLength int           `json:"context_length"`
	Architecture  *Architecture `json:"architecture,omitempty"`
}

// ModelPricing carries the provider's per-token price strings.
type ModelPricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
	Image      string `json:"image,omitempty"`
	Request    string `json:"request,omitempty"`
}

// Architecture describes a model's modality.
type Architecture struct {
	Modality     string `json:"modality,omitempty"`
	Tokenizer    string `json:"tokenizer,omitempty"`
	InstructType string `json:"instruct_type,omitempty"`
}

// Selection carries caller-chosen model identifiers. Zero values fall back
// to the configured defaults.
type Selection struct {
	TextModel         string `json:"textModel"`
	ImageModel        string `json:"imageModel"`
	VerificationModel string `json:"verificationModel"`
}

// chat completion wire types (OpenRouter-compatible)

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Modalities  []string      `json:"modalities,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Images  []struct {
				ImageURL imageURL `json:"image_url"`
			} `json:"images,omitempty"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Code    any    `json:"code,omitempty"`
}

type modelsResponse struct {
	Data []Model `json:"data"`
}
