package ai

import "strings"

// Txt2ImgRequest is the body of the Stable Diffusion WebUI txt2img call.
type Txt2ImgRequest struct {
	Prompt            string         `json:"prompt"`
	NegativePrompt    string         `json:"negative_prompt"`
	Seed              int64          `json:"seed"`
	CfgScale          float64        `json:"cfg_scale"`
	Steps             int            `json:"steps"`
	DenoisingStrength float64        `json:"denoising_strength"`
	SamplerIndex      string         `json:"sampler_index"`
	Width             int            `json:"width"`
	Height            int            `json:"height"`
	RestoreFaces      bool           `json:"restore_faces"`
	OverrideSettings  map[string]any `json:"override_settings,omitempty"`
}

// Txt2ImgResponse carries base64 encoded PNG images.
type Txt2ImgResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
	Error  string   `json:"error"`
	Detail string   `json:"detail"`
}

type txt2imgOptions struct {
	model    string
	steps    int
	cfgScale float64
	sampler  string
}

func newTxt2ImgRequest(prompt, negative string, width, height int, opts txt2imgOptions) *Txt2ImgRequest {
	req := &Txt2ImgRequest{
		Prompt:            prompt,
		NegativePrompt:    negative,
		Seed:              -1,
		CfgScale:          opts.cfgScale,
		Steps:             opts.steps,
		DenoisingStrength: 0.5,
		SamplerIndex:      opts.sampler,
		Width:             width,
		Height:            height,
		RestoreFaces:      strings.Contains(prompt, "face"),
	}
	if opts.model != "" {
		req.OverrideSettings = map[string]any{"sd_model_checkpoint": opts.model}
	}
	return req
}
