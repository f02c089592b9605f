package api

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/KarimAziev/elfai/domain"
	"github.com/KarimAziev/elfai/openai"
)

// GenerateImages generates images from a prompt.
// POST /v1/images
func (h *Handler) GenerateImages(c echo.Context) error {
	ctx := c.Request().Context()

	if h.client == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "no provider configured"})
	}

	var req domain.ImageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Prompt == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "prompt is required"})
	}
	if req.Model == "" {
		req.Model = h.config.ImageModel
	}
	if req.N == 0 {
		req.N = 1
	}

	decision, _, err := h.policy.Evaluate(ctx, map[string]interface{}{
		"operation": "image",
		"model":     req.Model,
		"n":         req.N,
	})
	if err != nil {
		log.Printf("ERROR: policy evaluation failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "policy evaluation failed"})
	}
	if decision == "block" {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "request blocked by policy"})
	}

	resp, err := h.client.GenerateImages(ctx, &req)
	if err != nil {
		log.Printf("ERROR: image generation failed: %v", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, resp)
}

// DescribeImage runs an attached image through a vision-capable chat
// completion and returns the description.
// POST /v1/vision
func (h *Handler) DescribeImage(c echo.Context) error {
	ctx := c.Request().Context()

	if h.client == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "no provider configured"})
	}

	var req domain.VisionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ImageURL == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "image_url is required"})
	}
	if req.Prompt == "" {
		req.Prompt = "Describe this image."
	}
	model := req.Model
	if model == "" {
		model = h.config.VisionModel
	}

	decision, _, err := h.policy.Evaluate(ctx, map[string]interface{}{
		"operation": "vision",
		"model":     model,
		"image_url": req.ImageURL,
	})
	if err != nil {
		log.Printf("ERROR: policy evaluation failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "policy evaluation failed"})
	}
	if decision == "block" {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "attachment blocked by policy"})
	}

	resp, err := h.client.CreateChatCompletion(ctx, visionRequest(model, &req))
	if err != nil {
		log.Printf("ERROR: vision request failed: %v", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	description := ""
	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil {
		description = resp.Choices[0].Message.Content
	}

	return c.JSON(http.StatusOK, domain.VisionResponse{
		Description: description,
		Model:       resp.Model,
	})
}

// visionRequest builds the one-shot chat completion carrying the image.
func visionRequest(model string, req *domain.VisionRequest) *openai.ChatCompletionRequest {
	return &openai.ChatCompletionRequest{
		Model: model,
		Messages: domain.Conversation{
			{Role: domain.RoleSystem, Content: domain.Text("You describe images attached by the user.")},
			{Role: domain.RoleUser, Content: domain.ImageContent(req.Prompt, req.ImageURL)},
		},
	}
}

// ListModels lists the models available from the provider.
// GET /v1/models
func (h *Handler) ListModels(c echo.Context) error {
	ctx := c.Request().Context()

	if h.client == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "no provider configured"})
	}

	models, err := h.client.ListModels(ctx)
	if err != nil {
		log.Printf("ERROR: failed to list models: %v", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"models": models,
	})
}
