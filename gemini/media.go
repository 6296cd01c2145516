package gemini

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

const (
	imageModel = "gemini-2.5-flash-image"
	videoModel = "veo-3.1-fast-generate-preview"

	videoPollInterval = 5 * time.Second
)

// Image is a generated image: mime type plus raw bytes.
type Image struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Media provides the one-shot image and video generation cycle: submit a
// prompt, wait until ready, return a media handle.
type Media struct {
	client *genai.Client
}

func NewMedia(client *genai.Client) *Media {
	return &Media{client: client}
}

// GenerateImage produces a single image for the prompt. aspectRatio
// defaults to "1:1".
func (m *Media) GenerateImage(ctx context.Context, prompt, aspectRatio string) (*Image, error) {
	if aspectRatio == "" {
		aspectRatio = "1:1"
	}

	resp, err := m.client.Models.GenerateContent(ctx, imageModel, []*genai.Content{
		{Parts: []*genai.Part{{Text: prompt}}},
	}, &genai.GenerateContentConfig{
		ImageConfig: &genai.ImageConfig{AspectRatio: aspectRatio},
	})
	if err != nil {
		return nil, fmt.Errorf("image generation error: %w", err)
	}

	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &Image{
					MIMEType: part.InlineData.MIMEType,
					Data:     part.InlineData.Data,
				}, nil
			}
		}
	}
	return nil, fmt.Errorf("no image in response")
}

// GenerateVideo produces a single 720p video and returns its download
// URI. The long-running operation is polled until done; cancel the
// context to abandon it.
func (m *Media) GenerateVideo(ctx context.Context, prompt, aspectRatio string) (string, error) {
	if aspectRatio == "" {
		aspectRatio = "16:9"
	}

	op, err := m.client.Models.GenerateVideos(ctx, videoModel, prompt, nil, &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		Resolution:     "720p",
		AspectRatio:    aspectRatio,
	})
	if err != nil {
		return "", fmt.Errorf("video generation error: %w", err)
	}

	for !op.Done {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(videoPollInterval):
		}
		op, err = m.client.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return "", fmt.Errorf("video operation poll error: %w", err)
		}
	}

	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 ||
		op.Response.GeneratedVideos[0].Video == nil ||
		op.Response.GeneratedVideos[0].Video.URI == "" {
		return "", fmt.Errorf("video generation failed")
	}
	return op.Response.GeneratedVideos[0].Video.URI, nil
}
