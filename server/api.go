package server

import (
	"encoding/base64"
	"errors"
	"io"
	"log"
	"net/http"

	"atlas-voice/gemini"
	"atlas-voice/profile"
	"atlas-voice/voice"

	"github.com/bytedance/sonic"
)

const maxAPIBodySize = 1 << 20 // 1MB

type chatRequest struct {
	History []gemini.ChatMessage `json:"history"`
	Options gemini.ChatOptions   `json:"options"`
}

type mediaRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type imageResponse struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type videoResponse struct {
	URI string `json:"uri"`
}

type voiceInfo struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Default bool   `json:"default"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.chat.Send(r.Context(), req.History, req.Options)
	if err != nil {
		log.Printf("❌ Chat request failed: %v", err)
		writeAPIError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	var req mediaRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeAPIError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	img, err := s.media.GenerateImage(r.Context(), req.Prompt, req.AspectRatio)
	if err != nil {
		log.Printf("❌ Image generation failed: %v", err)
		writeAPIError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, imageResponse{
		MimeType: img.MIMEType,
		Data:     base64.StdEncoding.EncodeToString(img.Data),
	})
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	var req mediaRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeAPIError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	uri, err := s.media.GenerateVideo(r.Context(), req.Prompt, req.AspectRatio)
	if err != nil {
		log.Printf("❌ Video generation failed: %v", err)
		writeAPIError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, videoResponse{URI: uri})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")

	switch r.Method {
	case http.MethodGet:
		p, err := s.profiles.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, profile.ErrNotFound) {
				writeAPIError(w, http.StatusNotFound, "profile not found")
				return
			}
			writeAPIError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p)

	case http.MethodPost, http.MethodPut:
		var p profile.Profile
		if !s.decodeBody(w, r, &p) {
			return
		}
		if err := s.profiles.Put(r.Context(), id, p); err != nil {
			writeAPIError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p)

	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices := make([]voiceInfo, 0, len(voice.Personas()))
	for _, p := range voice.Personas() {
		voices = append(voices, voiceInfo{
			Name:    string(p),
			Label:   p.Label(),
			Default: p == s.config.DefaultVoice,
		})
	}
	writeJSON(w, http.StatusOK, voices)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAPIBodySize))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
