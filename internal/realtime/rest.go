package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"deskpilot/internal/store"
)

type createPromptRequest struct {
	Content string `json:"content"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	var req createPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		http.Error(w, `{"error":"Invalid prompt data"}`, http.StatusBadRequest)
		return
	}

	prompt, err := s.prompts.Create(req.Content)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(prompt)
}

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := s.prompts.List()
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(prompts)
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"Prompt not found"}`, http.StatusNotFound)
		return
	}

	prompt, err := s.prompts.Get(id)
	if err != nil {
		http.Error(w, `{"error":"Prompt not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(prompt)
}

func (s *Server) handleUpdatePromptStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"Prompt not found"}`, http.StatusNotFound)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"Invalid status"}`, http.StatusBadRequest)
		return
	}
	if !store.ValidStatus(req.Status) {
		http.Error(w, `{"error":"Invalid status"}`, http.StatusBadRequest)
		return
	}

	prompt, err := s.prompts.UpdateStatus(id, store.Status(req.Status))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, `{"error":"Prompt not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(prompt)
}
