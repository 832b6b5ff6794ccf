package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hyperjump/storyforge/internal/models"
	"github.com/hyperjump/storyforge/internal/storage"
	"github.com/hyperjump/storyforge/internal/storyteller"
	"github.com/hyperjump/storyforge/internal/vectordb"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.config
	resp := map[string]interface{}{
		"collections":  s.db.Stats(r.Context()),
		"vector_sizes": s.db.VectorSizes(),
		"config": map[string]interface{}{
			"embedding_dimensions": cfg.Embedding.Dimensions,
			"chunk_size":           cfg.Ingest.ChunkSize,
			"chunk_overlap":        cfg.Ingest.ChunkOverlap,
			"datasets_path":        cfg.Ingest.DatasetsPath,
			"database_path":        cfg.Storage.DatabasePath,
			"bleve_index_path":     cfg.Storage.BleveIndexPath,
			"vector_index_dir":     cfg.Storage.VectorIndexDir,
			"model":                cfg.Generation.Model,
		},
	}
	diskBytes, err := storage.DiskUsageBytes(
		cfg.Storage.DatabasePath,
		cfg.Storage.BleveIndexPath,
		cfg.Storage.VectorIndexDir,
	)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"collections": s.db.Stats(r.Context())})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("query request",
		zap.String("query", req.Query),
		zap.String("collection", req.Collection),
		zap.Int("n_results", req.NResults),
	)
	resp, err := s.db.Search(r.Context(), &req)
	if err != nil {
		if errors.Is(err, vectordb.ErrUnknownCollection) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("query failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	var input models.RecordInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(input.Item) == 0 {
		s.respondError(w, http.StatusBadRequest, "item is required")
		return
	}
	if input.ID == "" {
		input.ID = uuid.NewString()
	}
	res, err := s.db.AddItem(r.Context(), input.Item, input.ID, "")
	if err != nil {
		s.logger.Error("add record failed", zap.String("id", input.ID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if res.Outcome == models.AddAdded {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, res)
}

type harvestRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	var req harvestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	root := req.Path
	if root == "" {
		root = s.config.Ingest.DatasetsPath
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	report, err := s.harvester.Harvest(r.Context(), abs)
	if err != nil {
		s.logger.Error("harvest failed", zap.String("path", abs), zap.Error(err))
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.db.Save(); err != nil {
		s.logger.Warn("failed to save vector indices", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Export(r.Context(), w); err != nil {
		s.logger.Error("export failed", zap.Error(err))
	}
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		s.respondError(w, http.StatusNotImplemented, "model server not configured")
		return
	}
	s.respondJSON(w, http.StatusOK, s.models.Status(r.Context()))
}

type interactiveRequest struct {
	Prompt   string `json:"prompt"`
	AgeGroup string `json:"age_group,omitempty"`
}

func (s *Server) handleGenerateStory(w http.ResponseWriter, r *http.Request) {
	if s.teller == nil {
		s.respondError(w, http.StatusNotImplemented, "story generation not configured")
		return
	}
	var req storyteller.StoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	story, err := s.teller.GenerateStory(r.Context(), req)
	if err != nil {
		s.respondStoryError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, story)
}

func (s *Server) handleInteractiveStory(w http.ResponseWriter, r *http.Request) {
	if s.teller == nil {
		s.respondError(w, http.StatusNotImplemented, "story generation not configured")
		return
	}
	var req interactiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	story, err := s.teller.GenerateInteractive(r.Context(), req.Prompt, req.AgeGroup)
	if err != nil {
		s.respondStoryError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, story)
}

func storyErrorStatus(err error) int {
	switch {
	case errors.Is(err, storyteller.ErrEmptyPrompt), errors.Is(err, storyteller.ErrPromptTooLong):
		return http.StatusBadRequest
	case errors.Is(err, storyteller.ErrTooManyRequests):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondStoryError(w http.ResponseWriter, err error) {
	status := storyErrorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("story generation failed", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
