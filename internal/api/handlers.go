package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/greenstack/leafserve/internal/cache"
	"github.com/greenstack/leafserve/internal/inference"
	"go.uber.org/zap"
)

const (
	maxImageUpload = 32 << 20  // per batch request
	maxModelUpload = 512 << 20 // checkpoint upload
)

type healthResponse struct {
	Status           string            `json:"status"`
	ModelLoaded      bool              `json:"model_loaded"`
	ModelSource      string            `json:"model_source,omitempty"`
	ModelVersion     string            `json:"model_version,omitempty"`
	ModelInfo        map[string]string `json:"model_info,omitempty"`
	PredictionsCount int64             `json:"predictions_count"`
	AvgInferenceMS   float64           `json:"avg_inference_time_ms"`
	UptimeSeconds    float64           `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot()

	resp := healthResponse{
		Status:           "model_not_loaded",
		PredictionsCount: snap.Predictions,
		AvgInferenceMS:   snap.AvgLatencyMS,
		UptimeSeconds:    time.Since(s.startTime).Seconds(),
	}

	if handle, err := s.cache.Current(); err == nil {
		resp.Status = "healthy"
		resp.ModelLoaded = true
		resp.ModelSource = handle.Source.String()
		resp.ModelVersion = handle.Version
		resp.ModelInfo = handle.Metadata
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot()

	resp := map[string]interface{}{
		"predictions_count":       snap.Predictions,
		"failed_predictions":      snap.Failures,
		"total_inference_time_ms": snap.TotalLatencyMS,
		"avg_inference_time_ms":   snap.AvgLatencyMS,
		"uptime_seconds":          snap.UptimeSeconds,
	}
	if handle, err := s.cache.Current(); err == nil {
		resp["model_source"] = handle.Source.String()
		resp["model_version"] = handle.Version
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	handle, err := s.cache.Current()
	if err != nil {
		s.writeError(w, err)
		return
	}

	spec := handle.Classifier.InputSpec()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"model_info":    handle.Metadata,
		"model_source":  handle.Source.String(),
		"model_version": handle.Version,
		"architecture":  handle.Classifier.Header().Architecture,
		"class_names":   handle.Classifier.ClassNames(),
		"input_size":    spec.Size,
		"loaded_at":     handle.LoadedAt,
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.Server.RequestTimeout)
	defer cancel()

	raw, err := readImagePayload(r)
	if err != nil {
		s.metrics.RecordPrediction("invalid_input")
		s.writeError(w, err)
		return
	}

	pred, err := s.engine.PredictOne(ctx, raw)
	if err != nil {
		s.metrics.RecordPrediction(predictionOutcome(err))
		s.writeError(w, err)
		return
	}

	s.metrics.RecordPrediction("success")
	s.writeJSON(w, http.StatusOK, pred)
}

func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.Server.RequestTimeout)
	defer cancel()

	if err := r.ParseMultipartForm(maxImageUpload); err != nil {
		s.writeError(w, fmt.Errorf("%w: parse multipart form: %v", inference.ErrInvalidInput, err))
		return
	}

	files := r.MultipartForm.File["files"]
	items := make([]inference.BatchItem, 0, len(files))
	for _, header := range files {
		data, err := readFormFile(header)
		if err != nil {
			// unreadable part becomes a per-item failure downstream
			items = append(items, inference.BatchItem{Name: header.Filename, Data: nil})
			continue
		}
		items = append(items, inference.BatchItem{Name: header.Filename, Data: data})
	}

	result, err := s.engine.PredictBatch(ctx, items)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.metrics.RecordPrediction("batch")
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*s.config.Model.TierTimeout+s.config.Server.RequestTimeout)
	defer cancel()

	handle, err := s.Reload(ctx)
	if err != nil {
		s.logger.Warn("reload failed, previous model untouched", zap.Error(err))
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "success",
		"model_source":  handle.Source.String(),
		"model_version": handle.Version,
		"class_names":   handle.Classifier.ClassNames(),
	})
}

func (s *Server) handleUploadVersion(w http.ResponseWriter, r *http.Request) {
	modelName := mux.Vars(r)["name"]

	if err := r.ParseMultipartForm(maxModelUpload); err != nil {
		s.writeError(w, fmt.Errorf("%w: parse multipart form: %v", inference.ErrInvalidInput, err))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: missing checkpoint file", inference.ErrInvalidInput))
		return
	}
	defer func() { _ = file.Close() }()

	payload, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, fmt.Errorf("read checkpoint: %w", err))
		return
	}

	metadata := map[string]string{}
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			s.writeError(w, fmt.Errorf("%w: metadata must be a flat JSON object: %v",
				inference.ErrInvalidInput, err))
			return
		}
	}

	siblings := map[string][]byte{}
	if headers := r.MultipartForm.File["history"]; len(headers) > 0 {
		data, err := readFormFile(headers[0])
		if err != nil {
			s.writeError(w, fmt.Errorf("read history file: %w", err))
			return
		}
		siblings["history.json"] = data
	}

	version := r.FormValue("version")
	if version == "" {
		version = s.versions.Next()
	}

	manifest, err := s.store.Put(r.Context(), modelName, version, payload, metadata, siblings)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, manifest)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	modelName := mux.Vars(r)["name"]

	versions, err := s.store.ListVersions(r.Context(), modelName)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"model":    modelName,
		"versions": versions,
	})
}

func (s *Server) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := s.store.Delete(r.Context(), vars["name"], vars["version"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type promoteRequest struct {
	Version string `json:"version"`
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	modelName := mux.Vars(r)["name"]

	if s.registry == nil {
		s.writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "no registry configured"})
		return
	}

	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Version == "" {
		s.writeError(w, fmt.Errorf("%w: body must be {\"version\": ...}", inference.ErrInvalidInput))
		return
	}

	// refuse to promote a version that is not committed
	if _, err := s.store.GetManifest(r.Context(), modelName, req.Version); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.registry.Promote(r.Context(), modelName, req.Version); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "promoted",
		"model":   modelName,
		"version": req.Version,
	})
}

func (s *Server) handleDemote(w http.ResponseWriter, r *http.Request) {
	modelName := mux.Vars(r)["name"]

	if s.registry == nil {
		s.writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "no registry configured"})
		return
	}

	if err := s.registry.Demote(r.Context(), modelName); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readImagePayload accepts either a multipart "file" field or a raw body
func readImagePayload(r *http.Request) ([]byte, error) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImageUpload); err != nil {
			return nil, fmt.Errorf("%w: parse multipart form: %v", inference.ErrInvalidInput, err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("%w: missing file field", inference.ErrInvalidInput)
		}
		defer func() { _ = file.Close() }()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("%w: read upload: %v", inference.ErrInvalidInput, err)
		}
		return data, nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxImageUpload))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", inference.ErrInvalidInput, err)
	}
	return data, nil
}

func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open form file %s: %w", header.Filename, err)
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func predictionOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, inference.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, cache.ErrModelNotLoaded):
		return "model_not_loaded"
	case errors.Is(err, inference.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
