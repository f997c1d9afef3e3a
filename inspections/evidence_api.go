package main

import (
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Evidence photos normally travel through presigned URLs so the service does
// not proxy image bytes. Workstations without direct object-store access can
// fall back to the PUT/GET proxy endpoints, capped at maxEvidenceBytes.

const maxEvidenceBytes = 10 << 20

type evidenceUploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
}

type evidenceUploadResponse struct {
	Key       string `json:"key"`
	Bucket    string `json:"bucket"`
	UploadURL string `json:"upload_url"`
	ExpiresIn int64  `json:"expires_in_seconds"`
}

func (api *inspectionsAPI) handleCreateEvidenceUpload(w http.ResponseWriter, r *http.Request) {
	if _, ok := api.commandInfo(w, r); !ok {
		return
	}
	orderID := strings.TrimSpace(r.PathValue("order_id"))
	if orderID == "" {
		api.writeError(w, r, http.StatusBadRequest, "order_id_required")
		return
	}

	var req evidenceUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	key := orderID + "/" + uuid.NewString()
	if ext := path.Ext(strings.TrimSpace(req.Filename)); ext != "" {
		key += ext
	}

	uploadURL, err := api.evidenceStore.PresignPut(r.Context(), api.storeCfg.BucketEvidence, key, api.presignTTL)
	if err != nil {
		api.logger.Error("presign upload failed", "order_id", orderID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.writeJSON(w, http.StatusCreated, evidenceUploadResponse{
		Key:       key,
		Bucket:    api.storeCfg.BucketEvidence,
		UploadURL: uploadURL,
		ExpiresIn: int64(api.presignTTL.Seconds()),
	})
}

type evidenceDownloadResponse struct {
	Key         string `json:"key"`
	DownloadURL string `json:"download_url"`
	ExpiresIn   int64  `json:"expires_in_seconds"`
}

func (api *inspectionsAPI) handleGetEvidenceDownload(w http.ResponseWriter, r *http.Request) {
	orderID, key, ok := api.evidenceKey(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("proxy") == "true" {
		api.streamEvidence(w, r, orderID, key)
		return
	}

	if _, err := api.evidenceStore.Stat(r.Context(), api.storeCfg.BucketEvidence, key); err != nil {
		api.writeError(w, r, http.StatusNotFound, "evidence_not_found")
		return
	}

	downloadURL, err := api.evidenceStore.PresignGet(r.Context(), api.storeCfg.BucketEvidence, key, api.presignTTL)
	if err != nil {
		api.logger.Error("presign download failed", "order_id", orderID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.writeJSON(w, http.StatusOK, evidenceDownloadResponse{
		Key:         key,
		DownloadURL: downloadURL,
		ExpiresIn:   int64(api.presignTTL.Seconds()),
	})
}

func (api *inspectionsAPI) streamEvidence(w http.ResponseWriter, r *http.Request, orderID, key string) {
	body, info, err := api.evidenceStore.Get(r.Context(), api.storeCfg.BucketEvidence, key)
	if err != nil {
		api.writeError(w, r, http.StatusNotFound, "evidence_not_found")
		return
	}
	defer body.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		api.logger.Error("evidence stream failed", "order_id", orderID, "key", key, "error", err)
	}
}

type evidencePutResponse struct {
	Key    string `json:"key"`
	Bucket string `json:"bucket"`
	Size   int64  `json:"size"`
}

func (api *inspectionsAPI) handlePutEvidence(w http.ResponseWriter, r *http.Request) {
	if _, ok := api.commandInfo(w, r); !ok {
		return
	}
	orderID, key, ok := api.evidenceKey(w, r)
	if !ok {
		return
	}
	if r.ContentLength <= 0 {
		api.writeError(w, r, http.StatusLengthRequired, "content_length_required")
		return
	}
	if r.ContentLength > maxEvidenceBytes {
		api.writeError(w, r, http.StatusRequestEntityTooLarge, "evidence_too_large")
		return
	}

	contentType := strings.TrimSpace(r.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	body := io.LimitReader(r.Body, maxEvidenceBytes)
	if err := api.evidenceStore.Put(r.Context(), api.storeCfg.BucketEvidence, key, body, r.ContentLength, contentType); err != nil {
		api.logger.Error("evidence upload failed", "order_id", orderID, "key", key, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.writeJSON(w, http.StatusCreated, evidencePutResponse{
		Key:    key,
		Bucket: api.storeCfg.BucketEvidence,
		Size:   r.ContentLength,
	})
}

func (api *inspectionsAPI) handleDeleteEvidence(w http.ResponseWriter, r *http.Request) {
	if _, ok := api.commandInfo(w, r); !ok {
		return
	}
	orderID, key, ok := api.evidenceKey(w, r)
	if !ok {
		return
	}

	if _, err := api.evidenceStore.Stat(r.Context(), api.storeCfg.BucketEvidence, key); err != nil {
		api.writeError(w, r, http.StatusNotFound, "evidence_not_found")
		return
	}
	if err := api.evidenceStore.Delete(r.Context(), api.storeCfg.BucketEvidence, key); err != nil {
		api.logger.Error("evidence delete failed", "order_id", orderID, "key", key, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// evidenceKey validates the order-scoped object key from the request path.
// Keys are namespaced per order; cross-order access is refused.
func (api *inspectionsAPI) evidenceKey(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	orderID := strings.TrimSpace(r.PathValue("order_id"))
	key := strings.TrimSpace(r.PathValue("key"))
	if key == "" || strings.Contains(key, "..") {
		api.writeError(w, r, http.StatusBadRequest, "invalid_key")
		return "", "", false
	}
	if !strings.HasPrefix(key, orderID+"/") {
		api.writeError(w, r, http.StatusNotFound, "evidence_not_found")
		return "", "", false
	}
	return orderID, key, true
}
