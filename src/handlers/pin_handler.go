package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/username/twirlmap/backend/src/logger"
	"github.com/username/twirlmap/backend/src/models"
	"github.com/username/twirlmap/backend/src/services"
	"github.com/username/twirlmap/backend/src/storage"
	"github.com/username/twirlmap/backend/src/utils"
)

type pinListResponse struct {
	Pins  []models.Pin `json:"pins"`
	Count int          `json:"count"`
}

type migrateRequest struct {
	Path string `json:"path"`
}

type PinHandler struct {
	pinService services.PinService
}

func NewPinHandler(service services.PinService) *PinHandler {
	return &PinHandler{
		pinService: service,
	}
}

// HandleListPins returns every pin, sorted by ?sort=price or
// ?sort=timestamp (the default). Responses carry an ETag so the map
// page can poll cheaply.
func (h *PinHandler) HandleListPins(w http.ResponseWriter, r *http.Request) {
	sortKey := r.URL.Query().Get("sort")

	pins, err := h.pinService.ListPins(r.Context(), sortKey)
	if err != nil {
		logger.FromContext(r.Context()).Error("Error loading pins", "sort", sortKey, "error", err)
		utils.SendJSONError(w, "Failed to load pins.", http.StatusInternalServerError)
		return
	}
	if pins == nil {
		pins = []models.Pin{}
	}

	resp := pinListResponse{Pins: pins, Count: len(pins)}

	currentETag, etagErr := utils.GenerateETag(resp)
	if etagErr != nil {
		logger.FromContext(r.Context()).Error("Failed to generate ETag for pin list", "error", etagErr)
	}

	w.Header().Set("Cache-Control", "no-cache, private")

	if etagErr == nil && currentETag != "" {
		quotedETag := fmt.Sprintf("\"%s\"", currentETag)
		w.Header().Set("ETag", quotedETag)
		clientETag := r.Header.Get("If-None-Match")
		for _, cETag := range strings.Split(clientETag, ",") {
			if strings.TrimSpace(cETag) == quotedETag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.FromContext(r.Context()).Error("Error encoding JSON response for pin list", "error", err)
	}
}

func (h *PinHandler) HandleCreatePin(w http.ResponseWriter, r *http.Request) {
	var input models.PinInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.SendJSONError(w, "Invalid JSON request body.", http.StatusBadRequest)
		return
	}

	pin, err := h.pinService.CreatePin(r.Context(), input)
	if err != nil {
		if errors.Is(err, services.ErrInvalidPin) {
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		} else {
			logger.FromContext(r.Context()).Error("Internal error creating pin", "location", input.Location, "error", err)
			utils.SendJSONError(w, "Failed to save the pin. Please try again later.", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(pin); err != nil {
		logger.FromContext(r.Context()).Error("Error encoding JSON response for created pin", "id", pin.ID, "error", err)
	}
}

func (h *PinHandler) HandleDeletePin(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Invalid pin id %q.", idStr), http.StatusBadRequest)
		return
	}

	if err := h.pinService.DeletePin(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrPinNotFound) {
			utils.SendJSONError(w, fmt.Sprintf("Pin %d not found.", id), http.StatusNotFound)
		} else {
			logger.FromContext(r.Context()).Error("Internal error deleting pin", "id", id, "error", err)
			utils.SendJSONError(w, "Failed to delete the pin.", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "pin deleted"})
}

func (h *PinHandler) HandleClearPins(w http.ResponseWriter, r *http.Request) {
	if err := h.pinService.ClearPins(r.Context()); err != nil {
		logger.FromContext(r.Context()).Error("Internal error clearing pins", "error", err)
		utils.SendJSONError(w, "Failed to clear pins.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "all pins deleted"})
}

func (h *PinHandler) HandlePinCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.pinService.PinCount(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("Internal error counting pins", "error", err)
		utils.SendJSONError(w, "Failed to count pins.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"count": count})
}

func (h *PinHandler) HandlePriceStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.pinService.PriceStats(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("Internal error computing price stats", "error", err)
		utils.SendJSONError(w, "Failed to compute price statistics.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		logger.FromContext(r.Context()).Error("Error encoding JSON response for price stats", "error", err)
	}
}

func (h *PinHandler) HandleDataInfo(w http.ResponseWriter, r *http.Request) {
	info := h.pinService.Info(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		logger.FromContext(r.Context()).Error("Error encoding JSON response for data info", "error", err)
	}
}

// HandleHealth probes the active storage backend.
func (h *PinHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.pinService.Ping(r.Context()); err != nil {
		logger.FromContext(r.Context()).Error("Health check failed", "error", err)
		utils.SendJSONError(w, "Storage unavailable.", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *PinHandler) HandleBackup(w http.ResponseWriter, r *http.Request) {
	path, err := h.pinService.Backup(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("Internal error creating backup", "error", err)
		utils.SendJSONError(w, "Failed to create backup.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"backup_path": path})
}

// HandleMigrate imports pins from a JSON file into the database
// backend. The body may name a file; by default the regular pins file
// in the data directory is used.
func (h *PinHandler) HandleMigrate(w http.ResponseWriter, r *http.Request) {
	var req migrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.SendJSONError(w, "Invalid JSON request body.", http.StatusBadRequest)
		return
	}

	imported, err := h.pinService.MigrateFromFile(r.Context(), req.Path)
	if err != nil {
		if errors.Is(err, storage.ErrMigrationUnavailable) {
			utils.SendJSONError(w, "Migration requires an active database backend.", http.StatusConflict)
		} else {
			logger.FromContext(r.Context()).Error("Migration failed", "imported", imported, "error", err)
			utils.SendJSONError(w, fmt.Sprintf("Migration failed after importing %d pins.", imported), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message":  "migration complete",
		"imported": imported,
	})
}
