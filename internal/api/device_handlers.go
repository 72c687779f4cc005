package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-device-simulator/internal/device"
	"github.com/lorawan-server/lorawan-device-simulator/internal/models"
	"github.com/lorawan-server/lorawan-device-simulator/internal/simulator"
	"github.com/lorawan-server/lorawan-device-simulator/internal/storage"
)

// UplinkRequest is the body of POST /device/uplink. Exactly one of Data
// (base64 in JSON) or Text must be set.
type UplinkRequest struct {
	FPort *int   `json:"fPort" validate:"min=1,max=223"`
	Data  []byte `json:"data" validate:"max=222"`
	Text  string `json:"text" validate:"max=222"`
}

// HandleGetDevice returns the session state. Keys are never included.
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	st, err := s.device.Status(r.Context())
	if err != nil {
		s.respondDeviceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

// HandleJoin starts a new OTAA join
func (s *RESTServer) HandleJoin(w http.ResponseWriter, r *http.Request) {
	devNonce, err := s.device.Join(r.Context())
	if err != nil {
		s.respondDeviceError(w, err)
		return
	}

	log.Info().Uint16("dev_nonce", devNonce).Msg("join requested over api")
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"devNonce": devNonce,
		"state":    simulator.Joining,
	})
}

// HandleUplink sends one uplink immediately
func (s *RESTServer) HandleUplink(w http.ResponseWriter, r *http.Request) {
	var req UplinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload := req.Data
	switch {
	case len(req.Data) > 0 && req.Text != "":
		s.respondError(w, http.StatusBadRequest, "data and text are mutually exclusive")
		return
	case req.Text != "":
		payload = []byte(req.Text)
	case len(req.Data) == 0:
		s.respondError(w, http.StatusBadRequest, "data or text is required")
		return
	}

	var fPort uint8
	if req.FPort != nil {
		fPort = uint8(*req.FPort)
	}

	res, err := s.device.Uplink(r.Context(), fPort, payload)
	if err != nil {
		s.respondDeviceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

// HandleListFrames lists the frame log
func (s *RESTServer) HandleListFrames(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	filters := storage.FrameFilters{
		MType: r.URL.Query().Get("mtype"),
	}
	if dir := strings.ToUpper(r.URL.Query().Get("direction")); dir != "" {
		filters.Direction = models.FrameDirection(dir)
		if filters.Direction != models.FrameUp && filters.Direction != models.FrameDown {
			s.respondError(w, http.StatusBadRequest, "direction must be UP or DOWN")
			return
		}
	}

	frames, total, err := s.device.Frames(r.Context(), filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"frames": frames,
		"total":  total,
	})
}

func (s *RESTServer) respondDeviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrNotActivated):
		s.respondError(w, http.StatusConflict, "device is not activated")
	case errors.Is(err, device.ErrUnsupportedFrame):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, simulator.ErrStopped):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Error().Err(err).Msg("device command failed")
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}
