package api

import (
	"net/http"

	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

// FrequencyPlanView is the JSON form of a frequency plan, in MHz
type FrequencyPlanView struct {
	Name                 string    `json:"name"`
	Description          string    `json:"description"`
	UplinkChannels       []float64 `json:"uplinkChannels"`
	DownlinkChannels     []float64 `json:"downlinkChannels,omitempty"`
	RX1Offset            int       `json:"rx1Offset"`
	RX2Frequency         float64   `json:"rx2Frequency"`
	DefaultUplinkChannel float64   `json:"defaultUplinkChannel"`
	DefaultDataRate      string    `json:"defaultDataRate"`
	MaxPower             int       `json:"maxPower"`
}

func newFrequencyPlanView(p *lorawan.FrequencyPlan) FrequencyPlanView {
	return FrequencyPlanView{
		Name:                 p.Name,
		Description:          p.Description,
		UplinkChannels:       toMHz(p.UplinkChannels),
		DownlinkChannels:     toMHz(p.DownlinkChannels),
		RX1Offset:            p.RX1Offset,
		RX2Frequency:         lorawan.MHz(p.RX2Frequency),
		DefaultUplinkChannel: lorawan.MHz(p.DefaultUplinkChannel),
		DefaultDataRate:      p.DefaultDataRate,
		MaxPower:             p.MaxPower,
	}
}

func toMHz(hz []uint32) []float64 {
	if len(hz) == 0 {
		return nil
	}
	out := make([]float64, len(hz))
	for i, f := range hz {
		out[i] = lorawan.MHz(f)
	}
	return out
}

// HandleGetGateway returns the simulated gateway and its frequency plan
func (s *RESTServer) HandleGetGateway(w http.ResponseWriter, r *http.Request) {
	gw := s.config.Gateway

	plan, err := lorawan.GetFrequencyPlan(s.config.Device.FrequencyPlan)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"gatewayEUI":    gw.EUI,
		"server":        gw.ServerAddr(),
		"bind":          gw.Bind,
		"frequencyPlan": newFrequencyPlanView(plan),
	})
}

// HandleListFrequencyPlans lists the supported plans
func (s *RESTServer) HandleListFrequencyPlans(w http.ResponseWriter, r *http.Request) {
	names := lorawan.AvailableFrequencyPlans()
	plans := make([]FrequencyPlanView, 0, len(names))
	for _, name := range names {
		plan, err := lorawan.GetFrequencyPlan(name)
		if err != nil {
			continue
		}
		plans = append(plans, newFrequencyPlanView(plan))
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"frequencyPlans": plans,
		"total":          len(plans),
	})
}
