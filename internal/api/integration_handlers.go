package api

import (
	"net/http"

	"github.com/lorawan-server/lorawan-device-simulator/internal/config"
)

// IntegrationView describes the event publisher. Credentials are omitted.
type IntegrationView struct {
	Backend string `json:"backend"`
	Target  string `json:"target,omitempty"`
	Prefix  string `json:"prefix,omitempty"`
	QoS     *byte  `json:"qos,omitempty"`
	Auth    bool   `json:"auth"`
}

// HandleGetIntegration returns the active event publisher
func (s *RESTServer) HandleGetIntegration(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.Integration
	view := IntegrationView{Backend: cfg.Backend}
	if view.Backend == "" {
		view.Backend = config.BackendNone
	}

	switch cfg.Backend {
	case config.BackendNATS:
		view.Target = cfg.NATS.URL
		view.Prefix = cfg.NATS.SubjectPrefix
		view.Auth = cfg.NATS.Username != ""
	case config.BackendMQTT:
		qos := cfg.MQTT.QoS
		view.Target = cfg.MQTT.Server
		view.Prefix = cfg.MQTT.TopicPrefix
		view.QoS = &qos
		view.Auth = cfg.MQTT.Username != ""
	}

	s.respondJSON(w, http.StatusOK, view)
}
