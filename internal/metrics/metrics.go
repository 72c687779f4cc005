// Package metrics exposes the simulator counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	udpSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_udp_packets_sent_total",
		Help: "The number of packet-forwarder messages sent (per packet type).",
	}, []string{"type"})
	udpReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_udp_packets_received_total",
		Help: "The number of packet-forwarder messages received (per packet type).",
	}, []string{"type"})
	udpDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_udp_packets_dropped_total",
		Help: "The number of received packet-forwarder messages that were dropped (per reason).",
	}, []string{"reason"})
	frames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_frames_total",
		Help: "The number of LoRaWAN frames sent or accepted (per direction and message type).",
	}, []string{"direction", "mtype"})
	frameErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_frame_errors_total",
		Help: "The number of LoRaWAN frames that were rejected (per reason).",
	}, []string{"reason"})
	activated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simulator_device_activated",
		Help: "1 when the simulated device holds an active session.",
	})
	fCntUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simulator_fcnt_up",
		Help: "The frame counter of the next uplink.",
	})
)

func UDPPacketSent(typ string) prometheus.Counter {
	return udpSent.With(prometheus.Labels{"type": typ})
}

func UDPPacketReceived(typ string) prometheus.Counter {
	return udpReceived.With(prometheus.Labels{"type": typ})
}

func UDPPacketDropped(reason string) prometheus.Counter {
	return udpDropped.With(prometheus.Labels{"reason": reason})
}

func Frame(direction, mtype string) prometheus.Counter {
	return frames.With(prometheus.Labels{"direction": direction, "mtype": mtype})
}

func FrameError(reason string) prometheus.Counter {
	return frameErrors.With(prometheus.Labels{"reason": reason})
}

func Activated() prometheus.Gauge {
	return activated
}

func FCntUp() prometheus.Gauge {
	return fCntUp
}
