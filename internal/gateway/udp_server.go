package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

// ErrUnknownGateway is returned when a downlink targets a gateway that has
// not sent PULL_DATA yet.
var ErrUnknownGateway = errors.New("gateway has no downlink path")

// Uplink is an rxpk received by the Server
type Uplink struct {
	Token      uint16
	GatewayEUI lorawan.EUI64
	RXPK       RXPK
}

// ReceivedTxAck is a TX_ACK received by the Server
type ReceivedTxAck struct {
	Token      uint16
	GatewayEUI lorawan.EUI64
	Error      string
}

// GatewayInfo tracks the addresses a gateway last used
type GatewayInfo struct {
	GatewayEUI lorawan.EUI64
	PushAddr   *net.UDPAddr
	PullAddr   *net.UDPAddr
	LastSeen   time.Time
}

// Server is the network-server end of the packet-forwarder protocol. It
// acknowledges PUSH_DATA and PULL_DATA, remembers the downlink address of
// every gateway and sends PULL_RESP on request.
type Server struct {
	conn *net.UDPConn

	mu       sync.RWMutex
	gateways map[lorawan.EUI64]*GatewayInfo
	token    uint16

	uplinks chan Uplink
	txAcks  chan ReceivedTxAck
}

// NewServer binds bindAddr
func NewServer(bindAddr string) (*Server, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	return &Server{
		conn:     conn,
		gateways: make(map[lorawan.EUI64]*GatewayInfo),
		uplinks:  make(chan Uplink, downlinkBuffer),
		txAcks:   make(chan ReceivedTxAck, downlinkBuffer),
	}, nil
}

// LocalAddr returns the bound address
func (s *Server) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Uplinks returns received rxpk objects
func (s *Server) Uplinks() <-chan Uplink {
	return s.uplinks
}

// TxAcks returns received TX_ACK packets
func (s *Server) TxAcks() <-chan ReceivedTxAck {
	return s.txAcks
}

// Gateway returns a copy of the state kept for eui
func (s *Server) Gateway(eui lorawan.EUI64) (GatewayInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gw, ok := s.gateways[eui]
	if !ok {
		return GatewayInfo{}, false
	}
	return *gw, true
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	log.Info().Str("addr", s.conn.LocalAddr().String()).Msg("packet forwarder server started")

	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("read udp packet")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.handlePacket(data, addr)
	}
}

func (s *Server) handlePacket(data []byte, addr *net.UDPAddr) {
	h, err := ParseHeader(data)
	if err != nil {
		log.Warn().Err(err).Str("addr", addr.String()).Msg("dropping packet")
		return
	}
	if h.Version != ProtocolVersion {
		log.Debug().Uint8("version", h.Version).Str("addr", addr.String()).Msg("unexpected protocol version")
	}

	switch h.Type {
	case PushData:
		s.handlePushData(data, addr)
	case PullData:
		s.handlePullData(data, addr)
	case TxAck:
		s.handleTxAck(data)
	default:
		log.Warn().Str("type", h.Type.String()).Str("addr", addr.String()).Msg("unexpected packet type")
	}
}

func (s *Server) touch(eui lorawan.EUI64) *GatewayInfo {
	gw, ok := s.gateways[eui]
	if !ok {
		gw = &GatewayInfo{GatewayEUI: eui}
		s.gateways[eui] = gw
	}
	gw.LastSeen = time.Now()
	return gw
}

func (s *Server) ack(token uint16, typ PacketType, addr *net.UDPAddr) {
	b, _ := AckPacket{Token: token, Type: typ}.MarshalBinary()
	if _, err := s.conn.WriteToUDP(b, addr); err != nil {
		log.Error().Err(err).Str("type", typ.String()).Msg("send acknowledgement")
	}
}

func (s *Server) handlePushData(data []byte, addr *net.UDPAddr) {
	var pkt PushDataPacket
	if err := pkt.UnmarshalBinary(data); err != nil {
		log.Error().Err(err).Msg("parse PUSH_DATA")
		return
	}

	s.mu.Lock()
	s.touch(pkt.GatewayEUI).PushAddr = addr
	s.mu.Unlock()

	s.ack(pkt.Token, PushAck, addr)

	for _, rxpk := range pkt.Payload.RXPK {
		select {
		case s.uplinks <- Uplink{Token: pkt.Token, GatewayEUI: pkt.GatewayEUI, RXPK: rxpk}:
		default:
			log.Warn().Str("gateway", pkt.GatewayEUI.String()).Msg("uplink queue full, dropping")
		}
	}
}

func (s *Server) handlePullData(data []byte, addr *net.UDPAddr) {
	var pkt PullDataPacket
	if err := pkt.UnmarshalBinary(data); err != nil {
		log.Error().Err(err).Msg("parse PULL_DATA")
		return
	}

	s.mu.Lock()
	s.touch(pkt.GatewayEUI).PullAddr = addr
	s.mu.Unlock()

	s.ack(pkt.Token, PullAck, addr)

	log.Debug().
		Str("gateway", pkt.GatewayEUI.String()).
		Str("pull_addr", addr.String()).
		Msg("downlink path updated")
}

func (s *Server) handleTxAck(data []byte) {
	var pkt TxAckPacket
	if err := pkt.UnmarshalBinary(data); err != nil {
		log.Error().Err(err).Msg("parse TX_ACK")
		return
	}

	select {
	case s.txAcks <- ReceivedTxAck{Token: pkt.Token, GatewayEUI: pkt.GatewayEUI, Error: pkt.Payload.TXPKACK.Error}:
	default:
	}
}

// SendPullResp sends txpk to the PULL_DATA address of the gateway and
// returns the token used.
func (s *Server) SendPullResp(eui lorawan.EUI64, txpk TXPK) (uint16, error) {
	s.mu.Lock()
	var pullAddr *net.UDPAddr
	if gw, ok := s.gateways[eui]; ok {
		pullAddr = gw.PullAddr
	}
	s.token++
	token := s.token
	s.mu.Unlock()

	if pullAddr == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownGateway, eui)
	}

	txpk.Size = uint16(len(txpk.Data))
	b, err := PullRespPacket{Token: token, Payload: PullRespPayload{TXPK: &txpk}}.MarshalBinary()
	if err != nil {
		return 0, err
	}
	if _, err := s.conn.WriteToUDP(b, pullAddr); err != nil {
		return 0, fmt.Errorf("send PULL_RESP: %w", err)
	}
	return token, nil
}

// SendRaw writes b to the PULL_DATA address of the gateway
func (s *Server) SendRaw(eui lorawan.EUI64, b []byte) error {
	gw, ok := s.Gateway(eui)
	if !ok || gw.PullAddr == nil {
		return fmt.Errorf("%w: %s", ErrUnknownGateway, eui)
	}
	_, err := s.conn.WriteToUDP(b, gw.PullAddr)
	return err
}
