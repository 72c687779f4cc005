package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-device-simulator/internal/metrics"
	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

const (
	maxDatagramSize = 65507
	downlinkBuffer  = 16
	tokenTTL        = 30 * time.Second
)

// Downlink is a PHYPayload received in a PULL_RESP
type Downlink struct {
	Token      uint16
	TXPK       TXPK
	PHYPayload []byte
}

// Config holds the client settings
type Config struct {
	// Bind is the local UDP address, ":0" picks an ephemeral port
	Bind       string
	Server     string
	GatewayEUI lorawan.EUI64
	// DebugUDP logs every datagram as hex
	DebugUDP bool
}

// UDPClient talks the Semtech packet-forwarder protocol to a network server
// on behalf of the simulated gateway.
type UDPClient struct {
	conn       *net.UDPConn
	server     *net.UDPAddr
	gatewayEUI lorawan.EUI64
	debug      bool
	start      time.Time

	downlinks chan Downlink

	mu     sync.Mutex
	tokens map[uint16]pendingToken
	rand   *rand.Rand
}

type pendingToken struct {
	typ    PacketType
	sentAt time.Time
}

// NewUDPClient binds the local socket. A bind failure is fatal to the caller.
func NewUDPClient(cfg Config) (*UDPClient, error) {
	server, err := net.ResolveUDPAddr("udp", cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("resolve server address: %w", err)
	}

	bind := cfg.Bind
	if bind == "" {
		bind = ":0"
	}
	addr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind udp: %w", err)
	}

	return &UDPClient{
		conn:       conn,
		server:     server,
		gatewayEUI: cfg.GatewayEUI,
		debug:      cfg.DebugUDP,
		start:      time.Now(),
		downlinks:  make(chan Downlink, downlinkBuffer),
		tokens:     make(map[uint16]pendingToken),
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// LocalAddr returns the bound address
func (c *UDPClient) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Downlinks delivers each PULL_RESP payload exactly once
func (c *UDPClient) Downlinks() <-chan Downlink {
	return c.downlinks
}

// Tmst returns the concentrator counter: microseconds since start, wrapping at 2^32
func (c *UDPClient) Tmst() uint32 {
	return uint32(time.Since(c.start).Microseconds())
}

// Start reads datagrams until ctx is cancelled. It closes the socket on return.
func (c *UDPClient) Start(ctx context.Context) error {
	log.Info().
		Str("local", c.conn.LocalAddr().String()).
		Str("server", c.server.String()).
		Str("gateway_eui", c.gatewayEUI.String()).
		Msg("packet forwarder client started")

	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("read udp packet")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		c.handlePacket(data, addr)
	}
}

// Close releases the socket
func (c *UDPClient) Close() error {
	return c.conn.Close()
}

// SendPullData sends the keepalive that keeps the downlink path open
func (c *UDPClient) SendPullData() (uint16, error) {
	token := c.newToken(PullData)
	b, err := PullDataPacket{Token: token, GatewayEUI: c.gatewayEUI}.MarshalBinary()
	if err != nil {
		return token, err
	}
	return token, c.send(PullData, b)
}

// SendPushData forwards one radio packet
func (c *UDPClient) SendPushData(rxpk RXPK) (uint16, error) {
	token := c.newToken(PushData)
	b, err := PushDataPacket{
		Token:      token,
		GatewayEUI: c.gatewayEUI,
		Payload:    PushDataPayload{RXPK: []RXPK{rxpk}},
	}.MarshalBinary()
	if err != nil {
		return token, err
	}
	return token, c.send(PushData, b)
}

func (c *UDPClient) send(typ PacketType, b []byte) error {
	if c.debug {
		log.Debug().Str("type", typ.String()).Int("size", len(b)).Hex("data", b).Msg("udp tx")
	}
	if _, err := c.conn.WriteToUDP(b, c.server); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	metrics.UDPPacketSent(typ.String()).Inc()
	return nil
}

func (c *UDPClient) newToken(typ PacketType) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for t, p := range c.tokens {
		if now.Sub(p.sentAt) > tokenTTL {
			log.Debug().Uint16("token", t).Str("type", p.typ.String()).Msg("no acknowledgement received")
			delete(c.tokens, t)
		}
	}

	token := uint16(c.rand.Intn(1 << 16))
	c.tokens[token] = pendingToken{typ: typ, sentAt: now}
	return token
}

func (c *UDPClient) ackToken(token uint16, ack PacketType) {
	c.mu.Lock()
	p, ok := c.tokens[token]
	if ok {
		delete(c.tokens, token)
	}
	c.mu.Unlock()

	if !ok {
		log.Debug().Uint16("token", token).Str("type", ack.String()).Msg("acknowledgement for unknown token")
		return
	}
	log.Debug().
		Uint16("token", token).
		Str("type", ack.String()).
		Str("request", p.typ.String()).
		Dur("rtt", time.Since(p.sentAt)).
		Msg("acknowledgement received")
}

// handlePacket dispatches one received datagram
func (c *UDPClient) handlePacket(data []byte, addr *net.UDPAddr) {
	if c.debug {
		log.Debug().Str("addr", addr.String()).Int("size", len(data)).Hex("data", data).Msg("udp rx")
	}

	h, err := ParseHeader(data)
	if err != nil {
		metrics.UDPPacketDropped("invalid_header").Inc()
		log.Warn().Err(err).Str("addr", addr.String()).Msg("dropping packet")
		return
	}
	if h.Version != ProtocolVersion {
		log.Debug().Uint8("version", h.Version).Str("addr", addr.String()).Msg("unexpected protocol version")
	}
	metrics.UDPPacketReceived(h.Type.String()).Inc()

	switch h.Type {
	case PushAck:
		c.ackToken(h.Token, PushAck)
	case PullAck:
		c.ackToken(h.Token, PullAck)
	case PullResp:
		c.handlePullResp(data)
	default:
		metrics.UDPPacketDropped("unexpected_type").Inc()
		log.Warn().
			Str("type", h.Type.String()).
			Str("addr", addr.String()).
			Msg("unexpected packet type")
	}
}

// handlePullResp acknowledges the PULL_RESP with the same token and queues
// the PHYPayload for the device.
func (c *UDPClient) handlePullResp(data []byte) {
	var pkt PullRespPacket
	if err := pkt.UnmarshalBinary(data); err != nil {
		metrics.UDPPacketDropped("invalid_pull_resp").Inc()
		log.Error().Err(err).Msg("parse PULL_RESP")
		return
	}

	ack, err := NewTxAckPacket(pkt.Token, c.gatewayEUI).MarshalBinary()
	if err == nil {
		err = c.send(TxAck, ack)
	}
	if err != nil {
		log.Error().Err(err).Uint16("token", pkt.Token).Msg("send TX_ACK")
	}

	dl := Downlink{
		Token:      pkt.Token,
		TXPK:       *pkt.Payload.TXPK,
		PHYPayload: pkt.Payload.TXPK.Data,
	}

	log.Info().
		Uint16("token", pkt.Token).
		Float64("freq", dl.TXPK.Freq).
		Int("size", len(dl.PHYPayload)).
		Msg("downlink received")

	select {
	case c.downlinks <- dl:
	default:
		metrics.UDPPacketDropped("queue_full").Inc()
		log.Warn().Uint16("token", pkt.Token).Msg("downlink queue full, dropping")
	}
}
