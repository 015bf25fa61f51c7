package accel

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/networknext/sdk-sub001/accelcrypto"
	"github.com/networknext/sdk-sub001/address"
	"github.com/networknext/sdk-sub001/filter"
	"github.com/networknext/sdk-sub001/pinghistory"
	"github.com/networknext/sdk-sub001/relayping"
	"github.com/networknext/sdk-sub001/replay"
	"github.com/networknext/sdk-sub001/routing"
	"github.com/networknext/sdk-sub001/tracker"
	"github.com/networknext/sdk-sub001/wire"
)

// clientPhase tracks the client's own handshake progress, separately
// from the route manager's three-route state machine.
type clientPhase int32

const (
	phaseIdle clientPhase = iota
	phasePreUpgrade
	phaseUpgraded
	phaseClosed
)

func (p clientPhase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phasePreUpgrade:
		return "pre_upgrade"
	case phaseUpgraded:
		return "upgraded"
	case phaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MaxPacketBytes is the MTU budget SendPacket enforces.
const MaxPacketBytes = 1200

// StatsInterval is how often an upgraded client reports its stats to
// the server.
const StatsInterval = time.Second

// inboundQueueSize bounds the receive-worker-to-update-context queue;
// on overflow the oldest raw packet is dropped to make room for the new
// one, and no count of dropped packets is kept. The queue follows
// the receive worker/update context split (a dedicated OS thread
// blocking on the socket, decoupled from the single update-context
// mutator).
const inboundQueueSize = 1024

type rawPacket struct {
	from address.Address
	data []byte
}

// Client is the game-traffic-accelerator client endpoint.
type Client struct {
	cfg     *Config
	logger  *slog.Logger
	metrics *Metrics

	conn      *net.UDPConn
	localAddr address.Address
	magic     filter.MagicSet

	onPacket func(payload []byte)

	mu             sync.Mutex
	phase          clientPhase
	serverAddr     address.Address
	openSessionSeq uint8
	sendSequence   uint64
	controlSendSeq uint64
	lastStatsTime  time.Time

	kx           accelcrypto.KeyPair
	routeKeys    accelcrypto.KeyPair
	sessionKeys  accelcrypto.SessionKeys
	sessionID    uint64
	sessionVersion uint8
	upgradeToken [8]byte
	buyerPublicKey ed25519.PublicKey

	routes     *routing.Manager
	nearRelays *relayping.Manager
	replayProt *replay.Protection
	pings      *pinghistory.History
	bandwidth  *tracker.BandwidthLimiter

	inbound    chan rawPacket
	stopRecv   chan struct{}
	recvDone   sync.WaitGroup
	destroyOne sync.Once
}

// NewClient binds a UDP socket at bindAddr and spawns the receive
// worker. onPacket is invoked from Update, never from the receive
// worker itself, so applications never need to synchronize against it.
func NewClient(cfg *Config, bindAddr string, magic filter.MagicSet, buyerPublicKey ed25519.PublicKey, onPacket func(payload []byte), logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if onPacket == nil {
		onPacket = func([]byte) {}
	}

	udpAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("accel: resolve bind address %q: %w", bindAddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("accel: bind client socket: %w", err)
	}
	conn.SetReadBuffer(cfg.SocketReceiveBufferSize)
	conn.SetWriteBuffer(cfg.SocketSendBufferSize)

	kx, err := accelcrypto.GenerateKeyPair()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("accel: generate client key-exchange pair: %w", err)
	}
	routeKeys, err := accelcrypto.GenerateKeyPair()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("accel: generate client route key pair: %w", err)
	}

	c := &Client{
		cfg:            cfg,
		logger:         logger,
		conn:           conn,
		localAddr:      address.FromUDPAddr(conn.LocalAddr().(*net.UDPAddr)),
		magic:          magic,
		onPacket:       onPacket,
		phase:          phaseIdle,
		kx:             kx,
		routeKeys:      routeKeys,
		buyerPublicKey: buyerPublicKey,
		nearRelays:     relayping.New(),
		replayProt:     replay.New(),
		pings:          pinghistory.New(),
		bandwidth:      tracker.NewBandwidthLimiter(0, float64(time.Now().Unix())),
		inbound:        make(chan rawPacket, inboundQueueSize),
		stopRecv:       make(chan struct{}),
	}

	c.recvDone.Add(1)
	go c.receiveLoop()

	return c, nil
}

func (c *Client) receiveLoop() {
	defer c.recvDone.Done()
	buf := make([]byte, 2048)
	for {
		select {
		case <-c.stopRecv:
			return
		default:
		}
		c.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		raw := rawPacket{from: address.FromUDPAddr(addr), data: data}

		select {
		case c.inbound <- raw:
		default:
			select {
			case <-c.inbound:
			default:
			}
			select {
			case c.inbound <- raw:
			default:
			}
		}
	}
}

// OpenSession enters the pre-upgrade state: the client will send direct
// packets to serverAddr on every Update call until the server replies
// with an UpgradeRequest.
func (c *Client) OpenSession(serverAddr string) error {
	addr, err := ResolveServerAddress(serverAddr)
	if err != nil {
		return fmt.Errorf("accel: open session: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseClosed {
		return fmt.Errorf("accel: client is closed")
	}
	c.serverAddr = addr
	c.phase = phasePreUpgrade
	c.openSessionSeq = 0
	c.sendSequence = 0
	return nil
}

// Phase reports the client's coarse handshake state.
func (c *Client) Phase() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase.String()
}

// SendPacket sends a payload on the current network route if one
// exists, otherwise directly to the server. It fails silently (no
// error, no send) if no session is open, matching the contract.
func (c *Client) SendPacket(payload []byte) error {
	if len(payload) > MaxPacketBytes {
		return fmt.Errorf("accel: payload exceeds %d-byte MTU budget", MaxPacketBytes)
	}

	c.mu.Lock()
	phase := c.phase
	serverAddr := c.serverAddr
	c.mu.Unlock()

	if phase == phaseIdle || phase == phaseClosed {
		return nil
	}

	if c.routes != nil && c.routes.HasNetworkRoute() {
		seq := c.routes.NextSendSequence()
		framed, nextHop, ok := c.routes.PrepareSendPacket(wire.PacketClientToServer, seq, payload)
		if ok {
			return c.writeTo(nextHop, encodeRouted(wire.PacketClientToServer, framed))
		}
	}
	return c.sendDirectLocked(serverAddr, payload)
}

// SendPacketDirect always sends directly to the server, even if a
// network route is active.
func (c *Client) SendPacketDirect(payload []byte) error {
	if len(payload) > MaxPacketBytes {
		return fmt.Errorf("accel: payload exceeds %d-byte MTU budget", MaxPacketBytes)
	}
	c.mu.Lock()
	serverAddr := c.serverAddr
	phase := c.phase
	c.mu.Unlock()
	if phase == phaseIdle || phase == phaseClosed {
		return nil
	}
	return c.sendDirectLocked(serverAddr, payload)
}

func (c *Client) sendDirectLocked(serverAddr address.Address, payload []byte) error {
	c.mu.Lock()
	openSeq := c.openSessionSeq
	sendSeq := c.sendSequence
	c.sendSequence++
	c.mu.Unlock()

	data, err := encodeDirect(c.magic.Current, c.localAddr, serverAddr, openSeq, sendSeq, payload)
	if err != nil {
		return err
	}
	return c.writeTo(serverAddr, data)
}

func (c *Client) writeTo(to address.Address, data []byte) error {
	_, err := c.conn.WriteToUDP(data, to.UDPAddr())
	if err != nil {
		return fmt.Errorf("accel: send to %s: %w", to, err)
	}
	c.bandwidth.RecordSend(float64(time.Now().Unix()), len(data))
	return nil
}

// Update is the host-driven tick: drains the receive queue, services
// the handshake and route-manager timeouts, and delivers application
// payloads to onPacket. The host is responsible for serializing calls
// per Client.
func (c *Client) Update(now time.Time) {
	for {
		var raw rawPacket
		select {
		case raw = <-c.inbound:
		default:
			goto drained
		}
		c.handlePacket(raw, now)
	}
drained:

	c.mu.Lock()
	routes := c.routes
	phase := c.phase
	c.mu.Unlock()
	if routes != nil {
		routes.CheckForTimeouts(now)
	}
	if phase == phaseUpgraded {
		c.sendDuePings(now)
		c.sendStatsIfDue(now)
	}
}

// nextControlSeq returns the next sequence number for an outgoing
// session-control packet the client seals under its send key, so
// repeated sends never reuse an AEAD nonce.
func (c *Client) nextControlSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.controlSendSeq
	c.controlSendSeq++
	return seq
}

// sendDuePings pings every near relay that's due, using the same
// gauntlet-gated, token-authenticated handshake framing as the upgrade
// packets: the payload itself carries no AEAD seal.
func (c *Client) sendDuePings(now time.Time) {
	c.mu.Lock()
	sessionID := c.sessionID
	magic := c.magic
	localAddr := c.localAddr
	c.mu.Unlock()

	nowSec := float64(now.Unix())
	for _, due := range c.nearRelays.DuePings(nowSec) {
		payload := encodeClientPingPayload(due.Sequence, sessionID, due.Relay.ExpireTimestamp, due.Relay.PingToken)
		data, err := encodeHandshake(wire.PacketClientPing, magic.Current, localAddr, due.Relay.Address, payload)
		if err != nil {
			c.logger.Debug("encode client ping failed", slog.String("err", err.Error()))
			continue
		}
		if err := c.writeTo(due.Relay.Address, data); err != nil {
			c.logger.Debug("send client ping failed", slog.String("err", err.Error()))
		}
	}
}

// sendStatsIfDue reports the session's near-path and near-relay stats
// to the server on StatsInterval, sealed under the session send key.
func (c *Client) sendStatsIfDue(now time.Time) {
	c.mu.Lock()
	last := c.lastStatsTime
	sendKey := c.sessionKeys.SendKey
	sessionID := c.sessionID
	serverAddr := c.serverAddr
	bandwidth := c.bandwidth
	c.mu.Unlock()
	if now.Sub(last) < StatsInterval {
		return
	}

	nowSec := float64(now.Unix())
	stats := pinghistory.StatsFromWindow(c.pings, nowSec-10, nowSec, pinghistory.Safety)
	payload := encodeClientStatsPayload(clientStatsPayload{
		NextRTT:            stats.RTT,
		NextJitter:         stats.Jitter,
		NextPacketLoss:     stats.PacketLoss,
		BandwidthOverLimit: bandwidth.OverLimit(),
		NearRelays:         c.nearRelays.Stats(nowSec, 10),
	})

	header := wire.RoutedHeader{Sequence: c.nextControlSeq(), SessionID: sessionID}
	data, err := wire.SealHeader(sendKey, wire.PacketClientStats, header, payload)
	if err != nil {
		c.logger.Debug("encode client stats failed", slog.String("err", err.Error()))
		return
	}
	if err := c.writeTo(serverAddr, encodeRouted(wire.PacketClientStats, data)); err != nil {
		c.logger.Debug("send client stats failed", slog.String("err", err.Error()))
		return
	}

	c.mu.Lock()
	c.lastStatsTime = now
	c.mu.Unlock()
}

func (c *Client) handlePacket(raw rawPacket, now time.Time) {
	if len(raw.data) == 0 {
		return
	}
	packetType := wire.PacketType(raw.data[0])

	c.mu.Lock()
	phase := c.phase
	serverAddr := c.serverAddr
	magic := c.magic
	c.mu.Unlock()

	switch {
	case packetType == wire.PacketUpgradeRequest && phase == phasePreUpgrade:
		c.handleUpgradeRequest(raw, magic, serverAddr, now)
	case packetType == wire.PacketUpgradeConfirm && phase == phasePreUpgrade:
		c.handleUpgradeConfirm(raw, magic, serverAddr)
	case packetType == wire.PacketDirect && phase != phaseIdle:
		_, _, payload, err := decodeDirect(raw.data, magic, serverAddr, c.localAddr)
		if err != nil {
			c.logger.Debug("dropped direct packet", slog.String("err", err.Error()))
			return
		}
		c.onPacket(payload)
	case packetType == wire.PacketServerToClient && phase == phaseUpgraded:
		c.handleServerToClient(raw)
	case packetType == wire.PacketRouteUpdate && phase == phaseUpgraded:
		c.handleRouteUpdate(raw, now)
	case packetType == wire.PacketRouteResponse && phase == phaseUpgraded:
		c.handleRouteResponse(raw, now)
	case packetType == wire.PacketContinueResponse && phase == phaseUpgraded:
		c.handleContinueResponse(raw)
	case packetType == wire.PacketSessionPing && phase == phaseUpgraded:
		c.handleSessionPing(raw)
	case packetType == wire.PacketClientRelayUpdate && phase == phaseUpgraded:
		c.handleClientRelayUpdate(raw, now)
	case packetType == wire.PacketClientPong && phase == phaseUpgraded:
		c.handleClientPong(raw, now)
	}
}

func (c *Client) handleUpgradeRequest(raw rawPacket, magic filter.MagicSet, serverAddr address.Address, now time.Time) {
	payload, err := decodeHandshake(raw.data, magic, serverAddr, c.localAddr)
	if err != nil {
		c.logger.Debug("dropped upgrade request", slog.String("err", err.Error()))
		return
	}
	req, err := decodeUpgradeRequest(payload, c.buyerPublicKey)
	if err != nil {
		c.logger.Debug("rejected upgrade request", slog.String("err", err.Error()))
		return
	}

	shared, err := accelcrypto.ComputeSharedSecret(c.kx.PrivateKey, req.ServerKXPublic)
	if err != nil {
		c.logger.Debug("upgrade key exchange failed", slog.String("err", err.Error()))
		return
	}
	keys, err := accelcrypto.DeriveSessionKeys(shared, true)
	if err != nil {
		c.logger.Debug("upgrade key derivation failed", slog.String("err", err.Error()))
		return
	}

	resp := upgradeResponse{
		ClientKXPublic:   c.kx.PublicKey,
		RoutePublicKey:   c.routeKeys.PublicKey,
		PlatformID:       PlatformLinux,
		ConnectionType:   ConnectionTypeWired,
		UpgradeTokenEcho: req.UpgradeToken,
	}
	respData, err := encodeHandshake(wire.PacketUpgradeResponse, magic.Current, c.localAddr, serverAddr, resp.encode())
	if err != nil {
		c.logger.Debug("encode upgrade response failed", slog.String("err", err.Error()))
		return
	}

	c.mu.Lock()
	c.sessionKeys = keys
	c.sessionID = req.SessionID
	c.upgradeToken = req.UpgradeToken
	c.routes = routing.New(c.routeKeys.PrivateKey, c.logger)
	c.mu.Unlock()

	if err := c.writeTo(serverAddr, respData); err != nil {
		c.logger.Debug("send upgrade response failed", slog.String("err", err.Error()))
	}
}

func (c *Client) handleUpgradeConfirm(raw rawPacket, magic filter.MagicSet, serverAddr address.Address) {
	payload, err := decodeHandshake(raw.data, magic, serverAddr, c.localAddr)
	if err != nil {
		return
	}
	confirm, err := decodeUpgradeConfirm(payload)
	if err != nil {
		return
	}

	c.mu.Lock()
	if confirm.SessionID != c.sessionID {
		c.mu.Unlock()
		return
	}
	c.sessionVersion = confirm.SessionVersion
	c.phase = phaseUpgraded
	c.mu.Unlock()

	c.logger.Info("session upgraded", slog.Uint64("session_id", confirm.SessionID))
}

func (c *Client) handleServerToClient(raw rawPacket) {
	c.mu.Lock()
	routes := c.routes
	c.mu.Unlock()
	if routes == nil {
		return
	}
	data, err := decodeRouted(raw.data)
	if err != nil {
		c.logger.Debug("dropped server-to-client packet", slog.String("err", err.Error()))
		return
	}
	payload, seq, err := routes.ProcessIncomingRoutedPacket(wire.PacketServerToClient, c.sessionID, data)
	if err != nil {
		c.logger.Debug("dropped server-to-client packet", slog.String("err", err.Error()))
		return
	}
	if c.replayProt.AlreadyReceived(seq) {
		return
	}
	c.replayProt.Advance(seq)
	c.onPacket(payload)
}

// handleRouteUpdate applies a backend route decision the server has
// forwarded: DIRECT falls back to direct, ROUTE begins a pending route
// to the first relay in the chain, CONTINUE extends the current route.
// Either way a RouteAck echoing the update's sequence is sent back.
func (c *Client) handleRouteUpdate(raw rawPacket, now time.Time) {
	c.mu.Lock()
	routes := c.routes
	sessionID := c.sessionID
	recvKey := c.sessionKeys.RecvKey
	sendKey := c.sessionKeys.SendKey
	serverAddr := c.serverAddr
	c.mu.Unlock()
	if routes == nil {
		return
	}

	sealed, err := decodeRouted(raw.data)
	if err != nil {
		return
	}
	h, payload, err := wire.OpenHeader(recvKey, wire.PacketRouteUpdate, sealed)
	if err != nil {
		c.logger.Debug("dropped route update", slog.String("err", err.Error()))
		return
	}
	if h.SessionID != sessionID {
		return
	}
	update, err := decodeRouteUpdatePayload(payload)
	if err != nil {
		c.logger.Debug("malformed route update", slog.String("err", err.Error()))
		return
	}

	switch update.UpdateType {
	case updateTypeDirect:
		routes.DirectRoute()
	case updateTypeRoute:
		requestPayload, nextHop, err := routes.BeginNextRoute(update.Tokens, now)
		if err != nil {
			c.logger.Debug("begin next route failed", slog.String("err", err.Error()))
			break
		}
		c.sendRouteRequest(routes, requestPayload, nextHop)
	case updateTypeContinue:
		continuePayload, nextHop, err := routes.ContinueNextRoute(update.Tokens, now)
		if err != nil {
			c.logger.Debug("continue next route failed", slog.String("err", err.Error()))
			break
		}
		c.sendContinueRequest(routes, continuePayload, nextHop)
	}

	ackHeader := wire.RoutedHeader{Sequence: h.Sequence, SessionID: sessionID}
	ackData, err := wire.SealHeader(sendKey, wire.PacketRouteAck, ackHeader, encodeRouteAckPayload())
	if err != nil {
		c.logger.Debug("encode route ack failed", slog.String("err", err.Error()))
		return
	}
	if err := c.writeTo(serverAddr, encodeRouted(wire.PacketRouteAck, ackData)); err != nil {
		c.logger.Debug("send route ack failed", slog.String("err", err.Error()))
	}
}

func (c *Client) sendRouteRequest(routes *routing.Manager, requestPayload []byte, nextHop address.Address) {
	seq := routes.NextSendSequence()
	framed, hop, err := routes.SealRouteRequest(seq, requestPayload)
	if err != nil {
		c.logger.Debug("seal route request failed", slog.String("err", err.Error()))
		return
	}
	if err := c.writeTo(hop, encodeRouted(wire.PacketRouteRequest, framed)); err != nil {
		c.logger.Debug("send route request failed", slog.String("err", err.Error()))
	}
	_ = nextHop
}

func (c *Client) sendContinueRequest(routes *routing.Manager, continuePayload []byte, nextHop address.Address) {
	seq := routes.NextSendSequence()
	framed, hop, err := routes.SealContinueRequest(seq, continuePayload)
	if err != nil {
		c.logger.Debug("seal continue request failed", slog.String("err", err.Error()))
		return
	}
	if err := c.writeTo(hop, encodeRouted(wire.PacketContinueRequest, framed)); err != nil {
		c.logger.Debug("send continue request failed", slog.String("err", err.Error()))
	}
	_ = nextHop
}

// handleRouteResponse verifies the relay's reply to a route request and
// confirms the pending route as installed.
func (c *Client) handleRouteResponse(raw rawPacket, now time.Time) {
	c.mu.Lock()
	routes := c.routes
	c.mu.Unlock()
	if routes == nil {
		return
	}
	data, err := decodeRouted(raw.data)
	if err != nil {
		return
	}
	if err := routes.ProcessRouteResponse(now, data); err != nil {
		c.logger.Debug("dropped route response", slog.String("err", err.Error()))
	}
}

// handleContinueResponse verifies the relay's reply to a continue
// request and extends the current route's expiry.
func (c *Client) handleContinueResponse(raw rawPacket) {
	c.mu.Lock()
	routes := c.routes
	c.mu.Unlock()
	if routes == nil {
		return
	}
	data, err := decodeRouted(raw.data)
	if err != nil {
		return
	}
	if err := routes.ProcessContinueResponse(data); err != nil {
		c.logger.Debug("dropped continue response", slog.String("err", err.Error()))
	}
}

// handleSessionPing replies to a server-initiated route-path keepalive
// with a SessionPong carrying back the same sequence, over the same
// route.
func (c *Client) handleSessionPing(raw rawPacket) {
	c.mu.Lock()
	routes := c.routes
	sessionID := c.sessionID
	c.mu.Unlock()
	if routes == nil {
		return
	}
	data, err := decodeRouted(raw.data)
	if err != nil {
		return
	}
	_, seq, err := routes.ProcessIncomingRoutedPacket(wire.PacketSessionPing, sessionID, data)
	if err != nil {
		c.logger.Debug("dropped session ping", slog.String("err", err.Error()))
		return
	}
	framed, nextHop, ok := routes.PrepareSendPacket(wire.PacketSessionPong, seq, nil)
	if !ok {
		return
	}
	if err := c.writeTo(nextHop, encodeRouted(wire.PacketSessionPong, framed)); err != nil {
		c.logger.Debug("send session pong failed", slog.String("err", err.Error()))
	}
}

// handleClientPong matches a near-relay's pong reply against the
// pending ping it answers.
func (c *Client) handleClientPong(raw rawPacket, now time.Time) {
	payload, err := decodeHandshake(raw.data, c.magic, raw.from, c.localAddr)
	if err != nil {
		return
	}
	sequence, err := decodeClientPongPayload(payload)
	if err != nil {
		return
	}
	c.nearRelays.ProcessPong(raw.from, sequence, float64(now.Unix()))
}

// handleClientRelayUpdate applies a backend-pushed near-relay set the
// server has forwarded, and acks it.
func (c *Client) handleClientRelayUpdate(raw rawPacket, now time.Time) {
	c.mu.Lock()
	sessionID := c.sessionID
	recvKey := c.sessionKeys.RecvKey
	sendKey := c.sessionKeys.SendKey
	serverAddr := c.serverAddr
	c.mu.Unlock()

	sealed, err := decodeRouted(raw.data)
	if err != nil {
		return
	}
	h, payload, err := wire.OpenHeader(recvKey, wire.PacketClientRelayUpdate, sealed)
	if err != nil {
		c.logger.Debug("dropped client relay update", slog.String("err", err.Error()))
		return
	}
	if h.SessionID != sessionID {
		return
	}
	relays, err := decodeRelayListPayload(payload)
	if err != nil {
		c.logger.Debug("malformed client relay update", slog.String("err", err.Error()))
		return
	}
	c.nearRelays.Update(relays, float64(now.Unix()))

	ackHeader := wire.RoutedHeader{Sequence: h.Sequence, SessionID: sessionID}
	ackData, err := wire.SealHeader(sendKey, wire.PacketClientRelayAck, ackHeader, nil)
	if err != nil {
		c.logger.Debug("encode client relay ack failed", slog.String("err", err.Error()))
		return
	}
	if err := c.writeTo(serverAddr, encodeRouted(wire.PacketClientRelayAck, ackData)); err != nil {
		c.logger.Debug("send client relay ack failed", slog.String("err", err.Error()))
	}
}

// CloseSession tears down the session state but keeps the socket and
// receive worker alive so a new OpenSession can reuse them.
func (c *Client) CloseSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phaseIdle
	c.routes = nil
	c.replayProt.Reset()
}

// Destroy performs an orderly teardown: stops the receive worker and
// closes the socket.
func (c *Client) Destroy() error {
	var closeErr error
	c.destroyOne.Do(func() {
		c.mu.Lock()
		c.phase = phaseClosed
		c.mu.Unlock()

		close(c.stopRecv)
		c.recvDone.Wait()
		closeErr = c.conn.Close()
	})
	return closeErr
}
