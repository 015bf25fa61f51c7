package accel

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/networknext/sdk-sub001/accelcrypto"
	"github.com/networknext/sdk-sub001/address"
	"github.com/networknext/sdk-sub001/filter"
	"github.com/networknext/sdk-sub001/relayping"
	"github.com/networknext/sdk-sub001/session"
	"github.com/networknext/sdk-sub001/wire"
)

// UpgradeRequestTimeout bounds how long a pending upgrade (server sent
// UpgradeRequest, waiting for UpgradeResponse) is kept before it's
// dropped and can be retried.
const UpgradeRequestTimeout = 5 * time.Second

// pendingUpgrade tracks one in-flight server-initiated handshake: a
// session is only registered once the cryptographic exchange
// completes, never on first packet.
type pendingUpgrade struct {
	sessionID    uint64
	userHash     uint64
	serverKX     accelcrypto.KeyPair
	upgradeToken [8]byte
	startTime    time.Time
}

// Server is the game-traffic-accelerator server endpoint: it upgrades
// clients into sessions, decrypts routed traffic under each session's
// installed route key, and hands application payloads to onPacket.
type Server struct {
	cfg     *Config
	logger  *slog.Logger
	metrics *Metrics

	conn       *net.UDPConn
	publicAddr address.Address
	localAddr  address.Address
	datacenter string
	magic      filter.MagicSet

	buyerPrivateKey ed25519.PrivateKey
	routeKeys       accelcrypto.KeyPair

	onPacket func(from address.Address, payload []byte)

	mu              sync.Mutex
	pendingUpgrades map[string]*pendingUpgrade

	sessions *session.Table

	inbound    chan rawPacket
	stopRecv   chan struct{}
	recvDone   sync.WaitGroup
	destroyOne sync.Once
}

// NewServer binds a UDP socket at bindAddr, advertising publicAddr to
// clients (the two differ behind NAT/load balancers), and spawns the
// receive worker.
func NewServer(cfg *Config, publicAddr, bindAddr string, datacenter string, magic filter.MagicSet, buyerPrivateKey ed25519.PrivateKey, onPacket func(from address.Address, payload []byte), logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if onPacket == nil {
		onPacket = func(address.Address, []byte) {}
	}

	pub, err := ResolveServerAddress(publicAddr)
	if err != nil {
		return nil, fmt.Errorf("accel: resolve server public address: %w", err)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("accel: resolve bind address %q: %w", bindAddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("accel: bind server socket: %w", err)
	}
	conn.SetReadBuffer(cfg.SocketReceiveBufferSize)
	conn.SetWriteBuffer(cfg.SocketSendBufferSize)

	routeKeys, err := accelcrypto.GenerateKeyPair()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("accel: generate server route key pair: %w", err)
	}

	s := &Server{
		cfg:             cfg,
		logger:          logger,
		conn:            conn,
		publicAddr:      pub,
		localAddr:       address.FromUDPAddr(conn.LocalAddr().(*net.UDPAddr)),
		datacenter:      datacenter,
		magic:           magic,
		buyerPrivateKey: buyerPrivateKey,
		routeKeys:       routeKeys,
		onPacket:        onPacket,
		pendingUpgrades: make(map[string]*pendingUpgrade),
		sessions:        session.NewTable(),
		inbound:         make(chan rawPacket, inboundQueueSize),
		stopRecv:        make(chan struct{}),
	}

	s.recvDone.Add(1)
	go s.receiveLoop()

	return s, nil
}

func (s *Server) receiveLoop() {
	defer s.recvDone.Done()
	buf := make([]byte, 2048)
	for {
		select {
		case <-s.stopRecv:
			return
		default:
		}
		s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		raw := rawPacket{from: address.FromUDPAddr(addr), data: data}

		select {
		case s.inbound <- raw:
		default:
			select {
			case <-s.inbound:
			default:
			}
			select {
			case s.inbound <- raw:
			default:
			}
		}
	}
}

func newSessionID() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// UpgradeSession begins a server-initiated handshake with a
// not-yet-accelerated client: sends a buyer-signed UpgradeRequest and
// records the pending exchange. The session is only registered in the
// table once the client's UpgradeResponse arrives.
func (s *Server) UpgradeSession(clientAddr string, userID uint64) error {
	addr, err := ResolveServerAddress(clientAddr)
	if err != nil {
		return fmt.Errorf("accel: upgrade session: %w", err)
	}

	kx, err := accelcrypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("accel: generate upgrade key pair: %w", err)
	}
	token, err := randomUpgradeToken()
	if err != nil {
		return fmt.Errorf("accel: generate upgrade token: %w", err)
	}
	sessionID, err := newSessionID()
	if err != nil {
		return fmt.Errorf("accel: generate session id: %w", err)
	}

	req := upgradeRequest{
		ProtocolVersion: 1,
		SessionID:       sessionID,
		ServerKXPublic:  kx.PublicKey,
		UpgradeToken:    token,
	}
	data, err := encodeHandshake(wire.PacketUpgradeRequest, s.magic.Current, s.publicAddr, addr, req.encode(s.buyerPrivateKey))
	if err != nil {
		return fmt.Errorf("accel: encode upgrade request: %w", err)
	}

	s.mu.Lock()
	s.pendingUpgrades[addr.String()] = &pendingUpgrade{
		sessionID:    sessionID,
		userHash:     userID,
		serverKX:     kx,
		upgradeToken: token,
		startTime:    time.Now(),
	}
	s.mu.Unlock()

	_, err = s.conn.WriteToUDP(data, addr.UDPAddr())
	if err != nil {
		return fmt.Errorf("accel: send upgrade request: %w", err)
	}
	return nil
}

// SendPacket sends a payload to an upgraded client on its current
// route, falling back to direct if no route is installed or no
// session exists at all.
func (s *Server) SendPacket(clientAddr address.Address, payload []byte) error {
	if len(payload) > MaxPacketBytes {
		return fmt.Errorf("accel: payload exceeds %d-byte MTU budget", MaxPacketBytes)
	}

	if sess, ok := s.sessions.LookupByAddress(clientAddr); ok {
		if sess.Routes.HasNetworkRoute() {
			seq := sess.Routes.NextSendSequence()
			framed, nextHop, ok := sess.Routes.PrepareSendPacket(wire.PacketServerToClient, seq, payload)
			if ok {
				n, err := s.conn.WriteToUDP(encodeRouted(wire.PacketServerToClient, framed), nextHop.UDPAddr())
				if err == nil {
					sess.Bandwidth.RecordSend(float64(time.Now().Unix()), n)
				}
				return err
			}
		}
	}

	data, err := encodeDirect(s.magic.Current, s.publicAddr, clientAddr, 0, 0, payload)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(data, clientAddr.UDPAddr())
	return err
}

// Update drains the receive queue, advances pending handshakes and
// every session's route-manager timeouts, and sweeps out sessions that
// have gone silent.
func (s *Server) Update(now time.Time) {
	for {
		var raw rawPacket
		select {
		case raw = <-s.inbound:
		default:
			goto drained
		}
		s.handlePacket(raw, now)
	}
drained:

	s.expirePendingUpgrades(now)
	s.sendDuePings(now)
	s.sessions.Range(func(sess *session.Session) {
		sess.Routes.CheckForTimeouts(now)
	})

	for _, id := range s.sessions.SweepTimedOut(now) {
		s.logger.Info("session timed out", slog.Uint64("session_id", id))
		if s.metrics != nil {
			s.metrics.SessionsActive.Dec()
		}
	}
}

func (s *Server) expirePendingUpgrades(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, p := range s.pendingUpgrades {
		if now.Sub(p.startTime) > UpgradeRequestTimeout {
			delete(s.pendingUpgrades, k)
		}
	}
}

func (s *Server) handlePacket(raw rawPacket, now time.Time) {
	if len(raw.data) == 0 {
		return
	}
	packetType := wire.PacketType(raw.data[0])

	switch packetType {
	case wire.PacketUpgradeResponse:
		s.handleUpgradeResponse(raw, now)
	case wire.PacketDirect:
		_, _, payload, err := decodeDirect(raw.data, s.magic, raw.from, s.publicAddr)
		if err != nil {
			s.logger.Debug("dropped direct packet", slog.String("err", err.Error()))
			return
		}
		if sess, ok := s.sessions.LookupByAddress(raw.from); ok {
			sess.TouchClientPacket(now)
		}
		s.onPacket(raw.from, payload)
	case wire.PacketClientToServer:
		s.handleClientToServer(raw, now)
	case wire.PacketRouteAck:
		s.handleRouteAck(raw)
	case wire.PacketSessionPong:
		s.handleSessionPong(raw, now)
	case wire.PacketClientStats:
		s.handleClientStats(raw)
	case wire.PacketClientRelayAck:
		s.handleClientRelayAck(raw)
	}
}

func (s *Server) handleUpgradeResponse(raw rawPacket, now time.Time) {
	s.mu.Lock()
	pending, ok := s.pendingUpgrades[raw.from.String()]
	if ok {
		delete(s.pendingUpgrades, raw.from.String())
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	payload, err := decodeHandshake(raw.data, s.magic, raw.from, s.publicAddr)
	if err != nil {
		s.logger.Debug("dropped upgrade response", slog.String("err", err.Error()))
		return
	}
	resp, err := decodeUpgradeResponse(payload)
	if err != nil {
		s.logger.Debug("malformed upgrade response", slog.String("err", err.Error()))
		return
	}
	if resp.UpgradeTokenEcho != pending.upgradeToken {
		s.logger.Debug("upgrade token mismatch, dropping response")
		return
	}

	shared, err := accelcrypto.ComputeSharedSecret(pending.serverKX.PrivateKey, resp.ClientKXPublic)
	if err != nil {
		s.logger.Debug("upgrade key exchange failed", slog.String("err", err.Error()))
		return
	}
	keys, err := accelcrypto.DeriveSessionKeys(shared, false)
	if err != nil {
		s.logger.Debug("upgrade key derivation failed", slog.String("err", err.Error()))
		return
	}

	sess := session.New(pending.sessionID, raw.from, pending.userHash, s.routeKeys.PrivateKey, keys, 0, now, s.logger)
	s.sessions.Insert(sess)
	if s.metrics != nil {
		s.metrics.SessionsActive.Inc()
	}

	confirm := upgradeConfirm{SessionID: pending.sessionID, SessionVersion: sess.Version()}
	data, err := encodeHandshake(wire.PacketUpgradeConfirm, s.magic.Current, s.publicAddr, raw.from, confirm.encode())
	if err != nil {
		s.logger.Debug("encode upgrade confirm failed", slog.String("err", err.Error()))
		return
	}
	if _, err := s.conn.WriteToUDP(data, raw.from.UDPAddr()); err != nil {
		s.logger.Debug("send upgrade confirm failed", slog.String("err", err.Error()))
	}
}

func (s *Server) handleClientToServer(raw rawPacket, now time.Time) {
	sess, ok := s.sessions.LookupByAddress(raw.from)
	if !ok {
		return
	}
	data, err := decodeRouted(raw.data)
	if err != nil {
		return
	}
	payload, seq, err := sess.Routes.ProcessIncomingRoutedPacket(wire.PacketClientToServer, sess.ID(), data)
	if err != nil {
		s.logger.Debug("dropped client-to-server packet", slog.String("err", err.Error()))
		return
	}
	if sess.Replay.AlreadyReceived(seq) {
		return
	}
	sess.Replay.Advance(seq)
	sess.PacketLoss.RecordReceived()
	sess.OutOfOrder.Record(seq)
	sess.Jitter.Record(float64(now.UnixNano()) / 1e9)
	sess.TouchClientPacket(now)
	s.onPacket(raw.from, payload)
}

// ApplyRouteUpdate is the entry point an external backend-RPC layer
// calls with a route decision for a session: DIRECT falls back, ROUTE
// installs a fresh route, CONTINUE extends the current one. The server
// is the route's terminal hop, so unlike the client there's no relay
// round trip to wait on — the backend-issued token is trusted and the
// route is confirmed synchronously, which is also the point a new
// session_version actually gets minted. The (possibly different) token
// chain meant for the client side is forwarded to it as a RouteUpdate
// packet so its own route manager can run the real relay handshake.
func (s *Server) ApplyRouteUpdate(sessionID uint64, updateType uint8, serverTokens, clientTokens [][]byte, now time.Time) error {
	sess, ok := s.sessions.LookupByID(sessionID)
	if !ok {
		return fmt.Errorf("accel: apply route update: unknown session %d", sessionID)
	}

	switch updateType {
	case updateTypeDirect:
		sess.Routes.DirectRoute()
	case updateTypeRoute:
		if _, _, err := sess.Routes.BeginNextRoute(serverTokens, now); err != nil {
			return fmt.Errorf("accel: begin next route: %w", err)
		}
		if err := sess.Routes.ConfirmPendingRoute(now); err != nil {
			return fmt.Errorf("accel: confirm pending route: %w", err)
		}
		sess.BumpVersion()
	case updateTypeContinue:
		if _, _, err := sess.Routes.ContinueNextRoute(serverTokens, now); err != nil {
			return fmt.Errorf("accel: continue next route: %w", err)
		}
		if err := sess.Routes.ConfirmContinueRoute(); err != nil {
			return fmt.Errorf("accel: confirm continue route: %w", err)
		}
		sess.BumpVersion()
	default:
		return fmt.Errorf("accel: apply route update: unknown update type %d", updateType)
	}

	payload := encodeRouteUpdatePayload(routeUpdatePayload{UpdateType: updateType, Tokens: clientTokens})
	header := wire.RoutedHeader{Sequence: sess.NextControlSequence(), SessionID: sessionID}
	data, err := wire.SealHeader(sess.SendKey(), wire.PacketRouteUpdate, header, payload)
	if err != nil {
		return fmt.Errorf("accel: encode route update: %w", err)
	}
	_, err = s.conn.WriteToUDP(encodeRouted(wire.PacketRouteUpdate, data), sess.ClientAddress().UDPAddr())
	return err
}

// ApplyNearRelayUpdate forwards a backend-pushed near-relay set to the
// session's client.
func (s *Server) ApplyNearRelayUpdate(sessionID uint64, relays []relayping.Relay, now time.Time) error {
	sess, ok := s.sessions.LookupByID(sessionID)
	if !ok {
		return fmt.Errorf("accel: apply near relay update: unknown session %d", sessionID)
	}
	payload := encodeRelayListPayload(relays)
	header := wire.RoutedHeader{Sequence: sess.NextControlSequence(), SessionID: sessionID}
	data, err := wire.SealHeader(sess.SendKey(), wire.PacketClientRelayUpdate, header, payload)
	if err != nil {
		return fmt.Errorf("accel: encode client relay update: %w", err)
	}
	_, err = s.conn.WriteToUDP(encodeRouted(wire.PacketClientRelayUpdate, data), sess.ClientAddress().UDPAddr())
	return err
}

// sendDuePings sends a route-path keepalive (session ping) to every
// session that's due one, over its current route.
func (s *Server) sendDuePings(now time.Time) {
	s.sessions.Range(func(sess *session.Session) {
		if !sess.Routes.HasNetworkRoute() || !sess.DueSessionPing(now) {
			return
		}
		seq := sess.Pings.PingSent(float64(now.Unix()))
		framed, nextHop, ok := sess.Routes.PrepareSendPacket(wire.PacketSessionPing, seq, nil)
		if !ok {
			return
		}
		if _, err := s.conn.WriteToUDP(encodeRouted(wire.PacketSessionPing, framed), nextHop.UDPAddr()); err != nil {
			s.logger.Debug("send session ping failed", slog.String("err", err.Error()))
			return
		}
		sess.MarkSessionPingSent(now)
	})
}

// handleRouteAck logs the client's acknowledgement of a forwarded route
// update; nothing is retransmitted on the server side since the route
// itself was already confirmed synchronously in ApplyRouteUpdate.
func (s *Server) handleRouteAck(raw rawPacket) {
	sess, ok := s.sessions.LookupByAddress(raw.from)
	if !ok {
		return
	}
	data, err := decodeRouted(raw.data)
	if err != nil {
		return
	}
	if _, _, err := wire.OpenHeader(sess.RecvKey(), wire.PacketRouteAck, data); err != nil {
		s.logger.Debug("dropped route ack", slog.String("err", err.Error()))
	}
}

// handleSessionPong feeds the route-path RTT sample back into the
// session's ping history.
func (s *Server) handleSessionPong(raw rawPacket, now time.Time) {
	sess, ok := s.sessions.LookupByAddress(raw.from)
	if !ok {
		return
	}
	data, err := decodeRouted(raw.data)
	if err != nil {
		return
	}
	_, seq, err := sess.Routes.ProcessIncomingRoutedPacket(wire.PacketSessionPong, sess.ID(), data)
	if err != nil {
		s.logger.Debug("dropped session pong", slog.String("err", err.Error()))
		return
	}
	sess.Pings.PongReceived(seq, float64(now.Unix()))
}

// handleClientStats decodes a client's self-reported near-path and
// near-relay stats. Forwarding these to the backend is an external
// concern; the server's own responsibility ends at logging them.
func (s *Server) handleClientStats(raw rawPacket) {
	sess, ok := s.sessions.LookupByAddress(raw.from)
	if !ok {
		return
	}
	data, err := decodeRouted(raw.data)
	if err != nil {
		return
	}
	_, payload, err := wire.OpenHeader(sess.RecvKey(), wire.PacketClientStats, data)
	if err != nil {
		s.logger.Debug("dropped client stats", slog.String("err", err.Error()))
		return
	}
	stats, err := decodeClientStatsPayload(payload)
	if err != nil {
		s.logger.Debug("malformed client stats", slog.String("err", err.Error()))
		return
	}
	s.logger.Debug("client stats",
		slog.Uint64("session_id", sess.ID()),
		slog.Float64("next_rtt", stats.NextRTT),
		slog.Float64("next_jitter", stats.NextJitter),
		slog.Float64("next_packet_loss", stats.NextPacketLoss),
		slog.Bool("bandwidth_over_limit", stats.BandwidthOverLimit),
		slog.Int("near_relay_count", len(stats.NearRelays)))
}

// handleClientRelayAck logs the client's acknowledgement of a forwarded
// near-relay set.
func (s *Server) handleClientRelayAck(raw rawPacket) {
	sess, ok := s.sessions.LookupByAddress(raw.from)
	if !ok {
		return
	}
	data, err := decodeRouted(raw.data)
	if err != nil {
		return
	}
	if _, _, err := wire.OpenHeader(sess.RecvKey(), wire.PacketClientRelayAck, data); err != nil {
		s.logger.Debug("dropped client relay ack", slog.String("err", err.Error()))
	}
}

// Flush is a placeholder for a backend-stats flush tick; nothing is
// buffered yet that needs an explicit flush, but the hook exists so
// callers can drive it on a fixed cadence without depending on Update's
// internals.
func (s *Server) Flush() {}

// Destroy stops the receive worker and closes the socket.
func (s *Server) Destroy() error {
	var closeErr error
	s.destroyOne.Do(func() {
		close(s.stopRecv)
		s.recvDone.Wait()
		closeErr = s.conn.Close()
	})
	return closeErr
}
