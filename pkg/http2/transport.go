package http2

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

const (
	// HTTP/2 connection preface
	ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"
)

// Transport manages HTTP/2 connections
type Transport struct {
	connections map[string]*Connection
	mu          sync.RWMutex
	options     *Options

	// Lifecycle management
	stopChan chan struct{}  // Channel to signal background goroutines to stop
	wg       sync.WaitGroup // WaitGroup to track running goroutines
}

// NewTransport creates a new HTTP/2 transport
func NewTransport(opts *Options) *Transport {
	if opts == nil {
		opts = DefaultOptions()
	}

	// Validate options (DEF-9)
	if err := ValidateOptions(opts); err != nil {
		// Return transport with default options if validation fails
		// (graceful degradation; the validation error is discarded)
		opts = DefaultOptions()
	}

	t := &Transport{
		connections: make(map[string]*Connection),
		options:     opts,
		stopChan:    make(chan struct{}),
	}

	// Start connection health checker
	go t.healthChecker()

	return t
}

// healthChecker periodically checks connection health
func (t *Transport) healthChecker() {
	t.wg.Add(1)
	defer t.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.checkConnectionHealth()
		case <-t.stopChan:
			// Cleanup and exit
			return
		}
	}
}

// checkConnectionHealth sends PING frames and removes unhealthy connections
func (t *Transport) checkConnectionHealth() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for addr, conn := range t.connections {
		// Check if connection is idle
		conn.mu.RLock()
		idleTime := now.Sub(conn.LastActivity)
		closed := conn.Closed
		conn.mu.RUnlock()

		if closed {
			// Remove closed connections
			delete(t.connections, addr)
			continue
		}

		// Send PING for keep-alive if idle for more than 15 seconds
		if idleTime > 15*time.Second {
			pingData := [8]byte{0, 0, 0, 0, 0, 0, 0, byte(now.Unix())}

			// Lock before writing to prevent concurrent write panic
			conn.mu.Lock()
			err := conn.Framer.WritePing(false, pingData)
			if err == nil {
				// Update last activity on success
				conn.LastActivity = now
			}
			conn.mu.Unlock()

			if err != nil {
				// Connection is broken, close and remove it
				conn.Close()
				delete(t.connections, addr)
			}
		}

		// Remove connections idle for too long (5 minutes)
		if idleTime > 5*time.Minute {
			conn.Close()
			delete(t.connections, addr)
		}
	}
}

// ConnectWithConn builds an HTTP/2 Connection around an already-established
// net.Conn (for example, one produced by pkg/connector's uTLS handshake)
// instead of dialing and negotiating TLS itself. addr is used only as the
// connection-pool cache key when opts.ReuseConnection is set.
func (t *Transport) ConnectWithConn(rawConn net.Conn, addr string, opts *Options) (*Connection, error) {
	if opts == nil {
		opts = t.options
	}

	if opts.ReuseConnection {
		t.mu.Lock()
		if conn, exists := t.connections[addr]; exists && conn.Ready && !conn.Closed {
			t.mu.Unlock()
			return conn, nil
		}
		t.mu.Unlock()
	}

	conn := &Connection{
		Conn:          rawConn,
		Framer:        http2.NewFramer(rawConn, rawConn),
		Streams:       make(map[uint32]*Stream),
		NextStreamID:  1,
		MaxConcurrent: opts.MaxConcurrentStreams,
		WindowSize:    int32(opts.InitialWindowSize),
		Settings:      make(map[http2.SettingID]uint32),
		PeerSettings:  make(map[http2.SettingID]uint32),
		LastActivity:  time.Now(),
	}

	conn.EncoderBuf = &bytes.Buffer{}
	conn.Encoder = hpack.NewEncoder(conn.EncoderBuf)
	conn.Encoder.SetMaxDynamicTableSize(opts.HeaderTableSize)
	conn.Decoder = hpack.NewDecoder(opts.HeaderTableSize, nil)

	if _, err := rawConn.Write([]byte(ClientPreface)); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("failed to write connection preface: %w", err)
	}
	if err := t.sendInitialSettings(conn, opts); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("failed to send settings: %w", err)
	}
	conn.Ready = true

	if opts.ReuseConnection {
		t.mu.Lock()
		if existing, exists := t.connections[addr]; exists && existing.Ready && !existing.Closed {
			t.mu.Unlock()
			conn.Close()
			return existing, nil
		}
		t.connections[addr] = conn
		t.mu.Unlock()
	}

	return conn, nil
}

// sendInitialSettings sends initial SETTINGS frame (aligned with Go's approach)
func (t *Transport) sendInitialSettings(conn *Connection, opts *Options) error {
	// Start from the settings that Go's HTTP/2 sends (minimal set); header
	// table size and max concurrent streams are added only when the
	// profile's SettingsOrder names them
	settings := map[http2.SettingID]uint32{
		http2.SettingEnablePush:        boolToUint32(opts.EnableServerPush), // Always 0
		http2.SettingInitialWindowSize: opts.InitialWindowSize,              // 4MB
		http2.SettingMaxFrameSize:      opts.MaxFrameSize,                   // 16KB
		http2.SettingMaxHeaderListSize: opts.MaxHeaderListSize,              // 10MB
	}
	for _, id := range opts.SettingsOrder {
		switch id {
		case http2.SettingHeaderTableSize:
			settings[id] = opts.HeaderTableSize
		case http2.SettingMaxConcurrentStreams:
			settings[id] = opts.MaxConcurrentStreams
		}
	}
	for id, value := range opts.UnknownSettings {
		settings[id] = value
	}

	// Store our settings
	for id, value := range settings {
		conn.Settings[id] = value
	}

	// Send SETTINGS frame. When the profile declares an explicit order
	// (including placeholder unknown-settings IDs used only for
	// fingerprinting), emit it positionally instead of map order.
	if err := conn.Framer.WriteSettings(orderedSettings(settings, opts.SettingsOrder)...); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	// Wait for SETTINGS ACK from server (required by HTTP/2 spec)
	if err := t.waitForSettingsAck(conn); err != nil {
		return fmt.Errorf("failed to receive settings ACK: %w", err)
	}

	// Send connection-level window update (like Go's HTTP/2 does)
	// Go sends a WINDOW_UPDATE to increase the connection window size
	if opts.InitialWindowSize > 65535 {
		increment := opts.InitialWindowSize - 65535
		if err := conn.Framer.WriteWindowUpdate(0, increment); err != nil {
			return fmt.Errorf("failed to write connection window update: %w", err)
		}
	}

	return nil
}

// waitForSettingsAck waits for SETTINGS ACK from server
func (t *Transport) waitForSettingsAck(conn *Connection) error {
	// Set deadline on the connection to prevent indefinite blocking (DEF-7)
	deadline := time.Now().Add(10 * time.Second)
	if err := conn.Conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set read deadline: %w", err)
	}
	defer conn.Conn.SetReadDeadline(time.Time{}) // Clear deadline

	// Set a reasonable timeout for the handshake
	timeout := time.NewTimer(10 * time.Second)
	defer timeout.Stop()

	// Read frames until we get SETTINGS ACK
	for {
		// Check for timeout
		select {
		case <-timeout.C:
			return fmt.Errorf("timeout waiting for SETTINGS ACK")
		default:
		}

		frame, err := conn.Framer.ReadFrame()
		if err != nil {
			return fmt.Errorf("failed to read frame while waiting for SETTINGS ACK: %w", err)
		}

		switch f := frame.(type) {
		case *http2.SettingsFrame:
			if f.IsAck() {
				// Got SETTINGS ACK, we can proceed
				return nil
			} else {
				// Server sent its own SETTINGS, we should ACK it
				if err := conn.Framer.WriteSettingsAck(); err != nil {
					return fmt.Errorf("failed to ACK server settings: %w", err)
				}
				// Continue waiting for our SETTINGS ACK
			}

		case *http2.WindowUpdateFrame:
			// Server might send window updates, that's fine, ignore for now
			continue

		case *http2.PingFrame:
			// Server might send PING, we should respond
			if err := conn.Framer.WritePing(true, f.Data); err != nil {
				return fmt.Errorf("failed to respond to PING: %w", err)
			}

		case *http2.GoAwayFrame:
			return fmt.Errorf("server sent GOAWAY during handshake: last stream %d, error %v",
				f.LastStreamID, f.ErrCode)

		default:
			// Unexpected frame during handshake
			return fmt.Errorf("unexpected frame during SETTINGS handshake: %T", frame)
		}
	}
}

// Close gracefully shuts down the HTTP/2 Transport by stopping background goroutines
// and closing all active connections. This method should be called when the
// Transport is no longer needed to prevent goroutine leaks.
func (t *Transport) Close() error {
	// Signal health checker goroutine to stop
	close(t.stopChan)

	// Wait for all goroutines to finish
	t.wg.Wait()

	// Close all active connections
	t.mu.Lock()
	defer t.mu.Unlock()

	var lastErr error
	for addr, conn := range t.connections {
		if err := conn.Close(); err != nil {
			lastErr = err
		}
		delete(t.connections, addr)
	}

	return lastErr
}

// GetPoolStats returns current HTTP/2 connection pool statistics (DEF-5).
// This provides visibility into connection reuse, active streams, and pool health.
func (t *Transport) GetPoolStats() *ConnectionPoolStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := &ConnectionPoolStats{
		ActiveConnections: len(t.connections),
		Connections:       make(map[string]ConnectionStats),
	}

	totalStreams := 0
	for addr, conn := range t.connections {
		conn.mu.RLock()
		activeStreams := 0
		for _, stream := range conn.Streams {
			if !stream.Closed {
				activeStreams++
			}
		}
		totalStreams += len(conn.Streams)

		stats.Connections[addr] = ConnectionStats{
			Address:       addr,
			StreamsActive: activeStreams,
			StreamsTotal:  len(conn.Streams),
			LastActivity:  conn.LastActivity,
			Ready:         conn.Ready,
		}
		conn.mu.RUnlock()
	}

	stats.TotalStreams = totalStreams
	return stats
}

// Helper functions

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func convertSettings(settings map[http2.SettingID]uint32) []http2.Setting {
	var result []http2.Setting
	for id, val := range settings {
		result = append(result, http2.Setting{
			ID:  id,
			Val: val,
		})
	}
	return result
}

// orderedSettings lays out settings in a profile-declared positional order.
// IDs named in order but absent from settings are skipped; any settings
// entry not named in order (e.g. a placeholder 8/9 value the order leaves
// out) is appended afterward in map order, preserving convertSettings'
// behavior when order is empty.
func orderedSettings(settings map[http2.SettingID]uint32, order []http2.SettingID) []http2.Setting {
	if len(order) == 0 {
		return convertSettings(settings)
	}

	result := make([]http2.Setting, 0, len(settings))
	seen := make(map[http2.SettingID]bool, len(order))
	for _, id := range order {
		if val, ok := settings[id]; ok {
			result = append(result, http2.Setting{ID: id, Val: val})
			seen[id] = true
		}
	}
	for id, val := range settings {
		if !seen[id] {
			result = append(result, http2.Setting{ID: id, Val: val})
		}
	}
	return result
}
