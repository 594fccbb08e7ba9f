// Package player drives a local mpv process over its JSON IPC socket.
// mpv owns the ordered playlist; every control here is a thin command
// mapped onto that playlist.
package player

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"vibedj/internal/core"
)

type MPV struct {
	binary     string
	socketPath string
	logger     *zap.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	reqID atomic.Int64
}

const socketWaitTimeout = 10 * time.Second

func New(cfg *core.PlayerConfig, logger *zap.Logger) *MPV {
	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = filepath.Join(os.TempDir(), "vibedj-mpv.sock")
	}
	return &MPV{
		binary:     cfg.Binary,
		socketPath: socketPath,
		logger:     logger,
	}
}

// Start launches mpv idle with audio only and waits for its IPC socket.
func (m *MPV) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cmd != nil {
		return nil
	}

	_ = os.Remove(m.socketPath)

	cmd := exec.Command(m.binary,
		"--no-video",
		"--idle=yes",
		"--no-terminal",
		"--input-ipc-server="+m.socketPath,
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start player: %w", err)
	}
	m.cmd = cmd

	deadline := time.Now().Add(socketWaitTimeout)
	for {
		if _, err := os.Stat(m.socketPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			_ = cmd.Process.Kill()
			m.cmd = nil
			return fmt.Errorf("player IPC socket did not appear at %s", m.socketPath)
		}
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			m.cmd = nil
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	m.logger.Info("Player started",
		zap.String("binary", m.binary),
		zap.String("socket", m.socketPath))

	return nil
}

// Close quits mpv and reaps the process.
func (m *MPV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cmd == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = m.roundTrip(ctx, "quit")

	_ = m.cmd.Process.Kill()
	err := m.cmd.Wait()
	m.cmd = nil
	_ = os.Remove(m.socketPath)
	return err
}

type ipcRequest struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

type ipcReply struct {
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	RequestID int64           `json:"request_id"`
	Event     string          `json:"event"`
}

// roundTrip dials the socket, sends one command and reads replies until the
// matching request ID arrives. mpv interleaves event notifications on the
// same socket; those are skipped.
func (m *MPV) roundTrip(ctx context.Context, command ...any) (json.RawMessage, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", m.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to reach player socket: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	}

	id := m.reqID.Add(1)
	payload, err := json.Marshal(ipcRequest{Command: command, RequestID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to encode player command: %w", err)
	}
	payload = append(payload, '\n')
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to send player command: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var reply ipcReply
		if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil {
			continue
		}
		if reply.Event != "" || reply.RequestID != id {
			continue
		}
		if reply.Error != "" && reply.Error != "success" {
			return nil, fmt.Errorf("player command failed: %s", reply.Error)
		}
		return reply.Data, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read player reply: %w", err)
	}
	return nil, fmt.Errorf("player closed the connection")
}

func (m *MPV) getFloat(ctx context.Context, property string) (float64, error) {
	data, err := m.roundTrip(ctx, "get_property", property)
	if err != nil {
		return 0, err
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, fmt.Errorf("unexpected %s value %s: %w", property, data, err)
	}
	return v, nil
}

// Load replaces the playlist with the given URLs and starts playback.
func (m *MPV) Load(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return fmt.Errorf("no URLs to load")
	}
	if _, err := m.roundTrip(ctx, "loadfile", urls[0], "replace"); err != nil {
		return err
	}
	for _, url := range urls[1:] {
		if _, err := m.roundTrip(ctx, "loadfile", url, "append-play"); err != nil {
			return err
		}
	}
	if _, err := m.roundTrip(ctx, "set_property", "pause", false); err != nil {
		return err
	}
	return nil
}

// Append adds one URL to the end of the playlist without interrupting
// the current track.
func (m *MPV) Append(ctx context.Context, url string) error {
	_, err := m.roundTrip(ctx, "loadfile", url, "append-play")
	return err
}

func (m *MPV) TogglePause(ctx context.Context) error {
	_, err := m.roundTrip(ctx, "cycle", "pause")
	return err
}

func (m *MPV) Next(ctx context.Context) error {
	_, err := m.roundTrip(ctx, "playlist-next", "force")
	return err
}

func (m *MPV) Previous(ctx context.Context) error {
	_, err := m.roundTrip(ctx, "playlist-prev")
	return err
}

func (m *MPV) Stop(ctx context.Context) error {
	_, err := m.roundTrip(ctx, "stop")
	return err
}

func (m *MPV) SeekAbsolute(ctx context.Context, seconds float64) error {
	_, err := m.roundTrip(ctx, "seek", seconds, "absolute")
	return err
}

func (m *MPV) SeekRelative(ctx context.Context, seconds float64) error {
	_, err := m.roundTrip(ctx, "seek", seconds, "relative")
	return err
}

func (m *MPV) RemoveAt(ctx context.Context, index int) error {
	_, err := m.roundTrip(ctx, "playlist-remove", index)
	return err
}

// PlaylistPos returns the index of the current playlist entry, or -1 when
// the player is idle.
func (m *MPV) PlaylistPos(ctx context.Context) (int, error) {
	v, err := m.getFloat(ctx, "playlist-pos")
	if err != nil {
		return -1, err
	}
	return int(v), nil
}

func (m *MPV) TimePos(ctx context.Context) (float64, error) {
	return m.getFloat(ctx, "time-pos")
}

func (m *MPV) Duration(ctx context.Context) (float64, error) {
	return m.getFloat(ctx, "duration")
}

func (m *MPV) Paused(ctx context.Context) (bool, error) {
	data, err := m.roundTrip(ctx, "get_property", "pause")
	if err != nil {
		return false, err
	}
	var paused bool
	if err := json.Unmarshal(data, &paused); err != nil {
		return false, fmt.Errorf("unexpected pause value %s: %w", data, err)
	}
	return paused, nil
}
