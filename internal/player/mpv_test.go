package player

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"vibedj/internal/core"
)

// fakeIPC is a minimal stand-in for mpv's JSON IPC endpoint. It records
// every command and answers with canned property values. Before each reply
// it emits an unrelated event line, which clients must skip.
type fakeIPC struct {
	listener net.Listener

	mu       sync.Mutex
	commands [][]any
	props    map[string]any
}

func newFakeIPC(t *testing.T) *fakeIPC {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "mpv.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeIPC{listener: ln, props: map[string]any{}}
	go f.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return f
}

func (f *fakeIPC) path() string {
	return f.listener.Addr().String()
}

func (f *fakeIPC) setProp(name string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.props[name] = v
}

func (f *fakeIPC) recorded() [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]any, len(f.commands))
	copy(out, f.commands)
	return out
}

func (f *fakeIPC) serve() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeIPC) handle(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req struct {
			Command   []any `json:"command"`
			RequestID int64 `json:"request_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		f.mu.Lock()
		f.commands = append(f.commands, req.Command)
		var data any
		if len(req.Command) == 2 && req.Command[0] == "get_property" {
			data = f.props[req.Command[1].(string)]
		}
		f.mu.Unlock()

		// interleaved event, as mpv does
		event, _ := json.Marshal(map[string]any{"event": "playback-restart"})
		conn.Write(append(event, '\n'))

		reply, _ := json.Marshal(map[string]any{
			"error":      "success",
			"data":       data,
			"request_id": req.RequestID,
		})
		conn.Write(append(reply, '\n'))
	}
}

func newTestPlayer(f *fakeIPC) *MPV {
	return New(&core.PlayerConfig{Binary: "mpv", SocketPath: f.path()}, zap.NewNop())
}

func TestLoadReplacesThenAppends(t *testing.T) {
	f := newFakeIPC(t)
	p := newTestPlayer(f)

	urls := []string{"https://cdn/a", "https://cdn/b", "https://cdn/c"}
	if err := p.Load(context.Background(), urls); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cmds := f.recorded()
	if len(cmds) != 4 {
		t.Fatalf("recorded %d commands, want 4", len(cmds))
	}
	if cmds[0][0] != "loadfile" || cmds[0][1] != "https://cdn/a" || cmds[0][2] != "replace" {
		t.Errorf("first command = %v, want loadfile replace", cmds[0])
	}
	for i, cmd := range cmds[1:3] {
		if cmd[0] != "loadfile" || cmd[2] != "append-play" {
			t.Errorf("command %d = %v, want loadfile append-play", i+1, cmd)
		}
	}
	if cmds[3][0] != "set_property" || cmds[3][1] != "pause" {
		t.Errorf("last command = %v, want unpause", cmds[3])
	}
}

func TestLoadEmpty(t *testing.T) {
	f := newFakeIPC(t)
	p := newTestPlayer(f)
	if err := p.Load(context.Background(), nil); err == nil {
		t.Error("Load() with no URLs should fail")
	}
}

func TestControls(t *testing.T) {
	f := newFakeIPC(t)
	p := newTestPlayer(f)
	ctx := context.Background()

	steps := []struct {
		name string
		call func() error
		want []any
	}{
		{"toggle pause", func() error { return p.TogglePause(ctx) }, []any{"cycle", "pause"}},
		{"next", func() error { return p.Next(ctx) }, []any{"playlist-next", "force"}},
		{"previous", func() error { return p.Previous(ctx) }, []any{"playlist-prev"}},
		{"stop", func() error { return p.Stop(ctx) }, []any{"stop"}},
		{"seek absolute", func() error { return p.SeekAbsolute(ctx, 42) }, []any{"seek", float64(42), "absolute"}},
		{"seek relative", func() error { return p.SeekRelative(ctx, -10) }, []any{"seek", float64(-10), "relative"}},
		{"remove", func() error { return p.RemoveAt(ctx, 0) }, []any{"playlist-remove", float64(0)}},
		{"append", func() error { return p.Append(ctx, "https://cdn/d") }, []any{"loadfile", "https://cdn/d", "append-play"}},
	}

	for _, step := range steps {
		if err := step.call(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
	}

	cmds := f.recorded()
	if len(cmds) != len(steps) {
		t.Fatalf("recorded %d commands, want %d", len(cmds), len(steps))
	}
	for i, step := range steps {
		got := cmds[i]
		if len(got) != len(step.want) {
			t.Errorf("%s: command = %v, want %v", step.name, got, step.want)
			continue
		}
		for j := range step.want {
			if got[j] != step.want[j] {
				t.Errorf("%s: command[%d] = %v, want %v", step.name, j, got[j], step.want[j])
			}
		}
	}
}

func TestProperties(t *testing.T) {
	f := newFakeIPC(t)
	p := newTestPlayer(f)
	ctx := context.Background()

	f.setProp("playlist-pos", float64(3))
	f.setProp("time-pos", 12.5)
	f.setProp("duration", 240.0)
	f.setProp("pause", true)

	if pos, err := p.PlaylistPos(ctx); err != nil || pos != 3 {
		t.Errorf("PlaylistPos() = %d, %v, want 3", pos, err)
	}
	if tp, err := p.TimePos(ctx); err != nil || tp != 12.5 {
		t.Errorf("TimePos() = %v, %v, want 12.5", tp, err)
	}
	if d, err := p.Duration(ctx); err != nil || d != 240.0 {
		t.Errorf("Duration() = %v, %v, want 240", d, err)
	}
	if paused, err := p.Paused(ctx); err != nil || !paused {
		t.Errorf("Paused() = %v, %v, want true", paused, err)
	}
}

func TestPlaylistPosIdle(t *testing.T) {
	f := newFakeIPC(t)
	p := newTestPlayer(f)

	f.setProp("playlist-pos", float64(-1))

	pos, err := p.PlaylistPos(context.Background())
	if err != nil {
		t.Fatalf("PlaylistPos() error = %v", err)
	}
	if pos != -1 {
		t.Errorf("PlaylistPos() = %d, want -1 when idle", pos)
	}
}
