// ABOUTME: Tests for TUI model and state management
// ABOUTME: Tests key handling, seeking, device cycling and rendering
package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/musicthing/musicthing/pkg/audio"
	"github.com/musicthing/musicthing/pkg/audio/output"
	"github.com/musicthing/musicthing/pkg/playback"
	tea "github.com/charmbracelet/bubbletea"
)

type fakeController struct {
	track     *audio.Track
	meta      audio.TrackMetadata
	pos       audio.Timestamp
	state     playback.State
	ended     bool
	devices   []output.Device
	device    output.Device
	selectErr error
	seeks     []time.Duration
	restarts  int
}

func newFakeController() *fakeController {
	devices := []output.Device{
		{ID: "a", Name: "Speakers", Default: true},
		{ID: "b", Name: "Headphones"},
		{ID: "c", Name: "HDMI"},
	}
	return &fakeController{devices: devices, device: devices[0]}
}

func (f *fakeController) withTrack(seconds int) *fakeController {
	f.track = &audio.Track{ID: 1, Params: audio.CodecParams{
		Codec:      audio.CodecPCMS16LE,
		SampleRate: 1000,
		Channels:   2,
	}}
	f.meta = audio.TrackMetadata{Duration: audio.Timestamp(seconds * 1000), TimeBase: audio.NewTimeBase(1000)}
	f.state = playback.StatePlaying
	return f
}

func (f *fakeController) RequestSeek(d time.Duration) {
	f.seeks = append(f.seeks, d)
	f.pos = f.meta.TimeBase.Timestamp(d)
}

func (f *fakeController) CurrentPosition() audio.Timestamp { return f.pos }

func (f *fakeController) Track() (audio.Track, audio.TrackMetadata, bool) {
	if f.track == nil {
		return audio.Track{}, audio.TrackMetadata{}, false
	}
	return *f.track, f.meta, true
}

func (f *fakeController) State() playback.State              { return f.state }
func (f *fakeController) Ended() bool                        { return f.ended }
func (f *fakeController) Devices() ([]output.Device, error) { return f.devices, nil }
func (f *fakeController) Device() output.Device              { return f.device }

func (f *fakeController) SelectDevice(dev output.Device) error {
	if f.selectErr != nil {
		return f.selectErr
	}
	f.device = dev
	return nil
}

func (f *fakeController) Restart() error {
	if f.track == nil {
		return errors.New("nothing to restart")
	}
	f.restarts++
	f.pos = 0
	f.ended = false
	return nil
}

func press(m Model, key tea.KeyMsg) Model {
	next, _ := m.Update(key)
	return next.(Model)
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestNewModel(t *testing.T) {
	ctrl := newFakeController()
	model := NewModel(ctrl, "")

	if model.codec != "" {
		t.Errorf("expected no track, got codec %q", model.codec)
	}
	if model.state != playback.StateIdle {
		t.Errorf("expected idle, got %s", model.state)
	}
	if model.device != "Speakers" {
		t.Errorf("expected Speakers, got %q", model.device)
	}
}

func TestTickRefreshesPosition(t *testing.T) {
	ctrl := newFakeController().withTrack(60)
	model := NewModel(ctrl, "song.wav")

	ctrl.pos = 12000
	next, cmd := model.Update(tickMsg(time.Now()))
	model = next.(Model)

	if model.position != 12000 {
		t.Errorf("expected position 12000, got %d", model.position)
	}
	if cmd == nil {
		t.Error("expected the tick to be rescheduled")
	}
}

func TestSeekKeys(t *testing.T) {
	tests := []struct {
		name  string
		start audio.Timestamp
		key   tea.KeyMsg
		want  time.Duration
	}{
		{"forward", 10000, tea.KeyMsg{Type: tea.KeyRight}, 15 * time.Second},
		{"back", 10000, tea.KeyMsg{Type: tea.KeyLeft}, 5 * time.Second},
		{"back past start", 2000, tea.KeyMsg{Type: tea.KeyLeft}, 0},
		{"jump to half", 0, runeKey('5'), 30 * time.Second},
		{"jump to start", 42000, runeKey('0'), 0},
		{"jump to ninety percent", 0, runeKey('9'), 54 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController().withTrack(60)
			ctrl.pos = tt.start
			model := press(NewModel(ctrl, ""), tt.key)

			if len(ctrl.seeks) != 1 {
				t.Fatalf("expected one seek, got %v", ctrl.seeks)
			}
			if ctrl.seeks[0] != tt.want {
				t.Errorf("expected seek to %v, got %v", tt.want, ctrl.seeks[0])
			}
			if model.position != ctrl.pos {
				t.Errorf("expected model position %d, got %d", ctrl.pos, model.position)
			}
		})
	}
}

func TestSeekWithoutTrack(t *testing.T) {
	ctrl := newFakeController()
	press(NewModel(ctrl, ""), tea.KeyMsg{Type: tea.KeyRight})
	press(NewModel(ctrl, ""), runeKey('3'))

	if len(ctrl.seeks) != 0 {
		t.Errorf("expected no seeks while idle, got %v", ctrl.seeks)
	}
}

func TestDeviceCycling(t *testing.T) {
	ctrl := newFakeController()
	model := NewModel(ctrl, "")

	for _, want := range []string{"b", "c", "a"} {
		model = press(model, runeKey('d'))
		if ctrl.device.ID != want {
			t.Fatalf("expected device %s, got %s", want, ctrl.device.ID)
		}
	}
	if model.device != "Speakers" {
		t.Errorf("expected model to show Speakers, got %q", model.device)
	}
}

func TestDeviceErrorShown(t *testing.T) {
	ctrl := newFakeController()
	ctrl.selectErr = errors.New("no compatible output configuration")
	model := press(NewModel(ctrl, ""), runeKey('d'))

	if !strings.Contains(model.errLine, "no compatible") {
		t.Errorf("expected error line, got %q", model.errLine)
	}
}

func TestRestartKey(t *testing.T) {
	ctrl := newFakeController().withTrack(10)
	ctrl.ended = true
	ctrl.pos = 10000

	model := press(NewModel(ctrl, ""), runeKey('r'))
	if ctrl.restarts != 1 {
		t.Errorf("expected one restart, got %d", ctrl.restarts)
	}
	if model.ended || model.position != 0 {
		t.Errorf("expected fresh state, ended=%v position=%d", model.ended, model.position)
	}
}

func TestStreamErrorMsg(t *testing.T) {
	ctrl := newFakeController()
	next, _ := NewModel(ctrl, "").Update(StreamErrorMsg{Err: errors.New("decoder fault")})
	model := next.(Model)

	if model.errLine != "decoder fault" {
		t.Errorf("expected error line, got %q", model.errLine)
	}
	if !strings.Contains(model.View(), "decoder fault") {
		t.Error("expected the error in the view")
	}
}

func TestQuitKey(t *testing.T) {
	_, cmd := NewModel(newFakeController(), "").Update(runeKey('q'))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestViewShowsProgress(t *testing.T) {
	ctrl := newFakeController().withTrack(100)
	ctrl.pos = 50000
	view := NewModel(ctrl, "/music/song.wav").View()

	for _, want := range []string{"song.wav", "pcm_s16le", "Stereo", "0:50", "1:40", "Speakers"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestRenderBar(t *testing.T) {
	tests := []struct {
		value, max int
		filled     int
	}{
		{0, 100, 0},
		{50, 100, 5},
		{100, 100, 10},
		{150, 100, 10},
		{10, 0, 0},
	}

	for _, tt := range tests {
		bar := renderBar(tt.value, tt.max, 10)
		if got := strings.Count(bar, "█"); got != tt.filled {
			t.Errorf("renderBar(%d, %d): expected %d filled, got %d", tt.value, tt.max, tt.filled, got)
		}
		if got := strings.Count(bar, "█") + strings.Count(bar, "░"); got != 10 {
			t.Errorf("renderBar(%d, %d): expected width 10, got %d", tt.value, tt.max, got)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(83 * time.Second); got != "1:23" {
		t.Errorf("expected 1:23, got %s", got)
	}
	if got := formatDuration(0); got != "0:00" {
		t.Errorf("expected 0:00, got %s", got)
	}
}
