package input

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func encodeEvent(typ uint16, code uint16, value int32) []byte {
	raw := make([]byte, eventSize)
	binary.NativeEndian.PutUint16(raw[16:18], typ)
	binary.NativeEndian.PutUint16(raw[18:20], code)
	binary.NativeEndian.PutUint32(raw[20:24], uint32(value))
	return raw
}

func TestReadKeyEventsFiltersNonKeyEvents(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	stream.Write(encodeEvent(evKey, KeyLeftCtrl, KeyPressed))
	stream.Write(encodeEvent(0x04, 4, 458976)) // EV_MSC scan code
	stream.Write(encodeEvent(evKey, KeySpace, KeyPressed))
	stream.Write(encodeEvent(0x00, 0, 0)) // EV_SYN
	stream.Write(encodeEvent(evKey, KeySpace, KeyReleased))

	out := make(chan KeyEvent, 8)
	err := readKeyEvents(context.Background(), "kbd0", &stream, out)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	close(out)

	var got []KeyEvent
	for ev := range out {
		got = append(got, ev)
	}
	want := []KeyEvent{
		{Device: "kbd0", Code: KeyLeftCtrl, Value: KeyPressed},
		{Device: "kbd0", Code: KeySpace, Value: KeyPressed},
		{Device: "kbd0", Code: KeySpace, Value: KeyReleased},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %#v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %#v, got %#v", i, want[i], got[i])
		}
	}
}

func TestFindKeyboardsDeduplicatesSymlinks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "event3")
	if err := os.WriteFile(target, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, name := range []string{"pci-0000-usb-0:1-event-kbd", "platform-i8042-event-kbd"} {
		if err := os.Symlink(target, filepath.Join(dir, name)); err != nil {
			t.Fatalf("symlink: %v", err)
		}
	}

	devices, err := FindKeyboards(filepath.Join(dir, "*-event-kbd"))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	resolved, _ := filepath.EvalSymlinks(target)
	if len(devices) != 1 || devices[0] != resolved {
		t.Fatalf("expected single device %s, got %v", resolved, devices)
	}
}

func TestDeviceReadKeysStopsOnCancel(t *testing.T) {
	t.Parallel()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer w.Close()

	dev := &Device{path: "pipe", file: r}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan KeyEvent, 1)
	done := make(chan error, 1)
	go func() { done <- dev.ReadKeys(ctx, out) }()

	if _, err := w.Write(encodeEvent(evKey, KeySpace, KeyPressed)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev := <-out; ev.Code != KeySpace {
		t.Fatalf("unexpected event %#v", ev)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}
