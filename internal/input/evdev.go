package input

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// DefaultDeviceGlob matches the keyboard nodes udev exposes by physical path.
const DefaultDeviceGlob = "/dev/input/by-path/*-event-kbd"

const (
	evKey = 0x01

	// struct input_event on 64-bit Linux: timeval (16) + type + code + value.
	eventSize = 24
)

// Key event values reported by the kernel.
const (
	KeyReleased int32 = 0
	KeyPressed  int32 = 1
	KeyRepeated int32 = 2
)

type KeyEvent struct {
	Device string
	Code   uint16
	Value  int32
}

// FindKeyboards resolves pattern to distinct device nodes. Symlinks are
// followed so a keyboard listed under several names is read once.
func FindKeyboards(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultDeviceGlob
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid device glob %q: %w", pattern, err)
	}

	seen := make(map[string]struct{}, len(matches))
	devices := make([]string, 0, len(matches))
	for _, match := range matches {
		resolved, err := filepath.EvalSymlinks(match)
		if err != nil {
			resolved = match
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		devices = append(devices, resolved)
	}
	sort.Strings(devices)
	return devices, nil
}

// Device is an open evdev node.
type Device struct {
	path string
	file *os.File
}

func OpenDevice(path string) (*Device, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Device{path: path, file: file}, nil
}

func (d *Device) Path() string {
	return d.path
}

func (d *Device) Close() error {
	return d.file.Close()
}

// ReadKeys forwards key events to out until ctx is done or the device fails.
// The device is closed when ReadKeys returns.
func (d *Device) ReadKeys(ctx context.Context, out chan<- KeyEvent) error {
	stop := context.AfterFunc(ctx, func() { _ = d.file.Close() })
	defer func() {
		if stop() {
			_ = d.file.Close()
		}
	}()

	err := readKeyEvents(ctx, d.path, d.file, out)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func readKeyEvents(ctx context.Context, device string, r io.Reader, out chan<- KeyEvent) error {
	buf := make([]byte, eventSize*64)
	for {
		n, err := io.ReadAtLeast(r, buf, eventSize)
		for off := 0; off+eventSize <= n; off += eventSize {
			typ, code, value := decodeEvent(buf[off : off+eventSize])
			if typ != evKey {
				continue
			}
			select {
			case out <- KeyEvent{Device: device, Code: code, Value: value}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("read %s: short event: %w", device, err)
			}
			return fmt.Errorf("read %s: %w", device, err)
		}
	}
}

func decodeEvent(raw []byte) (typ uint16, code uint16, value int32) {
	typ = binary.NativeEndian.Uint16(raw[16:18])
	code = binary.NativeEndian.Uint16(raw[18:20])
	value = int32(binary.NativeEndian.Uint32(raw[20:24]))
	return typ, code, value
}
