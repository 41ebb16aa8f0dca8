package serialport

import (
	"errors"
	"testing"

	"go.bug.st/serial"
)

func TestOptions_Normalize(t *testing.T) {
	cases := []struct {
		name    string
		in      Options
		want    Options
		wantErr bool
	}{
		{"defaults", Options{BaudRate: 115200}, Options{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, false},
		{"even words", Options{BaudRate: 9600, Parity: " even "}, Options{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "E"}, false},
		{"two stop bits", Options{BaudRate: 9600, StopBits: 2, Parity: "o"}, Options{BaudRate: 9600, DataBits: 8, StopBits: 2, Parity: "O"}, false},
		{"no baud", Options{}, Options{}, true},
		{"bad data bits", Options{BaudRate: 9600, DataBits: 9}, Options{}, true},
		{"bad stop bits", Options{BaudRate: 9600, StopBits: 3}, Options{}, true},
		{"bad parity", Options{BaudRate: 9600, Parity: "mark"}, Options{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.in.Normalize()
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if !tc.wantErr && got != tc.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestOptions_Mode(t *testing.T) {
	mode, err := Options{BaudRate: 115200}.Mode()
	if err != nil {
		t.Fatal(err)
	}
	if mode.BaudRate != 115200 || mode.DataBits != 8 || mode.Parity != serial.NoParity || mode.StopBits != serial.OneStopBit {
		t.Errorf("unexpected 8N1 mode: %+v", mode)
	}

	mode, err = Options{BaudRate: 9600, StopBits: 2, Parity: "E"}.Mode()
	if err != nil {
		t.Fatal(err)
	}
	if mode.Parity != serial.EvenParity || mode.StopBits != serial.TwoStopBits {
		t.Errorf("unexpected mode: %+v", mode)
	}
}

func TestFakePort(t *testing.T) {
	p := NewFakePort()
	p.Feed([]byte("42\n"))

	buf := make([]byte, 8)
	n, err := p.Read(buf)
	if err != nil || string(buf[:n]) != "42\n" {
		t.Fatalf("Read = %q, %v", buf[:n], err)
	}
	if n, err := p.Read(buf); n != 0 || err != nil {
		t.Errorf("empty non-blocking read = %d, %v", n, err)
	}

	if _, err := p.Write([]byte{0x84}); err != nil {
		t.Fatal(err)
	}
	p.WriteErr = errors.New("unplugged")
	if _, err := p.Write([]byte{0x01}); err == nil {
		t.Error("expected injected write error")
	}
	if got := p.Written(); len(got) != 1 || got[0] != 0x84 {
		t.Errorf("Written() = % x", got)
	}

	p.Close()
	if !p.Closed() {
		t.Error("Closed() = false after Close")
	}
	if _, err := p.Write([]byte{0}); !errors.Is(err, ErrClosed) {
		t.Errorf("write after close = %v", err)
	}
}

func TestFakePort_CloseWakesBlockedReader(t *testing.T) {
	p := NewFakePort()
	p.BlockReads = true
	done := make(chan error)
	go func() {
		_, err := p.Read(make([]byte, 1))
		done <- err
	}()
	p.Close()
	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Errorf("blocked read returned %v, want ErrClosed", err)
	}
}
