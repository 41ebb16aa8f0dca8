package maestro

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ecobrazo/sortarm/internal/arm"
	"github.com/ecobrazo/sortarm/internal/hw/serialport"
)

// ---------- Encoding ----------

func TestSetTargetFrame(t *testing.T) {
	cases := []struct {
		channel int
		pulse   float64
		want    []byte
	}{
		// 1500 us = 6000 quarter-us = 0x1770 -> lo 0x70, hi 0x2E
		{0, 1500, []byte{0x84, 0x00, 0x70, 0x2E}},
		{10, 1008, []byte{0x84, 0x0A, 0x40, 0x1F}},
		{2, 1044.16354, []byte{0x84, 0x02, 0x51, 0x20}},
	}
	for _, tc := range cases {
		got := SetTargetFrame(tc.channel, tc.pulse)
		if !bytes.Equal(got, tc.want) {
			t.Errorf("SetTargetFrame(%d, %v) = % x, want % x", tc.channel, tc.pulse, got, tc.want)
		}
	}
}

func TestTarget_Rounding(t *testing.T) {
	if got := Target(1846.76702); got != 7387 {
		t.Errorf("Target(1846.76702) = %d, want 7387", got)
	}
	if got := Target(946); got != 3784 {
		t.Errorf("Target(946) = %d, want 3784", got)
	}
}

// ---------- Controller ----------

func TestSetTarget_WritesFrame(t *testing.T) {
	port := serialport.NewFakePort()
	c := New(port)
	if err := c.SetTarget(4, 1500); err != nil {
		t.Fatal(err)
	}
	if got := port.Written(); !bytes.Equal(got, []byte{0x84, 0x04, 0x70, 0x2E}) {
		t.Errorf("written = % x", got)
	}
}

func TestSetTarget_Guards(t *testing.T) {
	port := serialport.NewFakePort()
	c := New(port)
	cases := []struct {
		name    string
		channel int
		pulse   float64
		want    error
	}{
		{"negative channel", -1, 1500, ErrChannel},
		{"channel 12", 12, 1500, ErrChannel},
		{"below guard", 0, 249.9, ErrPulse},
		{"above guard", 0, 2500.1, ErrPulse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := c.SetTarget(tc.channel, tc.pulse); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
	if n := len(port.Written()); n != 0 {
		t.Errorf("refused commands must not reach the port, %d bytes written", n)
	}
	if err := c.SetTarget(11, 250); err != nil {
		t.Errorf("boundary pulse refused: %v", err)
	}
}

func TestIssue(t *testing.T) {
	port := serialport.NewFakePort()
	c := New(port)
	if err := c.Issue(context.Background(), arm.WristRoll, 946); err != nil {
		t.Fatal(err)
	}
	if got := port.Written(); !bytes.Equal(got, []byte{0x84, 0x08, 0x48, 0x1D}) {
		t.Errorf("written = % x", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Issue(ctx, arm.Base, 1500); !errors.Is(err, context.Canceled) {
		t.Errorf("Issue on cancelled ctx = %v", err)
	}
}

func TestIssue_WriteFailure(t *testing.T) {
	port := serialport.NewFakePort()
	port.WriteErr = errors.New("unplugged")
	if err := New(port).Issue(context.Background(), arm.Base, 1500); err == nil {
		t.Fatal("expected write error")
	}
}

func TestPosition(t *testing.T) {
	port := serialport.NewFakePort()
	port.Feed([]byte{0x70, 0x17}) // 0x1770 = 6000 quarter-us
	c := New(port)

	got, err := c.Position(3)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1500 {
		t.Errorf("Position = %v, want 1500", got)
	}
	if w := port.Written(); !bytes.Equal(w, []byte{0x90, 0x03}) {
		t.Errorf("request = % x", w)
	}
}

func TestSetSpeedAndGoHome(t *testing.T) {
	port := serialport.NewFakePort()
	c := New(port)
	if err := c.SetSpeed(1, 140); err != nil {
		t.Fatal(err)
	}
	if err := c.GoHome(); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x87, 0x01, 0x0C, 0x01, 0xA2}
	if got := port.Written(); !bytes.Equal(got, want) {
		t.Errorf("written = % x, want % x", got, want)
	}
	if err := c.Close(); err != nil || !port.Closed() {
		t.Errorf("Close: %v", err)
	}
}

func TestPosition_NoResponse(t *testing.T) {
	port := serialport.NewFakePort()
	port.Feed([]byte{0x70})
	if _, err := New(port).Position(0); !errors.Is(err, ErrNoResponse) {
		t.Errorf("err = %v, want ErrNoResponse", err)
	}
}
