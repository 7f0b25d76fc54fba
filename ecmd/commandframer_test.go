package ecmd

import (
	"errors"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/distributed/ecat/ecfr"
)

// loopFramer returns the frames it was given, except the ones listed in
// drop, by position in the cycle.
type loopFramer struct {
	frames []*ecfr.Frame
	drop   map[int]bool
	// extra replies returned ahead of the looped frames
	extra []*ecfr.Frame
	err   error
}

func (f *loopFramer) New(maxdatalen int) (*ecfr.Frame, error) {
	frame, err := ecfr.PointFrameTo(make([]byte, maxdatalen+ecfr.FrameOverheadLen))
	if err != nil {
		return nil, err
	}
	f.frames = append(f.frames, &frame)
	return &frame, nil
}

func (f *loopFramer) Cycle() ([]*ecfr.Frame, error) {
	frames := f.frames
	f.frames = nil
	if f.err != nil {
		return nil, f.err
	}

	var in []*ecfr.Frame
	for i, fr := range frames {
		if f.drop[i] {
			continue
		}
		if _, err := fr.Commit(); err != nil {
			return nil, err
		}
		in = append(in, fr)
	}
	return append(append([]*ecfr.Frame(nil), f.extra...), in...), nil
}

func makeLenDgram(plen int, index uint8, last bool) *ecfr.Datagram {
	dgram, err := ecfr.PointDatagramTo(make([]byte, plen+ecfr.DatagramOverheadLength))
	if err != nil {
		panic(err)
	}
	if err = dgram.SetDataLen(plen); err != nil {
		panic(err)
	}
	dgram.Index = index
	dgram.SetLast(last)
	return &dgram
}

func TestCommandFramerScheduling(t *testing.T) {
	full := CommandFramerMaxDatagramsLen - ecfr.DatagramOverheadLength

	cases := []struct {
		name   string
		lens   []int
		frames [][]*ecfr.Datagram
	}{
		{"single", []int{6}, [][]*ecfr.Datagram{
			{makeLenDgram(6, 0, true)},
		}},
		{"full frame", []int{22, full}, [][]*ecfr.Datagram{
			{makeLenDgram(22, 0, true)},
			{makeLenDgram(full, 1, true)},
		}},
		{"shared", []int{128, 96}, [][]*ecfr.Datagram{
			{makeLenDgram(128, 0, false), makeLenDgram(96, 0, true)},
		}},
		{"overflow", []int{140, 65, 1400}, [][]*ecfr.Datagram{
			{makeLenDgram(140, 0, false), makeLenDgram(65, 0, true)},
			{makeLenDgram(1400, 1, true)},
		}},
	}

	for _, c := range cases {
		f := &loopFramer{}
		cf := NewCommandFramer(f)

		var cmds []*ExecutingCommand
		for _, l := range c.lens {
			cmd, err := cf.New(l)
			if err != nil {
				t.Fatalf("%s: New(%d): %v", c.name, l, err)
			}
			cmds = append(cmds, cmd)
		}
		sent := f.frames

		if err := cf.Cycle(); err != nil {
			t.Fatalf("%s: cycle: %v", c.name, err)
		}

		if len(sent) != len(c.frames) {
			t.Fatalf("%s: %d frames, want %d", c.name, len(sent), len(c.frames))
		}
		for j, frame := range sent {
			want := c.frames[j]
			if len(frame.Datagrams) != len(want) {
				t.Fatalf("%s, frame %d: %d datagrams, want %d", c.name, j, len(frame.Datagrams), len(want))
			}
			for k, dgram := range frame.Datagrams {
				if want[k].DatagramHeader != dgram.DatagramHeader || len(want[k].Data()) != len(dgram.Data()) {
					t.Fatalf("%s, frame %d, dgram %d:\n%s\nwant\n%s", c.name, j, k, spew.Sdump(dgram), spew.Sdump(want[k]))
				}
			}
		}

		for i, cmd := range cmds {
			if err := ChooseDefaultError(cmd); err != nil {
				t.Fatalf("%s: command %d: %v", c.name, i, err)
			}
		}
		if st := cf.Stats(); st.Sent != uint64(len(sent)) || st.Lost != 0 {
			t.Fatalf("%s: stats %+v", c.name, st)
		}
	}
}

func TestCommandFramerLostFrame(t *testing.T) {
	f := &loopFramer{drop: map[int]bool{0: true}}
	cf := NewCommandFramer(f)

	lost, _ := cf.New(1400)
	kept, _ := cf.New(1400)
	if err := cf.Cycle(); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if err := ChooseDefaultError(lost); !IsNoFrame(err) {
		t.Fatalf("command in dropped frame: %v", err)
	}
	if err := ChooseDefaultError(kept); err != nil {
		t.Fatalf("command in returned frame: %v", err)
	}
	if st := cf.Stats(); st.Sent != 2 || st.Received != 1 || st.Lost != 1 {
		t.Fatalf("stats %+v", st)
	}
}

func TestCommandFramerUnmatchedReply(t *testing.T) {
	stray, err := ecfr.PointFrameTo(make([]byte, 64))
	if err != nil {
		t.Fatalf("stray frame: %v", err)
	}
	dg, _ := stray.NewDatagram(4)
	dg.Index = 0x77
	stray.Commit()

	hook := logtest.NewGlobal()
	level := log.GetLevel()
	log.SetLevel(log.TraceLevel)
	defer log.SetLevel(level)

	f := &loopFramer{extra: []*ecfr.Frame{&stray}}
	cf := NewCommandFramer(f)
	cmd, _ := cf.New(4)
	if err := cf.Cycle(); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !cmd.Arrived {
		t.Fatalf("command did not arrive")
	}
	if st := cf.Stats(); st.Unmatched != 1 {
		t.Fatalf("stats %+v", st)
	}

	dumped := false
	for _, e := range hook.AllEntries() {
		if e.Level == log.TraceLevel && strings.Contains(e.Message, "unmatched") && strings.Contains(e.Message, "idx 119") {
			dumped = true
		}
	}
	if !dumped {
		t.Fatalf("stray datagram not dumped\n%s", spew.Sdump(hook.AllEntries()))
	}
}

func TestCommandFramerErrors(t *testing.T) {
	cf := NewCommandFramer(&loopFramer{})
	if _, err := cf.New(CommandFramerMaxDatagramsLen); !errors.Is(err, ErrDatagramTooLong) {
		t.Fatalf("oversized datagram: %v", err)
	}

	broken := errors.New("link down")
	f := &loopFramer{err: broken}
	cf = NewCommandFramer(f)
	cmd, _ := cf.New(2)
	if err := cf.Cycle(); !errors.Is(err, broken) {
		t.Fatalf("cycle error %v", err)
	}
	if cmd.Arrived || cf.Stats().Lost != 1 {
		t.Fatalf("arrived %v, stats %+v", cmd.Arrived, cf.Stats())
	}
}
