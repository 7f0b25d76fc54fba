package sim

import (
	"github.com/distributed/ecat/ecfr"
)

const (
	maxDatagramsLen = 1470
)

// L2Bus is a ecmd.Framer that passes every frame through its slaves in
// order, the way frames travel an EtherCAT ring.
type L2Bus struct {
	oframes []*ecfr.Frame

	Slaves []FrameProcessor

	// DropFrames makes the next frames get lost before reaching a slave.
	DropFrames int
	// DropReplies makes the next frames get lost after passing all slaves,
	// so the slaves act on datagrams the master never sees again.
	DropReplies int
	// Frames counts the frames put on the bus.
	Frames int
	// Tap, if set, sees every frame returning to the master.
	Tap func(*ecfr.Frame)
}

func (b *L2Bus) New(maxdatalen int) (*ecfr.Frame, error) {
	fr, err := ecfr.PointFrameTo(make([]byte, maxDatagramsLen+ecfr.FrameOverheadLen))
	if err != nil {
		return nil, err
	}
	fr.Header.SetType(1)

	b.oframes = append(b.oframes, &fr)
	return &fr, nil
}

func (b *L2Bus) Cycle() (iframes []*ecfr.Frame, err error) {
	oframes := b.oframes
	b.oframes = nil

	for _, oframe := range oframes {
		obytes, err := oframe.Commit()
		if err != nil {
			return nil, err
		}

		b.Frames++
		if b.DropFrames > 0 {
			b.DropFrames--
			continue
		}

		fr, err := b.travel(obytes)
		if err != nil {
			return nil, err
		}
		if fr == nil {
			continue
		}
		if b.DropReplies > 0 {
			b.DropReplies--
			continue
		}
		if b.Tap != nil {
			b.Tap(fr)
		}
		iframes = append(iframes, fr)
	}

	return iframes, nil
}

// travel hands a copy of the wire bytes through the slaves.
func (b *L2Bus) travel(obytes []byte) (*ecfr.Frame, error) {
	fr := new(ecfr.Frame)
	if _, err := fr.Overlay(append([]byte(nil), obytes...)); err != nil {
		return nil, err
	}

	for _, slave := range b.Slaves {
		fr = slave.ProcessFrame(fr)
		if fr == nil {
			return nil, nil
		}
	}
	return fr, nil
}

func (b *L2Bus) Close() error { return nil }
