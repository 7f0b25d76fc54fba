// Package udp carries EtherCAT frames in UDP datagrams sent to a multicast
// group, for slaves behind an EtherCAT/UDP gateway.
package udp

import (
	"errors"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/distributed/ecat/ecfr"
)

const (
	EthercatUDPPort = 0x88a4
)

const (
	udpReceiveBuflen = 1500
	maxDatagramsLen  = 1470
)

type UDPFramer struct {
	oframes []*ecfr.Frame

	sock      *net.UDPConn
	mcsock    *ipv4.PacketConn
	group     net.IP
	iface     *net.Interface
	laddr     *net.UDPAddr
	groupaddr *net.UDPAddr
	cycletime time.Duration
}

func NewUDPFramer(iface *net.Interface, group net.IP, cycletime time.Duration) (f *UDPFramer, err error) {
	f = &UDPFramer{}
	f.group = group
	f.iface = iface
	f.cycletime = cycletime

	f.laddr = &net.UDPAddr{IP: net.IPv4zero, Port: EthercatUDPPort}
	f.groupaddr = &net.UDPAddr{IP: f.group, Port: EthercatUDPPort}

	f.sock, err = net.ListenUDP("udp4", f.laddr)
	if err != nil {
		return
	}

	f.mcsock = ipv4.NewPacketConn(f.sock)
	defer func() {
		if err != nil {
			f.Close()
		}
	}()

	err = f.mcsock.SetMulticastInterface(f.iface)
	if err != nil {
		return
	}

	err = f.mcsock.JoinGroup(iface, &net.UDPAddr{IP: group})
	if err != nil {
		return
	}

	err = f.mcsock.SetMulticastLoopback(false)
	return
}

func (f *UDPFramer) New(maxdatalen int) (fr *ecfr.Frame, err error) {
	if maxdatalen > maxDatagramsLen {
		return nil, errors.New("udp: datagrams do not fit a frame")
	}

	var vframe ecfr.Frame
	buf := make([]byte, maxDatagramsLen+ecfr.FrameOverheadLen)
	vframe, err = ecfr.PointFrameTo(buf)
	if err != nil {
		return
	}

	vframe.Header.SetType(1)

	fr = &vframe
	f.oframes = append(f.oframes, fr)
	return
}

// Cycle sends the frames created since the last cycle and collects the
// frames arriving within one cycle time.
func (f *UDPFramer) Cycle() (iframes []*ecfr.Frame, err error) {
	oframes := f.oframes
	f.oframes = nil

	var obytes []byte
	for _, oframe := range oframes {
		obytes, err = oframe.Commit()
		if err != nil {
			return
		}

		_, err = f.sock.WriteTo(obytes, f.groupaddr)
		if err = errorMask(err); err != nil {
			return
		}
	}

	err = f.sock.SetReadDeadline(time.Now().Add(f.cycletime))
	if err != nil {
		return
	}

	rbuf := make([]byte, udpReceiveBuflen)
	for len(iframes) < len(oframes) {
		var n int
		n, _, err = f.sock.ReadFromUDP(rbuf)
		if isTimeout(err) {
			err = nil
			break
		}
		if err = errorMask(err); err != nil {
			return
		}

		var fr ecfr.Frame
		_, err = fr.Overlay(rbuf[0:n])
		if err != nil {
			log.Debugf("[UDP] discarding malformed frame of %d bytes: %v", n, err)
			err = nil
			continue
		}

		iframes = append(iframes, &fr)
		rbuf = make([]byte, udpReceiveBuflen)
	}

	return
}

// Close leaves the group and closes the socket.
func (f *UDPFramer) Close() error {
	if f.mcsock != nil {
		f.mcsock.LeaveGroup(f.iface, &net.UDPAddr{IP: f.group})
	}
	if f.sock != nil {
		return f.sock.Close()
	}
	return nil
}

type timeouter interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	var t timeouter
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return false
}
