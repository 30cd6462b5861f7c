/*Package comm provides the link layer used to talk to supply crates and
cards over RS232 or TCP (e.g. through a serial device server).

A RemoteDevice frames traffic with single start/stop terminator bytes and
leaves the payload encoding to the caller.  Connections are opened with an
exponential backoff; crate controllers drop connections that are thrashed.

Usage boils down to:

	dev := comm.NewRemoteDevice("192.168.100.40:2101", false, 0x0D, 0x0A)
	err := dev.Open()
	...
	resp, err := dev.SendRecv(frame)
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the stop byte is not found in
	// a response.
	ErrTerminatorNotFound = errors.New("termination byte not found")

	// ErrNoSerialConf is generated when a serial device has no SerialConf.
	ErrNoSerialConf = errors.New("device IsSerial=true but SerialConf is nil")
)

// A SendRecver can send a framed payload and receive the framed response.
type SendRecver interface {
	Send([]byte) error
	Recv() ([]byte, error)
	SendRecv([]byte) ([]byte, error)
}

// RemoteDevice is one link to a crate or card chain.  It is not safe for
// concurrent use; the supply protocol serializes calls above this layer.
type RemoteDevice struct {
	// Addr is the network address, or the serial device path for RS232.
	Addr string

	// IsSerial selects RS232 over TCP.
	IsSerial bool

	// SerialConf is the port configuration; required when IsSerial is true.
	SerialConf *serial.Config

	// Conn is the live connection, nil when closed.
	Conn io.ReadWriteCloser

	// Tx and Rx are the transmit and receive terminator bytes.
	Tx, Rx byte
}

// NewRemoteDevice creates a new RemoteDevice instance with the given
// terminator bytes.
func NewRemoteDevice(addr string, isSerial bool, tx, rx byte) *RemoteDevice {
	return &RemoteDevice{Addr: addr, IsSerial: isSerial, Tx: tx, Rx: rx}
}

// Open the connection, setting the Conn variable.  Refused connections are
// retried with an exponential backoff for a few seconds; the crate
// controllers drop connections that are thrashed.  Timeouts end the attempt
// so we don't wait forever.
func (rd *RemoteDevice) Open() error {
	wasTimeout := false
	op := func() error {
		err := rd.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") {
				return err
			}
			wasTimeout = true
			return nil
		}
		wasTimeout = false
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil && !wasTimeout {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("connection timeout to %s", rd.Addr)
	}
	return err
}

func (rd *RemoteDevice) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if rd.IsSerial {
		if rd.SerialConf == nil {
			return ErrNoSerialConf
		}
		conn, err = serial.OpenPort(rd.SerialConf)
	} else {
		conn, err = TCPSetup(rd.Addr, 3*time.Second)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	return nil
}

// Close the connection, nil-ing the Conn variable.
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
	}
	return err
}

// Send writes a payload to the remote, appending the Tx terminator.
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	b = append(b, rd.Tx)
	_, err := rd.Conn.Write(b)
	return err
}

// Recv receives a payload from the remote, stripping the Rx terminator.
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	buf, err := bufio.NewReader(rd.Conn).ReadBytes(rd.Rx)
	if err != nil {
		return []byte{}, err
	}
	if bytes.HasSuffix(buf, []byte{rd.Rx}) {
		return buf[:len(buf)-1], nil
	}
	return buf, ErrTerminatorNotFound
}

// SendRecv sends a payload, then returns the response.
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	err := rd.Send(b)
	if err != nil {
		return []byte{}, err
	}
	return rd.Recv()
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read,
// and write.
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
