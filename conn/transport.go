package conn

import (
	"errors"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// transport dials the raw byte stream for a parsed bus address. Socket
// I/O is an external collaborator of the core, out of scope for its
// typed marshalling (spec.md §1/§6); Connect resolves one of these from
// DBUS_SESSION_BUS_ADDRESS / DBUS_SYSTEM_BUS_ADDRESS before the SASL
// handshake begins.
type transport interface {
	Dial() (net.Conn, error)
}

// newTransport parses address into a transport, logging the resolved
// transport kind at Debug on log.
func newTransport(address string, log *logrus.Entry) (transport, error) {
	if len(address) == 0 {
		return nil, errors.New("dbus: empty bus address")
	}
	idx := strings.Index(address, ":")
	if idx < 0 {
		return nil, errors.New("dbus: malformed bus address " + address)
	}
	transportType := address[:idx]

	options := make(map[string]string)
	for _, option := range strings.Split(address[idx+1:], ",") {
		if option == "" {
			continue
		}
		pair := strings.SplitN(option, "=", 2)
		if len(pair) != 2 {
			return nil, errors.New("dbus: malformed address option " + option)
		}
		key, err := url.QueryUnescape(pair[0])
		if err != nil {
			return nil, err
		}
		value, err := url.QueryUnescape(pair[1])
		if err != nil {
			return nil, err
		}
		options[key] = value
	}

	log.WithField("transport", transportType).Debug("resolved bus transport")

	switch transportType {
	case "unix":
		if abstract, ok := options["abstract"]; ok {
			return &unixTransport{address: "@" + abstract, log: log}, nil
		} else if path, ok := options["path"]; ok {
			return &unixTransport{address: path, log: log}, nil
		}
		return nil, errors.New("dbus: unix transport requires 'path' or 'abstract'")

	case "tcp", "nonce-tcp":
		tcpAddress := options["host"] + ":" + options["port"]
		var family string
		switch options["family"] {
		case "", "ipv4":
			family = "tcp4"
		case "ipv6":
			family = "tcp6"
		default:
			return nil, errors.New("dbus: unknown tcp family " + options["family"])
		}
		if transportType == "tcp" {
			return &tcpTransport{address: tcpAddress, family: family, log: log}, nil
		}
		return &nonceTcpTransport{address: tcpAddress, family: family, nonceFile: options["noncefile"], log: log}, nil

	case "launchd", "systemd", "unixexec":
		return nil, errors.New("dbus: " + transportType + " transport is not implemented")
	}

	return nil, errors.New("dbus: unhandled transport type " + transportType)
}

type unixTransport struct {
	address string
	log     *logrus.Entry
}

func (t *unixTransport) Dial() (net.Conn, error) {
	conn, err := net.Dial("unix", t.address)
	if err != nil {
		t.log.WithError(err).WithField("address", t.address).Warn("unix transport dial failed")
		return nil, err
	}
	return conn, nil
}

type tcpTransport struct {
	address, family string
	log             *logrus.Entry
}

func (t *tcpTransport) Dial() (net.Conn, error) {
	conn, err := net.Dial(t.family, t.address)
	if err != nil {
		t.log.WithError(err).WithField("address", t.address).Warn("tcp transport dial failed")
		return nil, err
	}
	return conn, nil
}

type nonceTcpTransport struct {
	address, family, nonceFile string
	log                        *logrus.Entry
}

// Dial reads the nonce file and writes it to the socket before handing
// the connection back; the write happens before the connection is
// shared with any other goroutine, so it needs no synchronization.
func (t *nonceTcpTransport) Dial() (net.Conn, error) {
	data, err := os.ReadFile(t.nonceFile)
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial(t.family, t.address)
	if err != nil {
		t.log.WithError(err).WithField("address", t.address).Warn("nonce-tcp transport dial failed")
		return nil, err
	}
	if _, err := conn.Write(data); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
