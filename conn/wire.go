package conn

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/dbuscore/dbuscore"
)

// Header field codes the D-Bus protocol assigns. Field code 9,
// UNIX_FDS, is never produced or consumed here: this library has no
// file-descriptor passing support, an explicit Non-goal.
const (
	fieldPath        = 1
	fieldInterface   = 2
	fieldMember      = 3
	fieldErrorName   = 4
	fieldReplySerial = 5
	fieldDestination = 6
	fieldSender      = 7
	fieldSignature   = 8
)

type headerField struct {
	Code  byte
	Value dbus.Variant
}

// writeMessage frames msg onto w the way the teacher library's
// Message._Marshal built the wire header (z3ntu-go-dbus/message.go),
// deriving the body and header fields from the core's own Message and
// encoder instead of a hand-rolled byte buffer.
func writeMessage(w io.Writer, msg *dbus.Message, serial uint32) error {
	body, sig, err := msg.BodyBytes()
	if err != nil {
		return err
	}

	var fields []headerField
	if msg.Path() != "" {
		fields = append(fields, headerField{fieldPath, dbus.Variant{Value: msg.Path()}})
	}
	if msg.Interface() != "" {
		fields = append(fields, headerField{fieldInterface, dbus.Variant{Value: msg.Interface()}})
	}
	if msg.Member() != "" {
		fields = append(fields, headerField{fieldMember, dbus.Variant{Value: msg.Member()}})
	}
	if msg.ErrorName() != "" {
		fields = append(fields, headerField{fieldErrorName, dbus.Variant{Value: msg.ErrorName()}})
	}
	if msg.ReplySerial() != 0 {
		fields = append(fields, headerField{fieldReplySerial, dbus.Variant{Value: msg.ReplySerial()}})
	}
	if msg.Destination() != "" {
		fields = append(fields, headerField{fieldDestination, dbus.Variant{Value: msg.Destination()}})
	}
	if sig != "" {
		fields = append(fields, headerField{fieldSignature, dbus.Variant{Value: sig}})
	}

	headerBytes, _, err := dbus.MarshalValues(binary.LittleEndian,
		byte('l'), byte(msg.Kind()), byte(msg.Flags()), byte(1),
		uint32(len(body)), serial, fields)
	if err != nil {
		return err
	}
	for len(headerBytes)%8 != 0 {
		headerBytes = append(headerBytes, 0)
	}

	if _, err := w.Write(headerBytes); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// fixedHeaderLen is the size, in bytes, of the wire header up to and
// including the BODY_LENGTH and SERIAL fields, before the variable-length
// header-fields array.
const fixedHeaderLen = 12

// readMessage reads one framed message off r and builds a sealed
// *dbus.Message via NewSealedMessageFromWire.
func readMessage(r io.Reader) (*dbus.Message, error) {
	fixed := make([]byte, fixedHeaderLen)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, err
	}

	var order binary.ByteOrder
	switch fixed[0] {
	case 'l':
		order = binary.LittleEndian
	case 'B':
		order = binary.BigEndian
	default:
		return nil, errors.New("dbus: unknown message endianness")
	}

	var arrayLenBuf [4]byte
	if _, err := io.ReadFull(r, arrayLenBuf[:]); err != nil {
		return nil, err
	}
	arrayLen := order.Uint32(arrayLenBuf[:])

	arrayPayload := make([]byte, arrayLen)
	if _, err := io.ReadFull(r, arrayPayload); err != nil {
		return nil, err
	}

	// Decode the fixed prefix and the fields array together, from offset
	// zero, so the decoder's struct alignment lines up with the same
	// absolute offsets writeMessage encoded against (the array's structs
	// are aligned relative to the start of the message, not the start of
	// the array).
	header := append(append(append([]byte{}, fixed...), arrayLenBuf[:]...), arrayPayload...)
	headerLen := len(header)
	if padding := (8 - headerLen%8) % 8; padding > 0 {
		if _, err := io.ReadFull(r, make([]byte, padding)); err != nil {
			return nil, err
		}
	}

	var rOrder, rKind, rFlags, rProtocol byte
	var rBodyLen, rSerial uint32
	var fields []headerField
	if err := dbus.UnmarshalValues("yyyyuua(yv)", header, order,
		&rOrder, &rKind, &rFlags, &rProtocol, &rBodyLen, &rSerial, &fields); err != nil {
		return nil, err
	}

	var path dbus.ObjectPath
	var dest, sender, iface, member, errorName string
	var replySerial uint32
	var sig dbus.Signature
	for _, f := range fields {
		switch f.Code {
		case fieldPath:
			path, _ = f.Value.Value.(dbus.ObjectPath)
		case fieldInterface:
			iface, _ = f.Value.Value.(string)
		case fieldMember:
			member, _ = f.Value.Value.(string)
		case fieldErrorName:
			errorName, _ = f.Value.Value.(string)
		case fieldReplySerial:
			replySerial, _ = f.Value.Value.(uint32)
		case fieldDestination:
			dest, _ = f.Value.Value.(string)
		case fieldSender:
			sender, _ = f.Value.Value.(string)
		case fieldSignature:
			sig, _ = f.Value.Value.(dbus.Signature)
		}
	}

	body := make([]byte, rBodyLen)
	if rBodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
	}

	return dbus.NewSealedMessageFromWire(
		dbus.MessageType(rKind), dbus.MessageFlag(rFlags), rSerial,
		path, dest, sender, iface, member, errorName, replySerial, sig, body,
	), nil
}
