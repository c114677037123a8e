package dbus

import (
	"encoding/binary"
	"math"
	"reflect"
)

// decoder unmarshals D-Bus wire data into Go values, consuming one
// signature type code per call to decodeValue. Grounded in the teacher
// library's reflect-driven decoder, extended to cover variants, maps, and
// the dict-as-struct policy the teacher's decoder never implemented.
type decoder struct {
	signature Signature
	data      []byte
	order     binary.ByteOrder

	dataOffset, sigOffset int
}

func newDecoder(signature Signature, data []byte, order binary.ByteOrder) *decoder {
	return &decoder{signature: signature, data: data, order: order}
}

func (self *decoder) align(alignment int) {
	for self.dataOffset%alignment != 0 {
		self.dataOffset++
	}
}

func (self *decoder) atEnd() bool {
	return self.sigOffset >= len(self.signature)
}

// Decode reads len(args) values from the cursor in signature order. Every
// arg must be a pointer so the decoded value can be written back.
func (self *decoder) Decode(args ...interface{}) error {
	for _, arg := range args {
		v := reflect.ValueOf(arg)
		if v.Kind() != reflect.Ptr {
			return deserializationError("arguments to Decode must be pointers, got %T", arg)
		}
		if err := self.decodeValue(v.Elem()); err != nil {
			return err
		}
	}
	return nil
}

func (self *decoder) readByte() (byte, error) {
	if len(self.data) < self.dataOffset+1 {
		return 0, deserializationError("premature end of message reading a byte")
	}
	b := self.data[self.dataOffset]
	self.dataOffset++
	return b, nil
}

func (self *decoder) readUint16() (uint16, error) {
	self.align(2)
	if len(self.data) < self.dataOffset+2 {
		return 0, deserializationError("premature end of message reading a uint16")
	}
	v := self.order.Uint16(self.data[self.dataOffset:])
	self.dataOffset += 2
	return v, nil
}

func (self *decoder) readUint32() (uint32, error) {
	self.align(4)
	if len(self.data) < self.dataOffset+4 {
		return 0, deserializationError("premature end of message reading a uint32")
	}
	v := self.order.Uint32(self.data[self.dataOffset:])
	self.dataOffset += 4
	return v, nil
}

func (self *decoder) readUint64() (uint64, error) {
	self.align(8)
	if len(self.data) < self.dataOffset+8 {
		return 0, deserializationError("premature end of message reading a uint64")
	}
	v := self.order.Uint64(self.data[self.dataOffset:])
	self.dataOffset += 8
	return v, nil
}

func (self *decoder) readString() (string, error) {
	length, err := self.readUint32()
	if err != nil {
		return "", err
	}
	if len(self.data) < self.dataOffset+int(length)+1 {
		return "", deserializationError("premature end of message reading a string")
	}
	v := string(self.data[self.dataOffset : self.dataOffset+int(length)])
	self.dataOffset += int(length) + 1
	return v, nil
}

func (self *decoder) readSignature() (Signature, error) {
	length, err := self.readByte()
	if err != nil {
		return "", err
	}
	if len(self.data) < self.dataOffset+int(length)+1 {
		return "", deserializationError("premature end of message reading a signature")
	}
	v := Signature(self.data[self.dataOffset : self.dataOffset+int(length)])
	self.dataOffset += int(length) + 1
	return v, nil
}

// decodeValue consumes the next complete type from the signature and
// writes the decoded value into v, which must be settable.
func (self *decoder) decodeValue(v reflect.Value) error {
	if self.atEnd() {
		return deserializationError("signature exhausted before value")
	}
	code := self.signature[self.sigOffset]
	self.sigOffset++

	switch code {
	case 'y':
		value, err := self.readByte()
		if err != nil {
			return err
		}
		return assign(v, value)
	case 'b':
		value, err := self.readUint32()
		if err != nil {
			return err
		}
		return assign(v, value != 0)
	case 'n':
		value, err := self.readUint16()
		if err != nil {
			return err
		}
		return assign(v, int16(value))
	case 'q':
		value, err := self.readUint16()
		if err != nil {
			return err
		}
		return assign(v, value)
	case 'i':
		value, err := self.readUint32()
		if err != nil {
			return err
		}
		return assign(v, int32(value))
	case 'u':
		value, err := self.readUint32()
		if err != nil {
			return err
		}
		return assign(v, value)
	case 'x':
		value, err := self.readUint64()
		if err != nil {
			return err
		}
		return assign(v, int64(value))
	case 't':
		value, err := self.readUint64()
		if err != nil {
			return err
		}
		return assign(v, value)
	case 'd':
		value, err := self.readUint64()
		if err != nil {
			return err
		}
		return assign(v, math.Float64frombits(value))
	case 's':
		value, err := self.readString()
		if err != nil {
			return err
		}
		return assign(v, value)
	case 'o':
		value, err := self.readString()
		if err != nil {
			return err
		}
		return assign(v, ObjectPath(value))
	case 'g':
		value, err := self.readSignature()
		if err != nil {
			return err
		}
		return assign(v, value)
	case 'v':
		return self.decodeVariant(v)
	case 'a':
		return self.decodeArray(v)
	case '(':
		return self.decodeStruct(v)
	}
	return deserializationError("unsupported type code %q in signature", code)
}

func (self *decoder) decodeVariant(v reflect.Value) error {
	innerSig, err := self.readSignature()
	if err != nil {
		return err
	}
	inner := &decoder{signature: innerSig, data: self.data, order: self.order, dataOffset: self.dataOffset}
	var boxed interface{}
	if err := inner.decodeValue(reflect.ValueOf(&boxed).Elem()); err != nil {
		return err
	}
	self.dataOffset = inner.dataOffset
	return assign(v, Variant{boxed})
}

func (self *decoder) decodeArray(v reflect.Value) error {
	if self.atEnd() {
		return deserializationError("signature exhausted before array element type")
	}
	if self.signature[self.sigOffset] == '{' {
		return self.decodeMap(v)
	}

	length, err := self.readUint32()
	if err != nil {
		return err
	}
	elemSigOffset := self.sigOffset
	arrayEnd := self.dataOffset + int(length)
	if len(self.data) < arrayEnd {
		return deserializationError("premature end of message reading an array")
	}

	elemType, err := self.peekElementType(elemSigOffset)
	if err != nil {
		return err
	}

	switch v.Kind() {
	case reflect.Interface:
		slice := reflect.MakeSlice(reflect.SliceOf(elemType), 0, 0)
		for self.dataOffset < arrayEnd {
			self.sigOffset = elemSigOffset
			elem := reflect.New(elemType).Elem()
			if err := self.decodeValue(elem); err != nil {
				return err
			}
			slice = reflect.Append(slice, elem)
		}
		self.sigOffset = self.skipType(elemSigOffset)
		return assign(v, slice.Interface())
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice {
			v.Set(reflect.MakeSlice(v.Type(), 0, 0))
		}
		for i := 0; self.dataOffset < arrayEnd; i++ {
			self.sigOffset = elemSigOffset
			elem := reflect.New(v.Type().Elem()).Elem()
			if err := self.decodeValue(elem); err != nil {
				return err
			}
			if v.Kind() == reflect.Slice {
				v.Set(reflect.Append(v, elem))
			} else if i < v.Len() {
				v.Index(i).Set(elem)
			}
		}
		self.sigOffset = self.skipType(elemSigOffset)
		return nil
	}
	return deserializationError("cannot decode array into %s", v.Type())
}

func (self *decoder) decodeMap(v reflect.Value) error {
	length, err := self.readUint32()
	if err != nil {
		return err
	}
	// '{' opens the dict-entry type.
	self.sigOffset++ // consume '{'
	keySigOffset := self.sigOffset
	arrayEnd := self.dataOffset + int(length)
	if len(self.data) < arrayEnd {
		return deserializationError("premature end of message reading a map")
	}

	keyType, err := self.peekElementType(keySigOffset)
	if err != nil {
		return err
	}
	valSigOffset := self.skipType(keySigOffset)
	valType, err := self.peekElementType(valSigOffset)
	if err != nil {
		return err
	}
	endSigOffset := self.skipType(valSigOffset) + 1 // consume '}'

	target := v
	isStructPolicy := v.Kind() == reflect.Struct && v.Type() != typeVariant
	var policy DictPolicy
	if isStructPolicy {
		policy, _ = policyFor(v.Type())
	}

	var m reflect.Value
	if !isStructPolicy {
		mt := v.Type()
		if v.Kind() == reflect.Interface {
			mt = reflect.MapOf(keyType, valType)
		}
		m = reflect.MakeMap(mt)
	}

	for self.dataOffset < arrayEnd {
		self.align(8)
		self.sigOffset = keySigOffset
		key := reflect.New(keyType).Elem()
		if err := self.decodeValue(key); err != nil {
			return err
		}
		self.sigOffset = valSigOffset
		val := reflect.New(valType).Elem()
		if err := self.decodeValue(val); err != nil {
			return err
		}
		if isStructPolicy {
			field := target.FieldByName(key.String())
			if !field.IsValid() {
				if policy.Strict {
					return deserializationError("unknown dict key %q for struct %s", key.String(), target.Type())
				}
				continue
			}
			boxed := val.Interface().(Variant).Value
			assignField(field, boxed)
		} else {
			m.SetMapIndex(key, val)
		}
	}
	self.sigOffset = endSigOffset
	if isStructPolicy {
		return nil
	}
	return assign(v, m.Interface())
}

func (self *decoder) decodeStruct(v reflect.Value) error {
	self.align(8)
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := self.decodeValue(v.Field(i)); err != nil {
				return err
			}
		}
		if self.atEnd() || self.signature[self.sigOffset] != ')' {
			return deserializationError("missing closing ) in struct signature")
		}
		self.sigOffset++
		return nil
	case reflect.Interface:
		var fields []interface{}
		for !self.atEnd() && self.signature[self.sigOffset] != ')' {
			var elem interface{}
			if err := self.decodeValue(reflect.ValueOf(&elem).Elem()); err != nil {
				return err
			}
			fields = append(fields, elem)
		}
		if self.atEnd() {
			return deserializationError("missing closing ) in struct signature")
		}
		self.sigOffset++
		return assign(v, fields)
	}
	return deserializationError("cannot decode struct into %s", v.Type())
}

// peekElementType returns the Go reflect.Type corresponding to the
// signature fragment starting at offset, without consuming it.
func (self *decoder) peekElementType(offset int) (reflect.Type, error) {
	if offset >= len(self.signature) {
		return nil, deserializationError("signature exhausted reading element type")
	}
	switch self.signature[offset] {
	case 'y':
		return reflect.TypeOf(byte(0)), nil
	case 'b':
		return reflect.TypeOf(false), nil
	case 'n':
		return reflect.TypeOf(int16(0)), nil
	case 'q':
		return reflect.TypeOf(uint16(0)), nil
	case 'i':
		return reflect.TypeOf(int32(0)), nil
	case 'u':
		return reflect.TypeOf(uint32(0)), nil
	case 'x':
		return reflect.TypeOf(int64(0)), nil
	case 't':
		return reflect.TypeOf(uint64(0)), nil
	case 'd':
		return reflect.TypeOf(float64(0)), nil
	case 's':
		return reflect.TypeOf(""), nil
	case 'o':
		return typeObjectPath, nil
	case 'g':
		return typeSignature, nil
	case 'v':
		return typeVariant, nil
	case 'a':
		if offset+1 < len(self.signature) && self.signature[offset+1] == '{' {
			keyType, err := self.peekElementType(offset + 2)
			if err != nil {
				return nil, err
			}
			valOffset := self.skipType(offset + 2)
			valType, err := self.peekElementType(valOffset)
			if err != nil {
				return nil, err
			}
			return reflect.MapOf(keyType, valType), nil
		}
		elemType, err := self.peekElementType(offset + 1)
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elemType), nil
	case '(':
		return typeBlankInterface, nil
	}
	return nil, deserializationError("unsupported type code %q", self.signature[offset])
}

// skipType returns the signature offset immediately after the complete
// type starting at offset.
func (self *decoder) skipType(offset int) int {
	if offset >= len(self.signature) {
		return offset
	}
	switch self.signature[offset] {
	case 'a':
		if offset+1 < len(self.signature) && self.signature[offset+1] == '{' {
			end := self.skipType(offset + 2)
			end = self.skipType(end)
			return end + 1 // closing '}'
		}
		return self.skipType(offset + 1)
	case '(':
		i := offset + 1
		for i < len(self.signature) && self.signature[i] != ')' {
			i = self.skipType(i)
		}
		return i + 1
	default:
		return offset + 1
	}
}

func assign(v reflect.Value, value interface{}) error {
	if v.Kind() == reflect.Interface || v.Kind() == reflect.Invalid {
		v.Set(reflect.ValueOf(value))
		return nil
	}
	rv := reflect.ValueOf(value)
	if rv.Type().ConvertibleTo(v.Type()) {
		v.Set(rv.Convert(v.Type()))
		return nil
	}
	return deserializationError("cannot assign %T to %s", value, v.Type())
}

func assignField(field reflect.Value, value interface{}) {
	rv := reflect.ValueOf(value)
	if field.Kind() == reflect.Interface {
		field.Set(rv)
		return
	}
	if rv.Type().ConvertibleTo(field.Type()) {
		field.Set(rv.Convert(field.Type()))
	}
}
