package dbus

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
)

// encoder marshals Go values into the D-Bus wire format, accumulating the
// signature of what it has written as it goes. It is grounded in the
// teacher library's reflect-driven encoder: a small recursive descent over
// reflect.Kind that mirrors the structural recursion of SignatureForType.
type encoder struct {
	signature Signature
	data      bytes.Buffer
	order     binary.ByteOrder
	offset    int
}

func newEncoder(order binary.ByteOrder) *encoder {
	return &encoder{order: order}
}

func (self *encoder) align(alignment int) {
	for (self.data.Len()+self.offset)%alignment != 0 {
		self.data.WriteByte(0)
	}
}

func (self *encoder) Append(args ...interface{}) error {
	for _, arg := range args {
		if err := self.appendValue(reflect.ValueOf(arg)); err != nil {
			return err
		}
	}
	return nil
}

func (self *encoder) appendValue(v reflect.Value) error {
	if !v.IsValid() {
		return fmt.Errorf("dbus: cannot marshal a nil interface value")
	}

	sig, err := SignatureForType(v.Type())
	if err != nil {
		return err
	}
	self.signature += sig

	// Convert HasObjectPath values to ObjectPath strings.
	if v.Type().AssignableTo(typeHasObjectPath) && v.Type() != typeObjectPath {
		path := v.Interface().(HasObjectPath).GetObjectPath()
		v = reflect.ValueOf(path)
	}

	// We want pointer values here, rather than the pointers themselves.
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Uint8:
		self.align(1)
		self.data.WriteByte(byte(v.Uint()))
		return nil
	case reflect.Bool:
		self.align(4)
		var u uint32
		if v.Bool() {
			u = 1
		}
		binary.Write(&self.data, self.order, u)
		return nil
	case reflect.Int16:
		self.align(2)
		binary.Write(&self.data, self.order, int16(v.Int()))
		return nil
	case reflect.Uint16:
		self.align(2)
		binary.Write(&self.data, self.order, uint16(v.Uint()))
		return nil
	case reflect.Int32:
		self.align(4)
		binary.Write(&self.data, self.order, int32(v.Int()))
		return nil
	case reflect.Uint32:
		self.align(4)
		binary.Write(&self.data, self.order, uint32(v.Uint()))
		return nil
	case reflect.Int64:
		self.align(8)
		binary.Write(&self.data, self.order, v.Int())
		return nil
	case reflect.Uint64, reflect.Uintptr:
		self.align(8)
		binary.Write(&self.data, self.order, v.Uint())
		return nil
	case reflect.Float64:
		self.align(8)
		binary.Write(&self.data, self.order, v.Float())
		return nil
	case reflect.String:
		s := v.String()
		if v.Type() == typeSignature {
			// Signatures use a single length byte, not a uint32.
			self.align(1)
			self.data.WriteByte(byte(len(s)))
		} else {
			self.align(4)
			binary.Write(&self.data, self.order, uint32(len(s)))
		}
		self.data.Write([]byte(s))
		self.data.WriteByte(0)
		return nil
	case reflect.Array, reflect.Slice:
		// Marshal the contents to a separate buffer so we can measure
		// its length before writing it in place.
		content := newEncoder(self.order)
		content.offset = self.data.Len() + 4
		for i := 0; i < v.Len(); i++ {
			if err := content.appendValue(v.Index(i)); err != nil {
				return err
			}
		}
		self.align(4)
		binary.Write(&self.data, self.order, uint32(content.data.Len()))
		self.data.Write(content.data.Bytes())
		return nil
	case reflect.Map:
		content := newEncoder(self.order)
		content.offset = self.data.Len() + 4
		for _, key := range v.MapKeys() {
			content.align(8)
			if err := content.appendValue(key); err != nil {
				return err
			}
			if err := content.appendValue(v.MapIndex(key)); err != nil {
				return err
			}
		}
		self.align(4)
		binary.Write(&self.data, self.order, uint32(content.data.Len()))
		self.data.Write(content.data.Bytes())
		return nil
	case reflect.Struct:
		if v.Type() == typeVariant {
			variant := v.Interface().(Variant)
			variantSig, err := variant.VariantSignature()
			if err != nil {
				return err
			}
			// The variant's own typecodes ('v') were already
			// recorded above; the boxed value's signature is part
			// of the wire payload, not the outer signature.
			savedSig := self.signature
			if err := self.appendValue(reflect.ValueOf(variantSig)); err != nil {
				return err
			}
			if err := self.appendValue(reflect.ValueOf(variant.Value)); err != nil {
				return err
			}
			self.signature = savedSig
			return nil
		}
		if policy, ok := policyFor(v.Type()); ok && policy.AsDictionary {
			return self.appendDictAsStruct(v)
		}
		self.align(8)
		savedSig := self.signature
		for i := 0; i < v.NumField(); i++ {
			if err := self.appendValue(v.Field(i)); err != nil {
				return err
			}
		}
		self.signature = savedSig
		return nil
	case reflect.Interface:
		// Untyped values travel boxed as a Variant.
		return self.appendValue(reflect.ValueOf(Variant{v.Interface()}))
	}
	return fmt.Errorf("dbus: could not marshal %s", v.Type())
}

func (self *encoder) appendDictAsStruct(v reflect.Value) error {
	content := newEncoder(self.order)
	content.offset = self.data.Len() + 4
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		content.align(8)
		if err := content.appendValue(reflect.ValueOf(t.Field(i).Name)); err != nil {
			return err
		}
		if err := content.appendValue(reflect.ValueOf(Variant{v.Field(i).Interface()})); err != nil {
			return err
		}
	}
	self.align(4)
	binary.Write(&self.data, self.order, uint32(content.data.Len()))
	self.data.Write(content.data.Bytes())
	return nil
}
