package dbus

import (
	"reflect"
	"testing"
)

func TestSignatureForTypeScalars(t *testing.T) {
	cases := []struct {
		value interface{}
		want  Signature
	}{
		{byte(0), "y"},
		{true, "b"},
		{int16(0), "n"},
		{uint16(0), "q"},
		{int32(0), "i"},
		{uint32(0), "u"},
		{int64(0), "x"},
		{uint64(0), "t"},
		{float64(0), "d"},
		{"", "s"},
		{ObjectPath(""), "o"},
		{Signature(""), "g"},
	}
	for _, c := range cases {
		got, err := SignatureForType(reflect.TypeOf(c.value))
		if err != nil {
			t.Fatalf("SignatureForType(%T): %v", c.value, err)
		}
		if got != c.want {
			t.Errorf("SignatureForType(%T) = %q, want %q", c.value, got, c.want)
		}
	}
}

func TestSignatureForTypeStruct(t *testing.T) {
	type pair struct {
		S string
		I int32
	}
	got, err := SignatureForType(reflect.TypeOf(pair{}))
	if err != nil {
		t.Fatal(err)
	}
	if got != "(si)" {
		t.Errorf("struct signature = %q, want \"(si)\"", got)
	}
}

func TestSignatureForTypeMap(t *testing.T) {
	got, err := SignatureForType(reflect.TypeOf(map[string]Variant{}))
	if err != nil {
		t.Fatal(err)
	}
	if got != "a{sv}" {
		t.Errorf("map signature = %q, want \"a{sv}\"", got)
	}
}

func TestSignatureForTypeDictAsStruct(t *testing.T) {
	type props struct {
		Label string
	}
	RegisterDictPolicy(reflect.TypeOf(props{}), DictPolicy{AsDictionary: true})
	got, err := SignatureForType(reflect.TypeOf(props{}))
	if err != nil {
		t.Fatal(err)
	}
	if got != "a{sv}" {
		t.Errorf("dict-as-struct signature = %q, want \"a{sv}\"", got)
	}
}

func TestIsWellFormed(t *testing.T) {
	good := []Signature{"", "s", "a{sv}", "(si)", "a(si)", "aa{sv}"}
	for _, sig := range good {
		if !IsWellFormed(sig) {
			t.Errorf("IsWellFormed(%q) = false, want true", sig)
		}
	}
	bad := []Signature{"(", "{sv}", ")", "a{s", "(si"}
	for _, sig := range bad {
		if IsWellFormed(sig) {
			t.Errorf("IsWellFormed(%q) = true, want false", sig)
		}
	}
}

func TestIsTrivial(t *testing.T) {
	if !IsTrivial(reflect.TypeOf(int32(0))) {
		t.Error("int32 should be trivial")
	}
	if IsTrivial(reflect.TypeOf("")) {
		t.Error("string should not be trivial")
	}
}
