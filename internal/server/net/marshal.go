package net

import (
	"fmt"
	"reflect"
)

const tagName = "mc"

// Marshal encodes a Packet into b. Packets implementing Encoder write
// themselves; otherwise exported fields are encoded in order by their mc
// struct tags. A field whose value implements Encoder may use the tag
// "encoder".
func Marshal(b *Buffer, p Packet) error {
	if enc, ok := p.(Encoder); ok {
		return enc.Encode(b)
	}

	v := reflect.ValueOf(p)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("marshal: expected struct, got %s", v.Kind())
	}

	t := v.Type()
	for i := range t.NumField() {
		field := t.Field(i)
		tag := field.Tag.Get(tagName)
		if tag == "" || tag == "-" {
			continue
		}

		if tag == "encoder" {
			enc, ok := v.Field(i).Interface().(Encoder)
			if !ok {
				return fmt.Errorf("marshal field %s: %s does not implement Encoder", field.Name, field.Type)
			}
			if err := enc.Encode(b); err != nil {
				return fmt.Errorf("marshal field %s: %w", field.Name, err)
			}
			continue
		}

		if err := WriteField(b, tag, v.Field(i).Interface()); err != nil {
			return fmt.Errorf("marshal field %s: %w", field.Name, err)
		}
	}

	return nil
}

// MarshalBytes encodes p into a fresh byte slice.
func MarshalBytes(p Packet) ([]byte, error) {
	b := NewBuffer()
	if err := Marshal(b, p); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal decodes data into a Packet pointer using Decoder or mc struct tags.
func Unmarshal(data []byte, p Packet) error {
	return UnmarshalFrom(NewBufferFrom(data), p)
}

// UnmarshalFrom decodes from b into a Packet pointer.
func UnmarshalFrom(b *Buffer, p Packet) error {
	if dec, ok := p.(Decoder); ok {
		return dec.Decode(b)
	}

	v := reflect.ValueOf(p)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("unmarshal: expected non-nil pointer, got %T", p)
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("unmarshal: expected pointer to struct, got pointer to %s", v.Kind())
	}

	t := v.Type()
	for i := range t.NumField() {
		field := t.Field(i)
		tag := field.Tag.Get(tagName)
		if tag == "" || tag == "-" {
			continue
		}

		fv := v.Field(i)
		if tag == "encoder" {
			dec, ok := fv.Addr().Interface().(Decoder)
			if !ok {
				return fmt.Errorf("unmarshal field %s: %s does not implement Decoder", field.Name, field.Type)
			}
			if err := dec.Decode(b); err != nil {
				return fmt.Errorf("unmarshal field %s: %w", field.Name, err)
			}
			continue
		}

		val, err := ReadField(b, tag)
		if err != nil {
			return fmt.Errorf("unmarshal field %s: %w", field.Name, err)
		}

		rv := reflect.ValueOf(val)
		if !rv.Type().AssignableTo(fv.Type()) {
			return fmt.Errorf("unmarshal field %s: cannot assign %s to %s", field.Name, rv.Type(), fv.Type())
		}
		fv.Set(rv)
	}

	return nil
}
