package ble

import "fmt"

// Well-known assigned numbers referenced during endpoint selection.
const (
	uuidGenericAccess    = 0x1800
	uuidGenericAttribute = 0x1801
	uuidClientCharConfig = 0x2902
)

// UUID is a GATT UUID in 16-bit short form or 128-bit full form.
// The zero value is an invalid UUID that equals nothing.
type UUID struct {
	short uint16
	full  [16]byte
	is16  bool
	valid bool
}

// UUID16 returns a 16-bit short-form UUID.
func UUID16(v uint16) UUID {
	return UUID{short: v, is16: true, valid: true}
}

// UUID128 returns a 128-bit UUID from big-endian bytes.
func UUID128(b [16]byte) UUID {
	return UUID{full: b, valid: true}
}

// Is16 reports whether the UUID is in 16-bit short form.
func (u UUID) Is16() bool {
	return u.valid && u.is16
}

// Equal16 reports whether the UUID is the 16-bit UUID v.
func (u UUID) Equal16(v uint16) bool {
	return u.Is16() && u.short == v
}

func (u UUID) String() string {
	switch {
	case !u.valid:
		return "invalid"
	case u.is16:
		return fmt.Sprintf("%04x", u.short)
	default:
		return fmt.Sprintf("%x-%x-%x-%x-%x",
			u.full[0:4], u.full[4:6], u.full[6:8], u.full[8:10], u.full[10:16])
	}
}

// isStandardService reports whether a service UUID is one of the
// generic-access/generic-attribute services every peripheral exposes.
func isStandardService(u UUID) bool {
	return u.Equal16(uuidGenericAccess) || u.Equal16(uuidGenericAttribute)
}
