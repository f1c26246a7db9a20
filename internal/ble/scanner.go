package ble

// Advertising-data field types carrying the peer's local name.
const (
	adTypeShortName    = 0x08
	adTypeCompleteName = 0x09
)

// advField walks the AD structures of a raw advertising payload and
// returns the first field of the given type. Malformed trailing data
// terminates the walk; whatever was parsed before it still counts.
func advField(data []byte, typ byte) ([]byte, bool) {
	for len(data) >= 2 {
		l := int(data[0])
		if l == 0 || len(data) < 1+l {
			break
		}
		if data[1] == typ {
			return data[2 : 1+l], true
		}
		data = data[1+l:]
	}
	return nil, false
}

// matchesNamePrefix reports whether the advertisement carries a complete
// or shortened local name beginning with prefix. The comparison is
// byte-exact; a name shorter than the prefix never matches.
func matchesNamePrefix(data []byte, prefix string) bool {
	if prefix == "" {
		return false
	}
	if name, ok := advField(data, adTypeCompleteName); ok && hasPrefix(name, prefix) {
		return true
	}
	if name, ok := advField(data, adTypeShortName); ok && hasPrefix(name, prefix) {
		return true
	}
	return false
}

func hasPrefix(name []byte, prefix string) bool {
	return len(name) >= len(prefix) && string(name[:len(prefix)]) == prefix
}
