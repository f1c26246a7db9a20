package ble

import (
	"errors"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// descriptorFlag marks synthetic descriptor handles. The underlying
// library hides the attribute table, so the adapter fabricates stable
// handle identities: services get spaced ranges, characteristics sit
// inside their service's range, and each characteristic's CCC descriptor
// is its handle with the high bit set.
const (
	descriptorFlag  = Handle(0x8000)
	serviceSpacing  = 0x40
	firstServiceHdl = 0x0001
)

// NativeTransport implements Transport over tinygo.org/x/bluetooth. The
// library abstracts handles, descriptors, and characteristic properties
// away, so this adapter synthesizes handles, reports write and notify
// properties on every characteristic (the library exposes no property
// bits), answers descriptor enumeration with a synthetic CCC descriptor
// whose write maps to EnableNotifications, and reports MTU negotiation
// as unsupported so the client proceeds with the default MTU.
type NativeTransport struct {
	adapter *bluetooth.Adapter
	sink    func(Event)

	mu       sync.Mutex
	scanning bool
	device   *bluetooth.Device
	connID   uint16
	services map[Handle]*bluetooth.DeviceService        // keyed by range start
	chars    map[Handle]*bluetooth.DeviceCharacteristic // keyed by char handle
}

// NewNativeTransport creates a transport over the default BLE adapter.
// Events are delivered to sink from adapter goroutines.
func NewNativeTransport(sink func(Event)) *NativeTransport {
	return &NativeTransport{
		adapter:  bluetooth.DefaultAdapter,
		sink:     sink,
		services: make(map[Handle]*bluetooth.DeviceService),
		chars:    make(map[Handle]*bluetooth.DeviceCharacteristic),
	}
}

// Enable powers on the adapter and registers the disconnect handler.
func (t *NativeTransport) Enable() error {
	if err := t.adapter.Enable(); err != nil {
		return err
	}
	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		t.mu.Lock()
		active := t.device != nil && t.device.Address.String() == device.Address.String()
		if active {
			t.device = nil
		}
		t.mu.Unlock()
		if active {
			t.sink(DisconnectedEvent{})
		}
	})
	return nil
}

var _ Transport = (*NativeTransport)(nil)

func (t *NativeTransport) StartScan(_ ScanParams) error {
	t.mu.Lock()
	if t.scanning {
		t.mu.Unlock()
		return nil
	}
	t.scanning = true
	t.mu.Unlock()

	// Scan blocks until StopScan; run it out of line and report its end
	// as the scan-stop completion.
	go func() {
		err := t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			addr, ok := parseMAC(result.Address.String())
			if !ok {
				return
			}
			t.sink(AdvertisementEvent{
				Addr: addr,
				RSSI: int(result.RSSI),
				Data: nameAdvPayload(result.LocalName()),
			})
		})
		t.mu.Lock()
		t.scanning = false
		t.mu.Unlock()
		t.sink(ScanStoppedEvent{Err: err})
	}()
	return nil
}

func (t *NativeTransport) StopScan() error {
	return t.adapter.StopScan()
}

func (t *NativeTransport) Connect(addr Address) error {
	var target bluetooth.Address
	target.Set(addr.String())
	go func() {
		device, err := t.adapter.Connect(target, bluetooth.ConnectionParams{})
		if err != nil {
			t.sink(ConnectFailedEvent{Err: err})
			return
		}
		t.mu.Lock()
		t.device = &device
		t.connID++
		id := t.connID
		clear(t.services)
		clear(t.chars)
		t.mu.Unlock()
		t.sink(ConnectedEvent{ConnID: id, Addr: addr})
	}()
	return nil
}

func (t *NativeTransport) Disconnect() error {
	t.mu.Lock()
	device := t.device
	t.mu.Unlock()
	if device == nil {
		return errors.New("ble: not connected")
	}
	return device.Disconnect()
}

// RequestMTU is unsupported by the underlying library; the client falls
// back to the default MTU.
func (t *NativeTransport) RequestMTU() error {
	return errors.New("ble: MTU negotiation not supported by this adapter")
}

func (t *NativeTransport) DiscoverServices() error {
	t.mu.Lock()
	device := t.device
	t.mu.Unlock()
	if device == nil {
		return errors.New("ble: not connected")
	}
	go func() {
		svcs, err := device.DiscoverServices(nil)
		if err != nil {
			t.sink(DiscoveryCompleteEvent{Err: err})
			return
		}
		for i := range svcs {
			start := Handle(firstServiceHdl + i*serviceSpacing)
			rng := ServiceRange{
				Start: start,
				End:   start + serviceSpacing - 1,
				UUID:  fromNativeUUID(svcs[i].UUID()),
			}
			t.mu.Lock()
			t.services[start] = &svcs[i]
			t.mu.Unlock()
			t.sink(ServiceFoundEvent{Service: rng})
		}
		t.sink(DiscoveryCompleteEvent{})
	}()
	return nil
}

func (t *NativeTransport) Characteristics(start, end Handle) error {
	t.mu.Lock()
	svc := t.services[start]
	t.mu.Unlock()
	if svc == nil {
		return fmt.Errorf("ble: no service at handle %#04x", start)
	}
	go func() {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			t.sink(CharacteristicsFoundEvent{Err: err})
			return
		}
		found := make([]Characteristic, 0, len(chars))
		for i := range chars {
			h := start + 1 + Handle(i)
			t.mu.Lock()
			t.chars[h] = &chars[i]
			t.mu.Unlock()
			found = append(found, Characteristic{
				Handle: h,
				UUID:   fromNativeUUID(chars[i].UUID()),
				// The library exposes no property bits; report the
				// union so selection can proceed.
				Properties: PropWrite | PropWriteNR | PropNotify,
			})
		}
		t.sink(CharacteristicsFoundEvent{Chars: found})
	}()
	return nil
}

func (t *NativeTransport) Descriptors(char, _, _ Handle) error {
	t.mu.Lock()
	_, ok := t.chars[char]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: no characteristic at handle %#04x", char)
	}
	go t.sink(DescriptorsFoundEvent{Descs: []Descriptor{{
		Handle: char | descriptorFlag,
		UUID:   UUID16(uuidClientCharConfig),
	}}})
	return nil
}

func (t *NativeTransport) RegisterNotify(char Handle) error {
	t.mu.Lock()
	_, ok := t.chars[char]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: no characteristic at handle %#04x", char)
	}
	go t.sink(NotifyRegisteredEvent{})
	return nil
}

func (t *NativeTransport) WriteCharacteristic(h Handle, value []byte, _ bool) error {
	t.mu.Lock()
	char := t.chars[h]
	t.mu.Unlock()
	if char == nil {
		return fmt.Errorf("ble: no characteristic at handle %#04x", h)
	}
	// The write happens in line so consecutive slices stay ordered; only
	// the completion event is asynchronous.
	_, err := char.WriteWithoutResponse(value)
	go t.sink(CharWrittenEvent{Handle: h, Err: err})
	return nil
}

// WriteDescriptor accepts only the synthetic CCC descriptor; enabling
// notifications there subscribes via the library.
func (t *NativeTransport) WriteDescriptor(h Handle, value []byte) error {
	charHandle := h &^ descriptorFlag
	t.mu.Lock()
	char := t.chars[charHandle]
	t.mu.Unlock()
	if h&descriptorFlag == 0 || char == nil {
		return fmt.Errorf("ble: no descriptor at handle %#04x", h)
	}
	if len(value) == 0 || value[0]&0x01 == 0 {
		return errors.New("ble: only notification enable is supported")
	}
	go func() {
		err := char.EnableNotifications(func(buf []byte) {
			value := make([]byte, len(buf))
			copy(value, buf)
			t.sink(NotificationEvent{Handle: charHandle, Value: value})
		})
		t.sink(DescriptorWrittenEvent{Handle: h, Err: err})
	}()
	return nil
}

// fromNativeUUID converts a library UUID, collapsing short-form UUIDs to
// their 16-bit representation.
func fromNativeUUID(u bluetooth.UUID) UUID {
	if u.Is16Bit() {
		return UUID16(u.Get16Bit())
	}
	b := u.Bytes() // little-endian
	var be [16]byte
	for i := range b {
		be[i] = b[15-i]
	}
	return UUID128(be)
}

// nameAdvPayload synthesizes an advertising payload holding a complete
// local name field; the library pre-parses advertisements, but the
// scanner consumes raw AD structures.
func nameAdvPayload(name string) []byte {
	if name == "" || len(name) > 29 {
		return nil
	}
	data := make([]byte, 0, 2+len(name))
	data = append(data, byte(1+len(name)), adTypeCompleteName)
	return append(data, name...)
}

// parseMAC parses "AA:BB:CC:DD:EE:FF" into an Address.
func parseMAC(s string) (Address, bool) {
	var a Address
	if len(s) != 17 {
		return a, false
	}
	for i := 0; i < 6; i++ {
		hi, ok1 := hexNibble(s[i*3])
		lo, ok2 := hexNibble(s[i*3+1])
		if !ok1 || !ok2 {
			return Address{}, false
		}
		if i < 5 && s[i*3+2] != ':' {
			return Address{}, false
		}
		a.MAC[i] = hi<<4 | lo
	}
	return a, true
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
