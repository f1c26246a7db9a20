// Package ble implements the central-role client for NF-F2 fixtures. It
// scans for a fixture by advertised-name prefix, connects, selects a
// write/notify characteristic pair, enables notifications, and pushes an
// opaque payload through the TF1 acknowledged-chunk protocol.
package ble

import "fmt"

// Handle is a GATT attribute handle. Zero means unset.
type Handle uint16

// AddrType distinguishes public from random link-layer addresses.
type AddrType byte

const (
	AddrTypePublic AddrType = 0
	AddrTypeRandom AddrType = 1
)

// Address identifies a peer by link-layer address and address type.
type Address struct {
	MAC  [6]byte
	Type AddrType
}

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		a.MAC[0], a.MAC[1], a.MAC[2], a.MAC[3], a.MAC[4], a.MAC[5])
}

// IsZero reports whether no address has been set.
func (a Address) IsZero() bool {
	return a.MAC == [6]byte{}
}

// CharProps is the GATT characteristic property bitmask.
type CharProps byte

const (
	PropBroadcast CharProps = 0x01
	PropRead      CharProps = 0x02
	PropWriteNR   CharProps = 0x04
	PropWrite     CharProps = 0x08
	PropNotify    CharProps = 0x10
	PropIndicate  CharProps = 0x20
)

// Characteristic describes one characteristic reported by enumeration.
type Characteristic struct {
	Handle     Handle
	UUID       UUID
	Properties CharProps
}

// Descriptor describes one descriptor reported by enumeration.
type Descriptor struct {
	Handle Handle
	UUID   UUID
}

// ServiceRange is one discovered service: its handle range and UUID.
type ServiceRange struct {
	Start Handle
	End   Handle
	UUID  UUID
}

// ScanParams configures a scan. Units for Interval and Window are
// 0.625 ms, per the controller interface.
type ScanParams struct {
	Active           bool
	OwnAddrType      AddrType
	FilterPolicy     byte
	Interval         uint16
	Window           uint16
	FilterDuplicates bool
}

// DefaultScanParams returns the scan configuration used against NF-F2
// fixtures: active scan, public own address, allow-all filter policy,
// duplicates reported.
func DefaultScanParams() ScanParams {
	return ScanParams{
		Active:           true,
		OwnAddrType:      AddrTypePublic,
		FilterPolicy:     0,
		Interval:         0x50,
		Window:           0x30,
		FilterDuplicates: false,
	}
}

// Transport abstracts the BLE stack for testing and for multiple
// backends. Every method is asynchronous: a nil return means the
// operation started, and its outcome arrives later as an Event delivered
// to the client. A non-nil return means the operation could not start.
type Transport interface {
	// StartScan begins scanning with the given parameters. Matches are
	// delivered as AdvertisementEvent.
	StartScan(p ScanParams) error

	// StopScan stops an active scan; completes via ScanStoppedEvent.
	StopScan() error

	// Connect initiates a connection; completes via ConnectedEvent or
	// ConnectFailedEvent.
	Connect(addr Address) error

	// Disconnect tears down the connection; completes via
	// DisconnectedEvent.
	Disconnect() error

	// RequestMTU negotiates the connection MTU; completes via
	// MTUConfiguredEvent. MTU negotiation is best-effort.
	RequestMTU() error

	// DiscoverServices enumerates all services; each is delivered as a
	// ServiceFoundEvent, followed by one DiscoveryCompleteEvent.
	DiscoverServices() error

	// Characteristics enumerates characteristics within a handle range;
	// completes via CharacteristicsFoundEvent.
	Characteristics(start, end Handle) error

	// Descriptors enumerates the descriptors of the given characteristic
	// within a handle range; completes via DescriptorsFoundEvent.
	Descriptors(char, start, end Handle) error

	// RegisterNotify subscribes to notifications from the given
	// characteristic; completes via NotifyRegisteredEvent. Notification
	// values then arrive as NotificationEvent.
	RegisterNotify(char Handle) error

	// WriteCharacteristic writes a characteristic value; completes via
	// CharWrittenEvent.
	WriteCharacteristic(h Handle, value []byte, withResponse bool) error

	// WriteDescriptor writes a descriptor value with response; completes
	// via DescriptorWrittenEvent.
	WriteDescriptor(h Handle, value []byte) error
}

// Event is one asynchronous transport completion or indication. The set
// is closed; the client consumes events one at a time through
// Client.HandleEvent.
type Event interface {
	event()
}

// AdvertisementEvent reports one received advertisement. Data holds the
// raw advertising payload (AD structures).
type AdvertisementEvent struct {
	Addr Address
	RSSI int
	Data []byte
}

// ScanStoppedEvent reports scan-stop completion.
type ScanStoppedEvent struct {
	Err error
}

// ConnectedEvent reports a successfully opened connection.
type ConnectedEvent struct {
	ConnID uint16
	Addr   Address
}

// ConnectFailedEvent reports a connection attempt that did not open.
type ConnectFailedEvent struct {
	Err error
}

// DisconnectedEvent reports that the connection closed, for any reason.
type DisconnectedEvent struct{}

// MTUConfiguredEvent reports MTU negotiation completion.
type MTUConfiguredEvent struct {
	MTU uint16
	Err error
}

// ServiceFoundEvent reports one discovered service.
type ServiceFoundEvent struct {
	Service ServiceRange
}

// DiscoveryCompleteEvent reports the end of service discovery.
type DiscoveryCompleteEvent struct {
	Err error
}

// CharacteristicsFoundEvent completes a Characteristics call.
type CharacteristicsFoundEvent struct {
	Chars []Characteristic
	Err   error
}

// DescriptorsFoundEvent completes a Descriptors call.
type DescriptorsFoundEvent struct {
	Descs []Descriptor
	Err   error
}

// NotifyRegisteredEvent completes a RegisterNotify call.
type NotifyRegisteredEvent struct {
	Err error
}

// DescriptorWrittenEvent completes a WriteDescriptor call.
type DescriptorWrittenEvent struct {
	Handle Handle
	Err    error
}

// CharWrittenEvent completes a WriteCharacteristic call.
type CharWrittenEvent struct {
	Handle Handle
	Err    error
}

// NotificationEvent carries one notification value from the peer.
type NotificationEvent struct {
	Handle Handle
	Value  []byte
}

func (AdvertisementEvent) event()        {}
func (ScanStoppedEvent) event()          {}
func (ConnectedEvent) event()            {}
func (ConnectFailedEvent) event()        {}
func (DisconnectedEvent) event()         {}
func (MTUConfiguredEvent) event()        {}
func (ServiceFoundEvent) event()         {}
func (DiscoveryCompleteEvent) event()    {}
func (CharacteristicsFoundEvent) event() {}
func (DescriptorsFoundEvent) event()     {}
func (NotifyRegisteredEvent) event()     {}
func (DescriptorWrittenEvent) event()    {}
func (CharWrittenEvent) event()          {}
func (NotificationEvent) event()         {}
