package ble

import (
	"testing"
)

// driveToSelection walks the client to the end of service discovery with
// the given catalog, leaving the selector mid-walk with its first
// characteristic enumeration issued.
func driveToSelection(t *testing.T, c *Client, services ...ServiceRange) {
	t.Helper()
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	c.HandleEvent(AdvertisementEvent{Addr: testAddr(), Data: advName("NF-F2-01")})
	c.HandleEvent(ScanStoppedEvent{})
	c.HandleEvent(ConnectedEvent{ConnID: 1, Addr: testAddr()})
	c.HandleEvent(MTUConfiguredEvent{MTU: 247})
	for _, svc := range services {
		c.HandleEvent(ServiceFoundEvent{Service: svc})
	}
	c.HandleEvent(DiscoveryCompleteEvent{})
}

func TestSelectorPrefersVendorServices(t *testing.T) {
	m := &mockTransport{}
	c := mustNewClient(t, m, testPayload(8), zeroDelayOpts())

	// Standard services come first in the catalog but must lose to the
	// vendor service regardless of discovery order.
	driveToSelection(t, c, standardService(uuidGenericAccess), vendorService())

	if len(m.charReqs) != 1 {
		t.Fatalf("characteristic requests = %d, want 1", len(m.charReqs))
	}
	if got := m.charReqs[0]; got != [2]Handle{testSvcStart, testSvcEnd} {
		t.Errorf("first candidate = %v, want vendor range [%#04x %#04x]", got, testSvcStart, testSvcEnd)
	}

	c.HandleEvent(CharacteristicsFoundEvent{Chars: []Characteristic{
		{Handle: testCharHandle, Properties: PropWriteNR | PropNotify},
	}})
	if c.sel.write != testCharHandle || c.sel.notify != testCharHandle {
		t.Errorf("selection = %+v, want write and notify on %#04x", c.sel, testCharHandle)
	}
	if len(m.charReqs) != 1 {
		t.Errorf("characteristic requests = %d, want 1 (search stops on full match)", len(m.charReqs))
	}
}

func TestSelectorFallsBackToStandardServices(t *testing.T) {
	m := &mockTransport{}
	c := mustNewClient(t, m, testPayload(8), zeroDelayOpts())

	driveToSelection(t, c, standardService(uuidGenericAttribute))

	// A catalog holding only standard services is walked in pass two.
	if len(m.charReqs) != 1 {
		t.Fatalf("characteristic requests = %d, want 1", len(m.charReqs))
	}
	if got := m.charReqs[0]; got != [2]Handle{testStdSvcStart, testStdSvcEnd} {
		t.Errorf("candidate = %v, want standard range [%#04x %#04x]", got, testStdSvcStart, testStdSvcEnd)
	}

	c.HandleEvent(CharacteristicsFoundEvent{Chars: []Characteristic{
		{Handle: 0x0003, Properties: PropWrite | PropNotify},
	}})
	if c.sel.write != 0x0003 {
		t.Errorf("selected write = %#04x, want 0x0003", c.sel.write)
	}
}

func TestSelectorWriteOnlyFallback(t *testing.T) {
	m := &mockTransport{}
	c := mustNewClient(t, m, testPayload(8), zeroDelayOpts())

	svc1 := vendorService()
	svc2 := vendorService()
	svc2.Start = 0x0040
	svc2.End = 0x004F
	driveToSelection(t, c, svc1, svc2)

	// svc1 offers only a write characteristic, svc2 only notify. No
	// full pair exists anywhere, so svc1 is kept as the fallback.
	c.HandleEvent(CharacteristicsFoundEvent{Chars: []Characteristic{
		{Handle: 0x002A, Properties: PropWriteNR},
	}})
	c.HandleEvent(CharacteristicsFoundEvent{Chars: []Characteristic{
		{Handle: 0x0042, Properties: PropNotify},
	}})

	if c.sel.write != 0x002A {
		t.Errorf("fallback write = %#04x, want 0x002A", c.sel.write)
	}
	if c.sel.notify != 0 {
		t.Errorf("fallback notify = %#04x, want none", c.sel.notify)
	}
	// Without a notify endpoint the setup stops before registration.
	if len(m.notifyRegs) != 0 {
		t.Errorf("notify registrations = %d, want 0", len(m.notifyRegs))
	}
}

func TestSelectorNoWriteCandidate(t *testing.T) {
	m := &mockTransport{}
	c := mustNewClient(t, m, testPayload(8), zeroDelayOpts())

	driveToSelection(t, c, vendorService())
	c.HandleEvent(CharacteristicsFoundEvent{Chars: []Characteristic{
		{Handle: testCharHandle, Properties: PropRead | PropNotify},
	}})

	if c.sel.write != 0 {
		t.Errorf("selected write = %#04x, want none", c.sel.write)
	}
	if len(m.notifyRegs) != 0 {
		t.Errorf("notify registrations = %d, want 0", len(m.notifyRegs))
	}
}

func TestSelectorSkipsFailedEnumeration(t *testing.T) {
	m := &mockTransport{}
	c := mustNewClient(t, m, testPayload(8), zeroDelayOpts())

	svc2 := vendorService()
	svc2.Start = 0x0040
	svc2.End = 0x004F
	driveToSelection(t, c, vendorService(), svc2)

	c.HandleEvent(CharacteristicsFoundEvent{Err: errTest})
	if len(m.charReqs) != 2 {
		t.Fatalf("characteristic requests = %d, want 2 (walk past failed candidate)", len(m.charReqs))
	}
	c.HandleEvent(CharacteristicsFoundEvent{Chars: []Characteristic{
		{Handle: 0x0042, Properties: PropWriteNR | PropIndicate},
	}})
	if c.sel.write != 0x0042 || c.sel.notify != 0x0042 {
		t.Errorf("selection = %+v, want endpoints on 0x0042", c.sel)
	}
}

func TestSelectorIgnoresUnsolicitedCharacteristics(t *testing.T) {
	m := &mockTransport{}
	c := mustNewClient(t, m, testPayload(8), zeroDelayOpts())
	c.Start()

	c.HandleEvent(CharacteristicsFoundEvent{Chars: []Characteristic{
		{Handle: testCharHandle, Properties: PropWriteNR | PropNotify},
	}})
	if c.sel.write != 0 {
		t.Errorf("selection = %+v, want none while selector inactive", c.sel)
	}
}

func TestSelectorMissingCCCD(t *testing.T) {
	m := &mockTransport{}
	c := mustNewClient(t, m, testPayload(8), zeroDelayOpts())

	driveToSelection(t, c, vendorService())
	c.HandleEvent(CharacteristicsFoundEvent{Chars: []Characteristic{
		{Handle: testCharHandle, Properties: PropWriteNR | PropNotify},
	}})
	c.HandleEvent(NotifyRegisteredEvent{})
	c.HandleEvent(DescriptorsFoundEvent{Descs: []Descriptor{
		{Handle: 0x002C, UUID: UUID16(0x2901)},
	}})

	if len(m.descWrites) != 0 {
		t.Errorf("descriptor writes = %d, want 0 without a CCC descriptor", len(m.descWrites))
	}
}

func TestSelectorIgnoresMismatchedDescriptorAck(t *testing.T) {
	m := &mockTransport{}
	c := mustNewClient(t, m, testPayload(8), zeroDelayOpts())

	driveToSelection(t, c, vendorService())
	c.HandleEvent(CharacteristicsFoundEvent{Chars: []Characteristic{
		{Handle: testCharHandle, Properties: PropWriteNR | PropNotify},
	}})
	c.HandleEvent(NotifyRegisteredEvent{})
	c.HandleEvent(DescriptorsFoundEvent{Descs: []Descriptor{
		{Handle: testCCCDHandle, UUID: UUID16(uuidClientCharConfig)},
	}})

	c.HandleEvent(DescriptorWrittenEvent{Handle: 0x0099})
	if c.notifReady {
		t.Error("notifReady should stay false for a foreign descriptor ack")
	}
	c.HandleEvent(DescriptorWrittenEvent{Handle: testCCCDHandle, Err: errTest})
	if c.notifReady {
		t.Error("notifReady should stay false when the enable write fails")
	}
	if len(m.frames()) != 0 {
		t.Errorf("frames sent = %d, want 0 before notifications are armed", len(m.frames()))
	}
}

func TestSelectorNotifyRegistrationFailure(t *testing.T) {
	m := &mockTransport{}
	c := mustNewClient(t, m, testPayload(8), zeroDelayOpts())

	driveToSelection(t, c, vendorService())
	c.HandleEvent(CharacteristicsFoundEvent{Chars: []Characteristic{
		{Handle: testCharHandle, Properties: PropWriteNR | PropNotify},
	}})
	c.HandleEvent(NotifyRegisteredEvent{Err: errTest})

	if len(m.descReqs) != 0 {
		t.Errorf("descriptor requests = %d, want 0 after failed registration", len(m.descReqs))
	}
}
