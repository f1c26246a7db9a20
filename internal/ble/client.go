package ble

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nf-tools/nfpush/internal/tf1"
)

// maxServiceRanges caps the service catalog; services reported beyond it
// are dropped.
const maxServiceRanges = 16

// ClientOptions configures the client behavior.
type ClientOptions struct {
	NamePrefix string        // advertised-name prefix of the target fixture
	Scan       ScanParams    // scan configuration
	SliceSize  int           // max bytes per characteristic write
	SliceDelay time.Duration // pacing between slices of one frame
	RetryLimit int           // max chunk resends after a NACK
}

// DefaultClientOptions returns the settings used against NF-F2 fixtures.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		NamePrefix: "NF-F2",
		Scan:       DefaultScanParams(),
		SliceSize:  100,
		SliceDelay: 20 * time.Millisecond,
		RetryLimit: 3,
	}
}

// endpointSelection is the write/notify pair chosen from the discovered
// services, plus the CCC descriptor that arms notifications. Zero
// handles mean unselected.
type endpointSelection struct {
	svcStart Handle
	svcEnd   Handle
	write    Handle
	notify   Handle
	cccd     Handle
}

// transferSession is the state of one payload transfer. It exists only
// while a transfer is in progress and resets on handshake start,
// disconnect, and retry exhaustion.
type transferSession struct {
	cacheLength    uint16
	chunkSize      int
	seq            uint16
	bytesSent      int
	pending        []byte
	pendingDataLen int
	awaitingAck    bool
	retryCount     int
}

func (s *transferSession) reset() {
	*s = transferSession{}
}

// Client is the reactive core. All mutable session state is owned by the
// client and mutated only inside HandleEvent, which serializes event
// delivery; transports may emit events from any goroutine.
type Client struct {
	transport Transport
	opts      ClientOptions
	payload   []byte
	log       *slog.Logger

	mu sync.Mutex

	scanning      bool
	connecting    bool
	connected     bool
	mtuConfigured bool
	shouldConnect bool
	notifReady    bool
	target        Address
	connID        uint16

	services []ServiceRange
	sel      endpointSelection
	selector selectorState

	session transferSession
	asm     tf1.Assembler

	done     chan struct{}
	doneOnce sync.Once
}

// NewClient creates a client that pushes payload to the first fixture
// whose advertised name matches opts.NamePrefix.
func NewClient(transport Transport, payload []byte, opts ClientOptions) (*Client, error) {
	if transport == nil {
		return nil, errors.New("ble: transport must not be nil")
	}
	if len(payload) == 0 {
		return nil, errors.New("ble: payload must not be empty")
	}
	if opts.NamePrefix == "" {
		return nil, errors.New("ble: name prefix must not be empty")
	}
	if opts.SliceSize <= 0 {
		opts.SliceSize = 100
	}
	if opts.RetryLimit < 0 {
		opts.RetryLimit = 0
	}
	return &Client{
		transport: transport,
		opts:      opts,
		payload:   payload,
		log:       slog.Default(),
		done:      make(chan struct{}),
	}, nil
}

// Start begins scanning for the target fixture.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startScan()
	if !c.scanning {
		return errors.New("ble: failed to start scan")
	}
	return nil
}

// Done is closed once the payload has been fully acknowledged.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// HandleEvent consumes one transport event. Events are processed one at
// a time, in delivery order.
func (c *Client) HandleEvent(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev := ev.(type) {
	case AdvertisementEvent:
		c.onAdvertisement(ev)
	case ScanStoppedEvent:
		c.onScanStopped(ev)
	case ConnectedEvent:
		c.onConnected(ev)
	case ConnectFailedEvent:
		c.onConnectFailed(ev)
	case DisconnectedEvent:
		c.onDisconnected()
	case MTUConfiguredEvent:
		c.onMTUConfigured(ev)
	case ServiceFoundEvent:
		c.onServiceFound(ev)
	case DiscoveryCompleteEvent:
		c.onDiscoveryComplete(ev)
	case CharacteristicsFoundEvent:
		c.onCharacteristics(ev)
	case DescriptorsFoundEvent:
		c.onDescriptors(ev)
	case NotifyRegisteredEvent:
		c.onNotifyRegistered(ev)
	case DescriptorWrittenEvent:
		c.onDescriptorWritten(ev)
	case CharWrittenEvent:
		if ev.Err != nil {
			c.log.Error("[BLE] write error", "handle", ev.Handle, "error", ev.Err)
		}
	case NotificationEvent:
		c.onNotification(ev)
	}
}

func (c *Client) startScan() {
	if c.scanning {
		return
	}
	if err := c.transport.StartScan(c.opts.Scan); err != nil {
		c.log.Error("[BLE] failed to start scan", "error", err)
		return
	}
	c.scanning = true
	c.log.Info("[BLE] started scan", "prefix", c.opts.NamePrefix)
}

func (c *Client) onAdvertisement(ev AdvertisementEvent) {
	if c.connected || c.connecting {
		return
	}
	if !matchesNamePrefix(ev.Data, c.opts.NamePrefix) {
		return
	}
	c.log.Info("[BLE] found target fixture", "addr", ev.Addr, "rssi", ev.RSSI)
	c.target = ev.Addr
	c.connecting = true
	c.shouldConnect = true
	if err := c.transport.StopScan(); err != nil {
		c.log.Error("[BLE] failed to stop scan", "error", err)
		c.connecting = false
		c.shouldConnect = false
	}
}

func (c *Client) onScanStopped(ev ScanStoppedEvent) {
	c.scanning = false
	if ev.Err != nil {
		c.log.Error("[BLE] scan stop failed", "error", ev.Err)
	}
	if !c.shouldConnect {
		return
	}
	c.shouldConnect = false
	if err := c.transport.Connect(c.target); err != nil {
		c.log.Error("[BLE] failed to open connection", "addr", c.target, "error", err)
		c.connecting = false
		c.startScan()
	}
}

func (c *Client) onConnected(ev ConnectedEvent) {
	c.connID = ev.ConnID
	c.connected = true
	c.connecting = false
	c.mtuConfigured = false
	c.target = ev.Addr
	c.resetConnectionState()
	c.log.Info("[BLE] connected", "addr", ev.Addr, "conn_id", ev.ConnID)

	if err := c.transport.RequestMTU(); err != nil {
		c.log.Warn("[BLE] MTU request failed, continuing with default MTU", "error", err)
		c.discoverServices()
	}
}

func (c *Client) onConnectFailed(ev ConnectFailedEvent) {
	c.log.Error("[BLE] connection failed", "error", ev.Err)
	c.connecting = false
	c.startScan()
}

func (c *Client) onMTUConfigured(ev MTUConfiguredEvent) {
	if ev.Err == nil {
		c.mtuConfigured = true
		c.log.Info("[BLE] configured MTU", "mtu", ev.MTU)
	} else {
		c.log.Warn("[BLE] MTU config failed", "error", ev.Err)
	}
	// MTU is best-effort; discovery proceeds either way.
	c.discoverServices()
}

func (c *Client) discoverServices() {
	if err := c.transport.DiscoverServices(); err != nil {
		c.log.Error("[BLE] failed to start service discovery", "error", err)
	}
}

func (c *Client) onServiceFound(ev ServiceFoundEvent) {
	if len(c.services) >= maxServiceRanges {
		return
	}
	c.services = append(c.services, ev.Service)
	c.log.Debug("[BLE] service found",
		"index", len(c.services)-1,
		"start", ev.Service.Start,
		"end", ev.Service.End,
		"uuid", ev.Service.UUID.String())
}

func (c *Client) onDiscoveryComplete(ev DiscoveryCompleteEvent) {
	if ev.Err != nil || len(c.services) == 0 {
		c.log.Error("[BLE] service discovery failed", "error", ev.Err, "services", len(c.services))
		return
	}
	c.beginSelection()
}

// onDisconnected is the single recovery path for all link-level
// failures: drop every piece of per-connection state and rescan.
func (c *Client) onDisconnected() {
	c.connected = false
	c.connecting = false
	c.shouldConnect = false
	c.mtuConfigured = false
	c.target = Address{}
	c.resetConnectionState()
	c.log.Info("[BLE] disconnected, restarting scan")
	c.startScan()
}

func (c *Client) resetConnectionState() {
	c.services = c.services[:0]
	c.sel = endpointSelection{}
	c.selector = selectorState{}
	c.notifReady = false
	c.session.reset()
	c.asm.Reset()
}

func (c *Client) signalDone() {
	c.doneOnce.Do(func() { close(c.done) })
}
