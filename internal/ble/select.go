package ble

// selectorState tracks the two-pass walk over the service catalog. Each
// candidate service's characteristics are enumerated asynchronously, so
// the walk position carries across events.
type selectorState struct {
	active   bool
	pass     int
	index    int
	current  ServiceRange
	fallback endpointSelection // first write-only service seen, if any
}

// beginSelection starts the two-pass heuristic over the discovered
// services. Pass 0 considers only vendor services; pass 1, run only if
// pass 0 selected nothing, considers the standard generic-access and
// generic-attribute services.
func (c *Client) beginSelection() {
	c.selector = selectorState{active: true}
	c.requestNextCandidate()
}

// requestNextCandidate issues a characteristic enumeration for the next
// candidate service, or finishes selection when both passes are
// exhausted. A candidate whose enumeration cannot even start is skipped.
func (c *Client) requestNextCandidate() {
	for c.selector.pass < 2 {
		for c.selector.index < len(c.services) {
			svc := c.services[c.selector.index]
			c.selector.index++

			standard := isStandardService(svc.UUID)
			if (c.selector.pass == 0 && standard) || (c.selector.pass == 1 && !standard) {
				continue
			}

			c.selector.current = svc
			if err := c.transport.Characteristics(svc.Start, svc.End); err != nil {
				c.log.Debug("[BLE] characteristic enumeration failed to start",
					"start", svc.Start, "end", svc.End, "error", err)
				continue
			}
			return
		}
		c.selector.pass++
		c.selector.index = 0
	}
	c.finishSelection()
}

func (c *Client) onCharacteristics(ev CharacteristicsFoundEvent) {
	if !c.selector.active {
		return
	}
	if ev.Err != nil || len(ev.Chars) == 0 {
		c.requestNextCandidate()
		return
	}

	var write, notify Handle
	for _, ch := range ev.Chars {
		if notify == 0 && ch.Properties&(PropNotify|PropIndicate) != 0 {
			notify = ch.Handle
		}
		if write == 0 && ch.Properties&(PropWrite|PropWriteNR) != 0 {
			write = ch.Handle
		}
	}

	svc := c.selector.current
	if write != 0 && notify != 0 {
		c.selectEndpoints(endpointSelection{
			svcStart: svc.Start,
			svcEnd:   svc.End,
			write:    write,
			notify:   notify,
		})
		return
	}
	if write != 0 && c.selector.fallback.write == 0 {
		c.selector.fallback = endpointSelection{
			svcStart: svc.Start,
			svcEnd:   svc.End,
			write:    write,
			notify:   notify,
		}
	}
	c.requestNextCandidate()
}

// finishSelection runs after both passes found no full write+notify
// match: fall back to the first write-only service, if any.
func (c *Client) finishSelection() {
	c.selector.active = false
	if c.selector.fallback.write != 0 {
		c.selectEndpoints(c.selector.fallback)
		return
	}
	c.log.Error("[BLE] no write-capable characteristic found")
}

func (c *Client) selectEndpoints(sel endpointSelection) {
	c.selector.active = false
	c.sel = sel
	c.log.Info("[BLE] selected service",
		"start", sel.svcStart,
		"end", sel.svcEnd,
		"write", sel.write,
		"notify", sel.notify)

	if sel.notify == 0 {
		c.log.Error("[BLE] no notify/indicate characteristic in selected service")
		return
	}
	if err := c.transport.RegisterNotify(sel.notify); err != nil {
		c.log.Error("[BLE] register for notify failed to start", "error", err)
	}
}

func (c *Client) onNotifyRegistered(ev NotifyRegisteredEvent) {
	if ev.Err != nil {
		c.log.Error("[BLE] register for notify failed", "error", ev.Err)
		return
	}
	if c.sel.notify == 0 || c.sel.svcEnd == 0 {
		return
	}
	if err := c.transport.Descriptors(c.sel.notify, c.sel.svcStart, c.sel.svcEnd); err != nil {
		c.log.Error("[BLE] descriptor enumeration failed to start", "error", err)
	}
}

func (c *Client) onDescriptors(ev DescriptorsFoundEvent) {
	if ev.Err != nil || len(ev.Descs) == 0 {
		c.log.Error("[BLE] descriptor enumeration failed", "error", ev.Err)
		return
	}
	for _, d := range ev.Descs {
		if d.UUID.Equal16(uuidClientCharConfig) {
			c.sel.cccd = d.Handle
			break
		}
	}
	if c.sel.cccd == 0 {
		c.log.Error("[BLE] could not find CCC descriptor")
		return
	}
	if err := c.transport.WriteDescriptor(c.sel.cccd, []byte{0x01, 0x00}); err != nil {
		c.log.Error("[BLE] notification enable write failed to start", "error", err)
	}
}

// onDescriptorWritten arms the protocol: a successful acknowledgment for
// the CCC descriptor is the trigger that starts the handshake. Failed or
// mismatched-handle acknowledgments are ignored.
func (c *Client) onDescriptorWritten(ev DescriptorWrittenEvent) {
	if ev.Handle != c.sel.cccd || c.sel.cccd == 0 || ev.Err != nil {
		return
	}
	c.notifReady = true
	c.session.reset()
	c.asm.Reset()
	c.sendHandshake()
}
