package ble

import (
	"errors"
	"fmt"
	"time"

	"github.com/nf-tools/nfpush/internal/tf1"
)

// writeFrame pushes one encoded frame through the write characteristic,
// slicing it into SliceSize writes without response. Consecutive slices
// of the same frame are paced by SliceDelay to respect the fixture's
// write-without-response flow control; the delay is a cooperative sleep
// inside the dispatch, not a round trip.
func (c *Client) writeFrame(frame []byte) error {
	if !c.connected || c.sel.write == 0 {
		return errors.New("ble: no write endpoint")
	}
	for offset := 0; offset < len(frame); {
		n := min(c.opts.SliceSize, len(frame)-offset)
		if err := c.transport.WriteCharacteristic(c.sel.write, frame[offset:offset+n], false); err != nil {
			return err
		}
		offset += n
		if offset < len(frame) && c.opts.SliceDelay > 0 {
			time.Sleep(c.opts.SliceDelay)
		}
	}
	return nil
}

func (c *Client) sendHandshake() {
	frame := tf1.EncodeHandshake(uint32(len(c.payload)))
	c.log.Debug("[BLE] handshake frame", "hex", hexDump(frame))
	if err := c.writeFrame(frame); err != nil {
		c.log.Error("[BLE] failed to send handshake", "error", err)
	}
}

// sendNextChunk builds and sends the next payload chunk. The freshly
// issued chunk always starts with a zero retry counter and becomes the
// single frame awaiting acknowledgment.
func (c *Client) sendNextChunk() {
	if c.session.chunkSize == 0 {
		c.log.Warn("[BLE] chunk size is zero, cannot send payload")
		return
	}
	if c.session.bytesSent >= len(c.payload) {
		c.log.Info("[BLE] payload already transmitted")
		return
	}
	n := min(c.session.chunkSize, len(c.payload)-c.session.bytesSent)
	frame := tf1.EncodeChunk(c.session.seq, c.payload[c.session.bytesSent:c.session.bytesSent+n])
	if len(frame) > tf1.MaxChunkFrame {
		c.log.Error("[BLE] chunk frame exceeds buffer, aborting transfer", "frame_len", len(frame))
		c.session.reset()
		return
	}
	c.session.pending = frame
	c.session.pendingDataLen = n
	c.session.awaitingAck = true
	c.session.retryCount = 0
	c.log.Debug("[BLE] chunk frame", "seq", c.session.seq, "hex", hexDump(frame))
	if err := c.writeFrame(frame); err != nil {
		c.log.Error("[BLE] failed to send chunk", "seq", c.session.seq, "error", err)
	}
}

// resendPendingChunk retries the identical pending frame after a NACK.
// Exceeding the retry limit abandons the transfer permanently; this is a
// deliberate terminal failure, surfaced only in the log.
func (c *Client) resendPendingChunk() {
	if !c.session.awaitingAck || len(c.session.pending) == 0 {
		return
	}
	c.session.retryCount++
	if c.session.retryCount > c.opts.RetryLimit {
		c.log.Error("[BLE] chunk retry limit reached, giving up", "seq", c.session.seq)
		c.session.reset()
		return
	}
	c.log.Warn("[BLE] resending chunk", "seq", c.session.seq, "attempt", c.session.retryCount)
	if err := c.writeFrame(c.session.pending); err != nil {
		c.log.Error("[BLE] chunk resend error", "error", err)
	}
}

func (c *Client) onNotification(ev NotificationEvent) {
	if len(ev.Value) == 0 {
		return
	}
	c.log.Debug("[BLE] notify fragment", "hex", hexDump(ev.Value))
	frame, err := c.asm.Feed(ev.Value)
	if err != nil {
		c.log.Warn("[BLE] reassembly resync", "error", err)
		return
	}
	if frame != nil {
		c.handleAck(frame)
	}
}

func (c *Client) handleAck(frame []byte) {
	ack, err := tf1.DecodeAck(frame)
	if err != nil {
		c.log.Warn("[BLE] ignored short notification", "len", len(frame))
		return
	}
	switch ack.Cmd {
	case tf1.CmdHandshake:
		c.handleHandshakeAck(ack)
	case tf1.CmdChunk:
		c.handleChunkAck(ack)
	default:
		c.log.Warn("[BLE] unhandled fixture command", "cmd", ack.Cmd)
	}
}

func (c *Client) handleHandshakeAck(ack tf1.Ack) {
	if ack.Status != 0 {
		c.log.Error("[BLE] fixture rejected handshake", "status", ack.Status)
		return
	}
	c.log.Info("[BLE] handshake ack", "cache_length", ack.CacheLength)
	if ack.CacheLength <= tf1.HeaderSize {
		c.log.Error("[BLE] cache length too small", "cache_length", ack.CacheLength)
		return
	}
	c.session.cacheLength = ack.CacheLength
	c.session.chunkSize = int(ack.CacheLength) - tf1.HeaderSize
	c.session.seq = 1
	c.session.bytesSent = 0
	c.session.awaitingAck = false
	c.sendNextChunk()
}

func (c *Client) handleChunkAck(ack tf1.Ack) {
	if ack.Status != 0 {
		c.log.Warn("[BLE] fixture reported chunk failure", "status", ack.Status)
		c.resendPendingChunk()
		return
	}
	c.session.awaitingAck = false
	c.session.bytesSent += c.session.pendingDataLen
	c.log.Info("[BLE] chunk acked",
		"seq", c.session.seq,
		"sent", c.session.bytesSent,
		"total", len(c.payload))
	if c.session.bytesSent >= len(c.payload) {
		c.log.Info("[BLE] payload transfer complete")
		c.signalDone()
		return
	}
	c.session.seq++
	c.sendNextChunk()
}

func hexDump(b []byte) string {
	return fmt.Sprintf("% X", b)
}
