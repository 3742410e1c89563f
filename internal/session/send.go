package session

import (
	"errors"
	"sort"

	"raknet-go/internal/queue"
	"raknet-go/pkg/raknet"
)

// datagramHeaderSize is the fixed overhead (flags byte + 24-bit
// sequence number) every data datagram carries before its frames.
const datagramHeaderSize = 4

// Submit enqueues a user payload for the next tick's frame assembly,
// per spec §4.5. Channel must be < raknet.MaxChannels. A reliable
// payload is refused (returns false) while the RecoveryQueue is at
// capacity, realizing the cooperative backpressure §4.5 calls for
// instead of letting the submission silently evict an unacked
// datagram's recovery state. Unreliable/unreliable-sequenced payloads
// never touch the RecoveryQueue and are always accepted.
func (s *Session) Submit(payload []byte, rel raknet.Reliability, channel byte, priority raknet.Priority) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rel.IsReliable() && s.backpressuredLocked() {
		return false
	}
	s.sendQueues[priority] = append(s.sendQueues[priority], pendingSend{
		payload:     payload,
		reliability: rel,
		channel:     channel,
	})
	return true
}

// Backpressured reports whether the RecoveryQueue is at capacity — the
// scheduler's cooperative backpressure signal (§4.5). Submit already
// enforces this for reliable payloads; callers that build an expensive
// payload can check Backpressured first to avoid the work entirely.
func (s *Session) Backpressured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backpressuredLocked()
}

func (s *Session) backpressuredLocked() bool {
	return s.recovery.Full()
}

// TickOutput is everything a Tick call produced: outbound datagram
// bytes ready for the Endpoint to hand to the socket, and — if the
// session just failed a reliability invariant — the reason it closed.
type TickOutput struct {
	Datagrams    [][]byte
	ClosedReason *CloseReason
}

const maxRetries = 5

// Tick drains the send queues, packs frames into MTU-bounded datagrams,
// retransmits anything past its RTO or freshly NACKed, flushes pending
// ACK/NACK records, and applies the keepalive policy. Tick does not
// check the idle timeout; the caller does that through IdleTimedOut.
func (s *Session) Tick() TickOutput {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out TickOutput

	frames := s.assembleFrames()
	out.Datagrams = append(out.Datagrams, s.packAndSend(frames)...)

	retransmitted, reason := s.retransmitExpired()
	out.Datagrams = append(out.Datagrams, retransmitted...)
	if reason != nil {
		out.ClosedReason = reason
		return out
	}
	sent, reason := s.resendNacked()
	out.Datagrams = append(out.Datagrams, sent...)
	if reason != nil {
		out.ClosedReason = reason
		return out
	}

	if acks := s.flushAcks(); acks != nil {
		out.Datagrams = append(out.Datagrams, acks)
	}
	if nacks := s.flushNacks(); nacks != nil {
		out.Datagrams = append(out.Datagrams, nacks)
	}

	out.Datagrams = append(out.Datagrams, s.keepalive()...)

	return out
}

// assembleFrames drains Immediate, then Normal, then Low priority
// queues, assigning reliable/ordering indices and splitting oversized
// payloads into fragments (§4.5 step 1).
func (s *Session) assembleFrames() []*raknet.Frame {
	var frames []*raknet.Frame
	maxFragment := int(s.MTU) - datagramHeaderSize - (&raknet.Frame{Reliability: raknet.ReliableOrdered, Split: true}).HeaderSize()

	for prio := raknet.Immediate; prio <= raknet.Low; prio++ {
		for _, ps := range s.sendQueues[prio] {
			frames = append(frames, s.frameFor(ps, maxFragment)...)
		}
		s.sendQueues[prio] = nil
	}
	return frames
}

func (s *Session) frameFor(ps pendingSend, maxFragment int) []*raknet.Frame {
	ch := s.channels[ps.channel]

	base := &raknet.Frame{Reliability: ps.reliability}
	if ps.reliability.IsOrdered() || ps.reliability.IsSequenced() {
		base.OrderChannel = ps.channel
		if ps.reliability.IsOrdered() {
			base.OrderIndex = ch.nextOrderIndex
			ch.nextOrderIndex++
		} else {
			base.OrderIndex = ch.nextSeqIndex
			ch.nextSeqIndex++
		}
	}

	headerSize := base.HeaderSize()
	if len(ps.payload)+headerSize <= int(s.MTU)-datagramHeaderSize {
		if ps.reliability.IsReliable() {
			base.ReliableIndex = s.nextReliableIndex
			s.nextReliableIndex++
		}
		base.Payload = ps.payload
		return []*raknet.Frame{base}
	}

	compoundID := s.nextCompoundID
	s.nextCompoundID++
	chunks := raknet.SplitPayload(ps.payload, maxFragment, compoundID)
	frames := make([]*raknet.Frame, len(chunks))
	for i, chunk := range chunks {
		f := &raknet.Frame{
			Reliability:  ps.reliability,
			OrderChannel: base.OrderChannel,
			OrderIndex:   base.OrderIndex,
			Split:        true,
			CompoundID:   compoundID,
			SplitCount:   uint32(len(chunks)),
			SplitIndex:   uint32(i),
			Payload:      chunk,
		}
		if ps.reliability.IsReliable() {
			f.ReliableIndex = s.nextReliableIndex
			s.nextReliableIndex++
		}
		frames[i] = f
	}
	return frames
}

// packAndSend appends frames to datagrams until the next frame would
// overflow the MTU, seals each with the next datagram sequence number,
// and inserts reliable datagrams into the RecoveryQueue (§4.5 step 2).
func (s *Session) packAndSend(frames []*raknet.Frame) [][]byte {
	var sent [][]byte
	var current []*raknet.Frame
	size := datagramHeaderSize

	flush := func() {
		if len(current) == 0 {
			return
		}
		sent = append(sent, s.sealDatagram(current))
		current = nil
		size = datagramHeaderSize
	}

	for _, f := range frames {
		fsize := f.EncodedSize()
		if size+fsize > int(s.MTU) && len(current) > 0 {
			flush()
		}
		current = append(current, f)
		size += fsize
	}
	flush()
	return sent
}

func (s *Session) sealDatagram(frames []*raknet.Frame) []byte {
	seq := s.nextDatagramSeq
	s.nextDatagramSeq = (s.nextDatagramSeq + 1) % datagramSeqSpace

	d := &raknet.Datagram{Sequence: seq, Frames: frames}
	w := raknet.NewWriteStream()
	d.Encode(w)

	hasReliable := false
	for _, f := range frames {
		if f.Reliability.IsReliable() {
			hasReliable = true
			break
		}
	}
	if hasReliable {
		s.recovery.InsertAt(seq, &outstanding{frames: frames, sentAt: s.clk.Now(), tries: 1})
	}

	s.lastSent = s.clk.Now()
	s.metrics.DatagramsSent.Inc()
	s.metrics.BytesSent.Add(float64(len(w.Bytes())))
	return w.Bytes()
}

// retransmitExpired resends any RecoveryQueue entry whose age exceeds
// the session's current RTO, under a fresh datagram sequence number,
// and fails the session once a frame has been retried maxRetries times
// (§4.5 step 3).
func (s *Session) retransmitExpired() ([][]byte, *CloseReason) {
	var sent [][]byte
	now := s.clk.Now()
	for _, seq := range s.recovery.Keys() {
		item, err := s.recovery.Recover(seq)
		if err != nil {
			continue
		}
		if now.Sub(item.sentAt) < s.rto {
			continue
		}
		if item.tries > maxRetries {
			reason := ReasonReliableExhausted
			s.recovery.Remove(seq)
			return sent, &reason
		}
		s.recovery.Remove(seq)
		sent = append(sent, s.resend(item))
	}
	return sent, nil
}

// resendNacked immediately resends anything the peer explicitly NACKed,
// subject to the same maxRetries ceiling as retransmitExpired (§4.5
// step 5) — a frame NACKed past the retry ceiling fails the session
// rather than being resent forever. A NACK referencing a sequence the
// RecoveryQueue already evicted means that data is permanently
// unrecoverable, which this spec defines as a session failure (§9 Open
// Questions) rather than a silently ignored gap; ErrInvalidIndex (a
// sequence never assigned at all, e.g. a stray NACK) is not treated as
// fatal.
func (s *Session) resendNacked() ([][]byte, *CloseReason) {
	var sent [][]byte
	for _, seq := range s.nackedSeqs {
		item, err := s.recovery.Recover(seq)
		if err != nil {
			if errors.Is(err, queue.ErrIndexOld) {
				reason := ReasonRecoveryMiss
				s.nackedSeqs = nil
				return sent, &reason
			}
			continue
		}
		if item.tries > maxRetries {
			reason := ReasonReliableExhausted
			s.recovery.Remove(seq)
			s.nackedSeqs = nil
			return sent, &reason
		}
		s.recovery.Remove(seq)
		sent = append(sent, s.resend(item))
	}
	s.nackedSeqs = nil
	return sent, nil
}

// resend re-seals frames under a new datagram sequence number, keeping
// their reliable indices unchanged, and returns the encoded bytes.
func (s *Session) resend(item *outstanding) []byte {
	seq := s.nextDatagramSeq
	s.nextDatagramSeq = (s.nextDatagramSeq + 1) % datagramSeqSpace

	d := &raknet.Datagram{Sequence: seq, Frames: item.frames}
	w := raknet.NewWriteStream()
	d.Encode(w)

	s.recovery.InsertAt(seq, &outstanding{frames: item.frames, sentAt: s.clk.Now(), tries: item.tries + 1})
	s.metrics.FramesRetransmitted.Inc()
	s.lastSent = s.clk.Now()
	return w.Bytes()
}

// flushAcks encodes the pending ACK record, if any, and clears it.
func (s *Session) flushAcks() []byte {
	if len(s.pendingAcks) == 0 {
		return nil
	}
	seqs := make([]uint32, 0, len(s.pendingAcks))
	for seq := range s.pendingAcks {
		seqs = append(seqs, seq)
	}
	s.pendingAcks = make(map[uint32]struct{})
	s.metrics.AcksSent.Inc()
	return encodeRecord(seqs, true)
}

// flushNacks encodes the pending NACK record, if any. Unlike ACKs,
// unresolved NACK entries persist across ticks (the session keeps
// asking until the gap is filled or the sender gives up).
func (s *Session) flushNacks() []byte {
	if len(s.pendingNacks) == 0 {
		return nil
	}
	seqs := make([]uint32, 0, len(s.pendingNacks))
	for seq := range s.pendingNacks {
		seqs = append(seqs, seq)
	}
	s.metrics.NacksSent.Inc()
	return encodeRecord(seqs, false)
}

func encodeRecord(seqs []uint32, ack bool) []byte {
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	ranges := raknet.CompressRanges(seqs)
	w := raknet.NewWriteStream()
	if ack {
		raknet.EncodeAckDatagram(w, ranges)
	} else {
		raknet.EncodeNackDatagram(w, ranges)
	}
	return w.Bytes()
}

// keepalive implements the ping half of §4.5 step 7: an unreliable ping
// after 5s of no sends and a reliable ping after 10s of no receives.
// The 30s idle disconnect is not done here; the endpoint checks
// IdleTimedOut before each Tick.
func (s *Session) keepalive() [][]byte {
	var out [][]byte
	now := s.clk.Now()
	ping := []byte{raknet.IDConnectedPing}

	switch {
	case now.Sub(s.lastReceived) >= 2*s.timers.KeepAliveInterval:
		frame := &raknet.Frame{Reliability: raknet.Reliable, ReliableIndex: s.nextReliableIndex}
		s.nextReliableIndex++
		frame.Payload = ping
		out = append(out, s.sealDatagram([]*raknet.Frame{frame}))
	case now.Sub(s.lastSent) >= s.timers.KeepAliveInterval:
		frame := &raknet.Frame{Reliability: raknet.Unreliable, Payload: ping}
		out = append(out, s.sealDatagram([]*raknet.Frame{frame}))
	}
	return out
}

// IdleTimedOut reports whether the session has been silent (no inbound
// traffic) for at least the configured SessionTimeout.
func (s *Session) IdleTimedOut() bool {
	return s.IdleFor() >= s.timers.SessionTimeout
}
