package session

import (
	"fmt"

	"raknet-go/pkg/raknet"
)

// Delivery is a single reassembled, ordered/sequenced-as-appropriate
// user payload ready for the application (or, for a payload on
// raknet.ControlChannel whose id is below raknet.GamePacketThreshold,
// the endpoint's control-packet handler).
type Delivery struct {
	Channel byte
	Payload []byte
}

// HandleDatagram processes one inbound UDP payload already known to be
// an online datagram (the caller has checked raknet.IsDatagramFlagByte).
// It returns the user payloads now ready for delivery, in no particular
// cross-channel order (per §5, ordering is only guaranteed within a
// channel).
func (s *Session) HandleDatagram(raw []byte) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := raknet.NewStream(raw)
	flags, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("session: read flags: %w", err)
	}
	s.touchReceived()

	switch {
	case flags&raknet.FlagAck != 0:
		ranges, err := raknet.DecodeAckRecord(r)
		if err != nil {
			return nil, fmt.Errorf("session: decode ack: %w", err)
		}
		s.metrics.AcksReceived.Inc()
		s.handleAckRanges(ranges)
		return nil, nil
	case flags&raknet.FlagNack != 0:
		ranges, err := raknet.DecodeAckRecord(r)
		if err != nil {
			return nil, fmt.Errorf("session: decode nack: %w", err)
		}
		s.metrics.NacksReceived.Inc()
		s.handleNackRanges(ranges)
		return nil, nil
	}

	d, err := raknet.DecodeDatagram(r)
	if err != nil {
		return nil, fmt.Errorf("session: decode datagram: %w", err)
	}
	if s.recordDatagramArrival(d.Sequence) {
		// Duplicate: already ACKed on first arrival, ACK again but don't
		// reprocess frames or touch the RecoveryQueue.
		s.pendingAcks[d.Sequence] = struct{}{}
		return nil, nil
	}

	var delivered []Delivery
	for _, f := range d.Frames {
		out, err := s.processFrame(f)
		if err != nil {
			return delivered, err
		}
		delivered = append(delivered, out...)
	}
	return delivered, nil
}

// processFrame applies duplicate suppression, fragment reassembly, and
// ordering/sequencing routing to a single decoded frame (§4.4 steps 3-5).
func (s *Session) processFrame(f *raknet.Frame) ([]Delivery, error) {
	if f.Reliability.IsReliable() {
		if s.reliableSeen.Seen(f.ReliableIndex) {
			return nil, nil
		}
		s.reliableSeen.Record(f.ReliableIndex)
	}

	payload := f.Payload
	if f.Split {
		reassembled, ok := s.reassembler.Add(f.CompoundID, f.SplitCount, f.SplitIndex, f.Payload)
		if !ok {
			return nil, nil
		}
		payload = reassembled
	}

	return s.route(f.Reliability, f.OrderChannel, f.OrderIndex, payload), nil
}

// route delivers payload immediately (unreliable/unordered), through the
// channel's OrderedQueue (reliable-ordered), or through its
// SequencedQueue (sequenced variants), per the reliability tag.
func (s *Session) route(rel raknet.Reliability, channel uint8, orderIndex uint32, payload []byte) []Delivery {
	ch := s.channels[channel]
	switch {
	case rel.IsOrdered():
		ch.recvOrdered.Insert(orderIndex, payload)
		var out []Delivery
		for _, p := range ch.recvOrdered.Flush() {
			out = append(out, Delivery{Channel: channel, Payload: p})
		}
		return out
	case rel.IsSequenced():
		if ch.recvSequenced.Accept(orderIndex) {
			return []Delivery{{Channel: channel, Payload: payload}}
		}
		return nil
	default:
		return []Delivery{{Channel: channel, Payload: payload}}
	}
}

// recordDatagramArrival admits seq into the duplicate-suppression
// window and tracks gaps relative to the highest sequence number seen
// for the NACK path. It returns true if seq is a duplicate (already
// seen, or old enough to have fallen out of the window).
func (s *Session) recordDatagramArrival(seq uint32) bool {
	if s.datagramSeen.Seen(seq) {
		return true
	}
	s.datagramSeen.Record(seq)
	s.pendingAcks[seq] = struct{}{}
	delete(s.pendingNacks, seq)

	if !s.haveHighestSeq {
		s.highestSeq = seq
		s.haveHighestSeq = true
		return false
	}
	if forwardOfDatagramSeq(seq, s.highestSeq) {
		for gap := s.highestSeq + 1; gap != seq; gap = (gap + 1) % datagramSeqSpace {
			s.pendingNacks[gap] = struct{}{}
		}
		s.highestSeq = seq
	}
	return false
}

const datagramSeqSpace = 1 << 24

// forwardOfDatagramSeq reports whether seq is ahead of high in the
// wrapping 24-bit datagram sequence space.
func forwardOfDatagramSeq(seq, high uint32) bool {
	d := (seq - high) & (datagramSeqSpace - 1)
	return d != 0 && d < datagramSeqSpace/2
}

// handleAckRanges removes acknowledged datagrams from the RecoveryQueue
// and folds their round-trip time into the smoothed RTT estimate.
func (s *Session) handleAckRanges(ranges []raknet.Range) {
	now := s.clk.Now()
	for _, r := range ranges {
		for seq := r.Start; seq <= r.End; seq++ {
			item, err := s.recovery.Recover(seq)
			if err != nil {
				continue
			}
			s.updateRTT(now.Sub(item.sentAt))
			s.recovery.Remove(seq)
		}
	}
}

// handleNackRanges queues the referenced sequence numbers in nackedSeqs
// for immediate resend by the next Tick's resendNacked, and also
// returns them.
func (s *Session) handleNackRanges(ranges []raknet.Range) []uint32 {
	var seqs []uint32
	for _, r := range ranges {
		for seq := r.Start; seq <= r.End; seq++ {
			seqs = append(seqs, seq)
		}
	}
	s.nackedSeqs = append(s.nackedSeqs, seqs...)
	return seqs
}
