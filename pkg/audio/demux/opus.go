// ABOUTME: Ogg Opus reader
// ABOUTME: Indexes Opus pages and emits granule-timed packets with pre-skip trimming
package demux

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/musicthing/musicthing/pkg/audio"
)

const (
	opusRate = 48000
	// 80 ms of pre-roll lets the decoder converge before the seek target
	opusPreroll = 3840
	// 120 ms is the longest legal Opus packet
	opusMaxPacketFrames = 5760
)

type opusHead struct {
	channels  int
	preSkip   int64
	inputRate uint32
	family    byte
}

func parseOpusHead(p []byte) (opusHead, error) {
	if len(p) < 19 || !bytes.HasPrefix(p, []byte("OpusHead")) {
		return opusHead{}, errors.New("opus: malformed OpusHead")
	}
	if p[8]>>4 != 0 {
		return opusHead{}, fmt.Errorf("opus: unsupported header version %d", p[8])
	}
	head := opusHead{
		channels:  int(p[9]),
		preSkip:   int64(binary.LittleEndian.Uint16(p[10:12])),
		inputRate: binary.LittleEndian.Uint32(p[12:16]),
		family:    p[18],
	}
	if head.channels == 0 {
		return opusHead{}, errors.New("opus: zero channels")
	}
	return head, nil
}

// opusPacketFrames returns a packet's length at 48kHz from its TOC byte
func opusPacketFrames(packet []byte) (int, error) {
	if len(packet) == 0 {
		return 0, errors.New("opus: empty packet")
	}
	toc := packet[0]
	config := toc >> 3

	var frameSize int
	switch {
	case config < 12: // SILK
		frameSize = [4]int{480, 960, 1920, 2880}[config%4]
	case config < 16: // hybrid
		frameSize = [2]int{480, 960}[config%2]
	default: // CELT
		frameSize = [4]int{120, 240, 480, 960}[config%4]
	}

	var count int
	switch toc & 0x03 {
	case 0:
		count = 1
	case 1, 2:
		count = 2
	default:
		if len(packet) < 2 {
			return 0, errors.New("opus: truncated code 3 packet")
		}
		count = int(packet[1] & 0x3F)
	}

	total := frameSize * count
	if total == 0 || total > opusMaxPacketFrames {
		return 0, fmt.Errorf("opus: invalid packet duration %d", total)
	}
	return total, nil
}

// opusLink is one chained logical stream
type opusLink struct {
	serial        uint32
	head          opusHead
	base          audio.Timestamp
	firstPage     int
	endGranule    int64
	headerPackets int
	ended         bool
}

type pageRef struct {
	offset  int64
	granule int64
	link    int
	flags   byte
}

type opusReader struct {
	src   io.ReadSeeker
	pr    pageReader
	links []opusLink
	pages []pageRef
	track audio.Track

	pageIdx  int
	link     int
	skip     int
	partial  []byte
	nextRaw  int64
	rawKnown bool
	queue    []audio.Packet
	scratch  [][]byte
	durs     []int64
	emitted  audio.CodecParams
	pending  *audio.CodecParams
}

func openOpus(src io.ReadSeeker) (FormatReader, error) {
	r := &opusReader{src: src, pr: pageReader{src: src}}
	if err := r.scan(); err != nil {
		return nil, err
	}
	if len(r.links) == 0 {
		return nil, audio.NewError(audio.KindTrack, "open opus", audio.ErrNoAudioTrack)
	}

	var base audio.Timestamp
	for i := range r.links {
		l := &r.links[i]
		l.base = base
		if l.endGranule >= 0 && l.endGranule > l.head.preSkip {
			base += audio.Timestamp(l.endGranule - l.head.preSkip)
		}
	}

	params := r.linkParams(0)
	params.NumFrames = base
	r.track = audio.Track{ID: 0, Params: params, Container: "ogg", Source: "opus"}
	r.emitted = r.linkParams(0)
	r.startLink(0)
	return r, nil
}

// scan walks every page header once to index links, data pages and granules
func (r *opusReader) scan() error {
	offset, err := r.src.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	var hdr oggPageHeader
	linkOf := make(map[uint32]int)
	for {
		if err := readPageHeader(r.src, &hdr); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		bodyLen := hdr.bodyLen()
		link, known := linkOf[hdr.serial]
		if !known {
			link = -1
		}

		if hdr.flags&pageBOS != 0 && !known {
			body := make([]byte, bodyLen)
			if _, err := io.ReadFull(r.src, body); err != nil {
				break
			}
			if bytes.HasPrefix(body, []byte("OpusHead")) && (len(r.links) == 0 || r.links[len(r.links)-1].ended) {
				head, err := parseOpusHead(body)
				if err != nil {
					return err
				}
				r.links = append(r.links, opusLink{serial: hdr.serial, head: head, firstPage: -1, endGranule: -1})
				link = len(r.links) - 1
				linkOf[hdr.serial] = link
			}
		} else if _, err := r.src.Seek(int64(bodyLen), io.SeekCurrent); err != nil {
			return err
		}

		if link >= 0 {
			l := &r.links[link]
			idx := len(r.pages)
			if l.headerPackets >= 2 {
				if l.firstPage < 0 {
					l.firstPage = idx
				}
				if hdr.granule >= 0 {
					l.endGranule = hdr.granule
				}
			} else {
				l.headerPackets += hdr.completed()
			}
			if hdr.flags&pageEOS != 0 {
				l.ended = true
			}
			r.pages = append(r.pages, pageRef{offset: offset, granule: hdr.granule, link: link, flags: hdr.flags})
		}
		offset += hdr.size()
	}
	return nil
}

func (r *opusReader) linkParams(i int) audio.CodecParams {
	head := r.links[i].head
	codec := audio.CodecOpus
	if head.channels > 2 {
		codec = audio.CodecType("opus_multistream")
	}
	return audio.CodecParams{
		Codec:        codec,
		SampleRate:   opusRate,
		Channels:     head.channels,
		SampleFormat: audio.SampleF32,
		TimeBase:     audio.NewTimeBase(opusRate),
	}
}

// setLink switches the current link, flagging a format change when needed
func (r *opusReader) setLink(i int) {
	r.link = i
	r.partial = nil
	r.rawKnown = false
	r.queue = r.queue[:0]
	if params := r.linkParams(i); !params.Equal(r.emitted) {
		r.pending = &params
		r.emitted = params
	}
}

func (r *opusReader) startLink(i int) {
	r.setLink(i)
	r.skip = 0
	r.pageIdx = r.links[i].firstPage
	if r.pageIdx < 0 {
		r.pageIdx = len(r.pages)
	}
}

func (r *opusReader) Tracks() []audio.Track {
	return []audio.Track{r.track}
}

func (r *opusReader) NextPacket() (audio.Packet, error) {
	for len(r.queue) == 0 {
		if err := r.loadPage(); err != nil {
			return audio.Packet{}, err
		}
	}
	pkt := r.queue[0]
	r.queue = r.queue[1:]
	return pkt, nil
}

func (r *opusReader) readPageAt(ref pageRef) error {
	if _, err := r.src.Seek(ref.offset, io.SeekStart); err != nil {
		return err
	}
	return r.pr.readPage()
}

func (r *opusReader) loadPage() error {
	if r.pageIdx >= len(r.pages) {
		return io.EOF
	}
	ref := r.pages[r.pageIdx]
	r.pageIdx++

	if ref.link != r.link {
		// chained stream: its header packets come first
		r.setLink(ref.link)
		r.skip = 2
	}

	if err := r.readPageAt(ref); err != nil {
		return err
	}

	var pkts [][]byte
	pkts, r.partial = r.pr.packets(r.partial, r.scratch[:0])
	r.scratch = pkts
	for r.skip > 0 && len(pkts) > 0 {
		pkts = pkts[1:]
		r.skip--
	}
	if len(pkts) == 0 {
		return nil
	}
	return r.emit(ref, pkts)
}

func (r *opusReader) emit(ref pageRef, pkts [][]byte) error {
	l := &r.links[r.link]

	r.durs = r.durs[:0]
	var sum int64
	for _, p := range pkts {
		d, err := opusPacketFrames(p)
		if err != nil {
			return err
		}
		r.durs = append(r.durs, int64(d))
		sum += int64(d)
	}

	if !r.rawKnown {
		if ref.granule < 0 {
			return errors.New("ogg: page completes packets without a granule position")
		}
		r.nextRaw = ref.granule - sum
		r.rawKnown = true
	}

	var excess int64
	if ref.flags&pageEOS != 0 && ref.granule >= 0 {
		excess = max(r.nextRaw+sum-ref.granule, 0)
	}

	for i, p := range pkts {
		start := r.nextRaw
		end := start + r.durs[i]
		r.nextRaw = end

		trimEnd := 0
		if i == len(pkts)-1 && excess > 0 {
			cut := min(excess, r.durs[i])
			end -= cut
			trimEnd = int(cut)
		}

		startTS := l.base + audio.Timestamp(start-l.head.preSkip)
		endTS := l.base + audio.Timestamp(end-l.head.preSkip)
		trimStart := 0
		if startTS < l.base {
			trimStart = int(min(l.base-startTS, audio.Timestamp(r.durs[i])))
			startTS = l.base
		}
		endTS = max(endTS, startTS)

		pkt := audio.Packet{
			TrackID:   r.track.ID,
			StartTS:   startTS,
			Duration:  endTS - startTS,
			TrimStart: trimStart,
			TrimEnd:   trimEnd,
			Data:      p,
		}
		if r.pending != nil {
			pkt.Params = r.pending
			r.pending = nil
		}
		r.queue = append(r.queue, pkt)
	}
	return nil
}

// linkAt returns the last playable link starting at or before ts
func (r *opusReader) linkAt(ts audio.Timestamp) int {
	found := 0
	for i, l := range r.links {
		if l.firstPage >= 0 && l.base <= ts {
			found = i
		}
	}
	return found
}

func (r *opusReader) Seek(ts audio.Timestamp) (audio.Timestamp, error) {
	total := r.track.Params.NumFrames
	ts = clampTS(ts, total)
	if total > 0 && ts >= total {
		r.queue = r.queue[:0]
		r.partial = nil
		r.pageIdx = len(r.pages)
		return total, nil
	}

	li := r.linkAt(ts)
	l := r.links[li]
	r.startLink(li)

	want := int64(ts-l.base) + l.head.preSkip - opusPreroll
	cand := -1
	if want > 0 {
		for i := max(l.firstPage, 0); i < len(r.pages) && r.pages[i].link == li; i++ {
			g := r.pages[i].granule
			if g < 0 {
				continue
			}
			if g > want {
				break
			}
			cand = i
		}
	}

	if cand < 0 {
		for len(r.queue) == 0 {
			if err := r.loadPage(); err != nil {
				if errors.Is(err, io.EOF) {
					return total, nil
				}
				return 0, fmt.Errorf("opus seek: %w", err)
			}
		}
		return r.queue[0].StartTS, nil
	}

	// Decoding resumes with the packet that begins at the end of page cand
	ref := r.pages[cand]
	if err := r.readPageAt(ref); err != nil {
		return 0, fmt.Errorf("opus seek: %w", err)
	}
	r.scratch, r.partial = r.pr.packets(nil, r.scratch[:0])
	r.pageIdx = cand + 1
	r.nextRaw = ref.granule
	r.rawKnown = true

	return max(l.base+audio.Timestamp(ref.granule-l.head.preSkip), l.base), nil
}

func (r *opusReader) Close() error {
	return nil
}
