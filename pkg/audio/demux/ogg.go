// ABOUTME: Ogg container demuxer
// ABOUTME: Page parsing, packet assembly and codec identification for Ogg streams
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
	oggHeaderLen = 27

	pageContinued = 0x01
	pageBOS       = 0x02
	pageEOS       = 0x04
)

var oggCapture = []byte("OggS")

// Ogg demuxes Ogg streams, choosing the codec from the first packet
type Ogg struct{}

func (Ogg) Name() string         { return "ogg" }
func (Ogg) Extensions() []string { return []string{"ogg", "oga", "opus"} }

func (Ogg) Sniff(header []byte) bool {
	return len(header) >= 4 && bytes.Equal(header[:4], oggCapture)
}

// oggPageHeader is the fixed part of a page plus its lacing table
type oggPageHeader struct {
	flags   byte
	granule int64
	serial  uint32
	seq     uint32
	lacing  []byte
}

func (h *oggPageHeader) bodyLen() int {
	n := 0
	for _, l := range h.lacing {
		n += int(l)
	}
	return n
}

// size is the full on-disk page size
func (h *oggPageHeader) size() int64 {
	return int64(oggHeaderLen + len(h.lacing) + h.bodyLen())
}

// completed counts packets that end on this page
func (h *oggPageHeader) completed() int {
	n := 0
	for _, l := range h.lacing {
		if l < 255 {
			n++
		}
	}
	return n
}

func readPageHeader(r io.Reader, h *oggPageHeader) error {
	var fixed [oggHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return err
	}
	if !bytes.Equal(fixed[:4], oggCapture) {
		return errors.New("ogg: missing capture pattern")
	}
	if fixed[4] != 0 {
		return fmt.Errorf("ogg: unsupported stream structure version %d", fixed[4])
	}

	h.flags = fixed[5]
	h.granule = int64(binary.LittleEndian.Uint64(fixed[6:14]))
	h.serial = binary.LittleEndian.Uint32(fixed[14:18])
	h.seq = binary.LittleEndian.Uint32(fixed[18:22])
	// CRC at [22:26] is not verified

	segments := int(fixed[26])
	if cap(h.lacing) < segments {
		h.lacing = make([]byte, segments)
	}
	h.lacing = h.lacing[:segments]
	if _, err := io.ReadFull(r, h.lacing); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return err
	}
	return nil
}

// pageReader reads whole pages and splits them into packets
type pageReader struct {
	src  io.ReadSeeker
	hdr  oggPageHeader
	body []byte
}

func (p *pageReader) readPage() error {
	if err := readPageHeader(p.src, &p.hdr); err != nil {
		return err
	}
	n := p.hdr.bodyLen()
	if cap(p.body) < n {
		p.body = make([]byte, n)
	}
	p.body = p.body[:n]
	if _, err := io.ReadFull(p.src, p.body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return err
	}
	return nil
}

// packets splits the current page body. partial holds the unfinished packet
// carried from the previous page; the returned partial is the unfinished
// packet at the end of this one. Returned packets alias the page body except
// for one completing a carried partial.
func (p *pageReader) packets(partial []byte, dst [][]byte) ([][]byte, []byte) {
	if p.hdr.flags&pageContinued == 0 {
		partial = nil
	}

	offset := 0
	start := 0
	skipping := p.hdr.flags&pageContinued != 0 && partial == nil

	for _, l := range p.hdr.lacing {
		offset += int(l)
		if l == 255 {
			continue
		}
		if skipping {
			// tail of a packet whose head we never saw
			skipping = false
			start = offset
			continue
		}
		if partial != nil {
			partial = append(partial, p.body[start:offset]...)
			dst = append(dst, partial)
			partial = nil
		} else {
			dst = append(dst, p.body[start:offset])
		}
		start = offset
	}

	if !skipping && start < len(p.body) {
		partial = append(partial, p.body[start:]...)
	}
	return dst, partial
}

// firstPacket returns the first packet on the current page
func (p *pageReader) firstPacket() []byte {
	n := 0
	for _, l := range p.hdr.lacing {
		n += int(l)
		if l < 255 {
			break
		}
	}
	return p.body[:n]
}

// oggCodec is what the first packet of a logical stream identifies
type oggCodec struct {
	name  string
	audio bool
}

func identifyOgg(packet []byte) oggCodec {
	switch {
	case bytes.HasPrefix(packet, []byte("\x01vorbis")):
		return oggCodec{"vorbis", true}
	case bytes.HasPrefix(packet, []byte("OpusHead")):
		return oggCodec{"opus", true}
	case bytes.HasPrefix(packet, []byte("\x7fFLAC")):
		return oggCodec{"flac", true}
	case bytes.HasPrefix(packet, []byte("Speex   ")):
		return oggCodec{"speex", true}
	case bytes.HasPrefix(packet, []byte("PCM     ")):
		return oggCodec{"ogg_pcm", true}
	case bytes.HasPrefix(packet, []byte("\x80theora")):
		return oggCodec{"theora", false}
	case bytes.HasPrefix(packet, []byte("fishead\x00")):
		return oggCodec{"skeleton", false}
	case bytes.HasPrefix(packet, []byte("BBCD\x00")):
		return oggCodec{"dirac", false}
	case bytes.HasPrefix(packet, []byte("\x80kate")):
		return oggCodec{"kate", false}
	default:
		return oggCodec{"unknown", true}
	}
}

// Open inspects the beginning-of-stream pages and hands off to the codec reader
func (Ogg) Open(src io.ReadSeeker) (FormatReader, error) {
	start, err := src.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	pr := &pageReader{src: src}
	var codecs []oggCodec
	for {
		if err := pr.readPage(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if pr.hdr.flags&pageBOS == 0 {
			break
		}
		codecs = append(codecs, identifyOgg(pr.firstPacket()))
	}
	if len(codecs) == 0 {
		return nil, errors.New("ogg: no beginning-of-stream page")
	}

	if _, err := src.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}

	if codecs[0].name == "vorbis" {
		return openVorbis(src)
	}
	for _, c := range codecs {
		if c.name == "opus" {
			return openOpus(src)
		}
	}
	for _, c := range codecs {
		if c.audio {
			return &unsupportedReader{tracks: []audio.Track{{
				ID:        0,
				Params:    audio.CodecParams{Codec: audio.CodecType(c.name)},
				Container: "ogg",
				Source:    c.name,
			}}}, nil
		}
	}
	return &unsupportedReader{}, nil
}

// unsupportedReader exposes tracks that no decoder can play
type unsupportedReader struct {
	tracks []audio.Track
}

func (r *unsupportedReader) Tracks() []audio.Track { return r.tracks }

func (r *unsupportedReader) NextPacket() (audio.Packet, error) { return audio.Packet{}, io.EOF }

func (r *unsupportedReader) Seek(audio.Timestamp) (audio.Timestamp, error) { return 0, nil }

func (r *unsupportedReader) Close() error { return nil }
