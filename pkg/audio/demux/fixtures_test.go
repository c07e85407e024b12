// ABOUTME: Test fixtures for container tests
// ABOUTME: Builds WAV, AIFF and Ogg streams in memory
package demux

import (
	"bytes"
	"encoding/binary"
	"math"
)

// makeWAV builds a canonical 44-byte-header WAV file around data
func makeWAV(format uint16, sampleRate, channels, bits int, data []byte) []byte {
	buf := new(bytes.Buffer)

	blockAlign := uint16(channels * bits / 8)
	byteRate := uint32(sampleRate) * uint32(blockAlign)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, format)
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bits))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)

	return buf.Bytes()
}

// makeExtensibleWAV builds a WAVE_FORMAT_EXTENSIBLE file whose SubFormat GUID
// carries subFormat
func makeExtensibleWAV(subFormat uint16, sampleRate, channels, bits int, data []byte) []byte {
	buf := new(bytes.Buffer)

	blockAlign := uint16(channels * bits / 8)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(60+len(data)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(40))
	binary.Write(buf, binary.LittleEndian, uint16(wavFormatExtensible))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate)*uint32(blockAlign))
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bits))
	binary.Write(buf, binary.LittleEndian, uint16(22))
	binary.Write(buf, binary.LittleEndian, uint16(bits))
	binary.Write(buf, binary.LittleEndian, uint32(3))
	// xxxxxxxx-0000-0010-8000-00aa00389b71
	binary.Write(buf, binary.LittleEndian, uint32(subFormat))
	buf.Write([]byte{0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71})

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)

	return buf.Bytes()
}

// rampS16 returns frames of 16-bit samples where every sample of frame i is i
func rampS16(frames, channels int) []byte {
	data := make([]byte, frames*channels*2)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint16(data[(i*channels+ch)*2:], uint16(int16(i)))
		}
	}
	return data
}

type oggPageSpec struct {
	flags   byte
	granule int64
	serial  uint32
	packets [][]byte
}

// makeOgg serializes pages; CRCs are left zero
func makeOgg(pages []oggPageSpec) []byte {
	buf := new(bytes.Buffer)
	for seq, p := range pages {
		var lacing []byte
		var body []byte
		for _, pkt := range p.packets {
			n := len(pkt)
			for n >= 255 {
				lacing = append(lacing, 255)
				n -= 255
			}
			lacing = append(lacing, byte(n))
			body = append(body, pkt...)
		}

		buf.WriteString("OggS")
		buf.WriteByte(0)
		buf.WriteByte(p.flags)
		binary.Write(buf, binary.LittleEndian, uint64(p.granule))
		binary.Write(buf, binary.LittleEndian, p.serial)
		binary.Write(buf, binary.LittleEndian, uint32(seq))
		binary.Write(buf, binary.LittleEndian, uint32(0))
		buf.WriteByte(byte(len(lacing)))
		buf.Write(lacing)
		buf.Write(body)
	}
	return buf.Bytes()
}

func opusHeadPacket(channels int, preSkip uint16) []byte {
	p := []byte("OpusHead")
	p = append(p, 1, byte(channels))
	p = binary.LittleEndian.AppendUint16(p, preSkip)
	p = binary.LittleEndian.AppendUint32(p, 48000)
	p = append(p, 0, 0, 0)
	return p
}

func opusTagsPacket() []byte {
	p := []byte("OpusTags")
	p = binary.LittleEndian.AppendUint32(p, 4)
	p = append(p, "test"...)
	p = binary.LittleEndian.AppendUint32(p, 0)
	return p
}

// opus20ms is a CELT fullband 20 ms single-frame packet (960 samples)
func opus20ms(marker byte) []byte {
	return []byte{31 << 3, marker, marker}
}

// opusFixture has 8 packets of 960 samples, pre-skip 312 and a final
// granule of 7000, so the track is 6688 frames long
func opusFixture() []byte {
	const serial = 0x1234
	return makeOgg([]oggPageSpec{
		{flags: pageBOS, granule: 0, serial: serial, packets: [][]byte{opusHeadPacket(2, 312)}},
		{granule: 0, serial: serial, packets: [][]byte{opusTagsPacket()}},
		{granule: 2880, serial: serial, packets: [][]byte{opus20ms(0), opus20ms(1), opus20ms(2)}},
		{granule: 5760, serial: serial, packets: [][]byte{opus20ms(3), opus20ms(4), opus20ms(5)}},
		{flags: pageEOS, granule: 7000, serial: serial, packets: [][]byte{opus20ms(6), opus20ms(7)}},
	})
}

// makeAIFF builds a FORM/AIFF file with an odd-sized annotation chunk
// between COMM and SSND
func makeAIFF(form string, sampleRate, channels, bits int, data []byte) []byte {
	return buildAIFF(form, "", sampleRate, channels, bits, data)
}

// makeAIFC builds a FORM/AIFC file whose COMM chunk names compression
func makeAIFC(compression string, sampleRate, channels, bits int, data []byte) []byte {
	return buildAIFF("AIFC", compression, sampleRate, channels, bits, data)
}

func buildAIFF(form, compression string, sampleRate, channels, bits int, data []byte) []byte {
	frames := len(data) / (channels * ((bits + 7) / 8))

	comm := new(bytes.Buffer)
	binary.Write(comm, binary.BigEndian, uint16(channels))
	binary.Write(comm, binary.BigEndian, uint32(frames))
	binary.Write(comm, binary.BigEndian, uint16(bits))
	comm.Write(extended80(sampleRate))
	if form == "AIFC" {
		if compression == "" {
			compression = "NONE"
		}
		comm.WriteString(compression)
		// Pascal string padded to an even length
		name := "test " + compression
		comm.WriteByte(byte(len(name)))
		comm.WriteString(name)
		if (len(name)+1)%2 != 0 {
			comm.WriteByte(0)
		}
	}

	body := new(bytes.Buffer)
	body.WriteString(form)

	body.WriteString("COMM")
	binary.Write(body, binary.BigEndian, uint32(comm.Len()))
	body.Write(comm.Bytes())

	body.WriteString("ANNO")
	binary.Write(body, binary.BigEndian, uint32(3))
	body.WriteString("abc\x00")

	body.WriteString("SSND")
	binary.Write(body, binary.BigEndian, uint32(8+len(data)))
	binary.Write(body, binary.BigEndian, uint32(0))
	binary.Write(body, binary.BigEndian, uint32(0))
	body.Write(data)

	buf := new(bytes.Buffer)
	buf.WriteString("FORM")
	binary.Write(buf, binary.BigEndian, uint32(body.Len()))
	buf.Write(body.Bytes())
	return buf.Bytes()
}

// extended80 encodes a positive integer as an IEEE 754 80-bit extended float
func extended80(v int) []byte {
	exp := 0
	for (v >> (exp + 1)) > 0 {
		exp++
	}
	out := make([]byte, 10)
	binary.BigEndian.PutUint16(out, uint16(16383+exp))
	binary.BigEndian.PutUint64(out[2:], uint64(v)<<(63-exp))
	return out
}

// rampS16BE returns big-endian 16-bit frames where every sample of frame i is i
func rampS16BE(frames, channels int) []byte {
	data := make([]byte, frames*channels*2)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			binary.BigEndian.PutUint16(data[(i*channels+ch)*2:], uint16(int16(i)))
		}
	}
	return data
}

// rampF32BE returns big-endian float frames where frame i holds i/1000
func rampF32BE(frames, channels int) []byte {
	data := make([]byte, frames*channels*4)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			binary.BigEndian.PutUint32(data[(i*channels+ch)*4:], math.Float32bits(float32(i)/1000))
		}
	}
	return data
}
