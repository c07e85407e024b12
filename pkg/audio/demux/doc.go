// ABOUTME: Container demuxing package
// ABOUTME: Probes media sources and reads timestamped packets
// Package demux identifies media containers and reads their packets.
//
// Containers: WAV, AIFF, MP3, FLAC, Ogg (Vorbis and Opus).
//
// Every reader reports timestamps in frames of its track's time base and
// seeks accurately: after Seek(ts) the next packet starts at or before ts,
// and the caller trims decoded frames up to ts.
//
// Example:
//
//	reader, err := demux.DefaultRegistry().Probe(f, demux.HintFromPath(path))
//	track, err := demux.DefaultTrack(reader)
//	for {
//	    pkt, err := reader.NextPacket()
//	    if err == io.EOF {
//	        break
//	    }
//	}
package demux
