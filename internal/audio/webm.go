package audio

import (
	"bytes"
	"encoding/binary"

	"github.com/at-wat/ebml-go"
	"github.com/at-wat/ebml-go/webm"
	"gopkg.in/hraban/opus.v2"
)

const (
	webmOpusCodec = "A_OPUS"
	webmAudioType = 2
)

// DecodeWebMOpus decodes the Opus track of a WebM recording (Chrome and
// Firefox MediaRecorder) into a 48 kHz buffer. A stream cut short after
// its last complete block still decodes.
func DecodeWebMOpus(data []byte) (*AudioBuffer, error) {
	var doc struct {
		Header  webm.EBMLHeader `ebml:"EBML"`
		Segment webm.Segment    `ebml:"Segment"`
	}
	err := ebml.Unmarshal(bytes.NewReader(data), &doc, ebml.WithIgnoreUnknown(true))
	if err != nil && len(doc.Segment.Cluster) == 0 {
		return nil, decodeError("invalid webm stream: %v", err)
	}

	track, ok := opusTrack(doc.Segment.Tracks.TrackEntry)
	if !ok {
		return nil, decodeError("webm stream has no opus audio track")
	}
	channels, preSkip := opusHead(track)
	if channels < 1 || channels > 2 {
		return nil, decodeError("unsupported opus channel count %d", channels)
	}

	dec, err := opus.NewDecoder(OpusSampleRate, channels)
	if err != nil {
		return nil, decodeError("create opus decoder: %v", err)
	}

	pcm := make([]float32, maxOpusFrame*channels)
	var out []float32
	decodeBlock := func(b ebml.Block) error {
		if b.TrackNumber != track.TrackNumber {
			return nil
		}
		for _, packet := range b.Data {
			if len(packet) == 0 {
				continue
			}
			n, err := dec.DecodeFloat32(packet, pcm)
			if err != nil {
				return err
			}
			out = append(out, pcm[:n*channels]...)
		}
		return nil
	}

	for _, cluster := range doc.Segment.Cluster {
		for _, b := range cluster.SimpleBlock {
			if err := decodeBlock(b); err != nil {
				return nil, decodeError("decode opus: %v", err)
			}
		}
		for _, g := range cluster.BlockGroup {
			if err := decodeBlock(g.Block); err != nil {
				return nil, decodeError("decode opus: %v", err)
			}
		}
	}
	if len(out) == 0 {
		return nil, decodeError("webm stream has no audio blocks")
	}

	if skip := preSkip * channels; skip < len(out) {
		out = out[skip:]
	}
	return Deinterleave(out, channels, OpusSampleRate), nil
}

func opusTrack(entries []webm.TrackEntry) (webm.TrackEntry, bool) {
	for _, e := range entries {
		if e.CodecID == webmOpusCodec && (e.TrackType == 0 || e.TrackType == webmAudioType) {
			return e, true
		}
	}
	return webm.TrackEntry{}, false
}

// opusHead reads channel count and pre-skip from the OpusHead in
// CodecPrivate, falling back to the track's audio settings.
func opusHead(track webm.TrackEntry) (channels, preSkip int) {
	channels = 1
	if track.Audio != nil && track.Audio.Channels > 0 {
		channels = int(track.Audio.Channels)
	}
	head := track.CodecPrivate
	if len(head) >= 19 && string(head[0:8]) == "OpusHead" {
		channels = int(head[9])
		preSkip = int(binary.LittleEndian.Uint16(head[10:12]))
	}
	return channels, preSkip
}
