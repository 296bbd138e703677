package transcription

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// decodeWAV reads 16-bit PCM RIFF audio into mono float32 samples in [-1, 1].
func decodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, errors.New("not a RIFF/WAVE file")
	}

	var (
		channels   uint16
		sampleRate uint32
		bits       uint16
		pcm        []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		start := off + 8
		end := start + size
		if end > len(data) {
			end = len(data)
		}
		switch id {
		case "fmt ":
			if end-start < 16 {
				return nil, 0, errors.New("short fmt chunk")
			}
			if format := binary.LittleEndian.Uint16(data[start:]); format != 1 {
				return nil, 0, fmt.Errorf("unsupported wav format %d", format)
			}
			channels = binary.LittleEndian.Uint16(data[start+2:])
			sampleRate = binary.LittleEndian.Uint32(data[start+4:])
			bits = binary.LittleEndian.Uint16(data[start+14:])
		case "data":
			pcm = data[start:end]
		}
		off = start + size + size%2
	}

	if channels == 0 || pcm == nil {
		return nil, 0, errors.New("wav file has no fmt or data chunk")
	}
	if bits != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d", bits)
	}

	frames := len(pcm) / (2 * int(channels))
	out := make([]float32, frames)
	r := bytes.NewReader(pcm)
	for i := range frames {
		var sum float32
		for range channels {
			var s int16
			if err := binary.Read(r, binary.LittleEndian, &s); err != nil {
				return nil, 0, err
			}
			sum += float32(s) / 32768
		}
		out[i] = sum / float32(channels)
	}
	return out, int(sampleRate), nil
}
