package audio

import "encoding/binary"

// WAVHeaderSize is the size of a canonical PCM RIFF/WAVE header
const WAVHeaderSize = 44

// WAVHeader builds the 44-byte little-endian header for dataLen bytes of PCM.
func WAVHeader(dataLen, sampleRate, channels, bitsPerSample int) [WAVHeaderSize]byte {
	var h [WAVHeaderSize]byte
	bytesPerSample := bitsPerSample / 8
	byteRate := sampleRate * channels * bytesPerSample
	blockAlign := channels * bytesPerSample

	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], uint16(bitsPerSample))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}

// EncodeWAV frames raw PCM as a WAV file
func EncodeWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	return EncodeWAVChunks([][]byte{pcm}, len(pcm), sampleRate, channels, bitsPerSample)
}

// EncodeWAVChunks concatenates chunks in order behind a single header.
// total must equal the sum of chunk lengths.
func EncodeWAVChunks(chunks [][]byte, total, sampleRate, channels, bitsPerSample int) []byte {
	out := make([]byte, WAVHeaderSize, WAVHeaderSize+total)
	h := WAVHeader(total, sampleRate, channels, bitsPerSample)
	copy(out, h[:])
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
