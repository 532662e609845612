package audio

import (
	"encoding/binary"
	"testing"
)

func TestEncodeWAV_MonoRoundTrip(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}
	data, err := EncodeWAV(samples, 8000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if len(data) != 44+len(samples)*2 {
		t.Fatalf("encoded size = %d, want %d", len(data), 44+len(samples)*2)
	}

	decoded, rate, channels, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if rate != 8000 || channels != 1 {
		t.Fatalf("rate=%d channels=%d, want 8000/1", rate, channels)
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, decoded[i], samples[i])
		}
	}
}

func TestEncodeWAV_StereoHeader(t *testing.T) {
	interleaved := Interleave([]int16{1, 2, 3}, []int16{4, 5, 6})
	data, err := EncodeWAV(interleaved, 8000, 2)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if channels := binary.LittleEndian.Uint16(data[22:24]); channels != 2 {
		t.Fatalf("channels = %d, want 2", channels)
	}
	if byteRate := binary.LittleEndian.Uint32(data[28:32]); byteRate != 8000*2*2 {
		t.Fatalf("byte rate = %d, want %d", byteRate, 8000*2*2)
	}
}

func TestEncodeWAV_Rejections(t *testing.T) {
	if _, err := EncodeWAV(nil, 8000, 1); err == nil {
		t.Fatal("expected error for empty audio")
	}
	if _, err := EncodeWAV([]int16{1}, 0, 1); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
	if _, err := EncodeWAV([]int16{1, 2, 3}, 8000, 2); err == nil {
		t.Fatal("expected error for ragged stereo data")
	}
	if _, err := EncodeWAV([]int16{1}, 8000, 4); err == nil {
		t.Fatal("expected error for unsupported channel count")
	}
}

func TestDecodeWAV_Rejections(t *testing.T) {
	if _, _, _, err := DecodeWAV([]byte("tiny")); err == nil {
		t.Fatal("expected error for short data")
	}
	data, _ := EncodeWAV([]int16{1, 2, 3, 4}, 8000, 1)
	data[0] = 'X'
	if _, _, _, err := DecodeWAV(data); err == nil {
		t.Fatal("expected error for corrupt magic")
	}
}
