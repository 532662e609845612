package audio

// PCM sample helpers. All audio in the pipeline is 16-bit little-endian.

// TelephonySampleRate is the per-leg sampling rate of call audio.
const TelephonySampleRate = 8000

// SamplesFromPCM converts little-endian PCM bytes to int16 samples. A
// trailing odd byte is discarded.
func SamplesFromPCM(pcm []byte) []int16 {
	n := len(pcm) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
	}
	return samples
}

// PCMFromSamples converts int16 samples to little-endian PCM bytes.
func PCMFromSamples(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[2*i] = byte(s)
		pcm[2*i+1] = byte(s >> 8)
	}
	return pcm
}

// Interleave merges two equal-length mono channels into one 2-channel
// stream, caller first. Shorter inputs are padded with silence.
func Interleave(caller, agent []int16) []int16 {
	n := len(caller)
	if len(agent) > n {
		n = len(agent)
	}
	out := make([]int16, 2*n)
	for i := 0; i < n; i++ {
		if i < len(caller) {
			out[2*i] = caller[i]
		}
		if i < len(agent) {
			out[2*i+1] = agent[i]
		}
	}
	return out
}

// MixMono averages two mono channels into one. Shorter inputs are padded
// with silence.
func MixMono(caller, agent []int16) []int16 {
	n := len(caller)
	if len(agent) > n {
		n = len(agent)
	}
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		var c, a int32
		if i < len(caller) {
			c = int32(caller[i])
		}
		if i < len(agent) {
			a = int32(agent[i])
		}
		out[i] = int16((c + a) / 2)
	}
	return out
}
