package audio

import "fmt"

// BytesToInt16 converts little-endian 16-bit PCM bytes to samples.
func BytesToInt16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, nil
}

// Int16ToBytes converts samples to little-endian 16-bit PCM bytes.
func Int16ToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(uint16(s) >> 8)
	}
	return data
}

// Resample performs simple linear interpolation resampling. This is a basic
// implementation; synthesis output only needs to be intelligible, not studio
// quality.
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	if outputLength == 0 {
		return nil
	}
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		frac := srcPos - float64(idx0)
		s0 := float64(samples[idx0])
		s1 := float64(samples[idx1])
		output[i] = int16(s0 + (s1-s0)*frac)
	}

	return output
}

// ResamplePCM16 resamples raw little-endian 16-bit PCM bytes.
func ResamplePCM16(data []byte, inputRate, outputRate int) ([]byte, error) {
	if inputRate == outputRate {
		return data, nil
	}
	samples, err := BytesToInt16(data)
	if err != nil {
		return nil, err
	}
	return Int16ToBytes(Resample(samples, inputRate, outputRate)), nil
}
