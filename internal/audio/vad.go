package audio

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	VoiceThreshold float64 // RMS above which a frame counts as voice (samples in [-1, 1])
	MinVoiceFrames int     // Consecutive voiced frames required before speech is confirmed
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() VADConfig {
	return VADConfig{
		VoiceThreshold: 0.015, // low enough for soft speech at a clinic microphone
		MinVoiceFrames: 3,
	}
}

// VADDetector classifies frames and debounces the speaking state.
// A single loud frame is never enough to start speech.
type VADDetector struct {
	config      VADConfig
	consecutive int
	speaking    bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config VADConfig) *VADDetector {
	if config.MinVoiceFrames < 1 {
		config.MinVoiceFrames = 1
	}
	return &VADDetector{config: config}
}

// IsVoice reports whether a frame with the given RMS counts as voice
func (v *VADDetector) IsVoice(rms float64) bool {
	return rms > v.config.VoiceThreshold
}

// ProcessFrame feeds one frame's RMS into the detector.
// Returns: (voiced, speaking, started) where started is true only on the
// frame that confirms speech.
func (v *VADDetector) ProcessFrame(rms float64) (voiced, speaking, started bool) {
	voiced = v.IsVoice(rms)
	if !voiced {
		v.consecutive = 0
		return false, v.speaking, false
	}

	v.consecutive++
	if !v.speaking && v.consecutive >= v.config.MinVoiceFrames {
		v.speaking = true
		started = true
	}
	return true, v.speaking, started
}

// ConsecutiveVoiceFrames returns the length of the current voiced run
func (v *VADDetector) ConsecutiveVoiceFrames() int {
	return v.consecutive
}

// Reset ends the speaking state
func (v *VADDetector) Reset() {
	v.consecutive = 0
	v.speaking = false
}

// IsSpeaking returns whether speech is currently confirmed
func (v *VADDetector) IsSpeaking() bool {
	return v.speaking
}

// DetectSilence detects if audio samples represent silence
func DetectSilence(samples []float32, threshold float64) bool {
	return CalculateRMS(samples) <= threshold
}
