package diffusion

// WeightFn scales each sample's squared-error loss as a function of its noise
// level. The schedule is supplied by the caller; the loss head never hardcodes
// one.
type WeightFn func(sigma float64) float64

// UniformWeight weights every noise level equally.
func UniformWeight(float64) float64 { return 1 }

// SNRWeight weights by the signal-to-noise ratio, 1/σ². The standard
// denoising score-matching weighting: it makes the expected loss contribution
// uniform across noise levels.
func SNRWeight(sigma float64) float64 { return 1 / (sigma * sigma) }

// EDMWeight returns the (σ² + σ_data²)/(σ·σ_data)² weighting, which
// equalizes the effective loss across noise levels for data with standard
// deviation sigmaData.
func EDMWeight(sigmaData float64) WeightFn {
	return func(sigma float64) float64 {
		s2 := sigma * sigma
		d2 := sigmaData * sigmaData
		return (s2 + d2) / (s2 * d2)
	}
}
