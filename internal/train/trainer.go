// Package train drives denoising score-matching training: it glues the noise
// model, the stable target estimator, the loss head, and an optimizer around
// a pluggable denoiser network.
package train

import (
	"fmt"
	"log"
	"math/rand"

	"github.com/stf-ml/stf/internal/diffusion"
	"github.com/stf-ml/stf/internal/nn"
	"github.com/stf-ml/stf/internal/optim"
	"github.com/stf-ml/stf/internal/stf"
	"github.com/stf-ml/stf/internal/tensor"
)

// Config is the immutable training configuration. STF is the single switch
// between stable-target and conventional clean-sample regression.
type Config struct {
	BatchSize     int     // Perturbed samples per step (default: 128)
	ReferenceSize int     // Reference batch size R; more lowers target bias (default: 256)
	STF           bool    // Regress toward stable targets instead of clean samples
	SigmaMin      float64 // Lower edge of the log-uniform noise range (default: 0.01)
	SigmaMax      float64 // Upper edge (default: 10)
	LR            float32 // Adam learning rate (default: 1e-3)
	Seed          int64   // RNG seed for data, noise, and init
	LogEvery      int     // Steps between progress lines; 0 disables logging
}

func (c Config) withDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = 128
	}
	if c.ReferenceSize == 0 {
		c.ReferenceSize = 256
	}
	if c.SigmaMin == 0 {
		c.SigmaMin = 0.01
	}
	if c.SigmaMax == 0 {
		c.SigmaMax = 10
	}
	if c.LR == 0 {
		c.LR = 1e-3
	}
	return c
}

// DataSampler supplies i.i.d. clean batches. The same source feeds both the
// training batch and the reference batch, drawn independently every step.
type DataSampler[B tensor.Backend] interface {
	SampleBatch(rng *rand.Rand, n int) *tensor.Tensor[float32, B]
}

// Trainer runs denoising score-matching steps against a Denoiser.
type Trainer[B tensor.Backend] struct {
	cfg       Config
	backend   B
	denoiser  nn.Denoiser[B]
	loss      *diffusion.DenoisingLoss[float32, B]
	noise     *diffusion.NoiseModel[float32, B]
	sigmas    diffusion.SigmaSampler
	optimizer optim.Optimizer
	rng       *rand.Rand
}

// NewTrainer wires up a trainer. weightFn selects the σ-dependent loss
// weighting; nil means uniform.
func NewTrainer[B tensor.Backend](
	cfg Config,
	denoiser nn.Denoiser[B],
	weightFn diffusion.WeightFn,
	backend B,
) (*Trainer[B], error) {
	cfg = cfg.withDefaults()
	if weightFn == nil {
		weightFn = diffusion.UniformWeight
	}

	mode := diffusion.ModeClean
	var estimator *stf.Estimator[float32, B]
	if cfg.STF {
		mode = diffusion.ModeStableTarget
		estimator = stf.NewEstimator[float32, B](backend)
	}

	loss, err := diffusion.NewDenoisingLoss(backend, weightFn, mode, estimator)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}

	sampler, err := diffusion.NewLogUniformSampler(cfg.SigmaMin, cfg.SigmaMax)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}

	return &Trainer[B]{
		cfg:       cfg,
		backend:   backend,
		denoiser:  denoiser,
		loss:      loss,
		noise:     diffusion.NewNoiseModel[float32, B](backend, cfg.Seed+1),
		sigmas:    sampler,
		optimizer: optim.NewAdam(denoiser.Parameters(), optim.AdamConfig{LR: cfg.LR}),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Config returns the effective configuration after defaults.
func (t *Trainer[B]) Config() Config {
	return t.cfg
}

// Step runs one training step on a clean batch with an independently drawn
// reference batch and returns the batch-mean loss.
func (t *Trainer[B]) Step(clean, reference *tensor.Tensor[float32, B]) (float32, error) {
	n := clean.Shape()[0]
	sigma := diffusion.SigmaTensor[float32](t.sigmas.Sample(t.rng, n), t.backend)

	perturbed := t.noise.Perturb(clean, sigma)

	target, err := t.loss.Targets(clean, perturbed, sigma, reference)
	if err != nil {
		return 0, fmt.Errorf("train: targets: %w", err)
	}
	// Fixed regression target: no gradient may flow through it, and the
	// upcoming parameter updates must not alias its storage.
	target = target.Detach()

	pred := t.denoiser.Forward(perturbed, sigma)
	lossVal := t.loss.Mean(pred, target, sigma).Item()

	t.denoiser.Backward(t.lossGrad(pred, target, sigma))
	t.optimizer.Step()
	t.optimizer.ZeroGrad()

	return lossVal, nil
}

// lossGrad computes d(mean loss)/d(pred) = 2·w(σᵢ)·(pred - target) / N.
func (t *Trainer[B]) lossGrad(pred, target, sigma *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	grad := pred.Sub(target)
	weights := t.loss.SampleWeights(sigma).Data()

	shape := grad.Shape()
	n, d := shape[0], shape[1]
	data := grad.Data()
	for i := 0; i < n; i++ {
		scale := 2 * weights[i] / float32(n)
		row := data[i*d : (i+1)*d]
		for j := range row {
			row[j] *= scale
		}
	}
	return grad
}

// Run trains for the given number of steps, resampling the clean batch and
// the reference batch from the data source every step. Returns the final
// step's loss.
func (t *Trainer[B]) Run(data DataSampler[B], steps int) (float32, error) {
	var last float32
	for step := 1; step <= steps; step++ {
		clean := data.SampleBatch(t.rng, t.cfg.BatchSize)
		reference := data.SampleBatch(t.rng, t.cfg.ReferenceSize)

		loss, err := t.Step(clean, reference)
		if err != nil {
			return 0, fmt.Errorf("train: step %d: %w", step, err)
		}
		last = loss

		if t.cfg.LogEvery > 0 && step%t.cfg.LogEvery == 0 {
			log.Printf("step %d/%d  loss %.6f", step, steps, loss)
		}
	}
	return last, nil
}
