// Package selftest checks every accelerated operator against the reference
// executor on random data, one geometry at a time.
package selftest

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/born-ml/accelnet/internal/backend/cpu"
	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/ops"
	"github.com/born-ml/accelnet/internal/tensor"
	"github.com/born-ml/accelnet/internal/verify"
	"github.com/born-ml/accelnet/kernels"
	"go.uber.org/zap"
)

// Kind selects the operator a Case exercises.
type Kind int

// Operator kinds.
const (
	Conv2D Kind = iota
	DepthwiseConv2D
	BatchNorm
)

// String returns the operator name used in logs.
func (k Kind) String() string {
	switch k {
	case Conv2D:
		return "conv2d"
	case DepthwiseConv2D:
		return "depthwise_conv2d"
	case BatchNorm:
		return "batchnorm"
	default:
		return "unknown"
	}
}

// Random data distributions. Inputs and kernels fall in [-1, 1); batch-norm
// weights sit near 1 and biases near 0.
const (
	DataScale   = 1.0 / 512
	DataOffset  = -1
	WeightScale = 1.0 / 5000
	BiasScale   = 1.0 / 10000
	Eps         = 1e-5
)

// Case is one operator geometry.
type Case struct {
	Kind       Kind
	Height     int
	Width      int
	InChannels int
	// OutChannels is used by Conv2D only.
	OutChannels int
	// Multiplier is used by DepthwiseConv2D only.
	Multiplier int
	KernelSize int
	Stride     int
	Padding    int
	// ReLU is the batch-norm activation flag.
	ReLU float32
}

// String names the case for logs, e.g. "conv2d 65x69 3->16 k3 s1 p1".
func (c Case) String() string {
	switch c.Kind {
	case Conv2D:
		return fmt.Sprintf("%s %dx%d %d->%d k%d s%d p%d", c.Kind, c.Height, c.Width,
			c.InChannels, c.OutChannels, c.KernelSize, c.Stride, c.Padding)
	case DepthwiseConv2D:
		return fmt.Sprintf("%s %dx%d %dx%d k%d s%d p%d", c.Kind, c.Height, c.Width,
			c.InChannels, c.Multiplier, c.KernelSize, c.Stride, c.Padding)
	default:
		return fmt.Sprintf("%s %dx%dx%d relu=%g", c.Kind, c.InChannels, c.Height, c.Width, c.ReLU)
	}
}

func conv(h, w, in, out, k int) Case {
	return Case{Kind: Conv2D, Height: h, Width: w, InChannels: in, OutChannels: out, KernelSize: k, Stride: 1, Padding: k / 2}
}

func depthwise(h, w, in, mult, k int) Case {
	return Case{Kind: DepthwiseConv2D, Height: h, Width: w, InChannels: in, Multiplier: mult, KernelSize: k, Stride: 1, Padding: k / 2}
}

func batchNorm(h, w, channels int, relu float32) Case {
	return Case{Kind: BatchNorm, Height: h, Width: w, InChannels: channels, ReLU: relu}
}

// Cases returns the full operator suite.
func Cases() []Case {
	var cs []Case
	for _, k := range []int{3, 5} {
		cs = append(cs,
			conv(128, 128, 64, 64, k),
			conv(128, 128, 32, 32, k),
			conv(65, 69, 3, 16, k),
			conv(71, 92, 15, 18, k),
		)
	}
	cs = append(cs,
		depthwise(128, 128, 16, 2, 3),
		depthwise(128, 128, 16, 3, 3),
		depthwise(128, 128, 16, 4, 3),
		depthwise(127, 127, 32, 2, 3),
		depthwise(127, 127, 32, 3, 3),
		depthwise(127, 127, 32, 4, 3),
		depthwise(64, 64, 16, 2, 5),
		depthwise(64, 64, 16, 2, 7),
		depthwise(65, 65, 11, 3, 7),
	)
	for _, size := range []int{64, 128, 256, 512} {
		for _, channels := range []int{16, 32} {
			cs = append(cs, batchNorm(size, size, channels, 1))
		}
	}
	return cs
}

// QuickCases returns a small suite covering odd extents, strides and both
// activation settings.
func QuickCases() []Case {
	strided := conv(33, 29, 4, 6, 3)
	strided.Stride = 2
	return []Case{
		conv(17, 19, 3, 5, 3),
		conv(23, 21, 4, 7, 5),
		strided,
		depthwise(19, 17, 4, 2, 3),
		depthwise(21, 21, 3, 3, 7),
		batchNorm(16, 12, 8, 1),
		batchNorm(9, 11, 5, 0),
	}
}

// Result is the outcome of one case.
type Result struct {
	Case       Case
	Report     verify.Report
	Similarity float64
	Device     time.Duration
	Host       time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithTolerance sets the absolute tolerance of the comparison.
func WithTolerance(tol float32) Option {
	return func(r *Runner) { r.tol = tol }
}

// WithSeed seeds the data generator.
func WithSeed(seed uint64) Option {
	return func(r *Runner) { r.rng = tensor.NewSource(seed) }
}

// WithRecorder forwards kernel launches to rec.
func WithRecorder(rec ops.Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// Runner executes cases on one workspace. Kernels are built on first use
// and kept until Close.
type Runner struct {
	ws       compute.Workspace
	logger   *zap.Logger
	recorder ops.Recorder
	tol      float32
	rng      *rand.Rand
	kernels  map[Kind]compute.Kernel
}

// New returns a Runner on ws.
func New(ws compute.Workspace, opts ...Option) (*Runner, error) {
	if ws == nil {
		return nil, fmt.Errorf("selftest: %w: nil workspace", compute.ErrConfiguration)
	}
	r := &Runner{
		ws:      ws,
		logger:  zap.NewNop(),
		tol:     1e-3,
		rng:     tensor.NewSource(tensor.TimeSeed()),
		kernels: make(map[Kind]compute.Kernel),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes cases in order. Mismatches are reported in the results;
// only device or configuration failures abort the run.
func (r *Runner) Run(ctx context.Context, cases []Case) ([]Result, error) {
	results := make([]Result, 0, len(cases))
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := r.RunCase(c)
		if err != nil {
			return results, fmt.Errorf("selftest: %s: %w", c, err)
		}
		r.logger.Info(res.Report.String(),
			zap.Stringer("case", c),
			zap.Int("mismatches", res.Report.Mismatches),
			zap.Float32("max_abs_diff", res.Report.MaxAbsDiff),
			zap.Float64("similarity", res.Similarity),
			zap.Duration("device", res.Device),
			zap.Duration("host", res.Host))
		results = append(results, res)
	}
	return results, nil
}

// RunCase executes a single case.
func (r *Runner) RunCase(c Case) (Result, error) {
	switch c.Kind {
	case Conv2D:
		return r.runConv(c)
	case DepthwiseConv2D:
		return r.runDepthwise(c)
	case BatchNorm:
		return r.runBatchNorm(c)
	default:
		return Result{}, fmt.Errorf("%w: unknown operator kind %d", compute.ErrConfiguration, c.Kind)
	}
}

// Close releases the kernels the runner built.
func (r *Runner) Close() {
	for kind, k := range r.kernels {
		k.Release()
		delete(r.kernels, kind)
	}
}

func (r *Runner) kernel(kind Kind) (compute.Kernel, error) {
	if k, ok := r.kernels[kind]; ok {
		return k, nil
	}
	var program, entry string
	switch kind {
	case Conv2D:
		program, entry = kernels.Conv2DProgram, kernels.Conv2DEntry
	case DepthwiseConv2D:
		program, entry = kernels.DepthwiseConv2DProgram, kernels.DepthwiseConv2DEntry
	default:
		program, entry = kernels.BatchNormProgram, kernels.BatchNormEntry
	}
	k, err := r.ws.CreateKernel(program, entry, false)
	if err != nil {
		return nil, err
	}
	r.kernels[kind] = k
	return k, nil
}

func (r *Runner) opts() []ops.Option {
	opts := []ops.Option{ops.WithLogger(r.logger.Named("ops"))}
	if r.recorder != nil {
		opts = append(opts, ops.WithRecorder(r.recorder))
	}
	return opts
}

// random creates a host tensor of shape filled from the generator and
// pushes it to the device.
func (r *Runner) random(shape tensor.Shape, scale, offset float32) (*tensor.Tensor, error) {
	t, err := tensor.New(shape, nil, false)
	if err != nil {
		return nil, err
	}
	if err := t.GenerateRandomOnDevice(r.rng, scale, offset, r.ws.Context(), r.ws.Queue()); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *Runner) runConv(c Case) (Result, error) {
	k, err := r.kernel(Conv2D)
	if err != nil {
		return Result{}, err
	}
	op, err := ops.NewConv2D(ops.Conv2DConfig{
		InChannels:  c.InChannels,
		OutChannels: c.OutChannels,
		KernelSize:  c.KernelSize,
		Stride:      c.Stride,
		Padding:     c.Padding,
	}, r.opts()...)
	if err != nil {
		return Result{}, err
	}
	inShape := tensor.Shape{1, c.InChannels, c.Height, c.Width}
	outShape, err := op.OutputShape(inShape)
	if err != nil {
		return Result{}, err
	}

	in, err := r.random(inShape, DataScale, DataOffset)
	if err != nil {
		return Result{}, err
	}
	defer in.Release()
	weights, err := r.random(tensor.Shape{c.OutChannels, c.InChannels, c.KernelSize, c.KernelSize}, DataScale, DataOffset)
	if err != nil {
		return Result{}, err
	}
	defer weights.Release()
	out, err := tensor.New(outShape, r.ws.Context(), true)
	if err != nil {
		return Result{}, err
	}
	defer out.Release()

	op.SetKernel(k, r.ws.Queue())
	op.SetInput(in.Ref(compute.ReadOnly))
	op.SetOutput(out.Ref(compute.WriteOnly))
	op.SetWeights(weights.Ref(compute.ReadOnly))

	start := time.Now()
	if _, _, err := op.RunInto(inShape, true, out.Data()); err != nil {
		return Result{}, err
	}
	device := time.Since(start)

	ref := make([]float32, outShape.NumElements())
	start = time.Now()
	err = cpu.Conv2D(in.Data(), ref, weights.Data(), cpu.Conv2DParams{
		Batch:       1,
		InHeight:    c.Height,
		InWidth:     c.Width,
		InChannels:  c.InChannels,
		OutChannels: c.OutChannels,
		KernelSize:  c.KernelSize,
		Stride:      c.Stride,
		Padding:     c.Padding,
	})
	if err != nil {
		return Result{}, err
	}
	return r.result(c, ref, out.Data(), device, time.Since(start)), nil
}

func (r *Runner) runDepthwise(c Case) (Result, error) {
	k, err := r.kernel(DepthwiseConv2D)
	if err != nil {
		return Result{}, err
	}
	op, err := ops.NewDepthwiseConv2D(ops.DepthwiseConv2DConfig{
		InChannels:        c.InChannels,
		ChannelMultiplier: c.Multiplier,
		KernelSize:        c.KernelSize,
		Stride:            c.Stride,
		Padding:           c.Padding,
	}, r.opts()...)
	if err != nil {
		return Result{}, err
	}
	inShape := tensor.Shape{1, c.InChannels, c.Height, c.Width}
	outShape, err := op.OutputShape(inShape)
	if err != nil {
		return Result{}, err
	}

	in, err := r.random(inShape, DataScale, DataOffset)
	if err != nil {
		return Result{}, err
	}
	defer in.Release()
	weights, err := r.random(tensor.Shape{c.InChannels * c.Multiplier, 1, c.KernelSize, c.KernelSize}, DataScale, DataOffset)
	if err != nil {
		return Result{}, err
	}
	defer weights.Release()
	out, err := tensor.New(outShape, r.ws.Context(), true)
	if err != nil {
		return Result{}, err
	}
	defer out.Release()

	op.SetKernel(k, r.ws.Queue())
	op.SetInput(in.Ref(compute.ReadOnly))
	op.SetOutput(out.Ref(compute.WriteOnly))
	op.SetWeights(weights.Ref(compute.ReadOnly))

	start := time.Now()
	if _, _, err := op.RunInto(inShape, true, out.Data()); err != nil {
		return Result{}, err
	}
	device := time.Since(start)

	ref := make([]float32, outShape.NumElements())
	start = time.Now()
	err = cpu.DepthwiseConv2D(in.Data(), ref, weights.Data(), cpu.DepthwiseParams{
		Batch:             1,
		InHeight:          c.Height,
		InWidth:           c.Width,
		InChannels:        c.InChannels,
		ChannelMultiplier: c.Multiplier,
		KernelSize:        c.KernelSize,
		Stride:            c.Stride,
		Padding:           c.Padding,
	})
	if err != nil {
		return Result{}, err
	}
	return r.result(c, ref, out.Data(), device, time.Since(start)), nil
}

func (r *Runner) runBatchNorm(c Case) (Result, error) {
	k, err := r.kernel(BatchNorm)
	if err != nil {
		return Result{}, err
	}
	op, err := ops.NewBatchNorm(ops.BatchNormConfig{NumFeatures: c.InChannels, Eps: Eps, ReLU: c.ReLU}, r.opts()...)
	if err != nil {
		return Result{}, err
	}
	shape := tensor.Shape{1, c.InChannels, c.Height, c.Width}

	data, err := r.random(shape, DataScale, DataOffset)
	if err != nil {
		return Result{}, err
	}
	defer data.Release()
	weights, err := r.random(tensor.Shape{c.InChannels}, WeightScale, 1)
	if err != nil {
		return Result{}, err
	}
	defer weights.Release()
	biases, err := r.random(tensor.Shape{c.InChannels}, BiasScale, 0)
	if err != nil {
		return Result{}, err
	}
	defer biases.Release()

	ref := make([]float32, shape.NumElements())
	copy(ref, data.Data())

	op.SetKernel(k, r.ws.Queue())
	op.SetTensor(data.Ref(compute.ReadWrite))
	op.SetWeights(weights.Ref(compute.ReadOnly))
	op.SetBiases(biases.Ref(compute.ReadOnly))

	got := make([]float32, shape.NumElements())
	start := time.Now()
	if _, _, err := op.RunInto(shape, true, got); err != nil {
		return Result{}, err
	}
	device := time.Since(start)

	start = time.Now()
	err = cpu.BatchNorm(ref, cpu.BatchNormParams{
		Batch:       1,
		Channels:    c.InChannels,
		ChannelSize: c.Height * c.Width,
		Eps:         Eps,
		Weights:     weights.Data(),
		Biases:      biases.Data(),
		ReLU:        c.ReLU,
	})
	if err != nil {
		return Result{}, err
	}
	return r.result(c, ref, got, device, time.Since(start)), nil
}

func (r *Runner) result(c Case, expected, got []float32, device, host time.Duration) Result {
	return Result{
		Case:       c,
		Report:     verify.Compare(expected, got, r.tol),
		Similarity: verify.Similarity(expected, got),
		Device:     device,
		Host:       host,
	}
}
