package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/ops"
	"github.com/born-ml/accelnet/internal/tensor"
	"github.com/born-ml/accelnet/kernels"
	"go.uber.org/zap"
)

// Recorder observes pipeline activity.
type Recorder interface {
	ops.Recorder
	StageFinished(op string, d time.Duration)
	Transferred(direction string, bytes int)
}

// Transfer directions reported to the Recorder.
const (
	HostToDevice = "host_to_device"
	DeviceToHost = "device_to_host"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithRecorder attaches a recorder for launches, stage timings and
// transfers.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// stageOps are the operators of one stage.
type stageOps struct {
	conv *ops.Conv2D
	norm *ops.BatchNorm
}

// Pipeline runs a Schedule on an accelerator. It owns two ping-pong
// tensors, the concatenated parameter buffers and its two kernels. Stage i
// reads slot active and writes slot 1-active; the slots never swap
// buffers, only the active index moves.
type Pipeline struct {
	ws       compute.Workspace
	sched    Schedule
	shapes   []tensor.Shape
	logger   *zap.Logger
	recorder Recorder

	convKernel compute.Kernel
	normKernel compute.Kernel

	slots   [2]*tensor.Tensor
	kernels *tensor.Tensor
	weights *tensor.Tensor
	biases  *tensor.Tensor

	stages []stageOps
}

// New builds a pipeline for inputs of shape input. Parameters are uploaded
// once; buffers and kernels live until Close.
func New(ws compute.Workspace, sched Schedule, input tensor.Shape, params Params, opts ...Option) (_ *Pipeline, err error) {
	if ws == nil {
		return nil, fmt.Errorf("model: %w: nil workspace", compute.ErrConfiguration)
	}
	shapes, err := sched.Shapes(input)
	if err != nil {
		return nil, err
	}
	if err := params.Check(sched); err != nil {
		return nil, err
	}

	p := &Pipeline{ws: ws, sched: sched, shapes: shapes, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	if p.convKernel, err = ws.CreateKernel(kernels.Conv2DProgram, kernels.Conv2DEntry, false); err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	if p.normKernel, err = ws.CreateKernel(kernels.BatchNormProgram, kernels.BatchNormEntry, false); err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}

	ctx, q := ws.Context(), ws.Queue()
	scratch := tensor.Shape{scratchLen(shapes)}
	for i := range p.slots {
		if p.slots[i], err = tensor.New(scratch, ctx, true); err != nil {
			return nil, fmt.Errorf("model: scratch slot %d: %w", i, err)
		}
	}
	if p.kernels, err = p.upload(params.Kernels[:sched.KernelLen()]); err != nil {
		return nil, err
	}
	if p.weights, err = p.upload(params.Weights[:sched.WeightLen()]); err != nil {
		return nil, err
	}
	if p.biases, err = p.upload(params.Biases[:sched.WeightLen()]); err != nil {
		return nil, err
	}
	if err := q.Finish(); err != nil {
		return nil, fmt.Errorf("model: upload params: %w", err)
	}

	var opOpts []ops.Option
	opOpts = append(opOpts, ops.WithLogger(p.logger.Named("ops")))
	if p.recorder != nil {
		opOpts = append(opOpts, ops.WithRecorder(p.recorder))
	}
	for _, st := range sched.Stages() {
		conv, err := ops.NewConv2D(st.Conv, opOpts...)
		if err != nil {
			return nil, err
		}
		norm, err := ops.NewBatchNorm(st.Norm, opOpts...)
		if err != nil {
			return nil, err
		}
		conv.SetKernel(p.convKernel, q)
		norm.SetKernel(p.normKernel, q)
		p.stages = append(p.stages, stageOps{conv: conv, norm: norm})
	}

	p.logger.Info("pipeline ready",
		zap.Stringer("device", ws.Device()),
		zap.Int("stages", len(p.stages)),
		zap.Ints("input", input),
		zap.Ints("output", shapes[len(shapes)-1]),
		zap.Int("scratch_elements", scratch[0]))
	return p, nil
}

// upload creates a read-only-by-convention parameter tensor on the device.
func (p *Pipeline) upload(values []float32) (*tensor.Tensor, error) {
	t, err := tensor.FromSlice(tensor.Shape{len(values)}, values)
	if err != nil {
		return nil, err
	}
	if _, err := t.PushToDevice(p.ws.Context(), p.ws.Queue(), false); err != nil {
		return nil, fmt.Errorf("model: upload params: %w", err)
	}
	p.transferred(HostToDevice, len(values))
	return t, nil
}

// InputShape returns the shape Run expects.
func (p *Pipeline) InputShape() tensor.Shape { return p.shapes[0].Clone() }

// OutputShape returns the shape Run produces.
func (p *Pipeline) OutputShape() tensor.Shape { return p.shapes[len(p.shapes)-1].Clone() }

// Scratch returns the two ping-pong tensors.
func (p *Pipeline) Scratch() [2]*tensor.Tensor { return p.slots }

// Run pushes input into slot 0, runs every stage and pops the result into
// a new host tensor. ctx is checked between stages; a running device
// command is never interrupted.
func (p *Pipeline) Run(ctx context.Context, input *tensor.Tensor) (*tensor.Tensor, error) {
	if p.stages == nil {
		return nil, fmt.Errorf("model: %w: pipeline is closed", compute.ErrPrecondition)
	}
	if input == nil {
		return nil, fmt.Errorf("model: %w: nil input tensor", compute.ErrConfiguration)
	}
	if !input.Shape().Equal(p.shapes[0]) {
		return nil, fmt.Errorf("model: %w: input shape %v, pipeline built for %v",
			compute.ErrShapeMismatch, input.Shape(), p.shapes[0])
	}
	q := p.ws.Queue()
	start := time.Now()

	if _, err := q.EnqueueWrite(p.slots[0].DeviceBuffer(), false, input.Data()); err != nil {
		return nil, fmt.Errorf("model: push input: %w", err)
	}
	p.transferred(HostToDevice, input.Size())

	active := 0
	shape := input.Shape()
	for i, st := range p.stages {
		if err := ctx.Err(); err != nil {
			// Let queued work drain so the scratch buffers can be reused.
			return nil, errors.Join(fmt.Errorf("model: stage %d: %w", i, err), q.Finish())
		}
		next := 1 - active

		convStart := time.Now()
		st.conv.SetInput(p.slots[active].Ref(compute.ReadOnly))
		st.conv.SetOutput(p.slots[next].Ref(compute.WriteOnly))
		st.conv.SetWeights(p.kernels.Ref(compute.ReadOnly).At(p.sched.KernelOffset(i)))
		out, _, err := st.conv.Run(shape, true)
		if err != nil {
			return nil, fmt.Errorf("model: stage %d: %w", i, err)
		}
		p.stageFinished("conv2d", time.Since(convStart))
		shape = out
		active = next

		normStart := time.Now()
		off := p.sched.ParamOffset(i)
		st.norm.SetTensor(p.slots[active].Ref(compute.ReadWrite))
		st.norm.SetWeights(p.weights.Ref(compute.ReadOnly).At(off))
		st.norm.SetBiases(p.biases.Ref(compute.ReadOnly).At(off))
		if shape, _, err = st.norm.Run(shape, true); err != nil {
			return nil, fmt.Errorf("model: stage %d: %w", i, err)
		}
		p.stageFinished("batchnorm", time.Since(normStart))

		p.logger.Debug("stage done",
			zap.Int("stage", i),
			zap.Ints("shape", shape),
			zap.Int("slot", active),
			zap.Duration("conv", normStart.Sub(convStart)),
			zap.Duration("batchnorm", time.Since(normStart)))
	}

	result, err := tensor.New(shape, nil, false)
	if err != nil {
		return nil, err
	}
	if _, err := q.EnqueueRead(p.slots[active].DeviceBuffer(), true, result.Data()); err != nil {
		return nil, fmt.Errorf("model: pop output: %w", err)
	}
	p.transferred(DeviceToHost, result.Size())

	p.logger.Info("pipeline finished",
		zap.Ints("output", shape),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// Close releases every buffer and kernel the pipeline created. The
// workspace stays open.
func (p *Pipeline) Close() {
	if p.ws != nil {
		_ = p.ws.Queue().Finish()
	}
	for _, t := range []*tensor.Tensor{p.slots[0], p.slots[1], p.kernels, p.weights, p.biases} {
		if t != nil {
			t.Release()
		}
	}
	for _, k := range []compute.Kernel{p.convKernel, p.normKernel} {
		if k != nil {
			k.Release()
		}
	}
	p.slots = [2]*tensor.Tensor{}
	p.kernels, p.weights, p.biases = nil, nil, nil
	p.convKernel, p.normKernel = nil, nil
	p.stages = nil
}

func (p *Pipeline) stageFinished(op string, d time.Duration) {
	if p.recorder != nil {
		p.recorder.StageFinished(op, d)
	}
}

func (p *Pipeline) transferred(direction string, elements int) {
	if p.recorder != nil {
		p.recorder.Transferred(direction, elements*4)
	}
}
