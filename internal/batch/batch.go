// Package batch classifies stored videos offline: frames are read in order,
// every Nth frame runs through the same extract, encode and classify path
// as a live session, and the results are aggregated into a report.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/care/posetrack/internal/classifier"
	"github.com/care/posetrack/internal/features"
	"github.com/care/posetrack/internal/keypoint"
	"github.com/care/posetrack/internal/types"
	"github.com/care/posetrack/internal/video"
	"github.com/care/posetrack/internal/window"
)

// Mode selects what a report contains
type Mode int

const (
	// ModePerFrame reports one result per processed frame
	ModePerFrame Mode = iota
	// ModeSequence additionally classifies the whole processed sequence
	ModeSequence
)

func (m Mode) String() string {
	if m == ModeSequence {
		return "sequence"
	}
	return "per_frame"
}

// Deps are the collaborators of a pipeline
type Deps struct {
	Extractor  keypoint.Extractor
	Classifier classifier.Classifier
	// Open opens a video source (default: video.Open)
	Open video.Opener
}

// Options control one Process call
type Options struct {
	// Stride processes frames whose index is a multiple of it (default: 1)
	Stride int
	Mode   Mode
}

// Pipeline processes stored videos. It is safe for concurrent use when its
// extractor and classifier are.
type Pipeline struct {
	deps   Deps
	layout features.Layout
}

// New creates a pipeline
func New(deps Deps) (*Pipeline, error) {
	if deps.Extractor == nil {
		return nil, fmt.Errorf("batch: extractor is required")
	}
	if deps.Classifier == nil {
		return nil, fmt.Errorf("batch: classifier is required")
	}
	if deps.Open == nil {
		deps.Open = video.Open
	}
	return &Pipeline{deps: deps, layout: features.LayoutFor(deps.Classifier)}, nil
}

// Process reads source to the end and classifies every stride-th frame.
// Failing to open the source is the only error besides cancellation and
// a pipeline failure mid-stream; single unreadable frames are counted as
// failed and skipped.
func (p *Pipeline) Process(ctx context.Context, source string, opts Options) (*types.BatchReport, error) {
	start := time.Now()
	stride := opts.Stride
	if stride <= 0 {
		stride = 1
	}

	reader, err := p.deps.Open(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	defer reader.Close()

	minFrames := p.deps.Classifier.Timesteps()
	if minFrames <= 0 {
		minFrames = 1
	}
	win := window.New[types.FeatureVector](minFrames)

	report := &types.BatchReport{
		Source:      source,
		TotalFrames: reader.TotalFrames(),
		Stride:      stride,
		Results:     []types.FrameResult{},
		Summary:     types.BatchSummary{Counts: make(map[string]int)},
	}
	for _, name := range p.deps.Classifier.Labels().Names() {
		report.Summary.Counts[name] = 0
	}

	var sequence []types.FeatureVector
	joints := p.deps.Extractor.Joints()

	slog.Info("batch: processing video",
		"source", source,
		"total_frames", report.TotalFrames,
		"stride", stride,
		"mode", opts.Mode.String(),
	)

	for {
		frame, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		if err != nil {
			if !errors.Is(err, video.ErrFrame) {
				return nil, fmt.Errorf("batch: failed to read %s: %w", source, err)
			}
			if frame.Index%stride == 0 {
				report.Processed++
				report.Summary.Failed++
				slog.Warn("batch: frame unreadable", "source", source, "frame", frame.Index, "error", err)
			}
			continue
		}
		if frame.Index%stride != 0 {
			continue
		}
		report.Processed++

		ks := p.deps.Extractor.Extract(ctx, frame.Image)
		if !ks.Detected(joints) {
			report.Summary.NoDetection++
			continue
		}

		vec := features.Encode(ks, p.layout)
		win.Push(vec)
		if opts.Mode == ModeSequence {
			sequence = append(sequence, vec)
		}
		if win.Len() < minFrames {
			continue
		}

		res, err := p.deps.Classifier.Classify(ctx, win.Snapshot())
		if err != nil {
			report.Summary.Failed++
			slog.Warn("batch: classification failed",
				"source", source,
				"frame", frame.Index,
				"trace_id", frame.TraceID,
				"error", err,
			)
			continue
		}

		report.Results = append(report.Results, types.FrameResult{
			FrameIndex:           frame.Index,
			ClassificationResult: res,
			Keypoints:            ks,
		})
		report.Summary.Counts[res.Label]++

		if report.Processed%100 == 0 {
			slog.Debug("batch: progress",
				"source", source,
				"processed", report.Processed,
				"total_frames", report.TotalFrames,
			)
		}
	}
	report.Summary.Total = len(report.Results)

	if opts.Mode == ModeSequence && len(sequence) > 0 {
		overall, err := p.deps.Classifier.Classify(ctx, sequence)
		if err != nil {
			slog.Warn("batch: sequence classification failed", "source", source, "error", err)
		} else {
			report.Overall = &overall
		}
	}

	report.Degraded = p.deps.Extractor.Degraded() || p.deps.Classifier.Degraded()
	report.Duration = time.Since(start)

	slog.Info("batch: video processed",
		"source", source,
		"processed", report.Processed,
		"results", report.Summary.Total,
		"no_detection", report.Summary.NoDetection,
		"failed", report.Summary.Failed,
		"degraded", report.Degraded,
		"duration", report.Duration,
	)

	return report, nil
}
