package optimization

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// recordTimeout bounds a journal write once the run is over.
const recordTimeout = 5 * time.Second

// RunRecord is what the service reports about a finished optimization. It
// carries aggregate outcome data only, never holdings or fundamentals.
type RunRecord struct {
	Status         Status
	Objective      ObjectiveMode
	Instruments    int
	ExpectedReturn float64
	Volatility     float64
	Duration       time.Duration
	Detail         string
}

// RunRecorder persists run records.
type RunRecorder interface {
	Record(ctx context.Context, rec RunRecord) error
}

// RunObserver receives run outcomes for metrics.
type RunObserver interface {
	ObserveRun(status Status, duration time.Duration)
}

// Service runs optimizations under a caller-supplied deadline.
type Service struct {
	timeout  time.Duration
	recorder RunRecorder
	observer RunObserver
	log      zerolog.Logger
}

// NewService creates a new optimizer service. A zero timeout disables the
// service-level deadline.
func NewService(timeout time.Duration, log zerolog.Logger) *Service {
	return &Service{
		timeout: timeout,
		log:     log.With().Str("component", "optimizer_service").Logger(),
	}
}

// SetRecorder sets the journal the service reports runs to.
func (s *Service) SetRecorder(recorder RunRecorder) {
	s.recorder = recorder
}

// SetObserver sets the metrics sink.
func (s *Service) SetObserver(observer RunObserver) {
	s.observer = observer
}

// Run optimizes params. The solve itself cannot be interrupted: when ctx or
// the service timeout expires first, Run returns ErrTimeout and the solve
// finishes in the background with its result discarded.
func (s *Service) Run(ctx context.Context, params *Params) (*Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if ctx.Err() != nil {
		return nil, ErrTimeout
	}

	start := time.Now()
	done := make(chan *Result, 1)
	go func() {
		done <- Optimize(params)
	}()

	var result *Result
	select {
	case result = <-done:
	case <-ctx.Done():
		s.log.Warn().
			Int("instruments", len(params.Instruments)).
			Dur("elapsed", time.Since(start)).
			Msg("Optimization abandoned at deadline")
		return nil, ErrTimeout
	}

	duration := time.Since(start)
	s.log.Info().
		Str("status", string(result.Status)).
		Str("objective", params.Constraints.Objective.String()).
		Int("instruments", len(params.Instruments)).
		Int("iterations", result.Iterations).
		Dur("duration", duration).
		Msg("Optimization finished")

	if s.observer != nil {
		s.observer.ObserveRun(result.Status, duration)
	}
	if s.recorder != nil {
		rec := RunRecord{
			Status:      result.Status,
			Objective:   params.Constraints.Objective,
			Instruments: len(params.Instruments),
			Duration:    duration,
			Detail:      result.Detail,
		}
		if result.Metrics != nil {
			rec.ExpectedReturn = result.Metrics.ExpectedReturn
			rec.Volatility = result.Metrics.Volatility
		}
		// a client hanging up after the solve must not drop the journal entry
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		err := s.recorder.Record(recordCtx, rec)
		cancel()
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to record optimization run")
		}
	}

	return result, nil
}

// RunRequest normalizes and runs a typed request.
func (s *Service) RunRequest(ctx context.Context, req Request) (*Params, *Result, []Warning, error) {
	params, warnings, err := req.Normalize()
	if err != nil {
		return nil, nil, nil, err
	}
	result, err := s.Run(ctx, params)
	return params, result, warnings, err
}

// RunPortfolio normalizes and runs a wire bundle.
func (s *Service) RunPortfolio(ctx context.Context, raw RawPortfolio) (*Params, *Result, []Warning, error) {
	params, warnings, err := ParsePortfolio(raw)
	if err != nil {
		return nil, nil, nil, err
	}
	result, err := s.Run(ctx, params)
	return params, result, warnings, err
}
