package reporting

import (
	"context"
	"errors"
	"time"

	"voice-gateway/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts aggregate reads. Every method filters by business.
type Repository interface {
	CallStats(ctx context.Context, businessID string, from, to time.Time, direction string) ([]StatusStat, error)
	UsageStats(ctx context.Context, businessID string, from, to time.Time) (UsageSummary, error)
	AgentCounts(ctx context.Context, businessID string) (map[string]int, error)
}

// LiveWindow bounds the live metrics query. Calls older than this are not considered active.
const LiveWindow = 24 * time.Hour

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service { return &Service{repo: repo, clock: time.Now} }

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.BusinessID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Direction != "" && !calls.Direction(req.Direction).Valid() {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	stats, err := s.repo.CallStats(ctx, req.BusinessID, req.Range.From, req.Range.To, req.Direction)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{BusinessID: req.BusinessID, Range: req.Range}
	for _, st := range stats {
		out.TotalCalls += st.Calls
		out.TotalDurationSeconds += st.DurationSeconds
		out.RecordedCalls += st.Recorded
		switch calls.Status(st.Status) {
		case calls.StatusCompleted:
			out.CompletedCalls += st.Calls
		case calls.StatusFailed:
			out.FailedCalls += st.Calls
		case calls.StatusNoAnswer:
			out.NoAnswerCalls += st.Calls
		case calls.StatusBusy:
			out.BusyCalls += st.Calls
		case calls.StatusCanceled:
			out.CanceledCalls += st.Calls
		case calls.StatusInProgress:
			out.InProgressCalls += st.Calls
		case calls.StatusVoicemail:
			out.VoicemailCalls += st.Calls
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}

	usage, err := s.repo.UsageStats(ctx, req.BusinessID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}
	out.Usage = usage
	return out, nil
}

// LiveMetrics reports calls not yet ended, queue depth and agent availability.
func (s *Service) LiveMetrics(ctx context.Context, businessID string) (LiveMetrics, error) {
	if businessID == "" {
		return LiveMetrics{}, ErrInvalidRequest
	}
	now := s.clock().UTC()
	stats, err := s.repo.CallStats(ctx, businessID, now.Add(-LiveWindow), now.Add(time.Minute), "")
	if err != nil {
		return LiveMetrics{}, err
	}
	agents, err := s.repo.AgentCounts(ctx, businessID)
	if err != nil {
		return LiveMetrics{}, err
	}

	out := LiveMetrics{BusinessID: businessID, CallsByStatus: map[string]int{}, AgentsByStatus: agents, GeneratedAt: now}
	for _, st := range stats {
		out.CallsByStatus[st.Status] = st.Calls
		status := calls.Status(st.Status)
		if !status.IsTerminal() {
			out.ActiveCalls += st.Calls
		}
		if status == calls.StatusQueued {
			out.QueueDepth += st.Calls
		}
	}
	return out, nil
}
