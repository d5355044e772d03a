package handlers

import (
	"context"

	"packmon/backend/libs/lineproto"
	"packmon/backend/services/monitor-service/internal/repository"
	"packmon/backend/services/monitor-service/internal/state"
)

// Monitor is the service surface the handlers need.
type Monitor interface {
	Snapshot() state.Snapshot
	Status() state.LinkSnapshot
	Parameters() lineproto.Parameters
	SetParameter(key, raw string) (lineproto.ParamKey, float64, error)
	CommitParameters(ctx context.Context) (string, error)
	RecentLog(ctx context.Context, limit int) ([]repository.LinkLogEntry, error)
}
