package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenHarnessCore/internal/boards"
	"github.com/KevinKickass/OpenHarnessCore/internal/config"
	"github.com/KevinKickass/OpenHarnessCore/internal/director"
	"github.com/KevinKickass/OpenHarnessCore/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State        string          `json:"state"`
	Director     director.Status `json:"director"`
	BoardCount   int             `json:"board_count"`
	StoreEnabled bool            `json:"store_enabled"`
	Clients      int             `json:"connected_clients"`
}

type LifecycleManager interface {
	Config() *config.Config
	Director() *director.Director
	Boards() *boards.Manager
	// Results is nil when result history is disabled.
	Results() *storage.ResultStore
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
