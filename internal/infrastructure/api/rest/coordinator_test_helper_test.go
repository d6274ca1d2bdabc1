package rest

import (
	"context"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/flowkit/fctl/internal/application/coordinator"
	"github.com/flowkit/fctl/internal/config"
	"github.com/flowkit/fctl/internal/infrastructure/logger"
	"github.com/flowkit/fctl/pkg/cache"
	"github.com/flowkit/fctl/pkg/catalog"
	"github.com/flowkit/fctl/pkg/catalog/builtin"
	"github.com/flowkit/fctl/pkg/observe"
	"github.com/flowkit/fctl/pkg/persistence"
	"github.com/flowkit/fctl/pkg/scheduler"
	"github.com/flowkit/fctl/pkg/types"
)

// noopExecutor never actually dispatches to a worker; handler tests exercise
// graph/schema/event-log wiring, not end-to-end execution.
type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, task scheduler.ExecTask) (types.Result, error) {
	return types.Result{}, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	return logger.New(config.LoggingConfig{Level: "error", Format: "text"})
}

// testCatalog registers the full built-in node-kind set (pkg/catalog/builtin)
// so handler tests can build graphs using real kinds ("read", "filter", ...).
func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()
	if err := builtin.RegisterBuiltins(cat); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	return cat
}

// testFlowService wires a FlowService against a temp-dir cache and
// persistence store and a no-op worker executor, suitable for exercising
// the REST handlers without a running worker.
func testFlowService(t *testing.T) *coordinator.FlowService {
	t.Helper()

	cat := testCatalog(t)
	ch, err := cache.New(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatalf("build cache: %v", err)
	}
	store := persistence.NewStore(t.TempDir(), cat, cat.Has)
	log := observe.NewLog()

	opts := scheduler.Options{MaxParallelNodes: 4}
	return coordinator.NewFlowService(cat, ch, noopExecutor{}, log, nil, store, nil, opts)
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}
