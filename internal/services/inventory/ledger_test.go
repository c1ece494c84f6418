package inventory

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/BearBump/OrderFlow/internal/services/alerts"
	"github.com/BearBump/OrderFlow/internal/storage/sqlitestore"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (n *recordingNotifier) Notify(ctx context.Context, recipientID, kind string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, payload["kind"].(string))
	return nil
}

func newLedger(t *testing.T) (*Ledger, *alerts.Manager, *recordingNotifier) {
	t.Helper()
	st, err := sqlitestore.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(st.Close)

	n := &recordingNotifier{}
	am := alerts.New(st, n)
	return New(st, am), am, n
}

func TestLedger_LowStockScenario(t *testing.T) {
	l, am, n := newLedger(t)
	ctx := context.Background()

	_, err := l.RegisterProduct(ctx, models.ProductCreateInput{ID: "p1", InitialStock: 5, MinThreshold: 3})
	require.NoError(t, err)

	res, err := l.ApplyMovement(ctx, models.MovementInput{ProductID: "p1", Quantity: 3, Kind: models.MovementOut})
	require.NoError(t, err)
	require.Equal(t, int64(2), res.NewStock)

	active, err := am.ListActive(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, models.AlertLowStock, active[0].Kind)
	require.Equal(t, int64(2), active[0].Quantity)

	res, err = l.ApplyMovement(ctx, models.MovementInput{ProductID: "p1", Quantity: 1, Kind: models.MovementOut})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.NewStock)

	active, err = am.ListActive(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, []string{"low_stock"}, n.kinds)
}

func TestLedger_InsufficientStockLeavesEverythingUnchanged(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.RegisterProduct(ctx, models.ProductCreateInput{ID: "p1", InitialStock: 4})
	require.NoError(t, err)

	_, err = l.ApplyMovement(ctx, models.MovementInput{ProductID: "p1", Quantity: 5, Kind: models.MovementOut})
	require.ErrorIs(t, err, models.ErrInsufficientStock)

	p, err := l.GetProduct(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(4), p.Stock)

	movs, err := l.ListMovements(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, movs, 1)
}

func TestLedger_RejectsStockOverflow(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.RegisterProduct(ctx, models.ProductCreateInput{ID: "p1", InitialStock: 10})
	require.NoError(t, err)

	_, err = l.ApplyMovement(ctx, models.MovementInput{ProductID: "p1", Quantity: math.MaxInt64, Kind: models.MovementIn})
	require.ErrorIs(t, err, models.ErrInvalidInput)

	p, err := l.GetProduct(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(10), p.Stock)
	movs, err := l.ListMovements(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, movs, 1)
}

func TestLedger_Validation(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	cases := []models.MovementInput{
		{ProductID: "", Quantity: 1, Kind: models.MovementIn},
		{ProductID: "p1", Quantity: 0, Kind: models.MovementIn},
		{ProductID: "p1", Quantity: -2, Kind: models.MovementOut},
		{ProductID: "p1", Quantity: 1, Kind: "teleport"},
		{ProductID: "p1", Quantity: -1, Kind: models.MovementAdjustment},
	}
	for _, in := range cases {
		_, err := l.ApplyMovement(ctx, in)
		require.ErrorIs(t, err, models.ErrInvalidInput, "%+v", in)
	}

	_, err := l.ApplyMovement(ctx, models.MovementInput{ProductID: "ghost", Quantity: 1, Kind: models.MovementIn})
	require.ErrorIs(t, err, models.ErrProductNotFound)
	_, err = l.QuerySufficiency(ctx, "ghost", 1)
	require.ErrorIs(t, err, models.ErrProductNotFound)
}

func TestLedger_AdjustStockAndReplay(t *testing.T) {
	l, am, _ := newLedger(t)
	ctx := context.Background()

	max := int64(20)
	_, err := l.RegisterProduct(ctx, models.ProductCreateInput{ID: "p1", InitialStock: 10, MinThreshold: 2, MaxThreshold: &max})
	require.NoError(t, err)

	res, err := l.AdjustStock(ctx, "p1", 25, "stocktake", "alice")
	require.NoError(t, err)
	require.Equal(t, int64(10), res.PreviousStock)
	require.Equal(t, int64(25), res.NewStock)

	_, err = l.ApplyMovement(ctx, models.MovementInput{ProductID: "p1", Quantity: 7, Kind: models.MovementTransfer, Reason: "to store B"})
	require.NoError(t, err)
	_, err = l.ApplyMovement(ctx, models.MovementInput{ProductID: "p1", Quantity: 2, Kind: models.MovementReturn})
	require.NoError(t, err)
	_, err = l.AdjustStock(ctx, "p1", 0, "write-off", "alice")
	require.NoError(t, err)

	rep, err := l.VerifyLedger(ctx, "p1")
	require.NoError(t, err)
	require.True(t, rep.Consistent)
	require.Equal(t, int64(0), rep.Stock)
	require.Equal(t, 5, rep.Movements)

	active, err := am.ListActive(ctx, "p1")
	require.NoError(t, err)
	kinds := map[models.AlertKind]bool{}
	for _, a := range active {
		kinds[a.Kind] = true
	}
	require.True(t, kinds[models.AlertOverstock])
	require.True(t, kinds[models.AlertOutOfStock])
}

// Движение, получившее время раньше, но дождавшееся блокировки позже,
// не должно ломать воспроизведение журнала.
func TestLedger_ReplayFollowsCommitOrder(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.RegisterProduct(ctx, models.ProductCreateInput{ID: "p1", InitialStock: 0})
	require.NoError(t, err)

	t1 := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	l.now = func() time.Time { return t2 }
	_, err = l.AdjustStock(ctx, "p1", 10, "stocktake", "alice")
	require.NoError(t, err)

	l.now = func() time.Time { return t1 }
	res, err := l.ApplyMovement(ctx, models.MovementInput{ProductID: "p1", Quantity: 5, Kind: models.MovementIn})
	require.NoError(t, err)
	require.Equal(t, int64(15), res.NewStock)

	rep, err := l.VerifyLedger(ctx, "p1")
	require.NoError(t, err)
	require.True(t, rep.Consistent)
	require.Equal(t, int64(15), rep.Replayed)

	movs, err := l.ListMovements(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, movs, 2)
	require.Equal(t, models.MovementAdjustment, movs[0].Kind)
	require.Equal(t, models.MovementIn, movs[1].Kind)
	require.Equal(t, t2, movs[1].CreatedAt)
	for i := 1; i < len(movs); i++ {
		require.False(t, movs[i].CreatedAt.Before(movs[i-1].CreatedAt))
	}
}

func TestLedger_QuerySufficiency(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	_, err := l.RegisterProduct(ctx, models.ProductCreateInput{ID: "p1", InitialStock: 3})
	require.NoError(t, err)

	s, err := l.QuerySufficiency(ctx, "p1", 3)
	require.NoError(t, err)
	require.True(t, s.Sufficient)
	s, err = l.QuerySufficiency(ctx, "p1", 4)
	require.NoError(t, err)
	require.False(t, s.Sufficient)
	require.Equal(t, int64(3), s.CurrentStock)
}

func TestLedger_ConcurrentOut(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	_, err := l.RegisterProduct(ctx, models.ProductCreateInput{ID: "p1", InitialStock: 10})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ApplyMovement(ctx, models.MovementInput{ProductID: "p1", Quantity: 6, Kind: models.MovementOut})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var failed int
	for err := range errs {
		if err != nil {
			require.ErrorIs(t, err, models.ErrInsufficientStock)
			failed++
		}
	}
	require.Equal(t, 1, failed)

	rep, err := l.VerifyLedger(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(4), rep.Stock)
	require.True(t, rep.Consistent)
}

type failingEvaluator struct{}

func (failingEvaluator) Evaluate(ctx context.Context, productID string, qty int64) error {
	return errors.New("alerts store down")
}

func TestLedger_AlertFailureDoesNotFailMovement(t *testing.T) {
	st, err := sqlitestore.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(st.Close)

	l := New(st, failingEvaluator{})
	ctx := context.Background()
	_, err = l.RegisterProduct(ctx, models.ProductCreateInput{ID: "p1", InitialStock: 1})
	require.NoError(t, err)

	res, err := l.ApplyMovement(ctx, models.MovementInput{ProductID: "p1", Quantity: 1, Kind: models.MovementOut})
	require.NoError(t, err)
	require.Equal(t, int64(0), res.NewStock)
}

func TestLedger_UpdateThresholdsReevaluates(t *testing.T) {
	l, am, _ := newLedger(t)
	ctx := context.Background()
	_, err := l.RegisterProduct(ctx, models.ProductCreateInput{ID: "p1", InitialStock: 4})
	require.NoError(t, err)

	require.NoError(t, l.UpdateThresholds(ctx, "p1", 5, nil))
	active, err := am.ListActive(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, int64(5), active[0].Threshold)

	bad := int64(1)
	require.ErrorIs(t, l.UpdateThresholds(ctx, "p1", 5, &bad), models.ErrInvalidInput)
}
