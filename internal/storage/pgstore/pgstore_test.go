package pgstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container test")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "orderflow_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/orderflow_test?sslmode=disable"

	// postgres принимает порт чуть раньше, чем готов к запросам
	var st *Storage
	require.Eventually(t, func() bool {
		st, err = New(dsn)
		return err == nil
	}, 30*time.Second, 500*time.Millisecond)
	t.Cleanup(st.Close)
	return st
}

func movement(productID string, kind models.MovementKind, qty int64) *models.InventoryMovement {
	return &models.InventoryMovement{
		ID:        uuid.NewString(),
		ProductID: productID,
		Kind:      kind,
		Quantity:  qty,
		CreatedAt: time.Now().UTC(),
	}
}

func TestPGStore_LedgerFlow(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	maxQ := int64(100)
	require.NoError(t, st.CreateProduct(ctx, &models.Product{ID: "p1", SKU: "SKU-1", MinThreshold: 3, MaxThreshold: &maxQ, CreatedAt: time.Now()}))
	require.ErrorIs(t, st.CreateProduct(ctx, &models.Product{ID: "p1", CreatedAt: time.Now()}), models.ErrInvalidInput)

	in := movement("p1", models.MovementIn, 10)
	in.UnitCost = decimal.NewNullDecimal(decimal.RequireFromString("2.5000"))
	res, err := st.ApplyMovement(ctx, in)
	require.NoError(t, err)
	require.Equal(t, int64(0), res.PreviousStock)
	require.Equal(t, int64(10), res.NewStock)

	_, err = st.ApplyMovement(ctx, movement("p1", models.MovementOut, 11))
	require.ErrorIs(t, err, models.ErrInsufficientStock)

	out := movement("p1", models.MovementOut, 4)
	out.ReferenceType, out.ReferenceID = models.ReferenceTypeOrder, "o1"
	_, err = st.ApplyMovement(ctx, out)
	require.NoError(t, err)

	_, err = st.ApplyMovement(ctx, movement("nope", models.MovementIn, 1))
	require.ErrorIs(t, err, models.ErrProductNotFound)

	p, err := st.GetProduct(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(6), p.Stock)

	movs, err := st.ListMovements(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, movs, 2)
	require.Equal(t, p.Stock, models.ReplayStock(movs))
	require.True(t, movs[0].UnitCost.Valid)
	require.True(t, movs[0].UnitCost.Decimal.Equal(decimal.RequireFromString("2.5")))

	byRef, err := st.ListMovementsByReference(ctx, models.ReferenceTypeOrder, "o1")
	require.NoError(t, err)
	require.Len(t, byRef, 1)
	require.Equal(t, int64(4), byRef[0].Quantity)

	require.NoError(t, st.UpdateThresholds(ctx, "p1", 5, nil))
	require.ErrorIs(t, st.UpdateThresholds(ctx, "nope", 5, nil), models.ErrProductNotFound)
}

func TestPGStore_ConcurrentOutNeverOversells(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, st.CreateProduct(ctx, &models.Product{ID: "p1", CreatedAt: time.Now()}))
	_, err := st.ApplyMovement(ctx, movement("p1", models.MovementIn, 10))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = st.ApplyMovement(ctx, movement("p1", models.MovementOut, 6))
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, models.ErrInsufficientStock)
			failed++
		}
	}
	require.Equal(t, 1, failed)

	p, err := st.GetProduct(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(4), p.Stock)
}

func TestPGStore_Alerts(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, st.CreateProduct(ctx, &models.Product{ID: "p1", CreatedAt: time.Now()}))

	a, err := st.GetActiveAlert(ctx, "p1", models.AlertLowStock)
	require.NoError(t, err)
	require.Nil(t, a)

	first := &models.StockAlert{ID: "a1", ProductID: "p1", Kind: models.AlertLowStock, Threshold: 5, Quantity: 2, TriggeredAt: time.Now()}
	require.NoError(t, st.InsertAlert(ctx, first))
	dup := &models.StockAlert{ID: "a2", ProductID: "p1", Kind: models.AlertLowStock, Threshold: 5, Quantity: 1, TriggeredAt: time.Now()}
	require.ErrorIs(t, st.InsertAlert(ctx, dup), models.ErrAlreadyActiveAlert)

	active, err := st.ListActiveAlerts(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, st.ResolveAlert(ctx, "a1", time.Now()))
	require.ErrorIs(t, st.ResolveAlert(ctx, "a1", time.Now()), models.ErrAlertNotFound)

	// после resolve можно поднять новый
	require.NoError(t, st.InsertAlert(ctx, dup))
}

func TestPGStore_OrderHistory(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	now := time.Now().UTC()
	o := &models.Order{
		ID:         "o1",
		CustomerID: "c1",
		Status:     models.OrderStatusPending,
		Total:      decimal.RequireFromString("19.90"),
		Items:      []models.OrderItem{{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("9.95")}},
		CreatedAt:  now,
	}
	require.NoError(t, st.CreateOrder(ctx, o))

	got, err := st.GetOrder(ctx, "o1")
	require.NoError(t, err)
	require.True(t, got.Total.Equal(o.Total))
	require.Len(t, got.Items, 1)

	_, err = st.GetOrder(ctx, "nope")
	require.ErrorIs(t, err, models.ErrOrderNotFound)

	// одинаковый timestamp: второй сдвигается вперёд
	h1 := &models.OrderStatusHistory{ID: "h1", OrderID: "o1", PreviousStatus: models.OrderStatusPending, NewStatus: models.OrderStatusConfirmed, RequestID: "r1", CreatedAt: now}
	require.NoError(t, st.CommitTransition(ctx, h1))
	h2 := &models.OrderStatusHistory{ID: "h2", OrderID: "o1", PreviousStatus: models.OrderStatusConfirmed, NewStatus: models.OrderStatusCancelled, CreatedAt: now}
	require.NoError(t, st.CommitTransition(ctx, h2))
	require.True(t, h2.CreatedAt.After(h1.CreatedAt))

	stale := &models.OrderStatusHistory{ID: "h3", OrderID: "o1", PreviousStatus: models.OrderStatusPending, NewStatus: models.OrderStatusConfirmed, CreatedAt: now}
	require.ErrorIs(t, st.CommitTransition(ctx, stale), models.ErrStaleOrder)
	stale.OrderID = "nope"
	require.ErrorIs(t, st.CommitTransition(ctx, stale), models.ErrOrderNotFound)

	hist, err := st.ListOrderHistory(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, models.OrderStatusCancelled, hist[1].NewStatus)

	byReq, err := st.GetHistoryByRequestID(ctx, "o1", "r1")
	require.NoError(t, err)
	require.Equal(t, "h1", byReq.ID)
	none, err := st.GetHistoryByRequestID(ctx, "o1", "r2")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestPGStore_ShipmentsFlow(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, id := range []string{"o1", "o2"} {
		require.NoError(t, st.CreateOrder(ctx, &models.Order{ID: id, CustomerID: "c1", Status: models.OrderStatusProcessing, CreatedAt: now}))
	}

	mk := func(id, orderID string, next time.Time) *models.Shipment {
		return &models.Shipment{
			ID: id, OrderID: orderID, Carrier: "CDEK", TrackingNumber: "T-" + id,
			Cost: decimal.RequireFromString("5.50"), WeightKg: decimal.RequireFromString("1.250"),
			Status: models.ShipmentStatusCreated, NextCheckAt: next, CreatedAt: now,
		}
	}
	require.NoError(t, st.CreateShipment(ctx, mk("s1", "o1", now.Add(-time.Minute))))
	require.NoError(t, st.CreateShipment(ctx, mk("s2", "o2", now.Add(time.Hour))))
	require.ErrorIs(t, st.CreateShipment(ctx, mk("s3", "o1", now)), models.ErrShipmentExists)

	// Делаем ровно один "due" и проверяем ClaimDueShipments + lease
	lease := 10 * time.Second
	due, err := st.ClaimDueShipments(ctx, now, 10, lease)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "s1", due[0].ID)
	require.True(t, due[0].Cost.Equal(decimal.RequireFromString("5.5")))
	require.WithinDuration(t, now.Add(lease), due[0].NextCheckAt, time.Second)

	again, err := st.ClaimDueShipments(ctx, now, 10, lease)
	require.NoError(t, err)
	require.Empty(t, again)

	evTime := now.Add(-time.Hour)
	ev := &models.ShipmentTrackingEvent{ID: "e1", ShipmentID: "s1", Status: models.ShipmentStatusInTransit, StatusRaw: "RAW", Location: "MOW", EventTime: evTime, CreatedAt: now}
	inserted, err := st.AppendTrackingEvent(ctx, ev, nil)
	require.NoError(t, err)
	require.True(t, inserted)

	ev.ID = "e2"
	inserted, err = st.AppendTrackingEvent(ctx, ev, nil)
	require.NoError(t, err)
	require.False(t, inserted)

	delivered := &models.ShipmentTrackingEvent{ID: "e3", ShipmentID: "s1", Status: models.ShipmentStatusDelivered, EventTime: now, CreatedAt: now}
	inserted, err = st.AppendTrackingEvent(ctx, delivered, &now)
	require.NoError(t, err)
	require.True(t, inserted)

	sh, err := st.GetShipment(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.ShipmentStatusDelivered, sh.Status)
	require.NotNil(t, sh.ActualDelivery)

	evs, err := st.ListTrackingEvents(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, "e1", evs[0].ID)

	msg := "carrier timeout"
	require.NoError(t, st.RecordShipmentCheck(ctx, models.ShipmentCheck{ShipmentID: "s2", CheckedAt: now, NextCheckAt: now.Add(time.Minute), Error: &msg}))
	sh, err = st.GetShipment(ctx, "s2")
	require.NoError(t, err)
	require.Equal(t, int32(1), sh.CheckFailCount)
	require.NotNil(t, sh.LastError)

	require.NoError(t, st.RecordShipmentCheck(ctx, models.ShipmentCheck{ShipmentID: "s2", CheckedAt: now, NextCheckAt: now.Add(time.Minute)}))
	sh, err = st.GetShipment(ctx, "s2")
	require.NoError(t, err)
	require.Zero(t, sh.CheckFailCount)
	require.Nil(t, sh.LastError)

	_, err = st.GetShipment(ctx, "nope")
	require.ErrorIs(t, err, models.ErrShipmentNotFound)
}
