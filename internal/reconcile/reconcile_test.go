package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"

	"basket-sync/internal/cart"
	"basket-sync/internal/inventory"
	"basket-sync/internal/model"
	"basket-sync/internal/normalize"
	"basket-sync/internal/reconcile"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var ignoreAddedAt = cmpopts.IgnoreFields(model.CartItem{}, "AddedAt")

func allAvailable(context.Context, string) (bool, error) { return true, nil }

func unavailable(names ...string) inventory.Probe {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(_ context.Context, name string) (bool, error) {
		return !set[name], nil
	}
}

func seedItems(names ...string) []model.SeedItem {
	items := make([]model.SeedItem, len(names))
	for i, n := range names {
		items[i] = model.SeedItem{Name: n, Quantity: "1"}
	}
	return items
}

type engineSuite struct {
	suite.Suite

	store  *cart.Store
	engine *reconcile.Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(engineSuite))
}

// before each test
func (suite *engineSuite) SetupTest() {
	suite.store = cart.New(normalize.Default())
	suite.engine = reconcile.New(suite.store, reconcile.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func (suite *engineSuite) TestTransfer_IntoEmptyTarget() {
	t := suite.T()
	suite.store.Seed("src", []model.SeedItem{
		{Name: "Lait", Quantity: "1 L"},
		{Name: "Pain", Quantity: "1"},
	})

	res, err := suite.engine.TransferBasket(t.Context(), "src", "dst", allAvailable)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 0, res.Duplicates)
	assert.Empty(t, res.OutOfStock)
	assert.False(t, res.Cancelled)
	assert.False(t, res.DryRun)

	want := []model.CartItem{
		{Name: "Lait", Quantity: "1 L"},
		{Name: "Pain", Quantity: "1"},
	}
	if diff := cmp.Diff(want, suite.store.GetCart("dst"), ignoreAddedAt); diff != "" {
		t.Errorf("target cart mismatch (-want +got):\n%s", diff)
	}
	for _, item := range suite.store.GetCart("dst") {
		assert.False(t, item.AddedAt.IsZero(), "AddedAt must be stamped")
	}
}

func (suite *engineSuite) TestTransfer_FirstOccurrenceWins() {
	t := suite.T()
	suite.store.Seed("src", []model.SeedItem{
		{Name: "Tomate", Quantity: "2"},
		{Name: "tomates fraîches", Quantity: "3"},
	})

	res, err := suite.engine.TransferBasket(t.Context(), "src", "dst", allAvailable)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Duplicates)

	got := suite.store.GetCart("dst")
	require.Len(t, got, 1)
	assert.Equal(t, "Tomate", got[0].Name)
	assert.Equal(t, "2", got[0].Quantity)

	assert.Equal(t, []reconcile.Decision{
		{Name: "Tomate", Key: "tomate", Action: reconcile.ActionAdd},
		{Name: "tomates fraîches", Key: "tomate", Action: reconcile.ActionDuplicate},
	}, res.Decisions)
}

func (suite *engineSuite) TestTransfer_OutOfStockIsolation() {
	t := suite.T()
	suite.store.Seed("src", seedItems("Saumon", "Riz", "Citron"))

	res, err := suite.engine.TransferBasket(t.Context(), "src", "dst", unavailable("Saumon"))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Added)
	assert.Equal(t, []string{"Saumon"}, res.OutOfStock)
	assert.Equal(t, []reconcile.Rejection{{Name: "Saumon", Reason: inventory.ReasonAbsent}}, res.Rejections)

	names := []string{}
	for _, item := range suite.store.GetCart("dst") {
		names = append(names, item.Name)
	}
	assert.Equal(t, []string{"Riz", "Citron"}, names)
}

func (suite *engineSuite) TestTransfer_ProbeFailuresAreAbsorbed() {
	t := suite.T()
	suite.store.Seed("src", seedItems("Saumon", "Riz", "Citron"))

	probe := func(_ context.Context, name string) (bool, error) {
		switch name {
		case "Saumon":
			return false, errors.New("connection reset")
		case "Riz":
			panic("retailer client bug")
		}
		return true, nil
	}

	res, err := suite.engine.TransferBasket(t.Context(), "src", "dst", probe)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Added)
	assert.Equal(t, []string{"Saumon", "Riz"}, res.OutOfStock)
	assert.Equal(t, []reconcile.Rejection{
		{Name: "Saumon", Reason: inventory.ReasonProbeFailed},
		{Name: "Riz", Reason: inventory.ReasonProbeFailed},
	}, res.Rejections)
}

func (suite *engineSuite) TestTransfer_ProbeTimeout() {
	t := suite.T()
	engine := reconcile.New(suite.store, reconcile.Options{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		ProbeTimeout: 20 * time.Millisecond,
	})
	suite.store.Seed("src", seedItems("Saumon", "Riz"))

	probe := func(ctx context.Context, name string) (bool, error) {
		if name != "Saumon" {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(5 * time.Second):
			return true, nil
		}
	}

	res, err := engine.TransferBasket(t.Context(), "src", "dst", probe)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Added)
	assert.Equal(t, []reconcile.Rejection{{Name: "Saumon", Reason: inventory.ReasonProbeFailed}}, res.Rejections)
	assert.False(t, res.Cancelled)
}

func (suite *engineSuite) TestTransfer_EmptySource() {
	t := suite.T()
	suite.store.Seed("dst", seedItems("Lait"))
	before := suite.store.GetCart("dst")

	res, err := suite.engine.TransferBasket(t.Context(), "empty", "dst", allAvailable)

	assert.Nil(t, res)
	require.ErrorIs(t, err, model.ErrEmptySource)
	var empty *model.EmptySourceError
	require.ErrorAs(t, err, &empty)
	assert.Equal(t, "empty", empty.SessionID)

	assert.Equal(t, before, suite.store.GetCart("dst"))
}

func (suite *engineSuite) TestTransfer_RerunIsIdempotent() {
	t := suite.T()
	suite.store.Seed("src", seedItems("Lait", "Pain", "Œufs", "Beurre"))

	first, err := suite.engine.TransferBasket(t.Context(), "src", "dst", allAvailable)
	require.NoError(t, err)
	assert.Equal(t, 4, first.Added)

	second, err := suite.engine.TransferBasket(t.Context(), "src", "dst", allAvailable)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Added)
	assert.Equal(t, 4, second.Duplicates)
	assert.Len(t, suite.store.GetCart("dst"), 4)
}

func (suite *engineSuite) TestTransfer_DuplicateKeepsTargetItem() {
	t := suite.T()
	suite.store.AppendItem("dst", model.CartItem{Name: "2 tomates", Quantity: "2"})
	suite.store.Seed("src", []model.SeedItem{{Name: "500g de tomates fraîches", Quantity: "500g"}})

	res, err := suite.engine.TransferBasket(t.Context(), "src", "dst", allAvailable)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)

	want := []model.CartItem{{Name: "2 tomates", Quantity: "2"}}
	if diff := cmp.Diff(want, suite.store.GetCart("dst"), ignoreAddedAt); diff != "" {
		t.Errorf("target cart mismatch (-want +got):\n%s", diff)
	}
}

func (suite *engineSuite) TestTransfer_SourceIsReadOnly() {
	t := suite.T()
	suite.store.Seed("src", seedItems("Lait", "Pain"))
	before := suite.store.GetCart("src")

	_, err := suite.engine.TransferBasket(t.Context(), "src", "dst", unavailable("Pain"))
	require.NoError(t, err)

	assert.Equal(t, before, suite.store.GetCart("src"))
}

func (suite *engineSuite) TestTransfer_PartitionHolds() {
	t := suite.T()

	for run := 0; run < 20; run++ {
		src := fmt.Sprintf("src-%d", run)
		dst := fmt.Sprintf("dst-%d", run)

		n := gofakeit.IntRange(1, 30)
		names := make([]string, n)
		for i := range names {
			names[i] = gofakeit.Noun()
		}
		suite.store.Seed(src, seedItems(names...))
		suite.store.Seed(dst, seedItems(names[:n/3]...))

		probe := func(context.Context, string) (bool, error) {
			if rand.IntN(4) == 0 {
				return false, nil
			}
			return true, nil
		}

		res, err := suite.engine.TransferBasket(t.Context(), src, dst, probe)
		require.NoError(t, err)
		assert.Equal(t, n, res.Total(), "run %d", run)
		assert.Equal(t, n, len(res.Decisions), "run %d", run)
		assert.Equal(t, 0, res.Unprocessed)
	}
}

func (suite *engineSuite) TestTransfer_CancelledMidRun() {
	t := suite.T()
	suite.store.Seed("src", seedItems("Lait", "Pain", "Beurre"))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	probe := func(ctx context.Context, name string) (bool, error) {
		if name == "Pain" {
			cancel()
			return false, ctx.Err()
		}
		return true, nil
	}

	res, err := suite.engine.TransferBasket(ctx, "src", "dst", probe)
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 2, res.Unprocessed)
	assert.Empty(t, res.OutOfStock, "an interrupted probe is not a rejection")
	assert.Equal(t, 3, res.Total())

	got := suite.store.GetCart("dst")
	require.Len(t, got, 1)
	assert.Equal(t, "Lait", got[0].Name)
}

func (suite *engineSuite) TestTransfer_CancelledBeforeStart() {
	t := suite.T()
	suite.store.Seed("src", seedItems("Lait", "Pain"))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	res, err := suite.engine.TransferBasket(ctx, "src", "dst", allAvailable)
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	assert.Equal(t, 2, res.Unprocessed)
	assert.Equal(t, 1, suite.store.Sessions(), "only the source session may exist")
}

func (suite *engineSuite) TestPreview_DoesNotMutate() {
	t := suite.T()
	suite.store.Seed("src", seedItems("Tomate", "tomates fraîches", "Saumon", "Lait"))
	suite.store.Seed("dst", seedItems("Lait"))
	before := suite.store.GetCart("dst")

	preview, err := suite.engine.Preview(t.Context(), "src", "dst", unavailable("Saumon"))
	require.NoError(t, err)
	assert.True(t, preview.DryRun)
	assert.Equal(t, before, suite.store.GetCart("dst"))

	actual, err := suite.engine.TransferBasket(t.Context(), "src", "dst", unavailable("Saumon"))
	require.NoError(t, err)

	if diff := cmp.Diff(preview, actual, cmpopts.IgnoreFields(reconcile.Result{}, "DryRun")); diff != "" {
		t.Errorf("preview differs from transfer (-preview +actual):\n%s", diff)
	}
	assert.Equal(t, 1, actual.Added)
	assert.Equal(t, 2, actual.Duplicates)
}

func (suite *engineSuite) TestTransfer_ConcurrentSameTarget() {
	t := suite.T()

	const sources = 10
	for i := 0; i < sources; i++ {
		suite.store.Seed(fmt.Sprintf("src-%d", i), []model.SeedItem{
			{Name: fmt.Sprintf("%d tomates", i+1)},
			{Name: "Lait"},
		})
	}

	var wg sync.WaitGroup
	results := make([]*reconcile.Result, sources)
	for i := 0; i < sources; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := suite.engine.TransferBasket(context.Background(), fmt.Sprintf("src-%d", i), "shared", allAvailable)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	added := 0
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, 2, res.Total())
		added += res.Added
	}
	assert.Equal(t, 2, added)
	assert.Len(t, suite.store.GetCart("shared"), 2)
}

// Disjoint targets must not interfere: running two transfers concurrently
// gives the same carts as running them one after the other.
func TestTransfer_ConcurrentSessionsIndependent(t *testing.T) {
	run := func(concurrent bool) (*cart.Store, []*reconcile.Result) {
		store := cart.New(normalize.Default())
		store.Seed("src-a", seedItems("Tomate", "Lait", "tomates"))
		store.Seed("src-b", seedItems("Pain", "Beurre", "Saumon"))
		engine := reconcile.New(store, reconcile.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

		probe := unavailable("Saumon")
		results := make([]*reconcile.Result, 2)
		transfer := func(i int, src, dst string) {
			res, err := engine.TransferBasket(context.Background(), src, dst, probe)
			require.NoError(t, err)
			results[i] = res
		}

		if concurrent {
			var wg sync.WaitGroup
			wg.Add(2)
			go func() { defer wg.Done(); transfer(0, "src-a", "dst-a") }()
			go func() { defer wg.Done(); transfer(1, "src-b", "dst-b") }()
			wg.Wait()
		} else {
			transfer(0, "src-a", "dst-a")
			transfer(1, "src-b", "dst-b")
		}
		return store, results
	}

	seqStore, seqResults := run(false)
	conStore, conResults := run(true)

	if diff := cmp.Diff(seqResults, conResults); diff != "" {
		t.Errorf("results differ (-sequential +concurrent):\n%s", diff)
	}
	for _, id := range []string{"dst-a", "dst-b"} {
		if diff := cmp.Diff(seqStore.GetCart(id), conStore.GetCart(id), ignoreAddedAt); diff != "" {
			t.Errorf("%s differs (-sequential +concurrent):\n%s", id, diff)
		}
	}
}

// Parallel probing must give the same result as probing one at a time,
// whatever order the probes finish in.
func TestTransfer_ParallelProbesMatchSequential(t *testing.T) {
	names := []string{
		"Tomate", "Saumon", "Lait", "tomates fraîches", "Pain", "2 tomates",
		"Riz", "Citron", "Beurre", "lait demi-écrémé", "Œufs", "6 oeufs",
	}
	probe := func(_ context.Context, name string) (bool, error) {
		time.Sleep(time.Duration(rand.IntN(5)) * time.Millisecond)
		if name == "Saumon" || name == "Citron" {
			return false, nil
		}
		return true, nil
	}

	transfer := func(concurrency int) ([]model.CartItem, *reconcile.Result) {
		store := cart.New(normalize.Default())
		store.Seed("src", seedItems(names...))
		engine := reconcile.New(store, reconcile.Options{
			Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
			ProbeConcurrency: concurrency,
		})
		res, err := engine.TransferBasket(context.Background(), "src", "dst", probe)
		require.NoError(t, err)
		return store.GetCart("dst"), res
	}

	seqCart, seqRes := transfer(1)
	for i := 0; i < 5; i++ {
		parCart, parRes := transfer(8)
		if diff := cmp.Diff(seqRes, parRes); diff != "" {
			t.Fatalf("result differs (-sequential +parallel):\n%s", diff)
		}
		if diff := cmp.Diff(seqCart, parCart, ignoreAddedAt); diff != "" {
			t.Fatalf("target differs (-sequential +parallel):\n%s", diff)
		}
	}

	assert.Equal(t, 6, seqRes.Added)
	assert.Equal(t, 4, seqRes.Duplicates)
	assert.Equal(t, []string{"Saumon", "Citron"}, seqRes.OutOfStock)
}
