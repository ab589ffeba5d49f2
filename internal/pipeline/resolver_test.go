package pipeline

import (
	"context"
	"testing"

	"signalrelay/internal/models"
)

func testSnapshot() Snapshot {
	return Snapshot{
		EnabledPairs:    map[string]bool{"BTCUSDT": true, "ETHUSDT": true},
		MutedSymbols:    map[string]bool{},
		MutedTimeframes: map[string]bool{},
		SymbolRoutes:    map[string]string{},
		TimeframeRoutes: map[string]string{},
		DefaultChat:     "-100default",
	}
}

func TestResolve_DefaultRoute(t *testing.T) {
	sig := &models.Signal{Symbol: "BTCUSDT", Timeframe: "1h"}
	chatID, drop := Resolve(sig, testSnapshot())
	if drop != "" || chatID != "-100default" {
		t.Fatalf("chat=%s drop=%s want default chat", chatID, drop)
	}
}

func TestResolve_SymbolRouteBeatsTimeframeRoute(t *testing.T) {
	snap := testSnapshot()
	snap.SymbolRoutes["BTCUSDT"] = "-100sym"
	snap.TimeframeRoutes["1h"] = "-100tf"
	sig := &models.Signal{Symbol: "BTCUSDT", Timeframe: "1h"}
	chatID, drop := Resolve(sig, snap)
	if drop != "" || chatID != "-100sym" {
		t.Fatalf("chat=%s drop=%s want symbol route", chatID, drop)
	}
}

func TestResolve_TimeframeRouteBeatsDefault(t *testing.T) {
	snap := testSnapshot()
	snap.TimeframeRoutes["1h"] = "-100tf"
	sig := &models.Signal{Symbol: "BTCUSDT", Timeframe: "1h"}
	chatID, drop := Resolve(sig, snap)
	if drop != "" || chatID != "-100tf" {
		t.Fatalf("chat=%s drop=%s want timeframe route", chatID, drop)
	}
}

func TestResolve_DisabledPairDropsBeforeRouting(t *testing.T) {
	snap := testSnapshot()
	snap.SymbolRoutes["ADAUSDT"] = "-100sym"
	sig := &models.Signal{Symbol: "ADAUSDT", Timeframe: "1h"}
	chatID, drop := Resolve(sig, snap)
	if chatID != "" || drop != DropPairDisabled {
		t.Fatalf("chat=%s drop=%s want %s", chatID, drop, DropPairDisabled)
	}
}

func TestResolve_MutedSymbolDrops(t *testing.T) {
	snap := testSnapshot()
	snap.MutedSymbols["BTCUSDT"] = true
	snap.SymbolRoutes["BTCUSDT"] = "-100sym"
	sig := &models.Signal{Symbol: "BTCUSDT", Timeframe: "1h"}
	chatID, drop := Resolve(sig, snap)
	if chatID != "" || drop != DropMuted {
		t.Fatalf("chat=%s drop=%s want %s", chatID, drop, DropMuted)
	}
}

func TestResolve_MutedTimeframeDrops(t *testing.T) {
	snap := testSnapshot()
	snap.MutedTimeframes["5m"] = true
	sig := &models.Signal{Symbol: "ETHUSDT", Timeframe: "5m"}
	chatID, drop := Resolve(sig, snap)
	if chatID != "" || drop != DropMuted {
		t.Fatalf("chat=%s drop=%s want %s", chatID, drop, DropMuted)
	}
}

func TestResolve_NoDestinationDrops(t *testing.T) {
	snap := testSnapshot()
	snap.DefaultChat = ""
	sig := &models.Signal{Symbol: "BTCUSDT", Timeframe: "1h"}
	chatID, drop := Resolve(sig, snap)
	if chatID != "" || drop != DropNoDestination {
		t.Fatalf("chat=%s drop=%s want %s", chatID, drop, DropNoDestination)
	}
}

type stubRoutingStore struct {
	pairs  []models.CoinPair
	mutes  []models.Mute
	routes []models.Route
}

func (s *stubRoutingStore) ListCoinPairs(ctx context.Context, enabledOnly bool) ([]models.CoinPair, error) {
	return s.pairs, nil
}

func (s *stubRoutingStore) ListActiveMutes(ctx context.Context) ([]models.Mute, error) {
	return s.mutes, nil
}

func (s *stubRoutingStore) ListRoutes(ctx context.Context) ([]models.Route, error) {
	return s.routes, nil
}

func TestSnapshotLoader_StoreOverlaysConfig(t *testing.T) {
	store := &stubRoutingStore{
		pairs: []models.CoinPair{{Symbol: "BTCUSDT", Enabled: true}},
		mutes: []models.Mute{{Key: "5m", Kind: models.MuteKindTimeframe, Active: true}},
		routes: []models.Route{
			{Kind: models.RouteKindSymbol, Key: "BTCUSDT", Destination: "-100db"},
			{Kind: models.RouteKindDefault, Destination: "-100dbdefault"},
		},
	}
	loader := &SnapshotLoader{
		Store:        store,
		SymbolRoutes: map[string]string{"BTCUSDT": "-100cfg", "ETHUSDT": "-100eth"},
		DefaultChat:  "-100cfgdefault",
	}

	snap, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.SymbolRoutes["BTCUSDT"] != "-100db" {
		t.Fatalf("db route should win over config, got %s", snap.SymbolRoutes["BTCUSDT"])
	}
	if snap.SymbolRoutes["ETHUSDT"] != "-100eth" {
		t.Fatalf("config route without db override should survive, got %s", snap.SymbolRoutes["ETHUSDT"])
	}
	if snap.DefaultChat != "-100dbdefault" {
		t.Fatalf("db default route should win, got %s", snap.DefaultChat)
	}
	if !snap.MutedTimeframes["5m"] {
		t.Fatalf("timeframe mute missing from snapshot")
	}
	if !snap.EnabledPairs["BTCUSDT"] {
		t.Fatalf("enabled pair missing from snapshot")
	}
}

func TestSnapshotLoader_VersionAdvances(t *testing.T) {
	loader := &SnapshotLoader{Store: &stubRoutingStore{}}
	first, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Version <= first.Version {
		t.Fatalf("version did not advance: %d -> %d", first.Version, second.Version)
	}
}
