package pipeline

import (
	"context"
	"sync/atomic"

	"signalrelay/internal/models"
)

// Drop reasons recorded on signals the resolver refuses to route.
const (
	DropPairDisabled  = "pair_disabled"
	DropMuted         = "muted"
	DropNoDestination = "no_destination"
)

// Snapshot is an immutable view of routing state used for exactly one
// resolution. Operator mutations are picked up by the next Load, never by a
// decision already in flight.
type Snapshot struct {
	Version         int64
	EnabledPairs    map[string]bool
	MutedSymbols    map[string]bool
	MutedTimeframes map[string]bool
	SymbolRoutes    map[string]string
	TimeframeRoutes map[string]string
	DefaultChat     string
}

// Resolve maps a signal to its destination chat. Priority is a contract
// surface: pair check, then mutes, then symbol route, then timeframe route,
// then default. First match wins.
func Resolve(sig *models.Signal, snap Snapshot) (chatID string, dropReason string) {
	if !snap.EnabledPairs[sig.Symbol] {
		return "", DropPairDisabled
	}
	if snap.MutedSymbols[sig.Symbol] || snap.MutedTimeframes[sig.Timeframe] {
		return "", DropMuted
	}
	if dest, ok := snap.SymbolRoutes[sig.Symbol]; ok && dest != "" {
		return dest, ""
	}
	if dest, ok := snap.TimeframeRoutes[sig.Timeframe]; ok && dest != "" {
		return dest, ""
	}
	if snap.DefaultChat == "" {
		return "", DropNoDestination
	}
	return snap.DefaultChat, ""
}

// RoutingStore is the slice of the repository the snapshot loader reads.
type RoutingStore interface {
	ListCoinPairs(ctx context.Context, enabledOnly bool) ([]models.CoinPair, error)
	ListActiveMutes(ctx context.Context) ([]models.Mute, error)
	ListRoutes(ctx context.Context) ([]models.Route, error)
}

// SnapshotLoader builds versioned routing snapshots. Config-seeded maps form
// the base layer; rows from the store overlay them, so operator changes win
// over deploy-time defaults.
type SnapshotLoader struct {
	Store           RoutingStore
	SymbolRoutes    map[string]string
	TimeframeRoutes map[string]string
	DefaultChat     string

	version atomic.Int64
}

func (l *SnapshotLoader) Load(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Version:         l.version.Add(1),
		EnabledPairs:    map[string]bool{},
		MutedSymbols:    map[string]bool{},
		MutedTimeframes: map[string]bool{},
		SymbolRoutes:    map[string]string{},
		TimeframeRoutes: map[string]string{},
		DefaultChat:     l.DefaultChat,
	}
	for symbol, dest := range l.SymbolRoutes {
		snap.SymbolRoutes[symbol] = dest
	}
	for tf, dest := range l.TimeframeRoutes {
		snap.TimeframeRoutes[tf] = dest
	}

	pairs, err := l.Store.ListCoinPairs(ctx, true)
	if err != nil {
		return Snapshot{}, err
	}
	for _, pair := range pairs {
		snap.EnabledPairs[pair.Symbol] = true
	}

	mutes, err := l.Store.ListActiveMutes(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	for _, mute := range mutes {
		switch mute.Kind {
		case models.MuteKindTimeframe:
			snap.MutedTimeframes[mute.Key] = true
		default:
			snap.MutedSymbols[mute.Key] = true
		}
	}

	routes, err := l.Store.ListRoutes(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	for _, route := range routes {
		switch route.Kind {
		case models.RouteKindSymbol:
			snap.SymbolRoutes[route.Key] = route.Destination
		case models.RouteKindTimeframe:
			snap.TimeframeRoutes[route.Key] = route.Destination
		case models.RouteKindDefault:
			snap.DefaultChat = route.Destination
		}
	}

	return snap, nil
}
