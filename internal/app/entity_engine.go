package app

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
	"whalewatch/config"
	"whalewatch/model"

	"go.uber.org/zap"
)

// Edge signal kinds. Each carries its own base weight and cap.
const (
	signalSharedFunder  = "shared_funder"
	signalTimeCoupled   = "time_coupled"
	signalMarketOverlap = "market_overlap"
)

const (
	sharedFunderBase = 0.90
	sharedFunderCap  = 1.50
	timeCoupledBase  = 0.18
	timeCoupledCap   = 1.20
	marketOverlapBase = 0.40
	marketOverlapCap  = 1.00
)

// compactEpsilon is the decayed weight below which an edge is dropped
// during rebuild.
const compactEpsilon = 0.01

// Entity is a materialized set of wallets linked by strong edges.
type Entity struct {
	ID         string    `json:"id"`
	Wallets    []string  `json:"wallets"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Reason     string    `json:"reason"`
}

type edgeState struct {
	evidence    map[string]float64
	counts      map[string]int
	lastUpdated time.Time
}

func (e *edgeState) total() float64 {
	t := 0.0
	for _, w := range e.evidence {
		t += w
	}
	return t
}

type traderVisit struct {
	wallet int
	ts     time.Time
}

// EntityEngine maintains the multi-signal weighted wallet graph and the
// Union-Find materialization of entities with stable ids.
type EntityEngine struct {
	logger *zap.Logger
	stats  *MarketStatsStore

	mu sync.Mutex

	// Wallets interned to integer indices; edges keyed by ordered pair.
	indexOf map[string]int
	names   []string
	edges   map[[2]int]*edgeState

	// Recent traders per market for time coupling, pruned to coordWindow.
	recentByMarket map[string][]traderVisit

	// Per-wallet recent market sets for overlap, pruned to lookback.
	walletMarkets map[int]map[string]time.Time
	marketWallets map[string]map[int]time.Time

	funderOf map[string]string
	byFunder map[string][]string

	entities     map[string]*Entity
	walletEntity map[string]string
	nextEntityID int
	lastRebuild  time.Time
	dirty        bool

	edgeThreshold     float64
	halflife          time.Duration
	coordWindow       time.Duration
	rebuildInterval   time.Duration
	overlapMinCommon  int
	overlapLookback   time.Duration
	overlapMinJaccard float64
	saturationK       float64
	volumeBaseline    float64
}

func NewEntityEngine(logger *zap.Logger, cfg *config.Config, stats *MarketStatsStore) *EntityEngine {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &EntityEngine{
		logger:         logger,
		stats:          stats,
		indexOf:        make(map[string]int),
		edges:          make(map[[2]int]*edgeState),
		recentByMarket: make(map[string][]traderVisit),
		walletMarkets:  make(map[int]map[string]time.Time),
		marketWallets:  make(map[string]map[int]time.Time),
		funderOf:       make(map[string]string),
		byFunder:       make(map[string][]string),
		entities:       make(map[string]*Entity),
		walletEntity:   make(map[string]string),
	}
	e.applyConfig(cfg)
	return e
}

// UpdateConfig refreshes tunables from a new config.
func (e *EntityEngine) UpdateConfig(cfg *config.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyConfig(cfg)
}

func (e *EntityEngine) applyConfig(cfg *config.Config) {
	e.edgeThreshold = cfg.Entity.EdgeThreshold
	e.halflife = cfg.Entity.EdgeHalflife
	e.coordWindow = cfg.Entity.CoordWindow
	e.rebuildInterval = cfg.Entity.RebuildInterval
	e.overlapMinCommon = cfg.Entity.OverlapMinCommonMarkets
	e.overlapLookback = cfg.Entity.OverlapLookback
	e.overlapMinJaccard = cfg.Entity.OverlapJaccardThreshold
	e.saturationK = cfg.Entity.SaturationK
	e.volumeBaseline = cfg.Entity.MarketVolumeBaseline
}

func (e *EntityEngine) intern(wallet string) int {
	if idx, ok := e.indexOf[wallet]; ok {
		return idx
	}
	idx := len(e.names)
	e.indexOf[wallet] = idx
	e.names = append(e.names, wallet)
	return idx
}

func edgeKey(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

// marketScale suppresses edge weight on liquid markets.
func (e *EntityEngine) marketScale(marketID string, now time.Time) float64 {
	vol := 0.0
	if e.stats != nil {
		vol = e.stats.HourlyVolume(marketID, now)
	}
	scale := (1 / (1 + math.Log10(1+vol/e.volumeBaseline))) / 0.77
	return clamp(scale, 0.35, 1.25)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// decay applies the half-life decay in place and returns the edge's total.
func (e *EntityEngine) decay(edge *edgeState, now time.Time) float64 {
	dt := now.Sub(edge.lastUpdated).Seconds()
	if dt > 0 {
		factor := math.Pow(0.5, dt/e.halflife.Seconds())
		for k := range edge.evidence {
			edge.evidence[k] *= factor
		}
		edge.lastUpdated = now
	}
	return edge.total()
}

// addSignal folds one sample of a signal into the pair's edge, applying
// decay, saturation, and the per-signal cap.
func (e *EntityEngine) addSignal(a, b int, signal string, base, cap float64, now time.Time) {
	if a == b {
		return
	}
	key := edgeKey(a, b)

	edge, ok := e.edges[key]
	if !ok {
		edge = &edgeState{
			evidence:    make(map[string]float64),
			counts:      make(map[string]int),
			lastUpdated: now,
		}
		e.edges[key] = edge
	}

	e.decay(edge, now)

	prev := edge.counts[signal]
	contribution := base / (1 + e.saturationK*float64(prev))
	w := edge.evidence[signal] + contribution
	if w > cap {
		w = cap
	}
	edge.evidence[signal] = w
	edge.counts[signal] = prev + 1
	edge.lastUpdated = now

	if edge.total() >= e.edgeThreshold {
		e.dirty = true
	}
}

// SetWalletFunder registers a wallet's funding wallet and links it to
// every other wallet sharing that funder.
func (e *EntityEngine) SetWalletFunder(wallet, funder string) {
	if wallet == "" || funder == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.funderOf[wallet] == funder {
		return
	}
	e.funderOf[wallet] = funder

	now := time.Now()
	idx := e.intern(wallet)
	for _, peer := range e.byFunder[funder] {
		if peer == wallet {
			continue
		}
		e.addSignal(idx, e.intern(peer), signalSharedFunder, sharedFunderBase, sharedFunderCap, now)
	}
	e.byFunder[funder] = append(e.byFunder[funder], wallet)
}

// RecordTrade feeds a trade into the graph: time coupling against recent
// traders of the same market, and market-overlap similarity against peers.
func (e *EntityEngine) RecordTrade(trade model.Trade) {
	if trade.Anonymous() || trade.MarketID == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := trade.Timestamp
	idx := e.intern(trade.TraderID)

	e.recordTimeCoupling(idx, trade.MarketID, now)
	e.recordMarketOverlap(idx, trade.MarketID, now)
}

func (e *EntityEngine) recordTimeCoupling(idx int, marketID string, now time.Time) {
	visits := e.recentByMarket[marketID]

	// Prune outside the coordination window
	cutoff := now.Add(-e.coordWindow)
	keep := visits[:0]
	for _, v := range visits {
		if !v.ts.Before(cutoff) {
			keep = append(keep, v)
		}
	}

	scale := e.marketScale(marketID, now)
	base := timeCoupledBase * scale

	linked := make(map[int]struct{})
	for _, v := range keep {
		if v.wallet == idx {
			continue
		}
		if _, done := linked[v.wallet]; done {
			continue
		}
		linked[v.wallet] = struct{}{}
		e.addSignal(idx, v.wallet, signalTimeCoupled, base, timeCoupledCap, now)
	}

	e.recentByMarket[marketID] = append(keep, traderVisit{wallet: idx, ts: now})
}

func (e *EntityEngine) recordMarketOverlap(idx int, marketID string, now time.Time) {
	markets, ok := e.walletMarkets[idx]
	if !ok {
		markets = make(map[string]time.Time)
		e.walletMarkets[idx] = markets
	}
	markets[marketID] = now

	wallets, ok := e.marketWallets[marketID]
	if !ok {
		wallets = make(map[int]time.Time)
		e.marketWallets[marketID] = wallets
	}
	wallets[idx] = now

	cutoff := now.Add(-e.overlapLookback)
	for m, ts := range markets {
		if ts.Before(cutoff) {
			delete(markets, m)
			if mw, ok := e.marketWallets[m]; ok {
				if wts, ok := mw[idx]; ok && wts.Before(cutoff) {
					delete(mw, idx)
				}
			}
		}
	}

	if len(markets) < e.overlapMinCommon {
		return
	}

	// Candidate peers share at least one recent market
	common := make(map[int]int)
	for m := range markets {
		for peer, ts := range e.marketWallets[m] {
			if peer == idx || ts.Before(cutoff) {
				continue
			}
			common[peer]++
		}
	}

	scale := e.marketScale(marketID, now)
	for peer, shared := range common {
		if shared < e.overlapMinCommon {
			continue
		}
		peerMarkets := e.walletMarkets[peer]
		union := len(markets) + len(peerMarkets) - shared
		if union <= 0 {
			continue
		}
		jaccard := float64(shared) / float64(union)
		if jaccard < e.overlapMinJaccard {
			continue
		}
		base := marketOverlapBase * math.Min(1, jaccard/0.6) * scale
		e.addSignal(idx, peer, signalMarketOverlap, base, marketOverlapCap, now)
	}
}

// EdgeWeight returns the decayed total weight between two wallets at now,
// without mutating the stored edge.
func (e *EntityEngine) EdgeWeight(a, b string, now time.Time) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	ia, ok := e.indexOf[a]
	if !ok {
		return 0
	}
	ib, ok := e.indexOf[b]
	if !ok {
		return 0
	}
	edge, ok := e.edges[edgeKey(ia, ib)]
	if !ok {
		return 0
	}

	dt := now.Sub(edge.lastUpdated).Seconds()
	factor := 1.0
	if dt > 0 {
		factor = math.Pow(0.5, dt/e.halflife.Seconds())
	}
	return edge.total() * factor
}

// MaybeRebuild rebuilds entities if edges changed and the minimum rebuild
// interval has elapsed. Returns true when a rebuild ran.
func (e *EntityEngine) MaybeRebuild(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.dirty {
		return false
	}
	if !e.lastRebuild.IsZero() && now.Sub(e.lastRebuild) < e.rebuildInterval {
		return false
	}
	e.rebuildLocked(now)
	return true
}

// Rebuild forces an entity materialization regardless of interval.
func (e *EntityEngine) Rebuild(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rebuildLocked(now)
}

// unionFind with union by rank and path compression.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}

func (e *EntityEngine) rebuildLocked(now time.Time) {
	uf := newUnionFind(len(e.names))

	for key, edge := range e.edges {
		w := e.decay(edge, now)
		if w < compactEpsilon {
			// Opportunistic compaction of dead edges
			delete(e.edges, key)
			continue
		}
		if w >= e.edgeThreshold {
			uf.union(key[0], key[1])
		}
	}

	// Collect components with >= 2 wallets
	components := make(map[int][]string)
	for idx, name := range e.names {
		root := uf.find(idx)
		components[root] = append(components[root], name)
	}

	type component struct {
		wallets []string
	}
	var comps []component
	for _, wallets := range components {
		if len(wallets) < 2 {
			continue
		}
		sort.Strings(wallets)
		comps = append(comps, component{wallets: wallets})
	}
	// Deterministic processing order for stable id assignment
	sort.Slice(comps, func(i, j int) bool {
		return comps[i].wallets[0] < comps[j].wallets[0]
	})

	prior := e.entities
	used := make(map[string]struct{})
	next := make(map[string]*Entity, len(comps))
	walletEntity := make(map[string]string)

	for _, c := range comps {
		id, createdAt := e.inheritID(c.wallets, prior, used, now)

		entity := &Entity{
			ID:         id,
			Wallets:    c.wallets,
			Confidence: math.Min(0.50+0.10*float64(len(c.wallets)-2), 0.95),
			CreatedAt:  createdAt,
			UpdatedAt:  now,
			Reason:     "linked wallets",
		}
		next[id] = entity
		for _, w := range c.wallets {
			walletEntity[w] = id
		}
	}

	e.entities = next
	e.walletEntity = walletEntity
	e.lastRebuild = now
	e.dirty = false

	e.logger.Debug("rebuilt entities",
		zap.Int("entities", len(next)),
		zap.Int("edges", len(e.edges)),
	)
}

// inheritID picks the prior entity sharing the most wallets with the
// component; ties break on the alphabetically smallest entity id. A fresh
// sequential id is minted when nothing overlaps.
func (e *EntityEngine) inheritID(wallets []string, prior map[string]*Entity, used map[string]struct{}, now time.Time) (string, time.Time) {
	inSet := make(map[string]struct{}, len(wallets))
	for _, w := range wallets {
		inSet[w] = struct{}{}
	}

	bestID := ""
	bestOverlap := 0
	for id, ent := range prior {
		if _, taken := used[id]; taken {
			continue
		}
		overlap := 0
		for _, w := range ent.Wallets {
			if _, ok := inSet[w]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		if overlap > bestOverlap || (overlap == bestOverlap && id < bestID) {
			bestOverlap = overlap
			bestID = id
		}
	}

	if bestID != "" {
		used[bestID] = struct{}{}
		return bestID, prior[bestID].CreatedAt
	}

	e.nextEntityID++
	return fmt.Sprintf("ent_%06d", e.nextEntityID), now
}

// EntityFor returns the entity containing the wallet, or nil.
func (e *EntityEngine) EntityFor(wallet string) *Entity {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.walletEntity[wallet]
	if !ok {
		return nil
	}
	return copyEntity(e.entities[id])
}

// Entities returns a snapshot of all current entities.
func (e *EntityEngine) Entities() []*Entity {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Entity, 0, len(e.entities))
	for _, ent := range e.entities {
		out = append(out, copyEntity(ent))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EdgeCount returns the number of live edges.
func (e *EntityEngine) EdgeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.edges)
}

func copyEntity(ent *Entity) *Entity {
	if ent == nil {
		return nil
	}
	cp := *ent
	cp.Wallets = append([]string(nil), ent.Wallets...)
	return &cp
}

// edgeRecord is the serialized form of one edge, keyed by wallet names so
// interned indices never leak into the cache.
type edgeRecord struct {
	A           string             `json:"a"`
	B           string             `json:"b"`
	Evidence    map[string]float64 `json:"evidence"`
	Counts      map[string]int     `json:"counts"`
	LastUpdated time.Time          `json:"last_updated"`
}

// entitySnapshot is the serialized form of the engine's durable pieces.
type entitySnapshot struct {
	Version      int                `json:"version"`
	Timestamp    time.Time          `json:"timestamp"`
	Entities     map[string]*Entity `json:"entities"`
	Edges        []edgeRecord       `json:"edges,omitempty"`
	NextEntityID int                `json:"next_entity_id"`
	Funders      map[string]string  `json:"funders,omitempty"`
}

// ExportJSON serializes entities, edges, and id state for cache
// persistence.
func (e *EntityEngine) ExportJSON() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entities := make(map[string]*Entity, len(e.entities))
	for id, ent := range e.entities {
		entities[id] = copyEntity(ent)
	}

	edges := make([]edgeRecord, 0, len(e.edges))
	for key, edge := range e.edges {
		evidence := make(map[string]float64, len(edge.evidence))
		for k, v := range edge.evidence {
			evidence[k] = v
		}
		counts := make(map[string]int, len(edge.counts))
		for k, v := range edge.counts {
			counts[k] = v
		}
		edges = append(edges, edgeRecord{
			A:           e.names[key[0]],
			B:           e.names[key[1]],
			Evidence:    evidence,
			Counts:      counts,
			LastUpdated: edge.lastUpdated,
		})
	}

	return json.Marshal(&entitySnapshot{
		Version:      1,
		Timestamp:    time.Now(),
		Entities:     entities,
		Edges:        edges,
		NextEntityID: e.nextEntityID,
		Funders:      e.funderOf,
	})
}

// ImportJSON restores persisted entities so ids stay stable across
// restarts. Returns the number of entities restored.
func (e *EntityEngine) ImportJSON(data []byte) (int, error) {
	var snapshot entitySnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for id, ent := range snapshot.Entities {
		e.entities[id] = ent
		for _, w := range ent.Wallets {
			e.walletEntity[w] = id
			e.intern(w)
		}
	}
	for _, rec := range snapshot.Edges {
		if rec.A == "" || rec.B == "" || len(rec.Evidence) == 0 {
			continue
		}
		key := edgeKey(e.intern(rec.A), e.intern(rec.B))
		if _, exists := e.edges[key]; exists {
			continue
		}
		evidence := make(map[string]float64, len(rec.Evidence))
		for k, v := range rec.Evidence {
			evidence[k] = v
		}
		counts := make(map[string]int, len(rec.Counts))
		for k, v := range rec.Counts {
			counts[k] = v
		}
		e.edges[key] = &edgeState{
			evidence:    evidence,
			counts:      counts,
			lastUpdated: rec.LastUpdated,
		}
	}
	if len(snapshot.Edges) > 0 {
		e.dirty = true
	}
	if snapshot.NextEntityID > e.nextEntityID {
		e.nextEntityID = snapshot.NextEntityID
	}
	for wallet, funder := range snapshot.Funders {
		if e.funderOf[wallet] == "" {
			e.funderOf[wallet] = funder
			e.byFunder[funder] = append(e.byFunder[funder], wallet)
		}
	}

	e.logger.Info("imported entities",
		zap.Int("entities", len(snapshot.Entities)),
		zap.Time("snapshotTime", snapshot.Timestamp),
	)
	return len(snapshot.Entities), nil
}
