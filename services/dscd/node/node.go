package node

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablevault/config"
	"stablevault/core/events"
	"stablevault/core/state"
	"stablevault/native/dsc"
	"stablevault/native/oracle"
	"stablevault/native/token"
	"stablevault/storage"
)

var (
	genesisKey  = []byte("dscd/genesis")
	pricePrefix = "dscd/price/"

	// ErrUnknownToken is returned when a symbol or address does not name a
	// registered ledger.
	ErrUnknownToken = errors.New("node: unknown token")
	// ErrInvalidPrice is returned for unparsable operator prices.
	ErrInvalidPrice = errors.New("node: invalid price")
)

type priceRecord struct {
	Answer    *big.Int
	UpdatedAt uint64
}

// Options tune a Node.
type Options struct {
	Logger      *slog.Logger
	EventBuffer int
	Clock       func() time.Time
}

type collateral struct {
	spec   config.CollateralSpec
	ledger *token.Ledger
	feed   *oracle.ManualFeed
}

// Node owns the engine, the ledgers it moves and the operator price feeds.
// All access is serialised: the engine itself is single threaded.
type Node struct {
	mu         sync.Mutex
	rt         *config.Runtime
	state      *state.Manager
	engine     *dsc.Engine
	debt       *token.Ledger
	collateral []*collateral
	bySymbol   map[string]*collateral
	byAddress  map[common.Address]*collateral
	recorder   *events.Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// New assembles a node on top of db. Genesis allocations and initial prices
// are applied the first time a database is used; later starts restore the
// last operator prices.
func New(rt *config.Runtime, db storage.Database, opts Options) (*Node, error) {
	if rt == nil {
		return nil, fmt.Errorf("node: runtime configuration required")
	}
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	n := &Node{
		rt:        rt,
		state:     state.NewManager(db),
		bySymbol:  make(map[string]*collateral, len(rt.Collateral)),
		byAddress: make(map[common.Address]*collateral, len(rt.Collateral)),
		recorder:  events.NewRecorder(opts.EventBuffer),
		logger:    logger.With("component", "node"),
		now:       now,
	}
	n.debt = token.NewLedger(n.state, token.Metadata{
		Address:  rt.Debt.Address,
		Symbol:   rt.Debt.Symbol,
		Decimals: rt.Debt.Decimals,
		Owner:    rt.Engine,
	})

	tokens := make([]dsc.CollateralToken, 0, len(rt.Collateral))
	feeds := make([]oracle.Feed, 0, len(rt.Collateral))
	for _, spec := range rt.Collateral {
		c := &collateral{
			spec: spec,
			ledger: token.NewLedger(n.state, token.Metadata{
				Address:  spec.Address,
				Symbol:   spec.Symbol,
				Decimals: spec.Decimals,
				Owner:    rt.Owner,
			}),
			feed: oracle.NewManualFeed(spec.FeedDecimals),
		}
		n.collateral = append(n.collateral, c)
		n.bySymbol[spec.Symbol] = c
		n.byAddress[spec.Address] = c
		tokens = append(tokens, c.ledger.As(rt.Engine))
		feeds = append(feeds, c.feed)
	}

	engine, err := dsc.NewEngine(dsc.Config{
		Address:     rt.Engine,
		Collaterals: tokens,
		PriceFeeds:  feeds,
		DebtToken:   n.debt.As(rt.Engine),
	})
	if err != nil {
		return nil, err
	}
	adapter := oracle.NewAdapter()
	adapter.SetTimeout(rt.OracleTimeout)
	adapter.SetClock(now)
	engine.SetOracle(adapter)
	engine.SetState(n.state)
	engine.SetEmitter(n.recorder)
	engine.SetLogger(logger)
	n.engine = engine

	if err := n.bootstrap(); err != nil {
		n.state.Discard()
		return nil, err
	}
	return n, nil
}

func (n *Node) bootstrap() error {
	var applied bool
	if _, err := n.state.KVGet(genesisKey, &applied); err != nil {
		return fmt.Errorf("node: read genesis marker: %w", err)
	}
	if !applied {
		return n.applyGenesis()
	}
	for _, c := range n.collateral {
		var rec priceRecord
		ok, err := n.state.KVGet(priceKey(c.spec.Symbol), &rec)
		if err != nil {
			return fmt.Errorf("node: restore %s price: %w", c.spec.Symbol, err)
		}
		if ok && rec.Answer != nil {
			c.apply(rec)
		}
	}
	return nil
}

func (n *Node) applyGenesis() error {
	prices := make([]priceRecord, len(n.collateral))
	for i, c := range n.collateral {
		rec, err := n.setPrice(c, c.spec.InitialPrice)
		if err != nil {
			return err
		}
		prices[i] = rec
	}
	for _, alloc := range n.rt.Allocations {
		c := n.bySymbol[alloc.Symbol]
		if c == nil {
			return fmt.Errorf("%w: %s", ErrUnknownToken, alloc.Symbol)
		}
		if err := c.ledger.Mint(n.rt.Owner, alloc.Account, alloc.Amount); err != nil {
			return fmt.Errorf("node: genesis allocation %s to %s: %w", alloc.Symbol, alloc.Account.Hex(), err)
		}
	}
	if err := n.state.KVPut(genesisKey, true); err != nil {
		return err
	}
	if err := n.state.Commit(); err != nil {
		return fmt.Errorf("node: commit genesis: %w", err)
	}
	for i, c := range n.collateral {
		c.apply(prices[i])
	}
	n.logger.Info("genesis applied", "allocations", len(n.rt.Allocations), "collateral", len(n.collateral))
	return nil
}

func priceKey(symbol string) []byte {
	return []byte(pricePrefix + symbol)
}

// setPrice stages the price record. Callers commit and then apply the
// returned record to the feed.
func (n *Node) setPrice(c *collateral, price string) (priceRecord, error) {
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(price))
	if !ok {
		return priceRecord{}, fmt.Errorf("%w: %q", ErrInvalidPrice, price)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.spec.FeedDecimals)), nil)
	answer := new(big.Int).Mul(rat.Num(), scale)
	answer.Quo(answer, rat.Denom())
	if answer.Sign() <= 0 {
		return priceRecord{}, fmt.Errorf("%w: %q is not positive at %d decimals", ErrInvalidPrice, price, c.spec.FeedDecimals)
	}
	rec := priceRecord{Answer: answer, UpdatedAt: uint64(n.now().UTC().Unix())}
	if err := n.state.KVPut(priceKey(c.spec.Symbol), rec); err != nil {
		return priceRecord{}, err
	}
	return rec, nil
}

func (c *collateral) apply(rec priceRecord) {
	c.feed.SetAnswer(rec.Answer, time.Unix(int64(rec.UpdatedAt), 0).UTC())
}

// resolve finds a collateral entry by symbol or hex address.
func (n *Node) resolve(id string) (*collateral, error) {
	id = strings.TrimSpace(id)
	if common.IsHexAddress(id) {
		if c, ok := n.byAddress[common.HexToAddress(id)]; ok {
			return c, nil
		}
	} else if c, ok := n.bySymbol[strings.ToUpper(id)]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownToken, id)
}

// ledger resolves any token the node tracks, including the debt token.
func (n *Node) ledger(id string) (*token.Ledger, error) {
	trimmed := strings.TrimSpace(id)
	if strings.EqualFold(trimmed, n.debt.Symbol()) {
		return n.debt, nil
	}
	if common.IsHexAddress(trimmed) && common.HexToAddress(trimmed) == n.debt.Address() {
		return n.debt, nil
	}
	c, err := n.resolve(trimmed)
	if err != nil {
		return nil, err
	}
	return c.ledger, nil
}

// Engine exposes the underlying engine for read-only inspection in tests.
func (n *Node) Engine() *dsc.Engine { return n.engine }

// Events returns the retained engine events, oldest first.
func (n *Node) Events() []events.Event { return n.recorder.Events() }

// Approve lets the engine pull amount of the named token from owner.
func (n *Node) Approve(owner common.Address, tokenID string, amount *uint256.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	ledger, err := n.ledger(tokenID)
	if err != nil {
		return err
	}
	if err := ledger.Approve(owner, n.rt.Engine, amount); err != nil {
		n.state.Discard()
		return err
	}
	if err := n.state.Commit(); err != nil {
		n.state.Discard()
		return err
	}
	return nil
}

// SetPrice records an operator price for the named collateral.
func (n *Node) SetPrice(tokenID, price string) (oracle.RoundData, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, err := n.resolve(tokenID)
	if err != nil {
		return oracle.RoundData{}, err
	}
	rec, err := n.setPrice(c, price)
	if err != nil {
		n.state.Discard()
		return oracle.RoundData{}, err
	}
	if err := n.state.Commit(); err != nil {
		n.state.Discard()
		return oracle.RoundData{}, err
	}
	c.apply(rec)
	n.logger.Info("price updated", "token", c.spec.Symbol, "price", price)
	return c.feed.LatestRoundData()
}
