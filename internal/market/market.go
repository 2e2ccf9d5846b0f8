// Package market is the prediction settlement engine. It escrows stakes in
// its own ledger account, accepts the creator's resolution, lets participants
// contest it during a cooldown and finally pays winners or refunds everyone.
package market

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
	"github.com/alanyoungcy/creatormarket/internal/ledger"
)

const (
	DefaultCooldownDuration       = 600 * time.Second
	MinCooldownDuration           = 60 * time.Second
	DefaultReportThresholdPercent = 7
	DefaultMinReports             = 5
	MaxReportThresholdPercent     = 50
	MaxCreatorFeePercent          = 10
)

// Registry is the subset of the creator registry the market relies on.
type Registry interface {
	Ledger(addr common.Address) (*ledger.Ledger, error)
	LedgerOf(creator common.Address) (*ledger.Ledger, error)
	IsCreatorActive(creator common.Address) bool
	HasCapability(operator, ledger common.Address) bool
	BanOnReport(caller, creator common.Address, reason string) error
}

// Config configures a Market.
type Config struct {
	Admin                  common.Address
	Address                common.Address
	CooldownDuration       time.Duration
	ReportThresholdPercent uint64
	MinReports             int
}

// Settings are the administrator-adjustable parameters.
type Settings struct {
	CooldownDuration       time.Duration
	ReportThresholdPercent uint64
	MinReports             int
}

type bet struct {
	option  int
	amount  *uint256.Int
	claimed bool
}

type prediction struct {
	id          uint64
	creator     common.Address
	ledger      common.Address
	title       string
	description string
	options     []string
	staked      []*uint256.Int
	bettors     []int
	createdAt   time.Time
	expiry      time.Time
	feePercent  uint64
	status      domain.PredictionStatus
	winning     int

	cooldownDeadline time.Time
	reporters        map[common.Address]bool

	totalPool *uint256.Int
	bets      map[common.Address][]*bet

	disputeReason  string
	creatorFee     *uint256.Int
	creatorFeePaid bool
}

// Market is safe for concurrent use. One lock serializes every operation;
// it is taken before any ledger or registry lock.
type Market struct {
	mu sync.Mutex

	admin        common.Address
	addr         common.Address
	cooldown     time.Duration
	thresholdPct uint64
	minReports   int

	predictions []*prediction // index id-1

	registry Registry
	emitter  domain.Emitter
	logger   *slog.Logger
	nowFn    func() time.Time
}

// New creates a Market. Zero config values select the defaults.
func New(cfg Config, registry Registry, emitter domain.Emitter, logger *slog.Logger, nowFn func() time.Time) (*Market, error) {
	if cfg.Admin == (common.Address{}) {
		return nil, fmt.Errorf("market: new: admin: %w", domain.ErrZeroAddress)
	}
	if cfg.Address == (common.Address{}) {
		cfg.Address = domain.ComponentAddress("market")
	}
	if cfg.CooldownDuration == 0 {
		cfg.CooldownDuration = DefaultCooldownDuration
	}
	if cfg.ReportThresholdPercent == 0 && cfg.MinReports == 0 {
		cfg.ReportThresholdPercent = DefaultReportThresholdPercent
		cfg.MinReports = DefaultMinReports
	}
	if cfg.CooldownDuration < MinCooldownDuration {
		return nil, fmt.Errorf("market: new: %w", domain.ErrCooldownTooShort)
	}
	if err := validateThreshold(cfg.ReportThresholdPercent, cfg.MinReports); err != nil {
		return nil, fmt.Errorf("market: new: %w", err)
	}
	if emitter == nil {
		emitter = domain.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Market{
		admin:        cfg.Admin,
		addr:         cfg.Address,
		cooldown:     cfg.CooldownDuration,
		thresholdPct: cfg.ReportThresholdPercent,
		minReports:   cfg.MinReports,
		registry:     registry,
		emitter:      emitter,
		logger:       logger.With(slog.String("component", "market")),
		nowFn:        nowFn,
	}, nil
}

func validateThreshold(pct uint64, minReports int) error {
	if pct > MaxReportThresholdPercent || minReports < 1 {
		return domain.ErrInvalidThreshold
	}
	return nil
}

// Address returns the market's escrow account.
func (m *Market) Address() common.Address { return m.addr }

// Settings returns the current adjustable parameters.
func (m *Market) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Settings{
		CooldownDuration:       m.cooldown,
		ReportThresholdPercent: m.thresholdPct,
		MinReports:             m.minReports,
	}
}

// SetCooldownDuration changes the window granted to reporters after future
// resolutions. Administrator only.
func (m *Market) SetCooldownDuration(caller common.Address, d time.Duration) error {
	if caller != m.admin {
		return fmt.Errorf("market: set cooldown: %w", domain.ErrNotAdmin)
	}
	if d < MinCooldownDuration {
		return fmt.Errorf("market: set cooldown %s: %w", d, domain.ErrCooldownTooShort)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldown = d
	m.emitConfigLocked()
	return nil
}

// SetReportThreshold changes the fraud-report quorum. Administrator only.
func (m *Market) SetReportThreshold(caller common.Address, pct uint64, minReports int) error {
	if caller != m.admin {
		return fmt.Errorf("market: set report threshold: %w", domain.ErrNotAdmin)
	}
	if err := validateThreshold(pct, minReports); err != nil {
		return fmt.Errorf("market: set report threshold: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholdPct = pct
	m.minReports = minReports
	m.emitConfigLocked()
	return nil
}

func (m *Market) emitConfigLocked() {
	m.emitter.Emit(domain.EventMarketConfigUpdated, map[string]any{
		"cooldown_seconds":         int64(m.cooldown / time.Second),
		"report_threshold_percent": m.thresholdPct,
		"min_reports":              m.minReports,
	})
}

func (m *Market) getLocked(id uint64) (*prediction, error) {
	if id == 0 || id > uint64(len(m.predictions)) {
		return nil, fmt.Errorf("prediction %d: %w", id, domain.ErrUnknownPrediction)
	}
	return m.predictions[id-1], nil
}

// CreatePrediction opens a new prediction on the caller's ledger. The
// creator must be active and must have granted the market an operator
// capability on that ledger.
func (m *Market) CreatePrediction(caller common.Address, params domain.PredictionParams) (uint64, error) {
	l, err := m.registry.LedgerOf(caller)
	if err != nil {
		return 0, fmt.Errorf("market: create prediction: %w", err)
	}
	if !m.registry.IsCreatorActive(caller) {
		return 0, fmt.Errorf("market: create prediction: %w", domain.ErrCreatorBanned)
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return 0, fmt.Errorf("market: create prediction: %w", domain.ErrInvalidTitle)
	}
	if len(params.Options) < domain.MinOptions || len(params.Options) > domain.MaxOptions {
		return 0, fmt.Errorf("market: create prediction: %w", domain.ErrInvalidOptions)
	}
	options := make([]string, len(params.Options))
	for i, o := range params.Options {
		options[i] = strings.TrimSpace(o)
		if options[i] == "" {
			return 0, fmt.Errorf("market: create prediction: %w", domain.ErrInvalidOptions)
		}
	}
	if params.FeePercent > MaxCreatorFeePercent {
		return 0, fmt.Errorf("market: create prediction: %w", domain.ErrFeeTooHigh)
	}
	if !m.registry.HasCapability(m.addr, l.Address()) {
		return 0, fmt.Errorf("market: create prediction: %w", domain.ErrUnauthorizedOperator)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn().UTC()
	if !params.Expiry.After(now) {
		return 0, fmt.Errorf("market: create prediction: %w", domain.ErrInvalidExpiry)
	}
	p := &prediction{
		id:          uint64(len(m.predictions)) + 1,
		creator:     caller,
		ledger:      l.Address(),
		title:       title,
		description: strings.TrimSpace(params.Description),
		options:     options,
		staked:      make([]*uint256.Int, len(options)),
		bettors:     make([]int, len(options)),
		createdAt:   now,
		expiry:      params.Expiry.UTC(),
		feePercent:  params.FeePercent,
		status:      domain.StatusActive,
		winning:     domain.NoWinner,
		reporters:   make(map[common.Address]bool),
		totalPool:   new(uint256.Int),
		bets:        make(map[common.Address][]*bet),
		creatorFee:  new(uint256.Int),
	}
	for i := range p.staked {
		p.staked[i] = new(uint256.Int)
	}
	m.predictions = append(m.predictions, p)

	m.emitter.Emit(domain.EventPredictionCreated, map[string]any{
		"id":          p.id,
		"creator":     caller.Hex(),
		"ledger":      p.ledger.Hex(),
		"title":       p.title,
		"options":     slices.Clone(options),
		"expiry":      p.expiry.Unix(),
		"fee_percent": p.feePercent,
	})
	return p.id, nil
}

// Close ends betting. The creator may close at any time, anyone else only
// once the expiry has passed.
func (m *Market) Close(caller common.Address, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.getLocked(id)
	if err != nil {
		return fmt.Errorf("market: close: %w", err)
	}
	if p.status != domain.StatusActive {
		return fmt.Errorf("market: close %d: %w", id, domain.ErrWrongStatus)
	}
	now := m.nowFn()
	if caller != p.creator && now.Before(p.expiry) {
		return fmt.Errorf("market: close %d: %w", id, domain.ErrNotExpired)
	}
	p.status = domain.StatusClosed
	m.emitter.Emit(domain.EventPredictionClosed, map[string]any{
		"id":     id,
		"closer": caller.Hex(),
	})
	return nil
}

// PlaceBet escrows amount of the bettor's ledger units on option.
func (m *Market) PlaceBet(bettor common.Address, id uint64, option int, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("market: place bet: %w", domain.ErrZeroAmount)
	}
	if bettor == (common.Address{}) {
		return fmt.Errorf("market: place bet: %w", domain.ErrZeroAddress)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.getLocked(id)
	if err != nil {
		return fmt.Errorf("market: place bet: %w", err)
	}
	if p.status != domain.StatusActive {
		return fmt.Errorf("market: place bet %d: %w", id, domain.ErrWrongStatus)
	}
	if !m.registry.IsCreatorActive(p.creator) {
		return fmt.Errorf("market: place bet %d: %w", id, domain.ErrCreatorBanned)
	}
	if option < 0 || option >= len(p.options) {
		return fmt.Errorf("market: place bet %d: %w", id, domain.ErrInvalidOption)
	}
	l, err := m.registry.Ledger(p.ledger)
	if err != nil {
		return fmt.Errorf("market: place bet %d: %w", id, err)
	}
	if err := l.OperatorTransfer(m.addr, bettor, m.addr, amount); err != nil {
		return fmt.Errorf("market: place bet %d: escrow: %w", id, err)
	}

	first := true
	for _, b := range p.bets[bettor] {
		if b.option == option {
			first = false
			break
		}
	}
	p.bets[bettor] = append(p.bets[bettor], &bet{option: option, amount: new(uint256.Int).Set(amount)})
	p.staked[option].Add(p.staked[option], amount)
	if first {
		p.bettors[option]++
	}
	p.totalPool.Add(p.totalPool, amount)

	m.emitter.Emit(domain.EventBetPlaced, map[string]any{
		"id":     id,
		"bettor": bettor.Hex(),
		"option": option,
		"amount": amount.Dec(),
	})
	return nil
}

// Prediction returns a read-only view of one prediction.
func (m *Market) Prediction(id uint64) (domain.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.getLocked(id)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("market: %w", err)
	}
	return p.view(), nil
}

// Predictions lists predictions in creation order, filtered by creator and
// status, and returns the number of matches before pagination.
func (m *Market) Predictions(f domain.PredictionFilter) ([]domain.Prediction, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*prediction
	for _, p := range m.predictions {
		if f.Creator != nil && p.creator != *f.Creator {
			continue
		}
		if f.Status != "" && p.status != f.Status {
			continue
		}
		matched = append(matched, p)
	}
	total := len(matched)
	offset := max(f.Offset, 0)
	if offset >= total {
		return []domain.Prediction{}, total
	}
	end := total
	if f.Limit > 0 {
		end = min(offset+f.Limit, total)
	}
	out := make([]domain.Prediction, 0, end-offset)
	for _, p := range matched[offset:end] {
		out = append(out, p.view())
	}
	return out, total
}

// Bets returns the stakes account placed on prediction id.
func (m *Market) Bets(id uint64, account common.Address) ([]domain.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.getLocked(id)
	if err != nil {
		return nil, fmt.Errorf("market: bets: %w", err)
	}
	out := make([]domain.Bet, 0, len(p.bets[account]))
	for _, b := range p.bets[account] {
		out = append(out, domain.Bet{Option: b.option, Amount: new(uint256.Int).Set(b.amount), Claimed: b.claimed})
	}
	return out, nil
}

// HasReported reports whether account contested the resolution of id.
func (m *Market) HasReported(id uint64, account common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.getLocked(id)
	return err == nil && p.reporters[account]
}

func (p *prediction) view() domain.Prediction {
	opts := make([]domain.OptionStats, len(p.options))
	for i, label := range p.options {
		opts[i] = domain.OptionStats{
			Label:       label,
			TotalStaked: new(uint256.Int).Set(p.staked[i]),
			Bettors:     p.bettors[i],
		}
	}
	return domain.Prediction{
		ID:               p.id,
		Creator:          p.creator,
		Ledger:           p.ledger,
		Title:            p.title,
		Description:      p.description,
		Options:          opts,
		CreatedAt:        p.createdAt,
		Expiry:           p.expiry,
		FeePercent:       p.feePercent,
		Status:           p.status,
		WinningOption:    p.winning,
		CooldownDeadline: p.cooldownDeadline,
		ReportCount:      len(p.reporters),
		Participants:     len(p.bets),
		TotalPool:        new(uint256.Int).Set(p.totalPool),
		DisputeReason:    p.disputeReason,
		CreatorFee:       new(uint256.Int).Set(p.creatorFee),
		CreatorFeePaid:   p.creatorFeePaid,
	}
}
