// Package fraud screens value-creating actions. Checks run in stages and stop
// at the first hard block: blacklist, velocity, patterns, identity hygiene,
// and duplicate payment instruments.
package fraud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/metrics"
	"github.com/giftvault/giftvault/internal/models"
	"github.com/giftvault/giftvault/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Tracked actions.
const (
	ActionPurchase = "gift_card.purchase"
	ActionRedeem   = "gift_card.redeem"
)

// Outcome is the coarse result of a check.
type Outcome string

// Outcomes.
const (
	OutcomeAllow  Outcome = "allow"
	OutcomeReview Outcome = "review"
	OutcomeBlock  Outcome = "block"
)

const (
	maxScore            = 100
	blockScore          = 90
	burstWindow         = time.Hour
	burstCount          = 3
	instrumentWindow    = 24 * time.Hour
	instrumentMaxUsers  = 3
	autoBlacklistPeriod = 30 * 24 * time.Hour

	scoreBurst         = 50
	scoreHighValue     = 20
	scoreDisposable    = 30
	scoreBadPhone      = 15
	scoreDupInstrument = 40
)

var severityScore = map[models.BlacklistSeverity]int{
	models.BlacklistSeverityLow:      10,
	models.BlacklistSeverityMedium:   25,
	models.BlacklistSeverityHigh:     40,
	models.BlacklistSeverityCritical: 60,
}

// Limits are the velocity caps. Values are base-currency minor units.
type Limits struct {
	MaxCardsPerDay     int64
	MaxDailyValue      int64
	MaxCardValue       int64
	MaxIPActionsPerDay int64
	HighValueThreshold int64
}

// DefaultLimits returns the stock caps.
func DefaultLimits() Limits {
	return Limits{
		MaxCardsPerDay:     10,
		MaxDailyValue:      500_000,
		MaxCardValue:       200_000,
		MaxIPActionsPerDay: 20,
		HighValueThreshold: 100_000,
	}
}

// effective overlays runtime settings on the configured limits.
func (l Limits) effective() Limits {
	out := l
	out.MaxCardsPerDay = settings.Int(settings.FraudMaxCardsPerDayKey, l.MaxCardsPerDay)
	out.MaxDailyValue = settings.Int(settings.FraudMaxDailyValueKey, l.MaxDailyValue)
	out.MaxCardValue = settings.Int(settings.FraudMaxCardValueKey, l.MaxCardValue)
	out.MaxIPActionsPerDay = settings.Int(settings.FraudMaxIPActionsPerDayKey, l.MaxIPActionsPerDay)
	return out
}

// CheckInput is everything known about the actor and the action.
type CheckInput struct {
	UserID        *uint64
	Email         string
	Phone         string
	IPAddress     string
	PaymentMethod string
	Amount        int64
	Currency      string
	Action        string
}

// Decision is the gate's verdict. Soft flags never block.
type Decision struct {
	Allowed              bool     `json:"allowed"`
	RequiresManualReview bool     `json:"requiresManualReview"`
	RiskScore            int      `json:"riskScore"`
	Reason               string   `json:"reason,omitempty"`
	Outcome              Outcome  `json:"outcome"`
	Flags                []string `json:"flags,omitempty"`
}

// ErrBlocked is the validation sentinel behind every BlockedError.
var ErrBlocked = &ledger.ValidationError{Code: "fraud_blocked", Message: "action blocked by fraud checks"}

// BlockedError carries a block decision to callers.
type BlockedError struct {
	Decision Decision
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked: %s", e.Decision.Reason)
}

func (e *BlockedError) Unwrap() error { return ErrBlocked }

// Err returns a *BlockedError for blocks and nil otherwise.
func (d Decision) Err() error {
	if d.Outcome != OutcomeBlock {
		return nil
	}
	return &BlockedError{Decision: d}
}

// Gate runs fraud checks against the ledger tables.
type Gate struct {
	db     *gorm.DB
	limits Limits
	now    func() time.Time
}

// GateOption customizes a Gate.
type GateOption func(*Gate)

// WithGateClock overrides the time source.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGate returns a gate. Zero limits fall back to DefaultLimits.
func NewGate(db *gorm.DB, limits Limits, opts ...GateOption) *Gate {
	def := DefaultLimits()
	if limits.MaxCardsPerDay <= 0 {
		limits.MaxCardsPerDay = def.MaxCardsPerDay
	}
	if limits.MaxDailyValue <= 0 {
		limits.MaxDailyValue = def.MaxDailyValue
	}
	if limits.MaxCardValue <= 0 {
		limits.MaxCardValue = def.MaxCardValue
	}
	if limits.MaxIPActionsPerDay <= 0 {
		limits.MaxIPActionsPerDay = def.MaxIPActionsPerDay
	}
	if limits.HighValueThreshold <= 0 {
		limits.HighValueThreshold = def.HighValueThreshold
	}
	g := &Gate{db: db, limits: limits, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type verdict struct {
	score  int
	review bool
	flags  []string
	block  string
}

func (v *verdict) flag(name string, score int, review bool) {
	v.flags = append(v.flags, name)
	v.score += score
	v.review = v.review || review
}

// Check evaluates in. A non-nil error means the check itself failed and the
// caller should not proceed.
func (g *Gate) Check(ctx context.Context, in CheckInput) (Decision, error) {
	if in.Action == "" {
		in.Action = ActionPurchase
	}
	limits := g.limits.effective()
	v := &verdict{}

	stages := []func(context.Context, CheckInput, Limits, *verdict) error{
		g.checkBlacklist,
		g.checkVelocity,
		g.checkPatterns,
		g.checkIdentity,
		g.checkInstrument,
	}
	for _, stage := range stages {
		if errStage := stage(ctx, in, limits, v); errStage != nil {
			return Decision{}, errStage
		}
		if v.block != "" {
			break
		}
	}

	d := g.decide(v)
	if d.Outcome == OutcomeBlock && v.block == "" {
		g.autoBlacklist(ctx, in, d)
	}
	metrics.FraudDecisions.WithLabelValues(string(d.Outcome)).Inc()
	if d.Outcome != OutcomeAllow {
		log.WithFields(log.Fields{
			"outcome": d.Outcome,
			"score":   d.RiskScore,
			"reason":  d.Reason,
			"flags":   strings.Join(d.Flags, ","),
			"action":  in.Action,
		}).Info("fraud gate decision")
	}
	return d, nil
}

func (g *Gate) decide(v *verdict) Decision {
	if v.block != "" {
		return Decision{RiskScore: maxScore, Reason: v.block, Outcome: OutcomeBlock, Flags: v.flags}
	}
	score := v.score
	if score > maxScore {
		score = maxScore
	}
	d := Decision{Allowed: true, RequiresManualReview: v.review, RiskScore: score, Flags: v.flags, Outcome: OutcomeAllow}
	switch {
	case score >= blockScore:
		d.Allowed = false
		d.Outcome = OutcomeBlock
		d.Reason = fmt.Sprintf("risk score %d", score)
	case v.review:
		d.Outcome = OutcomeReview
		d.Reason = "manual review: " + strings.Join(v.flags, ",")
	}
	return d
}

func (g *Gate) checkBlacklist(ctx context.Context, in CheckInput, _ Limits, v *verdict) error {
	rows, errMatch := g.activeMatches(ctx, in)
	if errMatch != nil {
		return errMatch
	}
	for _, row := range rows {
		if row.AutoBlock {
			v.flags = append(v.flags, "blacklist:"+strings.ToLower(string(row.Type)))
			v.block = fmt.Sprintf("blacklisted %s", strings.ToLower(string(row.Type)))
			return nil
		}
	}
	for _, row := range rows {
		v.flag("blacklist_watch:"+strings.ToLower(string(row.Type)), severityScore[row.Severity], true)
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type issuedRow struct {
	Value    int64
	Currency string
}

// issuedSince returns the value a user has committed to since the given time:
// open or completed purchases plus cards issued outside the payment flow.
func (g *Gate) issuedSince(ctx context.Context, userID uint64, since time.Time) ([]issuedRow, error) {
	var purchases []issuedRow
	errPayments := g.db.WithContext(ctx).Model(&models.Payment{}).
		Select("amount AS value", "currency").
		Where("user_id = ? AND status IN ? AND created_at >= ?", userID,
			[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusCompleted}, since).
		Find(&purchases).Error
	if errPayments != nil {
		return nil, fmt.Errorf("fraud: load purchases: %w", errPayments)
	}
	var direct []issuedRow
	errCards := g.db.WithContext(ctx).Model(&models.GiftCard{}).
		Select("value", "currency").
		Where("purchaser_user_id = ? AND payment_id IS NULL AND created_at >= ?", userID, since).
		Find(&direct).Error
	if errCards != nil {
		return nil, fmt.Errorf("fraud: load issued cards: %w", errCards)
	}
	return append(purchases, direct...), nil
}

func (g *Gate) checkVelocity(ctx context.Context, in CheckInput, limits Limits, v *verdict) error {
	if in.Action != ActionPurchase {
		return nil
	}
	now := g.now()
	if ip := Normalize(models.BlacklistTypeIP, in.IPAddress); ip != "" {
		var ipActions int64
		if errCount := g.db.WithContext(ctx).Model(&models.IPTrackingEvent{}).
			Where("ip_address = ? AND action = ? AND created_at >= ?", ip, in.Action, now.Add(-24*time.Hour)).
			Count(&ipActions).Error; errCount != nil {
			return fmt.Errorf("fraud: count ip actions: %w", errCount)
		}
		if ipActions >= limits.MaxIPActionsPerDay {
			v.flags = append(v.flags, "velocity:ip")
			v.block = fmt.Sprintf("ip action limit reached (%d in 24h)", ipActions)
			return nil
		}
	}

	amountBase := ToBase(in.Amount, in.Currency)
	if amountBase > limits.MaxCardValue {
		v.flags = append(v.flags, "velocity:card_value")
		v.block = fmt.Sprintf("card value %d exceeds limit %d", amountBase, limits.MaxCardValue)
		return nil
	}
	if in.UserID == nil {
		return nil
	}
	today, errIssued := g.issuedSince(ctx, *in.UserID, startOfDay(now))
	if errIssued != nil {
		return errIssued
	}
	if int64(len(today)) >= limits.MaxCardsPerDay {
		v.flags = append(v.flags, "velocity:cards_per_day")
		v.block = fmt.Sprintf("daily card limit reached (%d)", len(today))
		return nil
	}
	total := amountBase
	for _, row := range today {
		total += ToBase(row.Value, row.Currency)
	}
	if total > limits.MaxDailyValue {
		v.flags = append(v.flags, "velocity:daily_value")
		v.block = fmt.Sprintf("daily value %d exceeds limit %d", total, limits.MaxDailyValue)
	}
	return nil
}

func (g *Gate) checkPatterns(ctx context.Context, in CheckInput, limits Limits, v *verdict) error {
	if ToBase(in.Amount, in.Currency) <= limits.HighValueThreshold {
		return nil
	}
	if in.UserID != nil && in.Action == ActionPurchase {
		recent, errIssued := g.issuedSince(ctx, *in.UserID, g.now().Add(-burstWindow))
		if errIssued != nil {
			return errIssued
		}
		highValue := 1
		for _, row := range recent {
			if ToBase(row.Value, row.Currency) > limits.HighValueThreshold {
				highValue++
			}
		}
		if highValue >= burstCount {
			v.flag("pattern:high_value_burst", scoreBurst, true)
			return nil
		}
	}
	v.flag("pattern:high_value", scoreHighValue, true)
	return nil
}

func (g *Gate) checkIdentity(_ context.Context, in CheckInput, _ Limits, v *verdict) error {
	if strings.TrimSpace(in.Email) != "" && IsDisposableEmail(in.Email) {
		v.flag("identity:disposable_email", scoreDisposable, false)
	}
	if strings.TrimSpace(in.Phone) != "" && !ValidPhone(in.Phone) {
		v.flag("identity:phone_format", scoreBadPhone, false)
	}
	return nil
}

func (g *Gate) checkInstrument(ctx context.Context, in CheckInput, _ Limits, v *verdict) error {
	fingerprint := Normalize(models.BlacklistTypePaymentMethod, in.PaymentMethod)
	if fingerprint == "" {
		return nil
	}
	var userIDs []uint64
	if errPluck := g.db.WithContext(ctx).Model(&models.Payment{}).
		Where("payment_method_fingerprint = ? AND created_at >= ? AND user_id IS NOT NULL", fingerprint, g.now().Add(-instrumentWindow)).
		Distinct().
		Pluck("user_id", &userIDs).Error; errPluck != nil {
		return fmt.Errorf("fraud: load instrument users: %w", errPluck)
	}
	users := make(map[uint64]struct{}, len(userIDs)+1)
	for _, id := range userIDs {
		users[id] = struct{}{}
	}
	if in.UserID != nil {
		users[*in.UserID] = struct{}{}
	}
	if len(users) > instrumentMaxUsers {
		v.flag("instrument:shared", scoreDupInstrument, true)
	}
	return nil
}

// autoBlacklist bars the email and IP of a high-risk actor. Failures are logged.
func (g *Gate) autoBlacklist(ctx context.Context, in CheckInput, d Decision) {
	expires := g.now().Add(autoBlacklistPeriod)
	reason := fmt.Sprintf("auto: %s (%s)", d.Reason, strings.Join(d.Flags, ","))
	for _, target := range []struct {
		kind  models.BlacklistType
		value string
	}{
		{models.BlacklistTypeEmail, in.Email},
		{models.BlacklistTypeIP, in.IPAddress},
	} {
		if strings.TrimSpace(target.value) == "" {
			continue
		}
		if _, errAdd := g.AddToBlacklist(ctx, BlacklistEntry{
			Type:      target.kind,
			Value:     target.value,
			Severity:  models.BlacklistSeverityHigh,
			AutoBlock: true,
			Reason:    reason,
			ExpiresAt: &expires,
		}); errAdd != nil {
			log.WithError(errAdd).WithField("type", target.kind).Warn("fraud: auto-blacklist failed")
		}
	}
}

// Track records an action from ip for rate statistics. Empty IPs are ignored.
func (g *Gate) Track(ctx context.Context, ip string, userID *uint64, action string) error {
	ip = Normalize(models.BlacklistTypeIP, ip)
	if ip == "" {
		return nil
	}
	event := &models.IPTrackingEvent{IPAddress: ip, UserID: userID, Action: action, CreatedAt: g.now()}
	if errCreate := g.db.WithContext(ctx).Create(event).Error; errCreate != nil {
		return fmt.Errorf("fraud: track action: %w", errCreate)
	}
	return nil
}
