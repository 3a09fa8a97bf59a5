package settings

// Runtime setting keys read from the settings table.
const (
	// FraudMaxCardsPerDayKey caps cards a user may buy per UTC day.
	FraudMaxCardsPerDayKey = "FRAUD_MAX_CARDS_PER_DAY"
	// FraudMaxDailyValueKey caps base-currency value a user may buy per UTC day.
	FraudMaxDailyValueKey = "FRAUD_MAX_DAILY_VALUE"
	// FraudMaxCardValueKey caps the base-currency value of a single card.
	FraudMaxCardValueKey = "FRAUD_MAX_CARD_VALUE"
	// FraudMaxIPActionsPerDayKey caps creation actions per IP over 24 hours.
	FraudMaxIPActionsPerDayKey = "FRAUD_MAX_IP_ACTIONS_PER_DAY"
	// IPEventRetentionDaysKey overrides how long IP tracking events are kept.
	IPEventRetentionDaysKey = "IP_EVENT_RETENTION_DAYS"
)
