// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the server — users, skin
// definitions and instances, cases, market listings, trade offers, sessions,
// and the side-effect entities (quests, achievements, streaks). It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Rarity is the catalog tier of a skin definition, ascending. An instance's
// rarity is copied from its definition at mint time and never changes.
type Rarity int

const (
	RarityConsumer Rarity = iota
	RarityIndustrial
	RarityMilSpec
	RarityRestricted
	RarityClassified
	RarityCovert
	RarityContraband
)

func (r Rarity) String() string {
	switch r {
	case RarityConsumer:
		return "Consumer"
	case RarityIndustrial:
		return "Industrial"
	case RarityMilSpec:
		return "Mil-Spec"
	case RarityRestricted:
		return "Restricted"
	case RarityClassified:
		return "Classified"
	case RarityCovert:
		return "Covert"
	case RarityContraband:
		return "Contraband"
	default:
		return "Unknown"
	}
}

// Valid reports whether r is one of the seven catalog tiers.
func (r Rarity) Valid() bool {
	return r >= RarityConsumer && r <= RarityContraband
}

// WearBand names the five float-wear intervals.
type WearBand string

const (
	WearFactoryNew   WearBand = "FN" // [0.00, 0.07)
	WearMinimalWear  WearBand = "MW" // [0.07, 0.15)
	WearFieldTested  WearBand = "FT" // [0.15, 0.37)
	WearWellWorn     WearBand = "WW" // [0.37, 0.45)
	WearBattleScarred WearBand = "BS" // [0.45, 1.00]
)

// WearBandFor maps a wear float in [0, 1] to its named band.
func WearBandFor(wear float64) WearBand {
	switch {
	case wear < 0.07:
		return WearFactoryNew
	case wear < 0.15:
		return WearMinimalWear
	case wear < 0.37:
		return WearFieldTested
	case wear < 0.45:
		return WearWellWorn
	default:
		return WearBattleScarred
	}
}

// TradeStatus is the lifecycle state of a trade offer. PENDING is the only
// non-terminal state; every transition out of it is one-shot.
type TradeStatus string

const (
	TradePending   TradeStatus = "PENDING"
	TradeAccepted  TradeStatus = "ACCEPTED"
	TradeDeclined  TradeStatus = "DECLINED"
	TradeCancelled TradeStatus = "CANCELLED"
	TradeExpired   TradeStatus = "EXPIRED"
)

// Terminal reports whether s admits no further lifecycle transitions.
func (s TradeStatus) Terminal() bool {
	return s != TradePending
}

// MaxTradeItems caps the offered and requested lists of a trade offer.
const MaxTradeItems = 10

// ————————————————————————————————————————————————————————————————————————
// Entities
// ————————————————————————————————————————————————————————————————————————

// User is an account holder. Balance is a non-negative monetary scalar;
// it is only mutated by the transactional ops (unbox, market buy, trade).
type User struct {
	ID             int64
	Username       string
	PasswordDigest string
	Balance        decimal.Decimal
	CreatedAt      time.Time
	LastLogin      time.Time
	Banned         bool
}

// SkinDefinition is an immutable catalog row. A definition can only ever be
// minted at its catalog rarity.
type SkinDefinition struct {
	ID        int64
	Name      string
	Rarity    Rarity
	BasePrice decimal.Decimal
}

// Case is a purchasable container. Its content set (the definitions eligible
// to drop) lives in a separate case_contents relation.
type Case struct {
	ID    int64
	Name  string
	Price decimal.Decimal
}

// SkinInstance is the only mutable item entity. Ownership is exclusive and
// reassigned only by trade acceptance or market purchase.
type SkinInstance struct {
	ID           int64
	DefinitionID int64
	Name         string // joined from the definition for display
	Rarity       Rarity
	Wear         float64 // [0.0, 1.0], truncated to 10 decimals at mint
	PatternSeed  int     // [0, 999]
	StatTrak     bool
	OwnerID      int64
	AcquiredAt   time.Time
	Tradable     bool
	CurrentPrice decimal.Decimal // base × rarity multiplier × wear multiplier
}

// MarketListing is a seller's offer of one instance at a fixed price.
// At most one non-sold listing exists per instance at a time.
type MarketListing struct {
	ID         int64
	SellerID   int64
	InstanceID int64
	Price      decimal.Decimal
	ListedAt   time.Time
	Sold       bool

	// Joined display fields, populated on reads.
	SkinName string
	Rarity   Rarity
	Wear     float64
	StatTrak bool
}

// TradeOffer is a bilateral proposal: up to MaxTradeItems instances plus
// optional cash on each side. Offers expire 15 minutes after creation.
type TradeOffer struct {
	ID            int64
	FromUser      int64
	ToUser        int64
	Offered       []int64
	OfferedCash   decimal.Decimal
	Requested     []int64
	RequestedCash decimal.Decimal
	Status        TradeStatus
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Session binds an opaque 32-hex token to a user for up to one hour of
// idleness. Expiry is enforced lazily at validation time.
type Session struct {
	Token        string
	UserID       int64
	LoginTime    time.Time
	LastActivity time.Time
	Active       bool
}

// ————————————————————————————————————————————————————————————————————————
// Side-effect entities
// ————————————————————————————————————————————————————————————————————————

// Quest tracks incremental progress toward a target.
type Quest struct {
	ID        int64
	UserID    int64
	Type      string
	Progress  decimal.Decimal
	Target    decimal.Decimal
	Completed bool
	Claimed   bool
}

// Achievement is a one-shot unlockable flag.
type Achievement struct {
	ID       int64
	UserID   int64
	Type     string
	Unlocked bool
	Claimed  bool
}

// LoginStreak tracks consecutive daily logins. Streak is in [1, 7] and wraps
// back to 1 after 7; a gap of more than one day resets it.
type LoginStreak struct {
	UserID         int64
	Streak         int
	LastLoginDate  string // YYYY-MM-DD
	LastRewardDate string // YYYY-MM-DD, empty until first claim
}

// ChatMessage is a persisted chat line (user or system announcement).
type ChatMessage struct {
	ID     int64
	UserID int64 // 0 for system announcements
	Text   string
	SentAt time.Time
}

// PriceHistoryEntry records one side of a completed market sale.
// Side is 0 for the buy leg, 1 for the sell leg.
type PriceHistoryEntry struct {
	ID           int64
	DefinitionID int64
	Side         int
	Price        decimal.Decimal
	RecordedAt   time.Time
}

// Report is a user-filed complaint against another user.
type Report struct {
	ID         int64
	ReporterID int64
	ReportedID int64
	Reason     string
	Open       bool
	FiledAt    time.Time
}

// TransactionLog is one ledger row per monetary leg. Amount is signed from
// the user's perspective (debits negative, credits positive).
type TransactionLog struct {
	ID       int64
	UserID   int64
	Kind     string // "unbox", "market_buy", "market_sell", "trade_cash"
	Amount   decimal.Decimal
	RefID    int64 // instance, listing or trade id depending on Kind
	LoggedAt time.Time
}
