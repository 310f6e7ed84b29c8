package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Arena struct {
	ID            int64          `gorm:"primaryKey;autoIncrement"`
	Name          string         `gorm:"size:100;not null"`
	Slug          string         `gorm:"size:100;not null;index"`
	CurrencyID    int64          `gorm:"not null"`
	BankAccountID string         `gorm:"size:100;not null"`
	Cells         datatypes.JSON `gorm:"type:jsonb"`
	Managers      datatypes.JSON `gorm:"type:jsonb"`
	IsDeleted     bool           `gorm:"default:false"`
	CreatedAt     time.Time      `gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime"`
}

func (Arena) TableName() string { return "arenas" }

type CombatantClass struct {
	ID                int64  `gorm:"primaryKey;autoIncrement"`
	ArenaID           int64  `gorm:"not null;index"`
	Arena             Arena  `gorm:"foreignKey:ArenaID"`
	Name              string `gorm:"size:100;not null"`
	Description       string `gorm:"type:text"`
	EligibilityProgID int64
	NPCLoaderProgID   int64
	StageNameTemplate string `gorm:"size:200"`
	SignatureColour   string `gorm:"size:50"`
}

func (CombatantClass) TableName() string { return "arena_combatant_classes" }

type EventType struct {
	ID                       int64           `gorm:"primaryKey;autoIncrement"`
	ArenaID                  int64           `gorm:"not null;index"`
	Arena                    Arena           `gorm:"foreignKey:ArenaID"`
	Name                     string          `gorm:"size:100;not null"`
	RegistrationDuration     time.Duration   `gorm:"not null"`
	PreparationDuration      time.Duration   `gorm:"not null"`
	TimeLimit                time.Duration   `gorm:"not null"`
	BettingModel             string          `gorm:"size:20;not null"`
	EliminationMode          string          `gorm:"size:30;not null"`
	TakeRate                 decimal.Decimal `gorm:"type:numeric(10,6);not null"`
	AppearanceFee            decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	VictoryFee               decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	PayNPCAppearanceFee      bool            `gorm:"default:false"`
	ResolutionOverrideProgID int64
	AutoScheduleInterval     time.Duration
	AutoScheduleReference    *time.Time     `gorm:"type:timestamptz"`
	Sides                    datatypes.JSON `gorm:"type:jsonb;not null"`
}

func (EventType) TableName() string { return "arena_event_types" }

type Event struct {
	ID                       int64           `gorm:"primaryKey;autoIncrement"`
	ArenaID                  int64           `gorm:"not null;index"`
	Arena                    Arena           `gorm:"foreignKey:ArenaID"`
	EventTypeID              *int64          `gorm:"index"`
	Name                     string          `gorm:"size:200"`
	State                    string          `gorm:"size:30;not null;index"`
	ScheduledAt              time.Time       `gorm:"type:timestamptz;not null"`
	RegistrationOpenedAt     *time.Time      `gorm:"type:timestamptz"`
	PreparationStartedAt     *time.Time      `gorm:"type:timestamptz"`
	StartedAt                *time.Time      `gorm:"type:timestamptz"`
	ResolvedAt               *time.Time      `gorm:"type:timestamptz"`
	CompletedAt              *time.Time      `gorm:"type:timestamptz;index"`
	AbortedAt                *time.Time      `gorm:"type:timestamptz"`
	CancellationReason       string          `gorm:"type:text"`
	RegistrationDuration     time.Duration   `gorm:"not null"`
	PreparationDuration      time.Duration   `gorm:"not null"`
	TimeLimit                time.Duration   `gorm:"not null"`
	BettingModel             string          `gorm:"size:20;not null"`
	EliminationMode          string          `gorm:"size:30;not null"`
	TakeRate                 decimal.Decimal `gorm:"type:numeric(10,6);not null"`
	AppearanceFee            decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	VictoryFee               decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	PayNPCAppearanceFee      bool            `gorm:"default:false"`
	ResolutionOverrideProgID int64
	Outcome                  datatypes.JSON     `gorm:"type:jsonb"`
	Resolution               ResolutionProgress `gorm:"embedded;embeddedPrefix:resolution_"`
	Sides                    datatypes.JSON     `gorm:"type:jsonb;not null"`
	UpdatedAt                time.Time          `gorm:"autoUpdateTime"`
}

func (Event) TableName() string { return "arena_events" }

type ResolutionProgress struct {
	EliminationsFinalized bool   `gorm:"default:false"`
	RatingsApplied        bool   `gorm:"default:false"`
	BetsSettled           bool   `gorm:"default:false"`
	FinanceRecorded       bool   `gorm:"default:false"`
	SettlementHalted      bool   `gorm:"default:false"`
	HaltReason            string `gorm:"type:text"`
}

type Signup struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	EventID          int64     `gorm:"not null;index"`
	Event            Event     `gorm:"foreignKey:EventID"`
	SideIndex        int       `gorm:"not null"`
	CharacterID      int64     `gorm:"not null;index"`
	IsNPC            bool      `gorm:"default:false"`
	CombatantName    string    `gorm:"size:100"`
	CombatantClassID int64     `gorm:"not null"`
	StartingRating   float64   `gorm:"not null"`
	ReservationID    string    `gorm:"size:36"`
	SignedUpAt       time.Time `gorm:"type:timestamptz;not null"`
}

func (Signup) TableName() string { return "arena_signups" }

type Reservation struct {
	ID               string    `gorm:"primaryKey;size:36"`
	EventID          int64     `gorm:"not null;index"`
	Event            Event     `gorm:"foreignKey:EventID"`
	SideIndex        int       `gorm:"not null"`
	CharacterID      int64     `gorm:"not null"`
	CombatantClassID int64     `gorm:"not null"`
	ReservedAt       time.Time `gorm:"type:timestamptz;not null"`
	ExpiresAt        time.Time `gorm:"type:timestamptz;not null;index"`
}

func (Reservation) TableName() string { return "arena_reservations" }

type Elimination struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	EventID     int64     `gorm:"not null;index"`
	Event       Event     `gorm:"foreignKey:EventID"`
	SignupID    int64     `gorm:"not null;uniqueIndex"`
	CharacterID int64     `gorm:"not null"`
	SideIndex   int       `gorm:"not null"`
	Reason      string    `gorm:"size:30;not null"`
	OccurredAt  time.Time `gorm:"type:timestamptz;not null"`
}

func (Elimination) TableName() string { return "arena_eliminations" }

// Rating is unique per arena, character and class.
type Rating struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	ArenaID          int64     `gorm:"not null;uniqueIndex:idx_rating_key"`
	CharacterID      int64     `gorm:"not null;uniqueIndex:idx_rating_key"`
	CombatantClassID int64     `gorm:"not null;uniqueIndex:idx_rating_key"`
	Value            float64   `gorm:"not null"`
	RatedEvents      int       `gorm:"not null"`
	LastUpdatedAt    time.Time `gorm:"type:timestamptz;not null"`
}

func (Rating) TableName() string { return "arena_ratings" }

type Bet struct {
	ID               int64           `gorm:"primaryKey;autoIncrement"`
	EventID          int64           `gorm:"not null;index"`
	Event            Event           `gorm:"foreignKey:EventID"`
	CharacterID      int64           `gorm:"not null;index"`
	SideIndex        int             `gorm:"not null"`
	Model            string          `gorm:"size:20;not null"`
	Stake            decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	FixedDecimalOdds decimal.Decimal `gorm:"type:numeric(12,4)"`
	ModelSnapshot    datatypes.JSON  `gorm:"type:jsonb"`
	PlacedAt         time.Time       `gorm:"type:timestamptz;not null"`
	CancelledAt      *time.Time      `gorm:"type:timestamptz"`
}

func (Bet) TableName() string { return "arena_bets" }

type BetPool struct {
	EventID    int64           `gorm:"primaryKey"`
	SideIndex  int             `gorm:"primaryKey"`
	Model      string          `gorm:"primaryKey;size:20"`
	TotalStake decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	TakeRate   decimal.Decimal `gorm:"type:numeric(10,6);not null"`
	BetCount   int             `gorm:"not null"`
}

func (BetPool) TableName() string { return "arena_bet_pools" }

// BetPayout has at most one row per bet, so a re-run settlement updates
// rows in place.
type BetPayout struct {
	ID          int64           `gorm:"primaryKey;autoIncrement"`
	EventID     int64           `gorm:"not null;index"`
	BetID       int64           `gorm:"not null;uniqueIndex"`
	Bet         Bet             `gorm:"foreignKey:BetID"`
	CharacterID int64           `gorm:"not null;index"`
	SideIndex   int             `gorm:"not null"`
	Model       string          `gorm:"size:20;not null"`
	Amount      decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	IsBlocked   bool            `gorm:"default:false"`
	CreatedAt   time.Time       `gorm:"type:timestamptz;not null"`
	CollectedAt *time.Time      `gorm:"type:timestamptz"`
}

func (BetPayout) TableName() string { return "arena_bet_payouts" }

// FinanceSnapshot rows with EventID 0 are period rollups.
type FinanceSnapshot struct {
	ID          int64           `gorm:"primaryKey;autoIncrement"`
	ArenaID     int64           `gorm:"not null;uniqueIndex:idx_snapshot_key"`
	EventID     int64           `gorm:"not null;uniqueIndex:idx_snapshot_key"`
	PeriodStart time.Time       `gorm:"type:timestamptz;not null;uniqueIndex:idx_snapshot_key"`
	PeriodEnd   time.Time       `gorm:"type:timestamptz;not null"`
	Revenue     decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Cost        decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	TaxWithheld decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Profit      decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	CreatedAt   time.Time       `gorm:"type:timestamptz;not null"`
}

func (FinanceSnapshot) TableName() string { return "arena_finance_snapshots" }
