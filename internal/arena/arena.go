package arena

import (
	"time"

	"github.com/gosimple/slug"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

type CellRole string

const (
	CellStaging   CellRole = "staging"
	CellCombat    CellRole = "combat"
	CellSpectator CellRole = "spectator"
	CellInfirmary CellRole = "infirmary"
)

type Cell struct {
	RoomID int64    `json:"room_id"`
	Role   CellRole `json:"role"`
}

// Arena is a venue. Once an event references it, it is only ever soft-deleted.
type Arena struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	CurrencyID    int64     `json:"currency_id"`
	BankAccountID string    `json:"bank_account_id"`
	Cells         []Cell    `json:"cells"`
	Managers      []int64   `json:"managers"`
	IsDeleted     bool      `json:"is_deleted"`
	CreatedAt     time.Time `json:"created_at"`
}

func NewArena(name string, currencyID int64, bankAccountID string) *Arena {
	return &Arena{
		Name:          name,
		Slug:          slug.Make(name),
		CurrencyID:    currencyID,
		BankAccountID: bankAccountID,
	}
}

func (a *Arena) IsManager(characterID int64) bool {
	for _, id := range a.Managers {
		if id == characterID {
			return true
		}
	}
	return false
}

func (a *Arena) CellsWithRole(role CellRole) []Cell {
	var cells []Cell
	for _, c := range a.Cells {
		if c.Role == role {
			cells = append(cells, c)
		}
	}
	return cells
}

// CombatantClass is a weight class scoped to one arena. The prog fields name
// external hooks resolved by the progs package.
type CombatantClass struct {
	ID                int64  `json:"id"`
	ArenaID           int64  `json:"arena_id"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	EligibilityProgID int64  `json:"eligibility_prog_id"`
	NPCLoaderProgID   int64  `json:"npc_loader_prog_id"`
	StageNameTemplate string `json:"stage_name_template"`
	SignatureColour   string `json:"signature_colour"`
}

type BettingModel string

const (
	BettingNone       BettingModel = "none"
	BettingFixed      BettingModel = "fixed"
	BettingParimutuel BettingModel = "parimutuel"
	BettingBoth       BettingModel = "both"
)

// Accepts reports whether bets with odds model m may be placed under b.
func (b BettingModel) Accepts(m OddsModel) bool {
	switch b {
	case BettingFixed:
		return m == OddsFixed
	case BettingParimutuel:
		return m == OddsParimutuel
	case BettingBoth:
		return m == OddsFixed || m == OddsParimutuel
	}
	return false
}

type EliminationMode string

const (
	// EliminationLastSideStanding decides the event when all but one side is eliminated.
	EliminationLastSideStanding EliminationMode = "last_side_standing"
	// EliminationScored leaves the decision to the external scoring prog.
	EliminationScored EliminationMode = "scored"
)

type SignupPolicy string

const (
	SignupOpen   SignupPolicy = "open"
	SignupInvite SignupPolicy = "invite"
	SignupClosed SignupPolicy = "closed"
)

type EventTypeSide struct {
	Index          int          `json:"index"`
	Capacity       int          `json:"capacity"`
	Policy         SignupPolicy `json:"policy"`
	AllowNPCSignup bool         `json:"allow_npc_signup"`
	AutoFillNPC    bool         `json:"auto_fill_npc"`
	AllowedClasses []int64      `json:"allowed_classes"`
}

// EventType is the reusable template events are materialized from.
type EventType struct {
	ID                       int64           `json:"id"`
	ArenaID                  int64           `json:"arena_id"`
	Name                     string          `json:"name"`
	RegistrationDuration     time.Duration   `json:"registration_duration"`
	PreparationDuration      time.Duration   `json:"preparation_duration"`
	TimeLimit                time.Duration   `json:"time_limit"`
	BettingModel             BettingModel    `json:"betting_model"`
	EliminationMode          EliminationMode `json:"elimination_mode"`
	TakeRate                 decimal.Decimal `json:"take_rate"`
	AppearanceFee            decimal.Decimal `json:"appearance_fee"`
	VictoryFee               decimal.Decimal `json:"victory_fee"`
	PayNPCAppearanceFee      bool            `json:"pay_npc_appearance_fee"`
	ResolutionOverrideProgID int64           `json:"resolution_override_prog_id"`
	AutoScheduleInterval     time.Duration   `json:"auto_schedule_interval"`
	AutoScheduleReference    *time.Time      `json:"auto_schedule_reference,omitempty"`
	Sides                    []EventTypeSide `json:"sides"`
}

// AutoSchedules reports whether the template has a cadence. A missing
// reference time is anchored when the template is first scheduled.
func (t *EventType) AutoSchedules() bool {
	return t.AutoScheduleInterval > 0
}

// NextAutoSchedule returns the first reference + n*interval that is not before after.
func (t *EventType) NextAutoSchedule(after time.Time) time.Time {
	if t.AutoScheduleReference == nil {
		return after
	}
	ref := *t.AutoScheduleReference
	if !ref.Before(after) {
		return ref
	}
	n := after.Sub(ref) / t.AutoScheduleInterval
	next := ref.Add(n * t.AutoScheduleInterval)
	if next.Before(after) {
		next = next.Add(t.AutoScheduleInterval)
	}
	return next
}

func (t *EventType) Validate() error {
	populated := 0
	for _, s := range t.Sides {
		if s.Capacity > 0 {
			populated++
		}
	}
	if populated < 2 {
		return ErrInvalidEventTemplate
	}
	return ValidateTakeRate(t.TakeRate)
}

// ValidateTakeRate accepts a fraction of the pool in [0, 1).
func ValidateTakeRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return eris.Wrapf(ErrInvalidTakeRate, "got %s", rate)
	}
	return nil
}

// Materialize copies the template into a new scheduled event. The event is
// free to diverge from the template afterwards.
func (t *EventType) Materialize(name string, at time.Time) *Event {
	typeID := t.ID
	ev := &Event{
		ArenaID:                  t.ArenaID,
		EventTypeID:              &typeID,
		Name:                     name,
		State:                    StateScheduled,
		ScheduledAt:              at,
		RegistrationDuration:     t.RegistrationDuration,
		PreparationDuration:      t.PreparationDuration,
		TimeLimit:                t.TimeLimit,
		BettingModel:             t.BettingModel,
		EliminationMode:          t.EliminationMode,
		TakeRate:                 t.TakeRate,
		AppearanceFee:            t.AppearanceFee,
		VictoryFee:               t.VictoryFee,
		PayNPCAppearanceFee:      t.PayNPCAppearanceFee,
		ResolutionOverrideProgID: t.ResolutionOverrideProgID,
	}
	for _, s := range t.Sides {
		ev.Sides = append(ev.Sides, Side{
			Index:          s.Index,
			Capacity:       s.Capacity,
			Policy:         s.Policy,
			AllowNPCSignup: s.AllowNPCSignup,
			AutoFillNPC:    s.AutoFillNPC,
			AllowedClasses: append([]int64(nil), s.AllowedClasses...),
		})
	}
	return ev
}
