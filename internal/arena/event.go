package arena

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side struct {
	Index          int          `json:"index"`
	Capacity       int          `json:"capacity"`
	Policy         SignupPolicy `json:"policy"`
	AllowNPCSignup bool         `json:"allow_npc_signup"`
	AutoFillNPC    bool         `json:"auto_fill_npc"`
	AllowedClasses []int64      `json:"allowed_classes"`
}

func (s *Side) AllowsClass(classID int64) bool {
	if len(s.AllowedClasses) == 0 {
		return true
	}
	for _, id := range s.AllowedClasses {
		if id == classID {
			return true
		}
	}
	return false
}

type ResolutionStep string

const (
	StepEliminations ResolutionStep = "eliminations"
	StepRatings      ResolutionStep = "ratings"
	StepBets         ResolutionStep = "bets"
	StepFinance      ResolutionStep = "finance"
	StepComplete     ResolutionStep = "complete"
)

// ResolutionSteps is the fixed order the resolution pipeline runs in.
var ResolutionSteps = []ResolutionStep{StepEliminations, StepRatings, StepBets, StepFinance, StepComplete}

// ResolutionProgress records which resolution steps have been applied so a
// retried pipeline skips finished work.
type ResolutionProgress struct {
	EliminationsFinalized bool   `json:"eliminations_finalized"`
	RatingsApplied        bool   `json:"ratings_applied"`
	BetsSettled           bool   `json:"bets_settled"`
	FinanceRecorded       bool   `json:"finance_recorded"`
	SettlementHalted      bool   `json:"settlement_halted"`
	HaltReason            string `json:"halt_reason,omitempty"`
}

func (p *ResolutionProgress) Done(step ResolutionStep) bool {
	switch step {
	case StepEliminations:
		return p.EliminationsFinalized
	case StepRatings:
		return p.RatingsApplied
	case StepBets:
		return p.BetsSettled
	case StepFinance:
		return p.FinanceRecorded
	}
	return false
}

type Event struct {
	ID                       int64              `json:"id"`
	ArenaID                  int64              `json:"arena_id"`
	EventTypeID              *int64             `json:"event_type_id,omitempty"`
	Name                     string             `json:"name"`
	State                    State              `json:"state"`
	ScheduledAt              time.Time          `json:"scheduled_at"`
	RegistrationOpenedAt     *time.Time         `json:"registration_opened_at,omitempty"`
	PreparationStartedAt     *time.Time         `json:"preparation_started_at,omitempty"`
	StartedAt                *time.Time         `json:"started_at,omitempty"`
	ResolvedAt               *time.Time         `json:"resolved_at,omitempty"`
	CompletedAt              *time.Time         `json:"completed_at,omitempty"`
	AbortedAt                *time.Time         `json:"aborted_at,omitempty"`
	CancellationReason       string             `json:"cancellation_reason,omitempty"`
	RegistrationDuration     time.Duration      `json:"registration_duration"`
	PreparationDuration      time.Duration      `json:"preparation_duration"`
	TimeLimit                time.Duration      `json:"time_limit"`
	BettingModel             BettingModel       `json:"betting_model"`
	EliminationMode          EliminationMode    `json:"elimination_mode"`
	TakeRate                 decimal.Decimal    `json:"take_rate"`
	AppearanceFee            decimal.Decimal    `json:"appearance_fee"`
	VictoryFee               decimal.Decimal    `json:"victory_fee"`
	PayNPCAppearanceFee      bool               `json:"pay_npc_appearance_fee"`
	ResolutionOverrideProgID int64              `json:"resolution_override_prog_id"`
	Outcome                  *Outcome           `json:"outcome,omitempty"`
	Resolution               ResolutionProgress `json:"resolution"`
	Sides                    []Side             `json:"sides"`
}

// Validate checks the definition of a new event: two populated sides and a
// take rate the pool can pay.
func (e *Event) Validate() error {
	populated := 0
	for _, s := range e.Sides {
		if s.Capacity > 0 {
			populated++
		}
	}
	if populated < 2 {
		return ErrInvalidEventTemplate
	}
	return ValidateTakeRate(e.TakeRate)
}

func (e *Event) Side(index int) (*Side, bool) {
	for i := range e.Sides {
		if e.Sides[i].Index == index {
			return &e.Sides[i], true
		}
	}
	return nil, false
}

// NextDue returns when the event's current state expires on its own, or false
// if the event waits on something other than the clock.
func (e *Event) NextDue() (time.Time, bool) {
	switch e.State {
	case StateScheduled:
		return e.ScheduledAt, true
	case StateRegistrationOpen:
		return e.RegistrationOpenedAt.Add(e.RegistrationDuration), true
	case StatePreparation:
		return e.PreparationStartedAt.Add(e.PreparationDuration), true
	case StateInProgress:
		if e.TimeLimit <= 0 {
			return time.Time{}, false
		}
		return e.StartedAt.Add(e.TimeLimit), true
	}
	return time.Time{}, false
}

// TerminatedAt is when the event reached a terminal state.
func (e *Event) TerminatedAt() (time.Time, bool) {
	switch {
	case e.CompletedAt != nil:
		return *e.CompletedAt, true
	case e.AbortedAt != nil:
		return *e.AbortedAt, true
	}
	return time.Time{}, false
}

// Outcome is what the external resolver (or the forced default) reports.
// Several winning sides is a shared victory; none is a draw.
type Outcome struct {
	WinningSides []int  `json:"winning_sides"`
	Forced       bool   `json:"forced"`
	Reason       string `json:"reason,omitempty"`
}

func (o *Outcome) IsDraw() bool { return len(o.WinningSides) == 0 }

func (o *Outcome) Won(side int) bool {
	for _, s := range o.WinningSides {
		if s == side {
			return true
		}
	}
	return false
}

type Signup struct {
	ID               int64     `json:"id"`
	EventID          int64     `json:"event_id"`
	SideIndex        int       `json:"side_index"`
	CharacterID      int64     `json:"character_id"`
	IsNPC            bool      `json:"is_npc"`
	CombatantName    string    `json:"combatant_name"`
	CombatantClassID int64     `json:"combatant_class_id"`
	StartingRating   float64   `json:"starting_rating"`
	ReservationID    string    `json:"reservation_id,omitempty"`
	SignedUpAt       time.Time `json:"signed_up_at"`
}

// Reservation holds a side slot until ExpiresAt.
type Reservation struct {
	ID               string    `json:"id"`
	EventID          int64     `json:"event_id"`
	SideIndex        int       `json:"side_index"`
	CharacterID      int64     `json:"character_id"`
	CombatantClassID int64     `json:"combatant_class_id"`
	ReservedAt       time.Time `json:"reserved_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

func (r *Reservation) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

type EliminationReason string

const (
	ReasonDefeat           EliminationReason = "defeat"
	ReasonSurrender        EliminationReason = "surrender"
	ReasonDisconnect       EliminationReason = "disconnect"
	ReasonDisqualification EliminationReason = "disqualification"
)

func (r EliminationReason) Valid() bool {
	switch r {
	case ReasonDefeat, ReasonSurrender, ReasonDisconnect, ReasonDisqualification:
		return true
	}
	return false
}

type Elimination struct {
	ID          int64             `json:"id"`
	EventID     int64             `json:"event_id"`
	SignupID    int64             `json:"signup_id"`
	CharacterID int64             `json:"character_id"`
	SideIndex   int               `json:"side_index"`
	Reason      EliminationReason `json:"reason"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Rating is unique per (arena, character, class) and overwritten in place.
type Rating struct {
	ArenaID          int64     `json:"arena_id"`
	CharacterID      int64     `json:"character_id"`
	CombatantClassID int64     `json:"combatant_class_id"`
	Value            float64   `json:"value"`
	RatedEvents      int       `json:"rated_events"`
	LastUpdatedAt    time.Time `json:"last_updated_at"`
}

type FinanceSnapshot struct {
	ID          int64           `json:"id"`
	ArenaID     int64           `json:"arena_id"`
	EventID     *int64          `json:"event_id,omitempty"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Revenue     decimal.Decimal `json:"revenue"`
	Cost        decimal.Decimal `json:"cost"`
	TaxWithheld decimal.Decimal `json:"tax_withheld"`
	Profit      decimal.Decimal `json:"profit"`
	CreatedAt   time.Time       `json:"created_at"`
}
