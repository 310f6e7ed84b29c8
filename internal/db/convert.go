package db

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"gorm.io/datatypes"

	"arenaserver/internal/arena"
	"arenaserver/internal/db/models"
)

func toJSON(v interface{}) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "encode json column")
	}
	return datatypes.JSON(b), nil
}

func fromJSON(col datatypes.JSON, v interface{}) error {
	if len(col) == 0 || string(col) == "null" {
		return nil
	}
	return eris.Wrap(json.Unmarshal(col, v), "decode json column")
}

func arenaRow(a *arena.Arena) (*models.Arena, error) {
	cells, err := toJSON(a.Cells)
	if err != nil {
		return nil, err
	}
	managers, err := toJSON(a.Managers)
	if err != nil {
		return nil, err
	}
	return &models.Arena{
		ID:            a.ID,
		Name:          a.Name,
		Slug:          a.Slug,
		CurrencyID:    a.CurrencyID,
		BankAccountID: a.BankAccountID,
		Cells:         cells,
		Managers:      managers,
		IsDeleted:     a.IsDeleted,
		CreatedAt:     a.CreatedAt,
	}, nil
}

func arenaFromRow(r *models.Arena) (*arena.Arena, error) {
	a := &arena.Arena{
		ID:            r.ID,
		Name:          r.Name,
		Slug:          r.Slug,
		CurrencyID:    r.CurrencyID,
		BankAccountID: r.BankAccountID,
		IsDeleted:     r.IsDeleted,
		CreatedAt:     r.CreatedAt,
	}
	if err := fromJSON(r.Cells, &a.Cells); err != nil {
		return nil, err
	}
	if err := fromJSON(r.Managers, &a.Managers); err != nil {
		return nil, err
	}
	return a, nil
}

func classRow(c *arena.CombatantClass) *models.CombatantClass {
	return &models.CombatantClass{
		ID:                c.ID,
		ArenaID:           c.ArenaID,
		Name:              c.Name,
		Description:       c.Description,
		EligibilityProgID: c.EligibilityProgID,
		NPCLoaderProgID:   c.NPCLoaderProgID,
		StageNameTemplate: c.StageNameTemplate,
		SignatureColour:   c.SignatureColour,
	}
}

func classFromRow(r *models.CombatantClass) *arena.CombatantClass {
	return &arena.CombatantClass{
		ID:                r.ID,
		ArenaID:           r.ArenaID,
		Name:              r.Name,
		Description:       r.Description,
		EligibilityProgID: r.EligibilityProgID,
		NPCLoaderProgID:   r.NPCLoaderProgID,
		StageNameTemplate: r.StageNameTemplate,
		SignatureColour:   r.SignatureColour,
	}
}

func eventTypeRow(t *arena.EventType) (*models.EventType, error) {
	sides, err := toJSON(t.Sides)
	if err != nil {
		return nil, err
	}
	return &models.EventType{
		ID:                       t.ID,
		ArenaID:                  t.ArenaID,
		Name:                     t.Name,
		RegistrationDuration:     t.RegistrationDuration,
		PreparationDuration:      t.PreparationDuration,
		TimeLimit:                t.TimeLimit,
		BettingModel:             string(t.BettingModel),
		EliminationMode:          string(t.EliminationMode),
		TakeRate:                 t.TakeRate,
		AppearanceFee:            t.AppearanceFee,
		VictoryFee:               t.VictoryFee,
		PayNPCAppearanceFee:      t.PayNPCAppearanceFee,
		ResolutionOverrideProgID: t.ResolutionOverrideProgID,
		AutoScheduleInterval:     t.AutoScheduleInterval,
		AutoScheduleReference:    t.AutoScheduleReference,
		Sides:                    sides,
	}, nil
}

func eventTypeFromRow(r *models.EventType) (*arena.EventType, error) {
	t := &arena.EventType{
		ID:                       r.ID,
		ArenaID:                  r.ArenaID,
		Name:                     r.Name,
		RegistrationDuration:     r.RegistrationDuration,
		PreparationDuration:      r.PreparationDuration,
		TimeLimit:                r.TimeLimit,
		BettingModel:             arena.BettingModel(r.BettingModel),
		EliminationMode:          arena.EliminationMode(r.EliminationMode),
		TakeRate:                 r.TakeRate,
		AppearanceFee:            r.AppearanceFee,
		VictoryFee:               r.VictoryFee,
		PayNPCAppearanceFee:      r.PayNPCAppearanceFee,
		ResolutionOverrideProgID: r.ResolutionOverrideProgID,
		AutoScheduleInterval:     r.AutoScheduleInterval,
		AutoScheduleReference:    r.AutoScheduleReference,
	}
	if err := fromJSON(r.Sides, &t.Sides); err != nil {
		return nil, err
	}
	return t, nil
}

func eventRow(ev *arena.Event) (*models.Event, error) {
	sides, err := toJSON(ev.Sides)
	if err != nil {
		return nil, err
	}
	var outcome datatypes.JSON
	if ev.Outcome != nil {
		if outcome, err = toJSON(ev.Outcome); err != nil {
			return nil, err
		}
	}
	p := ev.Resolution
	return &models.Event{
		ID:                       ev.ID,
		ArenaID:                  ev.ArenaID,
		EventTypeID:              ev.EventTypeID,
		Name:                     ev.Name,
		State:                    string(ev.State),
		ScheduledAt:              ev.ScheduledAt,
		RegistrationOpenedAt:     ev.RegistrationOpenedAt,
		PreparationStartedAt:     ev.PreparationStartedAt,
		StartedAt:                ev.StartedAt,
		ResolvedAt:               ev.ResolvedAt,
		CompletedAt:              ev.CompletedAt,
		AbortedAt:                ev.AbortedAt,
		CancellationReason:       ev.CancellationReason,
		RegistrationDuration:     ev.RegistrationDuration,
		PreparationDuration:      ev.PreparationDuration,
		TimeLimit:                ev.TimeLimit,
		BettingModel:             string(ev.BettingModel),
		EliminationMode:          string(ev.EliminationMode),
		TakeRate:                 ev.TakeRate,
		AppearanceFee:            ev.AppearanceFee,
		VictoryFee:               ev.VictoryFee,
		PayNPCAppearanceFee:      ev.PayNPCAppearanceFee,
		ResolutionOverrideProgID: ev.ResolutionOverrideProgID,
		Outcome:                  outcome,
		Resolution: models.ResolutionProgress{
			EliminationsFinalized: p.EliminationsFinalized,
			RatingsApplied:        p.RatingsApplied,
			BetsSettled:           p.BetsSettled,
			FinanceRecorded:       p.FinanceRecorded,
			SettlementHalted:      p.SettlementHalted,
			HaltReason:            p.HaltReason,
		},
		Sides: sides,
	}, nil
}

func eventFromRow(r *models.Event) (*arena.Event, error) {
	p := r.Resolution
	ev := &arena.Event{
		ID:                       r.ID,
		ArenaID:                  r.ArenaID,
		EventTypeID:              r.EventTypeID,
		Name:                     r.Name,
		State:                    arena.State(r.State),
		ScheduledAt:              r.ScheduledAt,
		RegistrationOpenedAt:     r.RegistrationOpenedAt,
		PreparationStartedAt:     r.PreparationStartedAt,
		StartedAt:                r.StartedAt,
		ResolvedAt:               r.ResolvedAt,
		CompletedAt:              r.CompletedAt,
		AbortedAt:                r.AbortedAt,
		CancellationReason:       r.CancellationReason,
		RegistrationDuration:     r.RegistrationDuration,
		PreparationDuration:      r.PreparationDuration,
		TimeLimit:                r.TimeLimit,
		BettingModel:             arena.BettingModel(r.BettingModel),
		EliminationMode:          arena.EliminationMode(r.EliminationMode),
		TakeRate:                 r.TakeRate,
		AppearanceFee:            r.AppearanceFee,
		VictoryFee:               r.VictoryFee,
		PayNPCAppearanceFee:      r.PayNPCAppearanceFee,
		ResolutionOverrideProgID: r.ResolutionOverrideProgID,
		Resolution: arena.ResolutionProgress{
			EliminationsFinalized: p.EliminationsFinalized,
			RatingsApplied:        p.RatingsApplied,
			BetsSettled:           p.BetsSettled,
			FinanceRecorded:       p.FinanceRecorded,
			SettlementHalted:      p.SettlementHalted,
			HaltReason:            p.HaltReason,
		},
	}
	if err := fromJSON(r.Sides, &ev.Sides); err != nil {
		return nil, err
	}
	if len(r.Outcome) > 0 && string(r.Outcome) != "null" {
		ev.Outcome = &arena.Outcome{}
		if err := fromJSON(r.Outcome, ev.Outcome); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

func signupRow(s *arena.Signup) *models.Signup {
	return &models.Signup{
		ID:               s.ID,
		EventID:          s.EventID,
		SideIndex:        s.SideIndex,
		CharacterID:      s.CharacterID,
		IsNPC:            s.IsNPC,
		CombatantName:    s.CombatantName,
		CombatantClassID: s.CombatantClassID,
		StartingRating:   s.StartingRating,
		ReservationID:    s.ReservationID,
		SignedUpAt:       s.SignedUpAt,
	}
}

func signupFromRow(r *models.Signup) *arena.Signup {
	return &arena.Signup{
		ID:               r.ID,
		EventID:          r.EventID,
		SideIndex:        r.SideIndex,
		CharacterID:      r.CharacterID,
		IsNPC:            r.IsNPC,
		CombatantName:    r.CombatantName,
		CombatantClassID: r.CombatantClassID,
		StartingRating:   r.StartingRating,
		ReservationID:    r.ReservationID,
		SignedUpAt:       r.SignedUpAt,
	}
}

func reservationRow(r *arena.Reservation) *models.Reservation {
	return &models.Reservation{
		ID:               r.ID,
		EventID:          r.EventID,
		SideIndex:        r.SideIndex,
		CharacterID:      r.CharacterID,
		CombatantClassID: r.CombatantClassID,
		ReservedAt:       r.ReservedAt,
		ExpiresAt:        r.ExpiresAt,
	}
}

func reservationFromRow(r *models.Reservation) *arena.Reservation {
	return &arena.Reservation{
		ID:               r.ID,
		EventID:          r.EventID,
		SideIndex:        r.SideIndex,
		CharacterID:      r.CharacterID,
		CombatantClassID: r.CombatantClassID,
		ReservedAt:       r.ReservedAt,
		ExpiresAt:        r.ExpiresAt,
	}
}

func eliminationRow(e *arena.Elimination) *models.Elimination {
	return &models.Elimination{
		ID:          e.ID,
		EventID:     e.EventID,
		SignupID:    e.SignupID,
		CharacterID: e.CharacterID,
		SideIndex:   e.SideIndex,
		Reason:      string(e.Reason),
		OccurredAt:  e.OccurredAt,
	}
}

func eliminationFromRow(r *models.Elimination) *arena.Elimination {
	return &arena.Elimination{
		ID:          r.ID,
		EventID:     r.EventID,
		SignupID:    r.SignupID,
		CharacterID: r.CharacterID,
		SideIndex:   r.SideIndex,
		Reason:      arena.EliminationReason(r.Reason),
		OccurredAt:  r.OccurredAt,
	}
}

func ratingFromRow(r *models.Rating) *arena.Rating {
	return &arena.Rating{
		ArenaID:          r.ArenaID,
		CharacterID:      r.CharacterID,
		CombatantClassID: r.CombatantClassID,
		Value:            r.Value,
		RatedEvents:      r.RatedEvents,
		LastUpdatedAt:    r.LastUpdatedAt,
	}
}

func betRow(b *arena.Bet) (*models.Bet, error) {
	var snapshot datatypes.JSON
	if b.ModelSnapshot != nil {
		var err error
		if snapshot, err = toJSON(b.ModelSnapshot); err != nil {
			return nil, err
		}
	}
	return &models.Bet{
		ID:               b.ID,
		EventID:          b.EventID,
		CharacterID:      b.CharacterID,
		SideIndex:        b.SideIndex,
		Model:            string(b.Model),
		Stake:            b.Stake,
		FixedDecimalOdds: b.FixedDecimalOdds,
		ModelSnapshot:    snapshot,
		PlacedAt:         b.PlacedAt,
		CancelledAt:      b.CancelledAt,
	}, nil
}

func betFromRow(r *models.Bet) (*arena.Bet, error) {
	b := &arena.Bet{
		ID:               r.ID,
		EventID:          r.EventID,
		CharacterID:      r.CharacterID,
		SideIndex:        r.SideIndex,
		Model:            arena.OddsModel(r.Model),
		Stake:            r.Stake,
		FixedDecimalOdds: r.FixedDecimalOdds,
		PlacedAt:         r.PlacedAt,
		CancelledAt:      r.CancelledAt,
	}
	if len(r.ModelSnapshot) > 0 && string(r.ModelSnapshot) != "null" {
		b.ModelSnapshot = &arena.OddsSnapshot{}
		if err := fromJSON(r.ModelSnapshot, b.ModelSnapshot); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func payoutRow(p *arena.BetPayout) *models.BetPayout {
	return &models.BetPayout{
		ID:          p.ID,
		EventID:     p.EventID,
		BetID:       p.BetID,
		CharacterID: p.CharacterID,
		SideIndex:   p.SideIndex,
		Model:       string(p.Model),
		Amount:      p.Amount,
		IsBlocked:   p.IsBlocked,
		CreatedAt:   p.CreatedAt,
		CollectedAt: p.CollectedAt,
	}
}

func payoutFromRow(r *models.BetPayout) *arena.BetPayout {
	return &arena.BetPayout{
		ID:          r.ID,
		EventID:     r.EventID,
		BetID:       r.BetID,
		CharacterID: r.CharacterID,
		SideIndex:   r.SideIndex,
		Model:       arena.OddsModel(r.Model),
		Amount:      r.Amount,
		IsBlocked:   r.IsBlocked,
		CreatedAt:   r.CreatedAt,
		CollectedAt: r.CollectedAt,
	}
}

func snapshotRow(s *arena.FinanceSnapshot) *models.FinanceSnapshot {
	row := &models.FinanceSnapshot{
		ID:          s.ID,
		ArenaID:     s.ArenaID,
		PeriodStart: s.PeriodStart,
		PeriodEnd:   s.PeriodEnd,
		Revenue:     s.Revenue,
		Cost:        s.Cost,
		TaxWithheld: s.TaxWithheld,
		Profit:      s.Profit,
		CreatedAt:   s.CreatedAt,
	}
	if s.EventID != nil {
		row.EventID = *s.EventID
	}
	return row
}

func snapshotFromRow(r *models.FinanceSnapshot) *arena.FinanceSnapshot {
	s := &arena.FinanceSnapshot{
		ID:          r.ID,
		ArenaID:     r.ArenaID,
		PeriodStart: r.PeriodStart,
		PeriodEnd:   r.PeriodEnd,
		Revenue:     r.Revenue,
		Cost:        r.Cost,
		TaxWithheld: r.TaxWithheld,
		Profit:      r.Profit,
		CreatedAt:   r.CreatedAt,
	}
	if r.EventID != 0 {
		eventID := r.EventID
		s.EventID = &eventID
	}
	return s
}
