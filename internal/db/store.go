package db

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"arenaserver/internal/arena"
	"arenaserver/internal/db/models"
	"arenaserver/internal/store"
)

// Store persists arenas and events in Postgres through gorm.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) q(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return eris.Wrapf(arena.ErrNotFound, format, args...)
	}
	return eris.Wrapf(err, format, args...)
}

func (s *Store) SaveArena(ctx context.Context, a *arena.Arena) error {
	row, err := arenaRow(a)
	if err != nil {
		return err
	}
	if err := s.q(ctx).Omit(clause.Associations).Save(row).Error; err != nil {
		return eris.Wrapf(err, "save arena %q", a.Name)
	}
	a.ID, a.CreatedAt = row.ID, row.CreatedAt
	return nil
}

func (s *Store) GetArena(ctx context.Context, id int64) (*arena.Arena, error) {
	var row models.Arena
	if err := s.q(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "arena %d", id)
	}
	return arenaFromRow(&row)
}

func (s *Store) ListArenas(ctx context.Context) ([]*arena.Arena, error) {
	var rows []models.Arena
	if err := s.q(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, eris.Wrap(err, "list arenas")
	}
	out := make([]*arena.Arena, 0, len(rows))
	for i := range rows {
		a, err := arenaFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) SaveCombatantClass(ctx context.Context, c *arena.CombatantClass) error {
	row := classRow(c)
	if err := s.q(ctx).Omit(clause.Associations).Save(row).Error; err != nil {
		return eris.Wrapf(err, "save combatant class %q", c.Name)
	}
	c.ID = row.ID
	return nil
}

func (s *Store) GetCombatantClass(ctx context.Context, id int64) (*arena.CombatantClass, error) {
	var row models.CombatantClass
	if err := s.q(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "combatant class %d", id)
	}
	return classFromRow(&row), nil
}

func (s *Store) SaveEventType(ctx context.Context, t *arena.EventType) error {
	row, err := eventTypeRow(t)
	if err != nil {
		return err
	}
	if err := s.q(ctx).Omit(clause.Associations).Save(row).Error; err != nil {
		return eris.Wrapf(err, "save event type %q", t.Name)
	}
	t.ID = row.ID
	return nil
}

func (s *Store) GetEventType(ctx context.Context, id int64) (*arena.EventType, error) {
	var row models.EventType
	if err := s.q(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "event type %d", id)
	}
	return eventTypeFromRow(&row)
}

func (s *Store) ListAutoScheduledEventTypes(ctx context.Context) ([]*arena.EventType, error) {
	var rows []models.EventType
	err := s.q(ctx).
		Where("auto_schedule_interval > 0").
		Order("id").Find(&rows).Error
	if err != nil {
		return nil, eris.Wrap(err, "list auto-scheduled event types")
	}
	out := make([]*arena.EventType, 0, len(rows))
	for i := range rows {
		t, err := eventTypeFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) SaveEvent(ctx context.Context, ev *arena.Event) error {
	row, err := eventRow(ev)
	if err != nil {
		return err
	}
	if err := s.q(ctx).Omit(clause.Associations).Save(row).Error; err != nil {
		return eris.Wrapf(err, "save event %d", ev.ID)
	}
	ev.ID = row.ID
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id int64) (*arena.Event, error) {
	var row models.Event
	if err := s.q(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "event %d", id)
	}
	return eventFromRow(&row)
}

func (s *Store) ListEvents(ctx context.Context, filter store.EventFilter) ([]*arena.Event, error) {
	q := s.q(ctx).Order("id")
	if filter.ArenaID != 0 {
		q = q.Where("arena_id = ?", filter.ArenaID)
	}
	if filter.EventTypeID != 0 {
		q = q.Where("event_type_id = ?", filter.EventTypeID)
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		q = q.Where("state IN ?", states)
	}
	var rows []models.Event
	if err := q.Find(&rows).Error; err != nil {
		return nil, eris.Wrap(err, "list events")
	}
	out := make([]*arena.Event, 0, len(rows))
	for i := range rows {
		ev, err := eventFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Store) SaveSignup(ctx context.Context, su *arena.Signup) error {
	row := signupRow(su)
	if err := s.q(ctx).Omit(clause.Associations).Save(row).Error; err != nil {
		return eris.Wrapf(err, "save signup for character %d", su.CharacterID)
	}
	su.ID = row.ID
	return nil
}

func (s *Store) DeleteSignup(ctx context.Context, id int64) error {
	res := s.q(ctx).Delete(&models.Signup{}, id)
	if res.Error != nil {
		return eris.Wrapf(res.Error, "delete signup %d", id)
	}
	if res.RowsAffected == 0 {
		return eris.Wrapf(arena.ErrNotFound, "signup %d", id)
	}
	return nil
}

func (s *Store) ListSignups(ctx context.Context, eventID int64) ([]*arena.Signup, error) {
	var rows []models.Signup
	if err := s.q(ctx).Where("event_id = ?", eventID).Order("id").Find(&rows).Error; err != nil {
		return nil, eris.Wrapf(err, "list signups of event %d", eventID)
	}
	out := make([]*arena.Signup, len(rows))
	for i := range rows {
		out[i] = signupFromRow(&rows[i])
	}
	return out, nil
}

func (s *Store) SaveReservation(ctx context.Context, r *arena.Reservation) error {
	if err := s.q(ctx).Omit(clause.Associations).Save(reservationRow(r)).Error; err != nil {
		return eris.Wrapf(err, "save reservation %s", r.ID)
	}
	return nil
}

func (s *Store) DeleteReservation(ctx context.Context, id string) error {
	if err := s.q(ctx).Delete(&models.Reservation{}, "id = ?", id).Error; err != nil {
		return eris.Wrapf(err, "delete reservation %s", id)
	}
	return nil
}

func (s *Store) ListReservations(ctx context.Context, eventID int64) ([]*arena.Reservation, error) {
	var rows []models.Reservation
	if err := s.q(ctx).Where("event_id = ?", eventID).Order("reserved_at, id").Find(&rows).Error; err != nil {
		return nil, eris.Wrapf(err, "list reservations of event %d", eventID)
	}
	out := make([]*arena.Reservation, len(rows))
	for i := range rows {
		out[i] = reservationFromRow(&rows[i])
	}
	return out, nil
}

func (s *Store) AppendElimination(ctx context.Context, e *arena.Elimination) error {
	row := eliminationRow(e)
	if err := s.q(ctx).Omit(clause.Associations).Create(row).Error; err != nil {
		return eris.Wrapf(err, "record elimination of signup %d", e.SignupID)
	}
	e.ID = row.ID
	return nil
}

func (s *Store) ListEliminations(ctx context.Context, eventID int64) ([]*arena.Elimination, error) {
	var rows []models.Elimination
	if err := s.q(ctx).Where("event_id = ?", eventID).Order("id").Find(&rows).Error; err != nil {
		return nil, eris.Wrapf(err, "list eliminations of event %d", eventID)
	}
	out := make([]*arena.Elimination, len(rows))
	for i := range rows {
		out[i] = eliminationFromRow(&rows[i])
	}
	return out, nil
}

func (s *Store) GetRating(ctx context.Context, arenaID, characterID, classID int64) (*arena.Rating, error) {
	var row models.Rating
	err := s.q(ctx).
		Where("arena_id = ? AND character_id = ? AND combatant_class_id = ?", arenaID, characterID, classID).
		First(&row).Error
	if err != nil {
		return nil, notFound(err, "rating %d/%d/%d", arenaID, characterID, classID)
	}
	return ratingFromRow(&row), nil
}

func (s *Store) UpsertRating(ctx context.Context, r *arena.Rating) error {
	row := models.Rating{
		ArenaID:          r.ArenaID,
		CharacterID:      r.CharacterID,
		CombatantClassID: r.CombatantClassID,
		Value:            r.Value,
		RatedEvents:      r.RatedEvents,
		LastUpdatedAt:    r.LastUpdatedAt,
	}
	err := s.q(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "arena_id"}, {Name: "character_id"}, {Name: "combatant_class_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "rated_events", "last_updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return eris.Wrapf(err, "upsert rating of character %d", r.CharacterID)
	}
	return nil
}

func (s *Store) ListRatings(ctx context.Context, arenaID, classID int64) ([]*arena.Rating, error) {
	q := s.q(ctx).Where("arena_id = ?", arenaID)
	if classID != 0 {
		q = q.Where("combatant_class_id = ?", classID)
	}
	var rows []models.Rating
	if err := q.Order("value DESC, character_id").Find(&rows).Error; err != nil {
		return nil, eris.Wrapf(err, "list ratings of arena %d", arenaID)
	}
	out := make([]*arena.Rating, len(rows))
	for i := range rows {
		out[i] = ratingFromRow(&rows[i])
	}
	return out, nil
}

func (s *Store) SaveBet(ctx context.Context, b *arena.Bet) error {
	row, err := betRow(b)
	if err != nil {
		return err
	}
	if err := s.q(ctx).Omit(clause.Associations).Save(row).Error; err != nil {
		return eris.Wrapf(err, "save bet of character %d", b.CharacterID)
	}
	b.ID = row.ID
	return nil
}

func (s *Store) ListBets(ctx context.Context, eventID int64) ([]*arena.Bet, error) {
	var rows []models.Bet
	if err := s.q(ctx).Where("event_id = ?", eventID).Order("id").Find(&rows).Error; err != nil {
		return nil, eris.Wrapf(err, "list bets of event %d", eventID)
	}
	out := make([]*arena.Bet, 0, len(rows))
	for i := range rows {
		b, err := betFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *Store) ReplacePools(ctx context.Context, eventID int64, pools []arena.BetPool) error {
	return s.q(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", eventID).Delete(&models.BetPool{}).Error; err != nil {
			return eris.Wrapf(err, "clear pools of event %d", eventID)
		}
		if len(pools) == 0 {
			return nil
		}
		rows := make([]models.BetPool, len(pools))
		for i, p := range pools {
			rows[i] = models.BetPool{
				EventID:    eventID,
				SideIndex:  p.SideIndex,
				Model:      string(p.Model),
				TotalStake: p.TotalStake,
				TakeRate:   p.TakeRate,
				BetCount:   p.BetCount,
			}
		}
		return eris.Wrapf(tx.Create(&rows).Error, "write pools of event %d", eventID)
	})
}

func (s *Store) ListPools(ctx context.Context, eventID int64) ([]arena.BetPool, error) {
	var rows []models.BetPool
	if err := s.q(ctx).Where("event_id = ?", eventID).Order("side_index, model").Find(&rows).Error; err != nil {
		return nil, eris.Wrapf(err, "list pools of event %d", eventID)
	}
	out := make([]arena.BetPool, len(rows))
	for i, r := range rows {
		out[i] = arena.BetPool{
			EventID:    r.EventID,
			SideIndex:  r.SideIndex,
			Model:      arena.OddsModel(r.Model),
			TotalStake: r.TotalStake,
			TakeRate:   r.TakeRate,
			BetCount:   r.BetCount,
		}
	}
	return out, nil
}

func (s *Store) ReplacePayouts(ctx context.Context, eventID int64, payouts []*arena.BetPayout) error {
	return s.q(ctx).Transaction(func(tx *gorm.DB) error {
		betIDs := make([]int64, 0, len(payouts))
		for _, p := range payouts {
			row := payoutRow(p)
			row.ID = 0
			err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "bet_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"character_id", "side_index", "model", "amount", "is_blocked", "collected_at"}),
			}).Create(row).Error
			if err != nil {
				return eris.Wrapf(err, "write payout for bet %d", p.BetID)
			}
			p.ID = row.ID
			betIDs = append(betIDs, p.BetID)
		}

		stale := tx.Where("event_id = ?", eventID)
		if len(betIDs) > 0 {
			stale = stale.Where("bet_id NOT IN ?", betIDs)
		}
		return eris.Wrapf(stale.Delete(&models.BetPayout{}).Error, "prune payouts of event %d", eventID)
	})
}

func (s *Store) SavePayout(ctx context.Context, p *arena.BetPayout) error {
	row := payoutRow(p)
	if err := s.q(ctx).Omit(clause.Associations).Save(row).Error; err != nil {
		return eris.Wrapf(err, "save payout for bet %d", p.BetID)
	}
	p.ID = row.ID
	return nil
}

func (s *Store) ListPayouts(ctx context.Context, eventID int64) ([]*arena.BetPayout, error) {
	var rows []models.BetPayout
	if err := s.q(ctx).Where("event_id = ?", eventID).Order("id").Find(&rows).Error; err != nil {
		return nil, eris.Wrapf(err, "list payouts of event %d", eventID)
	}
	out := make([]*arena.BetPayout, len(rows))
	for i := range rows {
		out[i] = payoutFromRow(&rows[i])
	}
	return out, nil
}

func (s *Store) ReplaceFinanceSnapshot(ctx context.Context, snap *arena.FinanceSnapshot) error {
	row := snapshotRow(snap)
	row.ID = 0
	err := s.q(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "arena_id"}, {Name: "event_id"}, {Name: "period_start"}},
		DoUpdates: clause.AssignmentColumns([]string{"period_end", "revenue", "cost", "tax_withheld", "profit", "created_at"}),
	}).Create(row).Error
	if err != nil {
		return eris.Wrapf(err, "write finance snapshot of arena %d", snap.ArenaID)
	}
	snap.ID = row.ID
	return nil
}

func (s *Store) ListFinanceSnapshots(ctx context.Context, arenaID int64) ([]*arena.FinanceSnapshot, error) {
	var rows []models.FinanceSnapshot
	if err := s.q(ctx).Where("arena_id = ?", arenaID).Order("id").Find(&rows).Error; err != nil {
		return nil, eris.Wrapf(err, "list finance snapshots of arena %d", arenaID)
	}
	out := make([]*arena.FinanceSnapshot, len(rows))
	for i := range rows {
		out[i] = snapshotFromRow(&rows[i])
	}
	return out, nil
}

// Transaction runs fn against a store bound to one database transaction.
// Any error rolls back every write fn made.
func (s *Store) Transaction(ctx context.Context, fn func(tx store.Store) error) error {
	return s.q(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}
