// Package memdb keeps the repository methods of package db in memory for
// component tests.
package memdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"notification-engine/internal/db"
	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/models"
)

type pairKey struct{ a, b string }

type Store struct {
	mu            sync.Mutex
	notifications map[string]models.Notification
	deliveries    map[string]models.Delivery
	deliveryIndex map[pairKey]string
	seen          map[pairKey]models.SeenRecord
	users         map[string]models.User
	vacations     map[string]bool
	configs       map[string]models.NotificationConfiguration
	prefs         map[string][]models.UserNotificationPreference

	// PreferenceQueries counts PreferencesForUsers calls.
	PreferenceQueries int
	// FailDelivery makes UpdateDelivery fail for the channel.
	FailDelivery map[models.Channel]error
}

func New() *Store {
	return &Store{
		notifications: map[string]models.Notification{},
		deliveries:    map[string]models.Delivery{},
		deliveryIndex: map[pairKey]string{},
		seen:          map[pairKey]models.SeenRecord{},
		users:         map[string]models.User{},
		vacations:     map[string]bool{},
		configs:       map[string]models.NotificationConfiguration{},
		prefs:         map[string][]models.UserNotificationPreference{},
		FailDelivery:  map[models.Channel]error{},
	}
}

// Seed helpers.

func (s *Store) AddUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) AddVacation(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vacations[userID] = true
}

func (s *Store) AddConfiguration(cfg models.NotificationConfiguration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.Key] = cfg
}

func (s *Store) AddPreference(p models.UserNotificationPreference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[p.UserID] = append(s.prefs[p.UserID], p)
}

// PutDelivery stores d as is, assigning an ID when missing.
func (s *Store) PutDelivery(d models.Delivery) models.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	s.deliveries[d.ID] = d
	s.deliveryIndex[pairKey{d.NotificationID, string(d.Channel)}] = d.ID
	return d
}

// PutSeen stores rec as is.
func (s *Store) PutSeen(rec models.SeenRecord) models.SeenRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.seen[pairKey{rec.NotificationID, rec.UserID}] = rec
	return rec
}

// Notifications

func (s *Store) CreateNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	s.notifications[n.ID] = *n
	return nil
}

func (s *Store) GetNotification(_ context.Context, id string) (models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return models.Notification{}, apperrors.NewNotFound("notification %s", id)
	}
	return n, nil
}

func (s *Store) MarkNotificationSent(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil
	}
	if n.SentAt == nil {
		n.SentAt = &at
	}
	s.notifications[id] = n
	return nil
}

func (s *Store) unseenLocked(userID string) []models.Notification {
	var out []models.Notification
	for _, n := range s.notifications {
		if n.UserID == nil || *n.UserID != userID {
			continue
		}
		if _, ok := s.seen[pairKey{n.ID, userID}]; ok {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Store) ListUnseenNotifications(_ context.Context, userID string, limit, offset int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.unseenLocked(userID)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) CountUnseenNotifications(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unseenLocked(userID)), nil
}

// Deliveries

func copyDelivery(d models.Delivery) models.Delivery {
	if d.Metadata != nil {
		meta := make(map[string]interface{}, len(d.Metadata))
		for k, v := range d.Metadata {
			meta[k] = v
		}
		d.Metadata = meta
	}
	return d
}

func (s *Store) UpdateDelivery(_ context.Context, notificationID string, channel models.Channel, mutate db.DeliveryMutation) (models.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailDelivery[channel]; err != nil {
		return models.Delivery{}, err
	}

	key := pairKey{notificationID, string(channel)}
	created := false
	id, ok := s.deliveryIndex[key]
	if !ok {
		now := time.Now().UTC()
		id = uuid.NewString()
		s.deliveries[id] = models.Delivery{
			ID:             id,
			NotificationID: notificationID,
			Channel:        channel,
			Status:         models.DeliveryPending,
			Metadata:       map[string]interface{}{},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		s.deliveryIndex[key] = id
		created = true
	}

	dl := copyDelivery(s.deliveries[id])
	changed, err := mutate(&dl, created)
	if err != nil {
		if created {
			delete(s.deliveries, id)
			delete(s.deliveryIndex, key)
		}
		return models.Delivery{}, err
	}
	if changed {
		dl.UpdatedAt = time.Now().UTC()
		s.deliveries[id] = dl
	}
	return copyDelivery(s.deliveries[id]), nil
}

func (s *Store) UpdateDeliveryByID(_ context.Context, id string, mutate db.DeliveryMutation) (models.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.deliveries[id]
	if !ok {
		return models.Delivery{}, apperrors.NewNotFound("delivery %s", id)
	}
	dl := copyDelivery(cur)
	changed, err := mutate(&dl, false)
	if err != nil {
		return models.Delivery{}, err
	}
	if changed {
		dl.UpdatedAt = time.Now().UTC()
		s.deliveries[id] = dl
	}
	return copyDelivery(s.deliveries[id]), nil
}

func (s *Store) GetDelivery(_ context.Context, id string) (models.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return models.Delivery{}, apperrors.NewNotFound("delivery %s", id)
	}
	return copyDelivery(d), nil
}

// DeliveryFor returns the row for the pair, if any.
func (s *Store) DeliveryFor(notificationID string, channel models.Channel) (models.Delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.deliveryIndex[pairKey{notificationID, string(channel)}]
	if !ok {
		return models.Delivery{}, false
	}
	return copyDelivery(s.deliveries[id]), true
}

func (s *Store) ListDeliveries(_ context.Context, notificationID string) ([]models.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Delivery
	for _, d := range s.deliveries {
		if d.NotificationID == notificationID {
			out = append(out, copyDelivery(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out, nil
}

func (s *Store) ListFailedDeliveries(_ context.Context, limit int) ([]models.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Delivery
	for _, d := range s.deliveries {
		if d.Status == models.DeliveryFailed {
			out = append(out, copyDelivery(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Seen records

func (s *Store) InsertSeen(_ context.Context, notificationID, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{notificationID, userID}
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = models.SeenRecord{
		ID:             uuid.NewString(),
		NotificationID: notificationID,
		UserID:         userID,
		SeenAt:         at,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	return true, nil
}

func (s *Store) MarkAllSeen(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, notif := range s.unseenLocked(userID) {
		s.seen[pairKey{notif.ID, userID}] = models.SeenRecord{
			ID:             uuid.NewString(),
			NotificationID: notif.ID,
			UserID:         userID,
			SeenAt:         at,
			CreatedAt:      at,
			UpdatedAt:      at,
		}
		n++
	}
	return n, nil
}

func (s *Store) CountSeen(_ context.Context, notificationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.seen {
		if k.a == notificationID {
			n++
		}
	}
	return n, nil
}

func (s *Store) UpdateSeenRecord(_ context.Context, notificationID, userID string, mutate db.SeenMutation) (models.SeenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{notificationID, userID}
	rec, ok := s.seen[key]
	if !ok {
		now := time.Now().UTC()
		rec = models.SeenRecord{
			ID:             uuid.NewString(),
			NotificationID: notificationID,
			UserID:         userID,
			SeenAt:         now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}
	if err := mutate(&rec, !ok); err != nil {
		return models.SeenRecord{}, err
	}
	rec.UpdatedAt = time.Now().UTC()
	s.seen[key] = rec
	return rec, nil
}

func (s *Store) GetSeenRecord(_ context.Context, notificationID, userID string) (models.SeenRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.seen[pairKey{notificationID, userID}]
	return rec, ok, nil
}

func (s *Store) reminders(pred func(models.SeenRecord) bool) []models.SeenRecord {
	var out []models.SeenRecord
	for _, rec := range s.seen {
		if rec.RemindAt != nil && pred(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemindAt.Before(*out[j].RemindAt) })
	return out
}

func (s *Store) ListDueReminders(_ context.Context, now time.Time, limit int) ([]models.SeenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.reminders(func(r models.SeenRecord) bool { return !r.RemindAt.After(now) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListRemindersForUser(_ context.Context, userID string) ([]models.SeenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reminders(func(r models.SeenRecord) bool { return r.UserID == userID }), nil
}

func (s *Store) ClearReminder(_ context.Context, id string, dueBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, rec := range s.seen {
		if rec.ID != id {
			continue
		}
		if rec.RemindAt == nil || rec.RemindAt.After(dueBefore) {
			return false, nil
		}
		rec.RemindAt = nil
		rec.UpdatedAt = dueBefore
		s.seen[k] = rec
		return true, nil
	}
	return false, nil
}

func (s *Store) ClearStaleReminders(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, rec := range s.seen {
		if rec.RemindAt != nil && rec.RemindAt.Before(cutoff) {
			rec.RemindAt = nil
			s.seen[k] = rec
			n++
		}
	}
	return n, nil
}

func (s *Store) ReminderCounts(_ context.Context, now time.Time, within time.Duration) (scheduled, due, upcoming int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	horizon := now.Add(within)
	for _, rec := range s.seen {
		if rec.RemindAt == nil {
			continue
		}
		if rec.RemindAt.After(now) {
			scheduled++
			if !rec.RemindAt.After(horizon) {
				upcoming++
			}
		} else {
			due++
		}
	}
	return scheduled, due, upcoming, nil
}

// Users and preferences

func (s *Store) UsersInSectors(_ context.Context, sectorIDs []string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range sectorIDs {
		wanted[id] = true
	}
	var out []models.User
	for _, u := range s.users {
		if wanted[u.SectorID] {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UsersByIDs(_ context.Context, ids []string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) GetUser(_ context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, apperrors.NewNotFound("user %s", id)
	}
	return u, nil
}

func (s *Store) DeviceTokens(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID].DeviceTokens, nil
}

func (s *Store) VacationingUserIDs(_ context.Context, ids []string, _, _ time.Time) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]bool{}
	for _, id := range ids {
		if s.vacations[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (s *Store) GetNotificationConfiguration(_ context.Context, key string) (models.NotificationConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[key]
	if !ok {
		return models.NotificationConfiguration{}, apperrors.NewNotFound("notification configuration %s", key)
	}
	return cfg, nil
}

func (s *Store) PreferencesForUsers(_ context.Context, userIDs []string, _, _ string) (map[string][]models.UserNotificationPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PreferenceQueries++
	out := make(map[string][]models.UserNotificationPreference, len(userIDs))
	for _, id := range userIDs {
		if p, ok := s.prefs[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
