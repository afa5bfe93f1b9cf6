package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"CheckInGuard/internal/model"
	"CheckInGuard/pkg/errors"
)

// maxVersionRetries 乐观锁冲突时整个事务重跑的次数
const maxVersionRetries = 3

// ErrNoop 由 UpdateState 的回调返回，表示本次无需写入
var ErrNoop = stderrors.New("no state change")

var errVersionConflict = stderrors.New("senior state version conflict")

// Store 打卡状态存储，所有写操作都以单个用户的状态行为单位做乐观并发控制
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// StateTx 事务内可用的写操作
type StateTx struct {
	tx *gorm.DB
}

// InsertActivity 以 ID 为幂等键插入，已存在时返回 false
func (t *StateTx) InsertActivity(a *model.Activity) (bool, error) {
	a.Timestamp = a.Timestamp.UTC()
	res := t.tx.Clauses(clause.OnConflict{DoNothing: true}).Create(a)
	if res.Error != nil {
		return false, fmt.Errorf("insert activity %s: %w", a.ID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ActivityExists 事务内检查幂等键
func (t *StateTx) ActivityExists(id string) (bool, error) {
	var count int64
	if err := t.tx.Model(&model.Activity{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (t *StateTx) CreateCheckIn(c *model.CheckIn) error {
	c.CheckedInAt = c.CheckedInAt.UTC()
	return t.tx.Create(c).Error
}

// GetState 读取状态，不存在返回 errors.ErrStateNotFound
func (s *Store) GetState(ctx context.Context, userID int64) (*model.SeniorState, error) {
	var st model.SeniorState
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&st).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// CreateState 已存在时不覆盖，返回是否新建
func (s *Store) CreateState(ctx context.Context, st *model.SeniorState) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(st)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateState 读取最新状态交给 fn 修改，再以 version 做条件写回。
// fn 可能因版本冲突被多次调用，必须只依赖传入的状态。返回 ErrNoop 时回滚并返回读到的状态。
func (s *Store) UpdateState(ctx context.Context, userID int64, fn func(tx *StateTx, st *model.SeniorState) error) (*model.SeniorState, error) {
	var lastErr error
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		var out *model.SeniorState
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var st model.SeniorState
			if err := tx.Where("user_id = ?", userID).Take(&st).Error; err != nil {
				if stderrors.Is(err, gorm.ErrRecordNotFound) {
					return errors.ErrStateNotFound
				}
				return err
			}
			snapshot := st

			if err := fn(&StateTx{tx: tx}, &st); err != nil {
				if stderrors.Is(err, ErrNoop) {
					out = &snapshot
				}
				return err
			}

			prev := st.Version
			st.Version = prev + 1
			res := tx.Model(&st).Where("version = ?", prev).Select("*").Omit("user_id", "created_at").Updates(&st)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errVersionConflict
			}
			out = &st
			return nil
		})

		switch {
		case err == nil:
			return out, nil
		case stderrors.Is(err, ErrNoop):
			return out, nil
		case stderrors.Is(err, errVersionConflict):
			lastErr = err
			continue
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %w", errors.ErrStaleState, lastErr)
}

// ListOverdue 兜底扫描：未休假、截止时间早于 before 且该截止时间尚未判定过的用户
func (s *Store) ListOverdue(ctx context.Context, before time.Time, limit int) ([]model.SeniorState, error) {
	var out []model.SeniorState
	err := s.db.WithContext(ctx).
		Where("vacation_mode = ? AND next_expected_check_in IS NOT NULL AND next_expected_check_in < ?", false, before.UTC()).
		Where("last_handled_deadline IS NULL OR last_handled_deadline <> next_expected_check_in").
		Order("next_expected_check_in ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkDeadlineHandled 截止时间仍是 at 时记为已判定；期间已重新排程则不动
func (s *Store) MarkDeadlineHandled(ctx context.Context, userID int64, at time.Time) error {
	at = at.UTC()
	_, err := s.UpdateState(ctx, userID, func(_ *StateTx, st *model.SeniorState) error {
		if st.NextExpectedCheckIn == nil || !st.NextExpectedCheckIn.Equal(at) {
			return ErrNoop
		}
		if st.LastHandledDeadline != nil && st.LastHandledDeadline.Equal(at) {
			return ErrNoop
		}
		st.LastHandledDeadline = &at
		return nil
	})
	if stderrors.Is(err, errors.ErrStateNotFound) {
		return nil
	}
	return err
}

// ListUnarmed 未休假但没有挂起任务的用户，用于自愈
func (s *Store) ListUnarmed(ctx context.Context, limit int) ([]model.SeniorState, error) {
	var out []model.SeniorState
	err := s.db.WithContext(ctx).
		Where("vacation_mode = ? AND active_task_id IS NULL", false).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ExistingActivityIDs 批量查询哪些幂等键已经写过
func (s *Store) ExistingActivityIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var found []string
	if err := s.db.WithContext(ctx).Model(&model.Activity{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	for _, id := range found {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *Store) ListActivities(ctx context.Context, userID int64) ([]model.Activity, error) {
	var out []model.Activity
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("timestamp ASC").Find(&out).Error
	return out, err
}

func (s *Store) ListCheckIns(ctx context.Context, userID int64, limit int) ([]model.CheckIn, error) {
	var out []model.CheckIn
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("checked_in_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// ActiveCaregivers 按优先级返回有效的监护人
func (s *Store) ActiveCaregivers(ctx context.Context, seniorID int64) ([]model.CaregiverLink, error) {
	var out []model.CaregiverLink
	err := s.db.WithContext(ctx).
		Where("senior_id = ? AND status = ?", seniorID, model.CaregiverLinkActive).
		Order("priority ASC").
		Find(&out).Error
	return out, err
}

// DeviceTokens 返回这些用户的全部推送 token
func (s *Store) DeviceTokens(ctx context.Context, userIDs ...int64) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var out []string
	err := s.db.WithContext(ctx).Model(&model.DeviceToken{}).Where("user_id IN ?", userIDs).Pluck("token", &out).Error
	return out, err
}

// UpsertDeviceToken token 换绑到新用户时覆盖 user_id
func (s *Store) UpsertDeviceToken(ctx context.Context, dt *model.DeviceToken) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform", "updated_at"}),
	}).Create(dt).Error
}

func (s *Store) DeleteDeviceTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Unscoped().Where("token IN ?", tokens).Delete(&model.DeviceToken{}).Error
}
