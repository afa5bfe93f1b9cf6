package schedule

// 兜底扫描：延迟任务丢失或创建失败时，补记漏打卡并重新排程

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"CheckInGuard/internal/cache"
	"CheckInGuard/internal/deadline"
	"CheckInGuard/internal/model"
	"CheckInGuard/internal/repository"
	"CheckInGuard/internal/service"
	"CheckInGuard/pkg/logger"
	"CheckInGuard/pkg/metrics"
	"CheckInGuard/utils"
)

const sweepLockKey = "sweep"

// Locker 多副本之间的互斥，只用于减少重复工作，正确性依赖幂等键
type Locker interface {
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, owner string) error
}

// RedisLocker 基于 cache 包的 SETNX 锁
type RedisLocker struct{}

func (RedisLocker) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return cache.TryLock(ctx, key, owner, ttl)
}

func (RedisLocker) Unlock(ctx context.Context, key, owner string) error {
	return cache.Unlock(ctx, key, owner)
}

// SweepResult 一轮扫描的统计
type SweepResult struct {
	RunID      string
	Candidates int
	Recorded   int
	Duplicates int
	FirstDay   int
	Healed     int
	Failed     int
}

// Sweeper 周期性兜底扫描
type Sweeper struct {
	store    *repository.Store
	detector *service.Detector
	orch     *service.Orchestrator
	clock    utils.Clock
	settings service.Settings
	locker   Locker
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

func NewSweeper(store *repository.Store, svcs *service.Services, clock utils.Clock, settings service.Settings, locker Locker) *Sweeper {
	return &Sweeper{
		store:    store,
		detector: svcs.Detector,
		orch:     svcs.Orchestrator,
		clock:    clock,
		settings: settings,
		locker:   locker,
		logger:   logger.Named("sweep"),
	}
}

// Run 执行一轮扫描；上一轮未结束或其他副本持有锁时直接跳过
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("Sweep already running, skipping")
		return SweepResult{}, nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	result := SweepResult{RunID: uuid.NewString()}
	if s.locker != nil {
		acquired, err := s.locker.TryLock(ctx, sweepLockKey, result.RunID, s.settings.SweepInterval)
		if err != nil {
			// 锁不可用时照常执行
			s.logger.Warn("Failed to acquire sweep lock, running anyway", zap.Error(err))
		} else if !acquired {
			s.logger.Info("Sweep lock held by another replica, skipping")
			return result, nil
		} else {
			defer func() {
				if err := s.locker.Unlock(context.WithoutCancel(ctx), sweepLockKey, result.RunID); err != nil {
					s.logger.Warn("Failed to release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	start := time.Now()
	now := s.clock.Now()
	s.lastRun = now
	defer func() {
		metrics.Get().RecordSweep(ctx, time.Since(start).Seconds())
	}()

	s.logger.Info("Starting sweep", zap.String("run_id", result.RunID), zap.Time("now", now))

	touched, err := s.recordOverdue(ctx, now, &result)
	if err != nil {
		return result, err
	}
	if err := s.healUnarmed(ctx, touched, &result); err != nil {
		return result, err
	}

	s.logger.Info("Sweep finished",
		zap.String("run_id", result.RunID),
		zap.Int("candidates", result.Candidates),
		zap.Int("recorded", result.Recorded),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("first_day", result.FirstDay),
		zap.Int("healed", result.Healed),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// maxSweepPages 单轮最多翻页次数，剩余的留给下一轮
const maxSweepPages = 20

// recordOverdue 分页处理逾期用户，已判定的截止时间会被标记从而不再出现在查询里
func (s *Sweeper) recordOverdue(ctx context.Context, now time.Time, result *SweepResult) (map[int64]struct{}, error) {
	touched := make(map[int64]struct{})
	for page := 0; page < maxSweepPages; page++ {
		n, settled, err := s.recordPage(ctx, now, result, touched)
		if err != nil {
			return touched, err
		}
		// 不满一页说明已经处理完；整页都失败时停下，避免原地打转
		if n < s.settings.SweepBatchSize || settled == 0 {
			break
		}
	}
	return touched, nil
}

// recordPage 处理一页，返回候选数和本页离开逾期队列的人数
func (s *Sweeper) recordPage(ctx context.Context, now time.Time, result *SweepResult, touched map[int64]struct{}) (int, int, error) {
	overdue, err := s.store.ListOverdue(ctx, now.Add(-s.settings.GracePeriod), s.settings.SweepBatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list overdue seniors: %w", err)
	}
	result.Candidates += len(overdue)

	calc := s.settings.Calculator()
	keys := make([]string, 0, len(overdue))
	keyOf := make(map[int64]string, len(overdue))
	for i := range overdue {
		st := &overdue[i]
		loc := calc.Location(st.Timezone)
		label := calc.SlotLabel(*st.NextExpectedCheckIn, loc, st.CheckInSchedules)
		key := service.ActivityID(st.UserID, label, deadline.LocalDate(*st.NextExpectedCheckIn, loc))
		keyOf[st.UserID] = key
		keys = append(keys, key)
	}
	existing, err := s.store.ExistingActivityIDs(ctx, keys)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prefetch activities: %w", err)
	}

	var (
		recorded atomic.Int64
		settled  atomic.Int64
		failed   atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.settings.SweepConcurrency)

	// mark 把截止时间记为已判定，之后的查询不再返回
	mark := func(st *model.SeniorState) {
		if err := s.store.MarkDeadlineHandled(gctx, st.UserID, *st.NextExpectedCheckIn); err != nil {
			failed.Add(1)
			s.logger.Warn("Sweep failed to mark deadline handled", zap.Int64("user_id", st.UserID), zap.Error(err))
			return
		}
		settled.Add(1)
	}

	for i := range overdue {
		st := &overdue[i]
		if s.detector.IsFirstDay(st, now) {
			result.FirstDay++
			g.Go(func() error { mark(st); return nil })
			continue
		}
		// 任务路径已经记过
		if _, ok := existing[keyOf[st.UserID]]; ok {
			result.Duplicates++
			g.Go(func() error { mark(st); return nil })
			continue
		}
		// 检测器自己会重新排程
		touched[st.UserID] = struct{}{}
		g.Go(func() error {
			out, err := s.detector.RecordOverdue(gctx, st)
			if err != nil {
				failed.Add(1)
				s.logger.Error("Sweep failed to record miss",
					zap.Int64("user_id", st.UserID),
					zap.Error(err),
				)
				return nil
			}
			if out.Recorded {
				recorded.Add(1)
				settled.Add(1)
				return nil
			}
			mark(st)
			return nil
		})
	}
	_ = g.Wait()

	result.Recorded += int(recorded.Load())
	result.Failed += int(failed.Load())
	return len(overdue), int(settled.Load()), nil
}

// healUnarmed 未休假却没有任务的用户重新排程；本轮已处理过的跳过
func (s *Sweeper) healUnarmed(ctx context.Context, touched map[int64]struct{}, result *SweepResult) error {
	unarmed, err := s.store.ListUnarmed(ctx, s.settings.SweepBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list unarmed seniors: %w", err)
	}

	var healed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.settings.SweepConcurrency)
	for _, st := range unarmed {
		if _, ok := touched[st.UserID]; ok {
			continue
		}
		userID := st.UserID
		g.Go(func() error {
			if err := s.orch.Rearm(gctx, userID, "sweep_heal"); err != nil {
				failed.Add(1)
				s.logger.Warn("Sweep failed to rearm", zap.Int64("user_id", userID), zap.Error(err))
				return nil
			}
			healed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result.Healed = int(healed.Load())
	result.Failed += int(failed.Load())
	return nil
}

// LastRun 最近一次扫描开始的时间
func (s *Sweeper) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Loop 按固定间隔执行，直到 ctx 结束
func (s *Sweeper) Loop(ctx context.Context) {
	ticker := time.NewTicker(s.settings.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, s.settings.SweepInterval)
			if _, err := s.Run(runCtx); err != nil {
				s.logger.Error("Sweep run failed", zap.Error(err))
			}
			cancel()
		}
	}
}
