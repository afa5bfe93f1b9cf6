package service

import (
	"sync"

	"CheckInGuard/internal/repository"
	"CheckInGuard/pkg/push"
	"CheckInGuard/utils"
)

// Deps 构建服务所需的外部依赖
type Deps struct {
	Store    *repository.Store
	Tasks    TaskDispatcher
	Push     push.Sender
	SMS      EscalationPublisher
	Clock    utils.Clock
	Settings Settings
}

// Services 一个进程内共享的服务集合
type Services struct {
	Orchestrator *Orchestrator
	Detector     *Detector
	CheckIn      *CheckInService
	Schedule     *ScheduleService
	Notification *NotificationService
}

func New(deps Deps) *Services {
	if deps.Clock == nil {
		deps.Clock = utils.SystemClock{}
	}
	orch := NewOrchestrator(deps.Store, deps.Tasks, deps.Clock, deps.Settings)
	notification := NewNotificationService(deps.Store, deps.Push, deps.SMS)
	return &Services{
		Orchestrator: orch,
		Detector:     NewDetector(deps.Store, orch, notification, deps.Clock, deps.Settings),
		CheckIn:      NewCheckInService(deps.Store, orch, deps.Clock, deps.Settings),
		Schedule:     NewScheduleService(deps.Store, orch, deps.Clock, deps.Settings),
		Notification: notification,
	}
}

var (
	defaultServices *Services
	initOnce        sync.Once
)

// Init 进程启动时调用一次，handler 通过下面的访问函数取服务
func Init(deps Deps) *Services {
	initOnce.Do(func() {
		defaultServices = New(deps)
	})
	return defaultServices
}

func mustDefault() *Services {
	if defaultServices == nil {
		panic("service not initialized, call service.Init() first")
	}
	return defaultServices
}

func CheckIn() *CheckInService { return mustDefault().CheckIn }

func Schedule() *ScheduleService { return mustDefault().Schedule }

func Notification() *NotificationService { return mustDefault().Notification }

func DefaultDetector() *Detector { return mustDefault().Detector }
