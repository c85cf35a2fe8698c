package services

import (
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// Scheduler drives the periodic background work: competition lifecycle
// sweeps every minute and, when an archiver is configured, a daily ledger
// export.
type Scheduler struct {
	Log          *logrus.Logger
	Competitions *CompetitionService

	sched gocron.Scheduler
}

func NewScheduler(log *logrus.Logger, competitions *CompetitionService) *Scheduler {
	return &Scheduler{Log: log, Competitions: competitions}
}

// Start launches the sweep loop. Call Stop on shutdown.
func (s *Scheduler) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	s.sched = sched
	sched.Start()

	// Every minute: advance competition lifecycles.
	_, err = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			if n, err := s.Competitions.ActivateDue(); err != nil {
				s.Log.WithError(err).Error("competition activation sweep failed")
			} else if n > 0 {
				s.Log.WithField("count", n).Info("competitions activated")
			}

			if n, err := s.Competitions.EndExpired(); err != nil {
				s.Log.WithError(err).Error("competition ending sweep failed")
			} else if n > 0 {
				s.Log.WithField("count", n).Info("competitions ended")
			}
		}),
	)
	return err
}

// AddDailyJob schedules task to run once per day at the given hour and
// minute (local time). Used for the ledger archive export.
func (s *Scheduler) AddDailyJob(hour, minute int, task func()) error {
	_, err := s.sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(hour), uint(minute), 0))),
		gocron.NewTask(task),
	)
	return err
}

func (s *Scheduler) Stop() {
	if s.sched != nil {
		_ = s.sched.Shutdown()
	}
}
