package service

import (
	"log"

	"github.com/go-co-op/gocron/v2"
	"github.com/hartell/matrixci/internal/store"
)

func NewScheduler() gocron.Scheduler {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal(err)
	}
	return scheduler
}

// ScheduleRuns triggers a run on the given lane on a cron schedule. Scheduled
// triggers never cancel on supersession.
func ScheduleRuns(
	scheduler gocron.Scheduler,
	orchestrator *Orchestrator,
	crontab, lane string,
) error {
	_, err := scheduler.NewJob(
		gocron.CronJob(crontab, false),
		gocron.NewTask(func() {
			trigger := Trigger{Lane: lane, Kind: store.TriggerSchedule}
			if _, err := orchestrator.Execute(trigger); err != nil {
				log.Printf("err executing scheduled run on lane '%s': %+v\n", lane, err)
			}
		}),
	)
	return err
}
