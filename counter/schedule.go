package counter

import (
	"context"
	"fmt"

	c "github.com/d0ngw/counters/common"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// Job is a task run by Schedule
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// cronLogger adapts the `cron` child logger to cron.Logger,the key-value pairs are kept as fields
type cronLogger struct {
	log c.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Schedule run the jobs on their cron specs,a job is skipped while its previous run is still running
type Schedule struct {
	c.BaseService
	jobs   []Job
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSchedule create Schedule
func NewSchedule(name string, jobs ...Job) *Schedule {
	return &Schedule{
		BaseService: c.BaseService{SName: name},
		jobs:        jobs,
	}
}

// Init implements Initable.Init
func (p *Schedule) Init() error {
	if len(p.jobs) == 0 {
		return errors.New("no job to schedule")
	}
	logger := cronLogger{log: c.Named("cron")}
	p.cron = cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	p.ctx, p.cancel = context.WithCancel(context.Background())
	for _, job := range p.jobs {
		if job.Run == nil {
			return errors.Errorf("job %s has no run func", job.Name)
		}
		if _, err := p.cron.AddFunc(job.Spec, p.wrap(job)); err != nil {
			return errors.Wrapf(err, "invalid spec %q of job %s", job.Spec, job.Name)
		}
	}
	return nil
}

func (p *Schedule) wrap(job Job) func() {
	return func() {
		if p.ctx.Err() != nil {
			return
		}
		c.Infof("begin job %s", job.Name)
		if err := job.Run(p.ctx); err != nil {
			c.Errorf("job %s fail,err:%v", job.Name, err)
			return
		}
		c.Infof("finish job %s", job.Name)
	}
}

// Start implements Service.Start
func (p *Schedule) Start() bool {
	if p.cron == nil {
		c.Errorf("schedule %s is not inited", p.Name())
		return false
	}
	p.cron.Start()
	for _, job := range p.jobs {
		c.Infof("schedule job %s with %s", job.Name, job.Spec)
	}
	return true
}

// Stop implements Service.Stop,the context of cron.Stop is done after the running jobs return
func (p *Schedule) Stop() bool {
	p.cancel()
	<-p.cron.Stop().Done()
	c.Infof("all jobs of %s finished", p.Name())
	return true
}

// ReconcileJob drain the dirty tracker and reconcile the ids every spec
func ReconcileJob(spec string, reconciler *Reconciler, tracker DirtyTracker, batch int) Job {
	return Job{
		Name: "reconcile",
		Spec: spec,
		Run: func(ctx context.Context) error {
			for {
				n, err := reconciler.ReconcileDirty(ctx, tracker, batch)
				if err != nil {
					return err
				}
				if n < batch || ctx.Err() != nil {
					return nil
				}
			}
		},
	}
}

// SyncJob write back the redis counters every spec
func SyncJob(spec string, sync *RedisSync) Job {
	return Job{
		Name: fmt.Sprintf("sync(%s)", sync.Name),
		Spec: spec,
		Run: func(ctx context.Context) error {
			stats, err := sync.ScanAll(ctx)
			c.Infof("sync %s,processed:%d,synced:%d,evicted:%d", sync.Name, stats.Processed, stats.Synced, stats.Evicted)
			return err
		},
	}
}
