// internal/session/activity.go
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jason-s-yu/lobbyd/internal/lobby"
	"github.com/sirupsen/logrus"
)

const (
	activityQueueSize = 256
	sinkTimeout       = 5 * time.Second
)

// activityLog fans activity records out to the configured sinks on a single background
// worker. Recording never blocks the command path; when the queue is full the record is dropped.
type activityLog struct {
	sinks  []lobby.ActivitySink
	queue  chan lobby.Activity
	logger *logrus.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newActivityLog(sinks []lobby.ActivitySink, logger *logrus.Logger) *activityLog {
	a := &activityLog{
		sinks:  sinks,
		queue:  make(chan lobby.Activity, activityQueueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	if len(sinks) == 0 {
		close(a.done)
		return a
	}
	go a.run()
	return a
}

func (a *activityLog) record(act lobby.Activity) {
	if len(a.sinks) == 0 {
		return
	}
	select {
	case a.queue <- act:
	default:
		a.logger.WithFields(logrus.Fields{"code": act.Code, "kind": act.Kind}).Warn("activity queue full, dropped record")
	}
}

func (a *activityLog) run() {
	defer close(a.done)
	for act := range a.queue {
		for _, sink := range a.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			if err := sink.Record(ctx, act); err != nil {
				a.logger.WithError(err).WithFields(logrus.Fields{"code": act.Code, "kind": act.Kind}).Error("failed to record lobby activity")
			}
			cancel()
		}
	}
}

// close stops accepting records and waits for the queue to drain.
func (a *activityLog) close() {
	a.closeOnce.Do(func() {
		if len(a.sinks) > 0 {
			close(a.queue)
		}
	})
	<-a.done
}
