package infra

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const DefaultMonitorInterval = 5 * time.Second

// MonitorExecutable signals once when the running binary is replaced on disk,
// so a supervisor can restart the process with the new build.
func MonitorExecutable(ctx context.Context, interval time.Duration) <-chan struct{} {
	ch := make(chan struct{}, 1)
	entry := log.WithField("object", "ExecutableMonitor")
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}

	go func() {
		defer close(ch)

		exeFilename, err := os.Executable()
		if err != nil {
			entry.WithField("error", err.Error()).Warn("cant resolve executable path")
			return
		}
		stat, err := os.Stat(exeFilename)
		if err != nil {
			entry.WithField("error", err.Error()).Warn("cant stat executable")
			return
		}
		originalTime := stat.ModTime()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stat, err := os.Stat(exeFilename)
				if err != nil {
					entry.WithField("error", err.Error()).Debug("cant stat executable on tick")
					continue
				}
				if !originalTime.Equal(stat.ModTime()) {
					entry.WithField("path", exeFilename).Info("executable changed")
					ch <- struct{}{}
					return
				}
			}
		}
	}()
	return ch
}
