package app

import (
	"sync"
	"time"
	"whalewatch/clients/notifier"
	"whalewatch/model"

	"go.uber.org/zap"
)

// alertLogCap bounds the in-memory alert history.
const alertLogCap = 500

// AlertLog is an in-memory ring of recent alerts, newest first.
type AlertLog struct {
	mu     sync.RWMutex
	alerts []model.Alert
	total  int64
}

func NewAlertLog() *AlertLog {
	return &AlertLog{alerts: make([]model.Alert, 0, alertLogCap)}
}

// Save records an alert, evicting the oldest when full.
func (l *AlertLog) Save(alert model.Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++
	l.alerts = append(l.alerts, alert)
	if len(l.alerts) > alertLogCap {
		l.alerts = l.alerts[len(l.alerts)-alertLogCap:]
	}
}

// Recent returns up to n alerts, newest first.
func (l *AlertLog) Recent(n int) []model.Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.alerts) {
		n = len(l.alerts)
	}
	out := make([]model.Alert, 0, n)
	for i := len(l.alerts) - 1; i >= len(l.alerts)-n; i-- {
		out = append(out, l.alerts[i])
	}
	return out
}

// Total returns the lifetime alert count, including evicted ones.
func (l *AlertLog) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// CountsInPeriods returns retained alert counts for 1h, 24h, and 7d.
func (l *AlertLog) CountsInPeriods(now time.Time) (hour, day, week int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	hourCutoff := now.Add(-1 * time.Hour)
	dayCutoff := now.Add(-24 * time.Hour)
	weekCutoff := now.Add(-7 * 24 * time.Hour)

	for _, a := range l.alerts {
		if a.Timestamp.After(hourCutoff) {
			hour++
		}
		if a.Timestamp.After(dayCutoff) {
			day++
		}
		if a.Timestamp.After(weekCutoff) {
			week++
		}
	}
	return
}

// NotifierSink adapts a notifier into an AlertSink. Delivery happens on a
// separate goroutine so slow channels never stall ingestion.
type NotifierSink struct {
	logger   *zap.Logger
	notifier notifier.Notifier
}

func NewNotifierSink(logger *zap.Logger, n notifier.Notifier) *NotifierSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifierSink{logger: logger, notifier: n}
}

func (s *NotifierSink) Emit(alert model.Alert) {
	if s.notifier == nil {
		return
	}
	go s.notifier.SendAlert(alert)
}
