// Package notify implements the alarm and speech side of alert handling.
//
// Alarm and Speaker hold the process-wide playback state. They forward the
// resulting commands to an Output, which is usually the renderer hub and the
// log. Like alert.Manager they must only be driven from the scheduler.
package notify

import (
	"log/slog"
	"time"

	"github.com/srec-ev/tracker/internal/queue"
	"github.com/srec-ev/tracker/internal/scheduler"
)

// Output performs alarm and speech commands somewhere a person can hear them.
type Output interface {
	PlayAlarm()
	StopAlarm()
	Speak(text string)
	CancelSpeech()
}

// Alarm models a looping alarm sound.
type Alarm struct {
	out      Output
	playing  bool
	started  time.Time
	restarts int
	now      func() time.Time
}

func NewAlarm(out Output, now func() time.Time) *Alarm {
	if now == nil {
		now = time.Now
	}
	return &Alarm{out: out, now: now}
}

// Start begins playback unless the alarm is already looping.
func (a *Alarm) Start() {
	if a.playing {
		return
	}
	a.playing = true
	a.started = a.now()
	a.restarts++
	a.out.PlayAlarm()
}

// Stop silences the alarm and rewinds it to the start. Stop on a silent
// alarm still rewinds.
func (a *Alarm) Stop() {
	a.playing = false
	a.started = time.Time{}
	a.out.StopAlarm()
}

func (a *Alarm) Playing() bool { return a.playing }

// Restarts counts how many times playback has begun.
func (a *Alarm) Restarts() int { return a.restarts }

// Elapsed is the current playback offset, zero when stopped.
func (a *Alarm) Elapsed() time.Duration {
	if !a.playing {
		return 0
	}
	return a.now().Sub(a.started)
}

// Speaker plays queued utterances one after another. The duration of an
// utterance is estimated from its length since the real output gives no
// completion callback.
type Speaker struct {
	out     Output
	sched   scheduler.Scheduler
	pending *queue.Queue[string]
	current scheduler.Timer
	speaks  bool
	perChar time.Duration
	minimum time.Duration
}

const (
	DefaultPerChar      = 70 * time.Millisecond
	DefaultMinUtterance = 800 * time.Millisecond
)

func NewSpeaker(out Output, sched scheduler.Scheduler) *Speaker {
	return &Speaker{
		out:     out,
		sched:   sched,
		pending: queue.New[string](),
		perChar: DefaultPerChar,
		minimum: DefaultMinUtterance,
	}
}

// Announce queues text and starts speaking if idle.
func (s *Speaker) Announce(text string) {
	s.pending.Push(text)
	if !s.speaks {
		s.next()
	}
}

func (s *Speaker) next() {
	if s.pending.Empty() {
		s.speaks = false
		s.current = nil
		return
	}
	text := s.pending.Pop()
	s.speaks = true
	s.out.Speak(text)
	s.current = s.sched.AfterFunc(s.estimate(text), s.next)
}

func (s *Speaker) estimate(text string) time.Duration {
	d := time.Duration(len(text)) * s.perChar
	if d < s.minimum {
		return s.minimum
	}
	return d
}

// Cancel drops everything queued and interrupts the current utterance.
func (s *Speaker) Cancel() {
	s.pending.Clear()
	if s.current != nil {
		s.current.Stop()
		s.current = nil
	}
	s.speaks = false
	s.out.CancelSpeech()
}

func (s *Speaker) Speaking() bool { return s.speaks }

// Pending returns the number of utterances waiting behind the current one.
func (s *Speaker) Pending() int { return s.pending.Len() }

// Notifier adapts an Alarm and a Speaker to alert.Sink.
type Notifier struct {
	Alarm   *Alarm
	Speaker *Speaker
}

func NewNotifier(out Output, sched scheduler.Scheduler) *Notifier {
	return &Notifier{
		Alarm:   NewAlarm(out, sched.Now),
		Speaker: NewSpeaker(out, sched),
	}
}

// AlarmStatus is a snapshot of the alarm's playback state.
type AlarmStatus struct {
	Playing  bool          `json:"playing"`
	Restarts int           `json:"restarts"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Status reports the alarm state. Call it from the scheduler.
func (a *Alarm) Status() AlarmStatus {
	return AlarmStatus{Playing: a.playing, Restarts: a.Restarts(), Elapsed: a.Elapsed()}
}

func (n *Notifier) RaiseAlert()          { n.Alarm.Start() }
func (n *Notifier) Clear()               { n.Alarm.Stop() }
func (n *Notifier) Announce(text string) { n.Speaker.Announce(text) }
func (n *Notifier) CancelAnnouncements() { n.Speaker.Cancel() }

// LogOutput writes every command to a logger. It is the fallback when no
// renderer is connected.
type LogOutput struct {
	Logger *slog.Logger
}

func (l LogOutput) PlayAlarm()        { l.Logger.Warn("Alarm started") }
func (l LogOutput) StopAlarm()        { l.Logger.Info("Alarm stopped") }
func (l LogOutput) Speak(text string) { l.Logger.Info("Announcement", "text", text) }
func (l LogOutput) CancelSpeech()     { l.Logger.Debug("Announcements cancelled") }

// Multi fans commands out to several outputs in order.
type Multi []Output

func (m Multi) PlayAlarm() {
	for _, o := range m {
		o.PlayAlarm()
	}
}

func (m Multi) StopAlarm() {
	for _, o := range m {
		o.StopAlarm()
	}
}

func (m Multi) Speak(text string) {
	for _, o := range m {
		o.Speak(text)
	}
}

func (m Multi) CancelSpeech() {
	for _, o := range m {
		o.CancelSpeech()
	}
}
