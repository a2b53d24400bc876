// Package trigger decides when time-driven callbacks need to be installed,
// rescheduled or removed. It never touches the timer host itself.
package trigger

// Type names a trigger in the static catalog.
type Type string

const (
	OnOpen                 Type = "onOpen"
	DailyAnnouncementCheck Type = "dailyAnnouncementCheck"
	DailyRetryCheck        Type = "dailyRetryCheck"
	AnnouncementScheduled  Type = "announcementScheduled"
	RetryQueueScheduled    Type = "retryQueueScheduled"
)

// Kind separates fixed backstops from triggers scheduled for pending work.
type Kind string

const (
	KindAutomatic Kind = "automatic"
	KindBackstop  Kind = "backstop"
	KindScheduled Kind = "scheduled"
)

// Config is the catalog entry for a trigger type.
type Config struct {
	Type        Type
	Kind        Kind
	Handler     string
	Installable bool
	// IDKey is the property key under which the host stores the installed
	// trigger's identity.
	IDKey string
	// TimeKey is set only for scheduled triggers and holds the target fire
	// time in epoch milliseconds.
	TimeKey string
}

// Lookup returns the catalog entry for t.
func Lookup(t Type) (Config, bool) {
	switch t {
	case OnOpen:
		return Config{Type: OnOpen, Kind: KindAutomatic, Handler: "onOpen"}, true
	case DailyAnnouncementCheck:
		return Config{
			Type:        DailyAnnouncementCheck,
			Kind:        KindBackstop,
			Handler:     "dailyAnnouncementCheck",
			Installable: true,
			IDKey:       "TRIGGER_ID_DAILY_ANNOUNCEMENT",
		}, true
	case DailyRetryCheck:
		return Config{
			Type:        DailyRetryCheck,
			Kind:        KindBackstop,
			Handler:     "dailyRetryCheck",
			Installable: true,
			IDKey:       "TRIGGER_ID_DAILY_RETRY",
		}, true
	case AnnouncementScheduled:
		return Config{
			Type:        AnnouncementScheduled,
			Kind:        KindScheduled,
			Handler:     "announcementTrigger",
			Installable: true,
			IDKey:       "TRIGGER_ID_ANNOUNCEMENT",
			TimeKey:     "TRIGGER_TIME_ANNOUNCEMENT",
		}, true
	case RetryQueueScheduled:
		return Config{
			Type:        RetryQueueScheduled,
			Kind:        KindScheduled,
			Handler:     "retryQueueTrigger",
			Installable: true,
			IDKey:       "TRIGGER_ID_RETRY_QUEUE",
			TimeKey:     "TRIGGER_TIME_RETRY_QUEUE",
		}, true
	default:
		return Config{}, false
	}
}

// All returns every catalog type in a stable order.
func All() []Type {
	return []Type{OnOpen, DailyAnnouncementCheck, DailyRetryCheck, AnnouncementScheduled, RetryQueueScheduled}
}

// Backstops returns the installable fixed-schedule triggers.
func Backstops() []Type {
	return []Type{DailyAnnouncementCheck, DailyRetryCheck}
}

// IsScheduled reports whether t is fired at a computed instant.
func (c Config) IsScheduled() bool {
	return c.Kind == KindScheduled && c.TimeKey != ""
}
