package researcher

// EventType names a step of a research run.
type EventType string

const (
	EventSearchStarted EventType = "search_started"
	EventSearchDone    EventType = "search_done"
	EventFetching      EventType = "fetching"
	EventFetched       EventType = "fetched"
	EventFailed        EventType = "failed"
	EventSynthetic     EventType = "synthetic"
	EventDone          EventType = "done"
)

// Event reports progress of a research run.
type Event struct {
	Type    EventType `json:"type"`
	URL     string    `json:"url,omitempty"`
	Title   string    `json:"title,omitempty"`
	Message string    `json:"message,omitempty"`
	// Collected is the number of documents accepted so far.
	Collected int `json:"collected"`
	Target    int `json:"target"`
}

// Observer receives progress events. Implementations must not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) OnEvent(Event) {}
