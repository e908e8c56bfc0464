package action

import (
	"sync"
	"time"

	"github.com/ericvolp12/rental-monitor/pkg/contract"
	"github.com/google/uuid"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

type Notification struct {
	ID         string               `json:"id"`
	Level      Level                `json:"level"`
	Action     string               `json:"action"`
	Message    string               `json:"message"`
	TxHash     string               `json:"transactionHash,omitempty"`
	Diagnostic *contract.Diagnostic `json:"diagnostic,omitempty"`
	CreatedAt  time.Time            `json:"createdAt"`
}

const DefaultNotificationCap = 50

// Notifications keeps the most recent user facing notifications, newest first.
type Notifications struct {
	mu    sync.RWMutex
	items []Notification
	cap   int
}

func NewNotifications(capacity int) *Notifications {
	if capacity < 1 {
		capacity = DefaultNotificationCap
	}
	return &Notifications{cap: capacity}
}

// Add stamps n with an id and creation time and stores it.
func (ns *Notifications) Add(n Notification) Notification {
	n.ID = uuid.NewString()
	n.CreatedAt = time.Now()

	ns.mu.Lock()
	defer ns.mu.Unlock()

	items := make([]Notification, 0, min(len(ns.items)+1, ns.cap))
	items = append(items, n)
	for _, it := range ns.items {
		if len(items) == ns.cap {
			break
		}
		items = append(items, it)
	}
	ns.items = items
	return n
}

func (ns *Notifications) List() []Notification {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	out := make([]Notification, len(ns.items))
	copy(out, ns.items)
	return out
}

// Dismiss removes the notification with id and reports whether it existed.
func (ns *Notifications) Dismiss(id string) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for i, it := range ns.items {
		if it.ID == id {
			ns.items = append(ns.items[:i:i], ns.items[i+1:]...)
			return true
		}
	}
	return false
}
