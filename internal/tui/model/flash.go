package model

import (
	"sync"
	"time"
)

// FlashLevel is the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

// FlashMessage is a transient notification.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Expires time.Time
}

// Flash holds the current notification. The zero value is ready to use.
type Flash struct {
	mu      sync.RWMutex
	current  FlashMessage
	now      func() time.Time
	onChange func()
}

// SetOnChange registers fn to run after every Set.
func (f *Flash) SetOnChange(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = fn
}

func (f *Flash) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}

// Info shows msg for five seconds.
func (f *Flash) Info(msg string) { f.Set(msg, FlashInfo, 5*time.Second) }

// Warn shows msg for eight seconds.
func (f *Flash) Warn(msg string) { f.Set(msg, FlashWarn, 8*time.Second) }

// Err shows err for ten seconds.
func (f *Flash) Err(err error) { f.Set(err.Error(), FlashErr, 10*time.Second) }

// Set replaces the current message.
func (f *Flash) Set(msg string, level FlashLevel, d time.Duration) {
	f.mu.Lock()
	f.current = FlashMessage{Text: msg, Level: level, Expires: f.clock().Add(d)}
	fn := f.onChange
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Current returns the message, or nil once it has expired.
func (f *Flash) Current() *FlashMessage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current.Text == "" || f.clock().After(f.current.Expires) {
		return nil
	}
	m := f.current
	return &m
}
