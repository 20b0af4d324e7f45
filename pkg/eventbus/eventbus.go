// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022-2023 Intel Corporation, or its subsidiaries.
// Copyright (C) 2023 Nordix Foundation.

// Package eventbus delivers events to named subscribers in priority order
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// EventBus keeps the subscribers of every event type
type EventBus struct {
	subscribers   map[string][]*Subscriber
	eventHandlers map[string]EventHandler
	subscriberL   sync.RWMutex
}

// Subscriber receives the events of one type on Ch. Quit is closed once the
// subscriber is unsubscribed.
type Subscriber struct {
	Name     string
	Ch       chan *Event
	Quit     chan bool
	Priority int

	quitOnce sync.Once
}

// EventHandler processes the events a subscriber receives
type EventHandler interface {
	HandleEvent(eventType string, event *Event) error
}

// Event is one notification. Payload is owned by the publisher and must not
// be modified by handlers.
type Event struct {
	Name           string
	NotificationID string
	Payload        interface{}

	status chan error
}

var errNoHandler = errors.New("no event handler found")

// NewEvent creates an event with a fresh notification id
func NewEvent(name string, payload interface{}) *Event {
	return &Event{
		Name:           name,
		NotificationID: uuid.NewString(),
		Payload:        payload,
	}
}

// NewEventBus creates a bus without subscribers
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers:   make(map[string][]*Subscriber),
		eventHandlers: make(map[string]EventHandler),
	}
}

// StartSubscriber registers moduleName for eventType and starts delivering
// events to eventHandler until the subscriber is unsubscribed
func (e *EventBus) StartSubscriber(moduleName, eventType string, priority int, eventHandler EventHandler) *Subscriber {
	subscriber := e.Subscribe(moduleName, eventType, priority, eventHandler)

	go func() {
		for {
			select {
			case event := <-subscriber.Ch:
				log.Debugf("Subscriber %s for %s received %s", moduleName, eventType, event.NotificationID)
				err := errNoHandler
				if handler, ok := e.handler(moduleName + "." + eventType); ok {
					err = handler.HandleEvent(eventType, event)
				}
				if err != nil {
					log.Warnf("Subscriber %s failed to handle %s: %v", moduleName, event.NotificationID, err)
				}
				if event.status != nil {
					event.status <- err
				}
			case <-subscriber.Quit:
				return
			}
		}
	}()
	return subscriber
}

// Subscribe registers a subscriber to the given eventType
func (e *EventBus) Subscribe(moduleName, eventType string, priority int, eventHandler EventHandler) *Subscriber {
	e.subscriberL.Lock()
	defer e.subscriberL.Unlock()

	subscriber := &Subscriber{
		Name:     moduleName,
		Ch:       make(chan *Event, 1),
		Quit:     make(chan bool),
		Priority: priority,
	}

	e.subscribers[eventType] = append(e.subscribers[eventType], subscriber)
	e.eventHandlers[moduleName+"."+eventType] = eventHandler

	sort.SliceStable(e.subscribers[eventType], func(i, j int) bool {
		return e.subscribers[eventType][i].Priority < e.subscribers[eventType][j].Priority
	})

	log.Infof("Subscriber %s registered for event %s with priority %d", moduleName, eventType, priority)
	return subscriber
}

// GetSubscribers lists the subscribers of eventType, highest priority
// (lowest number) first
func (e *EventBus) GetSubscribers(eventType string) []*Subscriber {
	e.subscriberL.RLock()
	defer e.subscriberL.RUnlock()

	return append([]*Subscriber(nil), e.subscribers[eventType]...)
}

// Notify delivers a new event to every subscriber of eventType in priority
// order, waiting for each handler before moving to the next one. Handler
// errors are collected and returned together. A subscriber unsubscribed
// while the event is in flight is skipped.
func (e *EventBus) Notify(ctx context.Context, eventType string, payload interface{}) error {
	var errs []error
	for _, sub := range e.GetSubscribers(eventType) {
		event := NewEvent(eventType, payload)
		event.status = make(chan error, 1)
		select {
		case sub.Ch <- event:
		case <-sub.Quit:
			log.Debugf("Subscriber %s left before %s was delivered", sub.Name, event.NotificationID)
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case err := <-event.status:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", sub.Name, err))
			}
		case <-sub.Quit:
			log.Debugf("Subscriber %s left before handling %s", sub.Name, event.NotificationID)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

func (e *EventBus) handler(key string) (EventHandler, bool) {
	e.subscriberL.RLock()
	defer e.subscriberL.RUnlock()
	h, ok := e.eventHandlers[key]
	return h, ok
}

// Unsubscribe removes the subscriber from every event type and stops it
func (e *EventBus) Unsubscribe(subscriber *Subscriber) {
	e.subscriberL.Lock()
	defer e.subscriberL.Unlock()
	for eventType, subscribers := range e.subscribers {
		for i, sub := range subscribers {
			if sub == subscriber {
				e.subscribers[eventType] = append(subscribers[:i:i], subscribers[i+1:]...)
				delete(e.eventHandlers, subscriber.Name+"."+eventType)
				break
			}
		}
		if len(e.subscribers[eventType]) == 0 {
			delete(e.subscribers, eventType)
		}
	}
	subscriber.quitOnce.Do(func() { close(subscriber.Quit) })
	log.Infof("Subscriber %s is unsubscribed for all events", subscriber.Name)
}
